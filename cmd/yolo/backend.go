package main

import (
	"errors"
	"fmt"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/tensor"
	"go.uber.org/zap"
)

var errGPUUnavailable = errors.New("webgpu backend is not available")

// openBackend returns the named backend and a function releasing it.
// auto prefers WebGPU and falls back to the CPU.
func openBackend(name string) (tensor.Backend, func(), error) {
	switch name {
	case "", "cpu":
		return cpu.New(), func() {}, nil
	case "webgpu":
		return openGPU()
	case "auto":
		b, release, err := openGPU()
		if err == nil {
			return b, release, nil
		}
		logger.Info("Falling back to CPU backend", zap.Error(err))
		return cpu.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q (want cpu, webgpu or auto)", name)
	}
}
