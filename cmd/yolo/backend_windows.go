//go:build windows

package main

import (
	"fmt"

	"github.com/born-ml/born/backend/webgpu"
	"github.com/born-ml/born/tensor"
)

func openGPU() (tensor.Backend, func(), error) {
	if !webgpu.IsAvailable() {
		return nil, nil, errGPUUnavailable
	}
	b, err := webgpu.New()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errGPUUnavailable, err)
	}
	return b, b.Release, nil
}
