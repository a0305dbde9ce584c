//go:build !windows

package main

import (
	"fmt"
	"runtime"

	"github.com/born-ml/born/tensor"
)

func openGPU() (tensor.Backend, func(), error) {
	return nil, nil, fmt.Errorf("%w on %s", errGPUUnavailable, runtime.GOOS)
}
