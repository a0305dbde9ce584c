package main

import (
	"fmt"

	"github.com/born-ml/born/tensor"
	"github.com/born-ml/yolo/yolo"
	"go.uber.org/zap"
)

// loadConfig resolves the --model, --scale and --nc flags.
func loadConfig() (*yolo.Config, error) {
	cfg := yolo.DefaultConfig()
	if modelPath != "" {
		var err error
		if cfg, err = yolo.LoadConfig(modelPath); err != nil {
			return nil, err
		}
	}
	if scale != "" {
		cfg = cfg.WithScale(scale)
	}
	if numClass > 0 {
		cfg = cfg.WithClasses(numClass)
	}
	return cfg, nil
}

// buildModel opens the selected backend and builds the configured model on
// it. The returned function releases the backend.
func buildModel() (*yolo.Model[tensor.Backend], func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	backend, release, err := openBackend(backendName)
	if err != nil {
		return nil, nil, err
	}
	m, err := yolo.New(cfg, backend, yolo.WithLogger(logger))
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to build model: %w", err)
	}
	logger.Debug("Using backend",
		zap.String("backend", backend.Name()),
		zap.String("scale", cfg.ScaleName()))
	return m, release, nil
}
