package model

import "errors"

// Sentinel errors for model configuration and construction.
var (
	// ErrInvalidConfig indicates a malformed model configuration.
	ErrInvalidConfig = errors.New("invalid model config")

	// ErrUnknownModule indicates a layer names a module the builder does not know.
	ErrUnknownModule = errors.New("unknown module")

	// ErrUnknownScale indicates the requested model scale is not in the config.
	ErrUnknownScale = errors.New("unknown model scale")
)
