package layers

import "errors"

// Common errors.
var (
	ErrMissingKey      = errors.New("state dict key not found")
	ErrShapeMismatch   = errors.New("state dict tensor shape mismatch")
	ErrUnsupportedMode = errors.New("unsupported upsample mode")
)
