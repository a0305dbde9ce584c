package predict

import "errors"

// Sentinel errors for prediction.
var (
	// ErrNilImage indicates a nil or empty input image.
	ErrNilImage = errors.New("nil or empty image")

	// ErrInvalidConfig indicates out-of-range predictor settings.
	ErrInvalidConfig = errors.New("invalid predictor config")

	// ErrInference indicates the model failed while running an image.
	ErrInference = errors.New("inference failed")
)
