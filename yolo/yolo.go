// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package yolo provides YOLOv8 object detection on the Born tensor engine.
//
// # Overview
//
// A model is described by an ultralytics-style YAML architecture file. The
// standard YOLOv8 layout with its n/s/m/l/x scales is built in:
//
//	backend := cpu.New()
//	cfg := yolo.DefaultConfig().WithScale("s").WithClasses(3)
//	model, err := yolo.New(cfg, backend)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(model.Summary())
//
// Forward takes an NCHW float32 batch whose sides are multiples of the
// largest stride and returns the raw per-level maps plus decoded predictions
// [B, 4+nc, A] with xywh boxes in input pixels.
//
// # Inference
//
// A Predictor letterboxes images, runs them through the model concurrently
// and returns detections in source image coordinates:
//
//	p, err := yolo.NewPredictor(model, yolo.DefaultPredictConfig())
//	results, err := p.Predict(ctx, images)
//	for _, d := range results[0].Detections {
//	    fmt.Println(d.Name, d.Confidence, d.Box)
//	}
//
// Overlapping detections are not suppressed.
package yolo

import (
	"image"

	"github.com/born-ml/born/tensor"
	"github.com/born-ml/yolo/internal/head"
	"github.com/born-ml/yolo/internal/model"
	"github.com/born-ml/yolo/internal/predict"
	"go.uber.org/zap"
)

// Model types

// Model is a YOLOv8 detection network.
type Model[B tensor.Backend] = model.Model[B]

// Config is a model architecture in the ultralytics YAML layout.
type Config = model.Config

// LayerSpec is one [from, repeats, module, args] row of a Config.
type LayerSpec = model.LayerSpec

// LayerInfo describes a built layer, as reported by Model.Layers.
type LayerInfo = model.LayerInfo

// Output is the result of a forward pass.
type Output[B tensor.Backend] = head.Output[B]

// Detect is the anchor-free detection head.
type Detect[B tensor.Backend] = head.Detect[B]

// ModelOption configures a Model.
type ModelOption = model.Option

// DefaultScale is the scale used when a config selects none.
const DefaultScale = model.DefaultScale

// Model errors.
var (
	ErrInvalidConfig = model.ErrInvalidConfig
	ErrUnknownModule = model.ErrUnknownModule
	ErrUnknownScale  = model.ErrUnknownScale
)

// DefaultConfig returns the built-in YOLOv8 architecture (80 classes, scale n).
func DefaultConfig() *Config {
	return model.DefaultConfig()
}

// LoadConfig reads an architecture YAML file.
func LoadConfig(path string) (*Config, error) {
	return model.LoadConfig(path)
}

// ParseConfig decodes an architecture from YAML.
func ParseConfig(data []byte) (*Config, error) {
	return model.ParseConfig(data)
}

// New builds a model from cfg with freshly initialized weights.
//
// Example:
//
//	model, err := yolo.New(yolo.DefaultConfig(), cpu.New())
func New[B tensor.Backend](cfg *Config, backend B, opts ...ModelOption) (*Model[B], error) {
	return model.New(cfg, backend, opts...)
}

// WithLogger sets the logger a Model reports build and fuse events to.
func WithLogger(logger *zap.Logger) ModelOption {
	return model.WithLogger(logger)
}

// Prediction types

// Predictor runs a model over images.
type Predictor[B tensor.Backend] = predict.Predictor[B]

// PredictConfig holds predictor settings.
type PredictConfig = predict.Config

// PredictOption configures a Predictor.
type PredictOption = predict.Option

// Result holds the detections for one image.
type Result = predict.Result

// Detection is one detected object in source image coordinates.
type Detection = predict.Detection

// Candidate is an anchor whose best class score passed the threshold.
type Candidate = predict.Candidate

// Letterboxed is an image resized and padded for the network.
type Letterboxed = predict.Letterboxed

// PadValue is the gray level of letterbox borders.
const PadValue = predict.PadValue

// Prediction errors.
var (
	ErrNilImage             = predict.ErrNilImage
	ErrInvalidPredictConfig = predict.ErrInvalidConfig
	ErrInference            = predict.ErrInference
)

// DefaultPredictConfig returns 640px input, 0.25 confidence and 300
// detections per image.
func DefaultPredictConfig() PredictConfig {
	return predict.DefaultConfig()
}

// NewPredictor creates a predictor for m.
func NewPredictor[B tensor.Backend](m *Model[B], cfg PredictConfig, opts ...PredictOption) (*Predictor[B], error) {
	return predict.NewPredictor(m, cfg, opts...)
}

// WithPredictLogger sets the logger a Predictor reports per-image events to.
func WithPredictLogger(logger *zap.Logger) PredictOption {
	return predict.WithLogger(logger)
}

// Candidates extracts per-image candidates from decoded predictions
// [B, 4+nc, A], keeping scores above conf, at most maxDet per image.
func Candidates[B tensor.Backend](pred *tensor.Tensor[float32, B], conf float32, maxDet int) [][]Candidate {
	return predict.Candidates(pred, conf, maxDet)
}

// Letterbox resizes img into a size×size canvas keeping its aspect ratio and
// pads the borders with PadValue. With auto the padding only reaches the
// next multiple of stride.
func Letterbox(img image.Image, size, stride int, auto bool) (*Letterboxed, error) {
	return predict.Letterbox(img, size, stride, auto)
}
