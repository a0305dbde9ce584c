// Package predict runs a YOLOv8 model over images: letterbox preprocessing,
// concurrent batched inference and conversion of the raw prediction into
// per-image detections in source pixel coordinates.
package predict

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"time"

	"github.com/born-ml/born/tensor"
	"github.com/born-ml/yolo/internal/box"
	"github.com/born-ml/yolo/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config holds predictor settings.
type Config struct {
	// ImageSize is the letterbox canvas side. Rounded up to a multiple of
	// the model stride.
	ImageSize int

	// Conf is the minimum class score for a detection.
	Conf float32

	// MaxDet caps the detections per image.
	MaxDet int

	// Workers bounds the number of images processed at once.
	Workers int

	// Auto pads only up to the next stride multiple instead of the full canvas.
	Auto bool
}

// DefaultConfig returns the standard inference settings.
func DefaultConfig() Config {
	return Config{
		ImageSize: 640,
		Conf:      0.25,
		MaxDet:    300,
		Workers:   runtime.NumCPU(),
	}
}

// Detection is one detected object.
type Detection struct {
	Box        box.Box `json:"box"`
	Confidence float32 `json:"confidence"`
	Class      int     `json:"class"`
	Name       string  `json:"name"`
}

// Result holds the detections for one input image.
type Result struct {
	Index      int           `json:"index"`
	Shape      box.Size      `json:"shape"`
	InputShape box.Size      `json:"input_shape"`
	Detections []Detection   `json:"detections"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Predictor runs a model over images.
type Predictor[B tensor.Backend] struct {
	model  *model.Model[B]
	cfg    Config
	names  []string
	logger *zap.Logger
}

// Option configures a Predictor.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for per-image events.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewPredictor creates a predictor for m.
func NewPredictor[B tensor.Backend](m *model.Model[B], cfg Config, opts ...Option) (*Predictor[B], error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: nil model", ErrInvalidConfig)
	}
	if ch := m.Config().InputChannels(); ch != 3 {
		return nil, fmt.Errorf("%w: model expects %d input channels, images have 3", ErrInvalidConfig, ch)
	}
	if cfg.ImageSize <= 0 {
		return nil, fmt.Errorf("%w: image size must be positive, got %d", ErrInvalidConfig, cfg.ImageSize)
	}
	if cfg.Conf < 0 || cfg.Conf > 1 {
		return nil, fmt.Errorf("%w: confidence %v outside [0, 1]", ErrInvalidConfig, cfg.Conf)
	}
	if cfg.MaxDet < 0 {
		return nil, fmt.Errorf("%w: max detections must not be negative, got %d", ErrInvalidConfig, cfg.MaxDet)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	stride := m.MaxStride()
	if size := (cfg.ImageSize + stride - 1) / stride * stride; size != cfg.ImageSize {
		o.logger.Warn("Image size is not a multiple of the model stride, rounding up",
			zap.Int("requested", cfg.ImageSize),
			zap.Int("stride", stride),
			zap.Int("size", size))
		cfg.ImageSize = size
	}

	return &Predictor[B]{
		model:  m,
		cfg:    cfg,
		names:  m.Names(),
		logger: o.logger,
	}, nil
}

// Config returns the effective predictor settings.
func (p *Predictor[B]) Config() Config {
	return p.cfg
}

// Predict runs the model over images, at most Workers at a time, and returns
// one Result per image in input order.
//
// The first failure cancels the remaining images and is returned.
func (p *Predictor[B]) Predict(ctx context.Context, images []image.Image) ([]Result, error) {
	results := make([]Result, len(images))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.Workers)
	for i, img := range images {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			r, err := p.predict(i, img)
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// PredictOne runs the model over a single image.
func (p *Predictor[B]) PredictOne(ctx context.Context, img image.Image) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return p.predict(0, img)
}

func (p *Predictor[B]) predict(index int, img image.Image) (res Result, err error) {
	start := time.Now()

	lb, err := Letterbox(img, p.cfg.ImageSize, p.model.MaxStride(), p.cfg.Auto)
	if err != nil {
		return Result{}, err
	}

	x, err := tensor.FromSlice(lb.Data, tensor.Shape{1, 3, lb.Size.H, lb.Size.W}, p.model.Backend())
	if err != nil {
		return Result{}, fmt.Errorf("failed to create input tensor: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInference, r)
		}
	}()
	out := p.model.Forward(x)

	cands := Candidates(out.Pred, p.cfg.Conf, p.cfg.MaxDet)[0]
	boxes := make([]box.Box, len(cands))
	for i, c := range cands {
		boxes[i] = c.Box
	}
	boxes = box.Scale(boxes, lb.Size, lb.Original, &lb.Pad)

	dets := make([]Detection, len(cands))
	for i, c := range cands {
		dets[i] = Detection{
			Box:        boxes[i],
			Confidence: c.Confidence,
			Class:      c.Class,
			Name:       p.className(c.Class),
		}
	}

	res = Result{
		Index:      index,
		Shape:      lb.Original,
		InputShape: lb.Size,
		Detections: dets,
		Elapsed:    time.Since(start),
	}
	p.logger.Debug("Predicted image",
		zap.Int("index", index),
		zap.Stringer("shape", res.Shape),
		zap.Stringer("input", res.InputShape),
		zap.Int("detections", len(dets)),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (p *Predictor[B]) className(cls int) string {
	if cls >= 0 && cls < len(p.names) {
		return p.names[cls]
	}
	return fmt.Sprintf("class%d", cls)
}
