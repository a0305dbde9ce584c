// Package model builds YOLOv8 detection models from ultralytics-style YAML
// configs and runs them on Born tensors.
package model

import (
	"fmt"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/born-ml/yolo/internal/head"
	"github.com/born-ml/yolo/internal/layers"
	"go.uber.org/zap"
)

// Model is a YOLOv8 detection network: backbone, neck and Detect head.
//
// Forward takes an NCHW image batch whose height and width are multiples of
// the largest stride (32 for P3-P5 heads) and returns the head output.
//
// A Model is safe for concurrent Forward calls. Fuse and LoadStateDict must
// not run concurrently with Forward.
type Model[B tensor.Backend] struct {
	cfg     *Config
	g       *graph[B]
	names   []string
	backend B
	logger  *zap.Logger
}

// Option configures a Model.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for build and fuse events.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New builds a model from cfg on backend.
func New[B tensor.Backend](cfg *Config, backend B, opts ...Option) (*Model[B], error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g, err := buildGraph(cfg, backend)
	if err != nil {
		return nil, err
	}

	m := &Model[B]{
		cfg:     cfg,
		g:       g,
		names:   cfg.ClassNames(),
		backend: backend,
		logger:  o.logger,
	}
	m.logger.Debug("Built model",
		zap.String("scale", cfg.ScaleName()),
		zap.Int("layers", len(g.nodes)),
		zap.Int("classes", m.NumClasses()),
		zap.Int("parameters", m.NumParameters()),
		zap.Float32s("strides", m.Strides()))
	return m, nil
}

// Forward runs the network on input [N, ch, H, W].
func (m *Model[B]) Forward(input *tensor.Tensor[float32, B]) head.Output[B] {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("model: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	if shape[1] != m.cfg.InputChannels() {
		panic(fmt.Sprintf("model: input channels %d != expected %d", shape[1], m.cfg.InputChannels()))
	}
	if s := m.MaxStride(); shape[2]%s != 0 || shape[3]%s != 0 {
		panic(fmt.Sprintf("model: input size %dx%d is not a multiple of stride %d", shape[3], shape[2], s))
	}

	saved := make(map[int]*tensor.Tensor[float32, B], len(m.g.save))
	x := input
	for _, n := range m.g.nodes {
		inputs := make([]*tensor.Tensor[float32, B], len(n.src))
		for i, s := range n.src {
			switch {
			case s == inputIndex:
				inputs[i] = input
			case s == n.index-1:
				inputs[i] = x
			default:
				inputs[i] = saved[s]
			}
		}

		switch {
		case n.detect != nil:
			return n.detect.Forward(inputs)
		case n.module == nil:
			x = tensor.Cat(inputs, n.dim)
		default:
			x = n.module.Forward(inputs[0])
		}
		if m.g.save[n.index] {
			saved[n.index] = x
		}
	}
	panic("model: graph has no Detect layer")
}

// Detect returns the detection head.
func (m *Model[B]) Detect() *head.Detect[B] {
	return m.g.detect
}

// Strides returns the stride of each detection level.
func (m *Model[B]) Strides() []float32 {
	return m.g.detect.Strides()
}

// MaxStride returns the largest detection stride.
func (m *Model[B]) MaxStride() int {
	s := 1
	for _, v := range m.Strides() {
		s = max(s, int(v))
	}
	return s
}

// NumClasses returns the number of classes predicted by the head.
func (m *Model[B]) NumClasses() int {
	return m.g.detect.NumClasses()
}

// Names returns the class names indexed by class id.
func (m *Model[B]) Names() []string {
	return append([]string(nil), m.names...)
}

// Config returns the config the model was built from.
func (m *Model[B]) Config() *Config {
	return m.cfg
}

// Backend returns the compute backend.
func (m *Model[B]) Backend() B {
	return m.backend
}

// Parameters returns all trainable parameters.
func (m *Model[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, n := range m.g.nodes {
		switch {
		case n.detect != nil:
			params = append(params, n.detect.Parameters()...)
		case n.module != nil:
			params = append(params, n.module.Parameters()...)
		}
	}
	return params
}

// NumParameters returns the number of parameter values, fixed DFL weights
// included and batch norm running statistics excluded.
func (m *Model[B]) NumParameters() int {
	return countState(m.StateDict())
}

// NumTrainable returns the number of trainable parameter values.
func (m *Model[B]) NumTrainable() int {
	total := 0
	for _, p := range m.Parameters() {
		total += p.Tensor().NumElements()
	}
	return total
}

// StateDict returns every parameter and buffer keyed as model.<layer>.<name>.
func (m *Model[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	for _, n := range m.g.nodes {
		if s := n.state(); s != nil {
			layers.MergeState(sd, fmt.Sprintf("model.%d.", n.index), s)
		}
	}
	return sd
}

// LoadStateDict copies values from stateDict into the model. Keys and shapes
// must match StateDict exactly for every stateful layer.
func (m *Model[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for _, n := range m.g.nodes {
		prefix := fmt.Sprintf("model.%d.", n.index)
		sub := layers.SubState(stateDict, prefix)
		var err error
		switch {
		case n.detect != nil:
			err = n.detect.LoadStateDict(sub)
		case n.module != nil:
			if len(n.module.StateDict()) == 0 {
				continue
			}
			err = n.module.LoadStateDict(sub)
		}
		if err != nil {
			return fmt.Errorf("model.%d (%s): %w", n.index, n.kind, err)
		}
	}
	return nil
}

// Fuse folds every batch norm into its convolution.
func (m *Model[B]) Fuse() {
	before := m.NumParameters()
	for _, n := range m.g.nodes {
		switch {
		case n.detect != nil:
			n.detect.Fuse()
		case n.module != nil:
			layers.FuseAll(n.module)
		}
	}
	m.logger.Debug("Fused model",
		zap.Int("parameters_before", before),
		zap.Int("parameters_after", m.NumParameters()))
}

// LayerInfo is one row of the model summary.
type LayerInfo struct {
	Index   int
	From    []int
	Repeats int
	Params  int
	Module  string
	Args    []any
}

// Layers returns a summary row per layer.
func (m *Model[B]) Layers() []LayerInfo {
	rows := make([]LayerInfo, len(m.g.nodes))
	for i, n := range m.g.nodes {
		rows[i] = LayerInfo{
			Index:   n.index,
			From:    append([]int(nil), n.from...),
			Repeats: n.repeats,
			Params:  countState(n.state()),
			Module:  n.kind,
			Args:    n.args,
		}
	}
	return rows
}

// Summary returns a one-line description of the model.
func (m *Model[B]) Summary() string {
	name := "YOLOv8"
	if s := m.cfg.ScaleName(); s != "" {
		name += s
	}
	return fmt.Sprintf("%s summary: %d layers, %d parameters, %d gradients",
		name, len(m.g.nodes), m.NumParameters(), m.NumTrainable())
}

func (n *node[B]) state() map[string]*tensor.RawTensor {
	switch {
	case n.detect != nil:
		return n.detect.StateDict()
	case n.module != nil:
		return n.module.StateDict()
	}
	return nil
}

// countState counts values in a state dict, skipping batch norm buffers.
func countState(sd map[string]*tensor.RawTensor) int {
	total := 0
	for k, v := range sd {
		if strings.HasSuffix(k, "running_mean") || strings.HasSuffix(k, "running_var") {
			continue
		}
		total += v.NumElements()
	}
	return total
}
