package model

import (
	"fmt"
	"slices"
	"strings"

	"github.com/born-ml/born/tensor"
	"github.com/born-ml/yolo/internal/head"
	"github.com/born-ml/yolo/internal/layers"
)

// inputIndex marks the model input in a layer's resolved sources.
const inputIndex = -1

// node is one layer of the model graph.
type node[B tensor.Backend] struct {
	index   int
	from    []int // as written in the config
	src     []int // absolute layer indices, inputIndex for the image
	repeats int
	kind    string
	args    []any // resolved constructor arguments

	module layers.Module[B] // nil for Concat and Detect
	detect *head.Detect[B]
	dim    int // Concat dimension

	channels int // output channels
	stride   int // output stride relative to the input
}

// graph is the result of parsing a config.
type graph[B tensor.Backend] struct {
	nodes  []*node[B]
	save   map[int]bool
	detect *head.Detect[B]
}

// buildGraph turns the config rows into modules, scaling depth and width.
func buildGraph[B tensor.Backend](cfg *Config, backend B) (*graph[B], error) {
	depth, width, maxChannels, err := cfg.Multiples()
	if err != nil {
		return nil, err
	}

	specs := cfg.Layers()
	g := &graph[B]{save: make(map[int]bool)}
	inCh := cfg.InputChannels()

	for i, spec := range specs {
		n, err := buildNode(g, i, spec, cfg.NC, inCh, depth, width, maxChannels, backend)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, spec.Module, err)
		}
		g.nodes = append(g.nodes, n)
		if n.detect != nil {
			if i != len(specs)-1 {
				return nil, fmt.Errorf("layer %d: %w: Detect must be the last layer", i, ErrInvalidConfig)
			}
			g.detect = n.detect
		}
	}
	if g.detect == nil {
		return nil, fmt.Errorf("%w: no Detect layer", ErrInvalidConfig)
	}
	return g, nil
}

func buildNode[B tensor.Backend](g *graph[B], i int, spec LayerSpec, nc, inCh int, depth, width float64, maxChannels int, backend B) (*node[B], error) {
	if len(spec.From) == 0 {
		return nil, fmt.Errorf("%w: empty from", ErrInvalidConfig)
	}
	if spec.Repeats < 1 {
		return nil, fmt.Errorf("%w: repeats must be positive, got %d", ErrInvalidConfig, spec.Repeats)
	}

	n := &node[B]{
		index:   i,
		from:    slices.Clone(spec.From),
		repeats: scaleDepth(spec.Repeats, depth),
		kind:    strings.TrimPrefix(spec.Module, "nn."),
	}

	// Resolve sources and collect their channels and strides.
	var inChannels, inStrides []int
	for _, f := range spec.From {
		s := f
		if f < 0 {
			s = i + f
		}
		switch {
		case s == -1 && f == -1 && i == 0:
			s = inputIndex
			inChannels = append(inChannels, inCh)
			inStrides = append(inStrides, 1)
		case s < 0 || s >= i:
			return nil, fmt.Errorf("%w: from %d out of range", ErrInvalidConfig, f)
		default:
			inChannels = append(inChannels, g.nodes[s].channels)
			inStrides = append(inStrides, g.nodes[s].stride)
			if f != -1 {
				g.save[s] = true
			}
		}
		n.src = append(n.src, s)
	}

	args := make([]any, len(spec.Args))
	for j, a := range spec.Args {
		args[j] = resolveArg(a, nc)
	}

	c1, stride := inChannels[0], inStrides[0]
	if n.kind != "Concat" && n.kind != "Detect" && len(n.src) != 1 {
		return nil, fmt.Errorf("%w: %s takes a single input", ErrInvalidConfig, n.kind)
	}

	outChannels := func() (int, error) {
		c2, err := argInt(args, 0, 0)
		if err != nil {
			return 0, err
		}
		if c2 <= 0 {
			return 0, fmt.Errorf("%w: output channels must be positive", ErrInvalidConfig)
		}
		if c2 != nc {
			if maxChannels > 0 {
				c2 = min(c2, maxChannels)
			}
			c2 = makeDivisible(float64(c2)*width, 8)
		}
		return c2, nil
	}

	switch n.kind {
	case "Conv":
		c2, err := outChannels()
		if err != nil {
			return nil, err
		}
		k, err := argInt(args, 1, 1)
		if err != nil {
			return nil, err
		}
		s, err := argInt(args, 2, 1)
		if err != nil {
			return nil, err
		}
		if k <= 0 || s <= 0 {
			return nil, fmt.Errorf("%w: invalid kernel %d or stride %d", ErrInvalidConfig, k, s)
		}
		n.module = repeat(n.repeats, func(first bool) layers.Module[B] {
			if first {
				return layers.NewConv(c1, c2, k, s, backend)
			}
			return layers.NewConv(c2, c2, k, s, backend)
		})
		n.args = []any{c1, c2, k, s}
		n.channels = c2
		for range n.repeats {
			stride *= s
		}

	case "C2f":
		c2, err := outChannels()
		if err != nil {
			return nil, err
		}
		shortcut, err := argBool(args, 1, false)
		if err != nil {
			return nil, err
		}
		e, err := argFloat(args, 3, 0.5)
		if err != nil {
			return nil, err
		}
		n.module = layers.NewC2f(c1, c2, n.repeats, shortcut, e, backend)
		n.args = []any{c1, c2, n.repeats, shortcut}
		n.channels = c2

	case "SPPF":
		c2, err := outChannels()
		if err != nil {
			return nil, err
		}
		k, err := argInt(args, 1, 5)
		if err != nil {
			return nil, err
		}
		if k <= 0 || k%2 == 0 {
			return nil, fmt.Errorf("%w: SPPF kernel must be odd, got %d", ErrInvalidConfig, k)
		}
		n.module = repeat(n.repeats, func(first bool) layers.Module[B] {
			if first {
				return layers.NewSPPF(c1, c2, k, backend)
			}
			return layers.NewSPPF(c2, c2, k, backend)
		})
		n.args = []any{c1, c2, k}
		n.channels = c2

	case "Bottleneck":
		c2, err := outChannels()
		if err != nil {
			return nil, err
		}
		shortcut, err := argBool(args, 1, true)
		if err != nil {
			return nil, err
		}
		k, err := argKernels(args, 3, [2]int{3, 3})
		if err != nil {
			return nil, err
		}
		e, err := argFloat(args, 4, 0.5)
		if err != nil {
			return nil, err
		}
		n.module = repeat(n.repeats, func(first bool) layers.Module[B] {
			if first {
				return layers.NewBottleneck(c1, c2, shortcut, k, e, backend)
			}
			return layers.NewBottleneck(c2, c2, shortcut, k, e, backend)
		})
		n.args = []any{c1, c2, shortcut}
		n.channels = c2

	case "Upsample":
		if len(args) > 0 && args[0] != nil {
			return nil, fmt.Errorf("%w: Upsample supports scale_factor only", ErrInvalidConfig)
		}
		scale, err := argInt(args, 1, 1)
		if err != nil {
			return nil, err
		}
		mode, err := argString(args, 2, "nearest")
		if err != nil {
			return nil, err
		}
		up, err := layers.NewUpsample[B](scale, mode)
		if err != nil {
			return nil, err
		}
		if stride%scale != 0 {
			return nil, fmt.Errorf("%w: upsampling by %d from stride %d", ErrInvalidConfig, scale, stride)
		}
		n.module = up
		n.args = []any{nil, scale, mode}
		n.channels = c1
		stride /= scale

	case "Concat":
		dim, err := argInt(args, 0, 1)
		if err != nil {
			return nil, err
		}
		if dim != 1 {
			return nil, fmt.Errorf("%w: Concat supports the channel dimension only, got %d", ErrInvalidConfig, dim)
		}
		for _, s := range inStrides {
			if s != stride {
				return nil, fmt.Errorf("%w: Concat inputs have strides %v", ErrInvalidConfig, inStrides)
			}
		}
		n.dim = dim
		n.args = []any{dim}
		n.channels = 0
		for _, c := range inChannels {
			n.channels += c
		}

	case "Detect":
		classes, err := argInt(args, 0, nc)
		if err != nil {
			return nil, err
		}
		d := head.NewDetect(classes, inChannels, backend)
		strides := make([]float32, len(inStrides))
		for j, s := range inStrides {
			strides[j] = float32(s)
		}
		d.SetStrides(strides)
		d.BiasInit()
		n.detect = d
		n.args = []any{classes, slices.Clone(inChannels)}
		n.channels = d.NumOutputs()

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, spec.Module)
	}

	if n.repeats != 1 && (n.kind == "Upsample" || n.kind == "Concat" || n.kind == "Detect") {
		return nil, fmt.Errorf("%w: %s cannot repeat", ErrInvalidConfig, n.kind)
	}
	n.stride = stride
	return n, nil
}

// repeat returns a single module, or a Sequential of n modules.
func repeat[B tensor.Backend](n int, newModule func(first bool) layers.Module[B]) layers.Module[B] {
	if n == 1 {
		return newModule(true)
	}
	mods := make([]layers.Module[B], n)
	for i := range mods {
		mods[i] = newModule(i == 0)
	}
	return layers.NewSequential(mods...)
}

// argKernels reads a (k1, k2) pair written as a list or a single integer.
func argKernels(args []any, i int, def [2]int) ([2]int, error) {
	if i >= len(args) || args[i] == nil {
		return def, nil
	}
	if list, ok := args[i].([]any); ok {
		if len(list) != 2 {
			return def, fmt.Errorf("argument %d: expected two kernel sizes, got %d", i, len(list))
		}
		k1, err := argInt(list, 0, 0)
		if err != nil {
			return def, err
		}
		k2, err := argInt(list, 1, 0)
		if err != nil {
			return def, err
		}
		return [2]int{k1, k2}, nil
	}
	k, err := argInt(args, i, 0)
	if err != nil {
		return def, err
	}
	return [2]int{k, k}, nil
}
