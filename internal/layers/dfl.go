package layers

import (
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// DefaultRegMax is the number of distribution bins per box side.
const DefaultRegMax = 16

// DFL is the integral module of Distribution Focal Loss.
//
// Each box side is predicted as a distribution over c1 bins; DFL turns it
// into the expected bin index with a fixed 1×1 convolution whose weights are
// 0, 1, ..., c1-1:
//
//	[B, 4*c1, A] -> [B, 4, c1, A] -> [B, c1, 4, A] -> softmax over c1
//	             -> conv(arange(c1)) -> [B, 4, A]
//
// Uniform logits decode to (c1-1)/2; a one-hot bin decodes to its index.
// The weights are frozen: Parameters returns nil, StateDict exports them.
type DFL[B tensor.Backend] struct {
	c1   int
	conv *nn.Conv2D[B]
}

// NewDFL creates a DFL module with c1 bins.
func NewDFL[B tensor.Backend](c1 int, backend B) *DFL[B] {
	if c1 <= 0 {
		panic(fmt.Sprintf("dfl: invalid bin count %d", c1))
	}
	conv := nn.NewConv2D(c1, 1, 1, 1, 1, 0, false, backend)
	w := conv.Parameters()[0].Tensor().Data()
	for i := range w {
		w[i] = float32(i)
	}
	return &DFL[B]{c1: c1, conv: conv}
}

// Forward decodes box distributions [B, 4*c1, A] into distances [B, 4, A].
func (d *DFL[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 3 {
		panic(fmt.Sprintf("dfl: expected 3D input [B,4*c1,A], got %dD", len(shape)))
	}
	if shape[1] != 4*d.c1 {
		panic(fmt.Sprintf("dfl: input channels %d != 4*%d", shape[1], d.c1))
	}
	b, a := shape[0], shape[2]

	x := input.Reshape(b, 4, d.c1, a).Transpose(0, 2, 1, 3).Softmax(1)
	return d.conv.Forward(x).Reshape(b, 4, a)
}

// Bins returns c1.
func (d *DFL[B]) Bins() int {
	return d.c1
}

// Parameters returns nil; the projection weights are fixed.
func (d *DFL[B]) Parameters() []*nn.Parameter[B] {
	return nil
}

// StateDict returns the fixed projection as conv.weight.
func (d *DFL[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{
		"conv.weight": d.conv.Parameters()[0].Tensor().Raw(),
	}
}

// LoadStateDict loads conv.weight.
func (d *DFL[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return loadTensor(d.conv.Parameters()[0].Tensor(), stateDict, "conv.weight")
}

// String returns a string representation of the module.
func (d *DFL[B]) String() string {
	return fmt.Sprintf("DFL(%d)", d.c1)
}
