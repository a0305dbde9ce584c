package layers

import (
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// Autopad returns the padding that keeps the output size at input/stride
// for an odd kernel.
func Autopad(k int) int {
	return k / 2
}

// Conv is the standard YOLO convolution block: Conv2d (no bias) -> BatchNorm2d -> SiLU.
//
// Input shape:  [batch, c1, height, width]
// Output shape: [batch, c2, out_h, out_w]
//
// Where out_h = (height + 2*padding - k) / stride + 1 and padding = k/2.
//
// After Fuse the batch norm is folded into the convolution, which then
// carries a bias. Fused and unfused blocks produce the same output.
//
// Example:
//
//	conv := layers.NewConv(3, 16, 3, 2, backend)            // P1/2 stem
//	y := conv.Forward(tensor.Zeros[float32](tensor.Shape{1, 3, 64, 64}, backend))
//	// y: [1, 16, 32, 32]
type Conv[B tensor.Backend] struct {
	c1, c2  int
	k, s, p int
	act     bool

	conv *nn.Conv2D[B]
	bn   *BatchNorm2D[B] // nil once fused

	backend B
}

// NewConv creates a Conv block with SiLU activation.
func NewConv[B tensor.Backend](c1, c2, k, s int, backend B) *Conv[B] {
	return newConv(c1, c2, k, s, true, backend)
}

// NewConvNoAct creates a Conv block without activation.
func NewConvNoAct[B tensor.Backend](c1, c2, k, s int, backend B) *Conv[B] {
	return newConv(c1, c2, k, s, false, backend)
}

func newConv[B tensor.Backend](c1, c2, k, s int, act bool, backend B) *Conv[B] {
	if c1 <= 0 || c2 <= 0 {
		panic(fmt.Sprintf("conv: invalid channels c1=%d, c2=%d", c1, c2))
	}
	if k <= 0 || s <= 0 {
		panic(fmt.Sprintf("conv: invalid kernel %d or stride %d", k, s))
	}
	p := Autopad(k)
	return &Conv[B]{
		c1:      c1,
		c2:      c2,
		k:       k,
		s:       s,
		p:       p,
		act:     act,
		conv:    nn.NewConv2D(c1, c2, k, k, s, p, false, backend),
		bn:      NewBatchNorm2D(c2, DefaultBatchNormEps, backend),
		backend: backend,
	}
}

// Forward applies convolution, batch norm and activation.
func (c *Conv[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	x := c.conv.Forward(input)
	if c.bn != nil {
		x = c.bn.Forward(x)
	}
	if c.act {
		x = SiLUFunc(x)
	}
	return x
}

// Fuse folds the batch norm into the convolution weights and bias.
//
// W' = W * γ/√(var+eps) per output channel, b' = β − mean·γ/√(var+eps).
// Calling Fuse twice is a no-op.
func (c *Conv[B]) Fuse() {
	if c.bn == nil {
		return
	}
	scale, shift := c.bn.affine()

	fused := nn.NewConv2D(c.c1, c.c2, c.k, c.k, c.s, c.p, true, c.backend)
	params := fused.Parameters()
	src := c.conv.Parameters()[0].Tensor().Data()
	dst := params[0].Tensor().Data()
	perOut := c.c1 * c.k * c.k
	for o := 0; o < c.c2; o++ {
		for i := 0; i < perOut; i++ {
			dst[o*perOut+i] = src[o*perOut+i] * scale[o]
		}
	}
	copy(params[1].Tensor().Data(), shift)

	c.conv = fused
	c.bn = nil
}

// Fused reports whether the batch norm has been folded into the convolution.
func (c *Conv[B]) Fused() bool {
	return c.bn == nil
}

// Parameters returns the convolution weight and the batch norm parameters,
// or the fused weight and bias.
func (c *Conv[B]) Parameters() []*nn.Parameter[B] {
	params := append([]*nn.Parameter[B]{}, c.conv.Parameters()...)
	if c.bn != nil {
		params = append(params, c.bn.Parameters()...)
	}
	return params
}

// StateDict returns conv.* and bn.* entries.
func (c *Conv[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	params := c.conv.Parameters()
	sd["conv.weight"] = params[0].Tensor().Raw()
	if len(params) > 1 {
		sd["conv.bias"] = params[1].Tensor().Raw()
	}
	if c.bn != nil {
		MergeState(sd, "bn.", c.bn.StateDict())
	}
	return sd
}

// LoadStateDict loads conv.* and bn.* entries.
func (c *Conv[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	params := c.conv.Parameters()
	if err := loadTensor(params[0].Tensor(), stateDict, "conv.weight"); err != nil {
		return err
	}
	if len(params) > 1 {
		if err := loadTensor(params[1].Tensor(), stateDict, "conv.bias"); err != nil {
			return err
		}
	}
	if c.bn != nil {
		if err := c.bn.LoadStateDict(SubState(stateDict, "bn.")); err != nil {
			return fmt.Errorf("bn: %w", err)
		}
	}
	return nil
}

// BatchNorm returns the batch norm layer, or nil after Fuse.
func (c *Conv[B]) BatchNorm() *BatchNorm2D[B] {
	return c.bn
}

// Weight returns the convolution weight [c2, c1, k, k].
func (c *Conv[B]) Weight() *tensor.Tensor[float32, B] {
	return c.conv.Parameters()[0].Tensor()
}

// InChannels returns c1.
func (c *Conv[B]) InChannels() int {
	return c.c1
}

// OutChannels returns c2.
func (c *Conv[B]) OutChannels() int {
	return c.c2
}

// String returns a string representation of the block.
func (c *Conv[B]) String() string {
	return fmt.Sprintf("Conv(%d, %d, k=%d, s=%d, p=%d, act=%v, fused=%v)", c.c1, c.c2, c.k, c.s, c.p, c.act, c.bn == nil)
}

// Conv2D is a plain biased convolution, used as the last layer of the
// detection head branches.
type Conv2D[B tensor.Backend] struct {
	c1, c2 int
	k      int
	conv   *nn.Conv2D[B]
}

// NewConv2D creates a k×k, stride 1, biased convolution with padding k/2.
func NewConv2D[B tensor.Backend](c1, c2, k int, backend B) *Conv2D[B] {
	return &Conv2D[B]{
		c1:   c1,
		c2:   c2,
		k:    k,
		conv: nn.NewConv2D(c1, c2, k, k, 1, Autopad(k), true, backend),
	}
}

// Forward applies the convolution.
func (c *Conv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return c.conv.Forward(input)
}

// Parameters returns weight and bias.
func (c *Conv2D[B]) Parameters() []*nn.Parameter[B] {
	return c.conv.Parameters()
}

// Bias returns the bias tensor [c2].
func (c *Conv2D[B]) Bias() *tensor.Tensor[float32, B] {
	return c.conv.Parameters()[1].Tensor()
}

// StateDict returns weight and bias.
func (c *Conv2D[B]) StateDict() map[string]*tensor.RawTensor {
	params := c.conv.Parameters()
	return map[string]*tensor.RawTensor{
		"weight": params[0].Tensor().Raw(),
		"bias":   params[1].Tensor().Raw(),
	}
}

// LoadStateDict loads weight and bias.
func (c *Conv2D[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	params := c.conv.Parameters()
	if err := loadTensor(params[0].Tensor(), stateDict, "weight"); err != nil {
		return err
	}
	return loadTensor(params[1].Tensor(), stateDict, "bias")
}

// String returns a string representation of the layer.
func (c *Conv2D[B]) String() string {
	return c.conv.String()
}
