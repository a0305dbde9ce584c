package layers

import (
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// Upsample repeats every pixel scale×scale times (nearest neighbour).
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, height*scale, width*scale]
//
// The result is built as reshape -> expand -> reshape:
//
//	[N,C,H,W] -> [N,C,H,1,W,1] -> [N,C,H,s,W,s] -> [N,C,H*s,W*s]
type Upsample[B tensor.Backend] struct {
	scale int
}

// NewUpsample creates a nearest-neighbour upsampling layer.
//
// Only "nearest" mode is supported; any other mode returns ErrUnsupportedMode.
func NewUpsample[B tensor.Backend](scale int, mode string) (*Upsample[B], error) {
	if mode != "nearest" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
	if scale <= 0 {
		return nil, fmt.Errorf("upsample: invalid scale factor %d", scale)
	}
	return &Upsample[B]{scale: scale}, nil
}

// Forward upsamples input [N, C, H, W].
func (u *Upsample[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("upsample: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	if u.scale == 1 {
		return input
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	s := u.scale

	x := input.Reshape(n, c, h, 1, w, 1)
	x = x.Expand(tensor.Shape{n, c, h, s, w, s})
	return x.Reshape(n, c, h*s, w*s)
}

// Parameters returns nil (no trainable parameters).
func (u *Upsample[B]) Parameters() []*nn.Parameter[B] {
	return nil
}

// StateDict returns an empty map.
func (u *Upsample[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{}
}

// LoadStateDict is a no-op.
func (u *Upsample[B]) LoadStateDict(map[string]*tensor.RawTensor) error {
	return nil
}

// Scale returns the scale factor.
func (u *Upsample[B]) Scale() int {
	return u.scale
}

// String returns a string representation of the layer.
func (u *Upsample[B]) String() string {
	return fmt.Sprintf("Upsample(scale_factor=%d, mode=nearest)", u.scale)
}
