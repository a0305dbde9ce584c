package layers

import (
	"fmt"

	"github.com/born-ml/born/tensor"
)

// Pad2D pads the spatial dimensions of an NCHW tensor by p on every side,
// filling the border with value.
//
// Max pooling pads with -Inf so that the border never wins a window.
func Pad2D[B tensor.Backend](x *tensor.Tensor[float32, B], p int, value float32) *tensor.Tensor[float32, B] {
	if p < 0 {
		panic(fmt.Sprintf("pad2d: invalid padding %d", p))
	}
	if p == 0 {
		return x
	}
	shape := x.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("pad2d: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	backend := x.Backend()

	// Rows first: [N, C, p, W] above and below.
	rows := tensor.Full[float32](tensor.Shape{n, c, p, w}, value, backend)
	x = tensor.Cat([]*tensor.Tensor[float32, B]{rows, x, rows}, 2)

	// Then columns over the padded height.
	cols := tensor.Full[float32](tensor.Shape{n, c, h + 2*p, p}, value, backend)
	return tensor.Cat([]*tensor.Tensor[float32, B]{cols, x, cols}, 3)
}
