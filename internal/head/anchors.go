// Package head implements the YOLOv8 detection head and the anchor-free box
// arithmetic it relies on.
package head

import (
	"fmt"

	"github.com/born-ml/born/tensor"
	"github.com/born-ml/yolo/internal/box"
)

// DefaultOffset places anchor points at grid cell centers.
const DefaultOffset = 0.5

// Grid holds anchor points for a set of feature levels in host memory.
//
// X[i], Y[i] are in grid units of their level; Stride[i] is the level stride.
// Points are ordered level by level, row-major within a level (y outer, x inner).
type Grid struct {
	X, Y   []float32
	Stride []float32
}

// Len returns the number of anchor points.
func (g Grid) Len() int {
	return len(g.X)
}

// AnchorGrid computes anchor points for feature levels of the given sizes.
//
// Panics if len(levels) != len(strides).
func AnchorGrid(levels []box.Size, strides []float32, offset float32) Grid {
	if len(levels) != len(strides) {
		panic(fmt.Sprintf("anchors: %d levels but %d strides", len(levels), len(strides)))
	}
	total := 0
	for _, l := range levels {
		total += l.W * l.H
	}

	g := Grid{
		X:      make([]float32, 0, total),
		Y:      make([]float32, 0, total),
		Stride: make([]float32, 0, total),
	}
	for i, l := range levels {
		for y := 0; y < l.H; y++ {
			for x := 0; x < l.W; x++ {
				g.X = append(g.X, float32(x)+offset)
				g.Y = append(g.Y, float32(y)+offset)
				g.Stride = append(g.Stride, strides[i])
			}
		}
	}
	return g
}

// MakeAnchors returns anchor points [2, A] (x row, then y row) and strides
// [1, A] as tensors on backend.
func MakeAnchors[B tensor.Backend](levels []box.Size, strides []float32, offset float32, backend B) (points, strideTensor *tensor.Tensor[float32, B]) {
	g := AnchorGrid(levels, strides, offset)
	a := g.Len()

	xy := make([]float32, 0, 2*a)
	xy = append(xy, g.X...)
	xy = append(xy, g.Y...)

	points, err := tensor.FromSlice(xy, tensor.Shape{2, a}, backend)
	if err != nil {
		panic(fmt.Sprintf("anchors: %v", err))
	}
	strideTensor, err = tensor.FromSlice(g.Stride, tensor.Shape{1, a}, backend)
	if err != nil {
		panic(fmt.Sprintf("anchors: %v", err))
	}
	return points, strideTensor
}

// Dist2BBox converts (left, top, right, bottom) distances [B, 4, A] around
// anchor points [1, 2, A] into boxes [B, 4, A].
//
// With xywh the result is (cx, cy, w, h), otherwise (x1, y1, x2, y2).
func Dist2BBox[B tensor.Backend](dist, anchors *tensor.Tensor[float32, B], xywh bool) *tensor.Tensor[float32, B] {
	parts := dist.Chunk(2, 1)
	lt, rb := parts[0], parts[1]

	// Same-shape arithmetic writes into a uniquely owned left operand; the
	// anchors are cached by the head and the corners are read twice below.
	defer anchors.Raw().ForceNonUnique()()
	x1y1 := anchors.Sub(lt)
	x2y2 := anchors.Add(rb)
	if xywh {
		defer x1y1.Raw().ForceNonUnique()()
		defer x2y2.Raw().ForceNonUnique()()
		c := x1y1.Add(x2y2).DivScalar(2)
		wh := x2y2.Sub(x1y1)
		return tensor.Cat([]*tensor.Tensor[float32, B]{c, wh}, 1)
	}
	return tensor.Cat([]*tensor.Tensor[float32, B]{x1y1, x2y2}, 1)
}

// BBox2Dist is the inverse of Dist2BBox on the host: for each anchor point and
// its target box (xyxy, grid units) it returns (left, top, right, bottom)
// clamped to [0, maxDist-0.01].
//
// The head decodes distances in [0, regMax-1], so targets use maxDist = regMax-1.
func BBox2Dist(points [][2]float32, boxes []box.Box, maxDist float32) [][4]float32 {
	if len(points) != len(boxes) {
		panic(fmt.Sprintf("bbox2dist: %d points but %d boxes", len(points), len(boxes)))
	}
	hi := maxDist - 0.01
	out := make([][4]float32, len(points))
	for i, p := range points {
		b := boxes[i]
		out[i] = [4]float32{
			max(0, min(p[0]-b.X1, hi)),
			max(0, min(p[1]-b.Y1, hi)),
			max(0, min(b.X2-p[0], hi)),
			max(0, min(b.Y2-p[1], hi)),
		}
	}
	return out
}
