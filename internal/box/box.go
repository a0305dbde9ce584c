// Package box implements host-side bounding box geometry for detection
// outputs: xyxy/xywh conversion, the IoU family, clipping and rescaling of
// letterboxed boxes back to the source image.
package box

import (
	"fmt"
	"math"
)

// Eps guards IoU denominators.
const Eps = 1e-7

// Box is an axis-aligned box in xyxy pixel coordinates.
type Box struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

// FromXYWH creates a box from center x, center y, width and height.
func FromXYWH(x, y, w, h float32) Box {
	return Box{X1: x - w/2, Y1: y - h/2, X2: x + w/2, Y2: y + h/2}
}

// XYWH returns the center, width and height of the box.
func (b Box) XYWH() (x, y, w, h float32) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2, b.X2 - b.X1, b.Y2 - b.Y1
}

// Width returns X2 - X1.
func (b Box) Width() float32 {
	return b.X2 - b.X1
}

// Height returns Y2 - Y1.
func (b Box) Height() float32 {
	return b.Y2 - b.Y1
}

// Area returns width*height, or 0 for a degenerate box.
func (b Box) Area() float32 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Intersection returns the area shared by a and b.
func Intersection(a, b Box) float32 {
	w := min(a.X2, b.X2) - max(a.X1, b.X1)
	h := min(a.Y2, b.Y2) - max(a.Y1, b.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// String returns the box as [x1 y1 x2 y2].
func (b Box) String() string {
	return fmt.Sprintf("[%.2f %.2f %.2f %.2f]", b.X1, b.Y1, b.X2, b.Y2)
}

// Size is an image size in pixels.
type Size struct {
	W int `json:"width"`
	H int `json:"height"`
}

// String returns WxH.
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.W, s.H)
}

// RatioPad records how a letterbox transformed an image: the uniform resize
// gain and the padding added on the left and top.
type RatioPad struct {
	Gain float32 `json:"gain"`
	PadX float32 `json:"pad_x"`
	PadY float32 `json:"pad_y"`
}

// XYWHToXYXY converts a flat [N*4] slice of (cx, cy, w, h) to (x1, y1, x2, y2).
//
// Panics if len(in) is not a multiple of 4.
func XYWHToXYXY(in []float32) []float32 {
	if len(in)%4 != 0 {
		panic(fmt.Sprintf("box: length %d is not a multiple of 4", len(in)))
	}
	out := make([]float32, len(in))
	for i := 0; i < len(in); i += 4 {
		b := FromXYWH(in[i], in[i+1], in[i+2], in[i+3])
		out[i], out[i+1], out[i+2], out[i+3] = b.X1, b.Y1, b.X2, b.Y2
	}
	return out
}

// XYXYToXYWH converts a flat [N*4] slice of (x1, y1, x2, y2) to (cx, cy, w, h).
//
// Panics if len(in) is not a multiple of 4.
func XYXYToXYWH(in []float32) []float32 {
	if len(in)%4 != 0 {
		panic(fmt.Sprintf("box: length %d is not a multiple of 4", len(in)))
	}
	out := make([]float32, len(in))
	for i := 0; i < len(in); i += 4 {
		b := Box{in[i], in[i+1], in[i+2], in[i+3]}
		out[i], out[i+1], out[i+2], out[i+3] = b.XYWH()
	}
	return out
}

// Clip clamps the box to [0, W] x [0, H].
func Clip(b Box, s Size) Box {
	w, h := float32(s.W), float32(s.H)
	return Box{
		X1: clamp(b.X1, 0, w),
		Y1: clamp(b.Y1, 0, h),
		X2: clamp(b.X2, 0, w),
		Y2: clamp(b.Y2, 0, h),
	}
}

// Scale maps boxes from an image of size from (the letterboxed network
// input) back to an image of size to (the original), then clips them.
//
// When pad is nil the gain and padding are recomputed the way a centered
// letterbox produces them.
func Scale(boxes []Box, from, to Size, pad *RatioPad) []Box {
	var gain, padX, padY float32
	if pad == nil {
		gain = min(float32(from.H)/float32(to.H), float32(from.W)/float32(to.W))
		padX = roundHalfEven((float32(from.W)-float32(to.W)*gain)/2 - 0.1)
		padY = roundHalfEven((float32(from.H)-float32(to.H)*gain)/2 - 0.1)
	} else {
		gain, padX, padY = pad.Gain, pad.PadX, pad.PadY
	}

	out := make([]Box, len(boxes))
	for i, b := range boxes {
		out[i] = Clip(Box{
			X1: (b.X1 - padX) / gain,
			Y1: (b.Y1 - padY) / gain,
			X2: (b.X2 - padX) / gain,
			Y2: (b.Y2 - padY) / gain,
		}, to)
	}
	return out
}

func clamp(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}

func roundHalfEven(v float32) float32 {
	return float32(math.RoundToEven(float64(v)))
}
