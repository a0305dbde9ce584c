package box

import (
	"fmt"
	"math"
)

// Variant selects the overlap metric computed by BBoxIoU.
type Variant int

// IoU variants.
const (
	PlainIoU Variant = iota // intersection over union
	GIoU                    // generalized IoU
	DIoU                    // distance IoU
	CIoU                    // complete IoU
)

// String returns the variant name.
func (v Variant) String() string {
	switch v {
	case PlainIoU:
		return "IoU"
	case GIoU:
		return "GIoU"
	case DIoU:
		return "DIoU"
	case CIoU:
		return "CIoU"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// IoU returns intersection over union of a and b.
func IoU(a, b Box) float32 {
	inter := Intersection(a, b)
	return inter / (a.Area() + b.Area() - inter + Eps)
}

// PairwiseIoU returns the N×M matrix of IoU between every box in a and every
// box in b.
func PairwiseIoU(a, b []Box) [][]float32 {
	out := make([][]float32, len(a))
	for i, ba := range a {
		row := make([]float32, len(b))
		for j, bb := range b {
			row[j] = IoU(ba, bb)
		}
		out[i] = row
	}
	return out
}

// BBoxIoU computes the IoU of a and b, or one of its penalized forms.
//
//	GIoU = IoU - (C - U) / C            C: enclosing box area, U: union
//	DIoU = IoU - ρ² / c²                ρ: center distance, c: enclosing diagonal
//	CIoU = DIoU - α·v                   v: aspect ratio consistency
func BBoxIoU(a, b Box, variant Variant) float32 {
	w1, h1 := float64(a.Width()), float64(a.Height())+Eps
	w2, h2 := float64(b.Width()), float64(b.Height())+Eps

	inter := float64(Intersection(a, b))
	union := w1*h1 + w2*h2 - inter + Eps
	iou := inter / union

	cw := float64(max(a.X2, b.X2) - min(a.X1, b.X1))
	ch := float64(max(a.Y2, b.Y2) - min(a.Y1, b.Y1))
	c2 := cw*cw + ch*ch + Eps
	dx := float64(b.X1 + b.X2 - a.X1 - a.X2)
	dy := float64(b.Y1 + b.Y2 - a.Y1 - a.Y2)
	rho2 := (dx*dx + dy*dy) / 4

	switch variant {
	case PlainIoU:
		return float32(iou)
	case GIoU:
		cArea := cw*ch + Eps
		return float32(iou - (cArea-union)/cArea)
	case DIoU:
		return float32(iou - rho2/c2)
	case CIoU:
		d := math.Atan(w2/h2) - math.Atan(w1/h1)
		v := 4 / (math.Pi * math.Pi) * d * d
		alpha := v / (v - iou + (1 + Eps))
		return float32(iou - (rho2/c2 + v*alpha))
	default:
		panic(fmt.Sprintf("box: unknown variant %v", variant))
	}
}
