// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package box provides bounding box geometry for detection results.
//
// Boxes are axis-aligned rectangles in pixel coordinates, stored as corner
// pairs (x1, y1, x2, y2). The package covers conversion between corner and
// center formats, clipping, mapping letterboxed coordinates back to the
// source image and overlap metrics (IoU, GIoU, DIoU, CIoU).
//
// Example:
//
//	a := box.FromXYWH(50, 50, 20, 20)
//	b := box.Box{X1: 45, Y1: 45, X2: 65, Y2: 65}
//	iou := box.IoU(a, b)
//	ciou := box.BBoxIoU(a, b, box.CIoU)
package box

import (
	"github.com/born-ml/yolo/internal/box"
)

// Eps guards divisions in the overlap metrics.
const Eps = box.Eps

// Box is an axis-aligned box in xyxy pixel coordinates.
type Box = box.Box

// Size is an image size in pixels.
type Size = box.Size

// RatioPad describes a letterbox transform: resize gain and left/top padding.
type RatioPad = box.RatioPad

// Variant selects the overlap metric computed by BBoxIoU.
type Variant = box.Variant

// Overlap metrics.
const (
	PlainIoU Variant = box.PlainIoU
	GIoU     Variant = box.GIoU
	DIoU     Variant = box.DIoU
	CIoU     Variant = box.CIoU
)

// FromXYWH builds a box from its center and size.
func FromXYWH(x, y, w, h float32) Box {
	return box.FromXYWH(x, y, w, h)
}

// XYWHToXYXY converts a flat [N*4] slice from center to corner format.
func XYWHToXYXY(in []float32) []float32 {
	return box.XYWHToXYXY(in)
}

// XYXYToXYWH converts a flat [N*4] slice from corner to center format.
func XYXYToXYWH(in []float32) []float32 {
	return box.XYXYToXYWH(in)
}

// Clip limits b to an image of size s.
func Clip(b Box, s Size) Box {
	return box.Clip(b, s)
}

// Scale maps boxes from a letterboxed image of size from back to the source
// image of size to. With a nil pad the gain and padding are recomputed.
//
// Example:
//
//	boxes = box.Scale(boxes, box.Size{W: 640, H: 640}, box.Size{W: 1280, H: 720}, nil)
func Scale(boxes []Box, from, to Size, pad *RatioPad) []Box {
	return box.Scale(boxes, from, to, pad)
}

// Intersection returns the overlapping area of a and b.
func Intersection(a, b Box) float32 {
	return box.Intersection(a, b)
}

// IoU returns intersection over union of a and b.
func IoU(a, b Box) float32 {
	return box.IoU(a, b)
}

// PairwiseIoU returns the IoU of every box in a against every box in b.
func PairwiseIoU(a, b []Box) [][]float32 {
	return box.PairwiseIoU(a, b)
}

// BBoxIoU returns the overlap metric selected by variant.
func BBoxIoU(a, b Box, variant Variant) float32 {
	return box.BBoxIoU(a, b, variant)
}
