package predict

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/born-ml/yolo/internal/box"
	"golang.org/x/image/draw"
)

// PadValue is the gray level used to fill letterbox borders.
const PadValue = 114

// Letterboxed is an image resized and padded for the network.
type Letterboxed struct {
	// Data is the image in CHW order (RGB planes), scaled to [0, 1].
	Data []float32

	// Size is the network input size; Original is the source image size.
	Size     box.Size
	Original box.Size

	// Pad maps network coordinates back to the source image.
	Pad box.RatioPad
}

// Letterbox resizes img to fit a size×size canvas while keeping its aspect
// ratio, then pads the borders with PadValue, centering the image.
//
// With auto the padding is reduced to the smallest amount that keeps both
// sides multiples of stride, so the canvas may be smaller than size×size.
func Letterbox(img image.Image, size, stride int, auto bool) (*Letterboxed, error) {
	if img == nil {
		return nil, ErrNilImage
	}
	if size <= 0 || stride <= 0 {
		return nil, fmt.Errorf("letterbox: invalid size %d or stride %d", size, stride)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrNilImage)
	}

	r := math.Min(float64(size)/float64(h), float64(size)/float64(w))
	newW := int(math.RoundToEven(float64(w) * r))
	newH := int(math.RoundToEven(float64(h) * r))

	dw, dh := size-newW, size-newH
	if auto {
		dw, dh = dw%stride, dh%stride
	}
	halfW, halfH := float64(dw)/2, float64(dh)/2
	top := int(math.RoundToEven(halfH - 0.1))
	bottom := int(math.RoundToEven(halfH + 0.1))
	left := int(math.RoundToEven(halfW - 0.1))
	right := int(math.RoundToEven(halfW + 0.1))

	outW, outH := newW+left+right, newH+top+bottom
	canvas := image.NewRGBA(image.Rect(0, 0, outW, outH))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.RGBA{R: PadValue, G: PadValue, B: PadValue, A: 255}}, image.Point{}, draw.Src)

	img = opaque(img)
	dst := image.Rect(left, top, left+newW, top+newH)
	if newW == w && newH == h {
		draw.Draw(canvas, dst, img, b.Min, draw.Src)
	} else {
		draw.BiLinear.Scale(canvas, dst, img, b, draw.Src, nil)
	}

	return &Letterboxed{
		Data:     toCHW(canvas),
		Size:     box.Size{W: outW, H: outH},
		Original: box.Size{W: w, H: h},
		Pad:      box.RatioPad{Gain: float32(r), PadX: float32(left), PadY: float32(top)},
	}, nil
}

// opaque drops the alpha channel, keeping the unpremultiplied colour of
// every pixel. Drawing a translucent image would otherwise darken it.
func opaque(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = 255
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

// toCHW converts RGBA pixels to planar RGB float32 in [0, 1].
func toCHW(img *image.RGBA) []float32 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	plane := w * h
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4:]
			i := y*w + x
			out[i] = float32(p[0]) / 255
			out[plane+i] = float32(p[1]) / 255
			out[2*plane+i] = float32(p[2]) / 255
		}
	}
	return out
}
