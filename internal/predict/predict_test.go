package predict

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"testing"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/tensor"
	"github.com/born-ml/yolo/internal/box"
	"github.com/born-ml/yolo/internal/model"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type Backend = *cpu.Backend

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestLetterbox_Wide(t *testing.T) {
	img := solid(200, 100, color.RGBA{R: 255, A: 255})

	lb, err := Letterbox(img, 64, 32, false)
	require.NoError(t, err)

	assert.Equal(t, box.Size{W: 64, H: 64}, lb.Size)
	assert.Equal(t, box.Size{W: 200, H: 100}, lb.Original)
	assert.InDelta(t, 0.32, lb.Pad.Gain, 1e-6)
	assert.Equal(t, float32(0), lb.Pad.PadX)
	assert.Equal(t, float32(16), lb.Pad.PadY)
	require.Len(t, lb.Data, 3*64*64)

	plane := 64 * 64
	// Top-left corner is padding.
	assert.InDelta(t, 114.0/255, lb.Data[0], 1e-6)
	assert.InDelta(t, 114.0/255, lb.Data[plane], 1e-6)
	// Center is the red image.
	center := 32*64 + 32
	assert.InDelta(t, 1.0, lb.Data[center], 0.01)
	assert.InDelta(t, 0.0, lb.Data[plane+center], 0.01)
	assert.InDelta(t, 0.0, lb.Data[2*plane+center], 0.01)
}

func TestLetterbox_Auto(t *testing.T) {
	img := solid(200, 100, color.RGBA{G: 255, A: 255})

	lb, err := Letterbox(img, 64, 32, true)
	require.NoError(t, err)
	assert.Equal(t, box.Size{W: 64, H: 32}, lb.Size)
	assert.Equal(t, float32(0), lb.Pad.PadY)
}

func TestLetterbox_NoResize(t *testing.T) {
	img := solid(64, 32, color.RGBA{B: 255, A: 255})

	lb, err := Letterbox(img, 64, 32, false)
	require.NoError(t, err)
	assert.Equal(t, float32(1), lb.Pad.Gain)
	assert.Equal(t, float32(16), lb.Pad.PadY)
	assert.InDelta(t, 1.0, lb.Data[2*64*64+20*64+10], 1e-6)
}

func TestLetterbox_DropsAlpha(t *testing.T) {
	fill := func(w, h int, c color.NRGBA) *image.NRGBA {
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetNRGBA(x, y, c)
			}
		}
		return img
	}
	plane := 64 * 64

	tests := []struct {
		name  string
		img   *image.NRGBA
		pixel int
	}{
		{"transparent, no resize", fill(64, 64, color.NRGBA{R: 200, G: 100, B: 50, A: 0}), 0},
		{"translucent, resized", fill(128, 64, color.NRGBA{R: 200, G: 100, B: 50, A: 128}), 32*64 + 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb, err := Letterbox(tt.img, 64, 32, false)
			require.NoError(t, err)
			assert.InDelta(t, 200.0/255, lb.Data[tt.pixel], 0.01)
			assert.InDelta(t, 100.0/255, lb.Data[plane+tt.pixel], 0.01)
			assert.InDelta(t, 50.0/255, lb.Data[2*plane+tt.pixel], 0.01)
		})
	}

	// The source image is left untouched.
	src := fill(4, 4, color.NRGBA{R: 10, A: 7})
	_, err := Letterbox(src, 32, 32, false)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), src.NRGBAAt(0, 0).A)
}

func TestLetterbox_Errors(t *testing.T) {
	_, err := Letterbox(nil, 64, 32, false)
	require.ErrorIs(t, err, ErrNilImage)

	_, err = Letterbox(image.NewRGBA(image.Rect(0, 0, 0, 0)), 64, 32, false)
	require.ErrorIs(t, err, ErrNilImage)

	_, err = Letterbox(solid(4, 4, color.RGBA{}), 0, 32, false)
	require.Error(t, err)
}

func TestCandidates(t *testing.T) {
	backend := cpu.New()
	// [1, 4+2, 3]: rows are cx, cy, w, h, score0, score1.
	pred, err := tensor.FromSlice([]float32{
		10, 20, 30,
		10, 20, 30,
		4, 4, 2,
		4, 4, 2,
		0.9, 0.2, 0.4,
		0.1, 0.3, 0.7,
	}, tensor.Shape{1, 6, 3}, backend)
	require.NoError(t, err)

	got := Candidates(pred, 0.5, 0)
	require.Len(t, got, 1)
	want := []Candidate{
		{Box: box.Box{X1: 8, Y1: 8, X2: 12, Y2: 12}, Confidence: 0.9, Class: 0, Anchor: 0},
		{Box: box.Box{X1: 29, Y1: 29, X2: 31, Y2: 31}, Confidence: 0.7, Class: 1, Anchor: 2},
	}
	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Errorf("Candidates mismatch (-want +got):\n%s", diff)
	}

	limited := Candidates(pred, 0.5, 1)
	require.Len(t, limited[0], 1)
	assert.Equal(t, 0, limited[0][0].Anchor)

	none := Candidates(pred, 0.95, 0)
	assert.Empty(t, none[0])
}

func TestCandidates_Batch(t *testing.T) {
	backend := cpu.New()
	pred := tensor.Zeros[float32](tensor.Shape{2, 5, 4}, backend)
	data := pred.Data()
	data[5*4+4*4+3] = 0.8 // image 1, anchor 3

	got := Candidates(pred, 0.25, 300)
	require.Len(t, got, 2)
	assert.Empty(t, got[0])
	require.Len(t, got[1], 1)
	assert.Equal(t, 3, got[1][0].Anchor)
}

func newPredictor(t *testing.T, cfg Config, opts ...Option) *Predictor[Backend] {
	t.Helper()
	m, err := model.New(model.DefaultConfig(), cpu.New())
	require.NoError(t, err)
	p, err := NewPredictor(m, cfg, opts...)
	require.NoError(t, err)
	return p
}

func TestNewPredictor_Config(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := newPredictor(t, Config{ImageSize: 70, Conf: 0.25, MaxDet: 10}, WithLogger(zap.New(core)))

	cfg := p.Config()
	assert.Equal(t, 96, cfg.ImageSize)
	assert.Positive(t, cfg.Workers)
	assert.Equal(t, 1, logs.Len())

	m, err := model.New(model.DefaultConfig(), cpu.New())
	require.NoError(t, err)

	bad := []Config{
		{ImageSize: 0, Conf: 0.25},
		{ImageSize: 64, Conf: 1.5},
		{ImageSize: 64, Conf: 0.25, MaxDet: -1},
	}
	for _, c := range bad {
		_, err := NewPredictor(m, c)
		require.ErrorIs(t, err, ErrInvalidConfig, "config %+v", c)
	}

	_, err = NewPredictor[Backend](nil, DefaultConfig())
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPredictor_Predict(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	p := newPredictor(t, Config{ImageSize: 64, Conf: 0, MaxDet: 10, Workers: 2}, WithLogger(zap.New(core)))

	images := []image.Image{
		solid(128, 64, color.RGBA{R: 200, A: 255}),
		solid(50, 90, color.RGBA{G: 200, A: 255}),
		solid(64, 64, color.RGBA{B: 200, A: 255}),
	}

	results, err := p.Predict(context.Background(), images)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, box.Size{W: 64, H: 64}, r.InputShape)
		bounds := images[i].Bounds()
		assert.Equal(t, box.Size{W: bounds.Dx(), H: bounds.Dy()}, r.Shape)

		// Every anchor passes a zero threshold, so MaxDet applies.
		require.Len(t, r.Detections, 10)
		for j, d := range r.Detections {
			assert.GreaterOrEqual(t, d.Box.X1, float32(0))
			assert.GreaterOrEqual(t, d.Box.Y1, float32(0))
			assert.LessOrEqual(t, d.Box.X2, float32(bounds.Dx()))
			assert.LessOrEqual(t, d.Box.Y2, float32(bounds.Dy()))
			assert.Equal(t, "class", d.Name[:5])
			if j > 0 {
				assert.GreaterOrEqual(t, r.Detections[j-1].Confidence, d.Confidence)
			}
		}
	}
	assert.Equal(t, 3, logs.FilterMessage("Predicted image").Len())

	data, err := json.Marshal(results[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"detections":[{"box":{"x1":`)
}

func TestPredictor_PredictOne(t *testing.T) {
	p := newPredictor(t, Config{ImageSize: 64, Conf: 0.25, MaxDet: 300, Workers: 1})

	r, err := p.PredictOne(context.Background(), solid(32, 32, color.RGBA{A: 255}))
	require.NoError(t, err)
	assert.Equal(t, box.Size{W: 32, H: 32}, r.Shape)
	assert.LessOrEqual(t, len(r.Detections), 300)
}

func TestPredictor_Errors(t *testing.T) {
	p := newPredictor(t, Config{ImageSize: 64, Conf: 0.25, MaxDet: 10, Workers: 2})

	_, err := p.Predict(context.Background(), []image.Image{solid(8, 8, color.RGBA{}), nil})
	require.ErrorIs(t, err, ErrNilImage)
	assert.Contains(t, err.Error(), "image 1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Predict(ctx, []image.Image{solid(8, 8, color.RGBA{})})
	require.ErrorIs(t, err, context.Canceled)

	_, err = p.PredictOne(ctx, solid(8, 8, color.RGBA{}))
	require.ErrorIs(t, err, context.Canceled)

	results, err := p.Predict(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
