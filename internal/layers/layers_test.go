package layers

import (
	"math"
	"testing"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Backend = *cpu.Backend

func sigmoid(x float32) float32 {
	return 1.0 / (1.0 + float32(math.Exp(float64(-x))))
}

func fromSlice(t *testing.T, data []float32, shape tensor.Shape, backend Backend) *tensor.Tensor[float32, Backend] {
	t.Helper()
	x, err := tensor.FromSlice(data, shape, backend)
	require.NoError(t, err)
	return x
}

func TestSiLUFunc(t *testing.T) {
	backend := cpu.New()
	data := []float32{-2, -1, 0, 1, 2, -100}
	x := fromSlice(t, data, tensor.Shape{len(data)}, backend)

	out := SiLUFunc(x).Data()
	for i, v := range data {
		assert.InDelta(t, v*sigmoid(v), out[i], 1e-5, "SiLU mismatch at index %d", i)
	}
}

func TestSigmoidFunc_Saturates(t *testing.T) {
	backend := cpu.New()
	x := fromSlice(t, []float32{-100, 0, 100}, tensor.Shape{3}, backend)

	out := SigmoidFunc(x).Data()
	assert.InDelta(t, 0.0, out[0], 1e-6)
	assert.InDelta(t, 0.5, out[1], 1e-6)
	assert.InDelta(t, 1.0, out[2], 1e-6)
	for _, v := range out {
		assert.False(t, math.IsNaN(float64(v)))
	}
}

func TestBatchNorm2D_Forward(t *testing.T) {
	backend := cpu.New()
	bn := NewBatchNorm2D(2, 1e-3, backend)

	copy(bn.RunningMean().Data(), []float32{1, -1})
	copy(bn.RunningVar().Data(), []float32{4, 0.25})
	params := bn.Parameters()
	copy(params[0].Tensor().Data(), []float32{2, 1})
	copy(params[1].Tensor().Data(), []float32{0.5, -0.5})

	// [1, 2, 1, 2]
	x := fromSlice(t, []float32{3, 5, 0, 1}, tensor.Shape{1, 2, 1, 2}, backend)
	out := bn.Forward(x).Data()

	s0 := 2 / float32(math.Sqrt(4+1e-3))
	s1 := 1 / float32(math.Sqrt(0.25+1e-3))
	expected := []float32{
		(3-1)*s0 + 0.5, (5-1)*s0 + 0.5,
		(0+1)*s1 - 0.5, (1+1)*s1 - 0.5,
	}
	for i, e := range expected {
		assert.InDelta(t, e, out[i], 1e-4, "index %d", i)
	}
}

func TestBatchNorm2D_PanicsOnWrongChannels(t *testing.T) {
	backend := cpu.New()
	bn := NewBatchNorm2D(4, DefaultBatchNormEps, backend)
	x := tensor.Zeros[float32](tensor.Shape{1, 3, 2, 2}, backend)
	assert.Panics(t, func() { bn.Forward(x) })
}

func TestConv_ForwardShape(t *testing.T) {
	backend := cpu.New()

	tests := []struct {
		name     string
		c1, c2   int
		k, s     int
		input    tensor.Shape
		expected tensor.Shape
	}{
		{"stem 3x3 s2", 3, 16, 3, 2, tensor.Shape{1, 3, 32, 32}, tensor.Shape{1, 16, 16, 16}},
		{"pointwise", 8, 4, 1, 1, tensor.Shape{2, 8, 5, 5}, tensor.Shape{2, 4, 5, 5}},
		{"3x3 s1 keeps size", 4, 4, 3, 1, tensor.Shape{1, 4, 7, 7}, tensor.Shape{1, 4, 7, 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := NewConv(tt.c1, tt.c2, tt.k, tt.s, backend)
			out := conv.Forward(tensor.Randn[float32](tt.input, backend))
			assert.True(t, out.Shape().Equal(tt.expected), "expected %v, got %v", tt.expected, out.Shape())
		})
	}
}

func TestConv_FuseMatchesUnfused(t *testing.T) {
	backend := cpu.New()
	conv := NewConv(3, 4, 3, 1, backend)

	bn := conv.BatchNorm()
	copy(bn.RunningMean().Data(), []float32{0.1, -0.2, 0.3, 0})
	copy(bn.RunningVar().Data(), []float32{0.5, 1.5, 2, 0.9})
	copy(bn.Parameters()[0].Tensor().Data(), []float32{1.2, 0.8, -0.5, 1})
	copy(bn.Parameters()[1].Tensor().Data(), []float32{0.1, 0, -0.3, 0.2})

	x := tensor.Randn[float32](tensor.Shape{1, 3, 6, 6}, backend)
	before := conv.Forward(x).Data()
	expected := append([]float32(nil), before...)

	conv.Fuse()
	require.True(t, conv.Fused())
	after := conv.Forward(x).Data()

	require.Len(t, after, len(expected))
	for i := range expected {
		assert.InDelta(t, expected[i], after[i], 1e-4, "index %d", i)
	}

	// Second call is a no-op.
	conv.Fuse()
	assert.Len(t, conv.Parameters(), 2)
}

func TestConv_StateDictKeys(t *testing.T) {
	backend := cpu.New()
	conv := NewConv(3, 8, 3, 2, backend)

	assert.Equal(t, []string{
		"bn.bias", "bn.running_mean", "bn.running_var", "bn.weight", "conv.weight",
	}, StateKeys(conv))

	conv.Fuse()
	assert.Equal(t, []string{"conv.bias", "conv.weight"}, StateKeys(conv))
}

func TestConv_LoadStateDict(t *testing.T) {
	backend := cpu.New()
	src := NewConv(2, 4, 3, 1, backend)
	dst := NewConv(2, 4, 3, 1, backend)
	copy(src.BatchNorm().RunningMean().Data(), []float32{1, 2, 3, 4})

	require.NoError(t, dst.LoadStateDict(src.StateDict()))

	x := tensor.Randn[float32](tensor.Shape{1, 2, 4, 4}, backend)
	assert.Equal(t, src.Forward(x).Data(), dst.Forward(x).Data())

	t.Run("missing key", func(t *testing.T) {
		sd := src.StateDict()
		delete(sd, "bn.running_var")
		err := dst.LoadStateDict(sd)
		require.ErrorIs(t, err, ErrMissingKey)
	})

	t.Run("shape mismatch", func(t *testing.T) {
		other := NewConv(2, 8, 3, 1, backend)
		err := dst.LoadStateDict(other.StateDict())
		require.ErrorIs(t, err, ErrShapeMismatch)
	})
}

func TestPad2D(t *testing.T) {
	backend := cpu.New()
	x := fromSlice(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2}, backend)

	out := Pad2D(x, 1, -1)
	require.True(t, out.Shape().Equal(tensor.Shape{1, 1, 4, 4}))
	assert.Equal(t, []float32{
		-1, -1, -1, -1,
		-1, 1, 2, -1,
		-1, 3, 4, -1,
		-1, -1, -1, -1,
	}, out.Data())

	assert.Same(t, x, Pad2D(x, 0, 0))
}

func TestUpsample_Nearest(t *testing.T) {
	backend := cpu.New()
	up, err := NewUpsample[Backend](2, "nearest")
	require.NoError(t, err)

	x := fromSlice(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2}, backend)
	out := up.Forward(x)

	require.True(t, out.Shape().Equal(tensor.Shape{1, 1, 4, 4}))
	assert.Equal(t, []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}, out.Data())
}

func TestUpsample_UnsupportedMode(t *testing.T) {
	_, err := NewUpsample[Backend](2, "bilinear")
	require.ErrorIs(t, err, ErrUnsupportedMode)
}

func TestSPPF_PreservesShape(t *testing.T) {
	backend := cpu.New()
	sppf := NewSPPF(8, 16, 5, backend)

	out := sppf.Forward(tensor.Randn[float32](tensor.Shape{1, 8, 6, 6}, backend))
	assert.True(t, out.Shape().Equal(tensor.Shape{1, 16, 6, 6}), "got %v", out.Shape())
}

func TestSPPF_MaxPoolIgnoresPadding(t *testing.T) {
	backend := cpu.New()
	sppf := NewSPPF(2, 2, 3, backend)

	x := fromSlice(t, []float32{
		-1, -2, -3,
		-4, -5, -6,
		-7, -8, -9,
	}, tensor.Shape{1, 1, 3, 3}, backend)

	// With -Inf padding the corners keep their own neighbourhood maximum.
	out := sppf.maxPool(x)
	require.True(t, out.Shape().Equal(tensor.Shape{1, 1, 3, 3}))
	assert.Equal(t, []float32{
		-1, -1, -2,
		-1, -1, -2,
		-4, -4, -5,
	}, out.Data())
}

func TestBottleneck_Residual(t *testing.T) {
	backend := cpu.New()

	assert.True(t, NewBottleneck(8, 8, true, [2]int{3, 3}, 0.5, backend).Residual())
	assert.False(t, NewBottleneck(8, 8, false, [2]int{3, 3}, 0.5, backend).Residual())
	assert.False(t, NewBottleneck(8, 16, true, [2]int{3, 3}, 0.5, backend).Residual())

	b := NewBottleneck(4, 4, true, [2]int{3, 3}, 1.0, backend)
	out := b.Forward(tensor.Randn[float32](tensor.Shape{1, 4, 5, 5}, backend))
	assert.True(t, out.Shape().Equal(tensor.Shape{1, 4, 5, 5}))
}

func TestC2f(t *testing.T) {
	backend := cpu.New()
	m := NewC2f(8, 16, 2, true, 0.5, backend)

	out := m.Forward(tensor.Randn[float32](tensor.Shape{1, 8, 4, 4}, backend))
	assert.True(t, out.Shape().Equal(tensor.Shape{1, 16, 4, 4}), "got %v", out.Shape())
	assert.Equal(t, 2, m.NumBottlenecks())

	// cv1: 8*16 + 2*16, cv2: 32*16 + 2*16, bottlenecks: 2 * 2 * (8*8*9 + 2*8).
	assert.Equal(t, 3072, CountParameters[Backend](m))

	keys := StateKeys(m)
	assert.Contains(t, keys, "cv1.conv.weight")
	assert.Contains(t, keys, "m.1.cv2.bn.running_var")
	assert.NotContains(t, keys, "m.2.cv1.conv.weight")
}

func TestDFL_Uniform(t *testing.T) {
	backend := cpu.New()
	dfl := NewDFL(DefaultRegMax, backend)

	x := tensor.Zeros[float32](tensor.Shape{2, 4 * DefaultRegMax, 3}, backend)
	out := dfl.Forward(x)

	require.True(t, out.Shape().Equal(tensor.Shape{2, 4, 3}))
	for i, v := range out.Data() {
		assert.InDelta(t, 7.5, v, 1e-4, "index %d", i)
	}
	assert.Nil(t, dfl.Parameters())
}

func TestDFL_OneHot(t *testing.T) {
	backend := cpu.New()
	const anchors = 2
	dfl := NewDFL(DefaultRegMax, backend)

	data := make([]float32, 4*DefaultRegMax*anchors)
	for side := 0; side < 4; side++ {
		bin := side + 3
		for a := 0; a < anchors; a++ {
			data[(side*DefaultRegMax+bin)*anchors+a] = 50
		}
	}
	x := fromSlice(t, data, tensor.Shape{1, 4 * DefaultRegMax, anchors}, backend)

	out := dfl.Forward(x)
	for side := 0; side < 4; side++ {
		for a := 0; a < anchors; a++ {
			assert.InDelta(t, float64(side+3), out.At(0, side, a), 1e-3)
		}
	}
}

func TestSequential(t *testing.T) {
	backend := cpu.New()
	seq := NewSequential[Backend](
		NewConv(3, 4, 3, 1, backend),
		NewConv(4, 4, 3, 1, backend),
		NewConv2D(4, 2, 1, backend),
	)

	out := seq.Forward(tensor.Randn[float32](tensor.Shape{1, 3, 4, 4}, backend))
	assert.True(t, out.Shape().Equal(tensor.Shape{1, 2, 4, 4}))

	keys := StateKeys(seq)
	assert.Contains(t, keys, "0.conv.weight")
	assert.Contains(t, keys, "1.bn.running_mean")
	assert.Contains(t, keys, "2.bias")

	seq.Fuse()
	assert.True(t, seq.Module(0).(*Conv[Backend]).Fused())
	assert.True(t, seq.Module(1).(*Conv[Backend]).Fused())
}
