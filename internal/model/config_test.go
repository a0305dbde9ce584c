package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tinyYAML = `
nc: 2
ch: 1
depth_multiple: 1.0
width_multiple: 1.0
backbone:
  - [-1, 1, Conv, [8, 3, 2]] # 0-P1/2
  - [-1, 2, Bottleneck, [8]] # 1
  - [-1, 1, Conv, [16, 3, 2]] # 2-P2/4
  - [-1, 1, SPPF, [16, 5]] # 3
head:
  - [-1, 1, Upsample, [None, 2, nearest]] # 4
  - [[-1, 1], 1, Concat, [1]] # 5
  - [-1, 1, C2f, [8]] # 6
  - [[6, 3], 1, Detect, [nc]] # 7
names:
  0: cat
  1: dog
`

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 80, cfg.NC)
	assert.Len(t, cfg.Backbone, 10)
	assert.Len(t, cfg.Head, 13)
	assert.Equal(t, []string{"l", "m", "n", "s", "x"}, cfg.ScaleNames())
	assert.Equal(t, "n", cfg.ScaleName())
	assert.Equal(t, 3, cfg.InputChannels())

	depth, width, maxCh, err := cfg.Multiples()
	require.NoError(t, err)
	assert.Equal(t, 0.33, depth)
	assert.Equal(t, 0.25, width)
	assert.Equal(t, 1024, maxCh)

	detect := cfg.Head[len(cfg.Head)-1]
	if diff := cmp.Diff(LayerSpec{From: []int{15, 18, 21}, Repeats: 1, Module: "Detect", Args: []any{"nc"}}, detect); diff != "" {
		t.Errorf("Detect row mismatch (-want +got):\n%s", diff)
	}
	up := cfg.Head[0]
	assert.Equal(t, "nn.Upsample", up.Module)
	assert.Equal(t, []any{"None", 2, "nearest"}, up.Args)
	assert.Equal(t, []any{128, true}, cfg.Backbone[2].Args)
}

func TestConfig_ScaleSelection(t *testing.T) {
	cfg := DefaultConfig().WithScale("m")

	depth, width, maxCh, err := cfg.Multiples()
	require.NoError(t, err)
	assert.Equal(t, 0.67, depth)
	assert.Equal(t, 0.75, width)
	assert.Equal(t, 768, maxCh)

	// The original is untouched.
	assert.Equal(t, "n", DefaultConfig().ScaleName())

	_, _, _, err = DefaultConfig().WithScale("q").Multiples()
	require.ErrorIs(t, err, ErrUnknownScale)
}

func TestConfig_WithClasses(t *testing.T) {
	cfg, err := ParseConfig([]byte(tinyYAML))
	require.NoError(t, err)

	same := cfg.WithClasses(2)
	assert.Equal(t, []string{"cat", "dog"}, same.ClassNames())

	more := cfg.WithClasses(3)
	assert.Equal(t, 3, more.NC)
	assert.Equal(t, []string{"class0", "class1", "class2"}, more.ClassNames())
	assert.Equal(t, 2, cfg.NC)
}

func TestParseConfig_Names(t *testing.T) {
	cfg, err := ParseConfig([]byte(tinyYAML))
	require.NoError(t, err)
	assert.Equal(t, Names{"cat", "dog"}, cfg.Names)
	assert.Equal(t, 1, cfg.InputChannels())
	assert.Equal(t, "", cfg.ScaleName())

	depth, width, maxCh, err := cfg.Multiples()
	require.NoError(t, err)
	assert.Equal(t, 1.0, depth)
	assert.Equal(t, 1.0, width)
	assert.Equal(t, 0, maxCh)

	list := `
nc: 3
backbone:
  - [-1, 1, Conv, [8, 3, 2]]
names: [a, b, c]
`
	cfg, err = ParseConfig([]byte(list))
	require.NoError(t, err)
	assert.Equal(t, Names{"a", "b", "c"}, cfg.Names)
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"short row", "nc: 1\nbackbone:\n  - [-1, 1, Conv]\n"},
		{"no classes", "nc: 0\nbackbone:\n  - [-1, 1, Conv, [8]]\n"},
		{"empty backbone", "nc: 1\nbackbone: []\n"},
		{"bad scale", "nc: 1\nscales:\n  n: [0.33, 0.25]\nbackbone:\n  - [-1, 1, Conv, [8]]\n"},
		{"names mismatch", "nc: 2\nbackbone:\n  - [-1, 1, Conv, [8]]\nnames: [a]\n"},
		{"names gap", "nc: 3\nbackbone:\n  - [-1, 1, Conv, [8]]\nnames:\n  0: a\n  2: c\n"},
		{"from not int", "nc: 1\nbackbone:\n  - [{a: 1}, 1, Conv, [8]]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tinyYAML), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.NC)
	assert.Len(t, cfg.Layers(), 8)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfig_MarshalRoundTrip(t *testing.T) {
	cfg := DefaultConfig()

	data, err := cfg.Marshal()
	require.NoError(t, err)

	back, err := ParseConfig(data)
	require.NoError(t, err)

	if diff := cmp.Diff(cfg.Layers(), back.Layers()); diff != "" {
		t.Errorf("layers mismatch after round trip (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(cfg.Scales, back.Scales); diff != "" {
		t.Errorf("scales mismatch after round trip (-want +got):\n%s", diff)
	}
}

func TestMakeDivisible(t *testing.T) {
	tests := []struct {
		x    float64
		want int
	}{
		{16, 16},
		{64 * 0.25, 16},
		{1024 * 0.25, 256},
		{768 * 0.75, 576},
		{20, 24},
		{1, 8},
	}
	for _, tt := range tests {
		if got := makeDivisible(tt.x, 8); got != tt.want {
			t.Errorf("makeDivisible(%v, 8) = %d, want %d", tt.x, got, tt.want)
		}
	}
}

func TestScaleDepth(t *testing.T) {
	tests := []struct {
		n     int
		depth float64
		want  int
	}{
		{1, 0.33, 1},
		{3, 0.33, 1},
		{6, 0.33, 2},
		{3, 0.67, 2},
		{6, 0.67, 4},
		{9, 1.0, 9},
		{2, 0.1, 1},
	}
	for _, tt := range tests {
		if got := scaleDepth(tt.n, tt.depth); got != tt.want {
			t.Errorf("scaleDepth(%d, %v) = %d, want %d", tt.n, tt.depth, got, tt.want)
		}
	}
}

func TestResolveArg(t *testing.T) {
	assert.Equal(t, 80, resolveArg("nc", 80))
	assert.Nil(t, resolveArg("None", 80))
	assert.Equal(t, "nearest", resolveArg("nearest", 80))
	assert.Equal(t, 3, resolveArg(3, 80))
}
