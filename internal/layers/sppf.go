package layers

import (
	"fmt"
	"math"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// SPPF is Spatial Pyramid Pooling - Fast.
//
// Equivalent to SPP with kernels (k, 2k-1, 3k-2) but computed as three
// chained k×k stride-1 max pools:
//
//	x  = cv1(input)              // [N, c1/2, H, W]
//	y1 = pool(x); y2 = pool(y1); y3 = pool(y2)
//	out = cv2(cat(x, y1, y2, y3)) // [N, c2, H, W]
//
// Spatial size is preserved.
type SPPF[B tensor.Backend] struct {
	c1, c2, k int

	cv1  *Conv[B]
	cv2  *Conv[B]
	pool *nn.MaxPool2D[B]
}

// NewSPPF creates an SPPF block. k is the pooling kernel (5 in YOLOv8).
func NewSPPF[B tensor.Backend](c1, c2, k int, backend B) *SPPF[B] {
	if k <= 0 || k%2 == 0 {
		panic(fmt.Sprintf("sppf: kernel size must be odd and positive, got %d", k))
	}
	hidden := c1 / 2
	return &SPPF[B]{
		c1:   c1,
		c2:   c2,
		k:    k,
		cv1:  NewConv(c1, hidden, 1, 1, backend),
		cv2:  NewConv(hidden*4, c2, 1, 1, backend),
		pool: nn.NewMaxPool2D(k, 1, backend),
	}
}

// Forward applies the pyramid pooling.
func (m *SPPF[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	x := m.cv1.Forward(input)
	y1 := m.maxPool(x)
	y2 := m.maxPool(y1)
	y3 := m.maxPool(y2)
	return m.cv2.Forward(tensor.Cat([]*tensor.Tensor[float32, B]{x, y1, y2, y3}, 1))
}

// maxPool is a same-size max pool: pad k/2 with -Inf, then pool with stride 1.
func (m *SPPF[B]) maxPool(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return m.pool.Forward(Pad2D(x, m.k/2, float32(math.Inf(-1))))
}

// Parameters returns the parameters of both convolutions.
func (m *SPPF[B]) Parameters() []*nn.Parameter[B] {
	return append(m.cv1.Parameters(), m.cv2.Parameters()...)
}

// StateDict returns cv1.* and cv2.* entries.
func (m *SPPF[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	MergeState(sd, "cv1.", m.cv1.StateDict())
	MergeState(sd, "cv2.", m.cv2.StateDict())
	return sd
}

// LoadStateDict loads cv1.* and cv2.* entries.
func (m *SPPF[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := m.cv1.LoadStateDict(SubState(stateDict, "cv1.")); err != nil {
		return fmt.Errorf("cv1: %w", err)
	}
	if err := m.cv2.LoadStateDict(SubState(stateDict, "cv2.")); err != nil {
		return fmt.Errorf("cv2: %w", err)
	}
	return nil
}

// Fuse folds batch norm in both convolutions.
func (m *SPPF[B]) Fuse() {
	m.cv1.Fuse()
	m.cv2.Fuse()
}

// String returns a string representation of the block.
func (m *SPPF[B]) String() string {
	return fmt.Sprintf("SPPF(%d, %d, k=%d)", m.c1, m.c2, m.k)
}
