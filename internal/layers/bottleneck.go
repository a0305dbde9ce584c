package layers

import (
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// Bottleneck is two Conv blocks with an optional residual connection.
//
//	out = x + cv2(cv1(x))   if shortcut && c1 == c2
//	out = cv2(cv1(x))       otherwise
//
// The hidden width is int(c2 * e).
type Bottleneck[B tensor.Backend] struct {
	c1, c2 int
	add    bool

	cv1 *Conv[B]
	cv2 *Conv[B]
}

// NewBottleneck creates a bottleneck with kernel sizes k and expansion e.
func NewBottleneck[B tensor.Backend](c1, c2 int, shortcut bool, k [2]int, e float64, backend B) *Bottleneck[B] {
	hidden := int(float64(c2) * e)
	return &Bottleneck[B]{
		c1:  c1,
		c2:  c2,
		add: shortcut && c1 == c2,
		cv1: NewConv(c1, hidden, k[0], 1, backend),
		cv2: NewConv(hidden, c2, k[1], 1, backend),
	}
}

// Forward applies the bottleneck.
func (m *Bottleneck[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	y := m.cv2.Forward(m.cv1.Forward(input))
	if m.add {
		// y is freshly allocated; adding into it leaves input intact for C2f's concat.
		return y.Add(input)
	}
	return y
}

// Residual reports whether the block adds its input to the output.
func (m *Bottleneck[B]) Residual() bool {
	return m.add
}

// Parameters returns the parameters of both convolutions.
func (m *Bottleneck[B]) Parameters() []*nn.Parameter[B] {
	return append(m.cv1.Parameters(), m.cv2.Parameters()...)
}

// StateDict returns cv1.* and cv2.* entries.
func (m *Bottleneck[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	MergeState(sd, "cv1.", m.cv1.StateDict())
	MergeState(sd, "cv2.", m.cv2.StateDict())
	return sd
}

// LoadStateDict loads cv1.* and cv2.* entries.
func (m *Bottleneck[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := m.cv1.LoadStateDict(SubState(stateDict, "cv1.")); err != nil {
		return fmt.Errorf("cv1: %w", err)
	}
	if err := m.cv2.LoadStateDict(SubState(stateDict, "cv2.")); err != nil {
		return fmt.Errorf("cv2: %w", err)
	}
	return nil
}

// Fuse folds batch norm in both convolutions.
func (m *Bottleneck[B]) Fuse() {
	m.cv1.Fuse()
	m.cv2.Fuse()
}

// String returns a string representation of the block.
func (m *Bottleneck[B]) String() string {
	return fmt.Sprintf("Bottleneck(%d, %d, shortcut=%v)", m.c1, m.c2, m.add)
}

// C2f is the CSP bottleneck with two convolutions used throughout YOLOv8.
//
//	y0, y1 = chunk(cv1(x), 2)          // each [N, c, H, W], c = int(c2*e)
//	y_{i+2} = m_i(y_{i+1})             // n bottlenecks, each on the last output
//	out = cv2(cat(y0, ..., y_{n+1}))   // [N, c2, H, W]
type C2f[B tensor.Backend] struct {
	c1, c2, c int

	cv1 *Conv[B]
	cv2 *Conv[B]
	m   []*Bottleneck[B]
}

// NewC2f creates a C2f block with n bottlenecks and expansion e (0.5 in YOLOv8).
func NewC2f[B tensor.Backend](c1, c2, n int, shortcut bool, e float64, backend B) *C2f[B] {
	if n < 0 {
		panic(fmt.Sprintf("c2f: invalid repeat count %d", n))
	}
	c := int(float64(c2) * e)
	blocks := make([]*Bottleneck[B], n)
	for i := range blocks {
		blocks[i] = NewBottleneck(c, c, shortcut, [2]int{3, 3}, 1.0, backend)
	}
	return &C2f[B]{
		c1:  c1,
		c2:  c2,
		c:   c,
		cv1: NewConv(c1, 2*c, 1, 1, backend),
		cv2: NewConv((2+n)*c, c2, 1, 1, backend),
		m:   blocks,
	}
}

// Forward applies the split, the bottleneck chain and the fusing convolution.
func (m *C2f[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	y := m.cv1.Forward(input).Chunk(2, 1)
	for _, b := range m.m {
		y = append(y, b.Forward(y[len(y)-1]))
	}
	return m.cv2.Forward(tensor.Cat(y, 1))
}

// NumBottlenecks returns n.
func (m *C2f[B]) NumBottlenecks() int {
	return len(m.m)
}

// Parameters returns cv1, cv2 and all bottleneck parameters.
func (m *C2f[B]) Parameters() []*nn.Parameter[B] {
	params := append(m.cv1.Parameters(), m.cv2.Parameters()...)
	for _, b := range m.m {
		params = append(params, b.Parameters()...)
	}
	return params
}

// StateDict returns cv1.*, cv2.* and m.<i>.* entries.
func (m *C2f[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	MergeState(sd, "cv1.", m.cv1.StateDict())
	MergeState(sd, "cv2.", m.cv2.StateDict())
	for i, b := range m.m {
		MergeState(sd, fmt.Sprintf("m.%d.", i), b.StateDict())
	}
	return sd
}

// LoadStateDict loads cv1.*, cv2.* and m.<i>.* entries.
func (m *C2f[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := m.cv1.LoadStateDict(SubState(stateDict, "cv1.")); err != nil {
		return fmt.Errorf("cv1: %w", err)
	}
	if err := m.cv2.LoadStateDict(SubState(stateDict, "cv2.")); err != nil {
		return fmt.Errorf("cv2: %w", err)
	}
	for i, b := range m.m {
		if err := b.LoadStateDict(SubState(stateDict, fmt.Sprintf("m.%d.", i))); err != nil {
			return fmt.Errorf("m.%d: %w", i, err)
		}
	}
	return nil
}

// Fuse folds batch norm in every convolution of the block.
func (m *C2f[B]) Fuse() {
	m.cv1.Fuse()
	m.cv2.Fuse()
	for _, b := range m.m {
		b.Fuse()
	}
}

// String returns a string representation of the block.
func (m *C2f[B]) String() string {
	return fmt.Sprintf("C2f(%d, %d, n=%d)", m.c1, m.c2, len(m.m))
}
