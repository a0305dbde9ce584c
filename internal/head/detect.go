package head

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/born-ml/yolo/internal/box"
	"github.com/born-ml/yolo/internal/layers"
)

// Output is the result of a Detect forward pass.
type Output[B tensor.Backend] struct {
	// Levels holds the raw per-level maps [B, 4*regMax+nc, H, W].
	Levels []*tensor.Tensor[float32, B]

	// Pred holds decoded predictions [B, 4+nc, A]: boxes (cx, cy, w, h) in
	// input pixels followed by class scores in [0, 1].
	Pred *tensor.Tensor[float32, B]
}

// Detect is the anchor-free YOLOv8 detection head.
//
// For each level i two branches run on the feature map:
//
//	cv2[i]: Conv(ch_i, c2, 3) -> Conv(c2, c2, 3) -> Conv2d(c2, 4*reg_max, 1)   box distributions
//	cv3[i]: Conv(ch_i, c3, 3) -> Conv(c3, c3, 3) -> Conv2d(c3, nc, 1)          class logits
//
// Box distributions are decoded by DFL into distances, turned into boxes
// around the anchor points and scaled by the level stride.
type Detect[B tensor.Backend] struct {
	nc     int
	nl     int
	regMax int
	no     int

	strides []float32

	cv2    []*layers.Sequential[B]
	cv3    []*layers.Sequential[B]
	boxOut []*layers.Conv2D[B]
	clsOut []*layers.Conv2D[B]
	dfl    *layers.DFL[B]

	backend B

	mu           sync.Mutex
	cachedLevels []box.Size
	anchors      *tensor.Tensor[float32, B] // [1, 2, A]
	anchorStride *tensor.Tensor[float32, B] // [1, 1, A]
}

// NewDetect creates a detection head for nc classes over feature levels
// with the given channel counts.
func NewDetect[B tensor.Backend](nc int, ch []int, backend B) *Detect[B] {
	if nc <= 0 {
		panic(fmt.Sprintf("detect: invalid class count %d", nc))
	}
	if len(ch) == 0 {
		panic("detect: no input levels")
	}

	regMax := layers.DefaultRegMax
	c2 := max(16, ch[0]/4, 4*regMax)
	c3 := max(ch[0], min(nc, 100))

	d := &Detect[B]{
		nc:      nc,
		nl:      len(ch),
		regMax:  regMax,
		no:      nc + 4*regMax,
		dfl:     layers.NewDFL(regMax, backend),
		backend: backend,
	}
	for _, c := range ch {
		bo := layers.NewConv2D(c2, 4*regMax, 1, backend)
		co := layers.NewConv2D(c3, nc, 1, backend)
		d.boxOut = append(d.boxOut, bo)
		d.clsOut = append(d.clsOut, co)
		d.cv2 = append(d.cv2, layers.NewSequential[B](
			layers.NewConv(c, c2, 3, 1, backend),
			layers.NewConv(c2, c2, 3, 1, backend),
			bo,
		))
		d.cv3 = append(d.cv3, layers.NewSequential[B](
			layers.NewConv(c, c3, 3, 1, backend),
			layers.NewConv(c3, c3, 3, 1, backend),
			co,
		))
	}
	return d
}

// SetStrides sets the downsampling factor of each input level.
func (d *Detect[B]) SetStrides(strides []float32) {
	if len(strides) != d.nl {
		panic(fmt.Sprintf("detect: %d strides for %d levels", len(strides), d.nl))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.strides = slices.Clone(strides)
	d.cachedLevels = nil
}

// Strides returns the level strides, or nil if they are not set.
func (d *Detect[B]) Strides() []float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.strides)
}

// BiasInit sets the prior biases of the output convolutions: 1.0 for box
// distributions and log(5/nc/(640/s)²) for class logits, i.e. about five
// objects per 640 image.
//
// Requires strides.
func (d *Detect[B]) BiasInit() {
	strides := d.Strides()
	if strides == nil {
		panic("detect: BiasInit requires strides")
	}
	for i, s := range strides {
		boxBias := d.boxOut[i].Bias().Data()
		for j := range boxBias {
			boxBias[j] = 1.0
		}

		cells := 640 / float64(s)
		prior := float32(math.Log(5 / float64(d.nc) / (cells * cells)))
		clsBias := d.clsOut[i].Bias().Data()
		for j := range clsBias {
			clsBias[j] = prior
		}
	}
}

// Forward runs the head over feature maps, one per level.
func (d *Detect[B]) Forward(feats []*tensor.Tensor[float32, B]) Output[B] {
	if len(feats) != d.nl {
		panic(fmt.Sprintf("detect: expected %d feature maps, got %d", d.nl, len(feats)))
	}

	levels := make([]*tensor.Tensor[float32, B], d.nl)
	sizes := make([]box.Size, d.nl)
	boxes := make([]*tensor.Tensor[float32, B], d.nl)
	scores := make([]*tensor.Tensor[float32, B], d.nl)
	batch := feats[0].Shape()[0]

	for i, x := range feats {
		shape := x.Shape()
		if len(shape) != 4 {
			panic(fmt.Sprintf("detect: expected 4D feature map, got %dD", len(shape)))
		}
		h, w := shape[2], shape[3]
		sizes[i] = box.Size{W: w, H: h}

		b := d.cv2[i].Forward(x)
		c := d.cv3[i].Forward(x)
		levels[i] = tensor.Cat([]*tensor.Tensor[float32, B]{b, c}, 1)
		boxes[i] = b.Reshape(batch, 4*d.regMax, h*w)
		scores[i] = c.Reshape(batch, d.nc, h*w)
	}

	anchors, strides := d.anchorsFor(sizes)

	dist := d.dfl.Forward(tensor.Cat(boxes, 2))
	dbox := Dist2BBox(dist, anchors, true).Mul(strides)
	cls := layers.SigmoidFunc(tensor.Cat(scores, 2))

	return Output[B]{
		Levels: levels,
		Pred:   tensor.Cat([]*tensor.Tensor[float32, B]{dbox, cls}, 1),
	}
}

// anchorsFor returns cached anchors for the given level sizes, rebuilding
// them when the input shape changes.
func (d *Detect[B]) anchorsFor(sizes []box.Size) (anchors, strides *tensor.Tensor[float32, B]) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.strides == nil {
		panic("detect: strides not set")
	}
	if d.anchors != nil && slices.Equal(d.cachedLevels, sizes) {
		return d.anchors, d.anchorStride
	}

	points, st := MakeAnchors(sizes, d.strides, DefaultOffset, d.backend)
	a := points.Shape()[1]
	d.anchors = points.Reshape(1, 2, a)
	d.anchorStride = st.Reshape(1, 1, a)
	d.cachedLevels = slices.Clone(sizes)
	return d.anchors, d.anchorStride
}

// Parameters returns the parameters of both branches. DFL weights are fixed.
func (d *Detect[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for i := range d.cv2 {
		params = append(params, d.cv2[i].Parameters()...)
	}
	for i := range d.cv3 {
		params = append(params, d.cv3[i].Parameters()...)
	}
	return params
}

// StateDict returns cv2.<i>.*, cv3.<i>.* and dfl.* entries.
func (d *Detect[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	for i := range d.cv2 {
		layers.MergeState(sd, fmt.Sprintf("cv2.%d.", i), d.cv2[i].StateDict())
		layers.MergeState(sd, fmt.Sprintf("cv3.%d.", i), d.cv3[i].StateDict())
	}
	layers.MergeState(sd, "dfl.", d.dfl.StateDict())
	return sd
}

// LoadStateDict loads cv2.<i>.*, cv3.<i>.* and dfl.* entries.
func (d *Detect[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for i := range d.cv2 {
		if err := d.cv2[i].LoadStateDict(layers.SubState(stateDict, fmt.Sprintf("cv2.%d.", i))); err != nil {
			return fmt.Errorf("cv2.%d: %w", i, err)
		}
		if err := d.cv3[i].LoadStateDict(layers.SubState(stateDict, fmt.Sprintf("cv3.%d.", i))); err != nil {
			return fmt.Errorf("cv3.%d: %w", i, err)
		}
	}
	if err := d.dfl.LoadStateDict(layers.SubState(stateDict, "dfl.")); err != nil {
		return fmt.Errorf("dfl: %w", err)
	}
	return nil
}

// Fuse folds batch norm in every branch convolution.
func (d *Detect[B]) Fuse() {
	for i := range d.cv2 {
		d.cv2[i].Fuse()
		d.cv3[i].Fuse()
	}
}

// NumClasses returns nc.
func (d *Detect[B]) NumClasses() int {
	return d.nc
}

// NumLevels returns the number of input feature levels.
func (d *Detect[B]) NumLevels() int {
	return d.nl
}

// RegMax returns the number of DFL bins per box side.
func (d *Detect[B]) RegMax() int {
	return d.regMax
}

// NumOutputs returns the channels per anchor in the raw level maps.
func (d *Detect[B]) NumOutputs() int {
	return d.no
}

// String returns a string representation of the head.
func (d *Detect[B]) String() string {
	return fmt.Sprintf("Detect(nc=%d, nl=%d, reg_max=%d)", d.nc, d.nl, d.regMax)
}
