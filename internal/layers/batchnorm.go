package layers

import (
	"fmt"
	"math"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// DefaultBatchNormEps is the epsilon used by YOLO batch norm layers.
const DefaultBatchNormEps = 1e-3

// BatchNorm2D normalizes each channel of an NCHW tensor with running statistics.
//
// Inference mode only:
//
//	y = (x - running_mean) / sqrt(running_var + eps) * weight + bias
//
// Parameter shapes: weight, bias, running_mean, running_var are all [C].
type BatchNorm2D[B tensor.Backend] struct {
	numFeatures int
	eps         float32

	weight *nn.Parameter[B] // γ, initialized to 1
	bias   *nn.Parameter[B] // β, initialized to 0

	runningMean *tensor.Tensor[float32, B] // buffer, initialized to 0
	runningVar  *tensor.Tensor[float32, B] // buffer, initialized to 1

	backend B
}

// NewBatchNorm2D creates a batch norm layer over numFeatures channels.
func NewBatchNorm2D[B tensor.Backend](numFeatures int, eps float32, backend B) *BatchNorm2D[B] {
	if numFeatures <= 0 {
		panic(fmt.Sprintf("batchnorm2d: invalid num_features %d", numFeatures))
	}
	if eps <= 0 {
		panic(fmt.Sprintf("batchnorm2d: invalid eps %g", eps))
	}

	shape := tensor.Shape{numFeatures}
	return &BatchNorm2D[B]{
		numFeatures: numFeatures,
		eps:         eps,
		weight:      nn.NewParameter("weight", tensor.Ones[float32](shape, backend)),
		bias:        nn.NewParameter("bias", tensor.Zeros[float32](shape, backend)),
		runningMean: tensor.Zeros[float32](shape, backend),
		runningVar:  tensor.Ones[float32](shape, backend),
		backend:     backend,
	}
}

// Forward normalizes input [N, C, H, W] channel-wise.
func (bn *BatchNorm2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("batchnorm2d: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	if shape[1] != bn.numFeatures {
		panic(fmt.Sprintf("batchnorm2d: input channels %d != expected %d", shape[1], bn.numFeatures))
	}

	scale, shift := bn.affine()
	scaleT, err := tensor.FromSlice(scale, tensor.Shape{1, bn.numFeatures, 1, 1}, bn.backend)
	if err != nil {
		panic(fmt.Sprintf("batchnorm2d: %v", err))
	}
	shiftT, err := tensor.FromSlice(shift, tensor.Shape{1, bn.numFeatures, 1, 1}, bn.backend)
	if err != nil {
		panic(fmt.Sprintf("batchnorm2d: %v", err))
	}

	return input.Mul(scaleT).Add(shiftT)
}

// affine returns the per-channel scale γ/√(var+eps) and shift β − mean·scale.
func (bn *BatchNorm2D[B]) affine() (scale, shift []float32) {
	gamma := bn.weight.Tensor().Data()
	beta := bn.bias.Tensor().Data()
	mean := bn.runningMean.Data()
	variance := bn.runningVar.Data()

	scale = make([]float32, bn.numFeatures)
	shift = make([]float32, bn.numFeatures)
	for c := range scale {
		s := gamma[c] / float32(math.Sqrt(float64(variance[c]+bn.eps)))
		scale[c] = s
		shift[c] = beta[c] - mean[c]*s
	}
	return scale, shift
}

// Parameters returns weight and bias. Running statistics are buffers.
func (bn *BatchNorm2D[B]) Parameters() []*nn.Parameter[B] {
	return []*nn.Parameter[B]{bn.weight, bn.bias}
}

// StateDict returns weight, bias, running_mean and running_var.
func (bn *BatchNorm2D[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{
		"weight":       bn.weight.Tensor().Raw(),
		"bias":         bn.bias.Tensor().Raw(),
		"running_mean": bn.runningMean.Raw(),
		"running_var":  bn.runningVar.Raw(),
	}
}

// LoadStateDict loads weight, bias and running statistics.
func (bn *BatchNorm2D[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := loadTensor(bn.weight.Tensor(), stateDict, "weight"); err != nil {
		return err
	}
	if err := loadTensor(bn.bias.Tensor(), stateDict, "bias"); err != nil {
		return err
	}
	if err := loadTensor(bn.runningMean, stateDict, "running_mean"); err != nil {
		return err
	}
	return loadTensor(bn.runningVar, stateDict, "running_var")
}

// NumFeatures returns the number of channels.
func (bn *BatchNorm2D[B]) NumFeatures() int {
	return bn.numFeatures
}

// Eps returns the numerical stability constant.
func (bn *BatchNorm2D[B]) Eps() float32 {
	return bn.eps
}

// RunningMean returns the running mean buffer.
func (bn *BatchNorm2D[B]) RunningMean() *tensor.Tensor[float32, B] {
	return bn.runningMean
}

// RunningVar returns the running variance buffer.
func (bn *BatchNorm2D[B]) RunningVar() *tensor.Tensor[float32, B] {
	return bn.runningVar
}

// String returns a string representation of the layer.
func (bn *BatchNorm2D[B]) String() string {
	return fmt.Sprintf("BatchNorm2d(%d, eps=%g)", bn.numFeatures, bn.eps)
}
