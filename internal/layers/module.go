// Package layers implements the YOLOv8 building blocks on top of Born tensors.
//
// This package provides:
//   - Module: the contract every block satisfies
//   - Conv: Conv2d + BatchNorm2d + SiLU, the basic YOLO block
//   - BatchNorm2D, Conv2D, Upsample, Pad2D, Sequential
//   - SPPF, Bottleneck, C2f: the backbone and neck blocks
//   - DFL: distribution focal loss integral used by the detection head
//
// All modules run in inference mode. State-dict keys follow the ultralytics
// naming so that a module tree can be inspected and compared against the
// reference architecture.
package layers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// Module is the base interface for all YOLO blocks.
//
// It mirrors the Born nn.Module contract so blocks compose the same way
// Born layers do.
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module for an NCHW input.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters, nested modules included.
	Parameters() []*nn.Parameter[B]

	// StateDict returns parameters and buffers keyed by dotted name.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict copies values from stateDict into the module.
	// Returns an error if a key is missing or a shape does not match.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

// Fuser is implemented by modules that can fold batch normalization into
// the preceding convolution.
type Fuser interface {
	Fuse()
}

// MergeState copies src into dst with every key prefixed by prefix.
func MergeState(dst map[string]*tensor.RawTensor, prefix string, src map[string]*tensor.RawTensor) {
	for k, v := range src {
		dst[prefix+k] = v
	}
}

// SubState returns the entries of stateDict under prefix, with the prefix removed.
func SubState(stateDict map[string]*tensor.RawTensor, prefix string) map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor)
	for k, v := range stateDict {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			out[rest] = v
		}
	}
	return out
}

// loadTensor copies raw into dst after checking that shapes agree.
func loadTensor[B tensor.Backend](dst *tensor.Tensor[float32, B], stateDict map[string]*tensor.RawTensor, key string) error {
	raw, ok := stateDict[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrMissingKey, key)
	}
	if !raw.Shape().Equal(dst.Shape()) {
		return fmt.Errorf("%w: %q: expected %v, got %v", ErrShapeMismatch, key, dst.Shape(), raw.Shape())
	}
	if raw.DType() != tensor.Float32 {
		return fmt.Errorf("%w: %q: expected float32, got %s", ErrShapeMismatch, key, raw.DType())
	}
	copy(dst.Data(), raw.AsFloat32())
	return nil
}

// StateSource is anything that exposes a state dictionary.
type StateSource interface {
	StateDict() map[string]*tensor.RawTensor
}

// ParameterSource is anything that exposes trainable parameters.
type ParameterSource[B tensor.Backend] interface {
	Parameters() []*nn.Parameter[B]
}

// StateKeys returns the sorted keys of a state dictionary.
func StateKeys(m StateSource) []string {
	sd := m.StateDict()
	keys := make([]string, 0, len(sd))
	for k := range sd {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CountParameters returns the number of scalar values in m's parameters.
func CountParameters[B tensor.Backend](m ParameterSource[B]) int {
	total := 0
	for _, p := range m.Parameters() {
		total += p.Tensor().NumElements()
	}
	return total
}

// FuseAll fuses every module in mods that supports it.
func FuseAll[B tensor.Backend](mods ...Module[B]) {
	for _, m := range mods {
		if f, ok := any(m).(Fuser); ok {
			f.Fuse()
		}
	}
}
