package layers

import (
	"github.com/born-ml/born/tensor"
)

// SigmoidBackend is implemented by backends with a native sigmoid kernel.
type SigmoidBackend interface {
	Sigmoid(*tensor.RawTensor) *tensor.RawTensor
}

// SiLUBackend is implemented by backends with a native SiLU kernel.
type SiLUBackend interface {
	SiLU(*tensor.RawTensor) *tensor.RawTensor
}

// SigmoidFunc applies σ(x) = 1 / (1 + exp(-x)) element-wise.
//
// Uses the backend kernel when available, otherwise composes the result from
// Exp, AddScalar and Div so it runs on any backend.
func SigmoidFunc[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	backend := x.Backend()
	if sb, ok := any(backend).(SigmoidBackend); ok {
		return tensor.New[float32, B](sb.Sigmoid(x.Raw()), backend)
	}

	denom := x.MulScalar(-1).Exp().AddScalar(1)
	ones := tensor.Ones[float32](x.Shape(), backend)
	return ones.Div(denom)
}

// SiLUFunc applies SiLU(x) = x * σ(x) element-wise.
func SiLUFunc[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	backend := x.Backend()
	if sb, ok := any(backend).(SiLUBackend); ok {
		return tensor.New[float32, B](sb.SiLU(x.Raw()), backend)
	}
	// Same-shape Mul writes into a uniquely owned left operand; keep x intact.
	defer x.Raw().ForceNonUnique()()
	return x.Mul(SigmoidFunc(x))
}
