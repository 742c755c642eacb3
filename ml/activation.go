package ml

import (
	"math"

	"github.com/pkg/errors"
)

const (
	ActSigmoid ActivationType = iota
	ActTanh
)

var activationMap = map[string]ActivationType{
	"sigmoid": ActSigmoid,
	"tanh":    ActTanh,
}

// ActivationType selects the elementwise nonlinearity of a network. The set
// is closed: add a constant and a case to each switch below to extend it.
type ActivationType int

func ParseActivation(name string) (ActivationType, error) {
	act, ok := activationMap[name]
	if !ok {
		return 0, errors.Wrapf(ErrInvalidConfig, "unknown activation %q", name)
	}
	return act, nil
}

func (a ActivationType) String() string {
	for name, act := range activationMap {
		if act == a {
			return name
		}
	}
	return "unknown"
}

func (a ActivationType) valid() bool {
	switch a {
	case ActSigmoid, ActTanh:
		return true
	}
	return false
}

// Activate applies the function to every component of the pre-activation z.
func (a ActivationType) Activate(z Vector) Vector {
	switch a {
	case ActSigmoid:
		return z.apply(Sigmoid)
	case ActTanh:
		return z.apply(math.Tanh)
	default:
		panic("Unknown activation type")
	}
}

// Derivative returns the elementwise derivative evaluated at the raw
// pre-activation z, not at an already activated value.
func (a ActivationType) Derivative(z Vector) Vector {
	switch a {
	case ActSigmoid:
		return z.apply(SigmoidDerivative)
	case ActTanh:
		return z.apply(TanhDerivative)
	default:
		panic("Unknown activation type")
	}
}

func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func SigmoidDerivative(x float64) float64 {
	s := Sigmoid(x)
	return s * (1 - s)
}

func TanhDerivative(x float64) float64 {
	t := math.Tanh(x)
	return 1 - t*t
}
