package ml

import (
	"gonum.org/v1/gonum/floats"
)

// Vector is a fixed-length sequence of float64 values. Operations never
// resize a Vector and, apart from the internal in-place helpers, always
// return a fresh one.
type Vector struct {
	data []float64
}

// -------- CONSTRUCTORS ------- //
func NewVector(n int) Vector {
	return Vector{data: make([]float64, n)}
}

// VectorFrom wraps s without copying it.
func VectorFrom(s []float64) Vector {
	return Vector{data: s}
}

// ------- VECTOR METHODS ------ //
func (v Vector) Len() int {
	return len(v.data)
}

func (v Vector) At(i int) float64 {
	return v.data[i]
}

// Slice returns a copy of the underlying values.
func (v Vector) Slice() []float64 {
	out := make([]float64, len(v.data))
	copy(out, v.data)
	return out
}

func (v Vector) Add(o Vector) (Vector, error) {
	if len(v.data) != len(o.data) {
		return Vector{}, dimensionError("vector add", len(v.data), len(o.data))
	}
	out := make([]float64, len(v.data))
	floats.AddTo(out, v.data, o.data)
	return Vector{data: out}, nil
}

func (v Vector) Sub(o Vector) (Vector, error) {
	if len(v.data) != len(o.data) {
		return Vector{}, dimensionError("vector sub", len(v.data), len(o.data))
	}
	out := make([]float64, len(v.data))
	floats.SubTo(out, v.data, o.data)
	return Vector{data: out}, nil
}

// Dot returns the sum of the elementwise products of v and o.
func (v Vector) Dot(o Vector) (float64, error) {
	if len(v.data) != len(o.data) {
		return 0, dimensionError("vector dot", len(v.data), len(o.data))
	}
	return floats.Dot(v.data, o.data), nil
}

func (v Vector) Scale(factor float64) Vector {
	out := make([]float64, len(v.data))
	floats.ScaleTo(out, factor, v.data)
	return Vector{data: out}
}

// MulElem returns the elementwise (Hadamard) product of v and o.
func (v Vector) MulElem(o Vector) (Vector, error) {
	if len(v.data) != len(o.data) {
		return Vector{}, dimensionError("vector mul", len(v.data), len(o.data))
	}
	out := make([]float64, len(v.data))
	floats.MulTo(out, v.data, o.data)
	return Vector{data: out}, nil
}

// Equal reports whether v and o have the same length and every pair of
// components differs by at most tol.
func (v Vector) Equal(o Vector, tol float64) bool {
	if len(v.data) != len(o.data) {
		return false
	}
	return floats.EqualApprox(v.data, o.data, tol)
}

// ArgMax returns the index of the largest component, or -1 for an empty vector.
func (v Vector) ArgMax() int {
	if len(v.data) == 0 {
		return -1
	}
	return floats.MaxIdx(v.data)
}

// apply maps fn over v into a new Vector.
func (v Vector) apply(fn func(float64) float64) Vector {
	out := make([]float64, len(v.data))
	for i, x := range v.data {
		out[i] = fn(x)
	}
	return Vector{data: out}
}
