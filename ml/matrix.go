package ml

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Matrix represents a dense row-major matrix with a flat data slice shared
// with its gonum view. Row j of a layer's weight Matrix holds the incoming
// weights of neuron j.
type Matrix struct {
	rows, cols int
	data       []float64
	dense      *mat.Dense
}

// -------- CONSTRUCTORS ------- //
func NewMatrix(rows, cols int) *Matrix {
	data := make([]float64, rows*cols)
	return &Matrix{
		rows:  rows,
		cols:  cols,
		data:  data,
		dense: mat.NewDense(rows, cols, data),
	}
}

// ------- MATRIX METHODS ------ //
func (m *Matrix) Dims() (int, int) {
	return m.rows, m.cols
}

// Row returns row i as a Vector sharing the Matrix storage.
func (m *Matrix) Row(i int) Vector {
	return VectorFrom(m.data[i*m.cols : (i+1)*m.cols])
}

// RandomizeHe fills m with He-scaled normal values, treating cols as fan-in.
func (m *Matrix) RandomizeHe(rng *rand.Rand) {
	scale := math.Sqrt(2.0 / float64(m.cols))
	for i := range m.data {
		m.data[i] = rng.NormFloat64() * scale
	}
}

func (m *Matrix) RandomizeXavier(rng *rand.Rand) {
	// limit = sqrt(6 / (fan_in + fan_out))
	limit := math.Sqrt(6.0 / float64(m.rows+m.cols))
	for i := range m.data {
		m.data[i] = (rng.Float64()*2 - 1) * limit
	}
}

func (m *Matrix) Reset() {
	for i := range m.data {
		m.data[i] = 0.0
	}
}

// MulVec returns m·x. The caller guarantees x.Len() == cols.
func (m *Matrix) MulVec(x Vector) Vector {
	out := make([]float64, m.rows)
	dst := mat.NewVecDense(m.rows, out)
	dst.MulVec(m.dense, mat.NewVecDense(m.cols, x.data))
	return VectorFrom(out)
}

// MulVecT returns mᵀ·x. The caller guarantees x.Len() == rows.
func (m *Matrix) MulVecT(x Vector) Vector {
	out := make([]float64, m.cols)
	dst := mat.NewVecDense(m.cols, out)
	dst.MulVec(m.dense.T(), mat.NewVecDense(m.rows, x.data))
	return VectorFrom(out)
}

// AddOuter accumulates the outer product x·yᵀ into m.
func (m *Matrix) AddOuter(x, y Vector) {
	m.dense.RankOne(m.dense, 1, mat.NewVecDense(m.rows, x.data), mat.NewVecDense(m.cols, y.data))
}
