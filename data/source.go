package data

import (
	"io"

	"github.com/b0tShaman/backprop/ml"
	"github.com/pkg/errors"
)

// SliceSource serves samples from memory in order.
type SliceSource struct {
	samples []ml.Sample
	pos     int
}

func NewSliceSource(samples []ml.Sample) *SliceSource {
	return &SliceSource{samples: samples}
}

// Cycle returns a source that repeats samples times times, in order.
func Cycle(samples []ml.Sample, times int) *SliceSource {
	out := make([]ml.Sample, 0, len(samples)*times)
	for i := 0; i < times; i++ {
		out = append(out, samples...)
	}
	return NewSliceSource(out)
}

func (s *SliceSource) Len() int {
	return len(s.samples) - s.pos
}

func (s *SliceSource) Next() (ml.Sample, error) {
	if s.pos >= len(s.samples) {
		return ml.Sample{}, io.EOF
	}
	sample := s.samples[s.pos]
	s.pos++
	return sample, nil
}

// Pairs builds samples from parallel input and target rows. The row counts
// must match.
func Pairs(inputs, targets [][]float64) ([]ml.Sample, error) {
	if len(inputs) != len(targets) {
		return nil, errors.Wrapf(ml.ErrDimensionMismatch, "pairs: %d inputs but %d targets", len(inputs), len(targets))
	}
	out := make([]ml.Sample, len(inputs))
	for i := range inputs {
		out[i] = ml.Sample{Input: ml.VectorFrom(inputs[i]), Target: ml.VectorFrom(targets[i])}
	}
	return out, nil
}

// OneHot returns a vector of length classes with 1.0 at label.
func OneHot(label, classes int) (ml.Vector, error) {
	if classes <= 0 {
		return ml.Vector{}, errors.Errorf("classes must be > 0 (got %d)", classes)
	}
	if label < 0 || label >= classes {
		return ml.Vector{}, errors.Errorf("label %d out of range for %d classes", label, classes)
	}
	v := make([]float64, classes)
	v[label] = 1.0
	return ml.VectorFrom(v), nil
}
