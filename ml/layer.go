package ml

import (
	"github.com/pkg/errors"
)

// -------- TYPE DEFINITIONS -------- //

// Configuration lists the layer sizes of a network, input first. Entry 0 is
// the input dimension and the last entry the output dimension.
type Configuration []int

// Layer holds the parameters of one materialized layer. Weights has one row
// per neuron and one column per neuron of the previous layer.
type Layer struct {
	Weights *Matrix
	Biases  Vector
}

// GradientSet holds the calculated gradients for one layer
type GradientSet struct {
	dW *Matrix
	db Vector
}

// LayerState holds per-layer optimizer memory (velocities or moments).
type LayerState struct {
	mW, vW *Matrix
	mB, vB []float64
}

// ------- CONFIGURATION HELPERS ------- //
func (c Configuration) Validate() error {
	if len(c) < 2 {
		return errors.Wrapf(ErrInvalidConfig, "network needs an input and at least one layer, got %d sizes", len(c))
	}
	for i, size := range c {
		if size <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "layer %d size must be > 0 (got %d)", i, size)
		}
	}
	return nil
}

// Layers returns L, the number of materialized layers.
func (c Configuration) Layers() int {
	return len(c) - 1
}

func (c Configuration) InputDim() int {
	return c[0]
}

func (c Configuration) OutputDim() int {
	return c[len(c)-1]
}

func (c Configuration) clone() Configuration {
	out := make(Configuration, len(c))
	copy(out, c)
	return out
}

func newLayer(inputs, neurons int) *Layer {
	return &Layer{
		Weights: NewMatrix(neurons, inputs),
		Biases:  NewVector(neurons),
	}
}

// newGradientSets allocates zeroed gradient buffers shaped like nw's layers.
func newGradientSets(nw *NeuralNetwork) []GradientSet {
	grads := make([]GradientSet, len(nw.layers))
	for l, layer := range nw.layers {
		rows, cols := layer.Weights.Dims()
		grads[l].dW = NewMatrix(rows, cols)
		grads[l].db = NewVector(rows)
	}
	return grads
}

func resetGradients(grads []GradientSet) {
	for l := range grads {
		grads[l].dW.Reset()
		for i := range grads[l].db.data {
			grads[l].db.data[i] = 0
		}
	}
}
