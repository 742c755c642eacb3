package ml

import (
	"math/rand/v2"
	"sync"

	"github.com/pkg/errors"
)

// NeuralNetwork is a fully connected feedforward network. Layer 0 is the
// input and is not materialized, so layers[i] holds layer i+1.
//
// Training holds an exclusive lock on the parameters for the whole call;
// inference and the accessors take a shared lock.
type NeuralNetwork struct {
	config     Configuration
	activation ActivationType
	layers     []*Layer
	mu         sync.RWMutex
}

// Sample is one labeled training pair.
type Sample struct {
	Input  Vector
	Target Vector
}

// Neural Network Builder. All weights and biases start at zero.
func NewNetwork(config Configuration, activation ActivationType) (*NeuralNetwork, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if !activation.valid() {
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown activation %d", int(activation))
	}

	nw := &NeuralNetwork{
		config:     config.clone(),
		activation: activation,
		layers:     make([]*Layer, config.Layers()),
	}
	for i := 1; i < len(config); i++ {
		nw.layers[i-1] = newLayer(config[i-1], config[i])
	}
	return nw, nil
}

// -------- NEURAL NETWORK METHODS -------- //

// Configuration returns a copy of the layer sizes.
func (nw *NeuralNetwork) Configuration() Configuration {
	return nw.config.clone()
}

// Activation returns the activation shared by every layer.
func (nw *NeuralNetwork) Activation() ActivationType {
	return nw.activation
}

// NumLayers returns the number of materialized layers (input excluded).
func (nw *NeuralNetwork) NumLayers() int {
	return len(nw.layers)
}

// Initializer selects the weight distribution used by RandomizeWith.
type Initializer int

const (
	InitXavier Initializer = iota // uniform, limit sqrt(6/(fan_in+fan_out))
	InitHe                        // normal, stddev sqrt(2/fan_in)
)

// Randomize replaces every weight with a Xavier-uniform draw from a PCG
// stream seeded with seed and zeroes the biases.
func (nw *NeuralNetwork) Randomize(seed uint64) {
	// InitXavier is always valid.
	_ = nw.RandomizeWith(seed, InitXavier)
}

// RandomizeWith is Randomize with a chosen weight initializer.
func (nw *NeuralNetwork) RandomizeWith(seed uint64, init Initializer) error {
	var fill func(*Matrix, *rand.Rand)
	switch init {
	case InitXavier:
		fill = (*Matrix).RandomizeXavier
	case InitHe:
		fill = (*Matrix).RandomizeHe
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown initializer %d", int(init))
	}

	nw.mu.Lock()
	defer nw.mu.Unlock()

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for _, layer := range nw.layers {
		fill(layer.Weights, rng)
		for i := range layer.Biases.data {
			layer.Biases.data[i] = 0
		}
	}
	return nil
}

// FeedLayer computes the pre-activation z and activation of layer (1..L)
// for an input of the previous layer's size.
func (nw *NeuralNetwork) FeedLayer(input Vector, layer int) (z, activation Vector, err error) {
	nw.mu.RLock()
	defer nw.mu.RUnlock()
	return nw.feedLayer(input, layer)
}

func (nw *NeuralNetwork) feedLayer(input Vector, layer int) (Vector, Vector, error) {
	if layer < 1 || layer > len(nw.layers) {
		return Vector{}, Vector{}, errors.Wrapf(ErrInvalidLayer, "feed layer %d (network has layers 1..%d)", layer, len(nw.layers))
	}
	if input.Len() != nw.config[layer-1] {
		return Vector{}, Vector{}, dimensionError(indexedOp("feed layer", layer), nw.config[layer-1], input.Len())
	}

	l := nw.layers[layer-1]
	z := l.Weights.MulVec(input)
	for j := range z.data {
		z.data[j] += l.Biases.data[j]
	}
	return z, nw.activation.Activate(z), nil
}

// Feed runs a full forward pass and returns the output activation.
func (nw *NeuralNetwork) Feed(input Vector) (Vector, error) {
	nw.mu.RLock()
	defer nw.mu.RUnlock()
	return nw.feed(input)
}

func (nw *NeuralNetwork) feed(input Vector) (Vector, error) {
	if input.Len() != nw.config.InputDim() {
		return Vector{}, dimensionError("feed", nw.config.InputDim(), input.Len())
	}
	activation := input
	for layer := 1; layer <= len(nw.layers); layer++ {
		_, a, err := nw.feedLayer(activation, layer)
		if err != nil {
			return Vector{}, err
		}
		activation = a
	}
	return activation, nil
}

// Predict returns the index of the strongest output and its activation.
func (nw *NeuralNetwork) Predict(input Vector) (int, float64, error) {
	out, err := nw.Feed(input)
	if err != nil {
		return -1, 0, err
	}
	idx := out.ArgMax()
	return idx, out.At(idx), nil
}

// Evaluate returns the mean squared-error loss over samples and the fraction
// of samples whose strongest output matches the strongest target component.
func (nw *NeuralNetwork) Evaluate(samples []Sample) (float64, float64, error) {
	nw.mu.RLock()
	defer nw.mu.RUnlock()

	if len(samples) == 0 {
		return 0, 0, nil
	}
	var totalLoss float64
	correct := 0
	for i, s := range samples {
		out, err := nw.feed(s.Input)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "sample %d", i)
		}
		loss, err := mseLoss(out, s.Target)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "sample %d", i)
		}
		totalLoss += loss
		if out.ArgMax() == s.Target.ArgMax() {
			correct++
		}
	}
	n := float64(len(samples))
	return totalLoss / n, float64(correct) / n, nil
}

// backpropagate runs one sample forward, keeping every z and activation,
// then walks the layers backwards and adds this sample's bias and weight
// gradients into grads. It returns the sample's loss. grads is untouched
// when an error is returned.
func (nw *NeuralNetwork) backpropagate(s Sample, grads []GradientSet) (float64, error) {
	if s.Input.Len() != nw.config.InputDim() {
		return 0, dimensionError("train input", nw.config.InputDim(), s.Input.Len())
	}
	if s.Target.Len() != nw.config.OutputDim() {
		return 0, dimensionError("train target", nw.config.OutputDim(), s.Target.Len())
	}

	L := len(nw.layers)
	// activations[0] is the input; zs[l] and activations[l] belong to layer l.
	zs := make([]Vector, L+1)
	activations := make([]Vector, L+1)
	activations[0] = s.Input
	for layer := 1; layer <= L; layer++ {
		z, a, err := nw.feedLayer(activations[layer-1], layer)
		if err != nil {
			return 0, err
		}
		zs[layer] = z
		activations[layer] = a
	}

	loss, err := mseLoss(activations[L], s.Target)
	if err != nil {
		return 0, err
	}

	// delta_L = (a_L - target) ⊙ σ'(z_L)
	deltas := make([]Vector, L+1)
	diff, err := activations[L].Sub(s.Target)
	if err != nil {
		return 0, err
	}
	if deltas[L], err = diff.MulElem(nw.activation.Derivative(zs[L])); err != nil {
		return 0, err
	}

	// delta_l = (W_{l+1}ᵀ · delta_{l+1}) ⊙ σ'(z_l)
	for layer := L - 1; layer >= 1; layer-- {
		back := nw.layers[layer].Weights.MulVecT(deltas[layer+1])
		if deltas[layer], err = back.MulElem(nw.activation.Derivative(zs[layer])); err != nil {
			return 0, err
		}
	}

	for layer := 1; layer <= L; layer++ {
		g := grads[layer-1]
		for j, d := range deltas[layer].data {
			g.db.data[j] += d
		}
		g.dW.AddOuter(deltas[layer], activations[layer-1])
	}
	return loss, nil
}

// ------- PARAMETER ACCESS ------ //

// Weights returns a copy of layer's weight rows.
func (nw *NeuralNetwork) Weights(layer int) ([][]float64, error) {
	nw.mu.RLock()
	defer nw.mu.RUnlock()

	l, err := nw.layerAt(layer)
	if err != nil {
		return nil, err
	}
	rows, _ := l.Weights.Dims()
	out := make([][]float64, rows)
	for j := range out {
		out[j] = l.Weights.Row(j).Slice()
	}
	return out, nil
}

func (nw *NeuralNetwork) Biases(layer int) ([]float64, error) {
	nw.mu.RLock()
	defer nw.mu.RUnlock()

	l, err := nw.layerAt(layer)
	if err != nil {
		return nil, err
	}
	return l.Biases.Slice(), nil
}

// SetWeights replaces layer's weights. rows must match the layer's shape.
func (nw *NeuralNetwork) SetWeights(layer int, rows [][]float64) error {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	l, err := nw.layerAt(layer)
	if err != nil {
		return err
	}
	neurons, inputs := l.Weights.Dims()
	if len(rows) != neurons {
		return dimensionError(indexedOp("set weights", layer), neurons, len(rows))
	}
	for j, row := range rows {
		if len(row) != inputs {
			return dimensionError(indexedOp("set weights row", j), inputs, len(row))
		}
	}
	for j, row := range rows {
		copy(l.Weights.Row(j).data, row)
	}
	return nil
}

func (nw *NeuralNetwork) SetBiases(layer int, biases []float64) error {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	l, err := nw.layerAt(layer)
	if err != nil {
		return err
	}
	if len(biases) != l.Biases.Len() {
		return dimensionError(indexedOp("set biases", layer), l.Biases.Len(), len(biases))
	}
	copy(l.Biases.data, biases)
	return nil
}

func (nw *NeuralNetwork) layerAt(layer int) (*Layer, error) {
	if layer < 1 || layer > len(nw.layers) {
		return nil, errors.Wrapf(ErrInvalidLayer, "layer %d (network has layers 1..%d)", layer, len(nw.layers))
	}
	return nw.layers[layer-1], nil
}

// mseLoss returns ½·Σ(out - target)².
func mseLoss(out, target Vector) (float64, error) {
	diff, err := out.Sub(target)
	if err != nil {
		return 0, err
	}
	sq, _ := diff.Dot(diff)
	return 0.5 * sq, nil
}
