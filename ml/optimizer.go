package ml

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	OptSGD      OptimizerType = "sgd"
	OptMomentum OptimizerType = "momentum"
	OptAdam     OptimizerType = "adam"
)

// Default settings generally recommended for Adam
var DefaultAdamConfig = AdamConfig{
	Beta1:        0.9,
	Beta2:        0.999,
	Epsilon:      1e-8,
	LearningRate: 0.001,
}

type OptimizerType string
type AdamConfig struct {
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	LearningRate float64
}

type AdamOptimizer struct {
	cfg         AdamConfig
	layerStates []LayerState
	timeStep    int // 't' in the Adam paper, tracks number of updates
}

type SGDOptimizer struct {
	LearningRate float64
}

type MomentumOptimizer struct {
	LearningRate float64
	Mu           float64 // Momentum Factor (usually 0.9)

	layerStates []LayerState
}

// Optimizer applies batch-averaged gradients to a network's parameters.
type Optimizer interface {
	Update(nw *NeuralNetwork, grads []GradientSet)
}

func NewOptimizer(nw *NeuralNetwork, cfg TrainingConfig) Optimizer {
	switch cfg.Optimizer {
	case OptAdam:
		// Set defaults if 0
		beta1 := cfg.AdamBeta1
		if beta1 == 0 {
			beta1 = DefaultAdamConfig.Beta1
		}
		beta2 := cfg.AdamBeta2
		if beta2 == 0 {
			beta2 = DefaultAdamConfig.Beta2
		}
		eps := cfg.AdamEps
		if eps == 0 {
			eps = DefaultAdamConfig.Epsilon
		}

		return NewAdamOptimizer(nw, AdamConfig{
			Beta1:        beta1,
			Beta2:        beta2,
			Epsilon:      eps,
			LearningRate: cfg.LearningRate,
		})

	case OptMomentum:
		return NewMomentumOptimizer(nw, cfg.LearningRate, cfg.MomentumMu)

	default:
		return &SGDOptimizer{LearningRate: cfg.LearningRate}
	}
}

func newLayerStates(nw *NeuralNetwork, withSecondMoment bool) []LayerState {
	states := make([]LayerState, len(nw.layers))
	for i, layer := range nw.layers {
		rows, cols := layer.Weights.Dims()
		states[i].mW = NewMatrix(rows, cols)
		states[i].mB = make([]float64, rows)
		if withSecondMoment {
			states[i].vW = NewMatrix(rows, cols)
			states[i].vB = make([]float64, rows)
		}
	}
	return states
}

func NewAdamOptimizer(nw *NeuralNetwork, cfg AdamConfig) *AdamOptimizer {
	return &AdamOptimizer{
		cfg:         cfg,
		layerStates: newLayerStates(nw, true),
	}
}

func NewMomentumOptimizer(nw *NeuralNetwork, lr, mu float64) *MomentumOptimizer {
	if mu == 0 {
		mu = 0.9
	}
	return &MomentumOptimizer{
		LearningRate: lr,
		Mu:           mu,
		layerStates:  newLayerStates(nw, false),
	}
}

// ------ ADAM OPTIMIZER METHODS ------ //
func (opt *AdamOptimizer) Update(nw *NeuralNetwork, grads []GradientSet) {
	opt.timeStep++
	t := float64(opt.timeStep)

	correction1 := 1.0 - math.Pow(opt.cfg.Beta1, t)
	correction2 := 1.0 - math.Pow(opt.cfg.Beta2, t)

	apply := func(params, grads, m, v []float64) {
		beta1 := opt.cfg.Beta1
		beta2 := opt.cfg.Beta2

		for i := range params {
			g := grads[i]

			// m_t = beta1 * m_{t-1} + (1 - beta1) * g
			m[i] = beta1*m[i] + (1.0-beta1)*g
			// v_t = beta2 * v_{t-1} + (1 - beta2) * g^2
			v[i] = beta2*v[i] + (1.0-beta2)*(g*g)

			mHat := m[i] / correction1
			vHat := v[i] / correction2

			// theta = theta - lr * mHat / (sqrt(vHat) + eps)
			params[i] -= opt.cfg.LearningRate * mHat / (math.Sqrt(vHat) + opt.cfg.Epsilon)
		}
	}

	for i, layer := range nw.layers {
		state := &opt.layerStates[i]
		apply(layer.Weights.data, grads[i].dW.data, state.mW.data, state.vW.data)
		apply(layer.Biases.data, grads[i].db.data, state.mB, state.vB)
	}
}

// ------ MOMENTUM OPTIMIZER METHODS ------ //
func (opt *MomentumOptimizer) Update(nw *NeuralNetwork, grads []GradientSet) {
	// v = mu * v - lr * grad
	// w = w + v
	applyMomentum := func(params, grads, velocity []float64) {
		floats.Scale(opt.Mu, velocity)
		floats.AddScaled(velocity, -opt.LearningRate, grads)
		floats.Add(params, velocity)
	}

	for i, layer := range nw.layers {
		state := &opt.layerStates[i]
		applyMomentum(layer.Weights.data, grads[i].dW.data, state.mW.data)
		applyMomentum(layer.Biases.data, grads[i].db.data, state.mB)
	}
}

// ------ SGD OPTIMIZER METHODS ------ //
func (opt *SGDOptimizer) Update(nw *NeuralNetwork, grads []GradientSet) {
	for i, layer := range nw.layers {
		// W = W - (lr * gradient)
		floats.AddScaled(layer.Weights.data, -opt.LearningRate, grads[i].dW.data)
		floats.AddScaled(layer.Biases.data, -opt.LearningRate, grads[i].db.data)
	}
}
