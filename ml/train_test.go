package ml

import (
	"context"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

// memorySource is a minimal in-package DataSource.
type memorySource struct {
	samples []Sample
	pos     int
	failAt  int // index whose Next call fails; -1 disables
}

func newMemorySource(samples ...Sample) *memorySource {
	return &memorySource{samples: samples, failAt: -1}
}

func (s *memorySource) Len() int { return len(s.samples) - s.pos }

func (s *memorySource) Next() (Sample, error) {
	if s.pos == s.failAt {
		return Sample{}, errors.New("disk on fire")
	}
	if s.pos >= len(s.samples) {
		return Sample{}, io.EOF
	}
	s.pos++
	return s.samples[s.pos-1], nil
}

func pair(in, target []float64) Sample {
	return Sample{Input: VectorFrom(in), Target: VectorFrom(target)}
}

func mustTrainer(t testing.TB, eta float64, batch int) *SGDTrainer {
	t.Helper()
	tr, err := NewSGD(eta, batch)
	require.NoError(t, err)
	return tr
}

// flatParams lists every weight (row-major) then every bias, layer by layer.
func flatParams(t *testing.T, nw *NeuralNetwork) []float64 {
	var out []float64
	for layer := 1; layer <= nw.NumLayers(); layer++ {
		w, err := nw.Weights(layer)
		require.NoError(t, err)
		for _, row := range w {
			out = append(out, row...)
		}
		b, err := nw.Biases(layer)
		require.NoError(t, err)
		out = append(out, b...)
	}
	return out
}

func loadParams(nw *NeuralNetwork, params []float64) {
	i := 0
	for _, l := range nw.layers {
		n := len(l.Weights.data)
		copy(l.Weights.data, params[i:i+n])
		i += n
		copy(l.Biases.data, params[i:i+l.Biases.Len()])
		i += l.Biases.Len()
	}
}

func flatGradients(grads []GradientSet) []float64 {
	var out []float64
	for _, g := range grads {
		out = append(out, g.dW.data...)
		out = append(out, g.db.data...)
	}
	return out
}

func TestBackpropagateMatchesFiniteDifferences(t *testing.T) {
	nw := mustNetwork(t, 2, 2, 1)
	require.NoError(t, nw.SetWeights(1, [][]float64{{0.15, -0.2}, {0.25, 0.3}}))
	require.NoError(t, nw.SetBiases(1, []float64{0.35, -0.1}))
	require.NoError(t, nw.SetWeights(2, [][]float64{{0.4, -0.45}}))
	require.NoError(t, nw.SetBiases(2, []float64{0.6}))

	sample := pair([]float64{0.05, 0.1}, []float64{0.01})

	grads := newGradientSets(nw)
	_, err := nw.backpropagate(sample, grads)
	require.NoError(t, err)
	analytic := flatGradients(grads)

	origin := flatParams(t, nw)
	shadow, err := NewNetwork(nw.Configuration(), nw.Activation())
	require.NoError(t, err)
	loss := func(params []float64) float64 {
		loadParams(shadow, params)
		out, err := shadow.feed(sample.Input)
		require.NoError(t, err)
		l, err := mseLoss(out, sample.Target)
		require.NoError(t, err)
		return l
	}
	numeric := fd.Gradient(nil, loss, origin, &fd.Settings{Formula: fd.Central, Step: 1e-5})

	require.Len(t, analytic, len(numeric))
	for i := range numeric {
		assert.InDelta(t, numeric[i], analytic[i], 1e-4, "parameter %d", i)
	}
}

func TestBackpropagateDeepTanh(t *testing.T) {
	nw, err := NewNetwork(Configuration{3, 4, 3, 2}, ActTanh)
	require.NoError(t, err)
	nw.Randomize(11)
	sample := pair([]float64{0.3, -0.7, 0.9}, []float64{0.2, -0.4})

	grads := newGradientSets(nw)
	_, err = nw.backpropagate(sample, grads)
	require.NoError(t, err)

	shadow, err := NewNetwork(nw.Configuration(), nw.Activation())
	require.NoError(t, err)
	loss := func(params []float64) float64 {
		loadParams(shadow, params)
		out, _ := shadow.feed(sample.Input)
		l, _ := mseLoss(out, sample.Target)
		return l
	}
	numeric := fd.Gradient(nil, loss, flatParams(t, nw), &fd.Settings{Formula: fd.Central})
	analytic := flatGradients(grads)
	for i := range numeric {
		assert.InDelta(t, numeric[i], analytic[i], 1e-4, "parameter %d", i)
	}
}

func TestSingleStepWorkedExample(t *testing.T) {
	nw := mustNetwork(t, 1, 1)
	require.NoError(t, nw.SetWeights(1, [][]float64{{0.5}}))

	res, err := mustTrainer(t, 0.1, 1).Train(nw, newMemorySource(pair([]float64{1}, []float64{1})))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, 0, res.Dropped)

	a := Sigmoid(0.5)
	delta := (a - 1) * a * (1 - a)
	w, err := nw.Weights(1)
	require.NoError(t, err)
	assert.InDelta(t, 0.5-0.1*delta, w[0][0], 1e-12)
	assert.InDelta(t, 0.5089, w[0][0], 1e-4)

	b, err := nw.Biases(1)
	require.NoError(t, err)
	assert.InDelta(t, -0.1*delta, b[0], 1e-12)

	require.Len(t, res.Losses, 1)
	assert.InDelta(t, 0.5*(a-1)*(a-1), res.Losses[0], 1e-12)
}

func TestTrainAveragesOverBatch(t *testing.T) {
	// Same sample twice in one batch must give the same step as once alone.
	single := mustNetwork(t, 1, 1)
	double := mustNetwork(t, 1, 1)
	s := pair([]float64{0.7}, []float64{0.2})

	_, err := mustTrainer(t, 0.5, 1).Train(single, newMemorySource(s))
	require.NoError(t, err)
	_, err = mustTrainer(t, 0.5, 2).Train(double, newMemorySource(s, s))
	require.NoError(t, err)

	ws, _ := single.Weights(1)
	wd, _ := double.Weights(1)
	assert.InDelta(t, ws[0][0], wd[0][0], 1e-15)
}

func TestTrainDropsPartialBatch(t *testing.T) {
	nw := mustNetwork(t, 1, 1)
	src := newMemorySource(
		pair([]float64{0.1}, []float64{0.1}),
		pair([]float64{0.2}, []float64{0.2}),
		pair([]float64{0.3}, []float64{0.3}),
		pair([]float64{0.4}, []float64{0.4}),
		pair([]float64{0.5}, []float64{0.5}),
	)
	res, err := mustTrainer(t, 0.1, 2).Train(nw, src)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Batches)
	assert.Equal(t, 1, res.Dropped)
	assert.Len(t, res.Losses, 2)
	assert.Equal(t, 1, src.Len(), "trailing sample must not be pulled")
}

func TestTrainTooFewSamplesIsNoop(t *testing.T) {
	nw := mustNetwork(t, 1, 1)
	res, err := mustTrainer(t, 0.1, 4).Train(nw, newMemorySource(pair([]float64{1}, []float64{1})))
	require.NoError(t, err)
	assert.Zero(t, res.Batches)
	assert.Equal(t, 1, res.Dropped)
	w, _ := nw.Weights(1)
	assert.Equal(t, [][]float64{{0}}, w)
}

func TestTrainBatchIsAllOrNothing(t *testing.T) {
	nw := mustNetwork(t, 2, 2, 1)
	nw.Randomize(3)
	before := flatParams(t, nw)

	src := newMemorySource(
		pair([]float64{1, 0}, []float64{1}),
		pair([]float64{0, 1}, []float64{0, 1}), // wrong target length
	)
	res, err := mustTrainer(t, 1, 2).Train(nw, src)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.Zero(t, res.Batches)
	assert.Equal(t, before, flatParams(t, nw))

	bad := newMemorySource(
		pair([]float64{1, 0}, []float64{1}),
		pair([]float64{0, 1, 1}, []float64{1}), // wrong input length
	)
	_, err = mustTrainer(t, 1, 2).Train(nw, bad)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.Equal(t, before, flatParams(t, nw))
}

func TestTrainSourceErrorKeepsEarlierBatches(t *testing.T) {
	nw := mustNetwork(t, 1, 1)
	src := newMemorySource(
		pair([]float64{1}, []float64{1}),
		pair([]float64{1}, []float64{1}),
		pair([]float64{1}, []float64{1}),
		pair([]float64{1}, []float64{1}),
	)
	src.failAt = 3

	res, err := mustTrainer(t, 0.1, 2).Train(nw, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Equal(t, 1, res.Batches)

	// Only the first batch was applied.
	ref := mustNetwork(t, 1, 1)
	_, err = mustTrainer(t, 0.1, 2).Train(ref, newMemorySource(
		pair([]float64{1}, []float64{1}),
		pair([]float64{1}, []float64{1}),
	))
	require.NoError(t, err)
	assert.Equal(t, flatParams(t, ref), flatParams(t, nw))
}

func TestTrainHonorsCancelledContext(t *testing.T) {
	nw := mustNetwork(t, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := mustTrainer(t, 0.1, 1).TrainContext(ctx, nw, newMemorySource(pair([]float64{1}, []float64{1})))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, res.Batches)
	w, _ := nw.Weights(1)
	assert.Equal(t, [][]float64{{0}}, w)
}

func identitySamples() []Sample {
	return []Sample{
		pair([]float64{0.2}, []float64{0.2}),
		pair([]float64{0.8}, []float64{0.8}),
	}
}

func TestTrainIdentityLossDecreases(t *testing.T) {
	nw := mustNetwork(t, 1, 1)
	var repeated []Sample
	for i := 0; i < 30; i++ {
		repeated = append(repeated, identitySamples()...)
	}

	res, err := mustTrainer(t, 0.5, 2).Train(nw, newMemorySource(repeated...))
	require.NoError(t, err)
	require.Len(t, res.Losses, 30)
	for i := 1; i < len(res.Losses); i++ {
		assert.Less(t, res.Losses[i], res.Losses[i-1], "batch %d", i)
	}
}

func TestTrainIdentityAcrossCalls(t *testing.T) {
	nw := mustNetwork(t, 1, 1)
	tr := mustTrainer(t, 0.5, 2)

	prev, _, err := nw.Evaluate(identitySamples())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := tr.Train(nw, newMemorySource(identitySamples()...))
		require.NoError(t, err)
		loss, _, err := nw.Evaluate(identitySamples())
		require.NoError(t, err)
		assert.Less(t, loss, prev, "call %d", i)
		prev = loss
	}
}

func TestTrainingConfigValidate(t *testing.T) {
	bad := []TrainingConfig{
		{LearningRate: 0, BatchSize: 1},
		{LearningRate: -1, BatchSize: 1},
		{LearningRate: 0.1, BatchSize: 0},
		{LearningRate: 0.1, BatchSize: 1, VerboseEvery: -1},
		{LearningRate: 0.1, BatchSize: 1, Optimizer: "lbfgs"},
	}
	for _, cfg := range bad {
		_, err := NewTrainer(cfg)
		assert.True(t, errors.Is(err, ErrInvalidConfig), "%+v", cfg)
	}

	tr, err := NewTrainer(TrainingConfig{LearningRate: 0.1, BatchSize: 3})
	require.NoError(t, err)
	assert.Equal(t, OptSGD, tr.Config().Optimizer)
}
