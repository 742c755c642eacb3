package ml

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

type TrainingConfig struct {
	LearningRate float64 // eta
	BatchSize    int     // samples per gradient update
	VerboseEvery int     // How often to log progress (in batches); 0 logs only the summary
	Logger       *log.Logger

	// Optimizer Selection (defaults to plain SGD)
	Optimizer OptimizerType

	// Optimizer Hyperparameters (Zero values will use defaults)
	MomentumMu float64 // For Momentum (usually 0.9)
	AdamBeta1  float64 // For Adam (usually 0.9)
	AdamBeta2  float64 // For Adam (usually 0.999)
	AdamEps    float64 // For Adam (usually 1e-8)
}

// TrainResult summarizes one training call.
type TrainResult struct {
	Batches int       // full batches applied
	Dropped int       // trailing samples left unprocessed
	Losses  []float64 // mean loss of each batch, measured before its update
}

// Trainer mutates a network's parameters from a stream of samples.
type Trainer interface {
	Train(nw *NeuralNetwork, src DataSource) (TrainResult, error)
}

// SGDTrainer runs mini-batch gradient descent with backpropagation.
type SGDTrainer struct {
	cfg TrainingConfig
}

func (cfg TrainingConfig) Validate() error {
	if !(cfg.LearningRate > 0) {
		return errors.Wrapf(ErrInvalidConfig, "learning rate must be > 0 (got %g)", cfg.LearningRate)
	}
	if cfg.BatchSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "batch size must be > 0 (got %d)", cfg.BatchSize)
	}
	if cfg.VerboseEvery < 0 {
		return errors.Wrapf(ErrInvalidConfig, "verbose interval must be >= 0 (got %d)", cfg.VerboseEvery)
	}
	switch cfg.Optimizer {
	case "", OptSGD, OptMomentum, OptAdam:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown optimizer %q", cfg.Optimizer)
	}
	return nil
}

// NewSGD returns a plain SGD trainer with learning rate eta and
// subsampleSize samples per batch.
func NewSGD(eta float64, subsampleSize int) (*SGDTrainer, error) {
	return NewTrainer(TrainingConfig{LearningRate: eta, BatchSize: subsampleSize})
}

func NewTrainer(cfg TrainingConfig) (*SGDTrainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Optimizer == "" {
		cfg.Optimizer = OptSGD
	}
	return &SGDTrainer{cfg: cfg}, nil
}

func (t *SGDTrainer) Config() TrainingConfig {
	return t.cfg
}

func (t *SGDTrainer) Train(nw *NeuralNetwork, src DataSource) (TrainResult, error) {
	return t.TrainContext(context.Background(), nw, src)
}

// TrainContext draws floor(src.Len() / BatchSize) full batches from src and
// applies one update per batch. Trailing samples that do not fill a batch
// are not pulled. A batch that fails leaves the network untouched and ends
// the call. ctx is checked between batches only.
func (t *SGDTrainer) TrainContext(ctx context.Context, nw *NeuralNetwork, src DataSource) (TrainResult, error) {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	available := src.Len()
	batches := available / t.cfg.BatchSize
	res := TrainResult{
		Dropped: available - batches*t.cfg.BatchSize,
		Losses:  make([]float64, 0, batches),
	}

	t.logf("TrainingConfig: lr=%g batch=%d optimizer=%s samples=%d batches=%d dropped=%d",
		t.cfg.LearningRate, t.cfg.BatchSize, t.cfg.Optimizer, available, batches, res.Dropped)

	optimizer := NewOptimizer(nw, t.cfg)
	grads := newGradientSets(nw)
	scale := 1.0 / float64(t.cfg.BatchSize)
	start := time.Now()

	for batch := 0; batch < batches; batch++ {
		if err := ctx.Err(); err != nil {
			return res, errors.Wrapf(err, "before batch %d", batch)
		}

		resetGradients(grads)
		loss, err := t.accumulateBatch(nw, src, grads, batch)
		if err != nil {
			return res, err
		}

		// Average over the batch so eta does not depend on the batch size.
		for l := range grads {
			floats.Scale(scale, grads[l].dW.data)
			floats.Scale(scale, grads[l].db.data)
		}
		optimizer.Update(nw, grads)

		res.Batches++
		res.Losses = append(res.Losses, loss)
		if t.cfg.VerboseEvery > 0 && (batch+1)%t.cfg.VerboseEvery == 0 {
			t.logf("batch=%d loss=%.6f", batch+1, loss)
		}
	}

	t.logf("Training Complete. batches=%d time=%v", res.Batches, time.Since(start))
	return res, nil
}

// accumulateBatch pulls BatchSize samples and sums their gradients into
// grads. It returns the batch's mean loss.
func (t *SGDTrainer) accumulateBatch(nw *NeuralNetwork, src DataSource, grads []GradientSet, batch int) (float64, error) {
	var total float64
	for i := 0; i < t.cfg.BatchSize; i++ {
		s, err := src.Next()
		if err != nil {
			return 0, errors.Wrapf(err, "batch %d: reading sample %d", batch, i)
		}
		loss, err := nw.backpropagate(s, grads)
		if err != nil {
			return 0, errors.Wrapf(err, "batch %d: sample %d", batch, i)
		}
		total += loss
	}
	return total / float64(t.cfg.BatchSize), nil
}

func (t *SGDTrainer) logf(format string, args ...any) {
	if t.cfg.Logger != nil {
		t.cfg.Logger.Printf(format, args...)
	}
}
