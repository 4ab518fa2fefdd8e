// Package train fits a classifier with Born's autodiff backend.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/onnxbench/internal/dataset"
	"github.com/born-ml/onnxbench/internal/model"
)

// Optimizer names.
const (
	Adam = "adam"
	SGD  = "sgd"
)

// ErrUnknownOptimizer is returned for optimizer names other than Adam or SGD.
var ErrUnknownOptimizer = errors.New("train: unknown optimizer")

// Options configures a Trainer.
type Options struct {
	Optimizer    string  // "adam" (default) or "sgd"
	LearningRate float32 // default 0.001 for Adam, 0.01 for SGD
	Momentum     float32 // SGD only
	Seed         uint64  // shuffling seed
	EvalBatch    int     // batch size for Evaluate, default 256
}

// Epoch holds the metrics of one training epoch.
type Epoch struct {
	Epoch       int
	Loss        float32
	Accuracy    float32
	ValLoss     float32
	ValAccuracy float32
}

// Trainer runs mini-batch training of a classifier on an autodiff backend.
type Trainer[B tensor.Backend] struct {
	model     *model.Classifier[*autodiff.Backend[B]]
	backend   *autodiff.Backend[B]
	optimizer optim.Optimizer
	rng       *rand.Rand
	evalBatch int
	logger    *slog.Logger
}

// New creates a trainer for m. A nil logger discards output.
func New[B tensor.Backend](
	m *model.Classifier[*autodiff.Backend[B]],
	backend *autodiff.Backend[B],
	opts Options,
	logger *slog.Logger,
) (*Trainer[B], error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.EvalBatch <= 0 {
		opts.EvalBatch = 256
	}

	var opt optim.Optimizer
	switch opts.Optimizer {
	case "", Adam:
		lr := opts.LearningRate
		if lr == 0 {
			lr = 0.001
		}
		opt = optim.NewAdam(m.Parameters(), optim.AdamConfig{
			LR:    lr,
			Betas: [2]float32{0.9, 0.999},
			Eps:   1e-8,
		}, backend)
	case SGD:
		lr := opts.LearningRate
		if lr == 0 {
			lr = 0.01
		}
		opt = optim.NewSGD(m.Parameters(), optim.SGDConfig{
			LR:       lr,
			Momentum: opts.Momentum,
		}, backend)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOptimizer, opts.Optimizer)
	}

	return &Trainer[B]{
		model:     m,
		backend:   backend,
		optimizer: opt,
		rng:       rand.New(rand.NewPCG(opts.Seed, opts.Seed+1)),
		evalBatch: opts.EvalBatch,
		logger:    logger,
	}, nil
}

// Fit trains for the given number of epochs and returns per-epoch metrics.
// val may be nil or empty, in which case validation metrics stay zero.
// The context is checked before every batch.
func (t *Trainer[B]) Fit(ctx context.Context, train, val *dataset.Dataset, epochs, batchSize int) ([]Epoch, error) {
	history := make([]Epoch, 0, epochs)

	for epoch := 1; epoch <= epochs; epoch++ {
		batches, err := dataset.Batches(train, batchSize, t.rng, t.backend)
		if err != nil {
			return history, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		loss, acc, err := t.trainEpoch(ctx, batches)
		if err != nil {
			return history, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		stats := Epoch{Epoch: epoch, Loss: loss, Accuracy: acc}
		if val != nil && val.Len() > 0 {
			stats.ValLoss, stats.ValAccuracy, err = t.Evaluate(val)
			if err != nil {
				return history, fmt.Errorf("epoch %d: %w", epoch, err)
			}
		}
		history = append(history, stats)

		t.logger.Info("epoch finished",
			slog.Int("epoch", epoch),
			slog.Int("epochs", epochs),
			slog.Float64("loss", float64(loss)),
			slog.Float64("train_acc", float64(acc)),
			slog.Float64("val_loss", float64(stats.ValLoss)),
			slog.Float64("val_acc", float64(stats.ValAccuracy)),
		)
	}
	return history, nil
}

func (t *Trainer[B]) trainEpoch(ctx context.Context, batches []*dataset.Batch[*autodiff.Backend[B]]) (avgLoss, accuracy float32, err error) {
	tape := t.backend.Tape()
	tape.StartRecording()
	defer func() {
		tape.Clear()
		tape.StopRecording()
	}()

	var totalLoss float32
	correct, seen := 0, 0

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}

		t.optimizer.ZeroGrad()

		logits := t.model.Forward(batch.Images)
		lossRaw := t.backend.CrossEntropy(logits.Raw(), batch.Labels.Raw())
		loss := tensor.New[float32, *autodiff.Backend[B]](lossRaw, t.backend)

		grads := autodiff.Backward(loss, t.backend)
		t.optimizer.Step(grads)

		totalLoss += lossRaw.AsFloat32()[0]
		correct += int(nn.Accuracy(logits, batch.Labels)*float32(batch.Size) + 0.5)
		seen += batch.Size

		tape.Clear()
	}

	return totalLoss / float32(len(batches)), float32(correct) / float32(seen), nil
}

// Evaluate returns the mean loss and accuracy over ds without recording
// gradients.
func (t *Trainer[B]) Evaluate(ds *dataset.Dataset) (loss, accuracy float32, err error) {
	batches, err := dataset.Batches(ds, t.evalBatch, nil, t.backend)
	if err != nil {
		return 0, 0, err
	}

	tape := t.backend.Tape()
	wasRecording := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if wasRecording {
			tape.StartRecording()
		}
	}()

	var totalLoss float32
	correct, seen := 0, 0
	for _, batch := range batches {
		logits := t.model.Forward(batch.Images)
		lossRaw := t.backend.CrossEntropy(logits.Raw(), batch.Labels.Raw())

		totalLoss += lossRaw.AsFloat32()[0] * float32(batch.Size)
		correct += int(nn.Accuracy(logits, batch.Labels)*float32(batch.Size) + 0.5)
		seen += batch.Size
	}
	return totalLoss / float32(seen), float32(correct) / float32(seen), nil
}
