// Package bench runs the train, export and inference pipeline for every
// point of the configured grid.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/born-ml/onnxbench/internal/config"
	"github.com/born-ml/onnxbench/internal/dataset"
	"github.com/born-ml/onnxbench/internal/infer"
	"github.com/born-ml/onnxbench/internal/model"
	"github.com/born-ml/onnxbench/internal/onnxexport"
	"github.com/born-ml/onnxbench/internal/perf"
	"github.com/born-ml/onnxbench/internal/stats"
	"github.com/born-ml/onnxbench/internal/train"
)

// Runner errors.
var (
	ErrDeviceUnavailable = errors.New("bench: device not available on this platform")
	ErrPanic             = errors.New("bench: panic during grid point")
)

// PanicError carries a recovered panic and the stack it was raised on.
// It matches ErrPanic with errors.Is.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v: %v", ErrPanic, e.Value)
}

func (e *PanicError) Is(target error) bool {
	return target == ErrPanic
}

// Result is the outcome of one grid point.
type Result struct {
	Epochs    int
	BatchSize int
	Device    string

	Latency          stats.Latency
	Throughput       float64
	Accuracy         float64 // inference accuracy over the timed samples
	TestAccuracy     float32
	TestLoss         float32
	InferenceSamples int
	InferenceBatch   int
	Parameters       int
	History          []train.Epoch
	Stages           []perf.Stage
	ModelPath        string
	CheckpointPath   string
}

// Runner executes benchmark grids.
type Runner struct {
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
	// Out receives the per-point stage reports; nil discards them.
	Out io.Writer
	// Tracer, when set, records a span per grid point and per stage.
	Tracer trace.Tracer
	// Version is stored as the ONNX producer version.
	Version string
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

// Run executes every grid point of cfg in order. A failed point is logged and
// leaves a nil entry in the result slice; the remaining points still run.
// Run stops early only when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, cfg config.Config) ([]*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	switch cfg.Device {
	case config.DeviceWebGPU:
		return runOnWebGPU(ctx, r, cfg)
	default:
		return runGrid(ctx, r, cfg, cpu.New())
	}
}

func runGrid[B tensor.Backend](ctx context.Context, r *Runner, cfg config.Config, backend B) ([]*Result, error) {
	log := r.logger()
	points := cfg.Grid.Points()
	results := make([]*Result, 0, len(points))

	for _, p := range points {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		log.Info("grid point started",
			slog.Int("epochs", p.Epochs),
			slog.Int("batch_size", p.BatchSize),
			slog.String("device", cfg.Device))

		res, err := runPoint(ctx, r, cfg, p, backend)
		if err != nil {
			logFailure(log, p, err)
			results = append(results, nil)
			continue
		}

		log.Info("grid point finished",
			slog.Int("epochs", p.Epochs),
			slog.Int("batch_size", p.BatchSize),
			slog.Float64("mean_ms", res.Latency.MeanMs()),
			slog.Float64("throughput", res.Throughput),
			slog.Float64("accuracy", res.Accuracy))
		results = append(results, res)
	}
	return results, nil
}

// logFailure logs a failed grid point, with the stack when it panicked.
func logFailure(log *slog.Logger, p config.Point, err error) {
	attrs := []any{
		slog.Int("epochs", p.Epochs),
		slog.Int("batch_size", p.BatchSize),
		slog.Any("err", err),
	}
	var perr *PanicError
	if errors.As(err, &perr) {
		attrs = append(attrs, slog.String("stack", string(perr.Stack)))
	}
	log.Error("grid point failed", attrs...)
}

// pipeline carries the state of one grid point between stages.
type pipeline[B tensor.Backend] struct {
	cfg     config.Config
	point   config.Point
	backend B
	tracker *perf.Tracker
	log     *slog.Logger
	version string

	trainSet, valSet, testSet *dataset.Dataset
	shape                     dataset.ImageShape
	classes                   int

	ad      *autodiff.Backend[B]
	clf     *model.Classifier[*autodiff.Backend[B]]
	trainer *train.Trainer[B]
	session *infer.Session

	res *Result
}

func runPoint[B tensor.Backend](ctx context.Context, r *Runner, cfg config.Config, p config.Point, backend B) (res *Result, err error) {
	trackerOpts := []perf.Option{}
	if r.Tracer != nil {
		var span trace.Span
		ctx, span = r.Tracer.Start(ctx, "grid point", trace.WithAttributes(
			attribute.Int("epochs", p.Epochs),
			attribute.Int("batch_size", p.BatchSize),
		))
		defer span.End()
		trackerOpts = append(trackerOpts, perf.WithTracer(ctx, r.Tracer))
	}

	pl := &pipeline[B]{
		cfg:     cfg,
		point:   p,
		backend: backend,
		tracker: perf.NewTracker(trackerOpts...),
		log:     r.logger(),
		version: r.Version,
		res: &Result{
			Epochs:           p.Epochs,
			BatchSize:        p.BatchSize,
			Device:           cfg.Device,
			InferenceSamples: cfg.Inference.Samples,
			InferenceBatch:   cfg.Inference.BatchSize,
		},
	}

	defer func() {
		out := r.Out
		if out == nil {
			out = io.Discard
		}
		if repErr := pl.tracker.Report(out); repErr != nil && err == nil {
			err = repErr
		}
		if err != nil {
			res = nil
			return
		}
		res.Stages = pl.tracker.Stages()
	}()

	pl.tracker.Start("total")
	if err := runSteps(ctx, pl.tracker, pl.steps()); err != nil {
		return nil, err
	}
	pl.tracker.End("total")
	return pl.res, nil
}

type step struct {
	name string
	fn   func(context.Context) error
}

func (pl *pipeline[B]) steps() []step {
	return []step{
		{"dataset", pl.loadData},
		{"model", pl.buildModel},
		{"train", pl.train},
		{"evaluate", pl.evaluate},
		{"checkpoint", pl.checkpoint},
		{"export", pl.export},
		{"runtime load", pl.load},
		{"inference", pl.infer},
	}
}

// runSteps times each step as its own stage. A failing step leaves its stage
// open for the report to close. Panics are returned as *PanicError.
func runSteps(ctx context.Context, tracker *perf.Tracker, steps []step) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		tracker.Start(s.name)
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		tracker.End(s.name)
	}
	return nil
}

func (pl *pipeline[B]) loadData(_ context.Context) error {
	trainSet, testSet, err := LoadDatasets(pl.cfg.Dataset)
	if err != nil {
		return err
	}
	pl.trainSet, pl.valSet = trainSet.Split(pl.cfg.Dataset.ValidationRatio)
	pl.testSet = testSet
	pl.shape = trainSet.Shape
	pl.classes = trainSet.Classes
	return nil
}

func (pl *pipeline[B]) buildModel(_ context.Context) error {
	pl.ad = autodiff.New(pl.backend)
	clf, err := model.New(pl.shape.Features(), pl.cfg.Model.Hidden, pl.classes, pl.ad)
	if err != nil {
		return err
	}
	pl.clf = clf
	pl.res.Parameters = clf.NumParameters()

	pl.trainer, err = train.New(clf, pl.ad, train.Options{
		Optimizer:    pl.cfg.Train.Optimizer,
		LearningRate: pl.cfg.Train.LearningRate,
		Momentum:     pl.cfg.Train.Momentum,
		Seed:         pl.cfg.Train.Seed,
	}, pl.log)
	return err
}

func (pl *pipeline[B]) train(ctx context.Context) error {
	history, err := pl.trainer.Fit(ctx, pl.trainSet, pl.valSet, pl.point.Epochs, pl.point.BatchSize)
	if err != nil {
		return err
	}
	pl.res.History = history
	return nil
}

func (pl *pipeline[B]) evaluate(_ context.Context) error {
	loss, acc, err := pl.trainer.Evaluate(pl.testSet)
	if err != nil {
		return err
	}
	pl.res.TestLoss, pl.res.TestAccuracy = loss, acc
	return nil
}

func (pl *pipeline[B]) checkpoint(_ context.Context) error {
	path := pl.outPath(".born")
	meta := pl.metadata()
	if err := nn.Save[*autodiff.Backend[B]](pl.clf, path, "classifier", meta); err != nil {
		return err
	}
	pl.res.CheckpointPath = path
	return nil
}

func (pl *pipeline[B]) export(_ context.Context) error {
	g, err := onnxexport.FromClassifier(pl.clf.Layers(), pl.shape, onnxexport.Options{
		Softmax: pl.cfg.Model.Softmax,
	})
	if err != nil {
		return err
	}
	m := onnxexport.NewModel(g, onnxexport.ModelOptions{
		ProducerVersion: pl.version,
		Metadata:        pl.metadata(),
	})
	path := pl.outPath(".onnx")
	if err := onnxexport.WriteFile(path, m); err != nil {
		return err
	}
	pl.res.ModelPath = path
	return nil
}

func (pl *pipeline[B]) load(_ context.Context) error {
	data, err := os.ReadFile(pl.res.ModelPath)
	if err != nil {
		return err
	}
	pl.session, err = infer.Open(data, pl.backend, pl.shape)
	return err
}

func (pl *pipeline[B]) infer(ctx context.Context) error {
	bm, err := infer.Benchmark(ctx, pl.session, pl.testSet, infer.Options{
		Warmup:    pl.cfg.Inference.Warmup,
		Samples:   pl.cfg.Inference.Samples,
		BatchSize: pl.cfg.Inference.BatchSize,
		Tracker:   pl.tracker,
	})
	if err != nil {
		return err
	}
	pl.res.Latency = bm.Latency
	pl.res.Throughput = bm.Throughput()
	pl.res.Accuracy = bm.Accuracy
	return nil
}

func (pl *pipeline[B]) outPath(ext string) string {
	name := fmt.Sprintf("classifier_e%d_b%d%s", pl.point.Epochs, pl.point.BatchSize, ext)
	return filepath.Join(pl.cfg.OutDir, name)
}

func (pl *pipeline[B]) metadata() map[string]string {
	return map[string]string{
		"dataset":       pl.cfg.Dataset.Name,
		"epochs":        strconv.Itoa(pl.point.Epochs),
		"batch_size":    strconv.Itoa(pl.point.BatchSize),
		"test_accuracy": strconv.FormatFloat(float64(pl.res.TestAccuracy), 'f', 4, 32),
	}
}
