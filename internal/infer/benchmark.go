package infer

import (
	"context"
	"fmt"
	"time"

	"github.com/born-ml/onnxbench/internal/dataset"
	"github.com/born-ml/onnxbench/internal/perf"
	"github.com/born-ml/onnxbench/internal/stats"
)

// Options configures Benchmark.
type Options struct {
	Warmup    int // untimed iterations before measuring
	Samples   int // timed iterations
	BatchSize int // samples per iteration, default 1

	// Tracker, when set, times the warmup as its own "warmup" stage.
	Tracker *perf.Tracker
	// Now replaces time.Now, mostly for tests.
	Now func() time.Time
}

// Result is the outcome of a benchmark run.
type Result struct {
	Latencies []time.Duration
	Latency   stats.Latency
	Correct   int
	Total     int
	Accuracy  float64
	BatchSize int
}

// Throughput returns samples per second.
func (r *Result) Throughput() float64 {
	return r.Latency.Throughput(r.BatchSize)
}

// Benchmark runs opts.Warmup untimed iterations and then opts.Samples timed
// copy-in, run, copy-out iterations over ds, cycling through the dataset.
// Accuracy counts the predictions of the timed iterations only.
// The context is checked before every iteration.
func Benchmark(ctx context.Context, s *Session, ds *dataset.Dataset, opts Options) (*Result, error) {
	if ds.Len() == 0 {
		return nil, dataset.ErrEmpty
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	next := cursor(ds, opts.BatchSize)

	if opts.Warmup > 0 {
		if opts.Tracker != nil {
			opts.Tracker.Start("warmup")
		}
		for i := 0; i < opts.Warmup; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			images, _ := next()
			if _, err := s.Predict(images); err != nil {
				return nil, fmt.Errorf("warmup %d: %w", i, err)
			}
		}
		if opts.Tracker != nil {
			opts.Tracker.End("warmup")
		}
	}

	res := &Result{
		Latencies: make([]time.Duration, 0, opts.Samples),
		BatchSize: opts.BatchSize,
	}
	for i := 0; i < opts.Samples; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		images, labels := next()

		start := opts.Now()
		if err := s.CopyIn(images); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}
		if err := s.Run(); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}
		out, err := s.CopyOut()
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}
		res.Latencies = append(res.Latencies, opts.Now().Sub(start))

		preds, err := Argmax(out, len(images))
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}
		for j, p := range preds {
			if int32(p) == labels[j] {
				res.Correct++
			}
		}
		res.Total += len(preds)
	}

	res.Latency = stats.Summarize(res.Latencies)
	if res.Total > 0 {
		res.Accuracy = float64(res.Correct) / float64(res.Total)
	}
	return res, nil
}

// cursor returns a function yielding consecutive batches of ds, wrapping
// around at the end.
func cursor(ds *dataset.Dataset, batch int) func() ([][]float32, []int32) {
	pos := 0
	return func() ([][]float32, []int32) {
		images := make([][]float32, batch)
		labels := make([]int32, batch)
		for i := range batch {
			images[i] = ds.Images[pos]
			labels[i] = ds.Labels[pos]
			pos = (pos + 1) % ds.Len()
		}
		return images, labels
	}
}
