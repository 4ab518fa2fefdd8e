// Package perf times the named stages of a benchmark run.
//
// A Tracker records wall-clock durations keyed by stage name and keeps them in
// the order the stages were first completed, so reports read top to bottom in
// pipeline order:
//
//	tracker := perf.NewTracker()
//	tracker.Start("train")
//	// ...
//	tracker.End("train")
//	tracker.Report(os.Stdout)
//
// Every stage keeps its own start time, so stages can nest ("total" around
// "train") without clobbering each other.
package perf

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Stage is a completed stage and its elapsed time.
type Stage struct {
	Name    string
	Elapsed time.Duration
}

// Tracker collects stage durations. It is not safe for concurrent use.
type Tracker struct {
	now    func() time.Time
	tracer trace.Tracer
	ctx    context.Context

	order   []string
	elapsed map[string]time.Duration

	// active stages in start order; starts holds their timestamps.
	active []string
	starts map[string]time.Time
	spans  map[string]trace.Span
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithTracer opens an OpenTelemetry span for every stage. Spans are children
// of the span carried by ctx, if any.
func WithTracer(ctx context.Context, tracer trace.Tracer) Option {
	return func(t *Tracker) {
		t.ctx = ctx
		t.tracer = tracer
	}
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		now:     time.Now,
		ctx:     context.Background(),
		elapsed: make(map[string]time.Duration),
		starts:  make(map[string]time.Time),
		spans:   make(map[string]trace.Span),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start marks the stage active and records its start time.
// Starting an already active stage restarts its timer.
func (t *Tracker) Start(name string) time.Time {
	start := t.now()
	if _, ok := t.starts[name]; !ok {
		t.active = append(t.active, name)
	} else if span, ok := t.spans[name]; ok {
		span.End()
	}
	t.starts[name] = start

	if t.tracer != nil {
		_, span := t.tracer.Start(t.ctx, name, trace.WithTimestamp(start))
		t.spans[name] = span
	}
	return start
}

// End stops the stage, stores its elapsed time and returns it.
// Ending a stage that is not active returns 0 and records nothing.
func (t *Tracker) End(name string) time.Duration {
	start, ok := t.starts[name]
	if !ok {
		return 0
	}
	end := t.now()
	elapsed := end.Sub(start)

	if _, seen := t.elapsed[name]; !seen {
		t.order = append(t.order, name)
	}
	t.elapsed[name] = elapsed

	delete(t.starts, name)
	for i, n := range t.active {
		if n == name {
			t.active = append(t.active[:i], t.active[i+1:]...)
			break
		}
	}
	if span, ok := t.spans[name]; ok {
		span.End(trace.WithTimestamp(end))
		delete(t.spans, name)
	}
	return elapsed
}

// EndAllActive closes every stage that is still open, innermost first.
func (t *Tracker) EndAllActive() {
	for len(t.active) > 0 {
		t.End(t.active[len(t.active)-1])
	}
}

// Active reports whether the stage has been started and not yet ended.
func (t *Tracker) Active(name string) bool {
	_, ok := t.starts[name]
	return ok
}

// Elapsed returns the recorded duration of a completed stage.
func (t *Tracker) Elapsed(name string) (time.Duration, bool) {
	d, ok := t.elapsed[name]
	return d, ok
}

// Stages returns completed stages in first-completion order.
func (t *Tracker) Stages() []Stage {
	stages := make([]Stage, 0, len(t.order))
	for _, name := range t.order {
		stages = append(stages, Stage{Name: name, Elapsed: t.elapsed[name]})
	}
	return stages
}

// Seconds returns completed stages as a name to seconds map.
func (t *Tracker) Seconds() map[string]float64 {
	out := make(map[string]float64, len(t.elapsed))
	for name, d := range t.elapsed {
		out[name] = d.Seconds()
	}
	return out
}

// Report closes any open stages and writes the timing report to w.
func (t *Tracker) Report(w io.Writer) error {
	t.EndAllActive()

	banner := strings.Repeat("=", 50)
	var b strings.Builder
	b.WriteString("\n" + banner + "\n")
	b.WriteString("Performance report\n")
	b.WriteString(banner + "\n")
	b.WriteString("\nStage timings:\n")
	for _, s := range t.Stages() {
		fmt.Fprintf(&b, "%s: %.4f s\n", s.Name, s.Elapsed.Seconds())
	}
	b.WriteString(banner + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}
