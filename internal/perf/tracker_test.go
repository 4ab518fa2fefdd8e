package perf

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// fakeClock advances by step on every call.
type fakeClock struct {
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func newTestTracker(opts ...Option) (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(0, 0), step: time.Second}
	return NewTracker(append([]Option{WithClock(clock.Now)}, opts...)...), clock
}

func TestTrackerStartEnd(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Start("dataset")
	assert.True(t, tr.Active("dataset"))

	elapsed := tr.End("dataset")
	assert.Equal(t, time.Second, elapsed)
	assert.False(t, tr.Active("dataset"))

	d, ok := tr.Elapsed("dataset")
	require.True(t, ok)
	assert.Equal(t, time.Second, d)
}

func TestTrackerEndUnknownStage(t *testing.T) {
	tr, _ := newTestTracker()

	assert.Equal(t, time.Duration(0), tr.End("missing"))
	assert.Empty(t, tr.Stages())
}

func TestTrackerNestedStages(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Start("total") // t=1
	tr.Start("train") // t=2
	tr.End("train")   // t=3
	tr.End("total")   // t=4

	train, _ := tr.Elapsed("train")
	total, _ := tr.Elapsed("total")
	assert.Equal(t, time.Second, train)
	assert.Equal(t, 3*time.Second, total)
}

func TestTrackerInsertionOrder(t *testing.T) {
	tr, _ := newTestTracker()

	for _, name := range []string{"b", "a", "c"} {
		tr.Start(name)
		tr.End(name)
	}
	// Re-ending keeps the original position.
	tr.Start("b")
	tr.End("b")

	names := make([]string, 0, 3)
	for _, s := range tr.Stages() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)
}

func TestTrackerEndAllActive(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Start("total")
	tr.Start("inference")
	tr.EndAllActive()

	assert.False(t, tr.Active("total"))
	assert.False(t, tr.Active("inference"))
	require.Len(t, tr.Stages(), 2)
	assert.Equal(t, "inference", tr.Stages()[0].Name)
	assert.Equal(t, "total", tr.Stages()[1].Name)
}

func TestTrackerReportClosesOpenStages(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Start("export")
	tr.End("export")
	tr.Start("total")

	var buf bytes.Buffer
	require.NoError(t, tr.Report(&buf))

	out := buf.String()
	assert.Contains(t, out, "Performance report")
	assert.Contains(t, out, "export: 1.0000 s")
	assert.Contains(t, out, "total: 1.0000 s")
	assert.Less(t, strings.Index(out, "export:"), strings.Index(out, "total:"))
	assert.False(t, tr.Active("total"))
}

func TestTrackerSeconds(t *testing.T) {
	tr, clock := newTestTracker()
	clock.step = 250 * time.Millisecond

	tr.Start("warmup")
	tr.End("warmup")

	assert.InDelta(t, 0.25, tr.Seconds()["warmup"], 1e-9)
}

func TestTrackerSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	tr, _ := newTestTracker(WithTracer(context.Background(), provider.Tracer("test")))

	tr.Start("total")
	tr.Start("train")
	tr.End("train")
	tr.EndAllActive()

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "train", ended[0].Name())
	assert.Equal(t, "total", ended[1].Name())
	assert.Equal(t, time.Second, ended[0].EndTime().Sub(ended[0].StartTime()))
}
