package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func millis(n float64) time.Duration {
	return time.Duration(n * float64(time.Millisecond))
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}

	tests := []struct {
		name string
		p    float64
		want float64
	}{
		{"min", 0, 1},
		{"max", 100, 4},
		{"median", 50, 2.5},
		{"p95", 95, 3.85},
		{"p99", 99, 3.97},
		{"below range", -5, 1},
		{"above range", 150, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Percentile(sorted, tt.p), 1e-9)
		})
	}
}

func TestPercentileEmpty(t *testing.T) {
	assert.Zero(t, Percentile(nil, 50))
}

func TestPercentileSingle(t *testing.T) {
	assert.Equal(t, 7.0, Percentile([]float64{7}, 99))
}

func TestSummarize(t *testing.T) {
	// Unsorted on purpose.
	samples := []time.Duration{millis(4), millis(1), millis(3), millis(2)}

	l := Summarize(samples)
	require.Equal(t, 4, l.Count)

	assert.InDelta(t, 2.5, l.MeanMs(), 1e-6)
	// Population stddev of 1..4 is sqrt(1.25).
	assert.InDelta(t, 1.118034, l.StdDevMs(), 1e-5)
	assert.InDelta(t, 3.85, l.P95Ms(), 1e-6)
	assert.InDelta(t, 3.97, l.P99Ms(), 1e-6)
	assert.Equal(t, millis(1), l.Min)
	assert.Equal(t, millis(4), l.Max)
	assert.Equal(t, millis(10), l.Total)
}

func TestSummarizeEmpty(t *testing.T) {
	l := Summarize(nil)
	assert.Equal(t, Latency{}, l)
	assert.Zero(t, l.Throughput(1))
}

func TestThroughput(t *testing.T) {
	l := Summarize([]time.Duration{millis(2), millis(2)})

	assert.InDelta(t, 500.0, l.Throughput(1), 1e-6)
	assert.InDelta(t, 16000.0, l.Throughput(32), 1e-6)
}
