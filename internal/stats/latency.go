// Package stats summarises inference latency samples.
package stats

import (
	"math"
	"slices"
	"time"

	"github.com/samber/lo"
)

// Latency summarises a set of per-iteration latencies.
//
// Durations are kept as time.Duration; use the *Ms helpers for display.
// StdDev is the population standard deviation and percentiles use linear
// interpolation between closest ranks.
type Latency struct {
	Count  int
	Mean   time.Duration
	StdDev time.Duration
	Min    time.Duration
	Max    time.Duration
	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
	Total  time.Duration
}

// Summarize computes latency statistics. An empty input yields the zero value.
func Summarize(samples []time.Duration) Latency {
	if len(samples) == 0 {
		return Latency{}
	}

	secs := lo.Map(samples, func(d time.Duration, _ int) float64 { return d.Seconds() })
	slices.Sort(secs)

	total := lo.Sum(secs)
	mean := total / float64(len(secs))

	variance := lo.SumBy(secs, func(s float64) float64 { return (s - mean) * (s - mean) })
	variance /= float64(len(secs))

	return Latency{
		Count:  len(secs),
		Mean:   seconds(mean),
		StdDev: seconds(math.Sqrt(variance)),
		Min:    seconds(secs[0]),
		Max:    seconds(secs[len(secs)-1]),
		P50:    seconds(Percentile(secs, 50)),
		P95:    seconds(Percentile(secs, 95)),
		P99:    seconds(Percentile(secs, 99)),
		Total:  seconds(total),
	}
}

// Percentile returns the p-th percentile (0-100) of an ascending slice.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Throughput returns samples per second for the given batch size, derived
// from the mean latency of one iteration.
func (l Latency) Throughput(batchSize int) float64 {
	if l.Mean <= 0 {
		return 0
	}
	return float64(batchSize) / l.Mean.Seconds()
}

// MeanMs returns the mean latency in milliseconds.
func (l Latency) MeanMs() float64 { return ms(l.Mean) }

// StdDevMs returns the standard deviation in milliseconds.
func (l Latency) StdDevMs() float64 { return ms(l.StdDev) }

// P95Ms returns the 95th percentile in milliseconds.
func (l Latency) P95Ms() float64 { return ms(l.P95) }

// P99Ms returns the 99th percentile in milliseconds.
func (l Latency) P99Ms() float64 { return ms(l.P99) }

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
