package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/onnxbench/internal/bench"
	"github.com/born-ml/onnxbench/internal/perf"
	"github.com/born-ml/onnxbench/internal/stats"
)

func sampleResults() []*bench.Result {
	return []*bench.Result{
		{
			Epochs:    3,
			BatchSize: 32,
			Latency: stats.Summarize([]time.Duration{
				time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond,
			}),
			Throughput: 500,
			Accuracy:   0.97,
			Stages:     []perf.Stage{{Name: "train", Elapsed: 1500 * time.Millisecond}},
		},
		nil,
		{
			Epochs:     5,
			BatchSize:  64,
			Latency:    stats.Summarize([]time.Duration{4 * time.Millisecond}),
			Throughput: 250,
			Accuracy:   0.98,
		},
	}
}

func TestRowsSkipsFailedPoints(t *testing.T) {
	rows := Rows(sampleResults())
	require.Len(t, rows, 2)

	assert.Equal(t, 3, rows[0].Epochs)
	assert.InDelta(t, 2.0, rows[0].MeanMs, 1e-9)
	assert.InDelta(t, 1.5, rows[0].Stages["train"], 1e-9)
	assert.Equal(t, 64, rows[1].BatchSize)
	assert.InDelta(t, 4.0, rows[1].P99Ms, 1e-9)
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	WriteTable(&buf, Rows(sampleResults()))

	out := buf.String()
	for _, col := range tableHeader {
		assert.Contains(t, out, col)
	}
	assert.Contains(t, out, "2.000")
	assert.Contains(t, out, "500.0")
	assert.Contains(t, out, "0.9800")
	assert.Less(t, strings.Index(out, "0.9700"), strings.Index(out, "0.9800"))
}

func TestWriteJSON(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	run := NewRun(NewEnvironment("cpu", now), "mnist", sampleResults())
	assert.Equal(t, 3, run.Points)
	assert.Equal(t, 1, run.Failed)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, run))

	var got Run
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "cpu", got.Environment.Device)
	assert.True(t, now.Equal(got.Environment.Timestamp))
	assert.NotEmpty(t, got.Environment.GoVersion)
	assert.Positive(t, got.Environment.LogicalCPUs)
	assert.Len(t, got.Rows, 2)
	assert.Contains(t, buf.String(), `"mean_ms"`)
}

func TestWriteChart(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteChart(&buf, Rows(sampleResults())))

	out := buf.String()
	assert.Contains(t, out, "<html")
	assert.Contains(t, out, "Inference latency")
	assert.Contains(t, out, "e3/b32")
	assert.Contains(t, out, "e5/b64")
}

func TestWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "onnxbench.prom")
	require.NoError(t, WriteTextfile(path, Rows(sampleResults())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, "# TYPE onnxbench_latency_mean_seconds gauge")
	assert.Contains(t, out, `onnxbench_latency_mean_seconds{batch_size="32",epochs="3"} 0.002`)
	assert.Contains(t, out, `onnxbench_throughput_samples_per_second{batch_size="64",epochs="5"} 250`)
}
