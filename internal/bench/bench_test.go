package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime"
	"testing"

	"github.com/born-ml/born/onnx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/onnxbench/internal/config"
	"github.com/born-ml/onnxbench/internal/perf"
)

func smallConfig(t *testing.T) config.Config {
	t.Helper()
	c := config.Default()
	c.Dataset.Name = config.DatasetSynthetic
	c.Dataset.MaxTrain = 200
	c.Dataset.MaxTest = 40
	c.Model.Hidden = []int{16}
	c.Grid.Epochs = []int{1}
	c.Grid.BatchSizes = []int{32}
	c.Inference.Warmup = 2
	c.Inference.Samples = 5
	c.OutDir = t.TempDir()
	return c
}

func TestRunSyntheticGrid(t *testing.T) {
	cfg := smallConfig(t)
	var out bytes.Buffer
	r := &Runner{Out: &out, Version: "test"}

	results, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Epochs)
	assert.Equal(t, 32, res.BatchSize)
	assert.Len(t, res.History, 1)
	assert.Equal(t, 5, res.Latency.Count)
	assert.Positive(t, res.Throughput)
	assert.FileExists(t, res.ModelPath)
	assert.FileExists(t, res.CheckpointPath)
	assert.Contains(t, res.ModelPath, "classifier_e1_b32.onnx")

	names := make([]string, 0, len(res.Stages))
	for _, s := range res.Stages {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		"dataset", "model", "train", "evaluate", "checkpoint",
		"export", "runtime load", "warmup", "inference", "total",
	}, names)
	assert.Contains(t, out.String(), "Performance report")

	info, err := onnx.GetModelInfo(res.ModelPath)
	require.NoError(t, err)
	assert.Equal(t, "onnxbench", info.ProducerName)
}

func TestRunIsolatesFailingPoints(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Dataset.Name = config.DatasetMNIST
	cfg.Dataset.Dir = t.TempDir() // no files
	cfg.Grid.BatchSizes = []int{16, 32}

	var out bytes.Buffer
	r := &Runner{Out: &out}
	results, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, []*Result{nil, nil}, results)
	// Reports are printed for failed points too.
	assert.Equal(t, 2, bytes.Count(out.Bytes(), []byte("Performance report")))
	assert.Contains(t, out.String(), "dataset:")
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := (&Runner{}).Run(ctx, smallConfig(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Grid.Epochs = nil

	_, err := (&Runner{}).Run(context.Background(), cfg)
	assert.ErrorIs(t, err, config.ErrEmptyGrid)
}

func TestRunWebGPUUnavailable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("WebGPU may be present on Windows")
	}
	cfg := smallConfig(t)
	cfg.Device = config.DeviceWebGPU

	_, err := (&Runner{}).Run(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestRunStepsRecoversPanic(t *testing.T) {
	tracker := perf.NewTracker()
	steps := []step{
		{"ok", func(context.Context) error { return nil }},
		{"boom", func(context.Context) error { panic("shape mismatch") }},
		{"never", func(context.Context) error { t.Fatal("ran after panic"); return nil }},
	}

	err := runSteps(context.Background(), tracker, steps)
	require.ErrorIs(t, err, ErrPanic)
	assert.ErrorContains(t, err, "shape mismatch")
	assert.True(t, tracker.Active("boom"))

	var perr *PanicError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "shape mismatch", perr.Value)
	assert.Contains(t, string(perr.Stack), "runSteps")

	_, ok := tracker.Elapsed("ok")
	assert.True(t, ok)
}

func TestLogFailureIncludesStack(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	point := config.Point{Epochs: 3, BatchSize: 32}

	logFailure(log, point, &PanicError{Value: "index out of range", Stack: []byte("goroutine 1 [running]:")})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "grid point failed", entry["msg"])
	assert.Equal(t, "goroutine 1 [running]:", entry["stack"])
	assert.Contains(t, entry["err"], "index out of range")

	buf.Reset()
	logFailure(log, point, errors.New("disk full"))
	assert.NotContains(t, buf.String(), `"stack"`)
}

func TestRunStepsWrapsErrors(t *testing.T) {
	sentinel := errors.New("disk full")
	tracker := perf.NewTracker()

	err := runSteps(context.Background(), tracker, []step{
		{"export", func(context.Context) error { return sentinel }},
	})
	assert.ErrorIs(t, err, sentinel)
	assert.ErrorContains(t, err, "export: disk full")
}

func TestLoadDatasetsSynthetic(t *testing.T) {
	c := smallConfig(t).Dataset
	trainSet, testSet, err := LoadDatasets(c)
	require.NoError(t, err)

	assert.Equal(t, 200, trainSet.Len())
	assert.Equal(t, 40, testSet.Len())
	assert.Equal(t, 10, trainSet.Classes)

	c.Mean = []float32{0.1, 0.2}
	_, _, err = LoadDatasets(c)
	assert.Error(t, err)

	c.Name = "imagenet"
	_, _, err = LoadDatasets(c)
	assert.ErrorIs(t, err, config.ErrUnknownDataset)
}
