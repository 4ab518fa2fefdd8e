// Package report renders benchmark results as a console table, a JSON
// document, an HTML chart and a Prometheus textfile.
package report

import (
	"encoding/json"
	"io"
	"runtime"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/samber/lo"

	"github.com/born-ml/onnxbench/internal/bench"
)

// Row is the flattened result of one grid point.
type Row struct {
	Epochs       int                `json:"epochs"`
	BatchSize    int                `json:"batch_size"`
	MeanMs       float64            `json:"mean_ms"`
	StdMs        float64            `json:"std_ms"`
	P95Ms        float64            `json:"p95_ms"`
	P99Ms        float64            `json:"p99_ms"`
	Throughput   float64            `json:"throughput"`
	Accuracy     float64            `json:"accuracy"`
	TestAccuracy float32            `json:"test_accuracy"`
	Parameters   int                `json:"parameters"`
	Stages       map[string]float64 `json:"stages_seconds,omitempty"`
}

// Rows converts results to rows, skipping failed (nil) grid points.
func Rows(results []*bench.Result) []Row {
	return lo.FilterMap(results, func(r *bench.Result, _ int) (Row, bool) {
		if r == nil {
			return Row{}, false
		}
		stages := make(map[string]float64, len(r.Stages))
		for _, s := range r.Stages {
			stages[s.Name] = s.Elapsed.Seconds()
		}
		return Row{
			Epochs:       r.Epochs,
			BatchSize:    r.BatchSize,
			MeanMs:       r.Latency.MeanMs(),
			StdMs:        r.Latency.StdDevMs(),
			P95Ms:        r.Latency.P95Ms(),
			P99Ms:        r.Latency.P99Ms(),
			Throughput:   r.Throughput,
			Accuracy:     r.Accuracy,
			TestAccuracy: r.TestAccuracy,
			Parameters:   r.Parameters,
			Stages:       stages,
		}, true
	})
}

// Environment describes the machine a run was made on.
type Environment struct {
	OS            string    `json:"os"`
	Arch          string    `json:"arch"`
	CPU           string    `json:"cpu"`
	PhysicalCores int       `json:"physical_cores"`
	LogicalCPUs   int       `json:"logical_cpus"`
	AVX2          bool      `json:"avx2"`
	AVX512        bool      `json:"avx512"`
	GoVersion     string    `json:"go_version"`
	Device        string    `json:"device"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewEnvironment probes the current machine.
func NewEnvironment(device string, now time.Time) Environment {
	logical := cpuid.CPU.LogicalCores
	if logical == 0 {
		logical = runtime.NumCPU()
	}
	return Environment{
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		CPU:           cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCPUs:   logical,
		AVX2:          cpuid.CPU.Supports(cpuid.AVX2),
		AVX512:        cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
		GoVersion:     runtime.Version(),
		Device:        device,
		Timestamp:     now.UTC(),
	}
}

// Run is one complete benchmark run as written to JSON and history.
type Run struct {
	Environment Environment `json:"environment"`
	Dataset     string      `json:"dataset"`
	Points      int         `json:"points"`
	Failed      int         `json:"failed"`
	Rows        []Row       `json:"results"`
}

// NewRun assembles a run record from grid results.
func NewRun(env Environment, datasetName string, results []*bench.Result) Run {
	rows := Rows(results)
	return Run{
		Environment: env,
		Dataset:     datasetName,
		Points:      len(results),
		Failed:      len(results) - len(rows),
		Rows:        rows,
	}
}

// WriteJSON writes the run as indented JSON.
func WriteJSON(w io.Writer, run Run) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}
