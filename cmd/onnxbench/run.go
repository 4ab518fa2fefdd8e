package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/born-ml/onnxbench/internal/bench"
	"github.com/born-ml/onnxbench/internal/config"
	"github.com/born-ml/onnxbench/internal/history"
	"github.com/born-ml/onnxbench/internal/report"
	"github.com/born-ml/onnxbench/internal/telemetry"
)

// Output file names inside the output directory.
const (
	reportFile  = "report.json"
	chartFile   = "latency.html"
	metricsFile = "onnxbench.prom"
	historyDir  = "history"
)

type runFlags struct {
	configPath   string
	epochs       []int
	batchSizes   []int
	datasetName  string
	dataDir      string
	device       string
	samples      int
	warmup       int
	inferBatch   int
	outDir       string
	otlpEndpoint string
	noHistory    bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark grid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), g.logLevel, g.logFormat)
			if err != nil {
				return err
			}
			cfg, err := f.config(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBenchmark(ctx, cmd, cfg, logger)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	fl.IntSliceVar(&f.epochs, "epochs", nil, "training epochs to benchmark (default 3,5)")
	fl.IntSliceVar(&f.batchSizes, "batch-sizes", nil, "training batch sizes to benchmark (default 32,64)")
	fl.StringVar(&f.datasetName, "dataset", "", "dataset: mnist, cifar10 or synthetic")
	fl.StringVar(&f.dataDir, "data-dir", "", "dataset directory")
	fl.StringVar(&f.device, "device", "", "device: cpu or webgpu")
	fl.IntVar(&f.samples, "samples", 0, "timed inference iterations")
	fl.IntVar(&f.warmup, "warmup", 0, "untimed warmup iterations")
	fl.IntVar(&f.inferBatch, "inference-batch", 0, "samples per inference iteration")
	fl.StringVarP(&f.outDir, "out-dir", "o", "", "output directory for models and reports")
	fl.StringVar(&f.otlpEndpoint, "otlp-endpoint", "", "OTLP/HTTP endpoint URL for stage traces")
	fl.BoolVar(&f.noHistory, "no-history", false, "do not record the run in the history store")
	return cmd
}

// config loads the file, if any, and applies explicitly set flags on top.
func (f *runFlags) config(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return cfg, err
		}
	}

	changed := cmd.Flags().Changed
	if changed("epochs") {
		cfg.Grid.Epochs = f.epochs
	}
	if changed("batch-sizes") {
		cfg.Grid.BatchSizes = f.batchSizes
	}
	if changed("dataset") {
		cfg.Dataset.Name = f.datasetName
	}
	if changed("data-dir") {
		cfg.Dataset.Dir = f.dataDir
	}
	if changed("device") {
		cfg.Device = f.device
	}
	if changed("samples") {
		cfg.Inference.Samples = f.samples
	}
	if changed("warmup") {
		cfg.Inference.Warmup = f.warmup
	}
	if changed("inference-batch") {
		cfg.Inference.BatchSize = f.inferBatch
	}
	if changed("out-dir") {
		cfg.OutDir = f.outDir
	}
	if changed("otlp-endpoint") {
		cfg.OTLPEndpoint = f.otlpEndpoint
	}
	if f.noHistory {
		cfg.History = false
	}
	return cfg, cfg.Validate()
}

func runBenchmark(ctx context.Context, cmd *cobra.Command, cfg config.Config, logger *slog.Logger) error {
	out := cmd.OutOrStdout()

	tp, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, Version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("err", err))
		}
	}()

	runner := &bench.Runner{Logger: logger, Out: out, Version: Version}
	if tp.Enabled() {
		runner.Tracer = tp.Tracer()
	}

	results, runErr := runner.Run(ctx, cfg)
	if runErr != nil && len(results) == 0 {
		return runErr
	}

	rows := report.Rows(results)
	report.WriteTable(out, rows)

	run := report.NewRun(report.NewEnvironment(cfg.Device, time.Now()), cfg.Dataset.Name, results)
	if err := writeReports(cfg, run); err != nil {
		return err
	}
	if cfg.History {
		if err := appendHistory(filepath.Join(cfg.OutDir, historyDir), run); err != nil {
			logger.Warn("history not updated", slog.Any("err", err))
		}
	}

	if runErr != nil {
		return runErr
	}
	if len(rows) == 0 {
		return errAllFailed
	}
	return nil
}

func writeReports(cfg config.Config, run report.Run) error {
	jsonPath := filepath.Join(cfg.OutDir, reportFile)
	if err := writeFile(jsonPath, func(f *os.File) error { return report.WriteJSON(f, run) }); err != nil {
		return err
	}
	chartPath := filepath.Join(cfg.OutDir, chartFile)
	if err := writeFile(chartPath, func(f *os.File) error { return report.WriteChart(f, run.Rows) }); err != nil {
		return err
	}
	return report.WriteTextfile(filepath.Join(cfg.OutDir, metricsFile), run.Rows)
}

func writeFile(path string, write func(*os.File) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func appendHistory(path string, run report.Run) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Append(run)
}
