// Package config holds the benchmark configuration and its YAML loader.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Dataset names.
const (
	DatasetMNIST     = "mnist"
	DatasetCIFAR10   = "cifar10"
	DatasetSynthetic = "synthetic"
)

// Device names.
const (
	DeviceCPU    = "cpu"
	DeviceWebGPU = "webgpu"
)

// Configuration errors.
var (
	ErrEmptyGrid        = errors.New("config: epochs and batch sizes must not be empty")
	ErrUnknownDevice    = errors.New("config: unknown device")
	ErrUnknownDataset   = errors.New("config: unknown dataset")
	ErrUnknownOptimizer = errors.New("config: unknown optimizer")
)

// ValidationError describes one invalid field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config is the full benchmark configuration.
type Config struct {
	Dataset   Dataset   `yaml:"dataset"`
	Model     Model     `yaml:"model"`
	Train     Train     `yaml:"train"`
	Grid      Grid      `yaml:"grid"`
	Inference Inference `yaml:"inference"`

	Device       string `yaml:"device"`
	OutDir       string `yaml:"out_dir"`
	History      bool   `yaml:"history"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Dataset selects and preprocesses the data.
type Dataset struct {
	Name            string    `yaml:"name"`
	Dir             string    `yaml:"dir"`
	MaxTrain        int       `yaml:"max_train"`
	MaxTest         int       `yaml:"max_test"`
	ValidationRatio float32   `yaml:"validation_ratio"`
	Mean            []float32 `yaml:"mean"`
	Std             []float32 `yaml:"std"`
	VerifyChecksums bool      `yaml:"verify_checksums"`
	Seed            uint64    `yaml:"seed"`
}

// Model describes the classifier.
type Model struct {
	Hidden  []int `yaml:"hidden"`
	Softmax bool  `yaml:"softmax"`
}

// Train configures the optimizer.
type Train struct {
	Optimizer    string  `yaml:"optimizer"`
	LearningRate float32 `yaml:"learning_rate"`
	Momentum     float32 `yaml:"momentum"`
	Seed         uint64  `yaml:"seed"`
}

// Grid is the cross product of epochs and batch sizes.
type Grid struct {
	Epochs     []int `yaml:"epochs"`
	BatchSizes []int `yaml:"batch_sizes"`
}

// Point is one grid configuration.
type Point struct {
	Epochs    int
	BatchSize int
}

// Points returns the grid points, epochs outermost.
func (g Grid) Points() []Point {
	points := make([]Point, 0, len(g.Epochs)*len(g.BatchSizes))
	for _, e := range g.Epochs {
		for _, b := range g.BatchSizes {
			points = append(points, Point{Epochs: e, BatchSize: b})
		}
	}
	return points
}

// Inference configures the timed loop.
type Inference struct {
	Warmup    int `yaml:"warmup"`
	Samples   int `yaml:"samples"`
	BatchSize int `yaml:"batch_size"`
}

// Default returns the stock configuration: 3 and 5 epochs crossed with batch
// sizes 32 and 64, 10 warmup runs and 100 timed single-sample inferences.
func Default() Config {
	return Config{
		Dataset: Dataset{
			Name:            DatasetMNIST,
			Dir:             "data",
			MaxTrain:        10000,
			MaxTest:         2000,
			ValidationRatio: 0.1,
			Seed:            1,
		},
		Model: Model{Hidden: []int{128}},
		Train: Train{Optimizer: "adam", Seed: 42},
		Grid: Grid{
			Epochs:     []int{3, 5},
			BatchSizes: []int{32, 64},
		},
		Inference: Inference{Warmup: 10, Samples: 100, BatchSize: 1},
		Device:    DeviceCPU,
		OutDir:    "out",
		History:   true,
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, c.Validate()
}

// Channels returns the channel count of the configured dataset.
func (c Config) Channels() int {
	if c.Dataset.Name == DatasetCIFAR10 {
		return 3
	}
	return 1
}

// Validate checks the configuration and returns the first problem found.
func (c Config) Validate() error {
	if len(c.Grid.Epochs) == 0 || len(c.Grid.BatchSizes) == 0 {
		return ErrEmptyGrid
	}
	if lo.SomeBy(c.Grid.Epochs, func(e int) bool { return e < 1 }) {
		return &ValidationError{Field: "grid.epochs", Reason: "must be >= 1"}
	}
	if lo.SomeBy(c.Grid.BatchSizes, func(b int) bool { return b < 1 }) {
		return &ValidationError{Field: "grid.batch_sizes", Reason: "must be >= 1"}
	}
	if c.Inference.Samples < 1 {
		return &ValidationError{Field: "inference.samples", Reason: "must be >= 1"}
	}
	if c.Inference.Warmup < 0 {
		return &ValidationError{Field: "inference.warmup", Reason: "must be >= 0"}
	}
	if c.Inference.BatchSize < 1 {
		return &ValidationError{Field: "inference.batch_size", Reason: "must be >= 1"}
	}
	if !slices.Contains([]string{DatasetMNIST, DatasetCIFAR10, DatasetSynthetic}, c.Dataset.Name) {
		return fmt.Errorf("%w: %q", ErrUnknownDataset, c.Dataset.Name)
	}
	if c.Dataset.ValidationRatio < 0 || c.Dataset.ValidationRatio >= 1 {
		return &ValidationError{Field: "dataset.validation_ratio", Reason: "must be in [0, 1)"}
	}
	if !slices.Contains([]string{DeviceCPU, DeviceWebGPU}, c.Device) {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, c.Device)
	}
	if !slices.Contains([]string{"adam", "sgd"}, c.Train.Optimizer) {
		return fmt.Errorf("%w: %q", ErrUnknownOptimizer, c.Train.Optimizer)
	}
	if c.Train.LearningRate < 0 {
		return &ValidationError{Field: "train.learning_rate", Reason: "must be >= 0"}
	}
	if lo.SomeBy(c.Model.Hidden, func(h int) bool { return h < 1 }) {
		return &ValidationError{Field: "model.hidden", Reason: "layer sizes must be >= 1"}
	}
	if err := c.validateNormalization(); err != nil {
		return err
	}
	if c.OutDir == "" {
		return &ValidationError{Field: "out_dir", Reason: "must not be empty"}
	}
	return nil
}

func (c Config) validateNormalization() error {
	mean, std := c.Dataset.Mean, c.Dataset.Std
	if len(mean) == 0 && len(std) == 0 {
		return nil
	}
	channels := c.Channels()
	if len(mean) != channels || len(std) != channels {
		return &ValidationError{
			Field:  "dataset.mean/std",
			Reason: fmt.Sprintf("need %d values each, got %d and %d", channels, len(mean), len(std)),
		}
	}
	if slices.Contains(std, 0) {
		return &ValidationError{Field: "dataset.std", Reason: "must not contain zero"}
	}
	return nil
}
