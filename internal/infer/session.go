// Package infer runs exported models in Born's ONNX runtime and measures
// inference latency.
package infer

import (
	"errors"
	"fmt"

	"github.com/born-ml/born/onnx"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/onnxbench/internal/dataset"
)

// Session errors.
var (
	ErrNoInput      = errors.New("infer: no input copied in")
	ErrNoOutput     = errors.New("infer: no output, call Run first")
	ErrInputShape   = errors.New("infer: sample size does not match input shape")
	ErrOutputLayout = errors.New("infer: unexpected output shape")
)

// Session holds a loaded model and the buffers of one inference.
// The flow per iteration is CopyIn, Run, CopyOut.
type Session struct {
	model  onnx.Model
	shape  dataset.ImageShape
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// Open loads an ONNX model from memory. Unknown operators fail the load
// instead of failing the first Run.
func Open(data []byte, backend tensor.Backend, shape dataset.ImageShape) (*Session, error) {
	opts := onnx.DefaultLoadOptions()
	opts.StrictMode = true

	m, err := onnx.LoadFromBytes(data, backend, opts)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return NewSession(m, shape), nil
}

// NewSession wraps an already loaded model.
func NewSession(m onnx.Model, shape dataset.ImageShape) *Session {
	return &Session{model: m, shape: shape}
}

// Model returns the underlying runtime model.
func (s *Session) Model() onnx.Model {
	return s.model
}

// CopyIn copies samples into a [n,C,H,W] input tensor.
func (s *Session) CopyIn(samples [][]float32) error {
	if len(samples) == 0 {
		return ErrNoInput
	}
	features := s.shape.Features()

	if s.input == nil || s.input.Shape()[0] != len(samples) {
		raw, err := tensor.NewRaw(s.shape.Dims(len(samples)), tensor.Float32, tensor.CPU)
		if err != nil {
			return fmt.Errorf("allocate input: %w", err)
		}
		s.input = raw
	}

	dst := s.input.AsFloat32()
	for i, sample := range samples {
		if len(sample) != features {
			return fmt.Errorf("%w: sample %d has %d values, want %d", ErrInputShape, i, len(sample), features)
		}
		copy(dst[i*features:(i+1)*features], sample)
	}
	s.output = nil
	return nil
}

// Run executes the model on the copied-in batch.
func (s *Session) Run() error {
	if s.input == nil {
		return ErrNoInput
	}
	out, err := s.model.Forward(s.input)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	s.output = out
	return nil
}

// CopyOut returns a copy of the last output as float32 values.
func (s *Session) CopyOut() ([]float32, error) {
	if s.output == nil {
		return nil, ErrNoOutput
	}
	return append([]float32(nil), s.output.AsFloat32()...), nil
}

// Predict runs one batch and returns the arg-max class per sample.
func (s *Session) Predict(samples [][]float32) ([]int, error) {
	if err := s.CopyIn(samples); err != nil {
		return nil, err
	}
	if err := s.Run(); err != nil {
		return nil, err
	}
	out, err := s.CopyOut()
	if err != nil {
		return nil, err
	}
	return Argmax(out, len(samples))
}

// Argmax splits values into rows rows and returns the index of each row's
// maximum.
func Argmax(values []float32, rows int) ([]int, error) {
	if rows <= 0 || len(values)%rows != 0 || len(values) == 0 {
		return nil, fmt.Errorf("%w: %d values for %d rows", ErrOutputLayout, len(values), rows)
	}
	cols := len(values) / rows
	preds := make([]int, rows)
	for r := range rows {
		row := values[r*cols : (r+1)*cols]
		best := 0
		for c := 1; c < cols; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		preds[r] = best
	}
	return preds, nil
}
