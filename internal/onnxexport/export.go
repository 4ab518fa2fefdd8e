// Package onnxexport writes trained classifiers as ONNX models and reads
// them back for inspection.
//
// The exported graph uses only operators Born's ONNX runtime executes:
//
//	input [N,C,H,W] -> Flatten(axis=1) -> Gemm(transB=1) -> Relu -> ... -> Gemm [-> Softmax]
//
// Weights are stored as float32 initializers in raw_data (little endian).
package onnxexport

import (
	"errors"
	"fmt"

	"github.com/born-ml/onnxbench/internal/dataset"
	"github.com/born-ml/onnxbench/internal/model"
)

// Export defaults.
const (
	DefaultIRVersion    = 7
	DefaultOpsetVersion = 13
	DefaultProducer     = "onnxbench"
	DefaultInputName    = "input"
	DefaultBatchParam   = "batch"
)

// Export errors.
var (
	ErrNoLayers         = errors.New("onnxexport: no layers")
	ErrShapeMismatch    = errors.New("onnxexport: layer shapes do not chain")
	ErrUnsupportedLayer = errors.New("onnxexport: unsupported layer")
)

// Options controls graph construction.
type Options struct {
	// BatchSize fixes the leading input dimension; 0 exports a symbolic "batch".
	BatchSize int
	// Softmax appends a Softmax over the class axis.
	Softmax bool
	// GraphName defaults to "classifier".
	GraphName string
	// InputName defaults to "input".
	InputName string
}

// FromClassifier builds the inference graph for a dense classifier taking
// images of the given shape.
func FromClassifier(layers []model.Dense, shape dataset.ImageShape, opts Options) (*Graph, error) {
	if len(layers) == 0 {
		return nil, ErrNoLayers
	}
	if opts.GraphName == "" {
		opts.GraphName = "classifier"
	}
	if opts.InputName == "" {
		opts.InputName = DefaultInputName
	}

	if layers[0].In != shape.Features() {
		return nil, fmt.Errorf("%w: input has %d features, %s expects %d",
			ErrShapeMismatch, shape.Features(), layers[0].Name, layers[0].In)
	}

	batch := Dim{Param: DefaultBatchParam}
	if opts.BatchSize > 0 {
		batch = Dim{Value: int64(opts.BatchSize)}
	}

	g := &Graph{
		Name: opts.GraphName,
		Inputs: []ValueInfo{{
			Name:     opts.InputName,
			ElemType: DataTypeFloat,
			Dims: []Dim{
				batch,
				{Value: int64(shape.C)},
				{Value: int64(shape.H)},
				{Value: int64(shape.W)},
			},
		}},
	}

	x := "flatten_out"
	g.Nodes = append(g.Nodes, Node{
		Name:       "flatten",
		OpType:     "Flatten",
		Inputs:     []string{opts.InputName},
		Outputs:    []string{x},
		Attributes: []Attribute{IntAttr("axis", 1)},
	})

	for i, l := range layers {
		if len(l.Weight) != l.In*l.Out {
			return nil, fmt.Errorf("%w: %s has %d weights for [%d,%d]",
				ErrUnsupportedLayer, l.Name, len(l.Weight), l.Out, l.In)
		}
		if l.Bias != nil && len(l.Bias) != l.Out {
			return nil, fmt.Errorf("%w: %s has %d biases for %d outputs",
				ErrUnsupportedLayer, l.Name, len(l.Bias), l.Out)
		}
		if i > 0 && layers[i-1].Out != l.In {
			return nil, fmt.Errorf("%w: %s outputs %d, %s expects %d",
				ErrShapeMismatch, layers[i-1].Name, layers[i-1].Out, l.Name, l.In)
		}

		weight := l.Name + ".weight"
		g.Initializers = append(g.Initializers, Tensor{
			Name:     weight,
			DataType: DataTypeFloat,
			Dims:     []int64{int64(l.Out), int64(l.In)},
			Data:     l.Weight,
		})
		inputs := []string{x, weight}
		if l.Bias != nil {
			bias := l.Name + ".bias"
			g.Initializers = append(g.Initializers, Tensor{
				Name:     bias,
				DataType: DataTypeFloat,
				Dims:     []int64{int64(l.Out)},
				Data:     l.Bias,
			})
			inputs = append(inputs, bias)
		}

		out := l.Name + "_out"
		g.Nodes = append(g.Nodes, Node{
			Name:    l.Name,
			OpType:  "Gemm",
			Inputs:  inputs,
			Outputs: []string{out},
			Attributes: []Attribute{
				FloatAttr("alpha", 1),
				FloatAttr("beta", 1),
				IntAttr("transB", 1),
			},
		})
		x = out

		if i < len(layers)-1 {
			relu := fmt.Sprintf("relu%d", i)
			g.Nodes = append(g.Nodes, Node{
				Name:    relu,
				OpType:  "Relu",
				Inputs:  []string{x},
				Outputs: []string{relu + "_out"},
			})
			x = relu + "_out"
		}
	}

	output := "logits"
	if opts.Softmax {
		g.Nodes = append(g.Nodes, Node{
			Name:       "softmax",
			OpType:     "Softmax",
			Inputs:     []string{x},
			Outputs:    []string{"probabilities"},
			Attributes: []Attribute{IntAttr("axis", 1)},
		})
		x, output = "probabilities", "probabilities"
	} else {
		// Rename the last Gemm output so the graph output has a stable name.
		last := &g.Nodes[len(g.Nodes)-1]
		last.Outputs[0] = output
		x = output
	}

	classes := layers[len(layers)-1].Out
	g.Outputs = []ValueInfo{{
		Name:     x,
		ElemType: DataTypeFloat,
		Dims:     []Dim{batch, {Value: int64(classes)}},
	}}
	return g, nil
}

// ModelOptions sets ModelProto level fields.
type ModelOptions struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	DocString       string
	Metadata        map[string]string
}

// NewModel wraps g in a ModelProto, filling unset fields with defaults.
func NewModel(g *Graph, opts ModelOptions) *Model {
	if opts.IRVersion == 0 {
		opts.IRVersion = DefaultIRVersion
	}
	if opts.OpsetVersion == 0 {
		opts.OpsetVersion = DefaultOpsetVersion
	}
	if opts.ProducerName == "" {
		opts.ProducerName = DefaultProducer
	}
	return &Model{
		IRVersion:       opts.IRVersion,
		OpsetVersion:    opts.OpsetVersion,
		ProducerName:    opts.ProducerName,
		ProducerVersion: opts.ProducerVersion,
		DocString:       opts.DocString,
		Metadata:        opts.Metadata,
		Graph:           g,
	}
}
