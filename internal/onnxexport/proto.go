package onnxexport

import "strconv"

// ONNX message subset written and read by this package. Field numbers
// follow onnx.proto; only what a dense classifier needs is modelled.

// Model is an ONNX ModelProto.
type Model struct {
	IRVersion       int64
	OpsetVersion    int64 // default ("ai.onnx") domain
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Metadata        map[string]string
	Graph           *Graph
}

// Graph is an ONNX GraphProto.
type Graph struct {
	Name         string
	Nodes        []Node
	Inputs       []ValueInfo
	Outputs      []ValueInfo
	Initializers []Tensor
}

// Node is a single operator invocation.
type Node struct {
	Name       string
	OpType     string
	Inputs     []string
	Outputs    []string
	Attributes []Attribute
}

// Tensor is a constant float32 tensor (weights and biases).
type Tensor struct {
	Name     string
	DataType int32
	Dims     []int64
	Data     []float32
}

// ValueInfo describes a graph input or output.
type ValueInfo struct {
	Name     string
	ElemType int32
	Dims     []Dim
}

// Dim is one dimension: a fixed Value or a symbolic Param such as "batch".
type Dim struct {
	Value int64
	Param string
}

// String returns the dimension as it is usually printed.
func (d Dim) String() string {
	if d.Param != "" {
		return d.Param
	}
	return strconv.FormatInt(d.Value, 10)
}

// Attribute is a node attribute.
type Attribute struct {
	Name   string
	Type   int32
	F      float32
	I      int64
	S      string
	Floats []float32
	Ints   []int64
}

// Element types (TensorProto.DataType).
const (
	DataTypeFloat = 1
	DataTypeInt32 = 6
	DataTypeInt64 = 7
)

// Attribute types (AttributeProto.AttributeType).
const (
	AttrFloat  = 1
	AttrInt    = 2
	AttrString = 3
	AttrFloats = 6
	AttrInts   = 7
)

// IntAttr returns an INT attribute.
func IntAttr(name string, v int64) Attribute {
	return Attribute{Name: name, Type: AttrInt, I: v}
}

// FloatAttr returns a FLOAT attribute.
func FloatAttr(name string, v float32) Attribute {
	return Attribute{Name: name, Type: AttrFloat, F: v}
}

// Attr returns the named attribute.
func (n *Node) Attr(name string) (Attribute, bool) {
	for _, a := range n.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// AttrInt returns an INT attribute or def when absent.
func (n *Node) AttrInt(name string, def int64) int64 {
	if a, ok := n.Attr(name); ok {
		return a.I
	}
	return def
}

// Initializer returns the named initializer.
func (g *Graph) Initializer(name string) (*Tensor, bool) {
	for i := range g.Initializers {
		if g.Initializers[i].Name == name {
			return &g.Initializers[i], true
		}
	}
	return nil, false
}
