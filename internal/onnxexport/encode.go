package onnxexport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrNoGraph is returned when encoding or decoding a model without a graph.
var ErrNoGraph = errors.New("onnxexport: model has no graph")

// Marshal encodes m as an ONNX ModelProto.
func Marshal(m *Model) ([]byte, error) {
	if m.Graph == nil {
		return nil, ErrNoGraph
	}

	var b []byte
	b = appendVarintField(b, 1, uint64(m.IRVersion))
	b = appendStringField(b, 2, m.ProducerName)
	b = appendStringField(b, 3, m.ProducerVersion)
	b = appendStringField(b, 4, m.Domain)
	if m.ModelVersion != 0 {
		b = appendVarintField(b, 5, uint64(m.ModelVersion))
	}
	b = appendStringField(b, 6, m.DocString)
	b = appendMessage(b, 7, func(b []byte) []byte { return appendGraph(b, m.Graph) })
	b = appendMessage(b, 8, func(b []byte) []byte {
		// Empty domain is the default ai.onnx domain.
		return appendVarintField(b, 2, uint64(m.OpsetVersion))
	})

	keys := make([]string, 0, len(m.Metadata))
	for k := range m.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		b = appendMessage(b, 14, func(b []byte) []byte {
			b = appendStringField(b, 1, k)
			return appendStringField(b, 2, m.Metadata[k])
		})
	}
	return b, nil
}

// WriteFile encodes m and writes it to path.
func WriteFile(path string, m *Model) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // G306: model files are meant to be shared.
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func appendGraph(b []byte, g *Graph) []byte {
	for i := range g.Nodes {
		b = appendMessage(b, 1, func(b []byte) []byte { return appendNode(b, &g.Nodes[i]) })
	}
	b = appendStringField(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, func(b []byte) []byte { return appendTensor(b, &g.Initializers[i]) })
	}
	for i := range g.Inputs {
		b = appendMessage(b, 11, func(b []byte) []byte { return appendValueInfo(b, &g.Inputs[i]) })
	}
	for i := range g.Outputs {
		b = appendMessage(b, 12, func(b []byte) []byte { return appendValueInfo(b, &g.Outputs[i]) })
	}
	return b
}

func appendNode(b []byte, n *Node) []byte {
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendStringField(b, 3, n.Name)
	b = appendStringField(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, func(b []byte) []byte { return appendAttribute(b, &n.Attributes[i]) })
	}
	return b
}

func appendAttribute(b []byte, a *Attribute) []byte {
	b = appendStringField(b, 1, a.Name)
	switch a.Type {
	case AttrFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttrInt:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I))
	case AttrString:
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, a.S)
	case AttrFloats:
		for _, f := range a.Floats {
			b = protowire.AppendTag(b, 7, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(f))
		}
	case AttrInts:
		for _, v := range a.Ints {
			b = protowire.AppendTag(b, 8, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(v))
		}
	}
	b = protowire.AppendTag(b, 20, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(a.Type))
}

func appendTensor(b []byte, t *Tensor) []byte {
	for _, d := range t.Dims {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	b = appendVarintField(b, 2, uint64(t.DataType))
	b = appendStringField(b, 8, t.Name)

	raw := make([]byte, 4*len(t.Data))
	for i, f := range t.Data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(f))
	}
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	return protowire.AppendBytes(b, raw)
}

func appendValueInfo(b []byte, v *ValueInfo) []byte {
	b = appendStringField(b, 1, v.Name)
	return appendMessage(b, 2, func(b []byte) []byte { // TypeProto
		return appendMessage(b, 1, func(b []byte) []byte { // TypeProto.Tensor
			b = appendVarintField(b, 1, uint64(v.ElemType))
			return appendMessage(b, 2, func(b []byte) []byte { // TensorShapeProto
				for _, d := range v.Dims {
					b = appendMessage(b, 1, func(b []byte) []byte {
						if d.Param != "" {
							return appendStringField(b, 2, d.Param)
						}
						return appendVarintField(b, 1, uint64(d.Value))
					})
				}
				return b
			})
		})
	})
}

// appendMessage writes an embedded message produced by fn as a
// length-delimited field.
func appendMessage(b []byte, num protowire.Number, fn func([]byte) []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, fn(nil))
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}
