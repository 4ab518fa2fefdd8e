package onnxexport

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ParseFile reads and decodes an ONNX model file.
func ParseFile(path string) (*Model, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the user.
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes the parts of an ONNX ModelProto this package models.
// Unknown fields are skipped. Tensor data is decoded for float32 tensors
// stored as raw_data or float_data; other element types keep only their
// name and dims. A model without a graph is an ErrNoGraph error.
func Parse(data []byte) (*Model, error) {
	m := &Model{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := consumeVarint(typ, b)
			m.IRVersion = int64(v)
			return n, nil
		case 2, 3, 4, 6:
			s, n := consumeString(typ, b)
			switch num {
			case 2:
				m.ProducerName = s
			case 3:
				m.ProducerVersion = s
			case 4:
				m.Domain = s
			default:
				m.DocString = s
			}
			return n, nil
		case 5:
			v, n := consumeVarint(typ, b)
			m.ModelVersion = int64(v)
			return n, nil
		case 7:
			sub, n := consumeMessage(typ, b)
			if n < 0 {
				return n, nil
			}
			g, err := parseGraph(sub)
			m.Graph = g
			return n, err
		case 8:
			sub, n := consumeMessage(typ, b)
			if n < 0 {
				return n, nil
			}
			domain, version, err := parseOpset(sub)
			if domain == "" || domain == "ai.onnx" {
				m.OpsetVersion = version
			}
			return n, err
		case 14:
			sub, n := consumeMessage(typ, b)
			if n < 0 {
				return n, nil
			}
			k, v, err := parseEntry(sub)
			if m.Metadata == nil {
				m.Metadata = make(map[string]string)
			}
			m.Metadata[k] = v
			return n, err
		}
		return skip, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	if m.Graph == nil {
		return nil, ErrNoGraph
	}
	return m, nil
}

func parseGraph(data []byte) (*Graph, error) {
	g := &Graph{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 2:
			s, n := consumeString(typ, b)
			g.Name = s
			return n, nil
		case 1, 5, 11, 12:
			sub, n := consumeMessage(typ, b)
			if n < 0 {
				return n, nil
			}
			var err error
			switch num {
			case 1:
				var node Node
				node, err = parseNode(sub)
				g.Nodes = append(g.Nodes, node)
			case 5:
				var t Tensor
				t, err = parseTensor(sub)
				g.Initializers = append(g.Initializers, t)
			case 11:
				var v ValueInfo
				v, err = parseValueInfo(sub)
				g.Inputs = append(g.Inputs, v)
			default:
				var v ValueInfo
				v, err = parseValueInfo(sub)
				g.Outputs = append(g.Outputs, v)
			}
			return n, err
		}
		return skip, nil
	})
	return g, err
}

func parseNode(data []byte) (Node, error) {
	var node Node
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 2, 3, 4:
			s, n := consumeString(typ, b)
			switch num {
			case 1:
				node.Inputs = append(node.Inputs, s)
			case 2:
				node.Outputs = append(node.Outputs, s)
			case 3:
				node.Name = s
			default:
				node.OpType = s
			}
			return n, nil
		case 5:
			sub, n := consumeMessage(typ, b)
			if n < 0 {
				return n, nil
			}
			a, err := parseAttribute(sub)
			node.Attributes = append(node.Attributes, a)
			return n, err
		}
		return skip, nil
	})
	return node, err
}

func parseAttribute(data []byte) (Attribute, error) {
	var a Attribute
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n := consumeString(typ, b)
			a.Name = s
			return n, nil
		case 2:
			if typ != protowire.Fixed32Type {
				return skip, nil
			}
			v, n := protowire.ConsumeFixed32(b)
			a.F = math.Float32frombits(v)
			return n, nil
		case 3:
			v, n := consumeVarint(typ, b)
			a.I = int64(v)
			return n, nil
		case 4:
			s, n := consumeString(typ, b)
			a.S = s
			return n, nil
		case 7:
			return consumeFloats(typ, b, &a.Floats)
		case 8:
			return consumeInts(typ, b, &a.Ints)
		case 20:
			v, n := consumeVarint(typ, b)
			a.Type = int32(v) //nolint:gosec // G115: enum value fits in int32.
			return n, nil
		}
		return skip, nil
	})
	return a, err
}

func parseTensor(data []byte) (Tensor, error) {
	var t Tensor
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInts(typ, b, &t.Dims)
		case 2:
			v, n := consumeVarint(typ, b)
			t.DataType = int32(v) //nolint:gosec // G115: enum value fits in int32.
			return n, nil
		case 4:
			return consumeFloats(typ, b, &t.Data)
		case 8:
			s, n := consumeString(typ, b)
			t.Name = s
			return n, nil
		case 9:
			raw, n := consumeMessage(typ, b)
			if n >= 0 && len(raw)%4 == 0 {
				t.Data = make([]float32, len(raw)/4)
				for i := range t.Data {
					t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
				}
			}
			return n, nil
		}
		return skip, nil
	})
	if t.DataType != DataTypeFloat {
		t.Data = nil
	}
	return t, err
}

func parseValueInfo(data []byte) (ValueInfo, error) {
	var v ValueInfo
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n := consumeString(typ, b)
			v.Name = s
			return n, nil
		case 2: // TypeProto
			sub, n := consumeMessage(typ, b)
			if n < 0 {
				return n, nil
			}
			return n, walk(sub, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num != 1 { // tensor_type
					return skip, nil
				}
				tt, n := consumeMessage(typ, b)
				if n < 0 {
					return n, nil
				}
				return n, parseTensorType(tt, &v)
			})
		}
		return skip, nil
	})
	return v, err
}

func parseTensorType(data []byte, v *ValueInfo) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			et, n := consumeVarint(typ, b)
			v.ElemType = int32(et) //nolint:gosec // G115: enum value fits in int32.
			return n, nil
		case 2: // TensorShapeProto
			shape, n := consumeMessage(typ, b)
			if n < 0 {
				return n, nil
			}
			return n, walk(shape, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num != 1 {
					return skip, nil
				}
				dimMsg, n := consumeMessage(typ, b)
				if n < 0 {
					return n, nil
				}
				var d Dim
				err := walk(dimMsg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					switch num {
					case 1:
						x, n := consumeVarint(typ, b)
						d.Value = int64(x)
						return n, nil
					case 2:
						s, n := consumeString(typ, b)
						d.Param = s
						return n, nil
					}
					return skip, nil
				})
				v.Dims = append(v.Dims, d)
				return n, err
			})
		}
		return skip, nil
	})
}

func parseOpset(data []byte) (domain string, version int64, err error) {
	err = walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n := consumeString(typ, b)
			domain = s
			return n, nil
		case 2:
			v, n := consumeVarint(typ, b)
			version = int64(v)
			return n, nil
		}
		return skip, nil
	})
	return domain, version, err
}

func parseEntry(data []byte) (key, value string, err error) {
	err = walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n := consumeString(typ, b)
			key = s
			return n, nil
		case 2:
			s, n := consumeString(typ, b)
			value = s
			return n, nil
		}
		return skip, nil
	})
	return key, value, err
}

// skip tells walk to skip the current field.
const skip = 0

// walk iterates over the fields of one message. fn returns the number of
// bytes it consumed from b, skip to discard the field, or a negative
// protowire error code.
func walk(data []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		used, err := fn(num, typ, data)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if used == skip {
			used = protowire.ConsumeFieldValue(num, typ, data)
		}
		if used < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(used))
		}
		data = data[used:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int) {
	if typ != protowire.VarintType {
		return 0, skip
	}
	return protowire.ConsumeVarint(b)
}

func consumeString(typ protowire.Type, b []byte) (string, int) {
	if typ != protowire.BytesType {
		return "", skip
	}
	return protowire.ConsumeString(b)
}

func consumeMessage(typ protowire.Type, b []byte) ([]byte, int) {
	if typ != protowire.BytesType {
		return nil, skip
	}
	return protowire.ConsumeBytes(b)
}

// consumeInts reads a repeated int64 field in packed or unpacked form.
func consumeInts(typ protowire.Type, b []byte, dst *[]int64) (int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n > 0 {
			*dst = append(*dst, int64(v))
		}
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			*dst = append(*dst, int64(v))
			packed = packed[m:]
		}
		return n, nil
	}
	return skip, nil
}

// consumeFloats reads a repeated float field in packed or unpacked form.
func consumeFloats(typ protowire.Type, b []byte, dst *[]float32) (int, error) {
	switch typ {
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		if n > 0 {
			*dst = append(*dst, math.Float32frombits(v))
		}
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		if len(packed)%4 != 0 {
			return 0, fmt.Errorf("packed floats: %d bytes", len(packed))
		}
		for i := 0; i < len(packed); i += 4 {
			*dst = append(*dst, math.Float32frombits(binary.LittleEndian.Uint32(packed[i:])))
		}
		return n, nil
	}
	return skip, nil
}
