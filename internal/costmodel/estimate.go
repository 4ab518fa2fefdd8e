package costmodel

import (
	"errors"
	"fmt"

	"github.com/born-ml/onnxbench/internal/onnxexport"
)

// Estimation errors.
var (
	ErrUnsupportedOp = errors.New("costmodel: unsupported operator")
	ErrUnknownShape  = errors.New("costmodel: unknown tensor shape")
)

// NodeCost is the estimated cost of one graph node.
type NodeCost struct {
	Name   string
	OpType string
	Output []int64
	Metrics
}

// Estimate is the per-node and total cost of a graph.
type Estimate struct {
	Nodes []NodeCost
	Total Metrics
}

// EstimateGraph infers tensor shapes through g, binding symbolic input
// dimensions to batch, and costs every node in graph order.
func EstimateGraph(g *onnxexport.Graph, batch int) (*Estimate, error) {
	if batch < 1 {
		batch = 1
	}

	shapes := make(map[string][]int64)
	for _, in := range g.Inputs {
		dims := make([]int64, len(in.Dims))
		for i, d := range in.Dims {
			dims[i] = d.Value
			if d.Param != "" || d.Value <= 0 {
				dims[i] = int64(batch)
			}
		}
		shapes[in.Name] = dims
	}
	for _, t := range g.Initializers {
		shapes[t.Name] = t.Dims
	}

	est := &Estimate{}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		ins := make([][]int64, len(n.Inputs))
		for j, name := range n.Inputs {
			s, ok := shapes[name]
			if !ok {
				return nil, fmt.Errorf("%w: %s input %q", ErrUnknownShape, n.Name, name)
			}
			ins[j] = s
		}

		out, m, err := costNode(n, ins)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.Name, err)
		}
		for _, name := range n.Outputs {
			shapes[name] = out
		}

		est.Nodes = append(est.Nodes, NodeCost{Name: n.Name, OpType: n.OpType, Output: out, Metrics: m})
		est.Total = est.Total.Add(m)
	}
	return est, nil
}

//nolint:gocyclo // one case per operator family
func costNode(n *onnxexport.Node, ins [][]int64) ([]int64, Metrics, error) {
	if len(ins) == 0 {
		return nil, Metrics{}, fmt.Errorf("%w: %s without inputs", ErrUnsupportedOp, n.OpType)
	}
	for i, dims := range ins {
		for _, d := range dims {
			if d <= 0 {
				return nil, Metrics{}, fmt.Errorf("%w: input %d has dims %v", ErrUnknownShape, i, dims)
			}
		}
	}
	x := ins[0]

	switch n.OpType {
	case "Gemm":
		if len(ins) < 2 || len(x) != 2 || len(ins[1]) != 2 {
			return nil, Metrics{}, fmt.Errorf("%w: Gemm wants two 2-D inputs", ErrUnknownShape)
		}
		transA, transB := n.AttrInt("transA", 0) != 0, n.AttrInt("transB", 0) != 0
		m, k := x[0], x[1]
		if transA {
			m, k = k, m
		}
		nOut := ins[1][1]
		if transB {
			nOut = ins[1][0]
		}
		p := MatMulParams{Batch: 1, M: m, N: nOut, K: k, TransA: transA, TransB: transB}
		if len(ins) > 2 {
			p.BiasSize = numElements(ins[2])
		}
		return []int64{m, nOut}, MatMul(p), nil

	case "MatMul":
		if len(ins) < 2 || len(x) < 2 || len(x) != len(ins[1]) {
			return nil, Metrics{}, fmt.Errorf("%w: MatMul wants inputs of equal rank >= 2", ErrUnknownShape)
		}
		r := len(x)
		out := append(append([]int64(nil), x[:r-1]...), ins[1][r-1])
		p := MatMulParams{
			Batch: numElements(x[:r-2]),
			M:     x[r-2],
			N:     ins[1][r-1],
			K:     x[r-1],
		}
		return out, MatMul(p), nil

	case "Relu", "LeakyRelu", "Sigmoid", "Tanh", "Gelu", "Silu", "Exp", "Log",
		"Sqrt", "Neg", "Abs", "Erf", "Sin", "Cos":
		return x, Unary(n.OpType, numElements(x)), nil

	case "Flatten":
		axis := int(n.AttrInt("axis", 1))
		if axis < 0 {
			axis += len(x)
		}
		if axis < 0 || axis > len(x) {
			return nil, Metrics{}, fmt.Errorf("%w: Flatten axis %d for rank %d", ErrUnknownShape, axis, len(x))
		}
		out := []int64{numElements(x[:axis]), numElements(x[axis:])}
		return out, Flatten(axis, numElements(x)), nil

	case "Identity", "Dropout":
		return x, Identity(numElements(x)), nil

	case "Add", "Sub", "Mul", "Div", "Pow", "Equal", "Greater", "Less":
		if len(ins) < 2 {
			return nil, Metrics{}, fmt.Errorf("%w: %s wants two inputs", ErrUnknownShape, n.OpType)
		}
		out, err := broadcast(x, ins[1])
		if err != nil {
			return nil, Metrics{}, err
		}
		return out, ElementWise(n.OpType, numElements(x), numElements(ins[1]), numElements(out)), nil

	case "Softmax":
		axis := int(n.AttrInt("axis", -1))
		if axis < 0 {
			axis += len(x)
		}
		if axis < 0 || axis >= len(x) {
			return nil, Metrics{}, fmt.Errorf("%w: Softmax axis %d for rank %d", ErrUnknownShape, axis, len(x))
		}
		return x, Softmax(x, axis), nil
	}

	return nil, Metrics{}, fmt.Errorf("%w: %s", ErrUnsupportedOp, n.OpType)
}

func broadcast(a, b []int64) ([]int64, error) {
	r := max(len(a), len(b))
	out := make([]int64, r)
	for i := range r {
		da, db := int64(1), int64(1)
		if j := len(a) - r + i; j >= 0 {
			da = a[j]
		}
		if j := len(b) - r + i; j >= 0 {
			db = b[j]
		}
		switch {
		case da == db, db == 1:
			out[i] = da
		case da == 1:
			out[i] = db
		default:
			return nil, fmt.Errorf("%w: cannot broadcast %v and %v", ErrUnknownShape, a, b)
		}
	}
	return out, nil
}
