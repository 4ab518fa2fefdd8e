package onnxexport

import (
	"fmt"
	"strings"

	"github.com/xlab/treeprint"
)

// Tree renders the graph as a tree: inputs, one branch per node with its
// inputs, outputs and attributes, then the graph outputs.
func Tree(g *Graph) treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("graph %q (%d nodes, %d initializers)",
		g.Name, len(g.Nodes), len(g.Initializers)))

	inputs := tree.AddBranch("inputs")
	for _, v := range g.Inputs {
		inputs.AddNode(formatValueInfo(v))
	}

	nodes := tree.AddBranch("nodes")
	for i := range g.Nodes {
		n := &g.Nodes[i]
		branch := nodes.AddMetaBranch(n.OpType, n.Name)
		for _, in := range n.Inputs {
			if t, ok := g.Initializer(in); ok {
				branch.AddMetaNode("weight", fmt.Sprintf("%s %v", in, t.Dims))
				continue
			}
			branch.AddMetaNode("in", in)
		}
		for _, out := range n.Outputs {
			branch.AddMetaNode("out", out)
		}
		for _, a := range n.Attributes {
			branch.AddMetaNode("attr", formatAttribute(a))
		}
	}

	outputs := tree.AddBranch("outputs")
	for _, v := range g.Outputs {
		outputs.AddNode(formatValueInfo(v))
	}
	return tree
}

func formatValueInfo(v ValueInfo) string {
	dims := make([]string, len(v.Dims))
	for i, d := range v.Dims {
		dims[i] = d.String()
	}
	return fmt.Sprintf("%s [%s]", v.Name, strings.Join(dims, ","))
}

func formatAttribute(a Attribute) string {
	switch a.Type {
	case AttrFloat:
		return fmt.Sprintf("%s=%g", a.Name, a.F)
	case AttrInt:
		return fmt.Sprintf("%s=%d", a.Name, a.I)
	case AttrString:
		return fmt.Sprintf("%s=%q", a.Name, a.S)
	case AttrFloats:
		return fmt.Sprintf("%s=%v", a.Name, a.Floats)
	case AttrInts:
		return fmt.Sprintf("%s=%v", a.Name, a.Ints)
	default:
		return a.Name
	}
}
