package costmodel

import (
	"fmt"
	"io"
	"slices"

	"github.com/samber/lo"
)

// OpProfile aggregates estimated compute time per operator type.
type OpProfile struct {
	Op      string
	Count   int
	Total   float64 // seconds
	Percent float64
	Mean    float64 // seconds
}

// Profile groups the node estimates by operator type, sorted by name.
func (e *Estimate) Profile() []OpProfile {
	groups := lo.GroupBy(e.Nodes, func(n NodeCost) string { return n.OpType })
	ops := lo.Keys(groups)
	slices.Sort(ops)

	rows := make([]OpProfile, 0, len(ops))
	for _, op := range ops {
		nodes := groups[op]
		total := lo.SumBy(nodes, func(n NodeCost) float64 { return n.ComputeTime })
		row := OpProfile{
			Op:    op,
			Count: len(nodes),
			Total: total,
			Mean:  total / float64(len(nodes)),
		}
		if e.Total.ComputeTime > 0 {
			row.Percent = total / e.Total.ComputeTime * 100
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteProfile prints the profile with times in microseconds.
func (e *Estimate) WriteProfile(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%11s %3s %9s %7s %9s\n", "Op", "Cnt", "T_tot", "Percent", "T_mean"); err != nil {
		return err
	}
	for _, r := range e.Profile() {
		if _, err := fmt.Fprintf(w, "%11s %3d %9.3f %7.1f %9.3f\n",
			r.Op, r.Count, r.Total*1e6, r.Percent, r.Mean*1e6); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "total: compute=%.3fus memory=%.0f parallelism=%.0f score=%.3f\n",
		e.Total.ComputeTime*1e6, e.Total.MemoryCost, e.Total.Parallelism, e.Total.Score())
	return err
}
