// Package costmodel estimates static per-operator cost for an inference
// graph: an approximate compute time in seconds, the number of elements
// touched in memory, and the available parallelism.
//
// The numbers are heuristics meant for comparing graphs (for example a
// graph before and after fusing operators), not for predicting wall time.
package costmodel

import "math"

// Metrics is the static cost of one operator or a whole graph.
type Metrics struct {
	ComputeTime float64 // seconds
	MemoryCost  float64 // elements
	Parallelism float64 // independent work units
}

// Add returns the element-wise sum.
func (m Metrics) Add(o Metrics) Metrics {
	return Metrics{
		ComputeTime: m.ComputeTime + o.ComputeTime,
		MemoryCost:  m.MemoryCost + o.MemoryCost,
		Parallelism: m.Parallelism + o.Parallelism,
	}
}

// Score combines the metrics into one number; lower is better.
func (m Metrics) Score() float64 {
	return m.ComputeTime + 0.5*m.MemoryCost - 0.2*m.Parallelism
}

// ShouldFuse reports whether the fused graph scores better than the original.
func ShouldFuse(original, fused Metrics) bool {
	return fused.Score() < original.Score()
}

// MatMulParams describes a (batched) matrix product C[b,m,n] = A[b,m,k] x B[b,k,n].
type MatMulParams struct {
	Batch, M, N, K int64
	TransA, TransB bool
	Activation     bool  // fused activation
	BiasSize       int64 // elements of the bias input, 0 if none
}

// MatMul returns the cost of a matrix product, Gemm included.
func MatMul(p MatMulParams) Metrics {
	b, m, n, k := float64(p.Batch), float64(p.M), float64(p.N), float64(p.K)

	basic := 2.0 * b * m * n * k
	transposePenalty := 1.0
	if p.TransA || p.TransB {
		transposePenalty = 1.05
	}
	var act, bias float64
	if p.Activation {
		act = b * m * n * 0.1
	}
	if p.BiasSize > 0 {
		bias = b * m * n
	}
	compute := (basic*transposePenalty + act + bias) / 5e9

	cacheFactor := 0.2
	if p.TransA || p.TransB {
		cacheFactor *= 1.5
	}
	sizeA, sizeB, sizeC := b*m*k, b*k*n, b*m*n
	memory := (sizeA+sizeB)*cacheFactor + float64(p.BiasSize) + sizeC

	transposeFactor := 1.0
	switch {
	case p.TransA && p.TransB:
		transposeFactor = 0.9
	case p.TransA || p.TransB:
		transposeFactor = 0.95
	}
	parallel := math.Min(b*m*n*math.Min(math.Sqrt(k), 8.0)*transposeFactor, 4096)

	return Metrics{ComputeTime: compute, MemoryCost: memory, Parallelism: parallel}
}

// Unary returns the cost of an element-wise activation such as Relu or Exp.
func Unary(op string, size int64) Metrics {
	s := float64(size)

	cost := 1.0
	switch op {
	case "Neg", "Abs", "Sign", "Not":
		cost = 0.5
	case "Exp", "Log", "Sqrt", "Tanh", "Sin", "Cos", "Tan",
		"Asin", "Acos", "Atan", "Sinh", "Cosh", "Asinh", "Acosh", "Atanh":
		cost = 3.0
	}

	memFactor := 1.0
	switch op {
	case "Exp", "Log", "Tanh", "Erf":
		memFactor = 1.1
	}

	efficiency := 1.0
	switch op {
	case "Exp", "Log", "Sin", "Cos":
		efficiency = 0.8
	}

	return Metrics{
		ComputeTime: s * cost / 2e9,
		MemoryCost:  2 * s * memFactor,
		Parallelism: math.Min(s*efficiency, 1024),
	}
}

// Flatten returns the cost of Flatten. Flattening at axis 0 or 1 is a view.
func Flatten(axis int, size int64) Metrics {
	if axis > 1 {
		return rearrange(size)
	}
	return view()
}

// Reshape returns the cost of Reshape. It is a view unless the rank or any
// leading dimension changes.
func Reshape(in, out []int64) Metrics {
	if len(in) != len(out) {
		return rearrange(numElements(in))
	}
	for i := 0; i < len(in)-1; i++ {
		if in[i] != out[i] {
			return rearrange(numElements(in))
		}
	}
	return view()
}

func rearrange(size int64) Metrics {
	s := float64(size)
	return Metrics{
		ComputeTime: s / 8e9,
		MemoryCost:  2 * s,
		Parallelism: math.Min(s/128, 512),
	}
}

func view() Metrics {
	return Metrics{ComputeTime: 1e-6, MemoryCost: 0, Parallelism: 1}
}

// Identity returns the cost of a copy.
func Identity(size int64) Metrics {
	s := float64(size)
	return Metrics{
		ComputeTime: s / 10e9,
		MemoryCost:  2 * s,
		Parallelism: math.Min(s/64, 1024),
	}
}

// ElementWise returns the cost of a binary element-wise operator with
// broadcasting.
func ElementWise(op string, in0, in1, out int64) Metrics {
	factor := 1.0
	switch op {
	case "Mul":
		factor = 1.1
	case "Div", "Pow":
		factor = 1.3
	case "Equal", "Greater", "Less":
		factor = 0.8
	}
	o := float64(out)
	return Metrics{
		ComputeTime: o * factor / 1e9,
		MemoryCost:  o*1.1 + float64(min(in0, in1))*0.1,
		Parallelism: math.Min(o*0.95, 1024),
	}
}

// Softmax returns the cost of Softmax over axis of a tensor with dims.
func Softmax(dims []int64, axis int) Metrics {
	size := numElements(dims)
	axisSize := dims[axis]
	if axisSize <= 0 {
		return Metrics{}
	}
	batch := float64(size / axisSize)
	s, a := float64(size), float64(axisSize)

	last := len(dims) - 1
	cacheFactor, memFactor := 1.0, 1.0
	if axis < last {
		cacheFactor = 1.2 + 0.1*float64(last-axis)
		memFactor = 1.3 + 0.1*float64(last-axis)
	}

	ops := batch*a + 5*s + batch*a + s
	return Metrics{
		ComputeTime: ops * cacheFactor / 1e9,
		MemoryCost:  2*s*memFactor + 2*batch,
		Parallelism: math.Min(batch*math.Min(16, math.Log2(a)*4), 1024),
	}
}

func numElements(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}
