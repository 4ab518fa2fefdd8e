package dataset

import "math/rand/v2"

// Synthetic generates a deterministic, linearly separable dataset.
//
// Each class owns a contiguous band of the flattened image that is bright
// (0.8) while the rest stays dark; a little uniform noise is added on top.
// Labels cycle through the classes, so every class is represented as long
// as n >= classes. The same seed always yields the same data.
func Synthetic(n, classes int, shape ImageShape, seed uint64) *Dataset {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	features := shape.Features()
	band := max(1, features/max(1, classes))

	ds := &Dataset{
		Images:  make([][]float32, n),
		Labels:  make([]int32, n),
		Shape:   shape,
		Classes: classes,
	}
	for i := range n {
		label := i % classes
		img := make([]float32, features)
		from, to := label*band, min((label+1)*band, features)
		for j := range img {
			v := rng.Float32() * 0.1
			if j >= from && j < to {
				v += 0.8
			}
			img[j] = v
		}
		ds.Images[i] = img
		ds.Labels[i] = int32(label)
	}
	return ds
}
