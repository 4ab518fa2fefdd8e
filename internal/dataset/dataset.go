// Package dataset loads image classification datasets and turns them into
// Born tensor batches.
//
// Loaders return pixels scaled to [0, 1]. Normalize then applies the usual
// per-channel (x-mean)/std transform.
package dataset

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/born/tensor"
)

// Dataset loading errors.
var (
	ErrInvalidMagic     = errors.New("dataset: invalid magic number")
	ErrCountMismatch    = errors.New("dataset: image and label counts differ")
	ErrInvalidHeader    = errors.New("dataset: implausible header dimensions")
	ErrLabelRange       = errors.New("dataset: label out of range")
	ErrChecksumMismatch = errors.New("dataset: checksum mismatch")
	ErrEmpty            = errors.New("dataset: no samples")
)

// Subset selects the training or test portion of a dataset.
type Subset string

// Dataset subsets.
const (
	Train Subset = "train"
	Test  Subset = "test"
)

// ImageShape is the channel-first shape of one image.
type ImageShape struct {
	C, H, W int
}

// Features returns the flattened size C*H*W.
func (s ImageShape) Features() int {
	return s.C * s.H * s.W
}

// Dims returns the shape as a slice, prefixed with n.
func (s ImageShape) Dims(n int) []int {
	return []int{n, s.C, s.H, s.W}
}

// Standard image shapes.
var (
	MNISTShape   = ImageShape{C: 1, H: 28, W: 28}
	CIFAR10Shape = ImageShape{C: 3, H: 32, W: 32}
)

// Dataset holds flattened CHW images and their labels.
type Dataset struct {
	Images  [][]float32 // [n][C*H*W]
	Labels  []int32     // [n]
	Shape   ImageShape
	Classes int
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Images)
}

// Normalize applies (x-mean[c])/std[c] per channel in place.
// Empty mean and std default to 0.5 for every channel.
func (d *Dataset) Normalize(mean, std []float32) error {
	mean = channelDefaults(mean, d.Shape.C)
	std = channelDefaults(std, d.Shape.C)
	if len(mean) != d.Shape.C || len(std) != d.Shape.C {
		return fmt.Errorf("dataset: normalize wants %d channels, got mean=%d std=%d",
			d.Shape.C, len(mean), len(std))
	}
	for c, s := range std {
		if s == 0 {
			return fmt.Errorf("dataset: std[%d] is zero", c)
		}
	}

	plane := d.Shape.H * d.Shape.W
	for _, img := range d.Images {
		for i := range img {
			c := i / plane
			img[i] = (img[i] - mean[c]) / std[c]
		}
	}
	return nil
}

func channelDefaults(v []float32, channels int) []float32 {
	if len(v) > 0 {
		return v
	}
	out := make([]float32, channels)
	for i := range out {
		out[i] = 0.5
	}
	return out
}

// Split divides the dataset into training and validation parts.
// validationRatio is the fraction kept for validation, taken from the end.
func (d *Dataset) Split(validationRatio float32) (*Dataset, *Dataset) {
	splitIdx := int(float32(d.Len()) * (1.0 - validationRatio))
	splitIdx = max(0, min(splitIdx, d.Len()))

	return d.slice(0, splitIdx), d.slice(splitIdx, d.Len())
}

// Take returns the first n samples, or the whole dataset if n <= 0 or larger.
func (d *Dataset) Take(n int) *Dataset {
	if n <= 0 || n >= d.Len() {
		return d
	}
	return d.slice(0, n)
}

func (d *Dataset) slice(from, to int) *Dataset {
	return &Dataset{
		Images:  d.Images[from:to],
		Labels:  d.Labels[from:to],
		Shape:   d.Shape,
		Classes: d.Classes,
	}
}

// Batch is one mini-batch of images and labels.
type Batch[B tensor.Backend] struct {
	Images *tensor.Tensor[float32, B] // [n, C, H, W]
	Labels *tensor.Tensor[int32, B]   // [n]
	Size   int
}

// Batches splits the dataset into mini-batches on backend. The order is
// shuffled when rng is non-nil. The last batch may be smaller.
func Batches[B tensor.Backend](d *Dataset, batchSize int, rng *rand.Rand, backend B) ([]*Batch[B], error) {
	n := d.Len()
	if n == 0 {
		return nil, ErrEmpty
	}
	if n != len(d.Labels) {
		return nil, fmt.Errorf("%w: %d images, %d labels", ErrCountMismatch, n, len(d.Labels))
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("dataset: invalid batch size %d", batchSize)
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if rng != nil {
		rng.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	features := d.Shape.Features()
	batches := make([]*Batch[B], 0, (n+batchSize-1)/batchSize)

	for start := 0; start < n; start += batchSize {
		end := min(start+batchSize, n)
		size := end - start

		imagesRaw, err := tensor.NewRaw(d.Shape.Dims(size), tensor.Float32, backend.Device())
		if err != nil {
			return nil, fmt.Errorf("failed to create images tensor: %w", err)
		}
		labelsRaw, err := tensor.NewRaw(tensor.Shape{size}, tensor.Int32, backend.Device())
		if err != nil {
			return nil, fmt.Errorf("failed to create labels tensor: %w", err)
		}

		imagesData := imagesRaw.AsFloat32()
		labelsData := labelsRaw.AsInt32()
		for j := start; j < end; j++ {
			idx := indices[j]
			copy(imagesData[(j-start)*features:(j-start+1)*features], d.Images[idx])
			labelsData[j-start] = d.Labels[idx]
		}

		batches = append(batches, &Batch[B]{
			Images: tensor.New[float32, B](imagesRaw, backend),
			Labels: tensor.New[int32, B](labelsRaw, backend),
			Size:   size,
		})
	}

	return batches, nil
}
