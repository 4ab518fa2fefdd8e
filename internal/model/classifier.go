// Package model defines the image classifier trained by the benchmark.
package model

import (
	"errors"
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// ErrInvalidArchitecture is returned for non-positive layer sizes.
var ErrInvalidArchitecture = errors.New("model: invalid architecture")

// DefaultHidden is the hidden layer layout used when none is configured.
var DefaultHidden = []int{128}

// Classifier is a fully-connected image classifier.
//
// Architecture:
//   - Input: [batch, C, H, W], flattened to [batch, C*H*W]
//   - Hidden: Linear + ReLU per configured hidden size
//   - Output: Linear producing logits for each class
//
// Forward returns raw logits; the loss applies softmax.
type Classifier[B tensor.Backend] struct {
	dense []*nn.Linear[B]
	relu  *nn.ReLU[B]
}

// New creates a classifier mapping inFeatures to classes logits.
func New[B tensor.Backend](inFeatures int, hidden []int, classes int, backend B) (*Classifier[B], error) {
	if inFeatures < 1 || classes < 1 {
		return nil, fmt.Errorf("%w: in=%d classes=%d", ErrInvalidArchitecture, inFeatures, classes)
	}

	sizes := append(append([]int{inFeatures}, hidden...), classes)
	m := &Classifier[B]{relu: nn.NewReLU[B]()}
	for i := 0; i+1 < len(sizes); i++ {
		if sizes[i+1] < 1 {
			return nil, fmt.Errorf("%w: layer %d has %d units", ErrInvalidArchitecture, i, sizes[i+1])
		}
		m.dense = append(m.dense, nn.NewLinear[B](sizes[i], sizes[i+1], backend))
	}
	return m, nil
}

// Forward computes logits with shape [batch, classes].
// Inputs of rank other than 2 are flattened after the batch dimension.
func (m *Classifier[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	switch len(shape) {
	case 2:
	case 1:
		input = input.Reshape(1, shape[0])
	default:
		input = input.Reshape(shape[0], shape.NumElements()/shape[0])
	}

	x := input
	for i, layer := range m.dense {
		x = layer.Forward(x)
		if i < len(m.dense)-1 {
			x = m.relu.Forward(x)
		}
	}
	return x
}

// Parameters returns all trainable parameters in layer order.
func (m *Classifier[B]) Parameters() []*nn.Parameter[B] {
	params := make([]*nn.Parameter[B], 0, 2*len(m.dense))
	for _, layer := range m.dense {
		params = append(params, layer.Parameters()...)
	}
	return params
}

// StateDict returns parameters keyed "dense{i}.weight" and "dense{i}.bias".
func (m *Classifier[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor, 2*len(m.dense))
	for i, layer := range m.dense {
		for name, raw := range layer.StateDict() {
			state[layerKey(i, name)] = raw
		}
	}
	return state
}

// LoadStateDict copies parameters produced by StateDict into the model.
func (m *Classifier[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	for i, layer := range m.dense {
		sub := make(map[string]*tensor.RawTensor, 2)
		for _, name := range []string{"weight", "bias"} {
			if raw, ok := state[layerKey(i, name)]; ok {
				sub[name] = raw
			}
		}
		if err := layer.LoadStateDict(sub); err != nil {
			return fmt.Errorf("dense%d: %w", i, err)
		}
	}
	return nil
}

func layerKey(i int, name string) string {
	return fmt.Sprintf("dense%d.%s", i, name)
}

// Dense is a snapshot of one fully-connected layer.
type Dense struct {
	Name   string
	In     int
	Out    int
	Weight []float32 // [Out, In], row major
	Bias   []float32 // [Out]
}

// Layers copies the weights of every dense layer in forward order.
func (m *Classifier[B]) Layers() []Dense {
	layers := make([]Dense, len(m.dense))
	for i, l := range m.dense {
		d := Dense{
			Name:   fmt.Sprintf("dense%d", i),
			In:     l.InFeatures(),
			Out:    l.OutFeatures(),
			Weight: append([]float32(nil), l.Weight().Tensor().Data()...),
		}
		if b := l.Bias(); b != nil {
			d.Bias = append([]float32(nil), b.Tensor().Data()...)
		}
		layers[i] = d
	}
	return layers
}

// InFeatures returns the flattened input size.
func (m *Classifier[B]) InFeatures() int {
	return m.dense[0].InFeatures()
}

// Classes returns the number of output logits.
func (m *Classifier[B]) Classes() int {
	return m.dense[len(m.dense)-1].OutFeatures()
}

// NumParameters counts trainable scalars.
func (m *Classifier[B]) NumParameters() int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Tensor().Shape().NumElements()
	}
	return n
}
