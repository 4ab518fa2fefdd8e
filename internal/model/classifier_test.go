package model

import (
	"testing"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ nn.Module[*cpu.Backend] = (*Classifier[*cpu.Backend])(nil)

func TestNewClassifier(t *testing.T) {
	backend := cpu.New()

	m, err := New(784, DefaultHidden, 10, backend)
	require.NoError(t, err)

	assert.Equal(t, 784, m.InFeatures())
	assert.Equal(t, 10, m.Classes())
	assert.Equal(t, 784*128+128+128*10+10, m.NumParameters())
	assert.Len(t, m.Parameters(), 4)
}

func TestNewClassifierInvalid(t *testing.T) {
	backend := cpu.New()

	tests := []struct {
		name    string
		in      int
		hidden  []int
		classes int
	}{
		{"zero input", 0, nil, 10},
		{"zero classes", 4, nil, 0},
		{"zero hidden", 4, []int{8, 0}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.in, tt.hidden, tt.classes, backend)
			assert.ErrorIs(t, err, ErrInvalidArchitecture)
		})
	}
}

func TestForwardFlattensImages(t *testing.T) {
	backend := cpu.New()
	m, err := New(12, []int{8, 6}, 3, backend)
	require.NoError(t, err)

	x, err := tensor.FromSlice(make([]float32, 2*3*2*2), tensor.Shape{2, 3, 2, 2}, backend)
	require.NoError(t, err)

	logits := m.Forward(x)
	assert.Equal(t, []int{2, 3}, []int(logits.Shape()))

	single, err := tensor.FromSlice(make([]float32, 12), tensor.Shape{12}, backend)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, []int(m.Forward(single).Shape()))
}

func TestStateDictRoundTrip(t *testing.T) {
	backend := cpu.New()
	a, err := New(4, []int{5}, 2, backend)
	require.NoError(t, err)
	b, err := New(4, []int{5}, 2, backend)
	require.NoError(t, err)

	state := a.StateDict()
	assert.Len(t, state, 4)
	assert.Contains(t, state, "dense0.weight")
	assert.Contains(t, state, "dense1.bias")

	require.NoError(t, b.LoadStateDict(state))

	x, err := tensor.FromSlice([]float32{0.1, -0.2, 0.3, 0.4}, tensor.Shape{1, 4}, backend)
	require.NoError(t, err)
	assert.InDeltaSlice(t, a.Forward(x).Data(), b.Forward(x).Data(), 1e-6)
}

func TestLoadStateDictMissing(t *testing.T) {
	backend := cpu.New()
	m, err := New(4, nil, 2, backend)
	require.NoError(t, err)

	err = m.LoadStateDict(map[string]*tensor.RawTensor{})
	assert.ErrorContains(t, err, "dense0")
}

func TestLayersAreCopies(t *testing.T) {
	backend := cpu.New()
	m, err := New(3, []int{2}, 2, backend)
	require.NoError(t, err)

	layers := m.Layers()
	require.Len(t, layers, 2)
	assert.Equal(t, "dense0", layers[0].Name)
	assert.Equal(t, 3, layers[0].In)
	assert.Equal(t, 2, layers[0].Out)
	assert.Len(t, layers[0].Weight, 6)
	assert.Len(t, layers[1].Bias, 2)

	layers[0].Weight[0] = 1000
	assert.NotEqual(t, float32(1000), m.Layers()[0].Weight[0])
}
