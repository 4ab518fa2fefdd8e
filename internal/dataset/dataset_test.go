package dataset

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/born/backend/cpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idxImages(t *testing.T, n, rows, cols int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []uint32{idxImagesMagic, uint32(n), uint32(rows), uint32(cols)}))
	for i := range n {
		for range rows * cols {
			buf.WriteByte(byte(i * 51))
		}
	}
	return buf.Bytes()
}

func idxLabels(t *testing.T, labels ...byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []uint32{idxLabelsMagic, uint32(len(labels))}))
	buf.Write(labels)
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
}

func TestLoadMNIST(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "train-images-idx3-ubyte", idxImages(t, 3, 2, 2))
	writeFile(t, dir, "train-labels-idx1-ubyte", idxLabels(t, 7, 1, 4))

	ds, err := LoadMNIST(dir, Train, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, ImageShape{C: 1, H: 2, W: 2}, ds.Shape)
	assert.Equal(t, 10, ds.Classes)
	assert.Equal(t, []int32{7, 1, 4}, ds.Labels)
	assert.InDelta(t, 0.2, ds.Images[1][0], 1e-6)
	assert.InDelta(t, 0.4, ds.Images[2][3], 1e-6)
}

func TestLoadMNISTGzipAndLimit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "t10k-images-idx3-ubyte.gz", gzipBytes(t, idxImages(t, 4, 28, 28)))
	writeFile(t, dir, "t10k-labels-idx1-ubyte.gz", gzipBytes(t, idxLabels(t, 0, 1, 2, 3)))

	ds, err := LoadMNIST(dir, Test, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, MNISTShape, ds.Shape)
	assert.Len(t, ds.Images[0], 784)
}

func TestLoadMNISTErrors(t *testing.T) {
	t.Run("missing files", func(t *testing.T) {
		_, err := LoadMNIST(t.TempDir(), Train, 0)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("bad magic", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "train-images-idx3-ubyte", idxLabels(t, 1, 2, 3, 4, 5, 6, 7, 8))
		writeFile(t, dir, "train-labels-idx1-ubyte", idxLabels(t, 1, 2))

		_, err := LoadMNIST(dir, Train, 0)
		assert.ErrorIs(t, err, ErrInvalidMagic)
	})

	t.Run("count mismatch", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "train-images-idx3-ubyte", idxImages(t, 2, 2, 2))
		writeFile(t, dir, "train-labels-idx1-ubyte", idxLabels(t, 1, 2, 3))

		_, err := LoadMNIST(dir, Train, 0)
		assert.ErrorIs(t, err, ErrCountMismatch)
	})
}

func idxHeader(t *testing.T, words ...uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, words))
	return buf.Bytes()
}

func TestLoadMNISTCorruptHeaders(t *testing.T) {
	tests := []struct {
		name    string
		images  []byte
		labels  []byte
		max     int
		wantErr error
	}{
		{
			name:    "huge image count",
			images:  append(idxHeader(t, idxImagesMagic, 0xFFFFFFFF, 28, 28), 1, 2, 3),
			labels:  idxLabels(t, 1, 2),
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:    "huge image dimensions",
			images:  idxHeader(t, idxImagesMagic, 1, 0xFFFFFFFF, 0xFFFFFFFF),
			labels:  idxLabels(t, 1),
			wantErr: ErrInvalidHeader,
		},
		{
			name:    "zero image dimensions",
			images:  idxHeader(t, idxImagesMagic, 1, 0, 28),
			labels:  idxLabels(t, 1),
			wantErr: ErrInvalidHeader,
		},
		{
			name:    "huge label count",
			images:  idxImages(t, 1, 2, 2),
			labels:  append(idxHeader(t, idxLabelsMagic, 0xFFFFFFFF), 1, 2, 3),
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:    "count mismatch hidden by cap",
			images:  idxImages(t, 4, 2, 2),
			labels:  idxLabels(t, 1, 2, 3),
			max:     2,
			wantErr: ErrCountMismatch,
		},
		{
			name:    "label out of range",
			images:  idxImages(t, 2, 2, 2),
			labels:  idxLabels(t, 3, 10),
			wantErr: ErrLabelRange,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "train-images-idx3-ubyte", tt.images)
			writeFile(t, dir, "train-labels-idx1-ubyte", tt.labels)

			_, err := LoadMNIST(dir, Train, tt.max)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadCIFAR10LabelRange(t *testing.T) {
	dir := t.TempDir()
	record := append([]byte{10}, make([]byte, CIFAR10Shape.Features())...)
	writeFile(t, dir, "test_batch.bin", record)

	_, err := LoadCIFAR10(dir, Test, 0)
	assert.ErrorIs(t, err, ErrLabelRange)
}

func TestVerifyChecksums(t *testing.T) {
	dir := t.TempDir()
	data := idxLabels(t, 1, 2, 3)
	writeFile(t, dir, "train-labels-idx1-ubyte", data)

	// No SHA256SUMS: nothing to verify.
	require.NoError(t, VerifyChecksums(dir))

	sum := sha256.Sum256(data)
	writeFile(t, dir, ChecksumFile, []byte(fmt.Sprintf("# mnist\n%s *train-labels-idx1-ubyte\n", hex.EncodeToString(sum[:]))))
	require.NoError(t, VerifyChecksums(dir))

	writeFile(t, dir, "train-labels-idx1-ubyte", idxLabels(t, 1, 2, 4))
	assert.ErrorIs(t, VerifyChecksums(dir), ErrChecksumMismatch)
}

func TestLoadCIFAR10(t *testing.T) {
	dir := filepath.Join(t.TempDir(), cifarBatchDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var buf bytes.Buffer
	for label := range 3 {
		buf.WriteByte(byte(label))
		buf.Write(bytes.Repeat([]byte{255}, CIFAR10Shape.Features()))
	}
	writeFile(t, dir, "test_batch.bin", buf.Bytes())

	ds, err := LoadCIFAR10(filepath.Dir(dir), Test, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, CIFAR10Shape, ds.Shape)
	assert.Equal(t, []int32{0, 1, 2}, ds.Labels)
	assert.Equal(t, float32(1), ds.Images[2][3071])

	limited, err := LoadCIFAR10(dir, Test, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, limited.Len())
}

func TestLoadCIFAR10Truncated(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "test_batch.bin", []byte{1, 2, 3})

	_, err := LoadCIFAR10(dir, Test, 0)
	assert.Error(t, err)
}

func TestSyntheticDeterministic(t *testing.T) {
	shape := ImageShape{C: 1, H: 4, W: 5}
	a := Synthetic(30, 10, shape, 42)
	b := Synthetic(30, 10, shape, 42)
	c := Synthetic(30, 10, shape, 43)

	assert.Equal(t, a.Images, b.Images)
	assert.NotEqual(t, a.Images, c.Images)
	assert.Equal(t, int32(3), a.Labels[13])

	// Label k is bright in band k (two pixels per class here).
	img := a.Images[3]
	assert.Greater(t, img[6], float32(0.75))
	assert.Less(t, img[0], float32(0.15))
}

func TestNormalize(t *testing.T) {
	ds := &Dataset{
		Images: [][]float32{{0, 1, 0.5, 1}},
		Labels: []int32{0},
		Shape:  ImageShape{C: 2, H: 1, W: 2},
	}

	require.NoError(t, ds.Normalize([]float32{0.5, 0}, []float32{0.5, 0.5}))
	assert.InDeltaSlice(t, []float32{-1, 1, 1, 2}, ds.Images[0], 1e-6)

	assert.Error(t, ds.Normalize([]float32{0.5}, nil))
	assert.Error(t, ds.Normalize(nil, []float32{1, 0}))
}

func TestNormalizeDefaults(t *testing.T) {
	ds := Synthetic(1, 1, ImageShape{C: 1, H: 1, W: 1}, 1)
	ds.Images[0][0] = 1

	require.NoError(t, ds.Normalize(nil, nil))
	assert.InDelta(t, 1.0, ds.Images[0][0], 1e-6)
}

func TestSplitAndTake(t *testing.T) {
	ds := Synthetic(10, 2, ImageShape{C: 1, H: 2, W: 2}, 1)

	train, val := ds.Split(0.2)
	assert.Equal(t, 8, train.Len())
	assert.Equal(t, 2, val.Len())
	assert.Equal(t, ds.Shape, val.Shape)
	assert.Equal(t, ds.Labels[8:], val.Labels)

	assert.Equal(t, 3, ds.Take(3).Len())
	assert.Same(t, ds, ds.Take(0))
	assert.Same(t, ds, ds.Take(100))
}

func TestBatches(t *testing.T) {
	backend := cpu.New()
	ds := Synthetic(10, 5, ImageShape{C: 1, H: 2, W: 3}, 7)

	batches, err := Batches(ds, 4, nil, backend)
	require.NoError(t, err)
	require.Len(t, batches, 3)

	assert.Equal(t, []int{4, 1, 2, 3}, []int(batches[0].Images.Shape()))
	assert.Equal(t, 2, batches[2].Size)
	assert.Equal(t, ds.Images[4], batches[1].Images.Data()[:6])
	assert.Equal(t, []int32{4, 0, 1, 2}, batches[1].Labels.Data())
}

func TestBatchesShuffle(t *testing.T) {
	backend := cpu.New()
	ds := Synthetic(50, 5, ImageShape{C: 1, H: 1, W: 5}, 7)

	batches, err := Batches(ds, 50, rand.New(rand.NewPCG(1, 2)), backend)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	labels := batches[0].Labels.Data()
	assert.NotEqual(t, ds.Labels, labels)
	assert.ElementsMatch(t, ds.Labels, labels)
}

func TestBatchesErrors(t *testing.T) {
	backend := cpu.New()

	_, err := Batches(&Dataset{}, 4, nil, backend)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Batches(Synthetic(2, 2, ImageShape{C: 1, H: 1, W: 1}, 1), 0, nil, backend)
	assert.Error(t, err)
}
