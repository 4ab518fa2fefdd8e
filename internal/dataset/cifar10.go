package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// cifarBatchDir is the directory name inside the official archive.
const cifarBatchDir = "cifar-10-batches-bin"

// LoadCIFAR10 loads CIFAR-10 from the binary batches in dir (or in
// dir/cifar-10-batches-bin). Each record is one label byte followed by
// 3072 pixel bytes in CHW order.
//
// The train subset reads data_batch_1.bin .. data_batch_5.bin, the test
// subset reads test_batch.bin. maxSamples <= 0 loads everything.
func LoadCIFAR10(dir string, subset Subset, maxSamples int) (*Dataset, error) {
	if _, err := os.Stat(filepath.Join(dir, cifarBatchDir)); err == nil {
		dir = filepath.Join(dir, cifarBatchDir)
	}

	files := []string{"test_batch.bin"}
	if subset != Test {
		files = []string{
			"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin",
			"data_batch_4.bin", "data_batch_5.bin",
		}
	}

	ds := &Dataset{Shape: CIFAR10Shape, Classes: 10}
	for _, name := range files {
		if maxSamples > 0 && ds.Len() >= maxSamples {
			break
		}
		if err := readCIFARBatch(filepath.Join(dir, name), ds, maxSamples); err != nil {
			return nil, err
		}
	}
	if ds.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, dir)
	}
	return ds, nil
}

func readCIFARBatch(path string, ds *Dataset, maxSamples int) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("cifar10: %w", err)
		}
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	record := make([]byte, 1+CIFAR10Shape.Features())
	for maxSamples <= 0 || ds.Len() < maxSamples {
		_, err := io.ReadFull(r, record)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: record %d: %w", filepath.Base(path), ds.Len(), err)
		}
		if record[0] > 9 {
			return fmt.Errorf("%s: %w: label %d", filepath.Base(path), ErrLabelRange, record[0])
		}
		ds.Labels = append(ds.Labels, int32(record[0]))
		ds.Images = append(ds.Images, scalePixels(record[1:]))
	}
	return nil
}
