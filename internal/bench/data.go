package bench

import (
	"fmt"

	"github.com/born-ml/onnxbench/internal/config"
	"github.com/born-ml/onnxbench/internal/dataset"
)

// Synthetic datasets fall back to these sizes when no limit is configured.
const (
	syntheticTrain   = 2000
	syntheticTest    = 500
	syntheticClasses = 10
)

// LoadDatasets loads and normalizes the train and test subsets described by c.
func LoadDatasets(c config.Dataset) (trainSet, testSet *dataset.Dataset, err error) {
	switch c.Name {
	case config.DatasetSynthetic:
		trainSet = dataset.Synthetic(orDefault(c.MaxTrain, syntheticTrain), syntheticClasses, dataset.MNISTShape, c.Seed)
		testSet = dataset.Synthetic(orDefault(c.MaxTest, syntheticTest), syntheticClasses, dataset.MNISTShape, c.Seed+1)

	case config.DatasetMNIST, config.DatasetCIFAR10:
		if c.VerifyChecksums {
			if err := dataset.VerifyChecksums(c.Dir); err != nil {
				return nil, nil, err
			}
		}
		load := dataset.LoadMNIST
		if c.Name == config.DatasetCIFAR10 {
			load = dataset.LoadCIFAR10
		}
		if trainSet, err = load(c.Dir, dataset.Train, c.MaxTrain); err != nil {
			return nil, nil, fmt.Errorf("train set: %w", err)
		}
		if testSet, err = load(c.Dir, dataset.Test, c.MaxTest); err != nil {
			return nil, nil, fmt.Errorf("test set: %w", err)
		}

	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownDataset, c.Name)
	}

	for _, ds := range []*dataset.Dataset{trainSet, testSet} {
		if err := ds.Normalize(c.Mean, c.Std); err != nil {
			return nil, nil, err
		}
	}
	return trainSet, testSet, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
