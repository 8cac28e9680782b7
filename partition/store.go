package partition

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

const (
	trainSuffix      = "_train"
	validationSuffix = "_validation"
	testSuffix       = "_test"
)

// Save persists the set under the given path. K-fold sets land in a single
// file at the verbatim path holding the fold list; the other kinds write one
// index file per partition with _train, _validation and _test appended to the
// path. Existing files are overwritten.
func (s *Set) Save(path string) error {
	switch s.Kind {
	case KFold:
		return writeIndexFile(path, s.Folds)
	case TrainValTest:
		if err := writeIndexFile(path+trainSuffix, s.Split.Train); err != nil {
			return err
		}
		if err := writeIndexFile(path+validationSuffix, s.Split.Validation); err != nil {
			return err
		}
		return writeIndexFile(path+testSuffix, s.Split.Test)
	case TrainTest, TrainTestByClass:
		if err := writeIndexFile(path+trainSuffix, s.Split.Train); err != nil {
			return err
		}
		return writeIndexFile(path+testSuffix, s.Split.Test)
	default:
		return errors.Errorf("unrecognized split kind %d", s.Kind)
	}
}

// Load reads a set persisted by Save. Missing or corrupt files surface as
// errors; loading never regenerates partitions.
func Load(path string, kind Kind) (*Set, error) {
	set := &Set{Kind: kind}
	switch kind {
	case KFold:
		if err := readIndexFile(path, &set.Folds); err != nil {
			return nil, err
		}
	case TrainValTest:
		if err := readIndexFile(path+trainSuffix, &set.Split.Train); err != nil {
			return nil, err
		}
		if err := readIndexFile(path+validationSuffix, &set.Split.Validation); err != nil {
			return nil, err
		}
		if err := readIndexFile(path+testSuffix, &set.Split.Test); err != nil {
			return nil, err
		}
	case TrainTest, TrainTestByClass:
		if err := readIndexFile(path+trainSuffix, &set.Split.Train); err != nil {
			return nil, err
		}
		if err := readIndexFile(path+testSuffix, &set.Split.Test); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unrecognized split kind %d", kind)
	}
	return set, nil
}

func writeIndexFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return errors.Wrapf(err, "marshal partition file %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write partition file %s", path)
	}
	return nil
}

func readIndexFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read partition file %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "corrupt partition file %s", path)
	}
	return nil
}
