package cmd

import (
	"encoding/json"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/urbansense/sview-trainer/dataset"
)

// CentroidModel is a nearest-centroid ordinal classifier over view-averaged
// embeddings. Each class accumulates the sum of its training samples, so
// updates are incremental and the centroid is the running mean. The zero
// counts of classes never seen in training keep them out of prediction.
type CentroidModel struct {
	Classes []int       `json:"classes"`
	Dim     int         `json:"dim"`
	Counts  []int64     `json:"counts"`
	Sums    [][]float64 `json:"sums"`
}

func NewCentroidModel(classes []int, dim int) *CentroidModel {
	sums := make([][]float64, len(classes))
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	return &CentroidModel{
		Classes: append([]int(nil), classes...),
		Dim:     dim,
		Counts:  make([]int64, len(classes)),
		Sums:    sums,
	}
}

// Update folds one batch into the per-class centroid sums.
func (m *CentroidModel) Update(batch *dataset.Batch) error {
	for k := range batch.Indices {
		if len(batch.Labels[k]) != len(m.Classes) {
			return errors.Errorf("label row has %d classes, model holds %d",
				len(batch.Labels[k]), len(m.Classes))
		}
		col := argmaxRow(batch.Labels[k])
		mean := sampleMean(batch, k)
		if len(mean) != m.Dim {
			return errors.Errorf("sample width %d does not match model width %d", len(mean), m.Dim)
		}
		for j, x := range mean {
			m.Sums[col][j] += x
		}
		m.Counts[col]++
	}
	return nil
}

// Predict returns the class value of the nearest centroid for every sample
// in the batch. Classes without training samples never win; with a fully
// untrained model every sample falls back to the first class.
func (m *CentroidModel) Predict(batch *dataset.Batch) []int {
	out := make([]int, batch.Len())
	for k := range batch.Indices {
		mean := sampleMean(batch, k)
		best, bestDist := 0, math.Inf(1)
		for c := range m.Classes {
			if m.Counts[c] == 0 {
				continue
			}
			var dist float64
			for j := range mean {
				d := mean[j] - m.Sums[c][j]/float64(m.Counts[c])
				dist += d * d
			}
			if dist < bestDist {
				best, bestDist = c, dist
			}
		}
		out[k] = m.Classes[best]
	}
	return out
}

func (m *CentroidModel) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return errors.Wrap(err, "marshal model")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "write model file %s", path)
	}
	return nil
}

func LoadCentroidModel(path string) (*CentroidModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read model file %s", path)
	}
	var m CentroidModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "corrupt model file %s", path)
	}
	if len(m.Counts) != len(m.Classes) || len(m.Sums) != len(m.Classes) {
		return nil, errors.Errorf("corrupt model file %s: %d classes with %d counts and %d sums",
			path, len(m.Classes), len(m.Counts), len(m.Sums))
	}
	for _, row := range m.Sums {
		if len(row) != m.Dim {
			return nil, errors.Errorf("corrupt model file %s: centroid width %d, expected %d",
				path, len(row), m.Dim)
		}
	}
	return &m, nil
}

// sampleMean averages sample k's view embeddings into one vector.
func sampleMean(batch *dataset.Batch, k int) []float64 {
	mean := make([]float64, len(batch.Views[0][k]))
	for _, view := range batch.Views {
		for j, x := range view[k] {
			mean[j] += float64(x)
		}
	}
	for j := range mean {
		mean[j] /= float64(len(batch.Views))
	}
	return mean
}

func argmaxRow(row []float32) int {
	best := 0
	for col, v := range row {
		if v > row[best] {
			best = col
		}
	}
	return best
}

// classValue maps a one-hot (or softened) label row back to its class value.
func classValue(classes []int, row []float32) int {
	return classes[argmaxRow(row)]
}

func equalClasses(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
