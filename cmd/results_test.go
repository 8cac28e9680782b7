package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/urbansense/sview-trainer/dataset"
	"github.com/urbansense/sview-trainer/partition"
)

// separableDataset builds an in-memory dataset whose two classes sit at the
// origin and at ten, so a trained centroid model predicts them perfectly.
func separableDataset(t *testing.T, n int) *dataset.Dataset {
	t.Helper()

	data := make([][][]float32, n)
	labels := make([]int, n)
	for i := range data {
		base := float32(0)
		if i >= n/2 {
			base = 10
			labels[i] = 1
		}
		data[i] = [][]float32{{base, base}, {base, base}}
	}

	src, err := dataset.NewMemorySource(data)
	require.NoError(t, err)
	table, err := dataset.NewTable(labels, nil, nil)
	require.NoError(t, err)
	ds, err := dataset.New(src, table, dataset.Options{Seed: 7})
	require.NoError(t, err)
	return ds
}

func TestEvaluatePassScoresPerfectModel(t *testing.T) {
	ds := separableDataset(t, 12)
	plan := partition.Plan{
		Kind:          partition.TrainTest,
		TrainFraction: 0.5,
		TrainKeep:     1,
		Seed:          7,
	}
	require.NoError(t, ds.Assign(plan, true, filepath.Join(t.TempDir(), "parts")))

	model := NewCentroidModel(ds.Classes(), ds.Dim())
	trained := 0
	for trained < ds.NumTrain() {
		batch, err := ds.TrainBatch(4)
		require.NoError(t, err)
		require.NoError(t, model.Update(batch))
		trained += batch.Len()
	}

	it, err := ds.TestIterator(4)
	require.NoError(t, err)
	result, err := evaluatePass(model, it, ds.Classes())
	require.NoError(t, err)

	require.Equal(t, ds.NumTest(), result.Samples)
	require.Equal(t, 0.0, result.MAE)
	require.Equal(t, 1.0, result.Accuracy)
	require.Len(t, result.Predictions, ds.NumTest())
	require.Equal(t, map[int]int{0: 3, 1: 3}, result.ClassCounts)
}

func TestEvaluatePassEmptyPartition(t *testing.T) {
	ds := separableDataset(t, 12)
	plan := partition.Plan{
		Kind:               partition.TrainValTest,
		TrainFraction:      0.5,
		ValidationFraction: 0.5,
		TrainKeep:          1,
		Seed:               7,
	}
	require.NoError(t, ds.Assign(plan, true, filepath.Join(t.TempDir(), "parts")))
	require.Equal(t, 0, ds.NumTest())

	model := NewCentroidModel(ds.Classes(), ds.Dim())
	it, err := ds.TestIterator(4)
	require.NoError(t, err)

	result, err := evaluatePass(model, it, ds.Classes())
	require.NoError(t, err)
	require.Equal(t, 0, result.Samples)
	require.Equal(t, 0.0, result.MAE)
	require.Equal(t, 0.0, result.Accuracy)
	require.Empty(t, result.Predictions)
}

func TestResultsWriteText(t *testing.T) {
	r := Results{
		Samples:     4,
		MAE:         0.5,
		Accuracy:    0.75,
		ClassCounts: map[int]int{1: 1, 0: 3},
	}

	var buf bytes.Buffer
	_, err := r.WriteTextTo(&buf)
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "Samples: 4")
	require.Contains(t, out, "MAE: 0.5")
	require.Contains(t, out, "class 0: 3\nclass 1: 1\n")
}

func TestResultsWriteJSON(t *testing.T) {
	r := Results{
		Samples:     4,
		MAE:         0.5,
		Accuracy:    0.75,
		ClassCounts: map[int]int{1: 4},
	}

	var buf bytes.Buffer
	_, err := r.WriteJSONTo(&buf)
	require.NoError(t, err)

	var decoded resultsJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, 4, decoded.Metadata.Samples)
	require.InDelta(t, 0.5, decoded.Metrics.MAE, 1e-9)
	require.InDelta(t, 0.75, decoded.Metrics.Accuracy, 1e-9)
	require.Equal(t, map[string]int{"1": 4}, decoded.Classes)
}
