package dataset

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/urbansense/sview-trainer/partition"
)

// featureValue encodes row, view and position so tests can recognize which
// sample a fetched vector belongs to.
func featureValue(row, view, j int) float32 {
	return float32(row*100 + view*10 + j)
}

func testSource(t *testing.T, n, views, dim int) *MemorySource {
	t.Helper()
	data := make([][][]float32, n)
	for r := range data {
		data[r] = make([][]float32, views)
		for v := range data[r] {
			vec := make([]float32, dim)
			for j := range vec {
				vec[j] = featureValue(r, v, j)
			}
			data[r][v] = vec
		}
	}
	src, err := NewMemorySource(data)
	require.NoError(t, err)
	return src
}

func testDataset(t *testing.T, labels []int, opts Options) *Dataset {
	t.Helper()
	table, err := NewTable(labels, nil, nil)
	require.NoError(t, err)
	ds, err := New(testSource(t, len(labels), 2, 4), table, opts)
	require.NoError(t, err)
	return ds
}

func assignFresh(t *testing.T, ds *Dataset, plan partition.Plan) {
	t.Helper()
	require.NoError(t, ds.Assign(plan, true, filepath.Join(t.TempDir(), "parts")))
}

// repeated builds a label vector with count samples per class, classes in
// the given order.
func repeated(count int, classes ...int) []int {
	var out []int
	for _, class := range classes {
		for i := 0; i < count; i++ {
			out = append(out, class)
		}
	}
	return out
}

func classOf(ds *Dataset, oneHot []float32) int {
	maxCol := 0
	for col, v := range oneHot {
		if v > oneHot[maxCol] {
			maxCol = col
		}
	}
	return ds.Classes()[maxCol]
}

func TestNewLengthMismatch(t *testing.T) {
	table, err := NewTable([]int{0, 1, 0}, nil, nil)
	require.NoError(t, err)

	_, err = New(testSource(t, 2, 2, 4), table, Options{})
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestDataPartRequestOrder(t *testing.T) {
	ds := testDataset(t, []int{0, 0, 1, 1, 2, 2, 2, 0}, Options{})

	batch, err := ds.DataPart([]int{5, 2, 7})
	require.NoError(t, err)

	require.Equal(t, []int{5, 2, 7}, batch.Indices)
	require.Equal(t, 3, batch.Len())
	require.Len(t, batch.Views, 2)

	for v := 0; v < 2; v++ {
		for k, row := range []int{5, 2, 7} {
			for j := 0; j < 4; j++ {
				require.Equal(t, featureValue(row, v, j), batch.Views[v][k][j])
			}
		}
	}

	// classes are {0,1,2}, columns in that order
	require.Equal(t, []float32{0, 0, 1}, batch.Labels[0])
	require.Equal(t, []float32{0, 1, 0}, batch.Labels[1])
	require.Equal(t, []float32{1, 0, 0}, batch.Labels[2])
}

func TestDataPartOutOfRange(t *testing.T) {
	ds := testDataset(t, []int{0, 1}, Options{})

	_, err := ds.DataPart([]int{2})
	require.Error(t, err)
}

func TestDataPartNormalization(t *testing.T) {
	ds := testDataset(t, []int{0, 1}, Options{Normalize: &Normalization{Mean: -5.24, Std: 8.17}})

	batch, err := ds.DataPart([]int{1})
	require.NoError(t, err)

	for v := 0; v < 2; v++ {
		for j := 0; j < 4; j++ {
			want := (featureValue(1, v, j) + 5.24) / 8.17
			require.InDelta(t, want, batch.Views[v][0][j], 1e-5)
		}
	}
}

func TestDataPartSoftening(t *testing.T) {
	ds := testDataset(t, []int{0, 1, 2}, Options{Soften: 0.05})

	batch, err := ds.DataPart([]int{0, 1, 2})
	require.NoError(t, err)

	// edge class: the whole mass moves to the single neighbor
	require.InDelta(t, 0.95, batch.Labels[0][0], 1e-6)
	require.InDelta(t, 0.05, batch.Labels[0][1], 1e-6)
	require.InDelta(t, 0, batch.Labels[0][2], 1e-6)

	// middle class: half to each neighbor
	require.InDelta(t, 0.025, batch.Labels[1][0], 1e-6)
	require.InDelta(t, 0.95, batch.Labels[1][1], 1e-6)
	require.InDelta(t, 0.025, batch.Labels[1][2], 1e-6)

	require.InDelta(t, 0, batch.Labels[2][0], 1e-6)
	require.InDelta(t, 0.05, batch.Labels[2][1], 1e-6)
	require.InDelta(t, 0.95, batch.Labels[2][2], 1e-6)

	for _, row := range batch.Labels {
		var sum float32
		for _, v := range row {
			sum += v
		}
		require.InDelta(t, 1, sum, 1e-6)
	}
}

func TestBatchingBeforeAssignFails(t *testing.T) {
	ds := testDataset(t, repeated(4, 0, 1), Options{})

	_, err := ds.TrainBatch(2)
	require.ErrorIs(t, err, ErrNotPartitioned)
	_, err = ds.ValidationBatch(2)
	require.ErrorIs(t, err, ErrNotPartitioned)
	_, err = ds.TestBatch(2)
	require.ErrorIs(t, err, ErrNotPartitioned)
	_, err = ds.BalancedTrainBatch(2)
	require.ErrorIs(t, err, ErrNotPartitioned)
	_, err = ds.BalancedValidationBatch(2)
	require.ErrorIs(t, err, ErrNotPartitioned)
	_, err = ds.TestIterator(2)
	require.ErrorIs(t, err, ErrNotPartitioned)
	_, err = ds.ValidationIterator(2)
	require.ErrorIs(t, err, ErrNotPartitioned)
	err = ds.WriteTestPredictions(nil, filepath.Join(t.TempDir(), "preds.csv"))
	require.ErrorIs(t, err, ErrNotPartitioned)
}

func TestAssignTwiceFails(t *testing.T) {
	ds := testDataset(t, repeated(4, 0, 1), Options{Seed: 1})
	plan := partition.Plan{Kind: partition.TrainTest, TrainFraction: 0.5, Seed: 1}
	assignFresh(t, ds, plan)

	err := ds.Assign(plan, true, filepath.Join(t.TempDir(), "parts"))
	require.ErrorIs(t, err, ErrAlreadyPartitioned)
}

func TestAssignLoadFailureLeavesDatasetUsable(t *testing.T) {
	ds := testDataset(t, repeated(4, 0, 1), Options{Seed: 1})
	plan := partition.Plan{Kind: partition.TrainTest, TrainFraction: 0.5, Seed: 1}

	err := ds.Assign(plan, false, filepath.Join(t.TempDir(), "nowhere"))
	require.Error(t, err)

	// the failed load must not leave a partial assignment behind
	assignFresh(t, ds, plan)
	require.Equal(t, 4, ds.NumTrain())
}

func TestTrainBatchCursorWrap(t *testing.T) {
	ds := testDataset(t, repeated(10, 0, 1), Options{Seed: 2})
	assignFresh(t, ds, partition.Plan{Kind: partition.TrainTest, TrainFraction: 0.5, Seed: 2})
	require.Equal(t, 10, ds.NumTrain())

	var first []int
	seen := make(map[int]int)
	var swept []int
	for i := 0; i < 3; i++ {
		batch, err := ds.TrainBatch(4)
		require.NoError(t, err)
		if i == 0 {
			first = batch.Indices
			require.Len(t, batch.Indices, 4)
		}
		if i == 2 {
			require.Len(t, batch.Indices, 2, "final batch of the epoch is short")
		}
		for _, idx := range batch.Indices {
			seen[idx]++
		}
		swept = append(swept, batch.Indices...)
	}

	require.Len(t, swept, 10)
	for idx, count := range seen {
		require.Equalf(t, 1, count, "index %d repeated within one epoch", idx)
	}

	// the cursor wrapped, so the next batch restarts the epoch
	batch, err := ds.TrainBatch(4)
	require.NoError(t, err)
	require.Equal(t, first, batch.Indices)
}

func TestBatchCursorsAreIndependent(t *testing.T) {
	ds := testDataset(t, repeated(10, 0, 1), Options{Seed: 3})
	assignFresh(t, ds, partition.Plan{Kind: partition.TrainTest, TrainFraction: 0.5, Seed: 3})

	train1, err := ds.TrainBatch(4)
	require.NoError(t, err)
	test1, err := ds.TestBatch(4)
	require.NoError(t, err)
	train2, err := ds.TrainBatch(4)
	require.NoError(t, err)

	require.NotEqual(t, train1.Indices, train2.Indices)
	for _, idx := range test1.Indices {
		require.NotContains(t, train1.Indices, idx)
		require.NotContains(t, train2.Indices, idx)
	}
}

func TestBatchSizeMustBePositive(t *testing.T) {
	ds := testDataset(t, repeated(4, 0, 1), Options{})
	assignFresh(t, ds, partition.Plan{Kind: partition.TrainTest, TrainFraction: 0.5, Seed: 1})

	_, err := ds.TrainBatch(0)
	require.Error(t, err)
	_, err = ds.BalancedTrainBatch(-1)
	require.Error(t, err)
	_, err = ds.TestIterator(0)
	require.Error(t, err)
}

func TestBalancedTrainBatch(t *testing.T) {
	ds := testDataset(t, repeated(12, 0, 1, 2), Options{Seed: 4})
	assignFresh(t, ds, partition.Plan{Kind: partition.TrainTest, TrainFraction: 0.5, Seed: 4})

	batch, err := ds.BalancedTrainBatch(9)
	require.NoError(t, err)
	require.Equal(t, 9, batch.Len())

	counts := make(map[int]int)
	for _, row := range batch.Labels {
		counts[classOf(ds, row)]++
	}
	require.Equal(t, map[int]int{0: 3, 1: 3, 2: 3}, counts)
}

func TestBalancedBatchClampsSmallClasses(t *testing.T) {
	// class 1 has only 2 training candidates after the 0.5 split
	labels := append(repeated(12, 0), repeated(4, 1)...)
	ds := testDataset(t, labels, Options{Seed: 5})
	assignFresh(t, ds, partition.Plan{Kind: partition.TrainTest, TrainFraction: 0.5, Seed: 5})

	batch, err := ds.BalancedTrainBatch(8)
	require.NoError(t, err)

	counts := make(map[int]int)
	for _, row := range batch.Labels {
		counts[classOf(ds, row)]++
	}
	require.Equal(t, 4, counts[0])
	require.Equal(t, 2, counts[1])
}

func TestBalancedBatchDeterminism(t *testing.T) {
	labels := repeated(12, 0, 1, 2)
	plan := partition.Plan{Kind: partition.TrainTest, TrainFraction: 0.5, Seed: 6}

	ds1 := testDataset(t, labels, Options{Seed: 6})
	assignFresh(t, ds1, plan)
	ds2 := testDataset(t, labels, Options{Seed: 6})
	assignFresh(t, ds2, plan)

	b1, err := ds1.BalancedTrainBatch(9)
	require.NoError(t, err)
	b2, err := ds2.BalancedTrainBatch(9)
	require.NoError(t, err)
	require.Equal(t, b1.Indices, b2.Indices)

	// repeated draws advance the generator and select a different subset
	b3, err := ds1.BalancedTrainBatch(9)
	require.NoError(t, err)
	require.NotEqual(t, b1.Indices, b3.Indices)
}

func TestValidationRoutesToTrainForTwoWaySplits(t *testing.T) {
	ds := testDataset(t, repeated(10, 0, 1), Options{Seed: 7})
	assignFresh(t, ds, partition.Plan{Kind: partition.TrainTest, TrainFraction: 0.5, Seed: 7})

	require.False(t, ds.HasValidation())
	require.Equal(t, ds.NumTrain(), ds.NumValidation())

	// the routed validation batch shares the train cursor
	train1, err := ds.TrainBatch(3)
	require.NoError(t, err)
	valid, err := ds.ValidationBatch(3)
	require.NoError(t, err)
	for _, idx := range valid.Indices {
		require.NotContains(t, train1.Indices, idx)
	}

	it, err := ds.ValidationIterator(4)
	require.NoError(t, err)
	var count int
	for {
		batch, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count += batch.Len()
	}
	require.Equal(t, ds.NumTrain(), count)
}

func TestThreeWaySplitKeepsPartitionsApart(t *testing.T) {
	ds := testDataset(t, repeated(8, 0, 1), Options{Seed: 8})
	assignFresh(t, ds, partition.Plan{
		Kind: partition.TrainValTest, TrainFraction: 0.5, ValidationFraction: 0.25, Seed: 8,
	})

	require.True(t, ds.HasValidation())
	require.Equal(t, 8, ds.NumTrain())
	require.Equal(t, 4, ds.NumValidation())
	require.Equal(t, 4, ds.NumTest())

	seen := make(map[int]string)
	sweep := func(name string, next func() (*Batch, error), total int) {
		collected := 0
		for collected < total {
			batch, err := next()
			require.NoError(t, err)
			for _, idx := range batch.Indices {
				if owner, ok := seen[idx]; ok {
					require.Equalf(t, name, owner, "index %d served by both %s and %s", idx, owner, name)
				}
				seen[idx] = name
			}
			collected += batch.Len()
		}
	}

	sweep("train", func() (*Batch, error) { return ds.TrainBatch(3) }, ds.NumTrain())
	sweep("validation", func() (*Batch, error) { return ds.ValidationBatch(3) }, ds.NumValidation())
	sweep("test", func() (*Batch, error) { return ds.TestBatch(3) }, ds.NumTest())
	require.Len(t, seen, 16)
}

func TestIteratorCoversPartitionOnce(t *testing.T) {
	ds := testDataset(t, repeated(10, 0, 1), Options{Seed: 9})
	assignFresh(t, ds, partition.Plan{Kind: partition.TrainTest, TrainFraction: 0.5, Seed: 9})
	require.Equal(t, 10, ds.NumTest())

	it, err := ds.TestIterator(4)
	require.NoError(t, err)

	var all []int
	sizes := []int{}
	for {
		batch, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		all = append(all, batch.Indices...)
		sizes = append(sizes, batch.Len())
	}
	require.Equal(t, []int{4, 4, 2}, sizes)

	seen := make(map[int]bool)
	for _, idx := range all {
		require.Falsef(t, seen[idx], "index %d visited twice", idx)
		seen[idx] = true
	}

	// exhausted iterators stay exhausted
	_, err = it.Next()
	require.Equal(t, io.EOF, err)

	// a fresh iterator starts a fresh pass
	again, err := ds.TestIterator(4)
	require.NoError(t, err)
	batch, err := again.Next()
	require.NoError(t, err)
	require.Equal(t, all[:4], batch.Indices)
}

func TestIteratorEmptyPartition(t *testing.T) {
	ds := testDataset(t, repeated(8, 0, 1), Options{Seed: 10})
	assignFresh(t, ds, partition.Plan{
		Kind: partition.TrainValTest, TrainFraction: 0.5, ValidationFraction: 0.5, Seed: 10,
	})
	require.Equal(t, 0, ds.NumTest())

	it, err := ds.TestIterator(4)
	require.NoError(t, err)
	_, err = it.Next()
	require.Equal(t, io.EOF, err)
}

func TestAssignGenerateThenLoadReplaysIdentically(t *testing.T) {
	labels := repeated(10, 0, 1, 2)
	path := filepath.Join(t.TempDir(), "parts")
	plan := partition.Plan{Kind: partition.TrainValTest, TrainFraction: 0.6, ValidationFraction: 0.2, Seed: 11}

	generate := testDataset(t, labels, Options{Seed: 11})
	require.NoError(t, generate.Assign(plan, true, path))

	replay := testDataset(t, labels, Options{Seed: 11})
	require.NoError(t, replay.Assign(plan, false, path))

	collect := func(ds *Dataset) []int {
		it, err := ds.TestIterator(4)
		require.NoError(t, err)
		var all []int
		for {
			batch, err := it.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			all = append(all, batch.Indices...)
		}
		return all
	}

	require.Equal(t, collect(generate), collect(replay))

	b1, err := generate.TrainBatch(5)
	require.NoError(t, err)
	b2, err := replay.TrainBatch(5)
	require.NoError(t, err)
	require.Equal(t, b1.Indices, b2.Indices)
}

func TestKFoldAssignCarvesValidation(t *testing.T) {
	ds := testDataset(t, repeated(12, 0, 1), Options{Seed: 12})
	assignFresh(t, ds, partition.Plan{
		Kind: partition.KFold, Folds: 3, FoldIndex: 0, ValidationFraction: 0.25, Seed: 12,
	})

	require.True(t, ds.HasValidation())
	require.Equal(t, 8, ds.NumTest())
	require.Equal(t, 12, ds.NumTrain())
	require.Equal(t, 4, ds.NumValidation())
}
