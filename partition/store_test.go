package partition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreRoundTripKFold(t *testing.T) {
	labels := repeatLabels(map[int]int{0: 9, 1: 9, 2: 9}, 0, 1, 2)

	set, err := Generate(Plan{Kind: KFold, Folds: 3, Seed: 7}, labels, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "partitions")
	require.NoError(t, set.Save(path))

	loaded, err := Load(path, KFold)
	require.NoError(t, err)
	require.Equal(t, set, loaded)
}

func TestStoreRoundTripTrainValTest(t *testing.T) {
	labels := repeatLabels(map[int]int{0: 10, 1: 10}, 0, 1)

	set, err := Generate(Plan{Kind: TrainValTest, TrainFraction: 0.6, ValidationFraction: 0.2, Seed: 7}, labels, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "partitions")
	require.NoError(t, set.Save(path))

	for _, suffix := range []string{"_train", "_validation", "_test"} {
		_, err := os.Stat(path + suffix)
		require.NoErrorf(t, err, "expected sibling file %s", path+suffix)
	}

	loaded, err := Load(path, TrainValTest)
	require.NoError(t, err)
	require.Equal(t, set, loaded)
}

func TestStoreRoundTripTrainTest(t *testing.T) {
	labels := repeatLabels(map[int]int{0: 10, 1: 10}, 0, 1)

	for _, kind := range []Kind{TrainTest, TrainTestByClass} {
		plan := Plan{Kind: kind, TrainFraction: 0.7, HeldOut: []int{1}, Seed: 3}

		set, err := Generate(plan, labels, nil)
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "partitions")
		require.NoError(t, set.Save(path))

		_, err = os.Stat(path + "_validation")
		require.Truef(t, os.IsNotExist(err), "%s split must not write a validation file", kind)

		loaded, err := Load(path, kind)
		require.NoError(t, err)
		require.Equal(t, set, loaded)
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nowhere")

	_, err := Load(path, KFold)
	require.Error(t, err)
	require.Contains(t, err.Error(), "read partition file")

	_, err = Load(path, TrainTest)
	require.Error(t, err)
}

func TestStoreLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partitions")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := Load(path, KFold)
	require.Error(t, err)
	require.Contains(t, err.Error(), "corrupt partition file")
}

func TestStoreLoadPartialSplit(t *testing.T) {
	labels := repeatLabels(map[int]int{0: 10, 1: 10}, 0, 1)

	set, err := Generate(Plan{Kind: TrainTest, TrainFraction: 0.5, Seed: 11}, labels, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "partitions")
	require.NoError(t, set.Save(path))
	require.NoError(t, os.Remove(path+"_test"))

	_, err = Load(path, TrainTest)
	require.Error(t, err)
}
