package dataset

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/urbansense/sview-trainer/partition"
)

var (
	ErrNotPartitioned     = errors.New("dataset is not partitioned yet")
	ErrAlreadyPartitioned = errors.New("dataset partitions cannot be reassigned")
	ErrLengthMismatch     = errors.New("feature source and label table lengths differ")
)

// Normalization rescales every embedding value to (x-Mean)/Std at fetch time.
type Normalization struct {
	Mean float32
	Std  float32
}

// Options tune how a Dataset serves batches. Seed drives the balanced batch
// permutations. Soften, when positive, spreads that much one-hot mass onto
// the immediate ordinal neighbors of the true class.
type Options struct {
	Seed      int64
	Normalize *Normalization
	Soften    float64
}

// Batch is one fetched slice of the population. Views is indexed
// [view][k][dim] and Labels [k][class column], with k following Indices.
type Batch struct {
	Indices []int
	Views   [][][]float32
	Labels  [][]float32
}

// Len is the number of samples in the batch.
func (b *Batch) Len() int { return len(b.Indices) }

// cursor tracks a partition's batch offset. take returns the next n indices
// and the advanced cursor; the cursor wraps to zero once it passes the end
// of the partition, which is the epoch boundary.
type cursor int

func (c cursor) take(part []int, n int) ([]int, cursor) {
	end := int(c) + n
	if end > len(part) {
		end = len(part)
	}
	rows := part[int(c):end]
	next := c + cursor(n)
	if int(next) >= len(part) {
		next = 0
	}
	return rows, next
}

// Dataset joins a feature source with its label table and serves batches
// from an assigned partition set. A Dataset is not safe for concurrent use;
// parallel loaders each own an instance over the same read-only storage.
type Dataset struct {
	src   FeatureSource
	table *Table
	opts  Options

	classes  []int
	classCol map[int]int
	rng      *rand.Rand

	assigned bool
	assign   partition.Assignment
	kind     partition.Kind

	trainCur      cursor
	validationCur cursor
	testCur       cursor
}

// New wraps a feature source and its label table. The set of classes, and
// with it the one-hot column layout, is fixed here from the distinct label
// values in ascending order.
func New(src FeatureSource, table *Table, opts Options) (*Dataset, error) {
	if src.Len() != table.Len() {
		return nil, errors.Wrapf(ErrLengthMismatch, "%d feature rows, %d table rows", src.Len(), table.Len())
	}

	counts := make(map[int]int)
	var classes []int
	for _, label := range table.Labels() {
		if _, seen := counts[label]; !seen {
			classes = append(classes, label)
		}
		counts[label]++
	}
	sort.Ints(classes)

	classCol := make(map[int]int, len(classes))
	classCounts := make([]int, len(classes))
	for col, class := range classes {
		classCol[class] = col
		classCounts[col] = counts[class]
	}

	log.WithFields(log.Fields{
		"samples": table.Len(), "classes": classes, "counts": classCounts,
	}).Info("Loaded sample population")

	return &Dataset{
		src:      src,
		table:    table,
		opts:     opts,
		classes:  classes,
		classCol: classCol,
		rng:      rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

// Assign gives the Dataset its partitions, exactly once. In generate mode
// the partition set is computed from the plan and persisted under path;
// otherwise a previously persisted set is loaded and never recomputed. Both
// modes then assemble the working train/validation/test partitions from the
// set, so a loaded run replays the generated one identically.
func (d *Dataset) Assign(plan partition.Plan, generate bool, path string) error {
	if d.assigned {
		return errors.WithStack(ErrAlreadyPartitioned)
	}

	var set *partition.Set
	var err error
	if generate {
		set, err = partition.Generate(plan, d.table.Labels(), d.table.Groups())
		if err != nil {
			return err
		}
		if err := set.Save(path); err != nil {
			return err
		}
	} else {
		set, err = partition.Load(path, plan.Kind)
		if err != nil {
			return err
		}
	}

	assign, err := partition.Assemble(plan, set, d.table.Labels(), d.table.Groups())
	if err != nil {
		return err
	}

	d.assign = assign
	d.kind = plan.Kind
	d.assigned = true

	log.WithFields(log.Fields{
		"kind":       plan.Kind.String(),
		"train":      len(assign.Train),
		"validation": len(assign.Validation),
		"test":       len(assign.Test),
	}).Info("Assigned partitions")

	return nil
}

// DataPart fetches features and one-hot labels for arbitrary sample indices.
// Storage is read in ascending row order and the results are re-expanded to
// the request order, so callers see no ordering effect from the access
// optimization.
func (d *Dataset) DataPart(rows []int) (*Batch, error) {
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return rows[order[a]] < rows[order[b]] })

	sorted := make([]int, len(rows))
	for k, i := range order {
		sorted[k] = rows[i]
	}

	views, err := d.src.ReadRows(sorted)
	if err != nil {
		return nil, err
	}

	batch := &Batch{
		Indices: append([]int(nil), rows...),
		Views:   make([][][]float32, len(views)),
		Labels:  make([][]float32, len(rows)),
	}
	for v := range views {
		batch.Views[v] = make([][]float32, len(rows))
		for k, i := range order {
			vec := views[v][k]
			if d.opts.Normalize != nil {
				for j := range vec {
					vec[j] = (vec[j] - d.opts.Normalize.Mean) / d.opts.Normalize.Std
				}
			}
			batch.Views[v][i] = vec
		}
	}

	labels := d.table.Labels()
	for i, row := range rows {
		if row < 0 || row >= len(labels) {
			return nil, errors.Errorf("row %d out of range [0, %d)", row, len(labels))
		}
		oneHot := make([]float32, len(d.classes))
		oneHot[d.classCol[labels[row]]] = 1
		batch.Labels[i] = oneHot
	}
	if d.opts.Soften > 0 {
		softenOrdinal(batch.Labels, d.opts.Soften)
	}

	return batch, nil
}

// softenOrdinal moves m of each row's mass from the true class onto its
// immediate ordinal neighbors. Middle classes split m across both neighbors,
// edge classes give all of it to their single neighbor.
func softenOrdinal(labels [][]float32, m float64) {
	for _, row := range labels {
		if len(row) < 2 {
			continue
		}
		maxCol := 0
		for col, v := range row {
			if v > row[maxCol] {
				maxCol = col
			}
		}
		row[maxCol] = float32(1 - m)
		switch maxCol {
		case 0:
			row[1] = float32(m)
		case len(row) - 1:
			row[len(row)-2] = float32(m)
		default:
			row[maxCol-1] = float32(m / 2)
			row[maxCol+1] = float32(m / 2)
		}
	}
}

// TrainBatch returns the next n training samples, advancing the train cursor
// and wrapping it at the epoch boundary. The batch preceding a wrap may be
// shorter than n.
func (d *Dataset) TrainBatch(n int) (*Batch, error) {
	if err := d.checkBatch(n); err != nil {
		return nil, err
	}
	rows, next := d.trainCur.take(d.assign.Train, n)
	d.trainCur = next
	return d.DataPart(rows)
}

// ValidationBatch behaves like TrainBatch over the validation partition.
// Split kinds without a genuine validation partition route it onto the
// training partition, sharing the train cursor.
func (d *Dataset) ValidationBatch(n int) (*Batch, error) {
	if err := d.checkBatch(n); err != nil {
		return nil, err
	}
	if !d.assign.HasValidation {
		return d.TrainBatch(n)
	}
	rows, next := d.validationCur.take(d.assign.Validation, n)
	d.validationCur = next
	return d.DataPart(rows)
}

// TestBatch behaves like TrainBatch over the test partition.
func (d *Dataset) TestBatch(n int) (*Batch, error) {
	if err := d.checkBatch(n); err != nil {
		return nil, err
	}
	rows, next := d.testCur.take(d.assign.Test, n)
	d.testCur = next
	return d.DataPart(rows)
}

// BalancedTrainBatch draws n/NumClasses training samples per class, each
// class independently permuted, so every class is equally represented no
// matter how imbalanced the partition. Classes with fewer samples than the
// per-class share contribute everything they have. Successive calls draw
// independently; there is no epoch coverage guarantee.
func (d *Dataset) BalancedTrainBatch(n int) (*Batch, error) {
	if err := d.checkBatch(n); err != nil {
		return nil, err
	}
	return d.balancedBatch(d.assign.Train, n)
}

// BalancedValidationBatch is BalancedTrainBatch over the validation
// partition, routed onto the training partition for split kinds without one.
func (d *Dataset) BalancedValidationBatch(n int) (*Batch, error) {
	if err := d.checkBatch(n); err != nil {
		return nil, err
	}
	return d.balancedBatch(d.validationPart(), n)
}

func (d *Dataset) balancedBatch(part []int, n int) (*Batch, error) {
	perClass := n / len(d.classes)
	labels := d.table.Labels()

	var rows []int
	for _, class := range d.classes {
		var candidates []int
		for _, i := range part {
			if labels[i] == class {
				candidates = append(candidates, i)
			}
		}
		d.rng.Shuffle(len(candidates), func(a, b int) {
			candidates[a], candidates[b] = candidates[b], candidates[a]
		})
		if len(candidates) > perClass {
			candidates = candidates[:perClass]
		}
		rows = append(rows, candidates...)
	}
	return d.DataPart(rows)
}

func (d *Dataset) checkBatch(n int) error {
	if !d.assigned {
		return errors.WithStack(ErrNotPartitioned)
	}
	if n <= 0 {
		return errors.Errorf("batch size %d must be positive", n)
	}
	return nil
}

func (d *Dataset) validationPart() []int {
	if d.assign.HasValidation {
		return d.assign.Validation
	}
	return d.assign.Train
}

// Classes returns the distinct label values in ascending order, matching the
// one-hot column layout.
func (d *Dataset) Classes() []int { return append([]int(nil), d.classes...) }

// NumClasses is the number of distinct label values.
func (d *Dataset) NumClasses() int { return len(d.classes) }

// Len is the population size.
func (d *Dataset) Len() int { return d.table.Len() }

// Views is the number of view embeddings per sample.
func (d *Dataset) Views() int { return d.src.Views() }

// Dim is the width of one view embedding.
func (d *Dataset) Dim() int { return d.src.Dim() }

// HasValidation reports whether the assigned split kind carries a genuine
// validation partition. When false, every validation operation works on the
// training partition instead.
func (d *Dataset) HasValidation() bool { return d.assigned && d.assign.HasValidation }

// NumTrain is the training partition size, 0 before Assign.
func (d *Dataset) NumTrain() int { return len(d.assign.Train) }

// NumValidation is the validation partition size; without a genuine
// validation partition it reports the training partition size.
func (d *Dataset) NumValidation() int {
	if !d.assigned {
		return 0
	}
	return len(d.validationPart())
}

// NumTest is the test partition size, 0 before Assign.
func (d *Dataset) NumTest() int { return len(d.assign.Test) }

// TrainLabelCounts reports how many training samples carry each class value,
// for balance logging. Empty before Assign.
func (d *Dataset) TrainLabelCounts() map[int]int {
	counts := make(map[int]int, len(d.classes))
	labels := d.table.Labels()
	for _, row := range d.assign.Train {
		counts[labels[row]]++
	}
	return counts
}

// Close releases the underlying feature storage.
func (d *Dataset) Close() error { return d.src.Close() }
