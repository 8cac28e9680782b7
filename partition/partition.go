// Package partition computes stratified, constrainable index partitions over
// a labeled sample population and persists them for replay across runs. All
// randomness comes from an explicit seed; no function keeps state between
// calls.
package partition

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

var (
	ErrInvalidFraction  = errors.New("fraction out of range")
	ErrInvalidFoldCount = errors.New("fold count must be at least 2")
	ErrFoldOutOfRange   = errors.New("fold index out of range")
	ErrGroupConflict    = errors.New("constraint group carries conflicting labels")
	ErrUnknownClass     = errors.New("held-out class not present in labels")
	ErrLengthMismatch   = errors.New("labels and groups must have the same length")
	ErrEmptyPopulation  = errors.New("population is empty")
)

// Kind tags which split strategy produced a partition set.
type Kind int

const (
	KFold Kind = iota
	TrainValTest
	TrainTest
	TrainTestByClass
)

func (k Kind) String() string {
	switch k {
	case KFold:
		return "kfold"
	case TrainValTest:
		return "train-val-test"
	case TrainTest:
		return "train-test"
	case TrainTestByClass:
		return "held-out-class"
	default:
		return "unknown"
	}
}

// ParseKind maps the CLI split mode names onto Kind values.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "kfold":
		return KFold, nil
	case "train-val-test":
		return TrainValTest, nil
	case "train-test":
		return TrainTest, nil
	case "held-out-class":
		return TrainTestByClass, nil
	default:
		return 0, errors.Errorf("unrecognized split kind %q", s)
	}
}

// unit is the smallest thing a split can move: one sample, or every sample
// sharing a constraint group key.
type unit struct {
	indices []int
}

func (u *unit) size() int { return len(u.indices) }

// stratum holds all units of one class.
type stratum struct {
	class int
	units []*unit
	total int
}

// buildStrata groups the given population indices by class, collapsing
// samples that share a non-empty group key into single units. Classes come
// out in ascending label order and units in first-occurrence order, so the
// result is deterministic for a given input. A group whose members disagree
// on the label aborts with ErrGroupConflict.
func buildStrata(indices []int, labels []int, groups []string) ([]*stratum, error) {
	if len(indices) == 0 {
		return nil, errors.WithStack(ErrEmptyPopulation)
	}
	if groups != nil && len(groups) != len(labels) {
		return nil, errors.Wrapf(ErrLengthMismatch, "%d labels, %d groups", len(labels), len(groups))
	}

	strata := make(map[int]*stratum)
	var classes []int
	grouped := make(map[string]*unit)
	groupClass := make(map[string]int)

	for _, i := range indices {
		if i < 0 || i >= len(labels) {
			return nil, errors.Errorf("sample index %d out of range [0, %d)", i, len(labels))
		}
		class := labels[i]
		s, ok := strata[class]
		if !ok {
			s = &stratum{class: class}
			strata[class] = s
			classes = append(classes, class)
		}
		s.total++

		var key string
		if groups != nil {
			key = groups[i]
		}
		if key == "" {
			s.units = append(s.units, &unit{indices: []int{i}})
			continue
		}
		if u, seen := grouped[key]; seen {
			if groupClass[key] != class {
				return nil, errors.Wrapf(ErrGroupConflict,
					"group %q holds labels %d and %d", key, groupClass[key], class)
			}
			u.indices = append(u.indices, i)
			continue
		}
		u := &unit{indices: []int{i}}
		grouped[key] = u
		groupClass[key] = class
		s.units = append(s.units, u)
	}

	sort.Ints(classes)
	out := make([]*stratum, 0, len(classes))
	for _, class := range classes {
		out = append(out, strata[class])
	}
	return out, nil
}

// splitStratum hands whole units to the first return until it has collected
// at least target samples; everything after goes to the second. Units are
// visited in a seeded shuffle order, so singleton units hit the target
// exactly and grouped units overshoot by at most one group.
func splitStratum(s *stratum, target int, r *rand.Rand) (first, second []int) {
	units := make([]*unit, len(s.units))
	copy(units, s.units)
	r.Shuffle(len(units), func(i, j int) { units[i], units[j] = units[j], units[i] })

	taken := 0
	for _, u := range units {
		if taken < target {
			first = append(first, u.indices...)
			taken += u.size()
		} else {
			second = append(second, u.indices...)
		}
	}
	return first, second
}

// stratifiedSplit splits the given population subset so every class
// contributes round(fraction*count) samples to the first return. Both
// returned partitions are shuffled so downstream sequential batching does not
// walk the population class by class.
func stratifiedSplit(indices []int, labels []int, fraction float64, r *rand.Rand, groups []string) ([]int, []int, error) {
	strata, err := buildStrata(indices, labels, groups)
	if err != nil {
		return nil, nil, err
	}

	var first, second []int
	for _, s := range strata {
		target := int(math.Round(fraction * float64(s.total)))
		a, b := splitStratum(s, target, r)
		first = append(first, a...)
		second = append(second, b...)
	}
	r.Shuffle(len(first), func(i, j int) { first[i], first[j] = first[j], first[i] })
	r.Shuffle(len(second), func(i, j int) { second[i], second[j] = second[j], second[i] })
	return first, second, nil
}

// Stratified splits the population two ways, preserving every class's share
// up to one sample per class. When groups is non-nil, samples with equal
// non-empty group keys move as one and the per-class targets count their
// cumulative sizes.
func Stratified(labels []int, trainFraction float64, seed int64, groups []string) (train, test []int, err error) {
	if trainFraction <= 0 || trainFraction >= 1 {
		return nil, nil, errors.Wrapf(ErrInvalidFraction, "train fraction %v must be inside (0, 1)", trainFraction)
	}
	return stratifiedSplit(identity(len(labels)), labels, trainFraction, newRand(seed), groups)
}

// StratifiedValidation splits three ways by chaining two stratified splits:
// first train+validation against test, then train against validation. The
// fractions may sum to 1, in which case the test partition is empty.
func StratifiedValidation(labels []int, trainFraction, validationFraction float64, seed int64, groups []string) (train, validation, test []int, err error) {
	if trainFraction <= 0 || trainFraction >= 1 {
		return nil, nil, nil, errors.Wrapf(ErrInvalidFraction, "train fraction %v must be inside (0, 1)", trainFraction)
	}
	if validationFraction <= 0 || validationFraction >= 1 {
		return nil, nil, nil, errors.Wrapf(ErrInvalidFraction, "validation fraction %v must be inside (0, 1)", validationFraction)
	}
	pool := trainFraction + validationFraction
	if pool > 1 {
		return nil, nil, nil, errors.Wrapf(ErrInvalidFraction, "train and validation fractions sum to %v", pool)
	}

	r := newRand(seed)
	trainval := identity(len(labels))
	if pool < 1 {
		trainval, test, err = stratifiedSplit(trainval, labels, pool, r, groups)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	train, validation, err = stratifiedSplit(trainval, labels, trainFraction/pool, r, groups)
	if err != nil {
		return nil, nil, nil, err
	}
	return train, validation, test, nil
}

// StratifiedKFold deals every class's units into k near-equal folds. Each
// unit lands in the fold holding the fewest samples of its class, ties broken
// by overall fold size and then fold index, so fold sizes stay within one
// unit of each other per class.
func StratifiedKFold(k int, labels []int, seed int64, groups []string) ([][]int, error) {
	if k < 2 {
		return nil, errors.Wrapf(ErrInvalidFoldCount, "k=%d", k)
	}
	strata, err := buildStrata(identity(len(labels)), labels, groups)
	if err != nil {
		return nil, err
	}

	r := newRand(seed)
	folds := make([][]int, k)
	sizes := make([]int, k)

	for _, s := range strata {
		units := make([]*unit, len(s.units))
		copy(units, s.units)
		r.Shuffle(len(units), func(i, j int) { units[i], units[j] = units[j], units[i] })

		classSizes := make([]int, k)
		for _, u := range units {
			best := 0
			for f := 1; f < k; f++ {
				if classSizes[f] < classSizes[best] ||
					(classSizes[f] == classSizes[best] && sizes[f] < sizes[best]) {
					best = f
				}
			}
			folds[best] = append(folds[best], u.indices...)
			classSizes[best] += u.size()
			sizes[best] += u.size()
		}
	}

	for _, fold := range folds {
		r.Shuffle(len(fold), func(i, j int) { fold[i], fold[j] = fold[j], fold[i] })
	}
	return folds, nil
}

// FoldSplit selects one fold as the test partition and unions the remaining
// folds into the training partition.
func FoldSplit(foldIndex int, folds [][]int) (train, test []int, err error) {
	if foldIndex < 0 || foldIndex >= len(folds) {
		return nil, nil, errors.Wrapf(ErrFoldOutOfRange, "fold %d of %d", foldIndex, len(folds))
	}
	test = append([]int(nil), folds[foldIndex]...)
	for i, fold := range folds {
		if i == foldIndex {
			continue
		}
		train = append(train, fold...)
	}
	return train, test, nil
}

// Decimate draws a stratified, group-cohesive subset of roughly
// keepFraction*|part| samples from an existing partition. The remainder comes
// back too, so the same call carves validation slices out of training
// partitions. Every call is an independent draw for its seed; repeated calls
// with different seeds select different subsets.
func Decimate(part []int, labels []int, keepFraction float64, seed int64, groups []string) (kept, rest []int, err error) {
	if keepFraction <= 0 || keepFraction > 1 {
		return nil, nil, errors.Wrapf(ErrInvalidFraction, "keep fraction %v must be inside (0, 1]", keepFraction)
	}
	if keepFraction == 1 {
		return append([]int(nil), part...), nil, nil
	}
	return stratifiedSplit(part, labels, keepFraction, newRand(seed), groups)
}

// ByClass holds out every sample whose label is in heldOut as the test
// partition and trains on the rest. The seed only drives the output
// shuffle.
func ByClass(labels []int, heldOut []int, seed int64) (train, test []int, err error) {
	if len(labels) == 0 {
		return nil, nil, errors.WithStack(ErrEmptyPopulation)
	}
	if len(heldOut) == 0 {
		return nil, nil, errors.Wrap(ErrUnknownClass, "no held-out classes given")
	}

	held := make(map[int]bool, len(heldOut))
	for _, class := range heldOut {
		held[class] = true
	}
	seen := make(map[int]bool, len(heldOut))
	for i, class := range labels {
		if held[class] {
			seen[class] = true
			test = append(test, i)
		} else {
			train = append(train, i)
		}
	}
	for _, class := range heldOut {
		if !seen[class] {
			return nil, nil, errors.Wrapf(ErrUnknownClass, "class %d", class)
		}
	}

	r := newRand(seed)
	r.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	r.Shuffle(len(test), func(i, j int) { test[i], test[j] = test[j], test[i] })
	return train, test, nil
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
