package partition

import "github.com/pkg/errors"

// Plan describes one split completely: the strategy, its parameters and the
// seed. The same plan deterministically produces the same partitions whether
// the persisted set is generated fresh or loaded back from disk.
type Plan struct {
	Kind      Kind
	Folds     int
	FoldIndex int

	TrainFraction      float64
	ValidationFraction float64

	// TrainKeep decimates the assembled training partition to this fraction
	// of itself. 1 (or 0) keeps everything.
	TrainKeep float64

	// HeldOut lists the class values reserved for testing in
	// TrainTestByClass plans.
	HeldOut []int

	Seed int64
}

// Split is a persisted two or three-way partition set.
type Split struct {
	Train      []int
	Validation []int
	Test       []int
}

// Set is the partitioner output in its durable form: the fold list for
// k-fold plans, the split partitions otherwise. Sets are immutable once
// written; Assemble derives working partitions from them without touching
// the persisted indices.
type Set struct {
	Kind  Kind
	Folds [][]int
	Split Split
}

// Assignment is the working view a Dataset consumes: one train, test and
// possibly validation partition.
type Assignment struct {
	Train         []int
	Validation    []int
	Test          []int
	HasValidation bool
}

// Generate computes the persisted partition set for a plan.
func Generate(plan Plan, labels []int, groups []string) (*Set, error) {
	switch plan.Kind {
	case KFold:
		folds, err := StratifiedKFold(plan.Folds, labels, plan.Seed, groups)
		if err != nil {
			return nil, err
		}
		return &Set{Kind: KFold, Folds: folds}, nil
	case TrainValTest:
		train, validation, test, err := StratifiedValidation(labels, plan.TrainFraction, plan.ValidationFraction, plan.Seed, groups)
		if err != nil {
			return nil, err
		}
		return &Set{Kind: TrainValTest, Split: Split{Train: train, Validation: validation, Test: test}}, nil
	case TrainTest:
		train, test, err := Stratified(labels, plan.TrainFraction, plan.Seed, groups)
		if err != nil {
			return nil, err
		}
		return &Set{Kind: TrainTest, Split: Split{Train: train, Test: test}}, nil
	case TrainTestByClass:
		train, test, err := ByClass(labels, plan.HeldOut, plan.Seed)
		if err != nil {
			return nil, err
		}
		return &Set{Kind: TrainTestByClass, Split: Split{Train: train, Test: test}}, nil
	default:
		return nil, errors.Errorf("unrecognized split kind %d", plan.Kind)
	}
}

// Assemble turns a persisted set into the partitions a run works with: it
// selects the plan's fold, carves a validation slice out of k-fold training
// partitions when the plan asks for one, and applies TrainKeep decimation.
// The derivation is deterministic from plan.Seed, so replaying a persisted
// set always yields the same working partitions.
func Assemble(plan Plan, set *Set, labels []int, groups []string) (Assignment, error) {
	if set.Kind != plan.Kind {
		return Assignment{}, errors.Errorf("partition set holds a %s split, plan wants %s", set.Kind, plan.Kind)
	}

	var out Assignment
	switch plan.Kind {
	case KFold:
		train, test, err := FoldSplit(plan.FoldIndex, set.Folds)
		if err != nil {
			return Assignment{}, err
		}
		out = Assignment{Train: train, Test: test}
		if plan.ValidationFraction > 0 {
			train, validation, err := Decimate(out.Train, labels, 1-plan.ValidationFraction, plan.Seed, groups)
			if err != nil {
				return Assignment{}, err
			}
			out.Train, out.Validation, out.HasValidation = train, validation, true
		}
	case TrainValTest:
		out = Assignment{
			Train:         set.Split.Train,
			Validation:    set.Split.Validation,
			Test:          set.Split.Test,
			HasValidation: true,
		}
	case TrainTest, TrainTestByClass:
		out = Assignment{Train: set.Split.Train, Test: set.Split.Test}
	default:
		return Assignment{}, errors.Errorf("unrecognized split kind %d", plan.Kind)
	}

	if plan.TrainKeep > 0 && plan.TrainKeep < 1 {
		kept, _, err := Decimate(out.Train, labels, plan.TrainKeep, plan.Seed, groups)
		if err != nil {
			return Assignment{}, err
		}
		out.Train = kept
	}
	return out, nil
}
