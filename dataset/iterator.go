package dataset

import (
	"io"

	"github.com/pkg/errors"
)

// Iterator walks one partition in sequential batches, covering it exactly
// once. Next returns io.EOF after the final batch, which may be shorter than
// the batch size. Iterators are independent of the partition cursors; a
// fresh iterator starts a fresh pass.
type Iterator struct {
	d     *Dataset
	part  []int
	batch int
	pos   int
}

// TestIterator returns a fresh full pass over the test partition.
func (d *Dataset) TestIterator(batchSize int) (*Iterator, error) {
	if !d.assigned {
		return nil, errors.WithStack(ErrNotPartitioned)
	}
	return newIterator(d, d.assign.Test, batchSize)
}

// ValidationIterator returns a fresh full pass over the validation
// partition, routed onto the training partition for split kinds without one.
func (d *Dataset) ValidationIterator(batchSize int) (*Iterator, error) {
	if !d.assigned {
		return nil, errors.WithStack(ErrNotPartitioned)
	}
	return newIterator(d, d.validationPart(), batchSize)
}

func newIterator(d *Dataset, part []int, batchSize int) (*Iterator, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size %d must be positive", batchSize)
	}
	return &Iterator{d: d, part: part, batch: batchSize}, nil
}

// Next returns the next batch of the pass, or io.EOF once the partition is
// exhausted.
func (it *Iterator) Next() (*Batch, error) {
	if it.pos >= len(it.part) {
		return nil, io.EOF
	}
	end := it.pos + it.batch
	if end > len(it.part) {
		end = len(it.part)
	}
	rows := it.part[it.pos:end]
	it.pos = end
	return it.d.DataPart(rows)
}
