package dataset

import "github.com/pkg/errors"

// FeatureSource is random-access, read-only storage of view embeddings. One
// sample holds Views() embeddings of Dim() values each. Sources are opened
// once per Dataset and never mutated during its lifetime.
type FeatureSource interface {
	// Len is the number of samples in the store.
	Len() int
	// Views is the number of view embeddings per sample.
	Views() int
	// Dim is the width of one view embedding.
	Dim() int
	// ReadRows fetches the given rows, which must be sorted ascending.
	// The result is indexed [view][k][dim] with k following rows; the
	// returned slices are owned by the caller.
	ReadRows(rows []int) ([][][]float32, error)
	Close() error
}

// MemorySource serves embeddings from memory, indexed [row][view][dim].
// It backs tests and small experiments that do not warrant an HDF5 store.
type MemorySource struct {
	data  [][][]float32
	views int
	dim   int
}

func NewMemorySource(data [][][]float32) (*MemorySource, error) {
	if len(data) == 0 {
		return nil, errors.New("memory source has no samples")
	}
	views := len(data[0])
	if views == 0 {
		return nil, errors.New("memory source samples have no views")
	}
	dim := len(data[0][0])
	for i, sample := range data {
		if len(sample) != views {
			return nil, errors.Errorf("sample %d has %d views, want %d", i, len(sample), views)
		}
		for v, embedding := range sample {
			if len(embedding) != dim {
				return nil, errors.Errorf("sample %d view %d has width %d, want %d", i, v, len(embedding), dim)
			}
		}
	}
	return &MemorySource{data: data, views: views, dim: dim}, nil
}

func (s *MemorySource) Len() int   { return len(s.data) }
func (s *MemorySource) Views() int { return s.views }
func (s *MemorySource) Dim() int   { return s.dim }

func (s *MemorySource) ReadRows(rows []int) ([][][]float32, error) {
	out := make([][][]float32, s.views)
	for v := range out {
		out[v] = make([][]float32, len(rows))
	}
	for k, row := range rows {
		if row < 0 || row >= len(s.data) {
			return nil, errors.Errorf("row %d out of range [0, %d)", row, len(s.data))
		}
		for v := 0; v < s.views; v++ {
			out[v][k] = append([]float32(nil), s.data[row][v]...)
		}
	}
	return out, nil
}

func (s *MemorySource) Close() error { return nil }
