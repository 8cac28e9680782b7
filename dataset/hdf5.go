package dataset

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/weaviate/hdf5"
)

// Hdf5Source reads view embeddings from an HDF5 dataset laid out either
// [rows, views, dim] or [rows, dim] (a single view). Rows are fetched one at
// a time through hyperslab selections, so monotonic row access stays within
// the library's chunk cache.
type Hdf5Source struct {
	file     *hdf5.File
	dataset  *hdf5.Dataset
	dims     []uint
	rows     int
	views    int
	dim      int
	byteSize uint
}

// OpenHdf5Source opens the feature file and the named dataset inside it once;
// both stay open until Close. Element types of 4 bytes (float32) and 8 bytes
// (float64) are supported, everything else is rejected.
func OpenHdf5Source(path, datasetName string) (*Hdf5Source, error) {
	file, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, errors.Wrapf(err, "open feature file %s", path)
	}

	dataset, err := file.OpenDataset(datasetName)
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "open dataset %q in %s", datasetName, path)
	}

	dataspace := dataset.Space()
	dims, _, err := dataspace.SimpleExtentDims()
	if err != nil {
		dataset.Close()
		file.Close()
		return nil, errors.Wrapf(err, "read extent of dataset %q", datasetName)
	}

	s := &Hdf5Source{file: file, dataset: dataset, dims: dims}
	switch len(dims) {
	case 2:
		s.rows, s.views, s.dim = int(dims[0]), 1, int(dims[1])
	case 3:
		s.rows, s.views, s.dim = int(dims[0]), int(dims[1]), int(dims[2])
	default:
		dataset.Close()
		file.Close()
		return nil, errors.Errorf("dataset %q has %d dimensions, want 2 or 3", datasetName, len(dims))
	}

	datatype, err := dataset.Datatype()
	if err != nil {
		dataset.Close()
		file.Close()
		return nil, errors.Wrapf(err, "read datatype of dataset %q", datasetName)
	}
	s.byteSize = datatype.Size()
	if s.byteSize != 4 && s.byteSize != 8 {
		dataset.Close()
		file.Close()
		return nil, errors.Errorf("dataset %q has element size %d, want 4 or 8 bytes", datasetName, s.byteSize)
	}

	log.WithFields(log.Fields{
		"file": path, "rows": s.rows, "views": s.views, "dim": s.dim,
	}).Info("Opened feature store")

	return s, nil
}

func (s *Hdf5Source) Len() int   { return s.rows }
func (s *Hdf5Source) Views() int { return s.views }
func (s *Hdf5Source) Dim() int   { return s.dim }

func (s *Hdf5Source) ReadRows(rows []int) ([][][]float32, error) {
	out := make([][][]float32, s.views)
	for v := range out {
		out[v] = make([][]float32, len(rows))
	}
	if len(rows) == 0 {
		return out, nil
	}

	count := make([]uint, len(s.dims))
	count[0] = 1
	for i := 1; i < len(s.dims); i++ {
		count[i] = s.dims[i]
	}

	memspace, err := hdf5.CreateSimpleDataspace(count, count)
	if err != nil {
		return nil, errors.Wrap(err, "create memspace")
	}
	defer memspace.Close()

	dataspace := s.dataset.Space()
	offset := make([]uint, len(s.dims))

	for k, row := range rows {
		if row < 0 || row >= s.rows {
			return nil, errors.Errorf("row %d out of range [0, %d)", row, s.rows)
		}
		offset[0] = uint(row)
		if err := dataspace.SelectHyperslab(offset, nil, count, nil); err != nil {
			return nil, errors.Wrapf(err, "select row %d", row)
		}

		var views [][]float32
		if s.byteSize == 4 {
			buf := make([]float32, s.views*s.dim)
			if err := s.dataset.ReadSubset(&buf, memspace, dataspace); err != nil {
				return nil, errors.Wrapf(err, "read row %d", row)
			}
			views = convert1DChunk[float32](buf, s.dim, s.views)
		} else {
			buf := make([]float64, s.views*s.dim)
			if err := s.dataset.ReadSubset(&buf, memspace, dataspace); err != nil {
				return nil, errors.Wrapf(err, "read row %d", row)
			}
			views = convert1DChunk[float64](buf, s.dim, s.views)
		}

		for v := 0; v < s.views; v++ {
			out[v][k] = views[v]
		}
	}

	return out, nil
}

func (s *Hdf5Source) Close() error {
	s.dataset.Close()
	return s.file.Close()
}

func convert1DChunk[D float32 | float64](input []D, dimensions int, batchRows int) [][]float32 {
	chunkData := make([][]float32, batchRows)
	for i := range chunkData {
		chunkData[i] = make([]float32, dimensions)
		for j := 0; j < dimensions; j++ {
			chunkData[i][j] = float32(input[i*dimensions+j])
		}
	}
	return chunkData
}
