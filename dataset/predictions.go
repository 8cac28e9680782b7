package dataset

import (
	"os"
	"sort"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

// predictionRow is one exported prediction joined with its sample metadata.
type predictionRow struct {
	ImgID     string `csv:"img_id"`
	Postcode  string `csv:"pcd"`
	OA11      string `csv:"oa11"`
	LSOA11    string `csv:"lsoa11"`
	TrueLabel int    `csv:"true_label"`
	Predicted int    `csv:"predicted_label"`
}

// WritePredictions joins predictions with sample metadata and true labels
// and writes them as CSV, one row per sample ordered by ascending sample
// index. predicted[k] must belong to indices[k].
func (d *Dataset) WritePredictions(indices []int, predicted []int, path string) error {
	if len(predicted) != len(indices) {
		return errors.Errorf("%d predictions for %d samples", len(predicted), len(indices))
	}

	order := make([]int, len(indices))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return indices[order[a]] < indices[order[b]] })

	labels := d.table.Labels()
	rows := make([]*predictionRow, len(indices))
	for k, i := range order {
		meta := d.table.Meta(indices[i])
		rows[k] = &predictionRow{
			ImgID:     meta.ImgID,
			Postcode:  meta.Postcode,
			OA11:      meta.OA11,
			LSOA11:    meta.LSOA11,
			TrueLabel: labels[indices[i]],
			Predicted: predicted[i],
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create prediction file %s", path)
	}
	defer f.Close()

	if err := gocsv.Marshal(&rows, f); err != nil {
		return errors.Wrapf(err, "write prediction file %s", path)
	}
	return nil
}

// WriteTestPredictions exports predictions covering the whole test
// partition, aligned with the order a TestIterator pass produces.
func (d *Dataset) WriteTestPredictions(predicted []int, path string) error {
	if !d.assigned {
		return errors.WithStack(ErrNotPartitioned)
	}
	return d.WritePredictions(d.assign.Test, predicted, path)
}

// WriteValidationPredictions exports predictions covering the whole
// validation partition; for split kinds without one the rows come from the
// training partition, matching the validation iterator routing.
func (d *Dataset) WriteValidationPredictions(predicted []int, path string) error {
	if !d.assigned {
		return errors.WithStack(ErrNotPartitioned)
	}
	return d.WritePredictions(d.validationPart(), predicted, path)
}
