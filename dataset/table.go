// Package dataset serves partitioned mini-batches of view embeddings and
// one-hot ordinal labels to a training or evaluation driver. Features come
// from a FeatureSource, labels and sample metadata from a Table, and the
// partition assignment from the partition package.
package dataset

import (
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

// Meta holds the identifier columns carried through to prediction exports.
type Meta struct {
	ImgID    string
	Postcode string
	OA11     string
	LSOA11   string
}

// Table is the per-sample label and metadata table covering the whole
// population. Row order matches the feature storage row order.
type Table struct {
	labels []int
	groups []string
	meta   []Meta
}

// NewTable builds a table from already parsed columns. groups may be nil for
// an unconstrained population, otherwise it must cover every sample.
func NewTable(labels []int, groups []string, meta []Meta) (*Table, error) {
	if len(labels) == 0 {
		return nil, errors.New("label table has no rows")
	}
	if groups != nil && len(groups) != len(labels) {
		return nil, errors.Errorf("%d group keys for %d labels", len(groups), len(labels))
	}
	if meta != nil && len(meta) != len(labels) {
		return nil, errors.Errorf("%d metadata rows for %d labels", len(meta), len(labels))
	}
	if meta == nil {
		meta = make([]Meta, len(labels))
	}
	return &Table{labels: labels, groups: groups, meta: meta}, nil
}

// LoadTable reads the label CSV. labelColumn names the ordinal label column;
// its values are parsed as integers and shifted by labelOffset, so decile
// tables stored 1..10 load as 0..9 with an offset of -1. groupColumn names
// the constraint key column and may be empty to disable constraints. The
// img_id, pcd, oa11 and lsoa11 columns are picked up as sample metadata when
// present.
func LoadTable(path, labelColumn, groupColumn string, labelOffset int) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open label table %s", path)
	}
	defer f.Close()

	rows, err := gocsv.CSVToMaps(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse label table %s", path)
	}
	if len(rows) == 0 {
		return nil, errors.Errorf("label table %s has no rows", path)
	}

	labels := make([]int, len(rows))
	var groups []string
	if groupColumn != "" {
		groups = make([]string, len(rows))
	}
	meta := make([]Meta, len(rows))

	for i, row := range rows {
		raw, ok := row[labelColumn]
		if !ok {
			return nil, errors.Errorf("label table %s has no column %q", path, labelColumn)
		}
		label, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "label table %s row %d: bad label %q", path, i, raw)
		}
		labels[i] = label + labelOffset

		if groupColumn != "" {
			key, ok := row[groupColumn]
			if !ok {
				return nil, errors.Errorf("label table %s has no column %q", path, groupColumn)
			}
			groups[i] = key
		}

		meta[i] = Meta{
			ImgID:    row["img_id"],
			Postcode: row["pcd"],
			OA11:     row["oa11"],
			LSOA11:   row["lsoa11"],
		}
	}

	return NewTable(labels, groups, meta)
}

// Len is the number of samples the table covers.
func (t *Table) Len() int { return len(t.labels) }

// Labels returns the mapped ordinal label of every sample.
func (t *Table) Labels() []int { return t.labels }

// Groups returns the constraint key of every sample, or nil when the table
// was loaded without a constraint column.
func (t *Table) Groups() []string { return t.groups }

// Meta returns the metadata of one sample.
func (t *Table) Meta(i int) Meta { return t.meta[i] }
