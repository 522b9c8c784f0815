package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// LoadCSV reads a dataset from a headerless CSV file where every row is
// the feature vector followed by the label (0 or 1) in the last column.
func LoadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return nil, fmt.Errorf("opening dataset %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading dataset %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("dataset %s: no rows", path)
	}

	nf := len(records[0]) - 1
	if nf < 1 {
		return nil, fmt.Errorf("dataset %s: rows need at least one feature and a label", path)
	}
	x := make([][]float64, 0, len(records))
	y := make([]Label, 0, len(records))
	for i, rec := range records {
		if len(rec) != nf+1 {
			return nil, fmt.Errorf("dataset %s: row %d has %d columns, want %d", path, i, len(rec), nf+1)
		}
		row := make([]float64, nf)
		for j := 0; j < nf; j++ {
			v, err := strconv.ParseFloat(rec[j], 64)
			if err != nil {
				return nil, fmt.Errorf("dataset %s: row %d column %d: %w", path, i, j, err)
			}
			row[j] = v
		}
		lbl, err := strconv.Atoi(rec[nf])
		if err != nil || (lbl != 0 && lbl != 1) {
			return nil, fmt.Errorf("dataset %s: row %d has invalid label %q", path, i, rec[nf])
		}
		x = append(x, row)
		y = append(y, Label(lbl))
	}
	return New(x, y)
}

// SaveCSV writes the dataset in the same headerless layout LoadCSV reads.
func SaveCSV(d *Dataset, path string) error {
	f, err := os.Create(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	rec := make([]string, d.NumFeatures+1)
	for _, s := range d.Samples {
		for j, v := range s.Features {
			rec[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		rec[d.NumFeatures] = strconv.Itoa(int(s.Label))
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return nil
}
