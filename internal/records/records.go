// Package records reads the user/website input table and writes the advisory
// status column back.
package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Required input columns.
const (
	ColWebsite      = "website"
	ColUserName     = "user_name"
	ColUserLocation = "user_location"
	ColUserEmail    = "user_email"
	ColStatus       = "status"
)

// Record is one input row. Status is advisory; the ledger decides whether a
// record still needs work.
type Record struct {
	Index        int    `json:"index"`
	Website      string `json:"website"`
	UserName     string `json:"user_name"`
	UserLocation string `json:"user_location,omitempty"`
	UserEmail    string `json:"user_email"`
	Status       string `json:"status,omitempty"`
}

// Reader streams records from CSV with a header row.
type Reader struct {
	csv   *csv.Reader
	cols  map[string]int
	index int
}

// NewReader reads the header and checks the required columns.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("records: missing header row")
		}
		return nil, fmt.Errorf("records: read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, required := range []string{ColWebsite, ColUserName, ColUserEmail} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("records: missing column %q", required)
		}
	}
	return &Reader{csv: cr, cols: cols}, nil
}

// Next returns the next non-blank record or io.EOF.
func (r *Reader) Next() (Record, error) {
	for {
		row, err := r.csv.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, io.EOF
			}
			return Record{}, fmt.Errorf("records: row %d: %w", r.index+1, err)
		}
		idx := r.index
		r.index++
		rec := Record{
			Index:        idx,
			Website:      r.field(row, ColWebsite),
			UserName:     r.field(row, ColUserName),
			UserLocation: r.field(row, ColUserLocation),
			UserEmail:    r.field(row, ColUserEmail),
			Status:       r.field(row, ColStatus),
		}
		if rec.Website == "" && rec.UserEmail == "" {
			continue
		}
		return rec, nil
	}
}

// ReadAll drains the reader.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func (r *Reader) field(row []string, col string) string {
	i, ok := r.cols[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Load reads every record from a CSV file.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("records: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	r, err := NewReader(f)
	if err != nil {
		return nil, err
	}
	return r.ReadAll()
}

// WriteStatus sets the status column of the row at index (0-based, header
// excluded) and rewrites the file atomically. The column is added if absent.
func WriteStatus(path string, index int, status string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("records: open %s: %w", path, err)
	}
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("records: read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return errors.New("records: missing header row")
	}
	col := -1
	for i, name := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(name), ColStatus) {
			col = i
		}
	}
	if col < 0 {
		col = len(rows[0])
		rows[0] = append(rows[0], ColStatus)
	}
	row := index + 1
	if index < 0 || row >= len(rows) {
		return fmt.Errorf("records: row %d out of range", index)
	}
	for len(rows[row]) <= col {
		rows[row] = append(rows[row], "")
	}
	rows[row][col] = status

	tmp, err := os.CreateTemp(filepath.Dir(path), ".records-*")
	if err != nil {
		return fmt.Errorf("records: temp file: %w", err)
	}
	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("records: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("records: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("records: rename: %w", err)
	}
	return nil
}
