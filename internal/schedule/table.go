package schedule

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	// ErrNoResource indicates that no schedule file was selected.
	ErrNoResource = errors.New("schedule: no resource selected")

	// ErrEmptyTable indicates a schedule without rows.
	ErrEmptyTable = errors.New("schedule: table has no rows")

	// ErrNotIncreasing indicates a time column that is not strictly increasing.
	ErrNotIncreasing = errors.New("schedule: time column not strictly increasing")

	// ErrRowWidth indicates a row whose value count differs from the zone count.
	ErrRowWidth = errors.New("schedule: row width does not match zones")
)

// Row is one (time, per-zone value) entry.
type Row struct {
	Time   float64
	Values []float64
}

// Table is an ordered schedule with strictly increasing row times.
type Table struct {
	Source string
	Rows   []Row
}

// NewTable validates rows and returns a table owning a copy of them.
func NewTable(rows []Row) (*Table, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}
	width := len(rows[0].Values)
	t := &Table{Rows: make([]Row, len(rows))}
	for i, r := range rows {
		if len(r.Values) != width {
			return nil, fmt.Errorf("row %d: %w (%d values, want %d)", i, ErrRowWidth, len(r.Values), width)
		}
		if i > 0 && !(r.Time > rows[i-1].Time) {
			return nil, fmt.Errorf("row %d (t=%g): %w", i, r.Time, ErrNotIncreasing)
		}
		vals := make([]float64, width)
		copy(vals, r.Values)
		t.Rows[i] = Row{Time: r.Time, Values: vals}
	}
	return t, nil
}

// Zones returns the number of per-zone values per row.
func (t *Table) Zones() int {
	if t == nil || len(t.Rows) == 0 {
		return 0
	}
	return len(t.Rows[0].Values)
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	c := &Table{Source: t.Source, Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		vals := make([]float64, len(r.Values))
		copy(vals, r.Values)
		c.Rows[i] = Row{Time: r.Time, Values: vals}
	}
	return c
}

// Load reads a schedule file: comma-separated, no header, rows of
// time followed by one value per zone.
func Load(path string, zones int) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrNoResource
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schedule: %w", err)
	}
	defer file.Close()

	t, err := Parse(file, zones)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.Source = path
	return t, nil
}

// Parse reads schedule rows from r. zones <= 0 accepts any consistent width.
func Parse(r io.Reader, zones int) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: expected time and at least one value", i+1)
		}
		vals := make([]float64, len(rec))
		for j, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", i+1, j+1, err)
			}
			vals[j] = v
		}
		if zones > 0 && len(vals)-1 != zones {
			return nil, fmt.Errorf("line %d: %w (%d values, want %d)", i+1, ErrRowWidth, len(vals)-1, zones)
		}
		rows = append(rows, Row{Time: vals[0], Values: vals[1:]})
	}

	return NewTable(rows)
}
