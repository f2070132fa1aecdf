// Package relation provides the deferred tabular relation the recipe engine
// folds steps over, the materialized Frame it produces, and the Set variant
// distinguishing a single relation from one relation per source file.
package relation

import (
	"fmt"
	"slices"
)

// Frame is a materialized table. A nil cell is null.
//
// Frames are treated as immutable once built: operations construct new row
// slices instead of writing into rows they received.
type Frame struct {
	Columns []string
	Rows    [][]any
}

// NewFrame builds a frame from columns and rows.
func NewFrame(columns []string, rows ...[]any) *Frame {
	if rows == nil {
		rows = [][]any{}
	}
	return &Frame{Columns: slices.Clone(columns), Rows: rows}
}

// FromRecords builds a frame from record maps using the given column order.
// Columns missing from a record are null.
func FromRecords(columns []string, records ...map[string]any) *Frame {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		row := make([]any, len(columns))
		for i, c := range columns {
			row[i] = rec[c]
		}
		rows = append(rows, row)
	}
	return NewFrame(columns, rows...)
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// ColumnIndex returns the position of a column or -1.
func (f *Frame) ColumnIndex(name string) int {
	return slices.Index(f.Columns, name)
}

// MustColumns resolves column names to positions, failing on the first
// missing column.
func (f *Frame) MustColumns(names ...string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		p := f.ColumnIndex(n)
		if p < 0 {
			return nil, &ColumnNotFoundError{Column: n, Available: f.Columns}
		}
		idx[i] = p
	}
	return idx, nil
}

// Column returns a copy of the values of one column.
func (f *Frame) Column(name string) ([]any, error) {
	p := f.ColumnIndex(name)
	if p < 0 {
		return nil, &ColumnNotFoundError{Column: name, Available: f.Columns}
	}
	out := make([]any, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[p]
	}
	return out, nil
}

// Records returns the rows as column-keyed maps.
func (f *Frame) Records() []map[string]any {
	out := make([]map[string]any, len(f.Rows))
	for i, row := range f.Rows {
		rec := make(map[string]any, len(f.Columns))
		for j, c := range f.Columns {
			rec[c] = row[j]
		}
		out[i] = rec
	}
	return out
}

// Head returns the first n rows. n < 0 keeps every row.
func (f *Frame) Head(n int) *Frame {
	if n < 0 || n >= len(f.Rows) {
		return f
	}
	return &Frame{Columns: f.Columns, Rows: f.Rows[:n]}
}

// WithRows returns a frame sharing f's columns with different rows.
func (f *Frame) WithRows(rows [][]any) *Frame {
	if rows == nil {
		rows = [][]any{}
	}
	return &Frame{Columns: f.Columns, Rows: rows}
}

// ColumnNotFoundError is returned when an operation references a column
// the frame does not have.
type ColumnNotFoundError struct {
	Column    string
	Available []string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column %q not found (available: %v)", e.Column, e.Available)
}
