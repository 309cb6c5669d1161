package sim

import (
	"fmt"
	"slices"
)

// Table is the row-oriented, column-named output of a simulation.
// Every cell is a float64; integer-valued columns (iteration, repetition_run)
// hold whole numbers.
type Table struct {
	Columns []string
	Rows    [][]float64
}

// NewTable returns an empty table with the given columns.
func NewTable(columns ...string) *Table {
	return &Table{Columns: slices.Clone(columns)}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	return slices.Index(t.Columns, name)
}

// Append adds one row. The row must have one value per column.
func (t *Table) Append(row ...float64) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, slices.Clone(row))
	return nil
}

// Column returns a copy of the named column.
func (t *Table) Column(name string) ([]float64, error) {
	idx := t.Index(name)
	if idx < 0 {
		return nil, fmt.Errorf("unknown column %q", name)
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// AddColumn appends a column holding values, one per existing row.
func (t *Table) AddColumn(name string, values []float64) error {
	if len(values) != len(t.Rows) {
		return fmt.Errorf("column %q has %d values, table has %d rows", name, len(values), len(t.Rows))
	}
	if t.Index(name) >= 0 {
		return fmt.Errorf("column %q already exists", name)
	}
	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], values[i])
	}
	return nil
}

// AppendTable appends all rows of other. Columns must match exactly.
func (t *Table) AppendTable(other *Table) error {
	if !slices.Equal(t.Columns, other.Columns) {
		return fmt.Errorf("column mismatch: %v vs %v", t.Columns, other.Columns)
	}
	for _, row := range other.Rows {
		t.Rows = append(t.Rows, slices.Clone(row))
	}
	return nil
}

// Filter returns a new table holding the rows for which keep returns true.
func (t *Table) Filter(keep func(row []float64) bool) *Table {
	out := NewTable(t.Columns...)
	for _, row := range t.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, slices.Clone(row))
		}
	}
	return out
}

// Join returns the tables side by side. All tables must have the same length.
func Join(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return NewTable(), nil
	}
	out := NewTable()
	n := tables[0].Len()
	out.Rows = make([][]float64, n)
	for _, tb := range tables {
		if tb.Len() != n {
			return nil, fmt.Errorf("cannot join tables of %d and %d rows", n, tb.Len())
		}
		out.Columns = append(out.Columns, tb.Columns...)
		for i, row := range tb.Rows {
			out.Rows[i] = append(out.Rows[i], row...)
		}
	}
	return out, nil
}
