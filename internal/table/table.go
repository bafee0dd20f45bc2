// Package table holds the loosely typed row-table that every dpm source
// produces and every target consumes.
//
// A Table is row-major. Cells are one of nil (null), string, int64, float64,
// bool or time.Time. Each column carries a declared Type; TypeAny marks
// columns whose cells have not been coerced yet (for example raw Sheets
// values).
package table

import (
	"fmt"
	"slices"

	"dpm/internal/domain"
)

// Type is the declared type of a column.
type Type string

// Supported column types.
const (
	TypeAny       Type = "ANY"
	TypeString    Type = "STRING"
	TypeInt64     Type = "INT64"
	TypeFloat64   Type = "FLOAT64"
	TypeBool      Type = "BOOL"
	TypeTimestamp Type = "TIMESTAMP"
)

// ParseType maps a type name (case-insensitive, BigQuery aliases accepted)
// onto a Type.
func ParseType(s string) (Type, error) {
	switch upper(s) {
	case "STRING", "VARCHAR", "TEXT":
		return TypeString, nil
	case "INT64", "INTEGER", "INT", "BIGINT":
		return TypeInt64, nil
	case "FLOAT64", "FLOAT", "DOUBLE", "NUMERIC", "REAL":
		return TypeFloat64, nil
	case "BOOL", "BOOLEAN":
		return TypeBool, nil
	case "TIMESTAMP", "DATETIME", "DATE":
		return TypeTimestamp, nil
	case "ANY", "":
		return TypeAny, nil
	default:
		return "", domain.ErrValidation("unsupported column type %q", s)
	}
}

// IsNumeric reports whether t is INT64 or FLOAT64.
func (t Type) IsNumeric() bool { return t == TypeInt64 || t == TypeFloat64 }

// Column is a named, typed column.
type Column struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
}

// Table is a row-major, loosely typed table.
type Table struct {
	Columns []Column
	Rows    [][]any
}

// New returns an empty table with the given columns.
func New(columns ...Column) *Table {
	return &Table{Columns: slices.Clone(columns)}
}

// FromStrings builds a STRING table from a header and string records.
// Records are padded or truncated to the header width and empty fields
// become null.
func FromStrings(header []string, records [][]string) *Table {
	t := &Table{Columns: make([]Column, len(header))}
	for i, h := range header {
		t.Columns[i] = Column{Name: h, Type: TypeString}
	}
	t.Rows = make([][]any, 0, len(records))
	for _, rec := range records {
		row := make([]any, len(header))
		for i := range header {
			if i < len(rec) && rec[i] != "" {
				row[i] = rec[i]
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// FromRecords builds a table from a column list and a slice of maps keyed by
// column name. Missing keys become null.
func FromRecords(columns []Column, records []map[string]any) *Table {
	t := New(columns...)
	for _, rec := range records {
		row := make([]any, len(columns))
		for i, c := range columns {
			row[i] = rec[c.Name]
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Width returns the number of columns.
func (t *Table) Width() int { return len(t.Columns) }

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool { return t.ColumnIndex(name) >= 0 }

// Values returns a copy of the cells of column idx.
func (t *Table) Values(idx int) []any {
	out := make([]any, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[idx]
	}
	return out
}

// SetValues replaces the cells of column idx. len(values) must equal Len().
func (t *Table) SetValues(idx int, values []any) {
	for r := range t.Rows {
		t.Rows[r][idx] = values[r]
	}
}

// Record returns row r as a map keyed by column name.
func (t *Table) Record(r int) map[string]any {
	rec := make(map[string]any, len(t.Columns))
	for i, c := range t.Columns {
		rec[c.Name] = t.Rows[r][i]
	}
	return rec
}

// AppendRow appends a row. Short rows are padded with nulls.
func (t *Table) AppendRow(cells ...any) {
	row := make([]any, len(t.Columns))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
}

// Clone returns a deep copy of the table structure. Cell values are
// immutable and shared.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns: slices.Clone(t.Columns),
		Rows:    make([][]any, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = slices.Clone(row)
	}
	return out
}

// Slice returns rows [start, end) as a new table. Bounds are clamped; a
// negative end means "to the last row".
func (t *Table) Slice(start, end int) *Table {
	n := len(t.Rows)
	if end < 0 || end > n {
		end = n
	}
	if start < 0 {
		start = 0
	}
	if start > end {
		start = end
	}
	out := New(t.Columns...)
	out.Rows = make([][]any, 0, end-start)
	for _, row := range t.Rows[start:end] {
		out.Rows = append(out.Rows, slices.Clone(row))
	}
	return out
}

// SliceColumns returns columns [start, end) as a new table, with the same
// clamping rules as Slice.
func (t *Table) SliceColumns(start, end int) *Table {
	n := len(t.Columns)
	if end < 0 || end > n {
		end = n
	}
	if start < 0 {
		start = 0
	}
	if start > end {
		start = end
	}
	idx := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		idx = append(idx, i)
	}
	return t.project(idx)
}

// SelectColumns returns the named columns in the requested order.
func (t *Table) SelectColumns(names []string) (*Table, error) {
	idx := make([]int, 0, len(names))
	var missing []string
	for _, n := range names {
		i := t.ColumnIndex(n)
		if i < 0 {
			missing = append(missing, n)
			continue
		}
		idx = append(idx, i)
	}
	if len(missing) > 0 {
		return nil, domain.ErrValidation("columns not found: %v", missing)
	}
	return t.project(idx), nil
}

func (t *Table) project(idx []int) *Table {
	out := &Table{Columns: make([]Column, len(idx)), Rows: make([][]any, len(t.Rows))}
	for j, i := range idx {
		out.Columns[j] = t.Columns[i]
	}
	for r, row := range t.Rows {
		nr := make([]any, len(idx))
		for j, i := range idx {
			nr[j] = row[i]
		}
		out.Rows[r] = nr
	}
	return out
}

// DropEmptyRows removes rows whose cells are all blank. It returns the
// number of rows removed.
func (t *Table) DropEmptyRows() int {
	kept := t.Rows[:0]
	for _, row := range t.Rows {
		if !rowBlank(row) {
			kept = append(kept, row)
		}
	}
	dropped := len(t.Rows) - len(kept)
	clear(t.Rows[len(kept):])
	t.Rows = kept
	return dropped
}

func rowBlank(row []any) bool {
	for _, v := range row {
		if !IsBlank(v) {
			return false
		}
	}
	return true
}

// RenameColumns applies names positionally. len(names) must equal Width().
func (t *Table) RenameColumns(names []string) error {
	if len(names) != len(t.Columns) {
		return fmt.Errorf("rename columns: got %d names for %d columns", len(names), len(t.Columns))
	}
	for i := range t.Columns {
		t.Columns[i].Name = names[i]
	}
	return nil
}

// Concat stacks b under a. The result holds a's columns followed by any
// columns only b has; cells missing on either side are null. A column whose
// declared type differs between the inputs becomes TypeAny.
func Concat(a, b *Table) *Table {
	out := New(a.Columns...)
	for _, c := range b.Columns {
		if i := out.ColumnIndex(c.Name); i >= 0 {
			if out.Columns[i].Type != c.Type {
				out.Columns[i].Type = TypeAny
			}
			continue
		}
		out.Columns = append(out.Columns, c)
	}
	out.Rows = make([][]any, 0, len(a.Rows)+len(b.Rows))
	for _, src := range []*Table{a, b} {
		pos := make([]int, len(src.Columns))
		for i, c := range src.Columns {
			pos[i] = out.ColumnIndex(c.Name)
		}
		for _, row := range src.Rows {
			nr := make([]any, len(out.Columns))
			for i, v := range row {
				nr[pos[i]] = v
			}
			out.Rows = append(out.Rows, nr)
		}
	}
	return out
}

// StringRows renders every cell with FormatValue, nulls as "".
func (t *Table) StringRows() [][]string {
	out := make([][]string, len(t.Rows))
	for r, row := range t.Rows {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = FormatValue(v)
		}
		out[r] = rec
	}
	return out
}
