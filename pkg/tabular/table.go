// Package tabular holds the in-memory table shape shared by the sandbox,
// the warehouse and the chart builder.
package tabular

import (
	"time"

	"github.com/pkg/errors"
)

// Table is an ordered set of named columns with row-major values.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// New returns an empty table with the given columns.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// FromColumns builds a table from column-major data. Every column must have
// the same length.
func FromColumns(columns []string, data map[string][]any) (*Table, error) {
	n := -1
	for _, c := range columns {
		vals, ok := data[c]
		if !ok {
			return nil, errors.Errorf("column %q has no values", c)
		}
		if n >= 0 && len(vals) != n {
			return nil, errors.Errorf("column %q has %d values, expected %d", c, len(vals), n)
		}
		n = len(vals)
	}
	if n < 0 {
		n = 0
	}
	t := New(columns...)
	t.Rows = make([][]any, n)
	for i := 0; i < n; i++ {
		row := make([]any, len(columns))
		for j, c := range columns {
			row[j] = Normalize(data[c][i])
		}
		t.Rows[i] = row
	}
	return t, nil
}

// FromRecords builds a table from a slice of records. Column order follows
// first appearance across the records.
func FromRecords(records []map[string]any, order []string) *Table {
	seen := map[string]bool{}
	var columns []string
	for _, c := range order {
		if !seen[c] {
			seen[c] = true
			columns = append(columns, c)
		}
	}
	for _, r := range records {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	t := New(columns...)
	for _, r := range records {
		row := make([]any, len(columns))
		for j, c := range columns {
			row[j] = Normalize(r[c])
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Index returns the position of a column, or -1.
func (t *Table) Index(name string) int {
	if t == nil {
		return -1
	}
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns the values of one column. Rows too short to hold the
// column contribute nothing, so columns of a ragged table differ in length.
func (t *Table) Column(name string) ([]any, bool) {
	idx := t.Index(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		if idx < len(row) {
			out = append(out, row[idx])
		}
	}
	return out, true
}

// ColumnMap returns the column-major view used on the wire.
func (t *Table) ColumnMap() map[string][]any {
	out := make(map[string][]any, len(t.Columns))
	for _, c := range t.Columns {
		out[c], _ = t.Column(c)
	}
	return out
}

// Normalize maps driver and VM values onto the JSON-friendly set
// (nil, bool, int64, float64, string).
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, int64, float64, string:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case uint:
		return int64(x)
	case uint32:
		return int64(x)
	case uint16:
		return int64(x)
	case uint8:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format("2006-01-02 15:04:05")
	default:
		return x
	}
}
