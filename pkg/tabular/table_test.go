package tabular

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromColumns(t *testing.T) {
	tbl, err := FromColumns([]string{"region", "amount"}, map[string][]any{
		"region": {"north", "south"},
		"amount": {10, 2.5},
	})
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())
	require.Equal(t, []any{"north", int64(10)}, tbl.Rows[0])

	amounts, ok := tbl.Column("amount")
	require.True(t, ok)
	require.Equal(t, []any{int64(10), 2.5}, amounts)

	_, ok = tbl.Column("missing")
	require.False(t, ok)
}

func TestFromColumns_LengthMismatch(t *testing.T) {
	_, err := FromColumns([]string{"a", "b"}, map[string][]any{
		"a": {1, 2},
		"b": {1},
	})
	require.Error(t, err)
}

func TestFromRecords_ColumnOrder(t *testing.T) {
	tbl := FromRecords([]map[string]any{
		{"name": "ann", "age": 3},
		{"name": "bob", "city": "rome"},
	}, []string{"name", "age"})
	require.Equal(t, []string{"name", "age", "city"}, tbl.Columns)
	require.Equal(t, []any{"bob", nil, "rome"}, tbl.Rows[1])
}

func TestNormalize_Time(t *testing.T) {
	d := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "2024-03-01", Normalize(d))
	require.Equal(t, "2024-03-01 10:30:00", Normalize(d.Add(10*time.Hour+30*time.Minute)))
	require.Equal(t, "abc", Normalize([]byte("abc")))
}
