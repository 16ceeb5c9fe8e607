package chart

import (
	"encoding/json"
	"testing"

	"github.com/go-go-golems/tablechat/pkg/tabular"
	"github.com/stretchr/testify/require"
)

func salesTable(n int) *tabular.Table {
	t := tabular.New("month", "amount")
	for i := 0; i < n; i++ {
		t.Rows = append(t.Rows, []any{int64(i + 1), float64(i) * 1.5})
	}
	return t
}

func TestBuild_Defaults(t *testing.T) {
	cfg, err := Build(salesTable(3), Input{X: "month", Y: "amount"})
	require.NoError(t, err)
	require.Equal(t, "line", cfg.Chart.Type)
	require.Equal(t, "Chart Generated", cfg.Title.Text)
	require.Equal(t, []string{"1", "2", "3"}, cfg.XAxis.Categories)
	require.Nil(t, cfg.XAxis.Max)
	require.Equal(t, []Point{{0, 0}, {1, 1.5}, {2, 3}}, cfg.Series[0].Data)
	require.Contains(t, cfg.PlotOptions, "line")

	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"zoomType":"xy"`)
	require.Contains(t, string(raw), `"max":null`)
	require.Contains(t, string(raw), `"credits":{"enabled":false}`)
}

func TestBuild_ScrollWindowForManyCategories(t *testing.T) {
	cfg, err := Build(salesTable(12), Input{X: "month", Y: "amount", Kind: "bar", Title: "Sales"})
	require.NoError(t, err)
	require.NotNil(t, cfg.XAxis.Max)
	require.Equal(t, 9, *cfg.XAxis.Max)
	require.Equal(t, "bar", cfg.Chart.Type)
	require.Contains(t, cfg.PlotOptions, "bar")
}

func TestBuild_MissingColumn(t *testing.T) {
	_, err := Build(salesTable(2), Input{X: "month", Y: "profit"})
	require.EqualError(t, err, "Specified x or y column does not exist in the input data")
}

func TestBuild_RaggedColumns(t *testing.T) {
	tbl := tabular.New("month", "amount")
	tbl.Rows = [][]any{{int64(1), 2.5}, {int64(2)}}
	_, err := Build(tbl, Input{X: "month", Y: "amount"})
	require.EqualError(t, err, "x and y columns must be of the same length")
}

func TestBuild_NonNumericY(t *testing.T) {
	tbl := tabular.New("name", "score")
	tbl.Rows = [][]any{{"a", "12"}, {"b", "n/a"}}
	_, err := Build(tbl, Input{X: "name", Y: "score"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "n/a")
}

func TestBuild_NumericStrings(t *testing.T) {
	tbl := tabular.New("name", "score")
	tbl.Rows = [][]any{{"a", "12"}, {nil, int64(3)}}
	cfg, err := Build(tbl, Input{X: "name", Y: "score"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "None"}, cfg.XAxis.Categories)
	require.Equal(t, 12.0, cfg.Series[0].Data[0].Y)
}
