package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/tablechat/pkg/llm/llmtest"
	"github.com/go-go-golems/tablechat/pkg/persistence/chatstore"
	"github.com/go-go-golems/tablechat/pkg/prompts"
	"github.com/go-go-golems/tablechat/pkg/sandbox"
	"github.com/go-go-golems/tablechat/pkg/scratch"
	"github.com/go-go-golems/tablechat/pkg/tabular"
	"github.com/go-go-golems/tablechat/pkg/turns"
	"github.com/go-go-golems/tablechat/pkg/warehouse"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	sandbox.MaybeRunWorker()
	os.Exit(m.Run())
}

type testEnv struct {
	d     *Dispatcher
	model *llmtest.Scripted
	wh    *warehouse.SQLite
	store *chatstore.SQLStore
	sess  *Session
}

func newTestEnv(t *testing.T, replies ...string) *testEnv {
	t.Helper()
	dir := t.TempDir()

	wh, err := warehouse.Open(filepath.Join(dir, "warehouse.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = wh.Close() })

	dsn, err := chatstore.SQLiteDSNForFile(filepath.Join(dir, "chat.db"))
	require.NoError(t, err)
	store, err := chatstore.Open(context.Background(), chatstore.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exec, err := sandbox.NewExecutor(sandbox.Options{Timeout: 5 * time.Second})
	require.NoError(t, err)

	pack, err := prompts.Default()
	require.NoError(t, err)

	model := llmtest.New(replies...)
	return &testEnv{
		d: &Dispatcher{
			Model:     model,
			Warehouse: wh,
			Store:     store,
			Runner:    exec,
			Prompts:   pack,
		},
		model: model,
		wh:    wh,
		store: store,
		sess:  &Session{ID: "sess-1", Scratch: scratch.New()},
	}
}

// seedSales loads a small sales table and records it as the session's dataset.
func (e *testEnv) seedSales(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	tbl := tabular.New("region", "amount")
	tbl.Rows = [][]any{
		{"north", int64(10)},
		{"south", int64(4)},
		{"north", int64(5)},
	}
	physical := warehouse.NewPhysicalName()
	require.NoError(t, e.wh.CreateTable(ctx, physical, tbl))
	ddl, err := e.wh.TableDDL(ctx, physical)
	require.NoError(t, err)

	_, err = e.store.SaveDataset(ctx, e.sess.ID, chatstore.Dataset{
		Name:    "Retail",
		DDLs:    map[string]string{"sales": strings.ReplaceAll(ddl, physical, "sales")},
		Mapping: map[string]string{"sales": physical},
	})
	require.NoError(t, err)
	return physical
}

func (e *testEnv) dispatch(t *testing.T, name, raw string) json.RawMessage {
	t.Helper()
	out, err := e.d.Dispatch(context.Background(), e.sess, name, json.RawMessage(raw))
	require.NoError(t, err)
	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	content, ok := env["Observation"]
	require.True(t, ok, "observation envelope missing in %s", out)
	return content
}

func asString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(raw, &s), "not a string: %s", raw)
	return s
}

func TestDispatch_UnknownTool(t *testing.T) {
	e := newTestEnv(t)
	out, err := e.d.Dispatch(context.Background(), e.sess, "rm_rf", json.RawMessage(`{}`))
	require.True(t, errors.Is(err, ErrUnknownTool))
	require.Empty(t, out)
	require.Zero(t, e.sess.Scratch.Len())
}

func TestDispatch_InvalidArgumentsBecomeObservation(t *testing.T) {
	e := newTestEnv(t)
	msg := asString(t, e.dispatch(t, NameExecuteQuery, `{"sql": "SELECT 1"}`))
	require.Contains(t, msg, "invalid arguments for execute_query")
	msg = asString(t, e.dispatch(t, NameGenerateData, ``))
	require.Contains(t, msg, "action_input is missing")
	require.Zero(t, e.sess.Scratch.Len())
	require.Empty(t, e.model.Calls())
}

func TestExecuteQuery_RewritesAndStores(t *testing.T) {
	e := newTestEnv(t)
	e.seedSales(t)

	raw := e.dispatch(t, NameExecuteQuery, `{"query": "SELECT region, SUM(amount) AS total FROM sales GROUP BY region ORDER BY region"}`)
	var res QueryResult
	require.NoError(t, json.Unmarshal(raw, &res))
	require.Equal(t, 2, res.Rows)
	require.Equal(t, []string{"region", "total"}, res.Columns)

	tbl, ok := e.sess.Scratch.Table(res.RefKey)
	require.True(t, ok)
	require.Equal(t, []any{"north", int64(15)}, tbl.Rows[0])

	// bare string input
	raw = e.dispatch(t, NameExecuteQuery, `"SELECT COUNT(*) AS n FROM sales"`)
	require.NoError(t, json.Unmarshal(raw, &res))
	require.Equal(t, 1, res.Rows)
	require.Equal(t, 2, e.sess.Scratch.Len())
}

func TestExecuteQuery_FailureStoresNothing(t *testing.T) {
	e := newTestEnv(t)
	e.seedSales(t)

	raw := e.dispatch(t, NameExecuteQuery, `{"query": "SELECT * FROM customers"}`)
	var fail map[string]string
	require.NoError(t, json.Unmarshal(raw, &fail))
	require.True(t, strings.HasPrefix(fail["error_message"], "An error occurred during data fetching: "))
	require.NotContains(t, fail, "ref_key")
	require.Zero(t, e.sess.Scratch.Len())
}

func TestChartConfig(t *testing.T) {
	e := newTestEnv(t)
	e.seedSales(t)

	var res QueryResult
	require.NoError(t, json.Unmarshal(e.dispatch(t, NameExecuteQuery, `"SELECT region, amount FROM sales"`), &res))

	t.Run("missing artifact", func(t *testing.T) {
		msg := asString(t, e.dispatch(t, NameChartConfig, `{"ref_key":"nope","x":"region","y":"amount"}`))
		require.Equal(t, "Unable to generate chart at the moment", msg)
	})

	t.Run("unknown column", func(t *testing.T) {
		before := e.sess.Scratch.Len()
		msg := asString(t, e.dispatch(t, NameChartConfig, `{"ref_key":"`+res.RefKey+`","x":"region","y":"profit"}`))
		require.Equal(t, "unable to generate chart config ERROR: Specified x or y column does not exist in the input data", msg)
		require.Equal(t, before+1, e.sess.Scratch.Len())
	})

	t.Run("builds config and rejects chart keys as data", func(t *testing.T) {
		msg := asString(t, e.dispatch(t, NameChartConfig, `{"ref_key":"`+res.RefKey+`","x":"region","y":"amount","chart_type":"bar"}`))
		key := strings.TrimPrefix(msg, "bar chart created **chart ref**: ")
		require.NotEqual(t, msg, key)

		cfg, ok := e.sess.Scratch.Chart(key)
		require.True(t, ok)
		require.Equal(t, "bar", cfg.Chart.Type)
		require.Equal(t, []string{"north", "south", "north"}, cfg.XAxis.Categories)

		msg = asString(t, e.dispatch(t, NameChartConfig, `{"ref_key":"`+key+`","x":"region","y":"amount"}`))
		require.Equal(t, "Unable to generate chart at the moment", msg)
	})
}

func TestNLToSQL(t *testing.T) {
	e := newTestEnv(t, "<think>group by region</think>\n<sql>SELECT region FROM sales</sql>")
	e.seedSales(t)

	msg := asString(t, e.dispatch(t, NameNLToSQL, `{"question": "list regions"}`))
	require.Equal(t, "<sql>SELECT region FROM sales</sql>", msg)

	calls := e.model.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, turns.RoleSystem, calls[0][0].Role)
	require.Contains(t, calls[0][0].Content, "-- DDL for table `sales`")
	require.Contains(t, calls[0][0].Content, `CREATE TABLE "sales"`)
	require.Equal(t, turns.User("list regions"), calls[0][1])
}

func TestNLToSQL_ModelFailure(t *testing.T) {
	e := newTestEnv(t)
	e.model.Push(llmtest.Reply{Err: errors.New("503")})
	msg := asString(t, e.dispatch(t, NameNLToSQL, `"anything"`))
	require.Equal(t, "Could not generate sql query", msg)
}

func TestNLPToChart(t *testing.T) {
	e := newTestEnv(t,
		"<text>Sales per region</text><sql>SELECT region, SUM(amount) AS total FROM sales GROUP BY region</sql>",
		`{"x": "region", "y": "total", "chart_type": "bar", "chart_title": "Sales by region"}`,
	)
	e.seedSales(t)

	msg := asString(t, e.dispatch(t, NameNLPToChart, `{"question": "show me sales by region", "chart_type": "column"}`))
	key := strings.TrimPrefix(msg, "Chart generated successfully with ref key: ")
	require.NotEqual(t, msg, key)

	cfg, ok := e.sess.Scratch.Chart(key)
	require.True(t, ok)
	require.Equal(t, "column", cfg.Chart.Type)
	require.Equal(t, "Sales by region", cfg.Title.Text)
	require.Equal(t, 2, e.sess.Scratch.Len())

	calls := e.model.Calls()
	require.Len(t, calls, 2)
	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(calls[1][1].Content), &meta))
	require.EqualValues(t, 2, meta["rows"])
	require.NotContains(t, meta, "ref_key")
}

func TestNLPToChart_NeedsExactlyOneSQLBlock(t *testing.T) {
	for name, reply := range map[string]string{
		"none":  "<text>Which metric do you mean?</text>",
		"two":   "<sql>SELECT 1</sql><sql>SELECT 2</sql>",
		"empty": "<sql>  </sql>",
	} {
		t.Run(name, func(t *testing.T) {
			e := newTestEnv(t, reply)
			msg := asString(t, e.dispatch(t, NameNLPToChart, `"sales"`))
			require.Equal(t, reply, msg)
			require.Zero(t, e.sess.Scratch.Len())
		})
	}
}

func TestNLPToChart_QueryError(t *testing.T) {
	e := newTestEnv(t, "<sql>SELECT * FROM nowhere</sql>")
	msg := asString(t, e.dispatch(t, NameNLPToChart, `"sales"`))
	require.True(t, strings.HasPrefix(msg, "An error occurred during data fetching: "))
	require.Equal(t, 1, len(e.model.Calls()))
}

const brokenDataset = `<think>a sales table</think>
<code>
import pandas as pd
const sales = pd.DataFrame({region: ["north", "south"], amount: [10, missingValue]});
</code>
<json>
{"dataset_name": "Retail", "description": "regional sales", "vars": ["sales"]}
</json>`

const fixedDataset = "<code>\n```javascript\n" + `const sales = pd.DataFrame({region: ["north", "south", "east"], amount: [10, 20, 5.5]});
` + "```\n</code>\n" + `<json>{"dataset_name": "Retail", "description": "regional sales", "vars": ["sales"]}</json>`

func TestGenerateDataset_RetriesOnceWithTrace(t *testing.T) {
	e := newTestEnv(t, brokenDataset, fixedDataset)

	raw := e.dispatch(t, NameGenerateData, `{"user_request": "a small retail dataset"}`)
	var created struct {
		TableDDLs   map[string]string `json:"table_ddls"`
		DatasetInfo map[string]any    `json:"dataset_info"`
		Status      string            `json:"status"`
	}
	require.NoError(t, json.Unmarshal(raw, &created))
	require.Equal(t, "Created sucessfully", created.Status)
	require.Equal(t, "Retail", created.DatasetInfo["dataset_name"])
	require.NotContains(t, created.DatasetInfo, "vars")
	require.Contains(t, created.TableDDLs["sales"], `CREATE TABLE "sales"`)

	calls := e.model.Calls()
	require.Len(t, calls, 2)
	retry := calls[1]
	require.Len(t, retry, 4)
	require.Equal(t, turns.RoleAssistant, retry[2].Role)
	require.Contains(t, retry[3].Content, "missingValue")

	ds, err := e.store.ActiveDataset(context.Background(), e.sess.ID)
	require.NoError(t, err)
	require.Len(t, ds.Mapping, 1)
	physical := ds.Mapping["sales"]
	require.Regexp(t, `^t_[0-9a-f]{32}$`, physical)
	require.NotContains(t, created.TableDDLs["sales"], physical)

	out, err := e.wh.Query(context.Background(), `SELECT COUNT(*) AS n FROM "`+physical+`"`)
	require.NoError(t, err)
	require.Equal(t, int64(3), out.Rows[0][0])
}

func TestGenerateDataset_SecondFailureIsStructured(t *testing.T) {
	e := newTestEnv(t, brokenDataset, "I cannot write code today")

	raw := e.dispatch(t, NameGenerateData, `"sales data please"`)
	var fail datasetFailure
	require.NoError(t, json.Unmarshal(raw, &fail))
	require.Contains(t, fail.Error, "<code>")
	require.Contains(t, fail.Instruction, "<Instruction>")
	require.Len(t, e.model.Calls(), 2)

	_, err := e.store.ActiveDataset(context.Background(), e.sess.ID)
	require.True(t, errors.Is(err, chatstore.ErrNotFound))
}

func TestGenerateDataset_ModelDown(t *testing.T) {
	e := newTestEnv(t)
	e.model.Push(llmtest.Reply{Err: errors.New("connection refused")})

	raw := e.dispatch(t, NameGenerateData, `"sales data please"`)
	var fail datasetFailure
	require.NoError(t, json.Unmarshal(raw, &fail))
	require.Equal(t, "Unable to create dataset at the moment", fail.Error)
	require.Len(t, e.model.Calls(), 1)
}

func TestCollectTables(t *testing.T) {
	tbl := tabular.New("a")
	bindings := map[string]sandbox.Binding{
		"orders": {Table: tbl},
		"count":  {Value: json.RawMessage(`3`)},
	}
	got, trace := collectTables(nil, bindings)
	require.Empty(t, trace)
	require.Len(t, got, 1)
	require.Equal(t, "orders", got[0].name)

	_, trace = collectTables([]string{"orders", "count"}, bindings)
	require.Equal(t, "variable count is not a DataFrame", trace)

	_, trace = collectTables(nil, map[string]sandbox.Binding{"n": {Value: json.RawMessage(`1`)}})
	require.NotEmpty(t, trace)
}
