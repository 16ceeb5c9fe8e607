package sandbox

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	MaybeRunWorker()
	os.Exit(m.Run())
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	e, err := NewExecutor(Options{Timeout: 5 * time.Second, MaxConcurrent: 2})
	require.NoError(t, err)
	return e
}

func TestRun_CapturesScalar(t *testing.T) {
	e := newTestExecutor(t)
	out, err := e.Run(context.Background(), "const total = [1, 2, 3].reduce((a, b) => a + b, 0);", []string{"total"}, 0)
	require.NoError(t, err)
	require.JSONEq(t, "6", string(out["total"].Value))
	require.Nil(t, out["total"].Table)
}

func TestRun_DataFrameBecomesTable(t *testing.T) {
	e := newTestExecutor(t)
	code := `
const df = pd.DataFrame({ region: ["north", "south"], amount: [10, 2.5] });
const bigger = df.assign("year", 2024);
`
	out, err := e.Run(context.Background(), code, []string{"df", "bigger"}, 0)
	require.NoError(t, err)

	df := out["df"].Table
	require.NotNil(t, df)
	require.Equal(t, []string{"region", "amount"}, df.Columns)
	require.Equal(t, []any{"north", int64(10)}, df.Rows[0])
	require.Equal(t, []any{"south", 2.5}, df.Rows[1])

	bigger := out["bigger"].Table
	require.NotNil(t, bigger)
	require.Equal(t, []string{"region", "amount", "year"}, bigger.Columns)
	require.Equal(t, int64(2024), bigger.Rows[1][2])
}

func TestRun_ReturnsOnlyRequestedBindings(t *testing.T) {
	e := newTestExecutor(t)
	code := `
const scale = 3;
let scratch = "unused";
function helper(x) { return x * scale; }
const a = helper(1);
const b = pd.DataFrame({ n: [helper(2)] });
`
	out, err := e.Run(context.Background(), code, []string{"a", "b"}, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Contains(t, out, "a")
	require.Contains(t, out, "b")
	require.NotContains(t, out, "scale")
	require.NotContains(t, out, "scratch")
	require.NotContains(t, out, "helper")
	require.JSONEq(t, "3", string(out["a"].Value))
	require.Equal(t, []any{int64(6)}, out["b"].Table.Rows[0])
}

func TestRun_RecordsBecomeTable(t *testing.T) {
	e := newTestExecutor(t)
	code := `const rows = [{ id: 1, name: "a" }, { id: 2, name: "b" }];`
	out, err := e.Run(context.Background(), code, []string{"rows"}, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name"}, out["rows"].Table.Columns)
	require.Equal(t, 2, out["rows"].Table.Len())
}

func TestRun_EmptyCaptureReturnsTopLevel(t *testing.T) {
	e := newTestExecutor(t)
	code := "const a = 1;\nlet b = \"x\";\nfunction helper() { return 3; }\nvar c = helper();\n"
	out, err := e.Run(context.Background(), code, nil, 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.JSONEq(t, `"x"`, string(out["b"].Value))
	require.JSONEq(t, "3", string(out["c"].Value))
}

func TestRun_MissingCaptureIsRuntimeError(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.Run(context.Background(), "const a = 1;", []string{"a", "sales"}, 0)
	var rerr *RuntimeError
	require.True(t, errors.As(err, &rerr))
	require.Contains(t, rerr.Trace, "sales")
}

func TestRun_ScriptException(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.Run(context.Background(), `throw new Error("boom");`, nil, 0)
	var rerr *RuntimeError
	require.True(t, errors.As(err, &rerr))
	require.Contains(t, rerr.Trace, "boom")
}

func TestRun_Timeout(t *testing.T) {
	e := newTestExecutor(t)
	start := time.Now()
	_, err := e.Run(context.Background(), "while (true) {}", nil, time.Second)
	var terr *TimeoutError
	require.True(t, errors.As(err, &terr))
	require.Equal(t, "Code execution exceeded 1 seconds.", terr.Error())
	require.Less(t, time.Since(start), 4*time.Second)
}

func TestRun_NoHostCapabilities(t *testing.T) {
	e := newTestExecutor(t)
	code := `const kinds = [typeof require, typeof process, typeof fetch, typeof np, typeof faker];`
	out, err := e.Run(context.Background(), code, []string{"kinds"}, 0)
	require.NoError(t, err)
	var kinds []string
	require.NoError(t, json.Unmarshal(out["kinds"].Value, &kinds))
	require.Equal(t, []string{"undefined", "undefined", "undefined", "object", "object"}, kinds)
}

func TestRun_NumericAndFaker(t *testing.T) {
	e := newTestExecutor(t)
	code := `
const s = np.sum([1, 2, 3.5]);
const m = np.mean([2, 4]);
const c = np.cumsum([1, 1, 1]);
const draws = np.random.normal(0, 1, 4);
const who = Faker().name();
const days = pd.dateRange("2024-01-30", 3);
`
	out, err := e.Run(context.Background(), code, nil, 0)
	require.NoError(t, err)
	require.JSONEq(t, "6.5", string(out["s"].Value))
	require.JSONEq(t, "3", string(out["m"].Value))
	require.JSONEq(t, "[1,2,3]", string(out["c"].Value))
	require.JSONEq(t, `["2024-01-30","2024-01-31","2024-02-01"]`, string(out["days"].Value))

	var draws []float64
	require.NoError(t, json.Unmarshal(out["draws"].Value, &draws))
	require.Len(t, draws, 4)

	var who string
	require.NoError(t, json.Unmarshal(out["who"].Value, &who))
	require.NotEmpty(t, who)
}

func TestRun_CancelledContext(t *testing.T) {
	e := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, "const a = 1;", nil, 0)
	require.Error(t, err)
	var terr *TimeoutError
	require.False(t, errors.As(err, &terr))
}
