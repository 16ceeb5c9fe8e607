package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-go-golems/tablechat/pkg/chart"
	"github.com/go-go-golems/tablechat/pkg/llm"
	"github.com/go-go-golems/tablechat/pkg/persistence/chatstore"
	"github.com/go-go-golems/tablechat/pkg/prompts"
	"github.com/go-go-golems/tablechat/pkg/sandbox"
	"github.com/go-go-golems/tablechat/pkg/scratch"
	"github.com/go-go-golems/tablechat/pkg/sqlrewrite"
	"github.com/go-go-golems/tablechat/pkg/tabular"
	"github.com/go-go-golems/tablechat/pkg/turns"
	"github.com/go-go-golems/tablechat/pkg/warehouse"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

const (
	queryErrorPrefix    = "An error occurred during data fetching: "
	chartErrorPrefix    = "unable to generate chart config ERROR: "
	msgChartUnavailable = "Unable to generate chart at the moment"
	msgNoSQL            = "Could not generate sql query"
	msgNoDataset        = "Unable to create dataset at the moment"
	msgDatasetNotSaved  = "unable to update dataset info in db"
	msgDatasetCreated   = "Created sucessfully"
	msgDatasetHint      = "kindly give detailed info to user about dataset in points"
)

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeBlock  = regexp.MustCompile(`(?s)<code>(.*?)</code>`)
	jsonBlock  = regexp.MustCompile(`(?s)<json>(.*?)</json>`)
	sqlBlock   = regexp.MustCompile(`(?s)<sql>(.*?)</sql>`)
	fenceLine  = regexp.MustCompile("(?m)^[ \\t]*```[A-Za-z]*[ \\t]*$\n?")
)

// CodeRunner executes generated dataset code. *sandbox.Executor implements it.
type CodeRunner interface {
	Run(ctx context.Context, code string, capture []string, timeout time.Duration) (map[string]sandbox.Binding, error)
}

var _ CodeRunner = &sandbox.Executor{}

// Session is what a tool sees of the running turn.
type Session struct {
	ID      string
	Scratch *scratch.Context
}

// Dispatcher runs decoded tool calls. Model is the "complex" role model used
// for SQL, code and chart-input generation.
type Dispatcher struct {
	Model     llm.Model
	Warehouse warehouse.Warehouse
	Store     chatstore.Store
	Runner    CodeRunner
	Prompts   *prompts.Pack

	// SandboxTimeout bounds each dataset code run; zero uses the runner default.
	SandboxTimeout time.Duration
}

// QueryResult is what execute_query reports for a successful query. The rows
// themselves stay in the scratch context under RefKey.
type QueryResult struct {
	Rows    int      `json:"rows"`
	Columns []string `json:"columns"`
	RefKey  string   `json:"ref_key,omitempty"`
}

type queryFailure struct {
	ErrorMessage string `json:"error_message"`
}

type datasetCreated struct {
	TableDDLs   map[string]string `json:"table_ddls"`
	DatasetInfo map[string]any    `json:"dataset_info"`
	Status      string            `json:"status"`
	Hint        string            `json:"hint"`
}

type datasetFailure struct {
	Error       string `json:"error"`
	Instruction string `json:"instruction"`
}

// Dispatch decodes and runs one proposal and returns the observation to
// append. Argument problems and tool failures come back as observations;
// the only error is ErrUnknownTool, meaning no tool call happened.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *Session, name string, raw json.RawMessage) (string, error) {
	logger := log.With().Str("session_id", sess.ID).Str("tool", name).Logger()

	call, err := Decode(name, raw)
	if errors.Is(err, ErrUnknownTool) {
		logger.Warn().Msg("unknown tool proposed")
		return "", err
	}
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			logger.Info().Err(err).Msg("rejected tool arguments")
			return Observation(ve.Error()), nil
		}
		logger.Error().Err(err).Msg("tool argument decoding failed")
		return Observation(fmt.Sprintf("Unable to run %s at the moment", name)), nil
	}

	start := time.Now()
	logger.Debug().Msg("Entering tool")
	defer func() {
		logger.Debug().Dur("elapsed", time.Since(start)).Msg("Exiting tool")
	}()

	ctx = logger.WithContext(ctx)
	var content any
	switch c := call.(type) {
	case NLToSQL:
		content = d.nlToSQL(ctx, sess, c)
	case ExecuteQuery:
		content = d.executeQuery(ctx, sess, c)
	case ChartConfig:
		content = d.chartConfig(ctx, sess, c)
	case GenerateDataset:
		content = d.generateDataset(ctx, sess, c)
	case NLPToChart:
		content = d.nlpToChart(ctx, sess, c)
	default:
		logger.Error().Str("type", fmt.Sprintf("%T", call)).Msg("unhandled tool call")
		return "", errors.Wrapf(ErrUnknownTool, "%q", name)
	}
	return Observation(content), nil
}

func (d *Dispatcher) activeDataset(ctx context.Context, sessionID string) *chatstore.Dataset {
	ds, err := d.Store.ActiveDataset(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, chatstore.ErrNotFound) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to load active dataset")
		}
		return nil
	}
	return ds
}

func (d *Dispatcher) nlToSQL(ctx context.Context, sess *Session, c NLToSQL) string {
	text, err := d.askSQL(ctx, sess, c.Question)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("nl to sql failed")
		return msgNoSQL
	}
	return text
}

// askSQL asks the model for SQL grounded on the session's table DDLs.
func (d *Dispatcher) askSQL(ctx context.Context, sess *Session, question string) (string, error) {
	ddls := map[string]string{}
	if ds := d.activeDataset(ctx, sess.ID); ds != nil {
		ddls = ds.DDLs
	}
	reply, err := d.Model.Generate(ctx, []turns.Message{
		turns.System(d.Prompts.NLToSQLPrompt(ddls)),
		turns.User(question),
	})
	if err != nil {
		return "", &ExecutionError{Tool: NameNLToSQL, Err: err}
	}
	text := stripThink(reply.Content)
	zerolog.Ctx(ctx).Debug().Str("sql_response", text).Msg("sql generated")
	return text, nil
}

func (d *Dispatcher) executeQuery(ctx context.Context, sess *Session, c ExecuteQuery) any {
	_, res, err := d.runQuery(ctx, sess, c.Query)
	if err != nil {
		return queryFailure{ErrorMessage: queryErrorPrefix + err.Error()}
	}
	return res
}

// runQuery rewrites logical table names, runs the query off the calling
// goroutine and stores the result table under a new scratch key.
func (d *Dispatcher) runQuery(ctx context.Context, sess *Session, query string) (*tabular.Table, QueryResult, error) {
	logger := zerolog.Ctx(ctx)
	mapping := map[string]string{}
	if ds := d.activeDataset(ctx, sess.ID); ds != nil {
		mapping = ds.Mapping
	}
	resolved, err := sqlrewrite.RewriteContext(ctx, query, mapping)
	if err != nil {
		logger.Warn().Err(err).Msg("query not rewritten, running as written")
		resolved = query
	}
	logger.Debug().Str("sql", resolved).Msg("executing query")

	tbl, err := offload(ctx, func() (*tabular.Table, error) {
		return d.Warehouse.Query(ctx, resolved)
	})
	if err != nil {
		logger.Info().Err(err).Msg("query failed")
		return nil, QueryResult{}, errors.Cause(err)
	}
	key := sess.Scratch.Put(&scratch.TableArtifact{Table: tbl})
	logger.Debug().Str("ref_key", key).Int("rows", tbl.Len()).Msg("query result stored")
	return tbl, QueryResult{Rows: tbl.Len(), Columns: append([]string{}, tbl.Columns...), RefKey: key}, nil
}

// offload runs fn on its own goroutine. When ctx ends first the call is
// abandoned and left to finish on its own.
func offload[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var (
			r  result
			pc panics.Catcher
		)
		pc.Try(func() { r.v, r.err = fn() })
		if rec := pc.Recovered(); rec != nil {
			r.err = rec.AsError()
		}
		ch <- r
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (d *Dispatcher) chartConfig(ctx context.Context, sess *Session, c ChartConfig) string {
	tbl, ok := sess.Scratch.Table(c.RefKey)
	if !ok {
		zerolog.Ctx(ctx).Info().Str("ref_key", c.RefKey).Msg("chart requested for a missing or non-tabular artifact")
		return msgChartUnavailable
	}
	cfg, key, err := storeChart(sess, tbl, chart.Input{X: c.X, Y: c.Y, Kind: c.ChartType, Title: c.ChartTitle})
	if err != nil {
		zerolog.Ctx(ctx).Info().Err(err).Msg("chart config rejected")
		return chartErrorPrefix + err.Error()
	}
	return fmt.Sprintf("%s chart created **chart ref**: %s", cfg.Chart.Type, key)
}

// storeChart builds a chart config and stores it under a new key. A failed
// build records an error artifact instead.
func storeChart(sess *Session, tbl *tabular.Table, in chart.Input) (*chart.Config, string, error) {
	cfg, err := chart.Build(tbl, in)
	if err != nil {
		sess.Scratch.Put(&scratch.ErrorArtifact{Message: chartErrorPrefix + err.Error()})
		return nil, "", err
	}
	return cfg, sess.Scratch.Put(&scratch.ChartArtifact{Config: cfg}), nil
}

func (d *Dispatcher) nlpToChart(ctx context.Context, sess *Session, c NLPToChart) string {
	logger := zerolog.Ctx(ctx)

	resp, err := d.askSQL(ctx, sess, c.Question)
	if err != nil {
		logger.Error().Err(err).Msg("nl to sql failed")
		return msgNoSQL
	}
	blocks := sqlBlock.FindAllStringSubmatch(resp, -1)
	if len(blocks) != 1 || strings.TrimSpace(blocks[0][1]) == "" {
		return resp
	}

	tbl, res, err := d.runQuery(ctx, sess, strings.TrimSpace(blocks[0][1]))
	if err != nil {
		return queryErrorPrefix + err.Error()
	}
	res.RefKey = ""
	meta, err := json.Marshal(res)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode query metadata")
		return msgChartUnavailable
	}

	reply, err := d.Model.Generate(ctx, []turns.Message{
		turns.System(d.Prompts.ChartInput),
		turns.User(string(meta)),
	})
	if err != nil {
		logger.Error().Err(err).Msg("chart input generation failed")
		return msgChartUnavailable
	}
	var in chart.Input
	raw, err := turns.ExtractJSON(stripThink(reply.Content))
	if err == nil {
		err = json.Unmarshal(raw, &in)
	}
	if err != nil {
		logger.Info().Err(err).Str("reply", reply.Content).Msg("unusable chart input")
		return msgChartUnavailable
	}
	if kind := strings.TrimSpace(c.ChartType); kind != "" {
		in.Kind = kind
	}

	_, key, err := storeChart(sess, tbl, in)
	if err != nil {
		logger.Info().Err(err).Msg("chart config rejected")
		return chartErrorPrefix + err.Error()
	}
	return "Chart generated successfully with ref key: " + key
}

type datasetMeta struct {
	Name        string   `json:"dataset_name"`
	Description string   `json:"description"`
	Vars        []string `json:"vars"`
}

type namedTable struct {
	name  string
	table *tabular.Table
}

type synthesized struct {
	meta   datasetMeta
	info   map[string]any
	tables []namedTable
}

func (d *Dispatcher) generateDataset(ctx context.Context, sess *Session, c GenerateDataset) any {
	logger := zerolog.Ctx(ctx)
	msgs := []turns.Message{
		turns.System(d.Prompts.CodeGenerator),
		turns.User(c.UserRequest),
	}

	reply, ds, trace, err := d.synthesize(ctx, msgs)
	if err == nil && trace != "" {
		logger.Info().Str("trace", trace).Msg("dataset code failed, retrying once")
		msgs = append(msgs, reply, turns.User(d.Prompts.CodeRetryPrompt(trace)))
		_, ds, trace, err = d.synthesize(ctx, msgs)
	}
	if err != nil {
		logger.Error().Err(err).Msg("dataset generation failed")
		return datasetFailure{Error: msgNoDataset, Instruction: d.Prompts.DatasetFailure}
	}
	if trace != "" {
		logger.Warn().Str("trace", trace).Msg("dataset code failed twice")
		return datasetFailure{Error: trace, Instruction: d.Prompts.DatasetFailure}
	}
	return d.loadDataset(ctx, sess, ds)
}

// synthesize runs one generate-and-execute round. err reports failures the
// model cannot fix (upstream errors, cancellation); trace carries the ones it
// can, and is fed back on retry.
func (d *Dispatcher) synthesize(ctx context.Context, msgs []turns.Message) (turns.Message, *synthesized, string, error) {
	reply, err := d.Model.Generate(ctx, msgs)
	if err != nil {
		return turns.Message{}, nil, "", &ExecutionError{Tool: NameGenerateData, Err: err}
	}

	code, meta, info, err := parseGenerated(reply.Content)
	if err != nil {
		return reply, nil, err.Error(), nil
	}
	zerolog.Ctx(ctx).Debug().Strs("vars", meta.Vars).Int("code_bytes", len(code)).Msg("running dataset code")

	bindings, err := d.Runner.Run(ctx, code, meta.Vars, d.SandboxTimeout)
	if err != nil {
		var (
			timeout *sandbox.TimeoutError
			runtime *sandbox.RuntimeError
		)
		switch {
		case errors.As(err, &timeout):
			return reply, nil, timeout.Error(), nil
		case errors.As(err, &runtime):
			return reply, nil, runtime.Trace, nil
		default:
			return reply, nil, "", &ExecutionError{Tool: NameGenerateData, Err: err}
		}
	}

	tables, trace := collectTables(meta.Vars, bindings)
	if trace != "" {
		return reply, nil, trace, nil
	}
	return reply, &synthesized{meta: meta, info: info, tables: tables}, "", nil
}

func parseGenerated(content string) (string, datasetMeta, map[string]any, error) {
	content = stripThink(content)
	var meta datasetMeta

	m := codeBlock.FindStringSubmatch(content)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return "", meta, nil, errors.New("the response has no <code> block")
	}
	code := sandbox.StripImports(fenceLine.ReplaceAllString(m[1], ""))

	j := jsonBlock.FindStringSubmatch(content)
	if j == nil {
		return "", meta, nil, errors.New("the response has no <json> block")
	}
	raw, err := turns.ExtractJSON(j[1])
	if err != nil {
		return "", meta, nil, errors.Wrap(err, "the <json> block is not a JSON object")
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", meta, nil, errors.Wrap(err, "the <json> block does not match the expected fields")
	}
	var info map[string]any
	if err := json.Unmarshal(raw, &info); err != nil {
		return "", meta, nil, errors.Wrap(err, "the <json> block is not a JSON object")
	}
	delete(info, "vars")
	return strings.TrimSpace(code), meta, info, nil
}

// collectTables picks the captured DataFrames. Requested names must all be
// tables; without a request every table binding is taken.
func collectTables(vars []string, bindings map[string]sandbox.Binding) ([]namedTable, string) {
	names := vars
	if len(names) == 0 {
		for name := range bindings {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	var out []namedTable
	for _, name := range names {
		b := bindings[name]
		if b.Table == nil {
			if len(vars) > 0 {
				return nil, fmt.Sprintf("variable %s is not a DataFrame", name)
			}
			continue
		}
		if len(b.Table.Columns) == 0 {
			return nil, fmt.Sprintf("DataFrame %s has no columns", name)
		}
		out = append(out, namedTable{name: name, table: b.Table})
	}
	if len(out) == 0 {
		return nil, "the code did not define any DataFrame"
	}
	return out, ""
}

// loadDataset stores each table under a fresh physical name and records the
// dataset on the session's active thread.
func (d *Dispatcher) loadDataset(ctx context.Context, sess *Session, ds *synthesized) any {
	logger := zerolog.Ctx(ctx)
	ddls := map[string]string{}
	mapping := map[string]string{}
	var created []string

	fail := func(err error) string {
		logger.Error().Err(err).Msg("failed to load dataset")
		d.dropTables(ctx, created)
		return fmt.Sprintf("error in loading data to db %v\npolitely inform this to user and also ask them to create dataset by uploading excel or try again in some time", errors.Cause(err))
	}

	for _, nt := range ds.tables {
		physical := warehouse.NewPhysicalName()
		if err := d.Warehouse.CreateTable(ctx, physical, nt.table); err != nil {
			return fail(err)
		}
		created = append(created, physical)
		ddl, err := d.Warehouse.TableDDL(ctx, physical)
		if err != nil {
			return fail(err)
		}
		ddls[nt.name] = strings.ReplaceAll(ddl, physical, nt.name)
		mapping[strings.ToLower(nt.name)] = physical
		logger.Info().Str("table", nt.name).Str("physical", physical).Int("rows", nt.table.Len()).Msg("dataset table loaded")
	}

	saved, err := d.Store.SaveDataset(ctx, sess.ID, chatstore.Dataset{
		Name:        ds.meta.Name,
		Description: ds.meta.Description,
		DDLs:        ddls,
		Mapping:     mapping,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to save dataset record")
		d.dropTables(ctx, created)
		return msgDatasetNotSaved
	}
	logger.Info().Int64("dataset_id", saved.ID).Int("tables", len(mapping)).Msg("dataset created")

	return datasetCreated{
		TableDDLs:   ddls,
		DatasetInfo: ds.info,
		Status:      msgDatasetCreated,
		Hint:        msgDatasetHint,
	}
}

func (d *Dispatcher) dropTables(ctx context.Context, names []string) {
	for _, name := range names {
		if err := d.Warehouse.DropTable(context.WithoutCancel(ctx), name); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("physical", name).Msg("failed to drop partial dataset table")
		}
	}
}

func stripThink(s string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(s, ""))
}
