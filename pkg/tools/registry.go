// Package tools holds the fixed tool catalogue the agent may propose and the
// dispatcher that validates and runs a proposal against a session.
package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

const (
	NameNLToSQL      = "nl_sql_agent"
	NameExecuteQuery = "execute_query"
	NameChartConfig  = "generate_highchart_config"
	NameGenerateData = "generate_dataset"
	NameNLPToChart   = "nlp_to_chart"
)

// Spec describes one tool to the model. Primary names the argument a bare
// string action_input is bound to; empty means the tool needs an object.
type Spec struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Primary     string
}

var specs = []Spec{
	{
		Name:        NameNLToSQL,
		Description: "Converts a natural language question into an SQLite-compatible SQL query over the session's dataset. Only generates SQL, never runs it.",
		Primary:     "question",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"question": {"type": "string", "minLength": 1}},
			"required": ["question"]
		}`),
	},
	{
		Name:        NameExecuteQuery,
		Description: "Executes a SQL query against the session's dataset. Returns rows (count), columns and a ref_key referencing the result; on failure returns error_message.",
		Primary:     "query",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"query": {"type": "string", "minLength": 1}},
			"required": ["query"]
		}`),
	},
	{
		Name:        NameChartConfig,
		Description: "Creates a chart from a query result. ref_key is the key returned by execute_query, x and y are column names of that result, chart_type is e.g. bar, column, line, area or pie.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"ref_key": {"type": "string", "minLength": 1},
				"x": {"type": "string", "minLength": 1},
				"y": {"type": "string", "minLength": 1},
				"chart_type": {"type": ["string", "null"]},
				"chart_title": {"type": ["string", "null"]}
			},
			"required": ["ref_key", "x", "y"]
		}`),
	},
	{
		Name:        NameGenerateData,
		Description: "Generates a synthetic dataset from a description of what the user wants. Never call this tool unless the user explicitly asks to create a dataset.",
		Primary:     "user_request",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"user_request": {"type": "string", "minLength": 1}},
			"required": ["user_request"]
		}`),
	},
	{
		Name:        NameNLPToChart,
		Description: "Takes a user question and returns a chart answering it when possible, otherwise the reason no chart could be made. Fill chart_type only when the user asks for a specific chart.",
		Primary:     "question",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"question": {"type": "string", "minLength": 1},
				"chart_type": {"type": ["string", "null"]}
			},
			"required": ["question"]
		}`),
	},
}

var (
	compileOnce sync.Once
	compiled    map[string]*gojsonschema.Schema
	compileErr  error
)

func schemas() (map[string]*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[string]*gojsonschema.Schema, len(specs))
		for _, s := range specs {
			sch, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(s.Schema))
			if err != nil {
				compileErr = errors.Wrapf(err, "tools: compile schema of %s", s.Name)
				return
			}
			compiled[s.Name] = sch
		}
	})
	return compiled, compileErr
}

// Specs returns the catalogue in a stable order.
func Specs() []Spec {
	return append([]Spec(nil), specs...)
}

func Lookup(name string) (Spec, bool) {
	for _, s := range specs {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// Describe renders the catalogue for the system prompt.
func Describe() string {
	var b strings.Builder
	for i, s := range specs {
		if i > 0 {
			b.WriteString("\n")
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, s.Schema); err != nil {
			compact.Reset()
			compact.Write(s.Schema)
		}
		fmt.Fprintf(&b, "- %s: %s\n  action_input schema: %s", s.Name, s.Description, compact.String())
	}
	return b.String()
}
