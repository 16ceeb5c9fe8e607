package tools

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// Call is a decoded tool proposal. The set of implementations is closed:
// NLToSQL, ExecuteQuery, ChartConfig, GenerateDataset and NLPToChart.
type Call interface {
	ToolName() string
	isCall()
}

type NLToSQL struct {
	Question string `json:"question"`
}

type ExecuteQuery struct {
	Query string `json:"query"`
}

type ChartConfig struct {
	RefKey     string `json:"ref_key"`
	X          string `json:"x"`
	Y          string `json:"y"`
	ChartType  string `json:"chart_type"`
	ChartTitle string `json:"chart_title"`
}

type GenerateDataset struct {
	UserRequest string `json:"user_request"`
}

type NLPToChart struct {
	Question  string `json:"question"`
	ChartType string `json:"chart_type"`
}

func (NLToSQL) ToolName() string         { return NameNLToSQL }
func (ExecuteQuery) ToolName() string    { return NameExecuteQuery }
func (ChartConfig) ToolName() string     { return NameChartConfig }
func (GenerateDataset) ToolName() string { return NameGenerateData }
func (NLPToChart) ToolName() string      { return NameNLPToChart }

func (NLToSQL) isCall()         {}
func (ExecuteQuery) isCall()    {}
func (ChartConfig) isCall()     {}
func (GenerateDataset) isCall() {}
func (NLPToChart) isCall()      {}

// Decode validates raw against the schema of name and decodes it into the
// tool's argument type. A JSON string is accepted when it holds an encoded
// object, or for tools with a primary argument, as that argument's value.
func Decode(name string, raw json.RawMessage) (Call, error) {
	spec, ok := Lookup(name)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTool, "%q", name)
	}
	doc, err := normalizeInput(spec, raw)
	if err != nil {
		return nil, err
	}

	all, err := schemas()
	if err != nil {
		return nil, err
	}
	res, err := all[name].Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, &ValidationError{Tool: name, Reason: err.Error()}
	}
	if !res.Valid() {
		reasons := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			reasons = append(reasons, e.String())
		}
		return nil, &ValidationError{Tool: name, Reason: strings.Join(reasons, "; ")}
	}

	var call Call
	switch name {
	case NameNLToSQL:
		var c NLToSQL
		err = json.Unmarshal(doc, &c)
		call = c
	case NameExecuteQuery:
		var c ExecuteQuery
		err = json.Unmarshal(doc, &c)
		call = c
	case NameChartConfig:
		var c ChartConfig
		err = json.Unmarshal(doc, &c)
		call = c
	case NameGenerateData:
		var c GenerateDataset
		err = json.Unmarshal(doc, &c)
		call = c
	case NameNLPToChart:
		var c NLPToChart
		err = json.Unmarshal(doc, &c)
		call = c
	default:
		return nil, errors.Wrapf(ErrUnknownTool, "%q", name)
	}
	if err != nil {
		return nil, &ValidationError{Tool: name, Reason: err.Error()}
	}
	return call, nil
}

func normalizeInput(spec Spec, raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, &ValidationError{Tool: spec.Name, Reason: "action_input is missing"}
	}
	if raw[0] != '"' {
		return raw, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, &ValidationError{Tool: spec.Name, Reason: err.Error()}
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]json.RawMessage
		if json.Unmarshal([]byte(trimmed), &obj) == nil {
			return json.RawMessage(trimmed), nil
		}
	}
	if spec.Primary == "" {
		return nil, &ValidationError{Tool: spec.Name, Reason: "action_input must be a JSON object"}
	}
	doc, err := json.Marshal(map[string]string{spec.Primary: s})
	if err != nil {
		return nil, errors.Wrap(err, "tools: wrap bare input")
	}
	return doc, nil
}
