// Package prompts carries the prompt texts used by the agent and its tools.
// The defaults are embedded; a YAML file can override any subset of them.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-go-golems/tablechat/pkg/turns"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultYAML []byte

type Exchange struct {
	User      string `yaml:"user"`
	Assistant string `yaml:"assistant"`
}

func (e Exchange) Messages() []turns.Message {
	return []turns.Message{turns.User(e.User), turns.Assistant(e.Assistant)}
}

type Pack struct {
	Greeting       string   `yaml:"greeting"`
	Apology        string   `yaml:"apology"`
	System         string   `yaml:"system"`
	Anchor         Exchange `yaml:"anchor"`
	NoDataset      Exchange `yaml:"no_dataset"`
	HasDataset     Exchange `yaml:"has_dataset"`
	CodeGenerator  string   `yaml:"code_generator"`
	CodeRetry      string   `yaml:"code_retry"`
	NLToSQL        string   `yaml:"nl_to_sql"`
	ChartInput     string   `yaml:"chart_input"`
	DatasetFailure string   `yaml:"dataset_failure"`
}

// Default returns the embedded pack.
func Default() (*Pack, error) {
	var p Pack
	if err := yaml.Unmarshal(defaultYAML, &p); err != nil {
		return nil, errors.Wrap(err, "prompts: parse embedded pack")
	}
	return &p, nil
}

// Load reads path over the embedded defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Pack, error) {
	p, err := Default()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "prompts: read %q", path)
	}
	if err := yaml.Unmarshal(blob, p); err != nil {
		return nil, errors.Wrapf(err, "prompts: parse %q", path)
	}
	return p, nil
}

// SystemPrompt fills the tool listing into the system policy.
func (p *Pack) SystemPrompt(tools string) string {
	return strings.ReplaceAll(p.System, "{tools}", tools)
}

// DatasetFraming returns the exchange telling the model whether a dataset
// exists for the session.
func (p *Pack) DatasetFraming(datasetName string, has bool) []turns.Message {
	if !has {
		return p.NoDataset.Messages()
	}
	if datasetName == "" {
		datasetName = "Sample Data"
	}
	ex := p.HasDataset
	ex.User = strings.ReplaceAll(ex.User, "{dataset}", datasetName)
	return ex.Messages()
}

func (p *Pack) NLToSQLPrompt(ddls map[string]string) string {
	return strings.ReplaceAll(p.NLToSQL, "{ddls}", FormatDDLs(ddls))
}

func (p *Pack) CodeRetryPrompt(trace string) string {
	return strings.ReplaceAll(p.CodeRetry, "{error}", trace)
}

// FormatDDLs renders table DDLs sorted by table name.
func FormatDDLs(ddls map[string]string) string {
	names := make([]string, 0, len(ddls))
	for name := range ddls {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("-- DDL for table `%s`\n%s\n", name, strings.TrimSpace(ddls[name])))
	}
	return strings.Join(parts, "\n")
}
