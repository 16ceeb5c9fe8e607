package llm

import (
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
)

const SectionSlug = "llm"

// Overrides replace the configured provider settings of both model roles.
// Empty fields keep the configured value.
type Overrides struct {
	Provider string `glazed:"llm-provider"`
	APIType  string `glazed:"llm-api-type"`
	Model    string `glazed:"llm-model"`
	BaseURL  string `glazed:"llm-base-url"`
	APIKey   string `glazed:"llm-api-key"`
}

// NewSection returns the command section carrying Overrides.
func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"LLM provider overrides for the chat and complex models",
		schema.WithFields(
			fields.New("llm-provider", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Provider adapter (openai, gemini, geppetto)")),
			fields.New("llm-api-type", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("geppetto API type (openai, claude, gemini)")),
			fields.New("llm-model", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Model name")),
			fields.New("llm-base-url", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("OpenAI-compatible base URL")),
			fields.New("llm-api-key", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Provider API key")),
		),
	)
}

func OverridesFromValues(v *values.Values) (Overrides, error) {
	o := Overrides{}
	if v == nil {
		return o, nil
	}
	if err := v.DecodeSectionInto(SectionSlug, &o); err != nil {
		return o, errors.Wrap(err, "llm: decode overrides")
	}
	return o, nil
}

func (o Overrides) Apply(s Settings) Settings {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&s.Provider, o.Provider)
	set(&s.APIType, o.APIType)
	set(&s.Model, o.Model)
	set(&s.BaseURL, o.BaseURL)
	set(&s.APIKey, o.APIKey)
	return s
}
