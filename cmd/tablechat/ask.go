package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/tablechat/pkg/config"
	"github.com/go-go-golems/tablechat/pkg/llm"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type AskSettings struct {
	Session       string   `glazed:"session"`
	Redis         bool     `glazed:"redis"`
	MaxToolRounds int      `glazed:"max-tool-rounds"`
	Question      []string `glazed:"question"`
}

type AskCommand struct {
	*cmds.CommandDescription
	rs  *rootSettings
	out io.Writer
}

var _ cmds.BareCommand = &AskCommand{}

func NewAskCommand(rs *rootSettings) (*AskCommand, error) {
	llmSection, err := llm.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "create llm section")
	}
	return &AskCommand{
		CommandDescription: cmds.NewCommandDescription(
			"ask",
			cmds.WithShort("Run a single turn and print the response"),
			cmds.WithFlags(
				fields.New(
					"session",
					fields.TypeString,
					fields.WithDefault(""),
					fields.WithHelp("Session id"),
				),
				fields.New(
					"redis",
					fields.TypeBool,
					fields.WithDefault(false),
					fields.WithHelp("Keep conversational memory in redis"),
				),
				fields.New(
					"max-tool-rounds",
					fields.TypeInteger,
					fields.WithDefault(0),
					fields.WithHelp("Tool rounds allowed per turn (0 keeps the configured value)"),
				),
			),
			cmds.WithArguments(
				fields.New(
					"question",
					fields.TypeStringList,
					fields.WithHelp("Question to ask"),
				),
			),
			cmds.WithSections(llmSection),
		),
		rs:  rs,
		out: os.Stdout,
	}, nil
}

func (c *AskCommand) Run(ctx context.Context, parsedValues *values.Values) error {
	s := &AskSettings{}
	if err := parsedValues.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode ask settings")
	}
	overrides, err := llm.OverridesFromValues(parsedValues)
	if err != nil {
		return err
	}
	question := strings.TrimSpace(strings.Join(s.Question, " "))
	if strings.TrimSpace(s.Session) == "" {
		return errors.New("--session is required")
	}
	if question == "" {
		return errors.New("a question is required")
	}

	v := viper.New()
	if s.Redis {
		v.Set("redis.enabled", true)
	}
	if s.MaxToolRounds > 0 {
		v.Set("agent.max-tool-rounds", s.MaxToolRounds)
	}
	cfg, err := loadConfig(c.rs, v)
	if err != nil {
		return err
	}
	applyLLMOverrides(cfg, overrides)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	// no bus: the completed turn is persisted before the command exits
	svc, err := a.newService(ctx, a.persister)
	if err != nil {
		return err
	}
	resp, err := svc.Ask(ctx, s.Session, question)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func applyLLMOverrides(cfg *config.Config, o llm.Overrides) {
	cfg.LLM.Chat = o.Apply(cfg.LLM.Chat)
	cfg.LLM.Complex = o.Apply(cfg.LLM.Complex)
}

func newAskCommand(rs *rootSettings) (*cobra.Command, error) {
	c, err := NewAskCommand(rs)
	if err != nil {
		return nil, err
	}
	return cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(commandMiddlewares))
}

func commandMiddlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv(config.EnvPrefix,
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}
