package llm

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	gturns "github.com/go-go-golems/geppetto/pkg/turns"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/go-go-golems/tablechat/pkg/turns"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestSchemaRole_ObservationIsUser(t *testing.T) {
	require.Equal(t, schema.User, schemaRole(turns.RoleObservation))
	require.Equal(t, schema.System, schemaRole(turns.RoleSystem))
	require.Equal(t, schema.Assistant, schemaRole(turns.RoleAssistant))
}

func TestToGenAI(t *testing.T) {
	system, contents := toGenAI([]turns.Message{
		turns.System("policy"),
		turns.User("hello"),
		turns.Assistant(`{"action":"x"}`),
		{Role: turns.RoleObservation, Content: `{"Observation":"ok"}`},
		turns.System("more"),
	})
	require.Equal(t, "policy\n\nmore", system)
	require.Len(t, contents, 3)
	require.Equal(t, string(genai.RoleUser), contents[0].Role)
	require.Equal(t, string(genai.RoleModel), contents[1].Role)
	require.Equal(t, string(genai.RoleUser), contents[2].Role)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Settings{Provider: "openai"})
	require.Error(t, err)

	_, err = New(context.Background(), Settings{Provider: "carrier-pigeon", Model: "m"})
	require.Error(t, err)

	_, err = New(context.Background(), Settings{Provider: "gemini", Model: "m"})
	require.Error(t, err)
}

type replyEngine struct {
	reply string
	err   error
	seen  []gturns.Block
}

func (e *replyEngine) RunInference(_ context.Context, t *gturns.Turn) (*gturns.Turn, error) {
	e.seen = append([]gturns.Block(nil), t.Blocks...)
	if e.err != nil {
		return nil, e.err
	}
	if e.reply != "" {
		gturns.AppendBlock(t, gturns.NewAssistantTextBlock(e.reply))
	}
	return t, nil
}

func TestGeppetto_Generate(t *testing.T) {
	eng := &replyEngine{reply: `{"action": "final_answer", "final_answer": "<text>4</text>"}`}
	m := NewGeppettoFromEngine(eng, "test-model")

	out, err := m.Generate(context.Background(), []turns.Message{
		turns.System("policy"),
		turns.User("what is 2 + 2"),
		{Role: turns.RoleObservation, Content: `{"Observation":"ok"}`},
	})
	require.NoError(t, err)
	require.Equal(t, turns.Assistant(eng.reply), out)

	require.Len(t, eng.seen, 3)
	require.Equal(t, gturns.BlockKindSystem, eng.seen[0].Kind)
	require.Equal(t, "policy", eng.seen[0].Payload[gturns.PayloadKeyText])
	require.Equal(t, `{"Observation":"ok"}`, eng.seen[2].Payload[gturns.PayloadKeyText])
	require.Equal(t, eng.seen[1].Kind, eng.seen[2].Kind)
}

func TestGeppetto_EarlierAssistantIsNotTheReply(t *testing.T) {
	m := NewGeppettoFromEngine(&replyEngine{}, "test-model")
	_, err := m.Generate(context.Background(), []turns.Message{
		turns.User("hi"),
		turns.Assistant("old answer"),
	})
	require.Error(t, err)
}

func TestGeppetto_EngineError(t *testing.T) {
	m := NewGeppettoFromEngine(&replyEngine{err: errors.New("rate limited")}, "test-model")
	_, err := m.Generate(context.Background(), []turns.Message{turns.User("hi")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limited")
}

func TestOverrides_Apply(t *testing.T) {
	base := Settings{Provider: ProviderOpenAI, Model: "llama", BaseURL: "https://api.groq.com/openai/v1", APIKey: "k", Temperature: 0.7}

	require.Equal(t, base, Overrides{}.Apply(base))

	got := Overrides{Provider: ProviderGeppetto, APIType: "claude", Model: " claude-sonnet "}.Apply(base)
	require.Equal(t, ProviderGeppetto, got.Provider)
	require.Equal(t, "claude", got.APIType)
	require.Equal(t, "claude-sonnet", got.Model)
	require.Equal(t, base.BaseURL, got.BaseURL)
	require.Equal(t, base.APIKey, got.APIKey)
	require.Equal(t, base.Temperature, got.Temperature)
}

func TestOverridesFromValues(t *testing.T) {
	section, err := NewSection()
	require.NoError(t, err)
	require.Equal(t, SectionSlug, section.GetSlug())

	sectionValues, err := values.NewSectionValues(section)
	require.NoError(t, err)
	for name, v := range map[string]string{
		"llm-provider": ProviderGeppetto,
		"llm-api-type": "gemini",
		"llm-model":    "gemini-2.0-flash",
		"llm-base-url": "",
		"llm-api-key":  "secret",
	} {
		sectionValues.Fields.Update(name, &fields.FieldValue{Value: v})
	}

	o, err := OverridesFromValues(values.New(values.WithSectionValues(SectionSlug, sectionValues)))
	require.NoError(t, err)
	require.Equal(t, Overrides{Provider: ProviderGeppetto, APIType: "gemini", Model: "gemini-2.0-flash", APIKey: "secret"}, o)
}
