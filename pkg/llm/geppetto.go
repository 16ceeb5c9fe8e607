package llm

import (
	"context"
	"strings"

	"github.com/go-go-golems/geppetto/pkg/inference/engine"
	"github.com/go-go-golems/geppetto/pkg/inference/engine/factory"
	"github.com/go-go-golems/geppetto/pkg/steps/ai/settings"
	aitypes "github.com/go-go-golems/geppetto/pkg/steps/ai/types"
	gturns "github.com/go-go-golems/geppetto/pkg/turns"
	"github.com/go-go-golems/tablechat/pkg/turns"
	"github.com/pkg/errors"
)

// Geppetto runs one blocking inference on a geppetto engine per call. The
// engine's provider is picked by Settings.APIType (openai, claude, gemini, ...).
type Geppetto struct {
	eng  engine.Engine
	name string
}

var _ Model = &Geppetto{}

func NewGeppetto(s Settings) (*Geppetto, error) {
	ss, err := settings.NewStepSettings()
	if err != nil {
		return nil, errors.Wrap(err, "llm: geppetto step settings")
	}

	apiType := aitypes.ApiType(strings.ToLower(strings.TrimSpace(s.APIType)))
	if apiType == "" {
		apiType = aitypes.ApiTypeOpenAI
	}
	model := s.Model
	temp := float64(s.Temperature)
	ss.Chat.ApiType = &apiType
	ss.Chat.Engine = &model
	ss.Chat.Temperature = &temp
	ss.Chat.Stream = false

	if ss.API.APIKeys == nil {
		ss.API.APIKeys = map[string]string{}
	}
	if ss.API.BaseUrls == nil {
		ss.API.BaseUrls = map[string]string{}
	}
	if s.APIKey != "" {
		ss.API.APIKeys[string(apiType)+"-api-key"] = s.APIKey
	}
	if s.BaseURL != "" {
		ss.API.BaseUrls[string(apiType)+"-base-url"] = s.BaseURL
	}

	eng, err := factory.NewEngineFromStepSettings(ss)
	if err != nil {
		return nil, errors.Wrap(err, "llm: create geppetto engine")
	}
	return NewGeppettoFromEngine(eng, s.Model), nil
}

// NewGeppettoFromEngine wraps an already built engine.
func NewGeppettoFromEngine(eng engine.Engine, name string) *Geppetto {
	return &Geppetto{eng: eng, name: name}
}

func (g *Geppetto) Generate(ctx context.Context, msgs []turns.Message) (turns.Message, error) {
	t := &gturns.Turn{}
	for _, m := range msgs {
		gturns.AppendBlock(t, toBlock(m))
	}
	seen := len(t.Blocks)

	out, err := g.eng.RunInference(ctx, t)
	if err != nil {
		return turns.Message{}, errors.Wrapf(err, "llm: %s inference", g.name)
	}
	if out == nil {
		out = t
	}
	// only blocks appended by this inference count as the reply
	for i := len(out.Blocks) - 1; i >= seen; i-- {
		b := out.Blocks[i]
		if b.Kind != gturns.BlockKindLLMText {
			continue
		}
		if txt, ok := b.Payload[gturns.PayloadKeyText].(string); ok {
			return turns.Assistant(txt), nil
		}
	}
	return turns.Message{}, errors.Errorf("llm: %s returned no text", g.name)
}

func toBlock(m turns.Message) gturns.Block {
	switch m.Role {
	case turns.RoleSystem:
		return gturns.NewSystemTextBlock(m.Content)
	case turns.RoleAssistant:
		return gturns.NewAssistantTextBlock(m.Content)
	default:
		return gturns.NewUserTextBlock(m.Content)
	}
}
