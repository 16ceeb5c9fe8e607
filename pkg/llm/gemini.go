package llm

import (
	"context"
	"strings"

	"github.com/go-go-golems/tablechat/pkg/turns"
	"github.com/pkg/errors"
	"google.golang.org/genai"
)

type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
}

var _ Model = &Gemini{}

func NewGemini(ctx context.Context, s Settings) (*Gemini, error) {
	if s.APIKey == "" {
		return nil, errors.New("llm: gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "llm: create genai client")
	}
	return &Gemini{client: client, model: s.Model, temperature: s.Temperature}, nil
}

func (g *Gemini) Generate(ctx context.Context, msgs []turns.Message) (turns.Message, error) {
	system, contents := toGenAI(msgs)
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr(g.temperature)}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return turns.Message{}, errors.Wrapf(err, "llm: %s generate", g.model)
	}
	return turns.Assistant(resp.Text()), nil
}

// toGenAI folds system messages into one instruction and maps the rest onto
// the user/model roles.
func toGenAI(msgs []turns.Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case turns.RoleSystem:
			system = append(system, m.Content)
		case turns.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}
