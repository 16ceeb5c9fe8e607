// Package llm adapts chat-completion providers to the single call the agent
// needs: a message list in, one assistant message out.
package llm

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/tablechat/pkg/turns"
	"github.com/pkg/errors"
)

type Model interface {
	Generate(ctx context.Context, msgs []turns.Message) (turns.Message, error)
}

const (
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderGeppetto = "geppetto"
)

type Settings struct {
	Provider    string        `mapstructure:"provider"`
	APIType     string        `mapstructure:"api-type"`
	APIKey      string        `mapstructure:"api-key"`
	BaseURL     string        `mapstructure:"base-url"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// New builds the adapter named by s.Provider.
func New(ctx context.Context, s Settings) (Model, error) {
	if strings.TrimSpace(s.Model) == "" {
		return nil, errors.New("llm: model name is required")
	}
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case ProviderOpenAI, "":
		return NewOpenAI(ctx, s)
	case ProviderGemini:
		return NewGemini(ctx, s)
	case ProviderGeppetto:
		return NewGeppetto(s)
	default:
		return nil, errors.Errorf("llm: unknown provider %q", s.Provider)
	}
}

// Roles bundles the two models a request uses: chat drives the turn, complex
// serves the tools that need a second model call.
type Roles struct {
	Chat    Model
	Complex Model
}
