package llm

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/go-go-golems/tablechat/pkg/turns"
	"github.com/pkg/errors"
)

// OpenAI talks to any OpenAI-compatible endpoint through eino.
type OpenAI struct {
	chat model.BaseChatModel
	name string
}

var _ Model = &OpenAI{}

func NewOpenAI(ctx context.Context, s Settings) (*OpenAI, error) {
	temp := s.Temperature
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      s.APIKey,
		BaseURL:     s.BaseURL,
		Model:       s.Model,
		Timeout:     s.Timeout,
		Temperature: &temp,
	})
	if err != nil {
		return nil, errors.Wrap(err, "llm: create openai chat model")
	}
	return &OpenAI{chat: cm, name: s.Model}, nil
}

func (o *OpenAI) Generate(ctx context.Context, msgs []turns.Message) (turns.Message, error) {
	in := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		in = append(in, &schema.Message{Role: schemaRole(m.Role), Content: m.Content})
	}
	out, err := o.chat.Generate(ctx, in)
	if err != nil {
		return turns.Message{}, errors.Wrapf(err, "llm: %s generate", o.name)
	}
	if out == nil {
		return turns.Message{}, errors.Errorf("llm: %s returned no message", o.name)
	}
	return turns.Assistant(out.Content), nil
}

// Observations go out as user messages; the providers have no such role.
func schemaRole(r turns.Role) schema.RoleType {
	switch r {
	case turns.RoleSystem:
		return schema.System
	case turns.RoleAssistant:
		return schema.Assistant
	default:
		return schema.User
	}
}
