// Package llmtest provides a deterministic llm.Model for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/go-go-golems/tablechat/pkg/llm"
	"github.com/go-go-golems/tablechat/pkg/turns"
	"github.com/pkg/errors"
)

// Reply is one scripted response. A non-nil Err is returned instead of Text.
type Reply struct {
	Text string
	Err  error
}

// Scripted replays its replies in order and records every call.
type Scripted struct {
	mu      sync.Mutex
	replies []Reply
	calls   [][]turns.Message
}

var _ llm.Model = &Scripted{}

func New(texts ...string) *Scripted {
	s := &Scripted{}
	for _, t := range texts {
		s.replies = append(s.replies, Reply{Text: t})
	}
	return s
}

func (s *Scripted) Push(r ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, r...)
	return s
}

func (s *Scripted) Generate(ctx context.Context, msgs []turns.Message) (turns.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]turns.Message(nil), msgs...))
	if err := ctx.Err(); err != nil {
		return turns.Message{}, err
	}
	if len(s.replies) == 0 {
		return turns.Message{}, errors.New("llmtest: script exhausted")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	if r.Err != nil {
		return turns.Message{}, r.Err
	}
	return turns.Assistant(r.Text), nil
}

// Calls returns the message lists seen so far.
func (s *Scripted) Calls() [][]turns.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]turns.Message(nil), s.calls...)
}

// Remaining reports how many replies have not been consumed.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}
