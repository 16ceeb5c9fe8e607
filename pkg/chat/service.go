// Package chat serves one request end to end: it assembles the turn context
// from the session's dataset state and memory, runs the agent, resolves the
// final answer and hands the completed turn to the event bus for persistence.
package chat

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-go-golems/tablechat/pkg/agent"
	"github.com/go-go-golems/tablechat/pkg/answer"
	"github.com/go-go-golems/tablechat/pkg/events"
	"github.com/go-go-golems/tablechat/pkg/memory"
	"github.com/go-go-golems/tablechat/pkg/persistence/chatstore"
	"github.com/go-go-golems/tablechat/pkg/prompts"
	"github.com/go-go-golems/tablechat/pkg/tools"
	"github.com/go-go-golems/tablechat/pkg/turns"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrEmptySession is returned when a request carries no session id.
var ErrEmptySession = errors.New("chat: empty session id")

type Service struct {
	Engine  *agent.Engine
	Memory  memory.Store
	Store   chatstore.Store
	Prompts *prompts.Pack
	Events  events.Sink
}

// Ask runs one turn for question and returns the client response. Failures
// inside the turn come back as the apology response, not as an error.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (answer.Response, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return answer.Response{}, ErrEmptySession
	}
	if strings.TrimSpace(question) == "" {
		return answer.Response{}, errors.New("chat: empty question")
	}
	turnID := uuid.NewString()
	logger := log.With().Str("session_id", sessionID).Str("turn_id", turnID).Logger()
	logger.Info().Str("question", question).Msg("user query")

	s.publish(ctx, events.Event{Type: events.TurnStarted, SessionID: sessionID, TurnID: turnID, Question: question})

	tc := s.assemble(ctx, sessionID, question)
	res := s.Engine.RunTurn(ctx, agent.Input{SessionID: sessionID, TurnID: turnID, Context: tc})
	resp := answer.Segments(res.Final, res.Scratch, s.Prompts.Apology)

	blob, err := json.Marshal(resp)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
	}
	s.publish(ctx, events.Event{
		Type:      events.TurnCompleted,
		SessionID: sessionID,
		TurnID:    turnID,
		Question:  question,
		Answer:    blob,
		Memory:    res.Context.Tail(),
		Failed:    res.Failed,
	})
	return resp, nil
}

// assemble builds policy, dataset framing and anchors, then prior memory and
// the new user message. Lookup failures degrade to "no dataset" and "no
// memory".
func (s *Service) assemble(ctx context.Context, sessionID, question string) *turns.Context {
	logger := log.With().Str("session_id", sessionID).Logger()

	datasetName, hasDataset := "", false
	if s.Store != nil {
		ds, err := s.Store.ActiveDataset(ctx, sessionID)
		switch {
		case err == nil:
			datasetName, hasDataset = ds.Name, true
		case !errors.Is(err, chatstore.ErrNotFound):
			logger.Error().Err(err).Msg("failed to check dataset")
		}
	}
	logger.Debug().Bool("has_dataset", hasDataset).Msg("dataset check")

	preamble := []turns.Message{turns.System(s.Prompts.SystemPrompt(tools.Describe()))}
	preamble = append(preamble, s.Prompts.DatasetFraming(datasetName, hasDataset)...)
	preamble = append(preamble, s.Prompts.Anchor.Messages()...)
	tc := turns.NewContext(preamble...)

	if s.Memory != nil {
		prev, err := s.Memory.Load(ctx, memory.Key(sessionID))
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load memory")
		} else if len(prev) > 0 {
			logger.Debug().Int("messages", len(prev)).Msg("found previous context")
			tc.Append(prev...)
		}
	}
	tc.Append(turns.User(question))
	return tc
}

// CreateChat opens a new thread for the session and records the greeting.
func (s *Service) CreateChat(ctx context.Context, sessionID string) (answer.Response, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return answer.Response{}, ErrEmptySession
	}
	th, err := s.Store.CreateThread(ctx, sessionID, "")
	if err != nil {
		return answer.Response{}, err
	}
	greeting := answer.Text(s.Prompts.Greeting)
	blob, err := json.Marshal(greeting)
	if err != nil {
		return answer.Response{}, errors.Wrap(err, "chat: encode greeting")
	}
	if _, err := s.Store.AppendMessage(ctx, th.ID, chatstore.RoleSystem, string(blob)); err != nil {
		return answer.Response{}, err
	}
	log.Info().Str("session_id", sessionID).Int64("thread_id", th.ID).Msg("chat created")
	return greeting, nil
}

// FlushMemory drops the conversational memory of every session.
func (s *Service) FlushMemory(ctx context.Context) error {
	if s.Memory == nil {
		return nil
	}
	return s.Memory.Flush(ctx)
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("session_id", ev.SessionID).Str("event", string(ev.Type)).Msg("failed to publish event")
	}
}
