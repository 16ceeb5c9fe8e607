// Package agent runs one conversational turn: the model is asked, a proposed
// tool call is dispatched and observed, and the loop repeats until the model
// answers, proposes nothing usable, or the tool round cap is hit.
package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-go-golems/tablechat/pkg/events"
	"github.com/go-go-golems/tablechat/pkg/llm"
	"github.com/go-go-golems/tablechat/pkg/scratch"
	"github.com/go-go-golems/tablechat/pkg/tools"
	"github.com/go-go-golems/tablechat/pkg/turns"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

type State string

const (
	StateModelTurn State = "MODEL_TURN"
	StateRoute     State = "ROUTE"
	StateToolTurn  State = "TOOL_TURN"
	StateDone      State = "DONE"
)

const DefaultMaxToolRounds = 8

// Dispatcher runs one tool proposal. *tools.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, sess *tools.Session, name string, raw json.RawMessage) (string, error)
}

var _ Dispatcher = &tools.Dispatcher{}

type Engine struct {
	Model  llm.Model
	Tools  Dispatcher
	Events events.Sink

	// MaxToolRounds <= 0 uses DefaultMaxToolRounds.
	MaxToolRounds int

	// Apology is the final content of a failed turn.
	Apology string
}

type Input struct {
	SessionID string
	TurnID    string

	// Context holds the assembled preamble, prior memory and the new user message.
	Context *turns.Context
}

type Result struct {
	// Final is the last assistant message, or Apology when the turn failed.
	Final   string
	Failed  bool
	Err     error
	Rounds  int
	Context *turns.Context
	Scratch *scratch.Context
}

// RunTurn drives the state machine to DONE. It never panics and never
// returns an error: failures end the turn with the apology.
func (e *Engine) RunTurn(ctx context.Context, in Input) Result {
	sess := &tools.Session{ID: in.SessionID, Scratch: scratch.New()}
	res := Result{Context: in.Context, Scratch: sess.Scratch}
	logger := log.With().Str("session_id", in.SessionID).Str("turn_id", in.TurnID).Logger()
	ctx = logger.WithContext(ctx)

	start := time.Now()
	var pc panics.Catcher
	pc.Try(func() {
		res.Rounds, res.Err = e.run(ctx, in, sess)
	})
	if r := pc.Recovered(); r != nil {
		logger.Error().Str("stack", string(r.Stack)).Interface("panic", r.Value).Msg("turn panicked")
		res.Err = r.AsError()
	}

	if res.Err != nil {
		logger.Error().Err(res.Err).Msg("turn failed")
		res.Failed = true
		res.Final = e.Apology
		return res
	}
	if last, ok := in.Context.Last(); ok {
		res.Final = last.Content
	}
	logger.Info().Int("rounds", res.Rounds).Dur("elapsed", time.Since(start)).Msg("turn done")
	return res
}

func (e *Engine) maxRounds() int {
	if e.MaxToolRounds <= 0 {
		return DefaultMaxToolRounds
	}
	return e.MaxToolRounds
}

func (e *Engine) run(ctx context.Context, in Input, sess *tools.Session) (int, error) {
	if in.Context == nil {
		return 0, errors.New("agent: nil turn context")
	}
	logger := zerolog.Ctx(ctx)
	state := StateModelTurn
	rounds := 0
	var proposal Proposal

	for {
		logger.Debug().Str("state", string(state)).Int("round", rounds).Msg("Entering state")
		switch state {
		case StateModelTurn:
			reply, err := e.Model.Generate(ctx, in.Context.Messages())
			if err != nil {
				return rounds, &UpstreamError{Err: err}
			}
			reply.Role = turns.RoleAssistant
			in.Context.Append(reply)
			state = StateRoute

		case StateRoute:
			last, _ := in.Context.Last()
			p, ok := ParseProposal(last.Content)
			switch {
			case !ok:
				state = StateDone
			case rounds >= e.maxRounds():
				logger.Warn().Int("rounds", rounds).Str("tool", p.Action).Msg("tool round cap reached")
				state = StateDone
			default:
				proposal = p
				state = StateToolTurn
			}

		case StateToolTurn:
			rounds++
			e.publish(ctx, events.Event{Type: events.ToolStarted, SessionID: in.SessionID, TurnID: in.TurnID, Tool: proposal.Action, Round: rounds})
			obs, err := e.Tools.Dispatch(ctx, sess, proposal.Action, proposal.Input)
			if errors.Is(err, tools.ErrUnknownTool) {
				e.publish(ctx, events.Event{Type: events.ToolFinished, SessionID: in.SessionID, TurnID: in.TurnID, Tool: proposal.Action, Round: rounds, Error: "unknown tool"})
				state = StateDone
				continue
			}
			if err != nil {
				return rounds, errors.Wrapf(err, "agent: dispatch %s", proposal.Action)
			}
			in.Context.Append(turns.Message{Role: turns.RoleObservation, Content: obs})
			e.publish(ctx, events.Event{Type: events.ToolFinished, SessionID: in.SessionID, TurnID: in.TurnID, Tool: proposal.Action, Round: rounds})
			state = StateModelTurn

		case StateDone:
			return rounds, nil

		default:
			return rounds, errors.Errorf("agent: unknown state %q", state)
		}
	}
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Publish(ctx, ev); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("event", string(ev.Type)).Msg("failed to publish event")
	}
}
