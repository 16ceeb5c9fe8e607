package events

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/tablechat/pkg/memory"
	"github.com/go-go-golems/tablechat/pkg/persistence/chatstore"
	"github.com/go-go-golems/tablechat/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Persister writes completed turns to conversational memory and appends the
// audit rows of the session's active thread. Persistence is best-effort:
// failures are logged and the message is acked.
type Persister struct {
	Memory memory.Store
	Store  chatstore.Store
}

// NewRouter returns a watermill router feeding completed turns from sub to
// the persister. Run it with router.Run(ctx).
func (p *Persister) NewRouter(sub message.Subscriber) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 5 * time.Second}, redisstream.NewWatermillLogger(log.Logger))
	if err != nil {
		return nil, errors.Wrap(err, "events: router")
	}
	router.AddNoPublisherHandler("persist-turns", TopicTurnCompleted, sub, p.Handle)
	return router, nil
}

var _ Sink = &Persister{}

// Publish persists completed turns in the caller's goroutine, for one-shot
// commands that run without a bus.
func (p *Persister) Publish(ctx context.Context, ev Event) error {
	if ev.Type == TurnCompleted {
		p.persist(ctx, ev)
	}
	return nil
}

func (p *Persister) Handle(msg *message.Message) error {
	ev, err := Decode(msg.Payload)
	if err != nil {
		log.Warn().Err(err).Str("component", "persister").Msg("failed to decode event payload")
		return nil
	}
	if ev.Type != TurnCompleted {
		return nil
	}

	ctx := msg.Context()
	cancel := func() {}
	if ctx.Err() != nil {
		// message contexts can be canceled during shutdown before the queue drains
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	}
	defer cancel()

	p.persist(ctx, ev)
	return nil
}

func (p *Persister) persist(ctx context.Context, ev Event) {
	logger := log.With().Str("component", "persister").Str("session_id", ev.SessionID).Str("turn_id", ev.TurnID).Logger()

	if p.Memory != nil && !ev.Failed {
		if err := p.Memory.Save(ctx, memory.Key(ev.SessionID), ev.Memory); err != nil {
			logger.Error().Err(err).Msg("failed to save memory")
		} else {
			logger.Debug().Int("messages", len(ev.Memory)).Msg("memory saved")
		}
	}

	if p.Store == nil {
		return
	}
	th, err := p.Store.ActiveThread(ctx, ev.SessionID)
	if errors.Is(err, chatstore.ErrNotFound) {
		th, err = p.Store.CreateThread(ctx, ev.SessionID, "")
	}
	if err != nil {
		logger.Error().Err(err).Msg("no thread for audit rows")
		return
	}
	if _, err := p.Store.AppendMessage(ctx, th.ID, chatstore.RoleUser, ev.Question); err != nil {
		logger.Error().Err(err).Msg("failed to append user message")
		return
	}
	if len(ev.Answer) > 0 {
		if _, err := p.Store.AppendMessage(ctx, th.ID, chatstore.RoleBot, string(ev.Answer)); err != nil {
			logger.Error().Err(err).Msg("failed to append answer")
		}
	}
}
