package events

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/tablechat/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Sink receives turn lifecycle events. Publishing is best-effort: callers log
// failures and carry on.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }

// Discard drops every event.
var Discard Sink = discard{}

// Bus publishes events on a watermill pub/sub.
type Bus struct {
	ps *redisstream.PubSub
}

var _ Sink = &Bus{}

func NewBus(ps *redisstream.PubSub) *Bus {
	return &Bus{ps: ps}
}

func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	topics := []string{TopicForSession(ev.SessionID)}
	if ev.Type == TurnCompleted {
		topics = append(topics, TopicTurnCompleted)
	}
	for _, topic := range topics {
		// a watermill message must not be published twice
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.SetContext(context.WithoutCancel(ctx))
		if err := b.ps.Publisher.Publish(topic, msg); err != nil {
			return errors.Wrapf(err, "events: publish %s", topic)
		}
	}
	return nil
}

// Subscribe streams the live events of one session until ctx is done. On
// Redis Streams every call gets its own consumer group created at the tail,
// so concurrent sockets of a session each see every event.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	topic := TopicForSession(sessionID)
	sub := b.ps.Subscriber
	cleanup := func() {}

	if client := b.ps.Redis(); client != nil {
		group := "ws-" + watermill.NewShortUUID()
		if err := redisstream.EnsureGroupAtTail(ctx, client, topic, group); err != nil {
			return nil, errors.Wrap(err, "events: create consumer group")
		}
		s, err := redisstream.BuildGroupSubscriber(client, group, group)
		if err != nil {
			return nil, errors.Wrap(err, "events: group subscriber")
		}
		sub = s
		cleanup = func() {
			_ = s.Close()
			if err := client.XGroupDestroy(context.Background(), topic, group).Err(); err != nil {
				log.Debug().Err(err).Str("stream", topic).Str("group", group).Msg("failed to drop consumer group")
			}
		}
	}

	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		cleanup()
		return nil, errors.Wrapf(err, "events: subscribe %s", topic)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer cleanup()
		for msg := range msgs {
			ev, err := Decode(msg.Payload)
			msg.Ack()
			if err != nil {
				log.Warn().Err(err).Str("session_id", sessionID).Msg("dropping undecodable event")
				continue
			}
			select {
			case out <- ev.Live():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
