package redisstream

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBuild_InMemory(t *testing.T) {
	ps, err := Build(DefaultSettings())
	require.NoError(t, err)
	require.Nil(t, ps.Redis())
	t.Cleanup(func() { _ = ps.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := ps.Subscriber.Subscribe(ctx, "topic")
	require.NoError(t, err)

	require.NoError(t, ps.Publisher.Publish("topic", message.NewMessage(watermill.NewUUID(), []byte("hello"))))

	select {
	case msg := <-ch:
		require.Equal(t, "hello", string(msg.Payload))
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestEnsureGroupAtTail_Idempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, EnsureGroupAtTail(ctx, client, "tablechat.session.s1", "ws"))
	require.NoError(t, EnsureGroupAtTail(ctx, client, "tablechat.session.s1", "ws"))
}

func TestWatermillLogger_With(t *testing.T) {
	l := NewWatermillLogger(zerolog.Nop())
	child := l.With(watermill.LogFields{"topic": "x"})
	require.NotNil(t, child)
	child.Info("hello", nil)
	child.Error("boom", nil, watermill.LogFields{"k": 1})
}
