package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-go-golems/tablechat/pkg/turns"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, ttl), mr
}

func TestKey(t *testing.T) {
	require.Equal(t, "abc_main_context", Key("abc"))
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	got, err := s.Load(ctx, Key("s1"))
	require.NoError(t, err)
	require.Nil(t, got)

	log := []turns.Message{
		turns.User("what is 2 + 2"),
		turns.Assistant(`{"thought":"easy","final_answer":"<text>2 + 2 = 4</text>"}`),
	}
	require.NoError(t, s.Save(ctx, Key("s1"), log))

	got, err = s.Load(ctx, Key("s1"))
	require.NoError(t, err)
	require.Equal(t, log, got)

	// whole-value overwrite
	require.NoError(t, s.Save(ctx, Key("s1"), log[:1]))
	got, err = s.Load(ctx, Key("s1"))
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, s.Flush(ctx))
	got, err = s.Load(ctx, Key("s1"))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRedis_RoundTrip(t *testing.T) {
	s, _ := newRedisStore(t, 0)
	exerciseStore(t, s)
}

func TestInMemory_RoundTrip(t *testing.T) {
	exerciseStore(t, NewInMemory())
}

func TestRedis_TTL(t *testing.T) {
	s, mr := newRedisStore(t, time.Minute)
	require.NoError(t, s.Save(context.Background(), Key("s2"), []turns.Message{turns.User("hi")}))
	require.Equal(t, time.Minute, mr.TTL(Key("s2")))

	mr.FastForward(2 * time.Minute)
	got, err := s.Load(context.Background(), Key("s2"))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRedis_CorruptValue(t *testing.T) {
	s, mr := newRedisStore(t, 0)
	require.NoError(t, mr.Set(Key("s3"), "not json"))
	_, err := s.Load(context.Background(), Key("s3"))
	require.Error(t, err)
}

func TestRedis_FlushKeepsOtherKeysAndStreams(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, 0)
	client := s.client

	const stream, group = "tablechat.turns.completed", "tablechat"
	require.NoError(t, client.XGroupCreateMkStream(ctx, stream, group, "$").Err())
	require.NoError(t, mr.Set("unrelated", "keep"))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, Key(id), []turns.Message{turns.User("hi " + id)}))
	}

	require.NoError(t, s.Flush(ctx))

	for _, id := range []string{"a", "b", "c"} {
		got, err := s.Load(ctx, Key(id))
		require.NoError(t, err)
		require.Nil(t, got)
	}
	require.True(t, mr.Exists("unrelated"))

	// the consumer group still delivers
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]any{"payload": "x"}}).Err())
	res, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: "persister",
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    10 * time.Millisecond,
	}).Result()
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Len(t, res[0].Messages, 1)
}
