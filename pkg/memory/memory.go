// Package memory keeps the persisted part of each session's conversation:
// prior memory plus what every completed turn appended. Policy, framing and
// anchors are never stored here.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-go-golems/tablechat/pkg/turns"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Store is a whole-value key/value store of message logs.
type Store interface {
	// Load returns nil, nil when nothing is stored under key.
	Load(ctx context.Context, key string) ([]turns.Message, error)
	// Save overwrites the value under key.
	Save(ctx context.Context, key string, msgs []turns.Message) error
	// Flush drops every stored conversation.
	Flush(ctx context.Context) error
}

const keySuffix = "_main_context"

// Key derives the memory key of a session.
func Key(sessionID string) string {
	return sessionID + keySuffix
}

const flushBatch = 500

// Redis stores each log as one JSON string value.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ Store = &Redis{}

// NewRedis wraps client. A zero ttl keeps values until flushed.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Load(ctx context.Context, key string) ([]turns.Message, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "memory: get %s", key)
	}
	return decode(raw)
}

func (r *Redis) Save(ctx context.Context, key string, msgs []turns.Message) error {
	blob, err := json.Marshal(msgs)
	if err != nil {
		return errors.Wrap(err, "memory: encode")
	}
	if err := r.client.Set(ctx, key, blob, r.ttl).Err(); err != nil {
		return errors.Wrapf(err, "memory: set %s", key)
	}
	return nil
}

// Flush unlinks memory keys only. The database may be shared with the event
// streams and their consumer groups, which must survive.
func (r *Redis) Flush(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, "*"+keySuffix, flushBatch).Result()
		if err != nil {
			return errors.Wrap(err, "memory: scan")
		}
		if len(keys) > 0 {
			if err := r.client.Unlink(ctx, keys...).Err(); err != nil {
				return errors.Wrap(err, "memory: unlink")
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// InMemory is a process-local Store used by tests and by `ask`.
type InMemory struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ Store = &InMemory{}

func NewInMemory() *InMemory {
	return &InMemory{data: map[string][]byte{}}
}

func (m *InMemory) Load(_ context.Context, key string) ([]turns.Message, error) {
	m.mu.Lock()
	raw, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decode(raw)
}

func (m *InMemory) Save(_ context.Context, key string, msgs []turns.Message) error {
	blob, err := json.Marshal(msgs)
	if err != nil {
		return errors.Wrap(err, "memory: encode")
	}
	m.mu.Lock()
	m.data[key] = blob
	m.mu.Unlock()
	return nil
}

func (m *InMemory) Flush(context.Context) error {
	m.mu.Lock()
	m.data = map[string][]byte{}
	m.mu.Unlock()
	return nil
}

func decode(raw []byte) ([]turns.Message, error) {
	var msgs []turns.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, errors.Wrap(err, "memory: decode")
	}
	return msgs, nil
}
