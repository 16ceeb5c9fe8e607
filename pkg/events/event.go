// Package events carries turn lifecycle events over watermill. Every event is
// published on the session topic (for live streaming); completed turns are
// also published on a shared topic consumed by the persister.
package events

import (
	"encoding/json"
	"time"

	"github.com/go-go-golems/tablechat/pkg/turns"
	"github.com/pkg/errors"
)

type Type string

const (
	TurnStarted   Type = "turn.started"
	ToolStarted   Type = "tool.started"
	ToolFinished  Type = "tool.finished"
	TurnCompleted Type = "turn.completed"
)

// TopicTurnCompleted receives every turn.completed event.
const TopicTurnCompleted = "tablechat.turns.completed"

func TopicForSession(sessionID string) string {
	return "tablechat.session." + sessionID
}

type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	At        time.Time `json:"at"`

	// tool.started / tool.finished
	Tool  string `json:"tool,omitempty"`
	Round int    `json:"round,omitempty"`
	Error string `json:"error,omitempty"`

	// turn.completed
	Question string          `json:"question,omitempty"`
	Answer   json.RawMessage `json:"answer,omitempty"`
	Memory   []turns.Message `json:"memory,omitempty"`
	// Failed marks a turn that ended in the apology; its memory is not saved.
	Failed bool `json:"failed,omitempty"`
}

func (e Event) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	return b, errors.Wrap(err, "events: encode")
}

func Decode(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, errors.Wrap(err, "events: decode")
	}
	if e.Type == "" {
		return Event{}, errors.New("events: missing type")
	}
	return e, nil
}

// Live is the view of an event streamed to websocket clients; it drops the
// memory payload.
func (e Event) Live() Event {
	e.Memory = nil
	return e
}
