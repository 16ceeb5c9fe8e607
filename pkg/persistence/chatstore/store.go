package chatstore

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a session has no active thread or dataset.
var ErrNotFound = errors.New("chatstore: not found")

// Message roles as stored in chat_messages.
const (
	RoleUser   = "user"
	RoleBot    = "bot"
	RoleSystem = "system"
)

// Thread is one chat of a session. At most one thread per session is active.
type Thread struct {
	ID          int64  `json:"thread_id"`
	SessionID   string `json:"session_uuid"`
	Title       string `json:"title"`
	DatasetID   *int64 `json:"dataset_id,omitempty"`
	Active      bool   `json:"is_active"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// Message is an audit row: the user's utterance or the structured answer.
type Message struct {
	ID          int64  `json:"message_id"`
	ThreadID    int64  `json:"thread_id"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// Dataset describes generated tables. DDLs use logical table names; Mapping
// goes from lower-cased logical name to physical warehouse table.
type Dataset struct {
	ID          int64             `json:"dataset_id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	DDLs        map[string]string `json:"ddls"`
	Mapping     map[string]string `json:"table_mapping"`
	CreatedBy   string            `json:"created_by"`
	CreatedAtMs int64             `json:"created_at_ms"`
}

// Store persists threads, audit messages and dataset records.
type Store interface {
	// CreateThread deactivates the session's previous threads and opens a new one.
	CreateThread(ctx context.Context, sessionID, title string) (*Thread, error)
	ActiveThread(ctx context.Context, sessionID string) (*Thread, error)
	AppendMessage(ctx context.Context, threadID int64, role, content string) (*Message, error)
	Messages(ctx context.Context, threadID int64) ([]Message, error)
	// SaveDataset stores d and attaches it to the active thread, opening a
	// thread when the session has none.
	SaveDataset(ctx context.Context, sessionID string, d Dataset) (*Dataset, error)
	ActiveDataset(ctx context.Context, sessionID string) (*Dataset, error)
	Close() error
}
