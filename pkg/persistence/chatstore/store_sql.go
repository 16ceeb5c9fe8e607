package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// SQLStore implements Store on database/sql for the sqlite3 and mysql
// drivers. Both accept the same '?' placeholders and statements below.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

var _ Store = &SQLStore{}

// datasetMetadata is the JSON document kept in datasets.dataset_metadata.
type datasetMetadata struct {
	DDLs    map[string]string `json:"ddls"`
	Mapping map[string]string `json:"table_mapping"`
}

// Open connects, migrates and returns a store.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("chatstore: empty dsn")
	}
	if _, err := migrationsDir(driver); err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "chatstore: open")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "chatstore: ping")
	}
	if err := Migrate(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLStore{db: db, driver: driver, now: time.Now}, nil
}

// SQLiteDSNForFile returns a DSN with WAL, a busy timeout and foreign keys.
func SQLiteDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("chatstore: empty sqlite path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

// MySQLDSN formats a go-sql-driver DSN for a TCP server.
func MySQLDSN(user, password, addr, database string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.DBName = database
	cfg.ParseTime = true
	cfg.MultiStatements = true
	return cfg.FormatDSN()
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) nowMs() int64 {
	return s.now().UnixMilli()
}

func (s *SQLStore) CreateThread(ctx context.Context, sessionID, title string) (*Thread, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("chatstore: empty session id")
	}
	if title == "" {
		title = sessionID
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "chatstore: begin")
	}
	defer func() { _ = tx.Rollback() }()

	th, err := createThreadTx(ctx, tx, sessionID, title, s.nowMs())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "chatstore: commit")
	}
	return th, nil
}

func createThreadTx(ctx context.Context, tx *sql.Tx, sessionID, title string, now int64) (*Thread, error) {
	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_threads SET is_active = 0, modified_at_ms = ? WHERE session_uuid = ? AND is_active = 1`,
		now, sessionID,
	); err != nil {
		return nil, errors.Wrap(err, "chatstore: deactivate threads")
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO chat_threads (session_uuid, title, is_active, created_at_ms, modified_at_ms) VALUES (?, ?, 1, ?, ?)`,
		sessionID, title, now, now,
	)
	if err != nil {
		return nil, errors.Wrap(err, "chatstore: insert thread")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "chatstore: thread id")
	}
	return &Thread{ID: id, SessionID: sessionID, Title: title, Active: true, CreatedAtMs: now}, nil
}

func (s *SQLStore) ActiveThread(ctx context.Context, sessionID string) (*Thread, error) {
	return activeThread(ctx, s.db, sessionID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func activeThread(ctx context.Context, q queryer, sessionID string) (*Thread, error) {
	var (
		th        Thread
		title     sql.NullString
		datasetID sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
		SELECT thread_id, session_uuid, title, dataset_id, is_active, created_at_ms
		FROM chat_threads
		WHERE session_uuid = ? AND is_active = 1
		ORDER BY thread_id DESC
		LIMIT 1`, sessionID,
	).Scan(&th.ID, &th.SessionID, &title, &datasetID, &th.Active, &th.CreatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "chatstore: active thread")
	}
	th.Title = title.String
	if datasetID.Valid {
		id := datasetID.Int64
		th.DatasetID = &id
	}
	return &th, nil
}

func (s *SQLStore) AppendMessage(ctx context.Context, threadID int64, role, content string) (*Message, error) {
	switch role {
	case RoleUser, RoleBot, RoleSystem:
	default:
		return nil, errors.Errorf("chatstore: invalid role %q", role)
	}
	now := s.nowMs()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (thread_id, content, role, is_active, created_at_ms, modified_at_ms) VALUES (?, ?, ?, 1, ?, ?)`,
		threadID, content, role, now, now,
	)
	if err != nil {
		return nil, errors.Wrap(err, "chatstore: insert message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "chatstore: message id")
	}
	return &Message{ID: id, ThreadID: threadID, Role: role, Content: content, CreatedAtMs: now}, nil
}

func (s *SQLStore) Messages(ctx context.Context, threadID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, thread_id, role, content, created_at_ms
		FROM chat_messages
		WHERE thread_id = ? AND is_active = 1
		ORDER BY message_id ASC`, threadID)
	if err != nil {
		return nil, errors.Wrap(err, "chatstore: list messages")
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.CreatedAtMs); err != nil {
			return nil, errors.Wrap(err, "chatstore: scan message")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "chatstore: list messages")
	}
	return out, nil
}

func (s *SQLStore) SaveDataset(ctx context.Context, sessionID string, d Dataset) (*Dataset, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("chatstore: empty session id")
	}
	if strings.TrimSpace(d.Name) == "" {
		d.Name = "sample data"
	}
	meta, err := json.Marshal(datasetMetadata{DDLs: d.DDLs, Mapping: d.Mapping})
	if err != nil {
		return nil, errors.Wrap(err, "chatstore: encode dataset metadata")
	}

	now := s.nowMs()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "chatstore: begin")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO datasets (name, description, dataset_metadata, created_by, is_active, created_at_ms, modified_at_ms) VALUES (?, ?, ?, ?, 1, ?, ?)`,
		d.Name, d.Description, string(meta), sessionID, now, now,
	)
	if err != nil {
		return nil, errors.Wrap(err, "chatstore: insert dataset")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "chatstore: dataset id")
	}

	th, err := activeThread(ctx, tx, sessionID)
	if errors.Is(err, ErrNotFound) {
		th, err = createThreadTx(ctx, tx, sessionID, sessionID, now)
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_threads SET dataset_id = ?, modified_at_ms = ? WHERE thread_id = ?`,
		id, now, th.ID,
	); err != nil {
		return nil, errors.Wrap(err, "chatstore: attach dataset")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "chatstore: commit")
	}

	d.ID = id
	d.CreatedBy = sessionID
	d.CreatedAtMs = now
	return &d, nil
}

// ActiveDataset returns the dataset attached to the session's active thread.
// A session whose active thread has no dataset yields ErrNotFound.
func (s *SQLStore) ActiveDataset(ctx context.Context, sessionID string) (*Dataset, error) {
	var (
		d    Dataset
		desc sql.NullString
		meta sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT d.dataset_id, d.name, d.description, d.dataset_metadata, d.created_by, d.created_at_ms
		FROM chat_threads t
		JOIN datasets d ON d.dataset_id = t.dataset_id
		WHERE t.session_uuid = ? AND t.is_active = 1 AND t.dataset_id IS NOT NULL
		ORDER BY t.thread_id DESC
		LIMIT 1`, sessionID,
	).Scan(&d.ID, &d.Name, &desc, &meta, &d.CreatedBy, &d.CreatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "chatstore: active dataset")
	}
	d.Description = desc.String
	if meta.Valid && meta.String != "" {
		var m datasetMetadata
		if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
			return nil, errors.Wrap(err, "chatstore: decode dataset metadata")
		}
		d.DDLs = m.DDLs
		d.Mapping = m.Mapping
	}
	if d.DDLs == nil {
		d.DDLs = map[string]string{}
	}
	if d.Mapping == nil {
		d.Mapping = map[string]string{}
	}
	return &d, nil
}
