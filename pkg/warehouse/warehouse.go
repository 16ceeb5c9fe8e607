// Package warehouse stores generated datasets as physical tables in an
// embedded SQLite file and answers the queries the agent writes against them.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-go-golems/tablechat/pkg/tabular"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

type Warehouse interface {
	Query(ctx context.Context, query string) (*tabular.Table, error)
	CreateTable(ctx context.Context, name string, t *tabular.Table) error
	TableDDL(ctx context.Context, name string) (string, error)
	DropTable(ctx context.Context, name string) error
}

// NewPhysicalName returns a fresh table identifier of the form t_<32 hex>.
func NewPhysicalName() string {
	return "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

type SQLite struct {
	db *sql.DB
}

var _ Warehouse = &SQLite{}

func Open(path string) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("warehouse: empty path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "warehouse: open")
	}
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Debug().Err(err).Msg("warehouse: WAL not enabled")
	}
	return &SQLite{db: db}, nil
}

func (w *SQLite) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *SQLite) Query(ctx context.Context, query string) (*tabular.Table, error) {
	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := tabular.New(cols...)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			vals[i] = tabular.Normalize(v)
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateTable creates name with column types inferred from t and loads all
// rows in one transaction. It fails if the table exists.
func (w *SQLite) CreateTable(ctx context.Context, name string, t *tabular.Table) error {
	if t == nil || len(t.Columns) == 0 {
		return errors.Errorf("warehouse: table %s has no columns", name)
	}
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = fmt.Sprintf("%s %s", quote(c), columnType(t, i))
	}
	create := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", quote(name), strings.Join(defs, ",\n\t"))

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "warehouse: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, create); err != nil {
		return errors.Wrapf(err, "warehouse: create %s", name)
	}
	if len(t.Rows) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quote(name), marks))
		if err != nil {
			return errors.Wrapf(err, "warehouse: prepare insert %s", name)
		}
		defer func() { _ = stmt.Close() }()
		for _, row := range t.Rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return errors.Wrapf(err, "warehouse: insert %s", name)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "warehouse: commit")
	}
	log.Debug().Str("table", name).Int("rows", t.Len()).Msg("warehouse table created")
	return nil
}

func (w *SQLite) TableDDL(ctx context.Context, name string) (string, error) {
	var ddl sql.NullString
	err := w.db.QueryRowContext(ctx, "SELECT sql FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&ddl)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.Errorf("warehouse: table %s not found", name)
	}
	if err != nil {
		return "", errors.Wrapf(err, "warehouse: ddl %s", name)
	}
	return ddl.String, nil
}

func (w *SQLite) DropTable(ctx context.Context, name string) error {
	_, err := w.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(name))
	return errors.Wrapf(err, "warehouse: drop %s", name)
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// columnType picks INTEGER, REAL or TEXT from the non-null values of column i.
func columnType(t *tabular.Table, i int) string {
	kind := ""
	for _, row := range t.Rows {
		switch row[i].(type) {
		case nil:
			continue
		case int64, bool:
			if kind == "" {
				kind = "INTEGER"
			}
		case float64:
			if kind == "" || kind == "INTEGER" {
				kind = "REAL"
			}
		default:
			return "TEXT"
		}
	}
	if kind == "" {
		return "TEXT"
	}
	return kind
}
