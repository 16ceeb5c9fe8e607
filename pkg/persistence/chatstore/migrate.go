package chatstore

import (
	"context"
	"database/sql"
	"embed"
	"sync"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/sqlite3/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

// goose keeps its dialect and filesystem in package state.
var gooseMu sync.Mutex

type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...interface{}) {
	log.Debug().Msgf(format, v...)
}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	log.Fatal().Msgf(format, v...)
}

// Migrate brings the schema for driver up to date.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	dir, err := migrationsDir(driver)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(gooseLogger{})

	if err := goose.SetDialect(driver); err != nil {
		return errors.Wrapf(err, "chatstore: goose dialect %s", driver)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return errors.Wrap(err, "chatstore: migrate")
	}
	return nil
}

func migrationsDir(driver string) (string, error) {
	switch driver {
	case DriverSQLite:
		return "migrations/sqlite3", nil
	case DriverMySQL:
		return "migrations/mysql", nil
	default:
		return "", errors.Errorf("chatstore: unsupported driver %q", driver)
	}
}
