// Package db holds the SQLite schema, migrations and typed queries for activities and auth config.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens the SQLite database at path and configures it for a single writer.
// Times are written in SQLite's own format so start_date comparisons sort correctly.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_time_format=sqlite"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := configure(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("configuring SQLite: %w", err)
	}
	return sqlDB, nil
}

func configure(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}

	// SQLite allows a single writer
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	logging.Logger.Debug().
		Str("journal_mode", "WAL").
		Str("busy_timeout", "5000ms").
		Msg("SQLite configured")
	return nil
}

// CheckLock fails when another process holds an exclusive lock on the database.
func CheckLock(sqlDB *sql.DB) error {
	if _, err := sqlDB.Exec("BEGIN EXCLUSIVE"); err != nil {
		msg := err.Error()
		if strings.Contains(msg, "locked") || strings.Contains(msg, "busy") {
			return fmt.Errorf("another instance is already running (database is locked)")
		}
		return fmt.Errorf("checking database lock: %w", err)
	}
	if _, err := sqlDB.Exec("COMMIT"); err != nil {
		return fmt.Errorf("releasing lock check: %w", err)
	}
	return nil
}

// Migrate applies all pending embedded migrations and returns how many ran.
func Migrate(ctx context.Context, sqlDB *sql.DB) (int, error) {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("opening migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, sqlDB, fsys)
	if err != nil {
		return 0, fmt.Errorf("creating goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("running migrations: %w", err)
	}

	for _, r := range results {
		logging.Logger.Debug().Int64("version", r.Source.Version).Str("path", r.Source.Path).Msg("migration applied")
	}
	return len(results), nil
}

// OpenAndMigrate is Open followed by Migrate.
func OpenAndMigrate(ctx context.Context, path string) (*sql.DB, error) {
	sqlDB, err := Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := Migrate(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return sqlDB, nil
}
