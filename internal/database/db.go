// Package database holds the session and transcript store, its SQLite
// schema, and the in-process broker that fans inserted messages out to
// subscribers.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/edgard/funnelbot/migrations"

	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

const memoryDSN = ":memory:"

// Applied on every connection. WAL is skipped for in-memory databases.
var pragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
}

// NewDB opens the SQLite database at dsn, a file path, a file: URI, or
// ":memory:", and migrates it to the latest schema.
func NewDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", dsn, err)
	}

	// One connection serializes writes and keeps a ":memory:" database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := configure(db, dsn); err != nil {
		CloseDB(db)
		return nil, err
	}

	version, err := ApplyMigrations(db.DB, fileName(dsn))
	if err != nil {
		CloseDB(db)
		return nil, err
	}

	slog.Info("Database ready", "dsn", dsn, "schema_version", version)
	return db, nil
}

func configure(db *sqlx.DB, dsn string) error {
	stmts := pragmas
	if fileName(dsn) != memoryDSN {
		stmts = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
	}
	return nil
}

// CloseDB closes the pool, logging rather than returning the error.
func CloseDB(db *sqlx.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		slog.Error("Error closing database", "error", err)
	}
}

// ApplyMigrations migrates db to the newest embedded schema and returns the
// resulting schema version.
func ApplyMigrations(db *sql.DB, name string) (uint, error) {
	if db == nil {
		return 0, errors.New("cannot migrate a nil database")
	}
	if name == "" {
		return 0, errors.New("cannot migrate a database without a name")
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return 0, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{DatabaseName: name})
	if err != nil {
		return 0, fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

// fileName strips the file: scheme and query parameters from a DSN.
func fileName(dsn string) string {
	name := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	if decoded, err := url.PathUnescape(name); err == nil {
		return decoded
	}
	return name
}
