package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Store implements every repository interface on top of sqlx. Queries are
// written with '?' placeholders and rebound for the active driver.
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore opens and migrates a database. driver is "sqlite" (dsn is a file
// path or ":memory:") or "postgres" (dsn is a libpq connection string).
func NewStore(driver, dsn string) (*Store, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if driver == "sqlite" {
		// One connection: ":memory:" databases are per-connection and SQLite
		// serializes writers anyway.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &Store{
		db:     db,
		driver: driver,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating database: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	types := strings.NewReplacer(
		"{{REAL}}", "REAL",
		"{{TS}}", "DATETIME",
		"{{BOOL}}", "BOOLEAN",
	)
	if s.driver == "postgres" {
		types = strings.NewReplacer(
			"{{REAL}}", "DOUBLE PRECISION",
			"{{TS}}", "TIMESTAMPTZ",
			"{{BOOL}}", "BOOLEAN",
		)
	}

	schema := types.Replace(`
		CREATE TABLE IF NOT EXISTS disasters (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			category TEXT NOT NULL,
			status TEXT NOT NULL,
			event_date TEXT NOT NULL,
			event_time TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			coordinate TEXT NOT NULL DEFAULT '',
			latitude {{REAL}} NOT NULL,
			longitude {{REAL}} NOT NULL,
			magnitude {{REAL}} NOT NULL DEFAULT 0,
			depth {{REAL}} NOT NULL DEFAULT 0,
			shakemap_url TEXT,
			reported_by TEXT,
			created_at {{TS}} NOT NULL,
			updated_at {{TS}} NOT NULL
		);

		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			active {{BOOL}} NOT NULL DEFAULT TRUE,
			created_at {{TS}} NOT NULL
		);

		CREATE TABLE IF NOT EXISTS disaster_assignments (
			disaster_id TEXT NOT NULL REFERENCES disasters(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			created_at {{TS}} NOT NULL,
			PRIMARY KEY (disaster_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			disaster_id TEXT NOT NULL REFERENCES disasters(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at {{TS}} NOT NULL
		);

		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			disaster_id TEXT NOT NULL,
			category TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			read_at {{TS}},
			created_at {{TS}} NOT NULL
		);

		CREATE TABLE IF NOT EXISTS devices (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			platform TEXT NOT NULL DEFAULT '',
			created_at {{TS}} NOT NULL
		);

		-- Feed earthquakes are identified by an exact composite key. The unique
		-- index closes the window between the duplicate check and the insert.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_disasters_feed_key
			ON disasters(source, category, latitude, longitude, magnitude, event_date, event_time)
			WHERE source = 'bmkg';

		CREATE INDEX IF NOT EXISTS idx_disasters_event_date ON disasters(event_date);
		CREATE INDEX IF NOT EXISTS idx_disasters_status ON disasters(status);
		CREATE INDEX IF NOT EXISTS idx_assignments_user_id ON disaster_assignments(user_id);
		CREATE INDEX IF NOT EXISTS idx_notifications_user_id ON notifications(user_id);
		CREATE INDEX IF NOT EXISTS idx_devices_user_id ON devices(user_id);
	`)

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// get runs a single-row query and maps sql.ErrNoRows to ErrNotFound.
func (s *Store) get(ctx context.Context, dest any, query string, args ...any) error {
	err := s.db.GetContext(ctx, dest, s.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *Store) selectIn(ctx context.Context, dest any, query string, args ...any) error {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return fmt.Errorf("error expanding query: %w", err)
	}
	return s.db.SelectContext(ctx, dest, s.db.Rebind(query), args...)
}
