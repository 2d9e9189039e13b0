// Package store persists named run configurations and one-shot schedules in
// a DuckDB file, so saved request templates and pending timers survive a
// process restart.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // driver

	"github.com/tdhoang/reportfetch/internal/coordinator"
)

// ErrNotFound is returned when a named configuration or schedule id does
// not exist.
var ErrNotFound = errors.New("not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS saved_config (
    name       VARCHAR PRIMARY KEY,
    document   VARCHAR NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS schedule (
    id          VARCHAR PRIMARY KEY,
    config_name VARCHAR NOT NULL,
    run_at      TIMESTAMP NOT NULL,
    created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedule_run_at ON schedule (run_at);
`

// Store wraps the DuckDB handle.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database file and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", path, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		db.Close()
		return nil, fmt.Errorf("initializing store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SavedConfig is a named request template. The one-time seed is never part
// of the document; the password is, which is why the store file must be
// treated as a secret.
type SavedConfig struct {
	Name      string
	Request   coordinator.Request
	UpdatedAt time.Time
}

// SaveConfig inserts or replaces a named configuration.
func (s *Store) SaveConfig(ctx context.Context, name string, req coordinator.Request) error {
	doc, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding configuration %q: %w", name, err)
	}
	query := `
        INSERT OR REPLACE INTO saved_config (name, document, updated_at)
        VALUES (?, ?, ?);
    `
	if _, err := s.db.ExecContext(ctx, query, name, string(doc), time.Now().UTC()); err != nil {
		return fmt.Errorf("saving configuration %q: %w", name, err)
	}
	return nil
}

// LoadConfig returns the named configuration.
func (s *Store) LoadConfig(ctx context.Context, name string) (SavedConfig, error) {
	query := `SELECT document, updated_at FROM saved_config WHERE name = ?;`
	var doc string
	var updated time.Time
	err := s.db.QueryRowContext(ctx, query, name).Scan(&doc, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return SavedConfig{}, fmt.Errorf("configuration %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return SavedConfig{}, fmt.Errorf("loading configuration %q: %w", name, err)
	}
	var req coordinator.Request
	if err := json.Unmarshal([]byte(doc), &req); err != nil {
		return SavedConfig{}, fmt.Errorf("decoding configuration %q: %w", name, err)
	}
	return SavedConfig{Name: name, Request: req, UpdatedAt: updated}, nil
}

// ListConfigs returns all saved configurations ordered by name.
func (s *Store) ListConfigs(ctx context.Context) ([]SavedConfig, error) {
	query := `SELECT name, document, updated_at FROM saved_config ORDER BY name;`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing configurations: %w", err)
	}
	defer rows.Close()

	var out []SavedConfig
	for rows.Next() {
		var c SavedConfig
		var doc string
		if err := rows.Scan(&c.Name, &doc, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning configuration row: %w", err)
		}
		if err := json.Unmarshal([]byte(doc), &c.Request); err != nil {
			return nil, fmt.Errorf("decoding configuration %q: %w", c.Name, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteConfig removes a named configuration. Deleting a missing name is
// ErrNotFound.
func (s *Store) DeleteConfig(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM saved_config WHERE name = ?;`, name)
	if err != nil {
		return fmt.Errorf("deleting configuration %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("configuration %q: %w", name, ErrNotFound)
	}
	return nil
}

// Schedule is one pending fire of a saved configuration.
type Schedule struct {
	ID         string
	ConfigName string
	RunAt      time.Time
	CreatedAt  time.Time
}

// AddSchedule records a pending schedule.
func (s *Store) AddSchedule(ctx context.Context, sched Schedule) error {
	query := `INSERT INTO schedule (id, config_name, run_at, created_at) VALUES (?, ?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, query, sched.ID, sched.ConfigName, sched.RunAt.UTC(), sched.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("saving schedule %s: %w", sched.ID, err)
	}
	return nil
}

// ListSchedules returns all pending schedules in fire order.
func (s *Store) ListSchedules(ctx context.Context) ([]Schedule, error) {
	query := `SELECT id, config_name, run_at, created_at FROM schedule ORDER BY run_at;`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var sc Schedule
		if err := rows.Scan(&sc.ID, &sc.ConfigName, &sc.RunAt, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning schedule row: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// RemoveSchedule deletes a schedule, fired or cancelled alike.
func (s *Store) RemoveSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedule WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("removing schedule %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return nil
}
