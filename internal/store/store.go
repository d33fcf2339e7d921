// Package store is the local embedded store for synchronized records.
//
// The store keeps one table per entity kind (tasks, projects, rituals), each
// keyed by entity id. It runs SQLite in embedded mode with WAL so that a
// synchronization triggered by a change notification can read and write while
// an orchestrated synchronization is in flight.
//
// Every write is a single-row upsert, atomic at the record level. Tasks and
// projects are only overwritten by a copy whose modified_at is not older than
// the stored one, so concurrent writers cannot move a record back in time.
//
// Workflow:
//  1. Open the store and call InitSchema once
//  2. The reconciler lists local records and upserts downloaded ones
//  3. The CLI reads counts and single records for status output
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/mschirtzinger/flowsync/internal/schema"
)

// ErrNotFound is returned by the Get*ByID lookups when no record has the id.
var ErrNotFound = errors.New("record not found")

// timeLayout is fixed-width so that stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps the SQLite connection holding the local copies.
type DB struct {
	conn   *sql.DB
	path   string
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open creates a new database connection at the specified path.
//
// The parent directory is created if needed. The caller MUST call Close()
// when done so the WAL is checkpointed.
//
// Example:
//
//	db, err := store.Open(".flowsync/local.db", logger)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// busy_timeout goes in the DSN so every pooled connection gets it
	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:   conn,
		path:   path,
		logger: logger.Named("store"),
	}

	// Concurrent readers during writes
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection. Later calls return
// the first call's result. Queries after Close fail with an error from
// database/sql.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			db.logger.Warn("Failed to checkpoint WAL", zap.Error(err))
		}
		if err := db.conn.Close(); err != nil {
			db.closeErr = fmt.Errorf("failed to close database: %w", err)
		}
	})
	return db.closeErr
}

// InitSchema creates the tables if they don't exist. It is idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		created_at TEXT NOT NULL,
		due_date TEXT,
		project_id TEXT,
		tags TEXT NOT NULL DEFAULT '[]',  -- JSON array
		task_key TEXT,
		modified_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		key TEXT NOT NULL,
		description TEXT,
		created_at TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '#4A90E2',
		icon_name TEXT,
		task_counter INTEGER NOT NULL DEFAULT 0,
		is_archived INTEGER NOT NULL DEFAULT 0,
		modified_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rituals (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		is_completed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		last_completed TEXT,
		reset_time TEXT,
		streak_count INTEGER NOT NULL DEFAULT 0,
		frequency TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_modified ON tasks(modified_at);
	CREATE INDEX IF NOT EXISTS idx_projects_modified ON projects(modified_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Counts holds the number of stored records per kind.
type Counts struct {
	Tasks    int
	Projects int
	Rituals  int
}

// Count returns the number of records in every table.
func (db *DB) Count(ctx context.Context) (Counts, error) {
	var c Counts
	targets := []struct {
		table string
		dst   *int
	}{
		{"tasks", &c.Tasks},
		{"projects", &c.Projects},
		{"rituals", &c.Rituals},
	}
	for _, t := range targets {
		if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table).Scan(t.dst); err != nil {
			return Counts{}, fmt.Errorf("failed to count %s: %w", t.table, err)
		}
	}
	return c, nil
}

// formatTime converts a timestamp to its stored text form.
func formatTime(t time.Time) string {
	return schema.NormalizeTime(t).Format(timeLayout)
}

// parseTime converts stored text back to a timestamp.
func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func textToNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
