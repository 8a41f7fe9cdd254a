package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// TimeLayout is the canonical timestamp format for every row the device
// database owns. The fixed millisecond width keeps lexicographic order
// identical to chronological order, which the change-detection queries
// rely on.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Store is the on-device SQLite database. One Store per device; callers
// share it across the repositories and the sync coordinator.
type Store struct {
	db   *sql.DB
	path string

	// BusyTimeout is handed to SQLite as PRAGMA busy_timeout.
	BusyTimeout time.Duration
	// StartupGrace is slept once before migration so a previous process
	// instance can finish releasing its write lock.
	StartupGrace time.Duration
	// LockRetries bounds how often Migrate retries a locked database.
	LockRetries int
	// RetryBaseDelay is multiplied by the attempt number between retries.
	RetryBaseDelay time.Duration
}

// Open opens (creating if needed) the device database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open device database: %w", err)
	}

	// The device process is the only writer; a single connection avoids
	// spurious SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:             db,
		path:           path,
		BusyTimeout:    15 * time.Second,
		StartupGrace:   2 * time.Second,
		LockRetries:    10,
		RetryBaseDelay: 5 * time.Second,
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", s.BusyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Now returns the current UTC time in the canonical layout.
func (s *Store) Now() string {
	return FormatTime(time.Now())
}

// FormatTime renders t in the canonical layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts any RFC 3339 timestamp, including the canonical
// layout and the variable-precision strings the server emits.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func (s *Store) execContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}
