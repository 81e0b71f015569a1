// Package store implements the durable, crash-safe task queue: a single
// SQLite file exposing enqueue, lease, ack, approve, list, stats and
// retry_all_failed as atomic operations over a pool of database handles.
package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/taituo/kirosu/internal/migrate"
)

// poolSize is the fixed number of concurrent store handles backing callers.
const poolSize = 5

// busyTimeoutMillis is the SQLite busy-wait window under write contention.
const busyTimeoutMillis = 3000

// Store is the durable task queue. All exported methods are safe for
// concurrent use; the underlying *sql.DB serializes writes against SQLite's
// single-writer model and returns ErrBusy when the busy-timeout is exceeded.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite file at path, applies
// schema migrations, and returns a ready Store.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL", path, busyTimeoutMillis)

	if err := migrate.Migrate(path); err != nil {
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)

	return &Store{db: db}, nil
}

// Close releases all pooled handles. The WAL and shared-memory sidecar
// files are left for SQLite to clean up on its own checkpoint schedule.
func (s *Store) Close() error {
	return s.db.Close()
}

// wrapWriteErr classifies a write-path error into the spec's error
// taxonomy: SQLITE_BUSY/"database is locked" becomes ErrBusy, anything
// else from the driver becomes ErrCorrupt.
func wrapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return fmt.Errorf("%w: %v", ErrCorrupt, err)
}
