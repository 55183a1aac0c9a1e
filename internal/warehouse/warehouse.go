// Package warehouse provides the persistence layer for the sales star
// schema: dimension synchronization and idempotent fact loading.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Warehouse owns the single connection to the dimensional store. The run
// holds it exclusively; nothing here guards against a second process writing
// the same tables.
type Warehouse struct {
	db *sql.DB
}

// Open connects to the warehouse database.
func Open(dsn string) (*Warehouse, error) {
	if dsn == "" {
		return nil, fmt.Errorf("warehouse dsn cannot be empty")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse database: %w", err)
	}

	// One connection per run. Besides matching SQLite's sweet spot, this
	// keeps connection-scoped PRAGMAs (foreign_keys) in effect for every
	// statement of the run.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping warehouse database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Warehouse{db: db}, nil
}

// OpenDB wraps an already-open database handle. Intended for tests and
// embedders that manage the connection themselves.
func OpenDB(db *sql.DB) *Warehouse {
	return &Warehouse{db: db}
}

// Close closes the database connection.
func (w *Warehouse) Close() error {
	return w.db.Close()
}

// DB exposes the underlying handle for sibling feeds that share the
// warehouse connection.
func (w *Warehouse) DB() *sql.DB {
	return w.db
}

// withRelaxedConstraints runs fn with referential-integrity enforcement
// switched off, restoring it on every exit path. The fact table's date key
// is derived, not looked up, so enforcing its references during a load would
// reject valid batches. A failure to restore is logged as a warning and does
// not override fn's outcome.
func (w *Warehouse) withRelaxedConstraints(ctx context.Context, fn func() error) error {
	if _, err := w.db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("failed to relax constraints: %w", err)
	}
	defer func() {
		if _, err := w.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			slog.Warn("Failed to restore constraint enforcement", "error", err)
		}
	}()

	return fn()
}
