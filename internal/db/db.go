// Package db provides SQLite database access for the supply bot.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the SQL database handle.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, busyTimeoutMs int) (*DB, error) {
	if busyTimeoutMs <= 0 {
		busyTimeoutMs = 5000
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)", path, busyTimeoutMs)

	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := handle.Ping(); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	database := &DB{DB: handle}
	if err := database.ensureSchema(context.Background()); err != nil {
		_ = handle.Close()
		return nil, err
	}
	return database, nil
}

// OpenInMemory opens a fresh in-memory database. Used by tests. The
// pool is pinned to one connection because every in-memory connection
// would otherwise get its own empty database.
func OpenInMemory() (*DB, error) {
	database, err := Open("file::memory:", 5000)
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(1)
	return database, nil
}

// Transaction runs fn inside a transaction, rolling back on error.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (db *DB) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS supply_orders (
			id TEXT PRIMARY KEY,
			chat_id INTEGER NOT NULL,
			task_id TEXT NOT NULL,
			operation_id TEXT NOT NULL DEFAULT '',
			order_id INTEGER,
			status TEXT NOT NULL,
			task_json TEXT,
			arrival TEXT NOT NULL DEFAULT '',
			warehouse TEXT NOT NULL DEFAULT '',
			drop_off_name TEXT NOT NULL DEFAULT '',
			cluster_id INTEGER NOT NULL DEFAULT 0,
			cluster_name TEXT NOT NULL DEFAULT '',
			warehouse_id INTEGER NOT NULL DEFAULT 0,
			warehouse_name TEXT NOT NULL DEFAULT '',
			timeslot_from TEXT NOT NULL DEFAULT '',
			timeslot_to TEXT NOT NULL DEFAULT '',
			items_json TEXT,
			failure_code TEXT NOT NULL DEFAULT '',
			failure_message TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_supply_orders_task
			ON supply_orders(chat_id, task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_supply_orders_status
			ON supply_orders(status)`,
		`CREATE TABLE IF NOT EXISTS chat_states (
			chat_id INTEGER PRIMARY KEY,
			state_json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_contexts (
			chat_id INTEGER NOT NULL,
			task_id TEXT NOT NULL,
			context_json TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (chat_id, task_id)
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			chat_id INTEGER PRIMARY KEY,
			client_id TEXT NOT NULL,
			api_key TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
