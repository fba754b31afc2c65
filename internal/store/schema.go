// Package store provides the SQLite-backed task, link and settings store.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tasks (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_task_id     INTEGER REFERENCES tasks(id) ON DELETE CASCADE,
	title              TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	priority           INTEGER NOT NULL DEFAULT 0,
	nudge_window_start DATETIME NOT NULL,
	nudge_window_end   DATETIME,
	nudge_text         TEXT NOT NULL DEFAULT '',
	memory_context     TEXT,
	category           TEXT,
	source             TEXT NOT NULL DEFAULT 'chat',
	source_message_id  TEXT,
	source_channel_id  TEXT,
	source_user_id     TEXT,
	last_nudged_at     DATETIME,
	nudge_count        INTEGER NOT NULL DEFAULT 0,
	snooze_count       INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id);
CREATE INDEX IF NOT EXISTS idx_tasks_source_user ON tasks(source_user_id);

CREATE TABLE IF NOT EXISTS task_integrations (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id               INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	provider              TEXT NOT NULL,
	external_id           TEXT,
	external_payload_json TEXT,
	last_synced_at        DATETIME,
	claimed_at            INTEGER,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL,
	UNIQUE(provider, external_id),
	UNIQUE(task_id, provider)
);

CREATE INDEX IF NOT EXISTS idx_task_integrations_provider ON task_integrations(provider);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// DB wraps a sql.DB with task-store operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Ping checks the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
