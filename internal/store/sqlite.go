// Package store provides SQLite-backed persistence for configurations,
// runs, best-config pointers, and the evolution audit log.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS configs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	scope       TEXT NOT NULL,
	version     TEXT NOT NULL,
	params_json TEXT NOT NULL DEFAULT '{}',
	hash        TEXT NOT NULL,
	is_current  INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	UNIQUE(scope, hash)
);
CREATE INDEX IF NOT EXISTS idx_configs_scope ON configs(scope, is_current);

CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL UNIQUE,
	config_id   INTEGER NOT NULL REFERENCES configs(id),
	task_id     TEXT NOT NULL,
	passed      INTEGER NOT NULL DEFAULT 0,
	progress    REAL NOT NULL DEFAULT 0.0,
	turns       INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	fail_reason TEXT NOT NULL DEFAULT '',
	score       INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task_id);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);

CREATE TABLE IF NOT EXISTS best_configs (
	scope      TEXT PRIMARY KEY,
	config_id  INTEGER NOT NULL REFERENCES configs(id),
	run_id     INTEGER NOT NULL REFERENCES runs(id),
	score      INTEGER NOT NULL,
	pass_count INTEGER NOT NULL DEFAULT 0,
	total_runs INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS evolution_changes (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	scope          TEXT NOT NULL,
	from_config_id INTEGER NOT NULL,
	to_config_id   INTEGER NOT NULL DEFAULT 0,
	delta_json     TEXT NOT NULL DEFAULT '{}',
	reasoning      TEXT NOT NULL DEFAULT '',
	accepted       INTEGER NOT NULL DEFAULT 0,
	reject_reason  TEXT NOT NULL DEFAULT '',
	observed_delta INTEGER,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changes_scope ON evolution_changes(scope, created_at);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
