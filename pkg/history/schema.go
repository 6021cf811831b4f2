package history

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the schema version written by Migrate.
const SchemaVersion = 1

// Migrate creates the history schema in place. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS history_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO history_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS sync_runs (
			run_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL,
			listed INTEGER NOT NULL DEFAULT 0,
			cached INTEGER NOT NULL DEFAULT 0,
			candidates INTEGER NOT NULL DEFAULT 0,
			corrections INTEGER NOT NULL DEFAULT 0,
			fetch_errors INTEGER NOT NULL DEFAULT 0,
			error_message TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);`,

		`CREATE TABLE IF NOT EXISTS status_changes (
			change_id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			experiment TEXT NOT NULL,
			old_status TEXT NOT NULL,
			new_status TEXT NOT NULL,
			source TEXT NOT NULL,
			changed_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_status_changes_experiment ON status_changes(experiment);`,
		`CREATE INDEX IF NOT EXISTS idx_status_changes_changed_at ON status_changes(changed_at);`,

		`CREATE TABLE IF NOT EXISTS experiment_snapshots (
			experiment TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			status_str TEXT,
			job_count INTEGER NOT NULL DEFAULT 0,
			cluster TEXT,
			first_seen_at TEXT NOT NULL,
			last_seen_at TEXT NOT NULL,
			seen_count INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_experiment_snapshots_status ON experiment_snapshots(status);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM history_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE history_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Version returns the schema version recorded in the database.
func (s *Store) Version(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `SELECT schema_version FROM history_meta WHERE id=1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}
