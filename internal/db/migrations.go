package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/marcus/taskmaster/internal/logging"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: tasks, workflows, snapshot_meta",
		SQL:         migration001SQL,
	},
	{
		Version:     2,
		Description: "add task_runs table for execution history",
		SQL:         migration002SQL,
	},
}

const migration001SQL = `
CREATE TABLE tasks (
    id             TEXT PRIMARY KEY,
    seq            INTEGER NOT NULL,
    name           TEXT NOT NULL,
    description    TEXT NOT NULL DEFAULT '',
    priority       TEXT NOT NULL,
    estimated_time TEXT NOT NULL,
    dependencies   TEXT NOT NULL DEFAULT '[]',
    automatable    INTEGER NOT NULL DEFAULT 1,
    status         TEXT NOT NULL,
    progress       INTEGER NOT NULL DEFAULT 0,
    created_at     DATETIME NOT NULL,
    updated_at     DATETIME NOT NULL,
    completed_at   DATETIME,
    error          TEXT NOT NULL DEFAULT ''
);

CREATE TABLE workflows (
    name        TEXT PRIMARY KEY,
    seq         INTEGER NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    tasks       TEXT NOT NULL DEFAULT '[]',
    trigger_kind TEXT NOT NULL DEFAULT '',
    schedule    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE snapshot_meta (
    id           INTEGER PRIMARY KEY CHECK (id = 1),
    last_updated DATETIME NOT NULL
);

CREATE INDEX idx_tasks_seq ON tasks(seq);
CREATE INDEX idx_workflows_seq ON workflows(seq);
`

const migration002SQL = `
CREATE TABLE task_runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id     TEXT NOT NULL,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX idx_task_runs_task ON task_runs(task_id, started_at DESC);
`

// Migrate runs all pending migrations inside transactions.
func Migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return err
	}

	log := logging.Component("db")
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", migration.Version, err)
		}

		log.InfoCtx("applied migration", map[string]any{
			"version":     migration.Version,
			"description": migration.Description,
		})
		currentVersion = migration.Version
	}

	return nil
}

// CurrentVersion returns the current schema version (0 if no migrations applied).
func CurrentVersion(db *sql.DB) (int, error) {
	if db == nil {
		return 0, errors.New("db is nil")
	}

	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}
