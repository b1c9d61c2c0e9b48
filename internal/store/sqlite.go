package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/taskmaster/internal/db"
	"github.com/marcus/taskmaster/internal/tasks"
)

const timeLayout = time.RFC3339Nano

// SQLStore keeps the snapshot in SQLite tables. Save replaces the whole
// snapshot in one transaction.
type SQLStore struct {
	db *db.DB
}

// NewSQLStore wraps an open database.
func NewSQLStore(database *db.DB) *SQLStore {
	return &SQLStore{db: database}
}

// Load reads every task and workflow in insertion order.
func (s *SQLStore) Load(ctx context.Context) (tasks.Snapshot, error) {
	var lastUpdated string
	err := s.db.SQL().QueryRowContext(ctx, `SELECT last_updated FROM snapshot_meta WHERE id = 1`).Scan(&lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return tasks.Snapshot{}, fmt.Errorf("snapshot in %s: %w", s.db.Path(), tasks.ErrNotFound)
	}
	if err != nil {
		return tasks.Snapshot{}, s.ioErr("read snapshot meta", err)
	}

	snap := tasks.Snapshot{ProjectTasks: []tasks.Task{}, Workflows: []tasks.Workflow{}}
	if snap.LastUpdated, err = time.Parse(timeLayout, lastUpdated); err != nil {
		return tasks.Snapshot{}, &tasks.ConfigError{Source: s.db.Path(), Err: err}
	}

	if snap.ProjectTasks, err = s.loadTasks(ctx); err != nil {
		return tasks.Snapshot{}, err
	}
	if snap.Workflows, err = s.loadWorkflows(ctx); err != nil {
		return tasks.Snapshot{}, err
	}
	return snap, nil
}

func (s *SQLStore) loadTasks(ctx context.Context) ([]tasks.Task, error) {
	rows, err := s.db.SQL().QueryContext(ctx, `
		SELECT id, name, description, priority, estimated_time, dependencies, automatable,
		       status, progress, created_at, updated_at, completed_at, error
		FROM tasks ORDER BY seq`)
	if err != nil {
		return nil, s.ioErr("query tasks", err)
	}
	defer func() { _ = rows.Close() }()

	out := []tasks.Task{}
	for rows.Next() {
		var (
			t                tasks.Task
			deps             string
			created, updated string
			completed        sql.NullString
			priority, status string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &priority, &t.EstimatedTime, &deps,
			&t.Automatable, &status, &t.Progress, &created, &updated, &completed, &t.Error); err != nil {
			return nil, s.ioErr("scan task", err)
		}
		t.Priority = tasks.Priority(priority)
		t.Status = tasks.Status(status)
		if err := json.Unmarshal([]byte(deps), &t.Dependencies); err != nil {
			return nil, &tasks.ConfigError{Source: s.db.Path(), Err: fmt.Errorf("task %s dependencies: %w", t.ID, err)}
		}
		if t.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, &tasks.ConfigError{Source: s.db.Path(), Err: err}
		}
		if t.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
			return nil, &tasks.ConfigError{Source: s.db.Path(), Err: err}
		}
		if completed.Valid {
			at, err := time.Parse(timeLayout, completed.String)
			if err != nil {
				return nil, &tasks.ConfigError{Source: s.db.Path(), Err: err}
			}
			t.CompletedAt = &at
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.ioErr("iterate tasks", err)
	}
	return out, nil
}

func (s *SQLStore) loadWorkflows(ctx context.Context) ([]tasks.Workflow, error) {
	rows, err := s.db.SQL().QueryContext(ctx, `
		SELECT name, description, tasks, trigger_kind, schedule FROM workflows ORDER BY seq`)
	if err != nil {
		return nil, s.ioErr("query workflows", err)
	}
	defer func() { _ = rows.Close() }()

	out := []tasks.Workflow{}
	for rows.Next() {
		var (
			w   tasks.Workflow
			ids string
		)
		if err := rows.Scan(&w.Name, &w.Description, &ids, &w.Trigger, &w.Schedule); err != nil {
			return nil, s.ioErr("scan workflow", err)
		}
		if err := json.Unmarshal([]byte(ids), &w.Tasks); err != nil {
			return nil, &tasks.ConfigError{Source: s.db.Path(), Err: fmt.Errorf("workflow %s tasks: %w", w.Name, err)}
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, s.ioErr("iterate workflows", err)
	}
	return out, nil
}

// Save replaces the stored snapshot with snap.
func (s *SQLStore) Save(ctx context.Context, snap tasks.Snapshot) error {
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{`DELETE FROM tasks`, `DELETE FROM workflows`} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}

		for i, t := range snap.ProjectTasks {
			deps, err := json.Marshal(nonNil(t.Dependencies))
			if err != nil {
				return err
			}
			var completed any
			if t.CompletedAt != nil {
				completed = t.CompletedAt.UTC().Format(timeLayout)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tasks (id, seq, name, description, priority, estimated_time, dependencies,
				                   automatable, status, progress, created_at, updated_at, completed_at, error)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.ID, i, t.Name, t.Description, string(t.Priority), t.EstimatedTime, string(deps),
				t.Automatable, string(t.Status), t.Progress,
				t.CreatedAt.UTC().Format(timeLayout), t.UpdatedAt.UTC().Format(timeLayout), completed, t.Error,
			); err != nil {
				return fmt.Errorf("insert task %s: %w", t.ID, err)
			}
		}

		for i, w := range snap.Workflows {
			ids, err := json.Marshal(nonNil(w.Tasks))
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO workflows (name, seq, description, tasks, trigger_kind, schedule)
				VALUES (?, ?, ?, ?, ?, ?)`,
				w.Name, i, w.Description, string(ids), w.Trigger, w.Schedule,
			); err != nil {
				return fmt.Errorf("insert workflow %s: %w", w.Name, err)
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_meta (id, last_updated) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET last_updated = excluded.last_updated`,
			snap.LastUpdated.UTC().Format(timeLayout))
		return err
	})
	if err != nil {
		return s.ioErr("save snapshot", err)
	}
	return nil
}

// RecordRun appends one execution to the run history.
func (s *SQLStore) RecordRun(ctx context.Context, run RunRecord) error {
	_, err := s.db.SQL().ExecContext(ctx, `
		INSERT INTO task_runs (task_id, started_at, finished_at, status, error) VALUES (?, ?, ?, ?, ?)`,
		run.TaskID, run.StartedAt.UTC().Format(timeLayout), run.FinishedAt.UTC().Format(timeLayout),
		string(run.Status), run.Error)
	if err != nil {
		return s.ioErr("record run", err)
	}
	return nil
}

// Runs returns up to limit runs of taskID, most recently recorded first. An empty taskID
// returns runs of every task.
func (s *SQLStore) Runs(ctx context.Context, taskID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT task_id, started_at, finished_at, status, error FROM task_runs`
	args := []any{}
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.ioErr("query runs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		var (
			r                 RunRecord
			started, finished string
			status            string
		)
		if err := rows.Scan(&r.TaskID, &started, &finished, &status, &r.Error); err != nil {
			return nil, s.ioErr("scan run", err)
		}
		r.Status = tasks.Status(status)
		var err error
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, &tasks.ConfigError{Source: s.db.Path(), Err: err}
		}
		if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, &tasks.ConfigError{Source: s.db.Path(), Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.ioErr("iterate runs", err)
	}
	return out, nil
}

func (s *SQLStore) ioErr(op string, err error) error {
	return &tasks.IOError{Op: op, Path: s.db.Path(), Err: err}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
