// Package store persists registry snapshots. The file driver writes a JSON or
// YAML document atomically; the sqlite driver keeps the same shape in tables.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/marcus/taskmaster/internal/db"
	"github.com/marcus/taskmaster/internal/tasks"
)

// Drivers understood by Open.
const (
	DriverJSON   = "json"
	DriverYAML   = "yaml"
	DriverSQLite = "sqlite"
)

// DefaultPath is the snapshot location relative to the workspace.
const DefaultPath = "tasks/current-tasks.json"

// Store loads and saves whole snapshots. Load returns an error wrapping
// tasks.ErrNotFound when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (tasks.Snapshot, error)
	Save(ctx context.Context, snap tasks.Snapshot) error
}

// RunRecord is one finished execution.
type RunRecord struct {
	TaskID     string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     tasks.Status
	Error      string
}

// RunRecorder is implemented by stores that keep execution history.
type RunRecorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
	Runs(ctx context.Context, taskID string, limit int) ([]RunRecord, error)
}

// Options selects and locates a store.
type Options struct {
	Driver    string // json, yaml or sqlite; empty infers from Path
	Path      string
	Workspace string // base for relative paths
}

// Open builds the store described by opts. The caller owns the returned
// closer, which is a no-op for file stores. A database that cannot be opened
// yields a store whose Load and Save return the open error, so the registry
// can still run in memory.
func Open(opts Options) (Store, func() error, error) {
	path := opts.Path
	if path == "" {
		path = DefaultPath
	}
	if !filepath.IsAbs(path) && opts.Workspace != "" {
		path = filepath.Join(opts.Workspace, path)
	}

	driver := strings.ToLower(opts.Driver)
	if driver == "" {
		driver = DriverFromPath(path)
	}

	switch driver {
	case DriverJSON, DriverYAML:
		return NewFileStore(path, driver), func() error { return nil }, nil
	case DriverSQLite:
		database, err := db.Open(path)
		if err != nil {
			return unavailable{err: &tasks.IOError{Op: "open database", Path: path, Err: err}}, func() error { return nil }, nil
		}
		return NewSQLStore(database), database.Close, nil
	default:
		return nil, nil, &tasks.ConfigError{Source: "persistence.driver", Err: fmt.Errorf("unknown driver %q", opts.Driver)}
	}
}

// DriverFromPath infers a driver from a file extension, defaulting to JSON.
func DriverFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DriverYAML
	case ".db", ".sqlite", ".sqlite3":
		return DriverSQLite
	default:
		return DriverJSON
	}
}

// unavailable stands in for a store that could not be opened.
type unavailable struct {
	err error
}

func (u unavailable) Load(ctx context.Context) (tasks.Snapshot, error) {
	return tasks.Snapshot{}, u.err
}

func (u unavailable) Save(ctx context.Context, snap tasks.Snapshot) error {
	return u.err
}
