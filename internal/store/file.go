package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/marcus/taskmaster/internal/tasks"
)

// FileStore keeps the snapshot in a single JSON or YAML document.
type FileStore struct {
	path   string
	format string
	mu     sync.Mutex
}

// NewFileStore returns a store for path. format is DriverJSON or DriverYAML.
func NewFileStore(path, format string) *FileStore {
	if format != DriverYAML {
		format = DriverJSON
	}
	return &FileStore{path: path, format: format}
}

// Path returns the snapshot file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and decodes the snapshot.
func (s *FileStore) Load(ctx context.Context) (tasks.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return tasks.Snapshot{}, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tasks.Snapshot{}, fmt.Errorf("snapshot %s: %w", s.path, tasks.ErrNotFound)
		}
		return tasks.Snapshot{}, &tasks.IOError{Op: "read snapshot", Path: s.path, Err: err}
	}
	return Decode(data, s.format, s.path)
}

// Decode parses a snapshot document. source names it in errors.
func Decode(data []byte, format, source string) (tasks.Snapshot, error) {
	var snap tasks.Snapshot
	var err error
	if format == DriverYAML {
		err = yaml.Unmarshal(data, &snap)
	} else {
		err = json.Unmarshal(data, &snap)
	}
	if err != nil {
		return tasks.Snapshot{}, &tasks.ConfigError{Source: source, Err: err}
	}
	if snap.ProjectTasks == nil {
		snap.ProjectTasks = []tasks.Task{}
	}
	if snap.Workflows == nil {
		snap.Workflows = []tasks.Workflow{}
	}
	return snap, nil
}

// Save writes the snapshot atomically via a temp file and rename.
func (s *FileStore) Save(ctx context.Context, snap tasks.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if s.format == DriverYAML {
		data, err = yaml.Marshal(snap)
	} else {
		data, err = json.MarshalIndent(snap, "", "  ")
	}
	if err != nil {
		return &tasks.IOError{Op: "encode snapshot", Path: s.path, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return &tasks.IOError{Op: "create snapshot dir", Path: s.path, Err: err}
	}

	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return &tasks.IOError{Op: "write snapshot", Path: tmpFile, Err: err}
	}
	if err := os.Rename(tmpFile, s.path); err != nil {
		_ = os.Remove(tmpFile)
		return &tasks.IOError{Op: "rename snapshot", Path: s.path, Err: err}
	}
	return nil
}

// LoadFile reads a snapshot document with the format inferred from its
// extension. Used for seed files.
func LoadFile(path string) (tasks.Snapshot, error) {
	format := DriverFromPath(path)
	if format == DriverSQLite {
		return tasks.Snapshot{}, &tasks.ConfigError{Source: path, Err: errors.New("seed must be a JSON or YAML document")}
	}
	return NewFileStore(path, format).Load(context.Background())
}
