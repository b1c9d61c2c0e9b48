package tasks

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown task or workflow identifiers.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for malformed task specs or snapshot records.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyRunning is returned when a task is executed while a run of the
	// same task is still in flight.
	ErrAlreadyRunning = errors.New("task already running")
	// ErrBlocked is returned when a task is executed before all of its
	// dependencies have completed.
	ErrBlocked = errors.New("task blocked by dependencies")
)

// ExecutionError is a failure during a task run. The task record carries the
// same message in its Error field.
type ExecutionError struct {
	TaskID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute task %s: %v", e.TaskID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IOError is a persistence or workspace-poll failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ConfigError is a malformed or unreadable configuration or snapshot.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
