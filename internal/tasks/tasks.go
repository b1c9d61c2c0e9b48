// Package tasks defines the task and workflow model, the in-memory registry
// that owns every task mutation, and the pure queries that derive blocked
// sets, recommendations, risk and health from a task list.
package tasks

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Priority orders pending work. It never affects correctness.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Priorities lists every priority from highest to lowest.
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

// Rank returns the sort weight of a priority (high=3, medium=2, low=1).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Defaults applied by Registry.Create.
const (
	DefaultPriority      = PriorityMedium
	DefaultEstimatedTime = "1h"
)

// Task is a unit of trackable, potentially automatable work.
type Task struct {
	ID            string     `json:"id" yaml:"id"`
	Name          string     `json:"name" yaml:"name"`
	Description   string     `json:"description,omitempty" yaml:"description,omitempty"`
	Priority      Priority   `json:"priority" yaml:"priority"`
	EstimatedTime string     `json:"estimatedTime" yaml:"estimatedTime"`
	Dependencies  []string   `json:"dependencies" yaml:"dependencies"`
	Automatable   bool       `json:"automatable" yaml:"automatable"`
	Status        Status     `json:"status" yaml:"status"`
	Progress      int        `json:"progress" yaml:"progress"`
	CreatedAt     time.Time  `json:"createdAt" yaml:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt" yaml:"updatedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
	Error         string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Clone returns a deep copy safe to hand outside the registry.
func (t Task) Clone() Task {
	c := t
	if t.Dependencies != nil {
		c.Dependencies = slices.Clone(t.Dependencies)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return c
}

// EstimatedHours returns the whole-hour estimate used for aggregate reporting.
func (t Task) EstimatedHours() int {
	return ParseEstimatedHours(t.EstimatedTime)
}

var firstNumber = regexp.MustCompile(`(\d+)`)

// ParseEstimatedHours converts a duration hint to whole hours. Go durations
// ("2h", "45m", "1h30m") are rounded up; otherwise the first number in the
// hint is taken as hours ("3", "about 4 hours"); anything else counts as one
// hour.
func ParseEstimatedHours(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return int(math.Ceil(d.Hours()))
	}
	if m := firstNumber.FindStringSubmatch(s); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 1
}

// Trigger kinds a workflow can declare.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)

// Workflow is a named, ordered grouping of task identifiers. Workflows
// reference tasks weakly; a listed id need not exist.
type Workflow struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Tasks       []string `json:"tasks" yaml:"tasks"`
	Trigger     string   `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Schedule    string   `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// TriggerKind reports how the workflow is started: "schedule" when a
// schedule expression is set, otherwise "manual".
func (w Workflow) TriggerKind() string {
	if w.Schedule != "" {
		return TriggerSchedule
	}
	return TriggerManual
}

// Clone returns a deep copy of the workflow.
func (w Workflow) Clone() Workflow {
	c := w
	if w.Tasks != nil {
		c.Tasks = slices.Clone(w.Tasks)
	}
	return c
}

// Snapshot is the persisted shape of the registry.
type Snapshot struct {
	ProjectTasks []Task     `json:"projectTasks" yaml:"projectTasks"`
	Workflows    []Workflow `json:"workflows" yaml:"workflows"`
	LastUpdated  time.Time  `json:"lastUpdated" yaml:"lastUpdated"`
}

// TaskSpec describes a task to create. Zero values take the registry defaults;
// Automatable defaults to true when nil.
type TaskSpec struct {
	Name          string
	Description   string
	Priority      Priority
	EstimatedTime string
	Dependencies  []string
	Automatable   *bool
}

func (s TaskSpec) validate() error {
	if s.Priority != "" && !s.Priority.Valid() {
		return fmt.Errorf("priority %q: %w", s.Priority, ErrValidation)
	}
	return nil
}

// normalize fills defaults on a task read from a snapshot and rejects values
// outside the closed enums.
func normalize(t *Task, now time.Time) error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("task %q has no id: %w", t.Name, ErrValidation)
	}
	if t.Priority == "" {
		t.Priority = DefaultPriority
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("task %s priority %q: %w", t.ID, t.Priority, ErrValidation)
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if !t.Status.Valid() {
		return fmt.Errorf("task %s status %q: %w", t.ID, t.Status, ErrValidation)
	}
	if t.EstimatedTime == "" {
		t.EstimatedTime = DefaultEstimatedTime
	}
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	}
	if t.Progress < 0 || t.Progress > 100 {
		return fmt.Errorf("task %s progress %d: %w", t.ID, t.Progress, ErrValidation)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	return nil
}
