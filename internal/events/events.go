// Package events is the typed publish/subscribe channel between the engine,
// the monitors and any front end. Events are fire-and-forget: nothing is
// queued, persisted or replayed.
package events

import (
	"time"

	"github.com/marcus/taskmaster/internal/tasks"
)

// Kind names an event type.
type Kind string

const (
	KindTaskCreated       Kind = "taskCreated"
	KindTaskStarted       Kind = "taskStarted"
	KindTaskProgress      Kind = "taskProgress"
	KindTaskCompleted     Kind = "taskCompleted"
	KindTaskFailed        Kind = "taskFailed"
	KindSuggestion        Kind = "suggestion"
	KindWarning           Kind = "warning"
	KindFilesChanged      Kind = "filesChanged"
	KindGitActivity       Kind = "gitActivity"
	KindWorkflowScheduled Kind = "workflowScheduled"
	KindConfigLoaded      Kind = "configLoaded"
	KindTasksLoaded       Kind = "tasksLoaded"
	KindConnected         Kind = "connected"
	KindShutdown          Kind = "shutdown"
)

// Kinds lists every event kind.
var Kinds = []Kind{
	KindTaskCreated, KindTaskStarted, KindTaskProgress, KindTaskCompleted, KindTaskFailed,
	KindSuggestion, KindWarning, KindFilesChanged, KindGitActivity, KindWorkflowScheduled,
	KindConfigLoaded, KindTasksLoaded, KindConnected, KindShutdown,
}

// Event is an immutable, timestamped notification.
type Event struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"time"`
	Payload Payload   `json:"payload"`
}

// Payload is the kind-specific body of an event. The set of payloads is
// closed; each one reports its own kind.
type Payload interface {
	Kind() Kind
	sealed()
}

// SuggestionType classifies suggestion events.
type SuggestionType string

const (
	SuggestBlockedTasks   SuggestionType = "blocked_tasks"
	SuggestFileChanges    SuggestionType = "file_changes"
	SuggestLargeChangeset SuggestionType = "large_changeset"
	SuggestTaskCompletion SuggestionType = "task_completion"
)

// WarningType classifies warning events.
type WarningType string

const (
	WarnRisk         WarningType = "risk"
	WarnCodeProblems WarningType = "code_problems"
	WarnPersistence  WarningType = "persistence"
	WarnJobFailure   WarningType = "job_failure"
	WarnConfig       WarningType = "config"
)

// TaskCreated is published after a task is inserted by createTask.
type TaskCreated struct {
	Task tasks.Task `json:"task"`
}

// TaskStarted is published when a task enters running.
type TaskStarted struct {
	Task tasks.Task `json:"task"`
}

// TaskProgress is published at each progress checkpoint.
type TaskProgress struct {
	Task     tasks.Task `json:"task"`
	Progress int        `json:"progress"`
}

// TaskCompleted is published when a task reaches completed.
type TaskCompleted struct {
	Task tasks.Task `json:"task"`
}

// TaskFailed is published when a run fails.
type TaskFailed struct {
	Task  tasks.Task `json:"task"`
	Error string     `json:"error"`
}

// Suggestion is advisory output from the engine or a monitor.
type Suggestion struct {
	Type    SuggestionType `json:"type"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
}

// Warning reports risk or a non-fatal failure.
type Warning struct {
	Type    WarningType `json:"type"`
	Message string      `json:"message"`
	Data    any         `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// FilesChanged lists workspace paths modified since the previous poll.
type FilesChanged struct {
	Paths []string `json:"paths"`
}

// GitActivity reports uncommitted repository changes.
type GitActivity struct {
	Files []string `json:"files"`
}

// WorkflowScheduled records a cron registration for a workflow.
type WorkflowScheduled struct {
	Workflow string    `json:"workflow"`
	Expr     string    `json:"expr"`
	Next     time.Time `json:"next"`
}

// ConfigLoaded is published once configuration is resolved.
type ConfigLoaded struct {
	Sources []string `json:"sources"`
}

// TasksLoaded is published after a snapshot is ingested.
type TasksLoaded struct {
	TaskCount     int `json:"taskCount"`
	WorkflowCount int `json:"workflowCount"`
}

// Connected is published once the agent is started.
type Connected struct{}

// Shutdown is published once the agent has stopped.
type Shutdown struct{}

func (TaskCreated) Kind() Kind       { return KindTaskCreated }
func (TaskStarted) Kind() Kind       { return KindTaskStarted }
func (TaskProgress) Kind() Kind      { return KindTaskProgress }
func (TaskCompleted) Kind() Kind     { return KindTaskCompleted }
func (TaskFailed) Kind() Kind        { return KindTaskFailed }
func (Suggestion) Kind() Kind        { return KindSuggestion }
func (Warning) Kind() Kind           { return KindWarning }
func (FilesChanged) Kind() Kind      { return KindFilesChanged }
func (GitActivity) Kind() Kind       { return KindGitActivity }
func (WorkflowScheduled) Kind() Kind { return KindWorkflowScheduled }
func (ConfigLoaded) Kind() Kind      { return KindConfigLoaded }
func (TasksLoaded) Kind() Kind       { return KindTasksLoaded }
func (Connected) Kind() Kind         { return KindConnected }
func (Shutdown) Kind() Kind          { return KindShutdown }

func (TaskCreated) sealed()       {}
func (TaskStarted) sealed()       {}
func (TaskProgress) sealed()      {}
func (TaskCompleted) sealed()     {}
func (TaskFailed) sealed()        {}
func (Suggestion) sealed()        {}
func (Warning) sealed()           {}
func (FilesChanged) sealed()      {}
func (GitActivity) sealed()       {}
func (WorkflowScheduled) sealed() {}
func (ConfigLoaded) sealed()      {}
func (TasksLoaded) sealed()       {}
func (Connected) sealed()         {}
func (Shutdown) sealed()          {}
