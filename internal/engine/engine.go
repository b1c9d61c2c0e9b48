// Package engine drives task runs against the registry and publishes their
// lifecycle on the event bus. It is the single entry point for mutating
// operations: loading snapshots, creating tasks, executing them and saving.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marcus/taskmaster/internal/events"
	"github.com/marcus/taskmaster/internal/logging"
	"github.com/marcus/taskmaster/internal/store"
	"github.com/marcus/taskmaster/internal/tasks"
)

// Default execution settings.
const (
	DefaultStepDelay = 500 * time.Millisecond
)

// Config holds engine configuration.
type Config struct {
	AutoSave            bool          // save after create and after each run
	StepDelay           time.Duration // pause before each checkpoint for the simulated worker
	EnforceDependencies bool          // reject runs whose dependencies are unfinished
	RiskThreshold       int
	RecommendedActions  int
}

// DefaultConfig returns default engine config.
func DefaultConfig() Config {
	return Config{
		AutoSave:            true,
		StepDelay:           DefaultStepDelay,
		EnforceDependencies: true,
		RiskThreshold:       tasks.DefaultRiskThreshold,
		RecommendedActions:  tasks.DefaultRecommendations,
	}
}

// ExecutionResult is the outcome of a successful run.
type ExecutionResult struct {
	Task          tasks.Task    `json:"task"`
	ExecutionTime time.Duration `json:"executionTime"`
	Suggestions   []string      `json:"suggestions"`
}

// Engine executes tasks held in a registry.
type Engine struct {
	registry *tasks.Registry
	bus      *events.Bus
	store    store.Store
	worker   Worker
	advisor  tasks.Advisor
	config   Config
	logger   *logging.Logger
	now      func() time.Time

	saveMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithBus sets the event bus.
func WithBus(b *events.Bus) Option {
	return func(e *Engine) {
		e.bus = b
	}
}

// WithStore sets the persistence adapter. Without one, Save is a no-op.
func WithStore(s store.Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithWorker replaces the simulated worker.
func WithWorker(w Worker) Option {
	return func(e *Engine) {
		e.worker = w
	}
}

// WithAdvisor sets the source of suggestions.
func WithAdvisor(a tasks.Advisor) Option {
	return func(e *Engine) {
		e.advisor = a
	}
}

// WithConfig sets engine configuration.
func WithConfig(c Config) Option {
	return func(e *Engine) {
		e.config = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock overrides the time source used by the engine and its registry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRegistry uses an existing registry.
func WithRegistry(r *tasks.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// New creates an engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{
		config:  DefaultConfig(),
		advisor: tasks.HeuristicAdvisor{},
		logger:  logging.Component("engine"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = tasks.NewRegistry(tasks.WithClock(e.now))
	}
	if e.bus == nil {
		e.bus = events.NewBus(events.WithClock(e.now))
	}
	if e.worker == nil {
		e.worker = SimulatedWorker{Delay: e.config.StepDelay}
	}
	return e
}

// Registry returns the task registry.
func (e *Engine) Registry() *tasks.Registry {
	return e.registry
}

// Bus returns the event bus.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// LoadTasks upserts a snapshot into the registry and publishes tasksLoaded
// with the resulting totals. Loading does not trigger a save.
func (e *Engine) LoadTasks(ctx context.Context, snap tasks.Snapshot) error {
	taskCount, workflowCount, err := e.registry.Load(snap)
	if err != nil {
		return err
	}
	e.logger.InfoCtx("tasks loaded", map[string]any{"tasks": taskCount, "workflows": workflowCount})
	e.bus.Publish(events.TasksLoaded{TaskCount: taskCount, WorkflowCount: workflowCount})
	return nil
}

// CreateTask adds a pending task, publishes taskCreated and auto-saves.
func (e *Engine) CreateTask(ctx context.Context, spec tasks.TaskSpec) (tasks.Task, error) {
	t, err := e.registry.Create(spec)
	if err != nil {
		return tasks.Task{}, err
	}
	e.logger.InfoCtx("task created", map[string]any{"task_id": t.ID, "name": t.Name, "priority": string(t.Priority)})
	e.bus.Publish(events.TaskCreated{Task: t})
	e.autoSave(ctx)
	return t, nil
}

// ExecuteTask runs a task through every checkpoint. Unknown ids fail with
// tasks.ErrNotFound before anything changes; a second concurrent run of the
// same id fails with tasks.ErrAlreadyRunning. A failure during the run leaves
// the task failed and is returned as *tasks.ExecutionError.
func (e *Engine) ExecuteTask(ctx context.Context, id string) (*ExecutionResult, error) {
	if _, err := e.registry.Get(id); err != nil {
		return nil, err
	}

	started, err := e.registry.Begin(id, e.config.EnforceDependencies)
	if err != nil {
		return nil, err
	}
	e.logger.InfoCtx("task started", map[string]any{"task_id": id, "name": started.Name})
	e.bus.Publish(events.TaskStarted{Task: started})

	current := started
	for _, checkpoint := range Checkpoints {
		if err := e.step(ctx, current, checkpoint); err != nil {
			return nil, e.fail(ctx, started, err)
		}
		current, err = e.registry.Advance(id, checkpoint)
		if err != nil {
			return nil, e.fail(ctx, started, err)
		}
		e.bus.Publish(events.TaskProgress{Task: current, Progress: checkpoint})
	}

	done, err := e.registry.Complete(id)
	if err != nil {
		return nil, e.fail(ctx, started, err)
	}

	elapsed := done.CompletedAt.Sub(started.UpdatedAt)
	e.logger.InfoCtx("task completed", map[string]any{"task_id": id, "duration": elapsed.String()})
	e.bus.Publish(events.TaskCompleted{Task: done})

	insight := tasks.AnalyzeCompletion(done)
	e.bus.Publish(events.Suggestion{
		Type:    events.SuggestTaskCompletion,
		Message: insight.Message,
		Data:    insight,
	})

	e.recordRun(ctx, done, started.UpdatedAt)
	e.autoSave(ctx)

	return &ExecutionResult{
		Task:          done,
		ExecutionTime: elapsed,
		Suggestions:   e.advisor.CompletionSuggestions(done),
	}, nil
}

// step runs the worker for one checkpoint, turning a panic into an error.
func (e *Engine) step(ctx context.Context, t tasks.Task, checkpoint int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panicked at %d%%: %v", checkpoint, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.worker.Step(ctx, t, checkpoint)
}

func (e *Engine) fail(ctx context.Context, started tasks.Task, cause error) error {
	failed, err := e.registry.Fail(started.ID, cause)
	if err != nil {
		e.logger.ErrorCtx("could not record failure", map[string]any{"task_id": started.ID, "error": err})
		failed = started
		failed.Status = tasks.StatusFailed
		failed.Error = cause.Error()
	}
	e.logger.WarnCtx("task failed", map[string]any{"task_id": started.ID, "error": cause})
	e.bus.Publish(events.TaskFailed{Task: failed, Error: cause.Error()})

	// Persisting the failure must not be cut short by the cancellation that
	// may have caused it.
	saveCtx := context.WithoutCancel(ctx)
	e.recordRun(saveCtx, failed, started.UpdatedAt)
	e.autoSave(saveCtx)

	return &tasks.ExecutionError{TaskID: started.ID, Err: cause}
}

// RunWorkflow executes the workflow's tasks in order and stops at the first
// failure. Results of the runs that completed are returned alongside the error.
func (e *Engine) RunWorkflow(ctx context.Context, name string) ([]*ExecutionResult, error) {
	wf, err := e.registry.Workflow(name)
	if err != nil {
		return nil, err
	}
	e.logger.InfoCtx("workflow started", map[string]any{"workflow": name, "tasks": len(wf.Tasks)})

	results := make([]*ExecutionResult, 0, len(wf.Tasks))
	for _, id := range wf.Tasks {
		res, err := e.ExecuteTask(ctx, id)
		if err != nil {
			return results, fmt.Errorf("workflow %s: %w", name, err)
		}
		results = append(results, res)
	}
	e.logger.InfoCtx("workflow completed", map[string]any{"workflow": name})
	return results, nil
}

// Save writes the current snapshot to the store.
func (e *Engine) Save(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	snap := e.registry.Snapshot()
	if err := e.store.Save(ctx, snap); err != nil {
		return err
	}
	e.logger.DebugCtx("snapshot saved", map[string]any{"tasks": len(snap.ProjectTasks)})
	return nil
}

// autoSave saves when enabled. A failure is published as a persistence
// warning and the in-memory state is kept.
func (e *Engine) autoSave(ctx context.Context) {
	if !e.config.AutoSave || e.store == nil {
		return
	}
	if err := e.Save(ctx); err != nil {
		e.logger.WarnCtx("auto-save failed", map[string]any{"error": err})
		e.bus.Publish(events.Warning{
			Type:    events.WarnPersistence,
			Message: "could not save tasks",
			Error:   err.Error(),
		})
	}
}

func (e *Engine) recordRun(ctx context.Context, t tasks.Task, startedAt time.Time) {
	rec, ok := e.store.(store.RunRecorder)
	if !ok {
		return
	}
	run := store.RunRecord{
		TaskID:     t.ID,
		StartedAt:  startedAt,
		FinishedAt: t.UpdatedAt,
		Status:     t.Status,
		Error:      t.Error,
	}
	if err := rec.RecordRun(ctx, run); err != nil {
		e.logger.WarnCtx("could not record run", map[string]any{"task_id": t.ID, "error": err})
	}
}

// ErrNoHistory is returned by History when the store keeps no run history.
var ErrNoHistory = errors.New("store does not keep run history")

// History returns the most recent runs of a task, newest first. An empty id
// returns runs of every task.
func (e *Engine) History(ctx context.Context, id string, limit int) ([]store.RunRecord, error) {
	rec, ok := e.store.(store.RunRecorder)
	if !ok {
		return nil, ErrNoHistory
	}
	if id != "" {
		if _, err := e.registry.Get(id); err != nil {
			return nil, err
		}
	}
	return rec.Runs(ctx, id, limit)
}
