package tasks

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Registry maps task ids to task records and workflow names to workflows.
// It is the only place task status and progress change. All methods are safe
// for concurrent use; values returned are copies.
type Registry struct {
	mu            sync.RWMutex
	tasks         map[string]*Task
	order         []string
	workflows     map[string]Workflow
	workflowOrder []string
	// active holds ids with an in-flight run in this process. It is separate
	// from Status so a stale "running" record loaded from disk can be re-run.
	active map[string]struct{}

	now   func() time.Time
	newID func() string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the registry time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// WithIDGenerator overrides task id generation.
func WithIDGenerator(gen func() string) RegistryOption {
	return func(r *Registry) {
		r.newID = gen
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tasks:     make(map[string]*Task),
		workflows: make(map[string]Workflow),
		active:    make(map[string]struct{}),
		now:       time.Now,
		newID:     NewTaskID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewTaskID returns a fresh, lexically sortable task identifier.
func NewTaskID() string {
	return "task_" + strings.ToLower(ulid.Make().String())
}

// Load upserts every task and workflow in snap. Existing records with the
// same id or name are overwritten in place and keep their position. Nothing
// is changed if any record is invalid or names a task with a run in flight.
func (r *Registry) Load(snap Snapshot) (taskCount, workflowCount int, err error) {
	now := r.now()
	incoming := make([]Task, 0, len(snap.ProjectTasks))
	for _, t := range snap.ProjectTasks {
		t = t.Clone()
		if err := normalize(&t, now); err != nil {
			return 0, 0, err
		}
		incoming = append(incoming, t)
	}
	for _, w := range snap.Workflows {
		if strings.TrimSpace(w.Name) == "" {
			return 0, 0, fmt.Errorf("workflow without name: %w", ErrValidation)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range incoming {
		if _, ok := r.active[t.ID]; ok {
			return 0, 0, fmt.Errorf("load task %s: %w", t.ID, ErrAlreadyRunning)
		}
	}
	for _, t := range incoming {
		t := t
		if _, ok := r.tasks[t.ID]; !ok {
			r.order = append(r.order, t.ID)
		}
		r.tasks[t.ID] = &t
	}
	for _, w := range snap.Workflows {
		if _, ok := r.workflows[w.Name]; !ok {
			r.workflowOrder = append(r.workflowOrder, w.Name)
		}
		w = w.Clone()
		if w.Tasks == nil {
			w.Tasks = []string{}
		}
		r.workflows[w.Name] = w
	}
	return len(r.tasks), len(r.workflows), nil
}

// Create inserts a new pending task built from spec.
func (r *Registry) Create(spec TaskSpec) (Task, error) {
	if err := spec.validate(); err != nil {
		return Task{}, err
	}

	now := r.now()
	t := Task{
		Name:          spec.Name,
		Description:   spec.Description,
		Priority:      spec.Priority,
		EstimatedTime: spec.EstimatedTime,
		Dependencies:  slices.Clone(spec.Dependencies),
		Automatable:   true,
		Status:        StatusPending,
		Progress:      0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if t.Priority == "" {
		t.Priority = DefaultPriority
	}
	if t.EstimatedTime == "" {
		t.EstimatedTime = DefaultEstimatedTime
	}
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	}
	if spec.Automatable != nil {
		t.Automatable = *spec.Automatable
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t.ID = r.newID()
	for {
		if _, exists := r.tasks[t.ID]; !exists {
			break
		}
		t.ID = r.newID()
	}
	r.tasks[t.ID] = &t
	r.order = append(r.order, t.ID)
	return t.Clone(), nil
}

// Get returns the task with the given id.
func (r *Registry) Get(id string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

// Tasks returns every task in insertion order.
func (r *Registry) Tasks() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tasks[id].Clone())
	}
	return out
}

// Len returns the number of tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Workflows returns every workflow in insertion order.
func (r *Registry) Workflows() []Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Workflow, 0, len(r.workflowOrder))
	for _, name := range r.workflowOrder {
		out = append(out, r.workflows[name].Clone())
	}
	return out
}

// Workflow returns the workflow with the given name.
func (r *Registry) Workflow(name string) (Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workflows[name]
	if !ok {
		return Workflow{}, fmt.Errorf("workflow %s: %w", name, ErrNotFound)
	}
	return w.Clone(), nil
}

// Snapshot returns a consistent copy of the registry stamped with the current time.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		ProjectTasks: make([]Task, 0, len(r.order)),
		Workflows:    make([]Workflow, 0, len(r.workflowOrder)),
		LastUpdated:  r.now().UTC(),
	}
	for _, id := range r.order {
		snap.ProjectTasks = append(snap.ProjectTasks, r.tasks[id].Clone())
	}
	for _, name := range r.workflowOrder {
		snap.Workflows = append(snap.Workflows, r.workflows[name].Clone())
	}
	return snap
}

// Begin moves a task into running and claims it for the caller. Progress is
// reset to 0. When requireDeps is set, a task with an unfinished dependency
// is rejected with ErrBlocked. The claim is released by Complete or Fail.
func (r *Registry) Begin(id string, requireDeps bool) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if _, running := r.active[id]; running {
		return Task{}, fmt.Errorf("task %s: %w", id, ErrAlreadyRunning)
	}
	if requireDeps {
		if pending := r.unfinishedDepsLocked(t); len(pending) > 0 {
			return Task{}, fmt.Errorf("task %s waits on %s: %w", id, strings.Join(pending, ", "), ErrBlocked)
		}
	}

	r.active[id] = struct{}{}
	t.Status = StatusRunning
	t.Progress = 0
	t.Error = ""
	t.CompletedAt = nil
	t.UpdatedAt = r.now()
	return t.Clone(), nil
}

// Advance records a progress checkpoint for a claimed task. Progress never
// moves backwards.
func (r *Registry) Advance(id string, progress int) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.claimedLocked(id)
	if err != nil {
		return Task{}, err
	}
	if progress > 100 {
		progress = 100
	}
	if progress > t.Progress {
		t.Progress = progress
	}
	return t.Clone(), nil
}

// Complete marks a claimed task completed and releases the claim.
func (r *Registry) Complete(id string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.claimedLocked(id)
	if err != nil {
		return Task{}, err
	}
	now := r.now()
	t.Status = StatusCompleted
	t.Progress = 100
	t.CompletedAt = &now
	t.UpdatedAt = now
	delete(r.active, id)
	return t.Clone(), nil
}

// Fail marks a claimed task failed with cause and releases the claim.
func (r *Registry) Fail(id string, cause error) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.claimedLocked(id)
	if err != nil {
		return Task{}, err
	}
	t.Status = StatusFailed
	if cause != nil {
		t.Error = cause.Error()
	}
	t.UpdatedAt = r.now()
	delete(r.active, id)
	return t.Clone(), nil
}

// Active reports whether the task has a run in flight.
func (r *Registry) Active(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[id]
	return ok
}

func (r *Registry) claimedLocked(id string) (*Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if _, running := r.active[id]; !running {
		return nil, fmt.Errorf("task %s has no run in flight", id)
	}
	return t, nil
}

func (r *Registry) unfinishedDepsLocked(t *Task) []string {
	status := make(map[string]Status, len(t.Dependencies))
	for _, dep := range t.Dependencies {
		if d, ok := r.tasks[dep]; ok {
			status[dep] = d.Status
		}
	}
	return UnfinishedDeps(*t, status)
}
