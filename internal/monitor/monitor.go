// Package monitor runs the periodic advisory jobs: workspace file changes,
// repository status and task analysis. Jobs only read task state and publish
// suggestions and warnings; they never mutate the registry.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marcus/taskmaster/internal/events"
	"github.com/marcus/taskmaster/internal/logging"
	"github.com/marcus/taskmaster/internal/scheduler"
	"github.com/marcus/taskmaster/internal/tasks"
)

// Job names.
const (
	JobFiles    = "files"
	JobGit      = "git"
	JobAnalysis = "analysis"
)

// Default job settings.
const (
	DefaultFilesInterval    = 5 * time.Second
	DefaultGitInterval      = 10 * time.Second
	DefaultAnalysisInterval = 30 * time.Second
	DefaultLargeChangeset   = 10
)

// ErrUnknownJob is returned for job names that were never configured.
var ErrUnknownJob = errors.New("monitor: unknown job")

// FileChangeSource reports workspace paths changed since the previous poll.
type FileChangeSource interface {
	Poll(ctx context.Context) ([]string, error)
}

// RepoStatus is the uncommitted state of a repository.
type RepoStatus struct {
	HasChanges bool     `json:"hasChanges"`
	Files      []string `json:"files"`
}

// RepoStatusSource reports repository status.
type RepoStatusSource interface {
	Poll(ctx context.Context) (RepoStatus, error)
}

// Problem is one code-quality finding.
type Problem struct {
	Check      string `json:"check"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
	Count      int    `json:"count"`
	Suggestion string `json:"suggestion,omitempty"`
}

// CodeQualitySource runs code-quality checks.
type CodeQualitySource interface {
	Check(ctx context.Context) ([]Problem, error)
}

// TaskSource is a read-only view of the task registry.
type TaskSource interface {
	Tasks() []tasks.Task
}

// Config holds monitor configuration. A zero interval disables its job.
type Config struct {
	FilesInterval      time.Duration
	GitInterval        time.Duration
	AnalysisInterval   time.Duration
	LargeChangeset     int
	RiskThreshold      int
	RecommendedActions int
}

// DefaultConfig returns default monitor config.
func DefaultConfig() Config {
	return Config{
		FilesInterval:      DefaultFilesInterval,
		GitInterval:        DefaultGitInterval,
		AnalysisInterval:   DefaultAnalysisInterval,
		LargeChangeset:     DefaultLargeChangeset,
		RiskThreshold:      tasks.DefaultRiskThreshold,
		RecommendedActions: tasks.DefaultRecommendations,
	}
}

// Insights is the outcome of one analysis pass.
type Insights struct {
	Blocked         []tasks.Task           `json:"blocked"`
	Risk            tasks.Risk             `json:"risk"`
	Recommendations []tasks.Recommendation `json:"recommendations"`
	Problems        []Problem              `json:"problems,omitempty"`
}

// Registration is a workflow bound to a cron expression.
type Registration struct {
	Workflow string    `json:"workflow"`
	Expr     string    `json:"expr"`
	Next     time.Time `json:"next"`
}

// Monitor owns one scheduler handle per job.
type Monitor struct {
	bus     *events.Bus
	tasks   TaskSource
	files   FileChangeSource
	repo    RepoStatusSource
	quality CodeQualitySource
	config  Config
	logger  *logging.Logger
	now     func() time.Time

	mu        sync.Mutex
	jobs      map[string]*scheduler.Scheduler
	jobOrder  []string
	schedules map[string]Registration
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithFileSource enables the files job.
func WithFileSource(src FileChangeSource) Option {
	return func(m *Monitor) {
		m.files = src
	}
}

// WithRepoSource enables the git job.
func WithRepoSource(src RepoStatusSource) Option {
	return func(m *Monitor) {
		m.repo = src
	}
}

// WithQualitySource adds code-quality checks to the analysis job.
func WithQualitySource(src CodeQualitySource) Option {
	return func(m *Monitor) {
		m.quality = src
	}
}

// WithConfig sets monitor configuration.
func WithConfig(c Config) Option {
	return func(m *Monitor) {
		m.config = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// WithClock overrides the time source used for schedule registrations.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// New creates a monitor publishing on bus and reading tasks from src.
func New(bus *events.Bus, src TaskSource, opts ...Option) (*Monitor, error) {
	m := &Monitor{
		bus:       bus,
		tasks:     src,
		config:    DefaultConfig(),
		logger:    logging.Component("monitor"),
		now:       time.Now,
		jobs:      make(map[string]*scheduler.Scheduler),
		schedules: make(map[string]Registration),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.files != nil {
		if err := m.addJob(JobFiles, m.config.FilesInterval, m.filesJob); err != nil {
			return nil, err
		}
	}
	if m.repo != nil {
		if err := m.addJob(JobGit, m.config.GitInterval, m.gitJob); err != nil {
			return nil, err
		}
	}
	if m.tasks != nil {
		if err := m.addJob(JobAnalysis, m.config.AnalysisInterval, m.analysisJob); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// addJob registers a scheduler handle. Each invocation may run for at most
// one interval; errors and timeouts become job_failure warnings.
func (m *Monitor) addJob(name string, interval time.Duration, job scheduler.Job) error {
	if interval <= 0 {
		return nil
	}
	s := scheduler.New()
	s.SetName(name)
	if err := s.SetInterval(interval); err != nil {
		return fmt.Errorf("monitor job %s: %w", name, err)
	}
	s.SetTimeout(interval)
	s.OnError(func(err error) {
		m.bus.Publish(events.Warning{
			Type:    events.WarnJobFailure,
			Message: fmt.Sprintf("%s job failed", name),
			Data:    map[string]any{"job": name},
			Error:   err.Error(),
		})
	})
	s.AddJob(job)

	m.jobs[name] = s
	m.jobOrder = append(m.jobOrder, name)
	return nil
}

func (m *Monitor) filesJob(ctx context.Context) error {
	_, err := m.PollFiles(ctx)
	return err
}

func (m *Monitor) gitJob(ctx context.Context) error {
	_, err := m.PollRepo(ctx)
	return err
}

func (m *Monitor) analysisJob(ctx context.Context) error {
	_, err := m.Analyze(ctx)
	return err
}

// Jobs returns the configured job names.
func (m *Monitor) Jobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.jobOrder...)
}

// Start starts every configured job. Jobs already running are left alone.
func (m *Monitor) Start(ctx context.Context) error {
	var errs []error
	for _, name := range m.Jobs() {
		if err := m.StartJob(ctx, name); err != nil && !errors.Is(err, scheduler.ErrAlreadyRunning) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop stops every running job and waits for in-flight invocations. No job
// fires after Stop returns.
func (m *Monitor) Stop() {
	for _, name := range m.Jobs() {
		if err := m.StopJob(name); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
			m.logger.WarnCtx("stop job", map[string]any{"job": name, "error": err})
		}
	}
}

// StartJob starts one job.
func (m *Monitor) StartJob(ctx context.Context, name string) error {
	s, err := m.job(name)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("start %s job: %w", name, err)
	}
	m.logger.InfoCtx("job started", map[string]any{"job": name, "next": s.NextRun()})
	return nil
}

// StopJob stops one job.
func (m *Monitor) StopJob(name string) error {
	s, err := m.job(name)
	if err != nil {
		return err
	}
	if err := s.Stop(); err != nil {
		return fmt.Errorf("stop %s job: %w", name, err)
	}
	m.logger.InfoCtx("job stopped", map[string]any{"job": name})
	return nil
}

// Running reports whether a job is running.
func (m *Monitor) Running(name string) bool {
	s, err := m.job(name)
	return err == nil && s.IsRunning()
}

func (m *Monitor) job(name string) (*scheduler.Scheduler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s, nil
}

// PollFiles polls the file source once. Non-empty changes publish
// filesChanged followed by a suggestion.
func (m *Monitor) PollFiles(ctx context.Context) ([]string, error) {
	if m.files == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, JobFiles)
	}
	paths, err := m.files.Poll(ctx)
	if err != nil {
		return nil, fmt.Errorf("poll files: %w", err)
	}
	if len(paths) == 0 {
		return nil, nil
	}

	m.bus.Publish(events.FilesChanged{Paths: paths})
	m.bus.Publish(events.Suggestion{
		Type:    events.SuggestFileChanges,
		Message: fmt.Sprintf("%d files changed, consider running tests", len(paths)),
		Data:    paths,
	})
	return paths, nil
}

// PollRepo polls the repository source once. Uncommitted changes publish
// gitActivity, and a changeset above the configured size adds a suggestion.
func (m *Monitor) PollRepo(ctx context.Context) (RepoStatus, error) {
	if m.repo == nil {
		return RepoStatus{}, fmt.Errorf("%w: %s", ErrUnknownJob, JobGit)
	}
	status, err := m.repo.Poll(ctx)
	if err != nil {
		return RepoStatus{}, fmt.Errorf("poll repository: %w", err)
	}
	if !status.HasChanges {
		return status, nil
	}

	m.bus.Publish(events.GitActivity{Files: status.Files})
	if len(status.Files) > m.config.LargeChangeset {
		m.bus.Publish(events.Suggestion{
			Type:    events.SuggestLargeChangeset,
			Message: fmt.Sprintf("large changeset (%d files), consider splitting commits", len(status.Files)),
			Data:    status.Files,
		})
	}
	return status, nil
}

// Analyze recomputes blocked tasks, risk and next actions, and runs the
// code-quality checks when a source is configured. A failing quality check
// is returned after the task advisories have been published.
func (m *Monitor) Analyze(ctx context.Context) (Insights, error) {
	if m.tasks == nil {
		return Insights{}, fmt.Errorf("%w: %s", ErrUnknownJob, JobAnalysis)
	}
	all := m.tasks.Tasks()
	in := Insights{
		Blocked:         tasks.FindBlocked(all),
		Risk:            tasks.AssessRisk(all, m.config.RiskThreshold),
		Recommendations: tasks.RecommendNext(all, m.config.RecommendedActions),
	}

	if len(in.Blocked) > 0 {
		ids := make([]string, 0, len(in.Blocked))
		for _, t := range in.Blocked {
			ids = append(ids, t.ID)
		}
		m.bus.Publish(events.Suggestion{
			Type:    events.SuggestBlockedTasks,
			Message: fmt.Sprintf("%d tasks are blocked by dependencies", len(in.Blocked)),
			Data:    ids,
		})
	}
	if in.Risk.Level == tasks.RiskHigh {
		m.bus.Publish(events.Warning{
			Type:    events.WarnRisk,
			Message: in.Risk.Reason,
			Data:    in.Risk,
		})
	}

	if m.quality == nil {
		return in, nil
	}
	problems, err := m.quality.Check(ctx)
	if err != nil {
		return in, fmt.Errorf("code quality: %w", err)
	}
	in.Problems = problems
	if len(problems) > 0 {
		m.bus.Publish(events.Warning{
			Type:    events.WarnCodeProblems,
			Message: fmt.Sprintf("%d code quality problems found", len(problems)),
			Data:    problems,
		})
	}
	return in, nil
}

// ScheduleWorkflow records a cron registration for a workflow and publishes
// workflowScheduled. It returns the next fire time. Registering the same
// workflow again replaces its expression. Firing is left to the caller.
func (m *Monitor) ScheduleWorkflow(expr, workflow string) (time.Time, error) {
	if workflow == "" {
		return time.Time{}, fmt.Errorf("schedule: workflow name required: %w", tasks.ErrValidation)
	}
	sched, err := scheduler.ParseCron(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule %s: %w: %w", workflow, tasks.ErrValidation, err)
	}
	next := sched.Next(m.now())

	m.mu.Lock()
	m.schedules[workflow] = Registration{Workflow: workflow, Expr: expr, Next: next}
	m.mu.Unlock()

	m.logger.InfoCtx("workflow scheduled", map[string]any{"workflow": workflow, "cron": expr, "next": next})
	m.bus.Publish(events.WorkflowScheduled{Workflow: workflow, Expr: expr, Next: next})
	return next, nil
}

// Schedules returns the recorded registrations sorted by workflow name.
func (m *Monitor) Schedules() []Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Registration, 0, len(m.schedules))
	for _, r := range m.schedules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Workflow < out[j].Workflow })
	return out
}
