// Package agent wires configuration, persistence, the engine and the
// monitors into one process lifecycle: open, start, shutdown.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marcus/taskmaster/internal/config"
	"github.com/marcus/taskmaster/internal/engine"
	"github.com/marcus/taskmaster/internal/events"
	"github.com/marcus/taskmaster/internal/logging"
	"github.com/marcus/taskmaster/internal/monitor"
	"github.com/marcus/taskmaster/internal/scheduler"
	"github.com/marcus/taskmaster/internal/store"
	"github.com/marcus/taskmaster/internal/tasks"
	"github.com/marcus/taskmaster/internal/workspace"
)

// Agent owns every long-lived component of a taskmaster process.
type Agent struct {
	cfg        *config.Config
	store      store.Store
	closeStore func() error
	bus        *events.Bus
	engine     *engine.Engine
	monitor    *monitor.Monitor
	logger     *logging.Logger

	worker     engine.Worker
	files      monitor.FileChangeSource
	repo       monitor.RepoStatusSource
	quality    monitor.CodeQualitySource
	monitoring bool
	now        func() time.Time

	watcher *workspace.FileWatcher
	firers  []*scheduler.Scheduler

	mu       sync.Mutex
	opened   bool
	started  bool
	shutdown bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithStore replaces the store built from configuration.
func WithStore(s store.Store) Option {
	return func(a *Agent) {
		a.store = s
	}
}

// WithWorker replaces the engine's simulated worker.
func WithWorker(w engine.Worker) Option {
	return func(a *Agent) {
		a.worker = w
	}
}

// WithFileSource replaces the fsnotify watcher.
func WithFileSource(src monitor.FileChangeSource) Option {
	return func(a *Agent) {
		a.files = src
	}
}

// WithRepoSource replaces git status.
func WithRepoSource(src monitor.RepoStatusSource) Option {
	return func(a *Agent) {
		a.repo = src
	}
}

// WithQualitySource replaces the configured quality commands.
func WithQualitySource(src monitor.CodeQualitySource) Option {
	return func(a *Agent) {
		a.quality = src
	}
}

// WithMonitoring controls whether workspace sources are built. One-shot
// commands turn it off to avoid watching the tree.
func WithMonitoring(on bool) Option {
	return func(a *Agent) {
		a.monitoring = on
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Agent) {
		a.logger = l
	}
}

// WithClock overrides the time source of the engine and monitors.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
	}
}

// New builds an agent from cfg. Nothing is loaded or started yet.
func New(cfg *config.Config, opts ...Option) (*Agent, error) {
	a := &Agent{
		cfg:        cfg,
		logger:     logging.Component("agent"),
		monitoring: true,
		now:        time.Now,
		closeStore: func() error { return nil },
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.store == nil {
		st, closeFn, err := store.Open(store.Options{
			Driver:    cfg.Persistence.Driver,
			Path:      cfg.Persistence.Path,
			Workspace: cfg.Workspace,
		})
		if err != nil {
			return nil, err
		}
		a.store, a.closeStore = st, closeFn
	}

	a.bus = events.NewBus(events.WithClock(a.now))
	a.bus.On(events.KindWarning, a.logWarning)

	engineOpts := []engine.Option{
		engine.WithBus(a.bus),
		engine.WithStore(a.store),
		engine.WithConfig(EngineConfig(cfg)),
		engine.WithClock(a.now),
	}
	if a.worker != nil {
		engineOpts = append(engineOpts, engine.WithWorker(a.worker))
	}
	a.engine = engine.New(engineOpts...)

	if err := a.buildSources(); err != nil {
		_ = a.closeStore()
		return nil, err
	}
	monitorOpts := []monitor.Option{
		monitor.WithConfig(MonitorConfig(cfg)),
		monitor.WithClock(a.now),
	}
	if a.files != nil {
		monitorOpts = append(monitorOpts, monitor.WithFileSource(a.files))
	}
	if a.repo != nil {
		monitorOpts = append(monitorOpts, monitor.WithRepoSource(a.repo))
	}
	if a.quality != nil {
		monitorOpts = append(monitorOpts, monitor.WithQualitySource(a.quality))
	}
	m, err := monitor.New(a.bus, a.engine.Registry(), monitorOpts...)
	if err != nil {
		a.closeSources()
		_ = a.closeStore()
		return nil, err
	}
	a.monitor = m
	return a, nil
}

// buildSources creates the workspace collaborators that were not injected.
func (a *Agent) buildSources() error {
	if !a.monitoring {
		return nil
	}
	mc := a.cfg.Monitor
	if a.files == nil && mc.Files.Enabled {
		w, err := workspace.NewFileWatcher(a.cfg.Workspace, mc.Files.Patterns)
		if err != nil {
			return err
		}
		a.watcher = w
		a.files = w
	}
	if a.repo == nil && mc.Git.Enabled {
		a.repo = workspace.NewGitStatus(a.cfg.Workspace)
	}
	if a.quality == nil && len(mc.QualityChecks) > 0 {
		q, err := workspace.NewQualityChecker(a.cfg.Workspace, mc.QualityChecks)
		if err != nil {
			a.closeSources()
			return err
		}
		a.quality = q
	}
	return nil
}

func (a *Agent) closeSources() {
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.logger.WarnCtx("close watcher", map[string]any{"error": err})
		}
		a.watcher = nil
	}
}

// EngineConfig maps configuration onto engine settings.
func EngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		AutoSave:            cfg.AutoSave,
		StepDelay:           cfg.Execution.StepDelay,
		EnforceDependencies: cfg.Execution.EnforceDependencies,
		RiskThreshold:       cfg.Analysis.RiskThreshold,
		RecommendedActions:  cfg.Analysis.RecommendedActions,
	}
}

// MonitorConfig maps configuration onto monitor settings. Disabled jobs get
// a zero interval.
func MonitorConfig(cfg *config.Config) monitor.Config {
	mc := monitor.Config{
		LargeChangeset:     cfg.Analysis.LargeChangeset,
		RiskThreshold:      cfg.Analysis.RiskThreshold,
		RecommendedActions: cfg.Analysis.RecommendedActions,
	}
	if cfg.Monitor.Files.Enabled {
		mc.FilesInterval = cfg.Monitor.Files.Interval
	}
	if cfg.Monitor.Git.Enabled {
		mc.GitInterval = cfg.Monitor.Git.Interval
	}
	if cfg.Monitor.Analysis.Enabled {
		mc.AnalysisInterval = cfg.Monitor.Analysis.Interval
	}
	return mc
}

// Engine returns the execution engine.
func (a *Agent) Engine() *engine.Engine { return a.engine }

// Monitor returns the monitor.
func (a *Agent) Monitor() *monitor.Monitor { return a.monitor }

// Bus returns the event bus.
func (a *Agent) Bus() *events.Bus { return a.bus }

// Config returns the configuration the agent was built from.
func (a *Agent) Config() *config.Config { return a.cfg }

// Open publishes a warning per unreadable config file, then configLoaded,
// and loads the persisted snapshot. When no
// snapshot exists the configured seed file is loaded instead. A snapshot that
// cannot be read or parsed is reported as a warning and the registry starts
// empty. Open is a no-op after the first call.
func (a *Agent) Open(ctx context.Context) error {
	a.mu.Lock()
	if a.opened {
		a.mu.Unlock()
		return nil
	}
	a.opened = true
	a.mu.Unlock()

	for _, err := range a.cfg.LoadErrors {
		a.bus.Publish(events.Warning{
			Type:    events.WarnConfig,
			Message: "configuration file skipped",
			Error:   err.Error(),
		})
	}
	a.bus.Publish(events.ConfigLoaded{Sources: a.cfg.Sources})

	snap, err := a.store.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, tasks.ErrNotFound):
		if a.cfg.Persistence.Seed == "" {
			a.logger.InfoCtx("no saved tasks", map[string]any{"workspace": a.cfg.Workspace})
			return nil
		}
		snap, err = store.LoadFile(a.cfg.Persistence.Seed)
		if err != nil {
			a.warnLoad(err)
			return nil
		}
		a.logger.InfoCtx("seeding tasks", map[string]any{"seed": a.cfg.Persistence.Seed})
	default:
		a.warnLoad(err)
		return nil
	}

	if err := a.engine.LoadTasks(ctx, snap); err != nil {
		a.warnLoad(&tasks.ConfigError{Source: "snapshot", Err: err})
	}
	return nil
}

func (a *Agent) warnLoad(err error) {
	kind := events.WarnPersistence
	var cfgErr *tasks.ConfigError
	if errors.As(err, &cfgErr) {
		kind = events.WarnConfig
	}
	a.bus.Publish(events.Warning{
		Type:    kind,
		Message: "could not load saved tasks; starting empty",
		Error:   err.Error(),
	})
}

// Start opens the agent, publishes connected, starts the monitor jobs and
// registers workflow schedules. Schedules marked to fire run their workflow
// on every tick until Shutdown.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.Open(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	if a.started || a.shutdown {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()

	a.bus.Publish(events.Connected{})

	if err := a.monitor.Start(ctx); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}

	for _, wf := range a.engine.Registry().Workflows() {
		if wf.Schedule == "" {
			continue
		}
		if _, err := a.monitor.ScheduleWorkflow(wf.Schedule, wf.Name); err != nil {
			a.bus.Publish(events.Warning{
				Type:    events.WarnConfig,
				Message: fmt.Sprintf("workflow %s has an invalid schedule", wf.Name),
				Error:   err.Error(),
			})
		}
	}

	for i := range a.cfg.Schedules {
		sc := a.cfg.Schedules[i]
		if sc.Cron != "" {
			if _, err := a.monitor.ScheduleWorkflow(sc.Cron, sc.Workflow); err != nil {
				return err
			}
		}
		if !sc.Fire {
			continue
		}
		if err := a.startFirer(ctx, &sc); err != nil {
			return err
		}
	}

	a.logger.InfoCtx("agent started", map[string]any{
		"workspace": a.cfg.Workspace,
		"jobs":      a.monitor.Jobs(),
		"firing":    len(a.firers),
	})
	return nil
}

// startFirer runs a workflow on its own scheduler handle.
func (a *Agent) startFirer(ctx context.Context, sc *config.ScheduleConfig) error {
	s, err := scheduler.NewFromConfig(sc)
	if err != nil {
		return &tasks.ConfigError{Source: "schedules." + sc.Workflow, Err: err}
	}
	name := sc.Workflow
	s.AddJob(func(ctx context.Context) error {
		_, err := a.engine.RunWorkflow(ctx, name)
		return err
	})
	s.OnError(func(err error) {
		a.bus.Publish(events.Warning{
			Type:    events.WarnJobFailure,
			Message: fmt.Sprintf("scheduled workflow %s failed", name),
			Data:    map[string]any{"workflow": name},
			Error:   err.Error(),
		})
	})
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("start schedule for %s: %w", name, err)
	}
	a.mu.Lock()
	a.firers = append(a.firers, s)
	a.mu.Unlock()
	return nil
}

// Shutdown stops every job, performs a final save when auto-save is on and
// publishes shutdown. Calls after the first return nil.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return nil
	}
	a.shutdown = true
	firers := a.firers
	a.firers = nil
	a.mu.Unlock()

	a.monitor.Stop()
	for _, s := range firers {
		if err := s.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
			a.logger.WarnCtx("stop schedule", map[string]any{"error": err})
		}
	}
	a.closeSources()

	var saveErr error
	if a.cfg.AutoSave {
		if saveErr = a.engine.Save(ctx); saveErr != nil {
			a.bus.Publish(events.Warning{
				Type:    events.WarnPersistence,
				Message: "final save failed",
				Error:   saveErr.Error(),
			})
		}
	}

	a.bus.Publish(events.Shutdown{})
	a.logger.Info("agent stopped")

	return errors.Join(saveErr, a.closeStore())
}

// Close releases the workspace sources and the store without saving or
// publishing shutdown. Read-only commands use it instead of Shutdown.
func (a *Agent) Close() error {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return nil
	}
	a.shutdown = true
	a.mu.Unlock()

	a.closeSources()
	return a.closeStore()
}

// Run starts the agent and blocks until ctx ends, then shuts down.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.WithoutCancel(ctx))
		return err
	}
	<-ctx.Done()
	return a.Shutdown(context.WithoutCancel(ctx))
}

func (a *Agent) logWarning(ev events.Event) {
	w, ok := ev.Payload.(events.Warning)
	if !ok {
		return
	}
	fields := map[string]any{"type": string(w.Type)}
	if w.Error != "" {
		fields["error"] = w.Error
	}
	a.logger.WarnCtx(w.Message, fields)
}
