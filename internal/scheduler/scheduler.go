// Package scheduler runs jobs on a cron expression or a fixed interval,
// optionally limited to a daily time window. Each Scheduler is one
// independently startable and stoppable job handle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marcus/taskmaster/internal/config"
	"github.com/marcus/taskmaster/internal/logging"
)

var (
	ErrNoSchedule      = errors.New("scheduler: no cron or interval configured")
	ErrAlreadyRunning  = errors.New("scheduler: already running")
	ErrNotRunning      = errors.New("scheduler: not running")
	ErrInvalidInterval = errors.New("scheduler: interval must be positive")
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler fires its jobs on each tick of a cron schedule or interval.
type Scheduler struct {
	mu       sync.Mutex
	name     string
	cronExpr string
	schedule cron.Schedule
	interval time.Duration
	window   *Window
	timeout  time.Duration
	jobs     []Job
	onError  func(error)
	logger   *logging.Logger
	now      func() time.Time

	running bool
	nextRun time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an unconfigured scheduler.
func New() *Scheduler {
	return &Scheduler{
		logger: logging.Component("scheduler"),
		now:    time.Now,
	}
}

// NewFromConfig creates a scheduler from a schedule entry.
func NewFromConfig(cfg *config.ScheduleConfig) (*Scheduler, error) {
	if cfg.Cron != "" && cfg.Interval != "" {
		return nil, config.ErrCronAndInterval
	}
	if cfg.Cron == "" && cfg.Interval == "" {
		return nil, ErrNoSchedule
	}

	s := New()
	s.name = cfg.Workflow
	if cfg.Cron != "" {
		if err := s.SetCron(cfg.Cron); err != nil {
			return nil, err
		}
	} else {
		d, err := time.ParseDuration(cfg.Interval)
		if err != nil {
			return nil, fmt.Errorf("parsing interval %q: %w", cfg.Interval, err)
		}
		if err := s.SetInterval(d); err != nil {
			return nil, err
		}
	}
	if cfg.Window != nil {
		if err := s.SetWindow(cfg.Window); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ParseCron parses a standard five-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// SetName labels the scheduler in logs.
func (s *Scheduler) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// SetCron switches to a cron schedule.
func (s *Scheduler) SetCron(expr string) error {
	sched, err := ParseCron(expr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cronExpr = expr
	s.schedule = sched
	s.interval = 0
	return nil
}

// SetInterval switches to a fixed interval.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	s.cronExpr = ""
	s.schedule = nil
	return nil
}

// SetWindow restricts runs to a daily window. nil removes the restriction.
func (s *Scheduler) SetWindow(cfg *config.WindowConfig) error {
	if cfg == nil {
		s.mu.Lock()
		s.window = nil
		s.mu.Unlock()
		return nil
	}
	w, err := ParseWindow(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = w
	return nil
}

// SetTimeout bounds each job invocation. Zero means no bound.
func (s *Scheduler) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

// OnError registers a callback for job errors, timeouts and panics.
func (s *Scheduler) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// AddJob appends a job run on every tick.
func (s *Scheduler) AddJob(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// Start launches the tick loop. It returns once the first run time is known.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	if s.schedule == nil && s.interval <= 0 {
		return ErrNoSchedule
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.nextRun = s.nextAfterLocked(s.now())

	go s.loop(ctx, s.done)
	return nil
}

// Stop cancels the loop and waits for it, including any job in flight. No job
// starts after Stop returns.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.cancel()
	s.running = false
	s.nextRun = time.Time{}
	done := s.done
	s.mu.Unlock()

	<-done
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled tick, or zero when stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// NextAfter returns the tick that follows t without starting anything.
func (s *Scheduler) NextAfter(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextAfterLocked(t)
}

// IsInWindow reports whether t falls inside the configured window.
func (s *Scheduler) IsInWindow(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window == nil {
		return true
	}
	return s.window.Contains(t)
}

func (s *Scheduler) nextAfterLocked(t time.Time) time.Time {
	if s.schedule != nil {
		return s.schedule.Next(t)
	}
	if s.interval > 0 {
		return t.Add(s.interval)
	}
	return time.Time{}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		s.mu.Lock()
		next := s.nextRun
		name := s.name
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}

		fired := s.now()
		if s.IsInWindow(fired) {
			s.runJobs(ctx)
		} else {
			s.logger.DebugCtx("tick outside window", map[string]any{"name": name})
		}

		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		s.nextRun = s.nextAfterLocked(s.now())
		s.mu.Unlock()
	}
}

func (s *Scheduler) runJobs(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	timeout := s.timeout
	onError := s.onError
	name := s.name
	s.mu.Unlock()

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if err := runJob(ctx, job, timeout); err != nil {
			s.logger.WarnCtx("scheduled job failed", map[string]any{"name": name, "error": err.Error()})
			if onError != nil {
				onError(err)
			}
		}
	}
}

// RunOnce invokes every job immediately with the configured timeout. Errors
// are joined.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	timeout := s.timeout
	s.mu.Unlock()

	var errs []error
	for _, job := range jobs {
		if err := runJob(ctx, job, timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runJob(ctx context.Context, job Job, timeout time.Duration) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	err = job(ctx)
	if err == nil && timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("job exceeded %s: %w", timeout, context.DeadlineExceeded)
	}
	return err
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (a single-digit hour is accepted).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// Window is a daily [Start, End) span. End before Start wraps past midnight.
type Window struct {
	Start    TimeOfDay
	End      TimeOfDay
	Location *time.Location
}

// ParseWindow builds a Window from config. An empty timezone means local time.
func ParseWindow(cfg *config.WindowConfig) (*Window, error) {
	start, err := ParseTimeOfDay(cfg.Start)
	if err != nil {
		return nil, fmt.Errorf("window start: %w", err)
	}
	end, err := ParseTimeOfDay(cfg.End)
	if err != nil {
		return nil, fmt.Errorf("window end: %w", err)
	}
	loc := time.Local
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("window timezone %q: %w", cfg.Timezone, err)
		}
	}
	return &Window{Start: start, End: end, Location: loc}, nil
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.Location != nil {
		t = t.In(w.Location)
	}
	now := t.Hour()*60 + t.Minute()
	start, end := w.Start.Minutes(), w.End.Minutes()
	if start <= end {
		return now >= start && now < end
	}
	return now >= start || now < end
}
