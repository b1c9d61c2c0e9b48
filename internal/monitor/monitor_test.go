package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marcus/taskmaster/internal/events"
	"github.com/marcus/taskmaster/internal/logging"
	"github.com/marcus/taskmaster/internal/tasks"
)

type fakeFiles struct {
	mu    sync.Mutex
	paths []string
	err   error
	polls int
}

func (f *fakeFiles) Poll(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.err != nil {
		return nil, f.err
	}
	out := f.paths
	f.paths = nil
	return out, nil
}

func (f *fakeFiles) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

type fakeRepo struct {
	status RepoStatus
	err    error
}

func (f *fakeRepo) Poll(ctx context.Context) (RepoStatus, error) {
	return f.status, f.err
}

// slowRepo blocks until its context ends.
type slowRepo struct{}

func (slowRepo) Poll(ctx context.Context) (RepoStatus, error) {
	<-ctx.Done()
	return RepoStatus{}, ctx.Err()
}

type fakeQuality struct {
	problems []Problem
	err      error
}

func (f *fakeQuality) Check(ctx context.Context) ([]Problem, error) {
	return f.problems, f.err
}

type staticTasks []tasks.Task

func (s staticTasks) Tasks() []tasks.Task { return s }

func newTestMonitor(t *testing.T, src TaskSource, opts ...Option) (*Monitor, *events.Recorder) {
	t.Helper()
	bus := events.NewBus(events.WithLogger(logging.Nop()))
	rec := &events.Recorder{}
	bus.OnAll(rec.Record)
	m, err := New(bus, src, append([]Option{WithLogger(logging.Nop())}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m, rec
}

func changedFiles(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("src/file%02d.go", i)
	}
	return out
}

func TestPollFiles(t *testing.T) {
	files := &fakeFiles{paths: []string{"main.go", "README.md"}}
	m, rec := newTestMonitor(t, nil, WithFileSource(files))
	ctx := context.Background()

	paths, err := m.PollFiles(ctx)
	if err != nil || len(paths) != 2 {
		t.Fatalf("PollFiles() = %v, %v", paths, err)
	}
	want := []events.Kind{events.KindFilesChanged, events.KindSuggestion}
	if got := rec.Kinds(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("kinds = %v, want %v", got, want)
	}
	if s := rec.OfKind(events.KindSuggestion)[0].Payload.(events.Suggestion); s.Type != events.SuggestFileChanges {
		t.Errorf("suggestion = %+v", s)
	}

	// Nothing new: no events.
	if _, err := m.PollFiles(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(rec.Events()); n != 2 {
		t.Errorf("events after empty poll = %d, want 2", n)
	}
}

func TestPollRepo(t *testing.T) {
	tests := []struct {
		name   string
		status RepoStatus
		want   []events.Kind
	}{
		{name: "clean", status: RepoStatus{}},
		{name: "small", status: RepoStatus{HasChanges: true, Files: changedFiles(3)}, want: []events.Kind{events.KindGitActivity}},
		{name: "at limit", status: RepoStatus{HasChanges: true, Files: changedFiles(10)}, want: []events.Kind{events.KindGitActivity}},
		{
			name:   "large",
			status: RepoStatus{HasChanges: true, Files: changedFiles(11)},
			want:   []events.Kind{events.KindGitActivity, events.KindSuggestion},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, rec := newTestMonitor(t, nil, WithRepoSource(&fakeRepo{status: tt.status}))
			if _, err := m.PollRepo(context.Background()); err != nil {
				t.Fatal(err)
			}
			if got := rec.Kinds(); fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("kinds = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnalyze(t *testing.T) {
	var all staticTasks
	for i := 0; i < 4; i++ {
		all = append(all, tasks.Task{ID: fmt.Sprintf("h%d", i), Priority: tasks.PriorityHigh, Status: tasks.StatusPending})
	}
	all = append(all, tasks.Task{ID: "b", Priority: tasks.PriorityLow, Status: tasks.StatusPending, Dependencies: []string{"missing"}})

	quality := &fakeQuality{problems: []Problem{{Check: "vet", Severity: "medium", Message: "2 findings", Count: 2}}}
	m, rec := newTestMonitor(t, all, WithQualitySource(quality))

	in, err := m.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(in.Blocked) != 1 || in.Risk.Level != tasks.RiskHigh || len(in.Recommendations) != 3 || len(in.Problems) != 1 {
		t.Errorf("insights = %+v", in)
	}

	want := []events.Kind{events.KindSuggestion, events.KindWarning, events.KindWarning}
	if got := rec.Kinds(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	warnings := rec.OfKind(events.KindWarning)
	if w := warnings[0].Payload.(events.Warning); w.Type != events.WarnRisk {
		t.Errorf("first warning = %+v", w)
	}
	if w := warnings[1].Payload.(events.Warning); w.Type != events.WarnCodeProblems {
		t.Errorf("second warning = %+v", w)
	}
}

func TestAnalyzeQuiet(t *testing.T) {
	all := staticTasks{{ID: "a", Priority: tasks.PriorityHigh, Status: tasks.StatusPending}}
	m, rec := newTestMonitor(t, all)
	if _, err := m.Analyze(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(rec.Events()); n != 0 {
		t.Errorf("published %v for a healthy project", rec.Kinds())
	}
}

func TestAnalyzeQualityFailure(t *testing.T) {
	all := staticTasks{{ID: "b", Dependencies: []string{"x"}, Status: tasks.StatusPending}}
	boom := errors.New("linter crashed")
	m, rec := newTestMonitor(t, all, WithQualitySource(&fakeQuality{err: boom}))

	in, err := m.Analyze(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(in.Blocked) != 1 || len(rec.OfKind(events.KindSuggestion)) != 1 {
		t.Error("task advisories missing when quality check failed")
	}
}

func TestJobFailureBecomesWarning(t *testing.T) {
	files := &fakeFiles{err: errors.New("watcher closed")}
	cfg := DefaultConfig()
	cfg.FilesInterval = 10 * time.Millisecond
	m, rec := newTestMonitor(t, nil, WithFileSource(files), WithConfig(cfg))

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.OfKind(events.KindWarning)) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()

	warnings := rec.OfKind(events.KindWarning)
	if len(warnings) == 0 {
		t.Fatal("no warning published for failing job")
	}
	w := warnings[0].Payload.(events.Warning)
	if w.Type != events.WarnJobFailure || w.Error == "" {
		t.Errorf("warning = %+v", w)
	}
}

func TestSlowJobDoesNotBlockSiblings(t *testing.T) {
	files := &fakeFiles{}
	cfg := DefaultConfig()
	cfg.FilesInterval = 5 * time.Millisecond
	cfg.GitInterval = 20 * time.Millisecond
	cfg.AnalysisInterval = 0
	m, rec := newTestMonitor(t, nil, WithFileSource(files), WithRepoSource(slowRepo{}), WithConfig(cfg))

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(120 * time.Millisecond)
	m.Stop()

	if files.pollCount() < 3 {
		t.Errorf("files job polled %d times while git job was slow", files.pollCount())
	}
	var timedOut bool
	for _, ev := range rec.OfKind(events.KindWarning) {
		if w := ev.Payload.(events.Warning); w.Type == events.WarnJobFailure {
			timedOut = true
		}
	}
	if !timedOut {
		t.Error("slow git job produced no warning")
	}
}

func TestStartStopJobs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AnalysisInterval = time.Hour
	m, _ := newTestMonitor(t, staticTasks{}, WithFileSource(&fakeFiles{}), WithRepoSource(&fakeRepo{}), WithConfig(cfg))

	if got := fmt.Sprint(m.Jobs()); got != "[files git analysis]" {
		t.Errorf("Jobs() = %s", got)
	}

	ctx := context.Background()
	if err := m.StartJob(ctx, JobGit); err != nil {
		t.Fatal(err)
	}
	if !m.Running(JobGit) || m.Running(JobFiles) {
		t.Error("only the git job should be running")
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() with one job already running: %v", err)
	}
	for _, name := range m.Jobs() {
		if !m.Running(name) {
			t.Errorf("%s not running", name)
		}
	}
	if err := m.StopJob(JobFiles); err != nil {
		t.Fatal(err)
	}
	if m.Running(JobFiles) || !m.Running(JobAnalysis) {
		t.Error("StopJob stopped the wrong job")
	}

	m.Stop()
	for _, name := range m.Jobs() {
		if m.Running(name) {
			t.Errorf("%s still running after Stop", name)
		}
	}
	m.Stop() // idempotent

	if err := m.StartJob(ctx, "nope"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("StartJob(nope) error = %v", err)
	}
}

func TestDisabledJobs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FilesInterval = 0
	m, _ := newTestMonitor(t, nil, WithFileSource(&fakeFiles{}), WithConfig(cfg))
	if len(m.Jobs()) != 0 {
		t.Errorf("Jobs() = %v, want none", m.Jobs())
	}
	if _, err := m.PollRepo(context.Background()); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("PollRepo without source error = %v", err)
	}
}

func TestScheduleWorkflow(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	m, rec := newTestMonitor(t, nil, WithClock(func() time.Time { return now }))

	next, err := m.ScheduleWorkflow("0 9 * * *", "daily-maintenance")
	if err != nil {
		t.Fatalf("ScheduleWorkflow() error = %v", err)
	}
	if want := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	scheduled := rec.OfKind(events.KindWorkflowScheduled)
	if len(scheduled) != 1 {
		t.Fatalf("workflowScheduled events = %d", len(scheduled))
	}
	if p := scheduled[0].Payload.(events.WorkflowScheduled); p.Workflow != "daily-maintenance" || p.Expr != "0 9 * * *" {
		t.Errorf("payload = %+v", p)
	}

	if _, err := m.ScheduleWorkflow("*/30 * * * *", "backup"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ScheduleWorkflow("0 10 * * *", "daily-maintenance"); err != nil {
		t.Fatal(err)
	}
	regs := m.Schedules()
	if len(regs) != 2 || regs[0].Workflow != "backup" || regs[1].Expr != "0 10 * * *" {
		t.Errorf("Schedules() = %+v", regs)
	}

	if _, err := m.ScheduleWorkflow("every day", "x"); !errors.Is(err, tasks.ErrValidation) {
		t.Errorf("bad expression error = %v", err)
	}
	if len(rec.OfKind(events.KindWorkflowScheduled)) != 3 {
		t.Error("rejected registration published an event")
	}
}
