package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/taskmaster/internal/config"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    TimeOfDay
		wantErr bool
	}{
		{"valid morning", "09:30", TimeOfDay{9, 30}, false},
		{"valid evening", "22:00", TimeOfDay{22, 0}, false},
		{"midnight", "00:00", TimeOfDay{0, 0}, false},
		{"end of day", "23:59", TimeOfDay{23, 59}, false},
		{"invalid hour", "25:00", TimeOfDay{}, true},
		{"invalid minute", "12:60", TimeOfDay{}, true},
		{"single digit hour", "9:30", TimeOfDay{9, 30}, false},
		{"no colon", "0930", TimeOfDay{}, true},
		{"empty", "", TimeOfDay{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseTimeOfDay(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseTimeOfDay(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTimeOfDay_StringAndMinutes(t *testing.T) {
	tests := []struct {
		tod     TimeOfDay
		str     string
		minutes int
	}{
		{TimeOfDay{9, 30}, "09:30", 570},
		{TimeOfDay{22, 0}, "22:00", 1320},
		{TimeOfDay{0, 0}, "00:00", 0},
		{TimeOfDay{23, 59}, "23:59", 1439},
	}
	for _, tt := range tests {
		if got := tt.tod.String(); got != tt.str {
			t.Errorf("TimeOfDay(%v).String() = %q, want %q", tt.tod, got, tt.str)
		}
		if got := tt.tod.Minutes(); got != tt.minutes {
			t.Errorf("TimeOfDay(%v).Minutes() = %d, want %d", tt.tod, got, tt.minutes)
		}
	}
}

func TestWindow_Contains(t *testing.T) {
	loc := time.UTC
	day := Window{Start: TimeOfDay{9, 0}, End: TimeOfDay{17, 0}, Location: loc}
	night := Window{Start: TimeOfDay{22, 0}, End: TimeOfDay{6, 0}, Location: loc}

	tests := []struct {
		name   string
		window Window
		hour   int
		want   bool
	}{
		{"day - inside", day, 12, true},
		{"day - at start", day, 9, true},
		{"day - at end", day, 17, false},
		{"day - before", day, 8, false},
		{"night - late evening", night, 23, true},
		{"night - early morning", night, 3, true},
		{"night - at start", night, 22, true},
		{"night - at end", night, 6, false},
		{"night - afternoon", night, 12, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := time.Date(2026, 1, 1, tt.hour, 0, 0, 0, loc)
			if got := tt.window.Contains(at); got != tt.want {
				t.Errorf("Window.Contains(%v) = %v, want %v", at, got, tt.want)
			}
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	s, err := NewFromConfig(&config.ScheduleConfig{Workflow: "daily", Cron: "0 2 * * *"})
	if err != nil {
		t.Fatalf("NewFromConfig(cron) error = %v", err)
	}
	if s.cronExpr != "0 2 * * *" || s.name != "daily" {
		t.Errorf("cronExpr/name = %q/%q", s.cronExpr, s.name)
	}

	s, err = NewFromConfig(&config.ScheduleConfig{Interval: "1h"})
	if err != nil {
		t.Fatalf("NewFromConfig(interval) error = %v", err)
	}
	if s.interval != time.Hour {
		t.Errorf("interval = %v, want 1h", s.interval)
	}

	s, err = NewFromConfig(&config.ScheduleConfig{
		Cron:   "0 2 * * *",
		Window: &config.WindowConfig{Start: "22:00", End: "06:00", Timezone: "UTC"},
	})
	if err != nil {
		t.Fatalf("NewFromConfig(window) error = %v", err)
	}
	if s.window == nil || s.window.Start != (TimeOfDay{22, 0}) || s.window.End != (TimeOfDay{6, 0}) {
		t.Errorf("window = %+v", s.window)
	}
}

func TestNewFromConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ScheduleConfig
		want error
	}{
		{name: "no schedule", cfg: config.ScheduleConfig{}, want: ErrNoSchedule},
		{name: "both", cfg: config.ScheduleConfig{Cron: "0 2 * * *", Interval: "1h"}, want: config.ErrCronAndInterval},
		{name: "invalid cron", cfg: config.ScheduleConfig{Cron: "invalid cron"}},
		{name: "invalid interval", cfg: config.ScheduleConfig{Interval: "not-a-duration"}},
		{name: "negative interval", cfg: config.ScheduleConfig{Interval: "-1h"}, want: ErrInvalidInterval},
		{name: "invalid start", cfg: config.ScheduleConfig{Cron: "0 2 * * *", Window: &config.WindowConfig{Start: "25:00", End: "06:00"}}},
		{name: "invalid end", cfg: config.ScheduleConfig{Cron: "0 2 * * *", Window: &config.WindowConfig{Start: "22:00", End: "invalid"}}},
		{name: "invalid timezone", cfg: config.ScheduleConfig{Cron: "0 2 * * *", Window: &config.WindowConfig{Start: "22:00", End: "06:00", Timezone: "Fake/Zone"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			_, err := NewFromConfig(&cfg)
			if err == nil {
				t.Fatal("NewFromConfig() expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("NewFromConfig() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSetCronAndInterval(t *testing.T) {
	s := New()
	if err := s.SetCron("0 2 * * *"); err != nil {
		t.Errorf("SetCron() error = %v", err)
	}
	if err := s.SetCron("invalid"); err == nil {
		t.Error("SetCron() expected error for invalid expression")
	}
	if s.cronExpr != "0 2 * * *" {
		t.Errorf("invalid SetCron changed cronExpr to %q", s.cronExpr)
	}

	if err := s.SetInterval(time.Hour); err != nil {
		t.Errorf("SetInterval() error = %v", err)
	}
	if s.interval != time.Hour || s.schedule != nil {
		t.Error("SetInterval did not replace the cron schedule")
	}
	for _, d := range []time.Duration{0, -time.Hour} {
		if err := s.SetInterval(d); err != ErrInvalidInterval {
			t.Errorf("SetInterval(%v) error = %v, want ErrInvalidInterval", d, err)
		}
	}
}

func TestParseCron(t *testing.T) {
	sched, err := ParseCron("0 9 * * *")
	if err != nil {
		t.Fatalf("ParseCron() error = %v", err)
	}
	from := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if got := sched.Next(from); !got.Equal(want) {
		t.Errorf("Next() = %v, want %v", got, want)
	}
	if _, err := ParseCron("61 * * * *"); err == nil || !strings.Contains(err.Error(), "61 * * * *") {
		t.Errorf("ParseCron(bad) error = %v", err)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := New()
	_ = s.SetCron("* * * * *")

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.IsRunning() {
		t.Error("IsRunning() = false, want true")
	}
	if err := s.Start(ctx); err != ErrAlreadyRunning {
		t.Errorf("Start() twice error = %v, want %v", err, ErrAlreadyRunning)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	if !s.NextRun().IsZero() {
		t.Error("NextRun() should be zero after Stop")
	}
	if err := s.Stop(); err != ErrNotRunning {
		t.Errorf("Stop() twice error = %v, want %v", err, ErrNotRunning)
	}

	// A stopped scheduler can be started again.
	if err := s.Start(ctx); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	_ = s.Stop()
}

func TestScheduler_StartNoSchedule(t *testing.T) {
	if err := New().Start(context.Background()); err != ErrNoSchedule {
		t.Errorf("Start() error = %v, want %v", err, ErrNoSchedule)
	}
}

func TestScheduler_NextRun(t *testing.T) {
	cronSched := New()
	_ = cronSched.SetCron("* * * * *")
	if err := cronSched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = cronSched.Stop() }()

	now := time.Now()
	next := cronSched.NextRun()
	if next.Before(now) || next.After(now.Add(time.Minute+time.Second)) {
		t.Errorf("cron NextRun() = %v, want within next minute of %v", next, now)
	}

	intervalSched := New()
	_ = intervalSched.SetInterval(time.Hour)
	if err := intervalSched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = intervalSched.Stop() }()

	delta := intervalSched.NextRun().Sub(time.Now().Add(time.Hour))
	if delta < -time.Second || delta > time.Second {
		t.Errorf("interval NextRun() off by %v", delta)
	}
}

func TestScheduler_IsInWindow(t *testing.T) {
	s := New()
	_ = s.SetCron("0 2 * * *")
	if !s.IsInWindow(time.Now()) {
		t.Error("IsInWindow() = false with no window")
	}

	_ = s.SetWindow(&config.WindowConfig{Start: "22:00", End: "06:00", Timezone: "UTC"})
	for hour, want := range map[int]bool{23: true, 3: true, 22: true, 5: true, 6: false, 12: false, 21: false} {
		at := time.Date(2026, 1, 1, hour, 0, 0, 0, time.UTC)
		if got := s.IsInWindow(at); got != want {
			t.Errorf("IsInWindow(%02d:00) = %v, want %v", hour, got, want)
		}
	}

	_ = s.SetWindow(nil)
	if !s.IsInWindow(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Error("SetWindow(nil) did not clear the window")
	}
}

func TestScheduler_JobExecution_Interval(t *testing.T) {
	s := New()
	_ = s.SetInterval(20 * time.Millisecond)

	var count atomic.Int32
	s.AddJob(func(ctx context.Context) error {
		count.Add(1)
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	if count.Load() < 1 {
		t.Errorf("job executed %d times, want at least 1", count.Load())
	}
}

func TestScheduler_NoRunAfterStop(t *testing.T) {
	s := New()
	_ = s.SetInterval(5 * time.Millisecond)

	var count atomic.Int32
	s.AddJob(func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	_ = s.Stop()

	after := count.Load()
	time.Sleep(30 * time.Millisecond)
	if got := count.Load(); got != after {
		t.Errorf("job ran %d more times after Stop returned", got-after)
	}
}

func TestScheduler_JobExecution_WindowBlocks(t *testing.T) {
	s := New()
	_ = s.SetInterval(20 * time.Millisecond)

	now := time.Now().UTC()
	_ = s.SetWindow(&config.WindowConfig{
		Start:    fmt.Sprintf("%02d:00", (now.Hour()+12)%24),
		End:      fmt.Sprintf("%02d:00", (now.Hour()+13)%24),
		Timezone: "UTC",
	})

	var count atomic.Int32
	s.AddJob(func(ctx context.Context) error {
		count.Add(1)
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	_ = s.Stop()

	if count.Load() != 0 {
		t.Errorf("job executed %d times, want 0 (blocked by window)", count.Load())
	}
}

func TestScheduler_SetNameWhileRunning(t *testing.T) {
	s := New()
	_ = s.SetInterval(2 * time.Millisecond)
	now := time.Now().UTC()
	_ = s.SetWindow(&config.WindowConfig{
		Start:    fmt.Sprintf("%02d:00", (now.Hour()+12)%24),
		End:      fmt.Sprintf("%02d:00", (now.Hour()+13)%24),
		Timezone: "UTC",
	})
	s.AddJob(func(ctx context.Context) error { return nil })

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 0; i < 20; i++ {
		s.SetName(fmt.Sprintf("job-%d", i))
		time.Sleep(time.Millisecond)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestScheduler_ErrorsReachOnError(t *testing.T) {
	s := New()
	_ = s.SetInterval(10 * time.Millisecond)
	s.SetTimeout(20 * time.Millisecond)

	var (
		mu   sync.Mutex
		errs []error
	)
	s.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	boom := errors.New("boom")
	s.AddJob(func(ctx context.Context) error { return boom })
	s.AddJob(func(ctx context.Context) error { panic("bad job") })
	s.AddJob(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(80 * time.Millisecond)
	_ = s.Stop()

	mu.Lock()
	defer mu.Unlock()
	var sawBoom, sawPanic, sawTimeout bool
	for _, err := range errs {
		switch {
		case errors.Is(err, boom):
			sawBoom = true
		case errors.Is(err, context.DeadlineExceeded):
			sawTimeout = true
		case strings.Contains(err.Error(), "panicked"):
			sawPanic = true
		}
	}
	if !sawBoom || !sawPanic || !sawTimeout {
		t.Errorf("errors seen: boom=%v panic=%v timeout=%v (%v)", sawBoom, sawPanic, sawTimeout, errs)
	}
}

func TestScheduler_RunOnce(t *testing.T) {
	s := New()
	var ran atomic.Int32
	boom := errors.New("boom")
	s.AddJob(func(ctx context.Context) error { ran.Add(1); return nil })
	s.AddJob(func(ctx context.Context) error { ran.Add(1); return boom })

	err := s.RunOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("RunOnce() error = %v, want boom", err)
	}
	if ran.Load() != 2 {
		t.Errorf("ran %d jobs, want 2", ran.Load())
	}
}

func TestScheduler_ContextCancellation(t *testing.T) {
	s := New()
	_ = s.SetInterval(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return after context cancellation")
	}
}
