package tasks

import (
	"errors"
	"testing"
	"time"
)

func TestPriorityRank(t *testing.T) {
	tests := []struct {
		p    Priority
		want int
	}{
		{PriorityHigh, 3},
		{PriorityMedium, 2},
		{PriorityLow, 1},
		{Priority("urgent"), 0},
		{Priority(""), 0},
	}
	for _, tt := range tests {
		if got := tt.p.Rank(); got != tt.want {
			t.Errorf("Priority(%q).Rank() = %d, want %d", tt.p, got, tt.want)
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range Statuses {
		if !s.Valid() {
			t.Errorf("Status(%q).Valid() = false", s)
		}
	}
	if Status("paused").Valid() {
		t.Error("Status(paused).Valid() = true")
	}
}

func TestParseEstimatedHours(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 1},
		{"1h", 1},
		{"2h", 2},
		{"45m", 1},
		{"1h30m", 2},
		{"90m", 2},
		{"0h", 0},
		{"3", 3},
		{"4 hours", 4},
		{"about 3h", 3},
		{"-2h", 2},
		{"soon", 1},
	}
	for _, tt := range tests {
		if got := ParseEstimatedHours(tt.in); got != tt.want {
			t.Errorf("ParseEstimatedHours(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestWorkflowTriggerKind(t *testing.T) {
	if got := (Workflow{Name: "w"}).TriggerKind(); got != TriggerManual {
		t.Errorf("TriggerKind() = %q, want manual", got)
	}
	if got := (Workflow{Name: "w", Schedule: "0 9 * * *"}).TriggerKind(); got != TriggerSchedule {
		t.Errorf("TriggerKind() = %q, want schedule", got)
	}
}

func TestTaskCloneIsDeep(t *testing.T) {
	done := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	orig := Task{ID: "a", Dependencies: []string{"b"}, CompletedAt: &done}
	c := orig.Clone()
	c.Dependencies[0] = "z"
	*c.CompletedAt = time.Time{}

	if orig.Dependencies[0] != "b" {
		t.Error("Clone shares dependency slice")
	}
	if !orig.CompletedAt.Equal(done) {
		t.Error("Clone shares completedAt pointer")
	}
}

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		in      Task
		wantErr bool
	}{
		{name: "defaults", in: Task{ID: "a"}},
		{name: "missing id", in: Task{Name: "x"}, wantErr: true},
		{name: "bad priority", in: Task{ID: "a", Priority: "urgent"}, wantErr: true},
		{name: "bad status", in: Task{ID: "a", Status: "paused"}, wantErr: true},
		{name: "progress over 100", in: Task{ID: "a", Progress: 101}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := tt.in
			err := normalize(&task, now)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("normalize() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalize() error = %v", err)
			}
			if task.Priority != PriorityMedium || task.Status != StatusPending || task.EstimatedTime != "1h" {
				t.Errorf("defaults not applied: %+v", task)
			}
			if task.Dependencies == nil {
				t.Error("Dependencies should be non-nil")
			}
			if !task.CreatedAt.Equal(now) || !task.UpdatedAt.Equal(now) {
				t.Errorf("timestamps = %v/%v, want %v", task.CreatedAt, task.UpdatedAt, now)
			}
		})
	}
}

func TestErrorTypesUnwrap(t *testing.T) {
	cause := errors.New("boom")

	var err error = &ExecutionError{TaskID: "t1", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("ExecutionError does not unwrap")
	}
	if err.Error() != "execute task t1: boom" {
		t.Errorf("ExecutionError.Error() = %q", err.Error())
	}

	err = &IOError{Op: "save", Path: "/tmp/x.json", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("IOError does not unwrap")
	}
	if err.Error() != "save /tmp/x.json: boom" {
		t.Errorf("IOError.Error() = %q", err.Error())
	}

	err = &ConfigError{Source: "tasks.json", Err: cause}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Source != "tasks.json" {
		t.Error("errors.As ConfigError failed")
	}
}
