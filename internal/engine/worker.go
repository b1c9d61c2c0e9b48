package engine

import (
	"context"
	"time"

	"github.com/marcus/taskmaster/internal/tasks"
)

// Checkpoints are the progress values reported during every run.
var Checkpoints = []int{0, 25, 50, 75, 100}

// Worker performs the unit of work that precedes each checkpoint. A non-nil
// error fails the run.
type Worker interface {
	Step(ctx context.Context, t tasks.Task, checkpoint int) error
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, t tasks.Task, checkpoint int) error

func (f WorkerFunc) Step(ctx context.Context, t tasks.Task, checkpoint int) error {
	return f(ctx, t, checkpoint)
}

// SimulatedWorker pauses for Delay before each checkpoint.
type SimulatedWorker struct {
	Delay time.Duration
}

func (w SimulatedWorker) Step(ctx context.Context, _ tasks.Task, _ int) error {
	if w.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(w.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
