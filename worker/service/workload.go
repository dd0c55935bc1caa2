package service

import (
	"context"
	"math/rand/v2"
	"time"

	"taskManager/api/models"
)

// StageResult is the outcome of one unit of work. Done means the work is
// finished and the task should complete.
type StageResult struct {
	Delta int
	Done  bool
}

// Workload performs a task's work one stage at a time. A returned error
// fails the task with the error's text.
type Workload interface {
	RunStage(ctx context.Context, task *models.Task) (StageResult, error)
}

// WorkloadFunc adapts a plain function to Workload.
type WorkloadFunc func(ctx context.Context, task *models.Task) (StageResult, error)

func (f WorkloadFunc) RunStage(ctx context.Context, task *models.Task) (StageResult, error) {
	return f(ctx, task)
}

// SimulatedWorkload stands in for real processing: each stage waits a
// random delay and advances progress by a random step.
type SimulatedWorkload struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	MinStep  int
	MaxStep  int
}

func (w SimulatedWorkload) RunStage(ctx context.Context, task *models.Task) (StageResult, error) {
	timer := time.NewTimer(between(w.MinDelay, w.MaxDelay))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return StageResult{}, ctx.Err()
	case <-timer.C:
	}

	step := w.MinStep
	if w.MaxStep > w.MinStep {
		step += rand.IntN(w.MaxStep - w.MinStep + 1)
	}
	return StageResult{Delta: step, Done: task.Progress+step >= 100}, nil
}

func between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

// StageLabel names the quartile a progress value falls in. Labels appear in
// logs only.
func StageLabel(progress int) string {
	switch {
	case progress >= 100:
		return "finalizing"
	case progress >= 75:
		return "generating results"
	case progress >= 50:
		return "processing data"
	case progress >= 25:
		return "analyzing content"
	default:
		return "reading file"
	}
}
