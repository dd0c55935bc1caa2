// Package monitor fails tasks that stay in processing for too long.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"taskManager/api/models"
	"taskManager/worker/repository"
)

// OverdueLister finds processing tasks started before a deadline.
type OverdueLister interface {
	ListOverdueProcessing(ctx context.Context, deadline time.Time) ([]*models.Task, error)
}

// Failer performs the processing -> failed transition.
type Failer interface {
	Fail(ctx context.Context, taskID, reason, logMessage string, details map[string]any) (*models.Task, error)
}

type Monitor struct {
	tasks    OverdueLister
	failer   Failer
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Monitor)

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func New(tasks OverdueLister, failer Failer, interval, timeout time.Duration, logger *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		tasks:    tasks,
		failer:   failer,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs a sweep right away and then every interval until Stop is
// called or ctx is done. Calling Start twice is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)

	m.logger.Info("Timeout monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("timeout", m.timeout),
	)
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("Timeout monitor stopped")
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if n, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("Timeout sweep failed", zap.Error(err))
		} else if n > 0 {
			m.logger.Info("Timeout sweep failed overdue tasks", zap.Int("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep fails every overdue processing task and returns how many it failed.
// A problem with one task is logged and does not stop the others.
func (m *Monitor) Sweep(ctx context.Context) (failed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panicked: %v", r)
		}
	}()

	now := m.now()
	overdue, err := m.tasks.ListOverdueProcessing(ctx, now.Add(-m.timeout))
	if err != nil {
		return 0, fmt.Errorf("list overdue tasks: %w", err)
	}

	for _, task := range overdue {
		if ctx.Err() != nil {
			return failed, ctx.Err()
		}
		ok, err := m.expire(ctx, task, now)
		if err != nil {
			m.logger.Error("Failed to time out task", zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		if ok {
			failed++
		}
	}
	return failed, nil
}

func (m *Monitor) expire(ctx context.Context, task *models.Task, now time.Time) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	elapsed := now.Sub(*task.StartedAt)
	reason := TimeoutMessage(m.timeout)
	shown := elapsed
	if shown >= time.Minute {
		shown = shown.Truncate(time.Minute)
	}
	logMessage := "Task automatically failed due to timeout after " + humanize(shown)
	details := map[string]any{
		"elapsed_seconds": int(elapsed.Seconds()),
		"timeout_seconds": int(m.timeout.Seconds()),
	}

	if _, err := m.failer.Fail(ctx, task.ID, reason, logMessage, details); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			// Finished between the query and the write.
			return false, nil
		}
		return false, err
	}

	m.logger.Warn("Task timed out",
		zap.String("task_id", task.ID),
		zap.Duration("elapsed", elapsed),
		zap.Duration("timeout", m.timeout),
	)
	return true, nil
}

// TimeoutMessage is the error message stored on a task failed by the monitor.
func TimeoutMessage(limit time.Duration) string {
	return "Task timed out: exceeded maximum processing time of " + humanize(limit)
}

// humanize prints whole minutes and falls back to the exact duration for
// anything else.
func humanize(d time.Duration) string {
	if d < time.Minute || d%time.Minute != 0 {
		return d.Round(time.Second).String()
	}
	if minutes := int(d / time.Minute); minutes != 1 {
		return fmt.Sprintf("%d minutes", minutes)
	}
	return "1 minute"
}
