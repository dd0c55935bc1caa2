package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"taskManager/api/dto"
	"taskManager/api/locks"
	"taskManager/api/models"
	"taskManager/worker/repository"
)

// Notifier receives every persisted task update.
type Notifier interface {
	Notify(ctx context.Context, update dto.TaskUpdate) error
}

// ResultLocator maps a finished task to the location of its result.
type ResultLocator func(taskID string) string

func DefaultResultLocator(taskID string) string {
	return "/results/" + taskID
}

// Lifecycle performs every status transition of a task. Each transition is
// a guarded write against the store followed by a log entry and a
// notification, all under a per-task lock so updates of one task are
// persisted and published in the same order.
type Lifecycle struct {
	repo     repository.Repository
	notifier Notifier
	results  ResultLocator
	now      func() time.Time
	locks    *locks.Keyed
	logger   *zap.Logger
}

type Option func(*Lifecycle)

func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

func WithResultLocator(results ResultLocator) Option {
	return func(l *Lifecycle) { l.results = results }
}

func NewLifecycle(repo repository.Repository, notifier Notifier, logger *zap.Logger, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		repo:     repo,
		notifier: notifier,
		results:  DefaultResultLocator,
		now:      time.Now,
		locks:    locks.NewKeyed(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type logRecord struct {
	level   models.LogLevel
	message string
	details map[string]any
}

// Start moves a pending task into processing. Progress continues from the
// stored value and started_at is only set the first time.
func (l *Lifecycle) Start(ctx context.Context, taskID string) (*models.Task, error) {
	now := l.now()
	status := models.StatusProcessing
	return l.transition(ctx, taskID, func(*models.Task) (models.TaskPatch, logRecord, error) {
		return models.TaskPatch{
				IfStatus:         []models.TaskStatus{models.StatusPending},
				Status:           &status,
				StartedAtIfUnset: &now,
				UpdatedAt:        now,
			}, logRecord{
				level:   models.LogInfo,
				message: "Task processing started",
			}, nil
	})
}

// Advance records new progress for a processing task. Values below the
// stored progress are raised to it and values above 100 are clamped.
func (l *Lifecycle) Advance(ctx context.Context, taskID string, progress int, stage string) (*models.Task, error) {
	now := l.now()
	return l.transition(ctx, taskID, func(current *models.Task) (models.TaskPatch, logRecord, error) {
		if current.Status != models.StatusProcessing {
			return models.TaskPatch{}, logRecord{}, conflict(current)
		}
		next := min(max(progress, current.Progress), 100)
		details := map[string]any{"progress": next}
		if stage != "" {
			details["stage"] = stage
		}
		return models.TaskPatch{
				IfStatus:  []models.TaskStatus{models.StatusProcessing},
				Progress:  &next,
				UpdatedAt: now,
			}, logRecord{
				level:   models.LogInfo,
				message: "Progress updated",
				details: details,
			}, nil
	})
}

func (l *Lifecycle) Complete(ctx context.Context, taskID string) (*models.Task, error) {
	now := l.now()
	status := models.StatusCompleted
	progress := 100
	result := l.results(taskID)
	return l.transition(ctx, taskID, func(*models.Task) (models.TaskPatch, logRecord, error) {
		return models.TaskPatch{
				IfStatus:    []models.TaskStatus{models.StatusProcessing},
				Status:      &status,
				Progress:    &progress,
				ResultURL:   &result,
				ClearError:  true,
				CompletedAt: &now,
				UpdatedAt:   now,
			}, logRecord{
				level:   models.LogInfo,
				message: "Task processing completed successfully",
				details: map[string]any{"result_url": result},
			}, nil
	})
}

// Fail marks a processing task as failed with reason as its error message.
// logMessage and details describe the failure in the task log; an empty
// logMessage defaults to "Task processing failed: <reason>".
func (l *Lifecycle) Fail(ctx context.Context, taskID, reason, logMessage string, details map[string]any) (*models.Task, error) {
	now := l.now()
	status := models.StatusFailed
	if logMessage == "" {
		logMessage = "Task processing failed: " + reason
	}
	return l.transition(ctx, taskID, func(*models.Task) (models.TaskPatch, logRecord, error) {
		return models.TaskPatch{
				IfStatus:     []models.TaskStatus{models.StatusProcessing},
				Status:       &status,
				ErrorMessage: &reason,
				ClearResult:  true,
				CompletedAt:  &now,
				UpdatedAt:    now,
			}, logRecord{
				level:   models.LogError,
				message: logMessage,
				details: details,
			}, nil
	})
}

// Reset returns a finished task to pending so it can be processed again.
// Tasks that are pending or processing are rejected with ErrStateConflict
// and left untouched.
func (l *Lifecycle) Reset(ctx context.Context, taskID string) (*models.Task, error) {
	now := l.now()
	status := models.StatusPending
	zero := 0
	return l.transition(ctx, taskID, func(current *models.Task) (models.TaskPatch, logRecord, error) {
		if !current.Status.CanRetry() {
			return models.TaskPatch{}, logRecord{}, conflict(current)
		}
		return models.TaskPatch{
				IfStatus:         []models.TaskStatus{models.StatusCompleted, models.StatusFailed},
				Status:           &status,
				Progress:         &zero,
				ClearResult:      true,
				ClearError:       true,
				ClearStartedAt:   true,
				ClearCompletedAt: true,
				UpdatedAt:        now,
			}, logRecord{
				level:   models.LogInfo,
				message: "Task reset for retry",
				details: map[string]any{"previous_status": string(current.Status)},
			}, nil
	})
}

type planFunc func(current *models.Task) (models.TaskPatch, logRecord, error)

func (l *Lifecycle) transition(ctx context.Context, taskID string, plan planFunc) (*models.Task, error) {
	unlock := l.locks.Lock(taskID)
	defer unlock()

	current, err := l.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	patch, record, err := plan(current)
	if err != nil {
		l.logSkipped(taskID, err)
		return nil, err
	}

	updated, err := l.repo.UpdateTask(ctx, taskID, patch)
	if err != nil {
		l.logSkipped(taskID, err)
		return nil, err
	}

	// The state change is already persisted; neither the log entry nor the
	// notification can undo it.
	entry := &models.LogEntry{
		TaskID:    taskID,
		Level:     record.level,
		Message:   record.message,
		Details:   record.details,
		CreatedAt: l.now(),
	}
	if err := l.repo.AppendLog(ctx, entry); err != nil {
		l.logger.Error("Failed to append task log",
			zap.String("task_id", taskID),
			zap.String("message", record.message),
			zap.Error(err),
		)
	}

	if err := l.notifier.Notify(ctx, dto.NewTaskUpdate(updated)); err != nil {
		l.logger.Warn("Failed to notify task update",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}

	l.logger.Info("Task updated",
		zap.String("task_id", taskID),
		zap.String("status", string(updated.Status)),
		zap.Int("progress", updated.Progress),
	)
	return updated, nil
}

func (l *Lifecycle) logSkipped(taskID string, err error) {
	if errors.Is(err, repository.ErrStateConflict) {
		l.logger.Info("Transition skipped", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	l.logger.Warn("Transition failed", zap.String("task_id", taskID), zap.Error(err))
}

func conflict(t *models.Task) error {
	return &StateConflictError{TaskID: t.ID, Status: t.Status}
}

// StateConflictError reports a transition that is invalid from the task's
// current status. It matches repository.ErrStateConflict with errors.Is.
type StateConflictError struct {
	TaskID string
	Status models.TaskStatus
}

func (e *StateConflictError) Error() string {
	return repository.ErrStateConflict.Error() + ": task " + e.TaskID + " is " + string(e.Status)
}

func (e *StateConflictError) Is(target error) bool {
	return target == repository.ErrStateConflict
}
