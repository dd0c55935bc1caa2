package service

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

var ErrAlreadyRunning = errors.New("task is already being processed")

const (
	interruptedMessage = "processing interrupted by shutdown"
	interruptTimeout   = 5 * time.Second
)

// Processor drives one task at a time per task id from pending to a
// terminal status.
type Processor struct {
	repo      repository.Repository
	lifecycle *Lifecycle
	workload  Workload
	logger    *zap.Logger

	mu      sync.Mutex
	running map[string]struct{}
	// rerun marks tasks whose Run arrived while an earlier run was active.
	rerun map[string]struct{}
}

func NewProcessor(repo repository.Repository, lifecycle *Lifecycle, workload Workload, logger *zap.Logger) *Processor {
	return &Processor{
		repo:      repo,
		lifecycle: lifecycle,
		workload:  workload,
		logger:    logger,
		running:   make(map[string]struct{}),
		rerun:     make(map[string]struct{}),
	}
}

// Running reports whether a run for taskID is active in this process.
func (p *Processor) Running(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.running[taskID]
	return ok
}

// acquire claims taskID. When a run is already active it records a rerun
// request instead, so the active run takes the task again once it finishes.
func (p *Processor) acquire(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.running[taskID]; ok {
		p.rerun[taskID] = struct{}{}
		return false
	}
	p.running[taskID] = struct{}{}
	return true
}

func (p *Processor) release(taskID string) {
	p.mu.Lock()
	delete(p.running, taskID)
	delete(p.rerun, taskID)
	p.mu.Unlock()
}

// releaseOrRerun drops the claim on taskID unless a rerun was requested
// while the run was active and ctx is still live.
func (p *Processor) releaseOrRerun(ctx context.Context, taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, requested := p.rerun[taskID]
	delete(p.rerun, taskID)
	if requested && ctx.Err() == nil {
		return true
	}
	delete(p.running, taskID)
	return false
}

// Run processes taskID until it completes, fails, or is failed by someone
// else. A second Run for the same task while one is active returns
// ErrAlreadyRunning without touching the task; the active run then picks the
// task up again if it has been reset to pending in the meantime.
func (p *Processor) Run(ctx context.Context, taskID string) error {
	if !p.acquire(taskID) {
		return ErrAlreadyRunning
	}
	defer func() {
		if r := recover(); r != nil {
			p.release(taskID)
			panic(r)
		}
	}()

	err := p.run(ctx, taskID)
	for p.releaseOrRerun(ctx, taskID) {
		if err != nil {
			p.logger.Warn("Run ended with error before rerun", zap.String("task_id", taskID), zap.Error(err))
		}
		p.logger.Info("Rerunning task requested during active run", zap.String("task_id", taskID))
		// Not pending any more means nothing is waiting for this rerun.
		if err = p.run(ctx, taskID); errors.Is(err, ErrAlreadyRunning) {
			err = nil
		}
	}
	return err
}

func (p *Processor) run(ctx context.Context, taskID string) error {
	log := p.logger.With(zap.String("task_id", taskID))

	if _, err := p.lifecycle.Start(ctx, taskID); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
		}
		return fmt.Errorf("start task: %w", err)
	}
	log.Info("Processing started")

	for {
		if ctx.Err() != nil {
			p.interrupt(ctx, taskID)
			return ctx.Err()
		}

		// The monitor may have failed the task since the last step.
		current, err := p.repo.GetTask(ctx, taskID)
		if err != nil {
			if errors.Is(err, repository.ErrTaskNotFound) {
				log.Warn("Task disappeared while processing")
				return err
			}
			if ctx.Err() != nil {
				p.interrupt(ctx, taskID)
				return ctx.Err()
			}
			p.fault(ctx, taskID, fmt.Errorf("read task state: %w", err))
			return err
		}
		if current.Status != models.StatusProcessing {
			log.Info("Task no longer processing, aborting run", zap.String("status", string(current.Status)))
			return nil
		}

		result, err := p.runStage(ctx, current)
		if err != nil {
			if ctx.Err() != nil {
				p.interrupt(ctx, taskID)
				return ctx.Err()
			}
			p.fault(ctx, taskID, err)
			return fmt.Errorf("processing fault: %w", err)
		}

		next := current.Progress + max(result.Delta, 0)
		if result.Done || next >= 100 {
			if _, err := p.lifecycle.Complete(ctx, taskID); err != nil {
				return p.skipped(log, err)
			}
			log.Info("Processing completed")
			return nil
		}

		if _, err := p.lifecycle.Advance(ctx, taskID, next, StageLabel(next)); err != nil {
			return p.skipped(log, err)
		}
		log.Debug("Stage done", zap.Int("progress", next), zap.String("stage", StageLabel(next)))
	}
}

// runStage converts a panicking workload into an error.
func (p *Processor) runStage(ctx context.Context, task *models.Task) (result StageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	return p.workload.RunStage(ctx, task)
}

func (p *Processor) fault(ctx context.Context, taskID string, cause error) {
	p.logger.Error("Processing fault", zap.String("task_id", taskID), zap.Error(cause))
	if _, err := p.lifecycle.Fail(ctx, taskID, cause.Error(), "", nil); err != nil && !errors.Is(err, repository.ErrStateConflict) {
		p.logger.Error("Failed to mark task failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

// interrupt fails the task on shutdown so it does not stay processing until
// the next sweep after restart.
func (p *Processor) interrupt(ctx context.Context, taskID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), interruptTimeout)
	defer cancel()

	p.logger.Warn("Run interrupted", zap.String("task_id", taskID))
	if _, err := p.lifecycle.Fail(ctx, taskID, interruptedMessage, "", nil); err != nil && !errors.Is(err, repository.ErrStateConflict) {
		p.logger.Error("Failed to mark interrupted task", zap.String("task_id", taskID), zap.Error(err))
	}
}

// skipped handles a transition rejected because another writer changed the
// task first; the run stops without error.
func (p *Processor) skipped(log *zap.Logger, err error) error {
	if errors.Is(err, repository.ErrStateConflict) {
		log.Info("Task changed concurrently, aborting run", zap.Error(err))
		return nil
	}
	return err
}
