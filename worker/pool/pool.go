package pool

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// Handler processes one task.
type Handler func(ctx context.Context, taskID string) error

// WorkerPool runs at most maxWorkers handlers at once. Submissions beyond
// that wait for a free slot.
type WorkerPool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

func NewWorkerPool(maxWorkers int, logger *zap.Logger) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		sem:    make(chan struct{}, maxWorkers),
		logger: logger,
	}
}

func (p *WorkerPool) Submit(ctx context.Context, taskID string, handler Handler) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()

		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
			// select picks at random when the slot and cancellation are both ready.
			if ctx.Err() != nil {
				p.logger.Warn("Task not started before shutdown", zap.String("task_id", taskID))
				return
			}
			p.run(ctx, taskID, handler)
		case <-ctx.Done():
			p.logger.Warn("Task not started before shutdown", zap.String("task_id", taskID))
		}
	}()
	return nil
}

func (p *WorkerPool) run(ctx context.Context, taskID string, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task handler panicked",
				zap.String("task_id", taskID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	if err := handler(ctx, taskID); err != nil {
		p.logger.Warn("Task handler returned error", zap.String("task_id", taskID), zap.Error(err))
	}
}

// Close stops accepting new submissions.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
