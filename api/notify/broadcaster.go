// Package notify fans task updates out to every place that needs them.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"taskManager/api/dto"
)

// Sink receives task updates. Errors are logged by the Broadcaster and never
// reach the writer that produced the update.
type Sink interface {
	Notify(ctx context.Context, update dto.TaskUpdate) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ctx context.Context, update dto.TaskUpdate) error

func (f SinkFunc) Notify(ctx context.Context, update dto.TaskUpdate) error {
	return f(ctx, update)
}

type queuedUpdate struct {
	ctx    context.Context
	update dto.TaskUpdate
}

type namedSink struct {
	name string
	sink Sink
	// queue is nil for sinks called inline.
	queue chan queuedUpdate
}

type Broadcaster struct {
	logger *zap.Logger

	mu     sync.RWMutex
	sinks  []namedSink
	closed bool
	wg     sync.WaitGroup
}

func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{logger: logger}
}

// Add registers a sink that is called inline, in registration order.
func (b *Broadcaster) Add(name string, sink Sink) *Broadcaster {
	if sink == nil {
		return b
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, namedSink{name: name, sink: sink})
	b.mu.Unlock()
	return b
}

// AddQueued registers a sink fed from its own bounded queue by a single
// goroutine, so a slow sink never delays the writer. Updates reach the sink
// in publish order; when the queue is full the update is dropped for that
// sink only.
func (b *Broadcaster) AddQueued(name string, sink Sink, size int) *Broadcaster {
	if sink == nil {
		return b
	}
	if size < 1 {
		size = 1
	}
	ns := namedSink{name: name, sink: sink, queue: make(chan queuedUpdate, size)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return b
	}
	b.sinks = append(b.sinks, ns)
	b.wg.Add(1)
	go b.drain(ns)
	return b
}

func (b *Broadcaster) drain(ns namedSink) {
	defer b.wg.Done()
	for q := range ns.queue {
		if err := ns.sink.Notify(q.ctx, q.update); err != nil {
			b.logFailure(ns.name, q.update, err)
		}
	}
}

// Notify always returns nil; a failing sink does not stop the others.
func (b *Broadcaster) Notify(ctx context.Context, update dto.TaskUpdate) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.sinks {
		if s.queue == nil {
			if err := s.sink.Notify(ctx, update); err != nil {
				b.logFailure(s.name, update, err)
			}
			continue
		}
		if b.closed {
			continue
		}
		select {
		case s.queue <- queuedUpdate{ctx: context.WithoutCancel(ctx), update: update}:
		default:
			b.logger.Warn("Notify queue full, update dropped",
				zap.String("sink", s.name),
				zap.String("task_id", update.TaskID),
				zap.String("status", update.Status),
			)
		}
	}
	return nil
}

func (b *Broadcaster) logFailure(name string, update dto.TaskUpdate, err error) {
	b.logger.Warn("Notify sink failed",
		zap.String("sink", name),
		zap.String("task_id", update.TaskID),
		zap.String("status", update.Status),
		zap.Error(err),
	)
}

// Close stops the queued sinks and waits for their backlog to drain or for
// ctx to end. Inline sinks keep working after Close.
func (b *Broadcaster) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for _, s := range b.sinks {
			if s.queue != nil {
				close(s.queue)
			}
		}
	}
	b.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
