package responder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const defaultTaskTimeout = 2 * time.Minute

// Dispatcher runs background tasks detached from the request that scheduled
// them. At most limit tasks run at once; the rest wait their turn.
type Dispatcher struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. taskTimeout bounds each task; zero uses two minutes.
func NewDispatcher(limit int, taskTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if limit <= 0 {
		limit = 1
	}
	if taskTimeout <= 0 {
		taskTimeout = defaultTaskTimeout
	}
	return &Dispatcher{
		sem:     semaphore.NewWeighted(int64(limit)),
		timeout: taskTimeout,
		logger:  logger,
	}
}

// Go schedules task. The task's context keeps ctx's values but not its
// cancellation. Returns false once Wait has been called.
func (d *Dispatcher) Go(ctx context.Context, name string, task func(context.Context)) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher closed, dropping task", "task", name)
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()

		if err := d.sem.Acquire(detached, 1); err != nil {
			return
		}
		defer d.sem.Release(1)

		tctx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("background task panicked", "task", name, "panic", r)
			}
		}()

		task(tctx)
	}()
	return true
}

// Wait stops accepting tasks and blocks until running ones finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
