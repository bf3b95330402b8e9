package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskRunner executes best-effort side effects after the primary response is
// already determined. A task failure is logged, never surfaced to the caller.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// BackgroundRunner runs each task on its own goroutine with a bounded
// timeout, detached from the request context so a client disconnect does not
// cancel the side effect.
type BackgroundRunner struct {
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewBackgroundRunner creates a runner with the given per-task timeout.
func NewBackgroundRunner(logger *zap.Logger, timeout time.Duration) *BackgroundRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BackgroundRunner{logger: logger, timeout: timeout}
}

// Go schedules fn on a fresh goroutine.
func (r *BackgroundRunner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("background task panicked",
					zap.String("task", name),
					zap.Any("panic", rec),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			r.logger.Warn("background task failed",
				zap.String("task", name),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until all scheduled tasks have finished. Used during shutdown
// and by tests that need the side effects applied before asserting.
func (r *BackgroundRunner) Wait() {
	r.wg.Wait()
}
