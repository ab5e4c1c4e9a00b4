package outbox

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BaseWorker calls run once on start and then again each time interval has passed
// since the previous call returned, so calls never overlap.
type BaseWorker struct {
	name     string
	interval time.Duration
	logger   *zap.Logger
	run      func(ctx context.Context) error

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopped  bool
	inFlight sync.WaitGroup
}

// NewBaseWorker creates a worker named name around run.
func NewBaseWorker(name string, interval time.Duration, logger *zap.Logger, run func(ctx context.Context) error) *BaseWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseWorker{
		name:     name,
		interval: interval,
		logger:   logger.With(zap.String("worker", name)),
		run:      run,
	}
}

// Start blocks until ctx is done or Stop is called. A stopped worker cannot be restarted.
func (w *BaseWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.stopped || w.cancel != nil {
		w.mu.Unlock()
		w.logger.Warn("Worker already started or stopped")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()
	defer cancel()

	w.logger.Info("Worker loop started", zap.Duration("interval", w.interval))
	defer w.logger.Info("Worker loop exited")

	next := time.NewTimer(0)
	defer next.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-next.C:
			if !w.tick(ctx) {
				return
			}
			next.Reset(w.interval)
		}
	}
}

// tick runs one iteration unless the worker is stopping. Errors and panics are logged
// and never end the loop.
func (w *BaseWorker) tick(ctx context.Context) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	w.inFlight.Add(1)
	w.mu.Unlock()
	defer w.inFlight.Done()

	if ctx.Err() != nil {
		return false
	}
	if err := w.safeRun(ctx); err != nil {
		w.logger.Error("Worker iteration failed", zap.Error(err))
	}
	return true
}

func (w *BaseWorker) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected cycle error: panic: %v", r)
			w.logger.Error("Worker iteration panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	return w.run(ctx)
}

// Stop cancels the running iteration, waits for it to return and ends the loop.
// It is safe to call Stop more than once, and before Start.
func (w *BaseWorker) Stop() {
	w.mu.Lock()
	w.stopped = true
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.inFlight.Wait()
}

func (w *BaseWorker) Name() string {
	return w.name
}
