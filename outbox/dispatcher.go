package outbox

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Dispatcher owns the lifecycle of the outbox workers. The hosting process starts it
// with its own context and stops it by cancelling that context or calling Stop.
type Dispatcher struct {
	logger  *zap.Logger
	workers []Worker

	mu      sync.Mutex
	closers []func() error
	cancel  context.CancelFunc
}

// NewDispatcher creates a new dispatcher to manage the given workers.
func NewDispatcher(logger *zap.Logger, workers ...Worker) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:  logger,
		workers: workers,
	}
}

// OnShutdown registers fn to run after every worker has returned, in registration order.
// Publishers are closed here so that no cycle publishes on a closed connection.
func (d *Dispatcher) OnShutdown(fn func() error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closers = append(d.closers, fn)
}

// Start runs every worker and blocks until ctx is done or Stop is called. It returns
// after all workers have stopped and the shutdown hooks have run.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		d.logger.Warn("Dispatcher already started")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	d.logger.Info("Dispatcher started", zap.Int("worker_count", len(d.workers)))

	var running sync.WaitGroup
	for _, w := range d.workers {
		running.Go(func() {
			w.Start(runCtx)
			d.logger.Info("Worker returned", zap.String("worker_name", w.Name()))
		})
	}

	<-runCtx.Done()
	if ctx.Err() != nil {
		d.logger.Info("Context cancelled, stopping workers")
	} else {
		d.logger.Info("Stop requested, stopping workers")
	}

	d.stopWorkers()
	running.Wait()
	d.runClosers()

	d.mu.Lock()
	d.cancel = nil
	d.mu.Unlock()
	d.logger.Info("Dispatcher stopped")
}

// Stop asks a running dispatcher to shut down. It does not wait; Start returns
// once shutdown is complete. Calling Stop on an idle dispatcher does nothing.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()

	if cancel == nil {
		d.logger.Debug("Dispatcher is not running")
		return
	}
	cancel()
}

// IsStarted reports whether Start is running.
func (d *Dispatcher) IsStarted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

// stopWorkers stops all workers at once; each Stop waits for its in-flight cycle.
func (d *Dispatcher) stopWorkers() {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Go(w.Stop)
	}
	wg.Wait()
}

func (d *Dispatcher) runClosers() {
	d.mu.Lock()
	closers := append([]func() error(nil), d.closers...)
	d.mu.Unlock()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			d.logger.Error("Shutdown hook failed", zap.Error(err))
		}
	}
}
