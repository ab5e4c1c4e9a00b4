package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/overtonx/catalog-service/outbox/storage"
)

// StuckEventService returns records left in Processing by a dispatcher that died
// mid-cycle. It must only run with a timeout well above the longest possible cycle,
// otherwise it races a live dispatcher.
type StuckEventService struct {
	store        storage.Store
	tx           TxRunner
	logger       *zap.Logger
	metrics      MetricsCollector
	batchSize    int
	stuckTimeout time.Duration
	now          func() time.Time
}

// NewStuckEventService создает новый экземпляр StuckEventService.
func NewStuckEventService(
	store storage.Store,
	tx TxRunner,
	logger *zap.Logger,
	metrics MetricsCollector,
	opts ...StuckEventServiceOption,
) *StuckEventService {
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	options := &stuckEventServiceOptions{
		batchSize:    defaultBatchSize,
		stuckTimeout: defaultStuckEventTimeout,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &StuckEventService{
		store:        store,
		tx:           tx,
		logger:       logger,
		metrics:      metrics,
		batchSize:    options.batchSize,
		stuckTimeout: options.stuckTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile - это workFunc для воркера.
func (s *StuckEventService) Reconcile(ctx context.Context) error {
	_, err := s.RecoverStuckEvents(ctx)
	return err
}

// RecoverStuckEvents moves records claimed longer than the stuck timeout ago back to Failed.
// Attempts are left unchanged: the interrupted cycle never reported an outcome.
func (s *StuckEventService) RecoverStuckEvents(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("outbox.reconcile.duration", time.Since(start), nil)
	}()

	threshold := s.now().Add(-s.stuckTimeout)
	recovered := 0

	err := s.tx.Do(ctx, func(ctx context.Context) error {
		records, err := s.store.FetchStuck(ctx, threshold, s.batchSize)
		if err != nil {
			return fmt.Errorf("failed to fetch stuck records: %w", err)
		}

		reason := ReasonRecovered
		for _, rec := range records {
			if !rec.Status.CanTransitionTo(storage.StatusFailed) {
				continue
			}
			rec.Status = storage.StatusFailed
			rec.LastError = &reason
			rec.ClaimedAt = nil
			if err := s.store.Update(ctx, rec); err != nil {
				return err
			}
			recovered++
			s.logger.Warn("Recovered outbox record stuck in Processing", recordFields(&rec)...)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if recovered > 0 {
		s.logger.Info("Stuck event recovery completed",
			zap.Int("recovered_count", recovered),
			zap.Duration("stuck_threshold", s.stuckTimeout),
		)
		s.metrics.IncrementCounter(metricRecovered, nil)
		s.metrics.RecordGauge("outbox.reconcile.batch_size", float64(recovered), nil)
	}
	return recovered, nil
}
