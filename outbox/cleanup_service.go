package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/overtonx/catalog-service/outbox/storage"
)

// CleanupService удаляет доставленные записи старше срока хранения.
// Abandoned records are never purged: they wait for an operator.
type CleanupService struct {
	store     storage.Store
	logger    *zap.Logger
	metrics   MetricsCollector
	batchSize int
	retention time.Duration
	now       func() time.Time
}

// NewCleanupService создает новый экземпляр CleanupService.
func NewCleanupService(
	store storage.Store,
	logger *zap.Logger,
	metrics MetricsCollector,
	opts ...CleanupServiceOption,
) *CleanupService {
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	options := &cleanupServiceOptions{
		batchSize:          defaultCleanupBatchSize,
		succeededRetention: defaultSucceededRetention,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.batchSize <= 0 {
		options.batchSize = defaultCleanupBatchSize
	}

	return &CleanupService{
		store:     store,
		logger:    logger,
		metrics:   metrics,
		batchSize: options.batchSize,
		retention: options.succeededRetention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Cleanup - это workFunc для воркера, который выполняет очистку.
func (s *CleanupService) Cleanup(ctx context.Context) error {
	_, err := s.PurgeSucceeded(ctx)
	return err
}

// PurgeSucceeded deletes Succeeded records processed before now minus the retention,
// in batches, and returns how many were deleted.
func (s *CleanupService) PurgeSucceeded(ctx context.Context) (int64, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("outbox.cleanup.duration", time.Since(start), nil)
	}()

	cutoff := s.now().Add(-s.retention)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		deleted, err := s.store.DeleteSucceeded(ctx, cutoff, s.batchSize)
		if err != nil {
			s.metrics.IncrementCounter("outbox.cleanup.failed", nil)
			return total, fmt.Errorf("failed to purge succeeded records: %w", err)
		}
		total += deleted
		if deleted < int64(s.batchSize) {
			break
		}
	}

	if total > 0 {
		s.logger.Info("Purged succeeded outbox records",
			zap.Int64("count", total), zap.Time("cutoff", cutoff))
		s.metrics.RecordGauge(metricPurged, float64(total), nil)
	}
	return total, nil
}
