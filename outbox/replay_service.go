package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/overtonx/catalog-service/outbox/storage"
)

// HeaderReplayOf is set on a replayed record and points at the abandoned original.
const HeaderReplayOf = "replay_of"

// ReplayService re-stages abandoned records. Abandoned is terminal, so a replay
// creates a new Pending record and leaves the original untouched for audit.
type ReplayService struct {
	store   storage.Store
	tx      TxRunner
	logger  *zap.Logger
	metrics MetricsCollector
	now     func() time.Time
}

// NewReplayService создает новый экземпляр ReplayService.
func NewReplayService(store storage.Store, tx TxRunner, logger *zap.Logger, metrics MetricsCollector) *ReplayService {
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplayService{
		store:   store,
		tx:      tx,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Replay copies the abandoned record id into a new Pending record and returns the new id.
func (s *ReplayService) Replay(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var replayID uuid.UUID

	err := s.tx.Do(ctx, func(ctx context.Context) error {
		original, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if original.Status != storage.StatusAbandoned {
			return fmt.Errorf("%w: record %s is %s", ErrRecordNotReplayable, id, original.Status)
		}

		headers := make(map[string]string, len(original.Headers)+1)
		for k, v := range original.Headers {
			headers[k] = v
		}
		headers[HeaderReplayOf] = original.ID.String()

		replay := storage.Record{
			ID:            uuid.New(),
			EventType:     original.EventType,
			OccurredOnUTC: s.now(),
			Payload:       original.Payload,
			RoutingKey:    original.RoutingKey,
			Version:       original.Version,
			Status:        storage.StatusPending,
			CorrelationID: original.CorrelationID,
			Headers:       headers,
		}
		if err := s.store.Create(ctx, &replay); err != nil {
			return fmt.Errorf("failed to stage replay: %w", err)
		}
		replayID = replay.ID
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.logger.Info("Abandoned outbox record replayed",
		zap.String("event_id", id.String()),
		zap.String("replay_id", replayID.String()))
	s.metrics.IncrementCounter(metricReplayed, nil)
	return replayID, nil
}
