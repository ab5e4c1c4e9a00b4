package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/overtonx/catalog-service/outbox/storage"
)

// Writer stages outbox records inside the caller's transaction.
type Writer struct {
	store   storage.Store
	logger  *zap.Logger
	metrics MetricsCollector
}

// NewWriter creates a Writer over store.
func NewWriter(store storage.Store, logger *zap.Logger, metrics MetricsCollector) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}
	return &Writer{store: store, logger: logger, metrics: metrics}
}

// Add serializes event and appends a Pending record to the transaction carried by ctx.
// It never commits: the record becomes visible together with the caller's business write,
// and disappears with it on rollback.
func (w *Writer) Add(ctx context.Context, event IntegrationEvent, routingKey, correlationID string) error {
	if err := validateEvent(event, routingKey, correlationID); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSerialization, event.EventType(), err)
	}

	// Inject OpenTelemetry trace context so the publish side can continue the trace.
	headers := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, headers)

	record := storage.Record{
		ID:            event.EventID(),
		EventType:     event.EventType(),
		OccurredOnUTC: event.OccurredOnUTC().UTC(),
		Payload:       payload,
		RoutingKey:    routingKey,
		Version:       event.EventVersion(),
		Attempts:      0,
		Status:        storage.StatusPending,
		Headers:       headers,
	}
	if correlationID != "" {
		record.CorrelationID = &correlationID
	}

	if err := w.store.Create(ctx, &record); err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}

	w.metrics.IncrementCounter("outbox.writer.staged", map[string]string{"event_type": record.EventType})
	w.logger.Debug("Outbox record staged",
		zap.String("event_id", record.ID.String()),
		zap.String("event_type", record.EventType),
		zap.String("routing_key", routingKey))
	return nil
}

func validateEvent(event IntegrationEvent, routingKey, correlationID string) error {
	if event == nil {
		return fmt.Errorf("%w: event is nil", ErrInvalidEvent)
	}
	if event.EventID() == uuid.Nil {
		return fmt.Errorf("%w: event_id is required", ErrInvalidEvent)
	}
	if t := event.EventType(); t == "" || len(t) > storage.MaxEventTypeLength {
		return fmt.Errorf("%w: event_type must be 1..%d characters", ErrInvalidEvent, storage.MaxEventTypeLength)
	}
	if routingKey == "" || len(routingKey) > storage.MaxRoutingKeyLength {
		return fmt.Errorf("%w: routing_key must be 1..%d characters", ErrInvalidEvent, storage.MaxRoutingKeyLength)
	}
	if len(correlationID) > storage.MaxCorrelationIDLength {
		return fmt.Errorf("%w: correlation_id exceeds %d characters", ErrInvalidEvent, storage.MaxCorrelationIDLength)
	}
	return nil
}
