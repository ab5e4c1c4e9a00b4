package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/overtonx/catalog-service/outbox/storage"
)

var claimableStatuses = []storage.Status{storage.StatusPending, storage.StatusFailed}

// CycleResult summarises one dispatch cycle.
type CycleResult struct {
	Claimed     int
	Succeeded   int
	Failed      int
	Abandoned   int
	Interrupted int
	// Unprocessed records stayed in Processing because the cycle was cancelled.
	Unprocessed int
}

// EventProcessor claims outbox records, publishes them and records the outcome.
// One processor must not run concurrent cycles; BaseWorker guarantees that.
type EventProcessor struct {
	store     storage.Store
	tx        TxRunner
	registry  *EventRegistry
	publisher Publisher
	logger    *zap.Logger
	metrics   MetricsCollector

	batchSize       int
	maxAttempts     int
	maxPayloadBytes int
	retryWaits      []time.Duration
	persistTimeout  time.Duration
	now             func() time.Time
}

// NewEventProcessor создает новый экземпляр EventProcessor.
func NewEventProcessor(
	store storage.Store,
	tx TxRunner,
	registry *EventRegistry,
	publisher Publisher,
	logger *zap.Logger,
	metrics MetricsCollector,
	opts ...EventProcessorOption,
) *EventProcessor {
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = NewNopPublisher()
	}
	if registry == nil {
		logger.Warn("Event processor created without a registry, every record will be abandoned")
		registry = NewEventRegistry()
	}
	options := defaultEventProcessorOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.batchSize <= 0 {
		options.batchSize = defaultBatchSize
	}
	if options.maxAttempts <= 0 {
		options.maxAttempts = defaultMaxAttempts
	}

	return &EventProcessor{
		store:           store,
		tx:              tx,
		registry:        registry,
		publisher:       publisher,
		logger:          logger,
		metrics:         metrics,
		batchSize:       options.batchSize,
		maxAttempts:     options.maxAttempts,
		maxPayloadBytes: options.maxPayloadBytes,
		retryWaits:      options.retryWaits,
		persistTimeout:  options.persistTimeout,
		now:             options.clock,
	}
}

// ProcessEvents - это основная функция, которую выполняет воркер.
func (p *EventProcessor) ProcessEvents(ctx context.Context) error {
	_, err := p.DispatchOnce(ctx)
	return err
}

// DispatchOnce runs one cycle: claim a batch, process every record in claimed order,
// then persist all outcomes in one transaction.
func (p *EventProcessor) DispatchOnce(ctx context.Context) (CycleResult, error) {
	var result CycleResult
	start := time.Now()

	batch, err := p.claimBatch(ctx)
	if err != nil {
		p.metrics.IncrementCounter(metricCycleErrors, map[string]string{"stage": "claim"})
		return result, fmt.Errorf("failed to claim outbox batch: %w", err)
	}
	if len(batch) == 0 {
		return result, nil
	}

	result.Claimed = len(batch)
	p.logger.Info("Claimed outbox records for processing", zap.Int("count", len(batch)))
	p.metrics.IncrementCounter(metricClaimed, nil)
	p.metrics.RecordGauge(metricBatchSize, float64(len(batch)), nil)

	finalized := make([]storage.Record, 0, len(batch))
	for i := range batch {
		if ctx.Err() != nil {
			result.Unprocessed = len(batch) - i
			p.logger.Warn("Dispatch cycle cancelled, remaining records stay in Processing",
				zap.Int("unprocessed", result.Unprocessed), zap.Error(ctx.Err()))
			break
		}

		rec := &batch[i]
		p.processRecord(ctx, rec)
		finalized = append(finalized, *rec)

		switch {
		case rec.Status == storage.StatusSucceeded:
			result.Succeeded++
		case rec.Status == storage.StatusAbandoned:
			result.Abandoned++
		case rec.LastError != nil && *rec.LastError == ReasonInterrupted:
			result.Interrupted++
		default:
			result.Failed++
		}
	}

	if err := p.persistBatch(ctx, finalized); err != nil {
		p.metrics.IncrementCounter(metricCycleErrors, map[string]string{"stage": "persist"})
		return result, fmt.Errorf("failed to persist outbox batch: %w", err)
	}

	p.logger.Info("Batch processing completed",
		zap.Int("claimed", result.Claimed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("abandoned", result.Abandoned),
		zap.Int("interrupted", result.Interrupted),
		zap.Duration("duration", time.Since(start)))
	p.metrics.RecordDuration(metricCycleDuration, time.Since(start), nil)

	return result, nil
}

// claimBatch marks the oldest claimable records as Processing and commits before any publish.
func (p *EventProcessor) claimBatch(ctx context.Context) ([]storage.Record, error) {
	var claimed []storage.Record

	err := p.tx.Do(ctx, func(ctx context.Context) error {
		records, err := p.store.FetchByStatus(ctx, claimableStatuses, p.batchSize)
		if err != nil {
			return err
		}

		claimedAt := p.now()
		ids := make([]uuid.UUID, 0, len(records))
		batch := make([]storage.Record, 0, len(records))
		for _, rec := range records {
			if !rec.Status.CanTransitionTo(storage.StatusProcessing) {
				p.logger.Warn("Skipping record that is not claimable",
					zap.String("event_id", rec.ID.String()), zap.String("status", rec.Status.String()))
				continue
			}
			rec.Status = storage.StatusProcessing
			rec.ClaimedAt = &claimedAt
			ids = append(ids, rec.ID)
			batch = append(batch, rec)
		}
		if len(ids) == 0 {
			return nil
		}

		if err := p.store.MarkAsProcessing(ctx, ids, claimedAt); err != nil {
			return err
		}
		claimed = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (p *EventProcessor) processRecord(ctx context.Context, rec *storage.Record) {
	fields := recordFields(rec)
	p.logger.Debug("Processing outbox record", fields...)

	if p.maxPayloadBytes > 0 && len(rec.Payload) > p.maxPayloadBytes {
		p.abandon(rec, ReasonPayloadTooLarge, nil,
			zap.Int("payload_bytes", len(rec.Payload)), zap.Int("max_payload_bytes", p.maxPayloadBytes))
		return
	}

	event, err := p.registry.Decode(rec.EventType, rec.Payload)
	if err != nil {
		p.abandon(rec, Category(err), err)
		return
	}

	msg := Message{
		RecordID:   rec.ID,
		Event:      event,
		RoutingKey: rec.RoutingKey,
		Headers:    rec.Headers,
	}
	if rec.CorrelationID != nil {
		msg.CorrelationID = *rec.CorrelationID
	}

	publishCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(rec.Headers))
	policy := NewRetryPolicy(p.retryWaits, WithOnRetry(func(attempt int, wait time.Duration, err error) {
		p.metrics.IncrementCounter(metricRetries, map[string]string{"event_type": rec.EventType})
		p.logger.Warn("Publish failed, retrying",
			append(fields, zap.Int("retry", attempt), zap.Duration("wait", wait), zap.Error(err))...)
	}))

	start := time.Now()
	err = policy.Execute(publishCtx, func(ctx context.Context) error {
		return p.publisher.Publish(ctx, msg)
	})
	p.metrics.RecordDuration(metricPublishLatency, time.Since(start), map[string]string{"event_type": rec.EventType})

	switch {
	case err == nil:
		p.succeed(rec)
	case ctx.Err() != nil:
		p.interrupt(rec, err)
	default:
		p.fail(rec, err)
	}
}

func (p *EventProcessor) succeed(rec *storage.Record) {
	if !p.transition(rec, storage.StatusSucceeded) {
		return
	}
	processedOn := p.now()
	rec.ProcessedOnUTC = &processedOn
	rec.LastError = nil

	p.metrics.IncrementCounter(metricSucceeded, map[string]string{"event_type": rec.EventType})
	p.logger.Info("Event published successfully", recordFields(rec)...)
}

// fail accounts one exhausted retry sequence.
func (p *EventProcessor) fail(rec *storage.Record, err error) {
	rec.Attempts++
	if !IsRetryable(err) || rec.Attempts >= p.maxAttempts {
		p.abandon(rec, Category(err), err)
		return
	}
	if !p.transition(rec, storage.StatusFailed) {
		return
	}
	lastError := SanitizeError(err)
	rec.LastError = &lastError

	p.metrics.IncrementCounter(metricFailed, map[string]string{"event_type": rec.EventType})
	p.logger.Warn("Publish failed, record will be retried in a later cycle",
		append(recordFields(rec), zap.Int("max_attempts", p.maxAttempts), zap.Error(err))...)
}

// interrupt returns a record to Failed without spending an attempt.
func (p *EventProcessor) interrupt(rec *storage.Record, err error) {
	if !p.transition(rec, storage.StatusFailed) {
		return
	}
	reason := ReasonInterrupted
	rec.LastError = &reason

	p.metrics.IncrementCounter(metricInterrupted, nil)
	p.logger.Warn("Publish interrupted by shutdown", append(recordFields(rec), zap.Error(err))...)
}

func (p *EventProcessor) abandon(rec *storage.Record, reason string, cause error, extra ...zap.Field) {
	if !p.transition(rec, storage.StatusAbandoned) {
		return
	}
	lastError := reason
	if cause != nil {
		lastError = truncateRunes(reason+": "+SanitizeError(cause), storage.MaxLastErrorLength)
	}
	rec.LastError = &lastError

	p.metrics.IncrementCounter(metricAbandoned, map[string]string{"event_type": rec.EventType, "reason": reason})
	fields := append(recordFields(rec), zap.String("reason", reason))
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	p.logger.Error("Outbox record abandoned", append(fields, extra...)...)
}

func (p *EventProcessor) transition(rec *storage.Record, to storage.Status) bool {
	if !rec.Status.CanTransitionTo(to) {
		p.logger.Error("Illegal outbox status transition",
			append(recordFields(rec), zap.String("to", to.String()))...)
		return false
	}
	rec.Status = to
	return true
}

// persistBatch writes every finalized record in one transaction. It is detached from
// cancellation so that outcomes reached before shutdown are not lost.
func (p *EventProcessor) persistBatch(ctx context.Context, records []storage.Record) error {
	if len(records) == 0 {
		return nil
	}

	persistCtx := context.WithoutCancel(ctx)
	if p.persistTimeout > 0 {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(persistCtx, p.persistTimeout)
		defer cancel()
	}

	return p.tx.Do(persistCtx, func(ctx context.Context) error {
		for _, rec := range records {
			if err := p.store.Update(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func recordFields(rec *storage.Record) []zap.Field {
	return []zap.Field{
		zap.String("event_id", rec.ID.String()),
		zap.String("event_type", rec.EventType),
		zap.String("routing_key", rec.RoutingKey),
		zap.String("status", rec.Status.String()),
		zap.Int("attempts", rec.Attempts),
	}
}
