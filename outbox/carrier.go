package outbox

import (
	"errors"

	"go.uber.org/zap"

	"github.com/overtonx/catalog-service/outbox/storage"
)

// Carrier holds the shared dependencies for the outbox services.
// It acts as a dependency injection container for the writer, the processor and the operator services.
type Carrier struct {
	store     storage.Store
	tx        TxRunner
	registry  *EventRegistry
	publisher Publisher
	metrics   MetricsCollector
	logger    *zap.Logger
}

// NewCarrier creates a new Carrier with the given options.
// tx must be the same transaction manager the application uses for its own writes,
// otherwise staged records are not atomic with the business change.
func NewCarrier(store storage.Store, tx TxRunner, opts ...CarrierOption) (*Carrier, error) {
	if store == nil {
		return nil, errors.New("outbox store is required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner is required")
	}

	c := &Carrier{
		store:   store,
		tx:      tx,
		logger:  zap.NewNop(),
		metrics: NewNopMetricsCollector(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.publisher == nil {
		c.publisher = NewNopPublisher()
	}
	if c.registry == nil {
		c.registry = NewEventRegistry()
	}
	return c, nil
}

func (c *Carrier) Registry() *EventRegistry {
	return c.registry
}

func (c *Carrier) Writer() *Writer {
	return NewWriter(c.store, c.logger, c.metrics)
}

func (c *Carrier) EventProcessor(opts ...EventProcessorOption) *EventProcessor {
	return NewEventProcessor(c.store, c.tx, c.registry, c.publisher, c.logger, c.metrics, opts...)
}

func (c *Carrier) StuckEventService(opts ...StuckEventServiceOption) *StuckEventService {
	return NewStuckEventService(c.store, c.tx, c.logger, c.metrics, opts...)
}

func (c *Carrier) ReplayService() *ReplayService {
	return NewReplayService(c.store, c.tx, c.logger, c.metrics)
}

func (c *Carrier) CleanupService(opts ...CleanupServiceOption) *CleanupService {
	return NewCleanupService(c.store, c.logger, c.metrics, opts...)
}

// Close closes the publisher. Call it only after every worker using it has stopped.
func (c *Carrier) Close() error {
	return c.publisher.Close()
}
