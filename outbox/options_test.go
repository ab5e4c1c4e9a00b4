package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestCarrierOptions(t *testing.T) {
	logger := zap.NewExample()
	metrics := NewNopMetricsCollector()
	publisher := NewNopPublisher()
	registry := NewEventRegistry()

	c, err := NewCarrier(newMemStore(), passthroughTx{},
		WithLogger(logger), WithMetrics(metrics), WithPublisher(publisher), WithRegistry(registry))

	assert.NoError(t, err)
	assert.Same(t, logger, c.logger)
	assert.Equal(t, metrics, c.metrics)
	assert.Equal(t, publisher, c.publisher)
	assert.Same(t, registry, c.registry)
}

func TestEventProcessorOptions(t *testing.T) {
	clock := func() time.Time { return time.Unix(0, 0) }
	p := NewEventProcessor(newMemStore(), passthroughTx{}, nil, nil, nil, nil,
		WithEventProcessorBatchSize(7),
		WithEventProcessorMaxAttempts(3),
		WithEventProcessorMaxPayloadBytes(1024),
		WithEventProcessorRetryWaits([]time.Duration{time.Second}),
		WithEventProcessorPersistTimeout(time.Minute),
		WithEventProcessorClock(clock),
	)

	assert.Equal(t, 7, p.batchSize)
	assert.Equal(t, 3, p.maxAttempts)
	assert.Equal(t, 1024, p.maxPayloadBytes)
	assert.Equal(t, []time.Duration{time.Second}, p.retryWaits)
	assert.Equal(t, time.Minute, p.persistTimeout)
	assert.Equal(t, time.Unix(0, 0), p.now())
	assert.NotNil(t, p.registry)
}

func TestEventProcessorDefaults(t *testing.T) {
	p := NewEventProcessor(newMemStore(), passthroughTx{}, nil, nil, nil, nil,
		WithEventProcessorBatchSize(0), WithEventProcessorMaxAttempts(-1))

	assert.Equal(t, defaultBatchSize, p.batchSize)
	assert.Equal(t, defaultMaxAttempts, p.maxAttempts)
	assert.Equal(t, defaultMaxPayloadBytes, p.maxPayloadBytes)
	assert.Equal(t, DefaultRetryWaits, p.retryWaits)
}

func TestStuckEventServiceOptions(t *testing.T) {
	s := NewStuckEventService(newMemStore(), passthroughTx{}, nil, nil,
		WithStuckEventServiceBatchSize(15), WithStuckEventServiceStuckTimeout(time.Hour))

	assert.Equal(t, 15, s.batchSize)
	assert.Equal(t, time.Hour, s.stuckTimeout)
}

func TestCleanupServiceOptions(t *testing.T) {
	s := NewCleanupService(newMemStore(), nil, nil,
		WithCleanupServiceBatchSize(100), WithCleanupServiceSucceededRetention(48*time.Hour))

	assert.Equal(t, 100, s.batchSize)
	assert.Equal(t, 48*time.Hour, s.retention)
}
