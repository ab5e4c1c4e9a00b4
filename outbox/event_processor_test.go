package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/overtonx/catalog-service/outbox/storage"
)

var errBrokerDown = fmt.Errorf("%w: %w: connection refused", ErrPublish, ErrBrokerUnavailable)

func newTestProcessor(t *testing.T, store storage.Store, publisher Publisher, opts ...EventProcessorOption) *EventProcessor {
	t.Helper()
	opts = append([]EventProcessorOption{WithEventProcessorRetryWaits([]time.Duration{})}, opts...)
	return NewEventProcessor(store, passthroughTx{}, newTestRegistry(t), publisher, zap.NewNop(), nil, opts...)
}

func TestEventProcessor_PublishesInOccurrenceOrder(t *testing.T) {
	store := newMemStore()
	publisher := &scriptedPublisher{}
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	e3 := store.stage(t, newTestEvent("third"), base.Add(2*time.Second))
	e1 := store.stage(t, newTestEvent("first"), base)
	e2 := store.stage(t, newTestEvent("second"), base.Add(time.Second))

	result, err := newTestProcessor(t, store, publisher).DispatchOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, CycleResult{Claimed: 3, Succeeded: 3}, result)
	require.Len(t, publisher.published, 3)
	assert.Equal(t, e1.ID, publisher.published[0].Event.EventID())
	assert.Equal(t, e2.ID, publisher.published[1].Event.EventID())
	assert.Equal(t, e3.ID, publisher.published[2].Event.EventID())

	for _, rec := range []storage.Record{e1, e2, e3} {
		stored := store.get(t, rec.ID)
		assert.Equal(t, storage.StatusSucceeded, stored.Status)
		assert.NotNil(t, stored.ProcessedOnUTC)
		assert.Nil(t, stored.LastError)
		assert.Equal(t, 0, stored.Attempts)
	}
}

func TestEventProcessor_MessageCarriesRecordMetadata(t *testing.T) {
	store := newMemStore()
	publisher := &scriptedPublisher{}
	rec := store.stage(t, newTestEvent("phone"), time.Now().UTC())
	corr := "req-42"
	rec.CorrelationID = &corr
	store.records[rec.ID] = rec

	_, err := newTestProcessor(t, store, publisher).DispatchOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, publisher.published, 1)
	msg := publisher.published[0]
	assert.Equal(t, rec.ID, msg.RecordID)
	assert.Equal(t, "catalog.test.updated", msg.RoutingKey)
	assert.Equal(t, "req-42", msg.CorrelationID)
	assert.Equal(t, "00-trace", msg.Headers["traceparent"])
	event, ok := msg.Event.(*testEvent)
	require.True(t, ok)
	assert.Equal(t, "phone", event.Name)
}

func TestEventProcessor_PayloadTooLarge(t *testing.T) {
	store := newMemStore()
	publisher := &scriptedPublisher{}
	rec := store.stage(t, newTestEvent(strings.Repeat("x", 100)), time.Now().UTC())

	processor := newTestProcessor(t, store, publisher, WithEventProcessorMaxPayloadBytes(64))
	result, err := processor.DispatchOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Abandoned)
	assert.Zero(t, publisher.calls())
	stored := store.get(t, rec.ID)
	assert.Equal(t, storage.StatusAbandoned, stored.Status)
	assert.Equal(t, 0, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, ReasonPayloadTooLarge, *stored.LastError)
}

func TestEventProcessor_UnknownEventType(t *testing.T) {
	store := newMemStore()
	publisher := &scriptedPublisher{}
	rec := store.stage(t, newTestEvent("phone"), time.Now().UTC())
	rec.EventType = "RemovedEvent"
	store.records[rec.ID] = rec

	result, err := newTestProcessor(t, store, publisher).DispatchOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Abandoned)
	assert.Zero(t, publisher.calls())
	stored := store.get(t, rec.ID)
	assert.Equal(t, storage.StatusAbandoned, stored.Status)
	assert.Equal(t, 0, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.True(t, strings.HasPrefix(*stored.LastError, ReasonUnknownEventType))
}

func TestEventProcessor_MalformedPayload(t *testing.T) {
	store := newMemStore()
	publisher := &scriptedPublisher{}
	rec := store.stage(t, newTestEvent("phone"), time.Now().UTC())
	rec.Payload = []byte(`{"name":`)
	store.records[rec.ID] = rec

	_, err := newTestProcessor(t, store, publisher).DispatchOnce(context.Background())
	require.NoError(t, err)

	stored := store.get(t, rec.ID)
	assert.Equal(t, storage.StatusAbandoned, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.True(t, strings.HasPrefix(*stored.LastError, ReasonDeserializationFailed))
}

func TestEventProcessor_RetriesWithinCycle(t *testing.T) {
	store := newMemStore()
	publisher := &scriptedPublisher{fn: func(call int, _ Message) error {
		if call == 1 {
			return errBrokerDown
		}
		return nil
	}}
	rec := store.stage(t, newTestEvent("phone"), time.Now().UTC())

	processor := newTestProcessor(t, store, publisher,
		WithEventProcessorRetryWaits([]time.Duration{time.Millisecond, time.Millisecond}))
	result, err := processor.DispatchOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 2, publisher.calls())
	stored := store.get(t, rec.ID)
	assert.Equal(t, storage.StatusSucceeded, stored.Status)
	assert.Equal(t, 0, stored.Attempts)
}

func TestEventProcessor_FailedRecordIsRetriedInLaterCycle(t *testing.T) {
	store := newMemStore()
	publisher := &scriptedPublisher{fn: func(call int, _ Message) error {
		if call <= 2 {
			return errBrokerDown
		}
		return nil
	}}
	rec := store.stage(t, newTestEvent("phone"), time.Now().UTC())
	processor := newTestProcessor(t, store, publisher)
	ctx := context.Background()

	result, err := processor.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	stored := store.get(t, rec.ID)
	assert.Equal(t, storage.StatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "connection refused")

	_, err = processor.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, store.get(t, rec.ID).Attempts)

	result, err = processor.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	stored = store.get(t, rec.ID)
	assert.Equal(t, storage.StatusSucceeded, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	assert.Nil(t, stored.LastError)
	assert.NotNil(t, stored.ProcessedOnUTC)
}

func TestEventProcessor_AbandonsAfterMaxAttempts(t *testing.T) {
	store := newMemStore()
	publisher := &scriptedPublisher{fn: func(int, Message) error { return errBrokerDown }}
	rec := store.stage(t, newTestEvent("phone"), time.Now().UTC())
	processor := newTestProcessor(t, store, publisher, WithEventProcessorMaxAttempts(2))
	ctx := context.Background()

	_, err := processor.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, store.get(t, rec.ID).Status)

	result, err := processor.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Abandoned)
	stored := store.get(t, rec.ID)
	assert.Equal(t, storage.StatusAbandoned, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.True(t, strings.HasPrefix(*stored.LastError, ReasonBrokerUnavailable))

	result, err = processor.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleResult{}, result)
	assert.Equal(t, 2, publisher.calls())
}

func TestEventProcessor_NonRetryableErrorAbandons(t *testing.T) {
	store := newMemStore()
	publisher := &scriptedPublisher{fn: func(int, Message) error {
		return NonRetryable(fmt.Errorf("%w: %w: message too large", ErrPublish, ErrBrokerNack))
	}}
	rec := store.stage(t, newTestEvent("phone"), time.Now().UTC())

	processor := newTestProcessor(t, store, publisher,
		WithEventProcessorRetryWaits([]time.Duration{time.Millisecond, time.Millisecond}))
	result, err := processor.DispatchOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Abandoned)
	assert.Equal(t, 1, publisher.calls())
	stored := store.get(t, rec.ID)
	assert.Equal(t, storage.StatusAbandoned, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.True(t, strings.HasPrefix(*stored.LastError, ReasonBrokerNack))
}

func TestEventProcessor_EmptyCycle(t *testing.T) {
	store := newMemStore()
	publisher := &scriptedPublisher{}
	processor := newTestProcessor(t, store, publisher)

	for i := 0; i < 2; i++ {
		result, err := processor.DispatchOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, CycleResult{}, result)
	}
	assert.Zero(t, publisher.calls())
}

func TestEventProcessor_CancellationInterruptsCycle(t *testing.T) {
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := &scriptedPublisher{fn: func(int, Message) error {
		cancel()
		return context.Canceled
	}}
	base := time.Now().UTC()
	first := store.stage(t, newTestEvent("first"), base)
	second := store.stage(t, newTestEvent("second"), base.Add(time.Second))

	result, err := newTestProcessor(t, store, publisher).DispatchOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, CycleResult{Claimed: 2, Interrupted: 1, Unprocessed: 1}, result)

	stored := store.get(t, first.ID)
	assert.Equal(t, storage.StatusFailed, stored.Status)
	assert.Equal(t, 0, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, ReasonInterrupted, *stored.LastError)

	assert.Equal(t, storage.StatusProcessing, store.get(t, second.ID).Status)
}

func TestEventProcessor_ClaimError(t *testing.T) {
	store := new(storage.MockStore)
	store.On("FetchByStatus", mock.Anything, claimableStatuses, 20).
		Return([]storage.Record(nil), errors.New("lock wait timeout"))

	processor := NewEventProcessor(store, passthroughTx{}, newTestRegistry(t), &scriptedPublisher{}, nil, nil)
	err := processor.ProcessEvents(context.Background())

	assert.ErrorContains(t, err, "failed to claim outbox batch")
	store.AssertExpectations(t)
}

func TestEventProcessor_PersistError(t *testing.T) {
	event := newTestEvent("phone")
	payload := []byte(`{"eventId":"` + event.ID.String() + `","eventType":"TestEvent","version":1,"name":"phone"}`)
	rec := storage.Record{
		ID:         event.ID,
		EventType:  "TestEvent",
		Payload:    payload,
		RoutingKey: "catalog.test.updated",
		Version:    1,
		Status:     storage.StatusPending,
	}

	store := new(storage.MockStore)
	store.On("FetchByStatus", mock.Anything, claimableStatuses, 20).Return([]storage.Record{rec}, nil)
	store.On("MarkAsProcessing", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("Update", mock.Anything, mock.MatchedBy(func(r storage.Record) bool {
		return r.ID == rec.ID && r.Status == storage.StatusSucceeded
	})).Return(errors.New("connection reset"))

	processor := NewEventProcessor(store, passthroughTx{}, newTestRegistry(t), &scriptedPublisher{}, nil, nil)
	_, err := processor.DispatchOnce(context.Background())

	assert.ErrorContains(t, err, "failed to persist outbox batch")
	store.AssertExpectations(t)
}

func TestEventProcessor_SkipsRecordsNotClaimable(t *testing.T) {
	rec := storage.Record{ID: newTestEvent("x").ID, EventType: "TestEvent", Status: storage.StatusSucceeded}

	store := new(storage.MockStore)
	store.On("FetchByStatus", mock.Anything, claimableStatuses, 20).Return([]storage.Record{rec}, nil)

	publisher := &scriptedPublisher{}
	processor := NewEventProcessor(store, passthroughTx{}, newTestRegistry(t), publisher, nil, nil)
	result, err := processor.DispatchOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, CycleResult{}, result)
	assert.Zero(t, publisher.calls())
	store.AssertNotCalled(t, "MarkAsProcessing", mock.Anything, mock.Anything, mock.Anything)
}
