package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overtonx/catalog-service/outbox/storage"
)

func TestReplayService_Replay(t *testing.T) {
	store := newMemStore()
	rec := store.stage(t, newTestEvent("phone"), time.Now().UTC().Add(-time.Hour))
	abandoned := store.get(t, rec.ID)
	abandoned.Status = storage.StatusAbandoned
	abandoned.Attempts = 5
	reason := ReasonBrokerUnavailable
	abandoned.LastError = &reason
	store.records[rec.ID] = abandoned

	service := NewReplayService(store, passthroughTx{}, nil, nil)
	replayID, err := service.Replay(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotEqual(t, rec.ID, replayID)

	replay := store.get(t, replayID)
	assert.Equal(t, storage.StatusPending, replay.Status)
	assert.Equal(t, 0, replay.Attempts)
	assert.Nil(t, replay.LastError)
	assert.Equal(t, rec.Payload, replay.Payload)
	assert.Equal(t, rec.EventType, replay.EventType)
	assert.Equal(t, rec.RoutingKey, replay.RoutingKey)
	assert.Equal(t, rec.ID.String(), replay.Headers[HeaderReplayOf])
	assert.Equal(t, "00-trace", replay.Headers["traceparent"])

	assert.Equal(t, storage.StatusAbandoned, store.get(t, rec.ID).Status, "original stays terminal")

	publisher := &scriptedPublisher{}
	_, err = newTestProcessor(t, store, publisher).DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, publisher.calls())
	assert.Equal(t, storage.StatusSucceeded, store.get(t, replayID).Status)
}

func TestReplayService_RejectsNonAbandoned(t *testing.T) {
	store := newMemStore()
	rec := store.stage(t, newTestEvent("phone"), time.Now().UTC())

	_, err := NewReplayService(store, passthroughTx{}, nil, nil).Replay(context.Background(), rec.ID)

	assert.ErrorIs(t, err, ErrRecordNotReplayable)
	assert.Len(t, store.records, 1)
}

func TestReplayService_NotFound(t *testing.T) {
	_, err := NewReplayService(newMemStore(), passthroughTx{}, nil, nil).Replay(context.Background(), uuid.New())

	assert.ErrorIs(t, err, ErrRecordNotFound)
}
