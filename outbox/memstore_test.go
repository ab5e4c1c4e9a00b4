package outbox

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/overtonx/catalog-service/outbox/storage"
)

// memStore is an in-memory storage.Store for processor and service tests.
type memStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]storage.Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[uuid.UUID]storage.Record)}
}

func (s *memStore) Create(_ context.Context, rec *storage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return storage.ErrEventAlreadyExists
	}
	s.records[rec.ID] = *rec
	return nil
}

func (s *memStore) FetchByStatus(_ context.Context, statuses []storage.Status, limit int) ([]storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.Record
	for _, rec := range s.sorted() {
		for _, st := range statuses {
			if rec.Status == st {
				out = append(out, rec)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) MarkAsProcessing(_ context.Context, ids []uuid.UUID, claimedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		rec := s.records[id]
		rec.Status = storage.StatusProcessing
		at := claimedAt
		rec.ClaimedAt = &at
		s.records[id] = rec
	}
	return nil
}

func (s *memStore) Update(_ context.Context, rec storage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[rec.ID]
	if !ok {
		return storage.ErrRecordNotFound
	}
	stored.Status = rec.Status
	stored.Attempts = rec.Attempts
	stored.ProcessedOnUTC = rec.ProcessedOnUTC
	stored.LastError = rec.LastError
	stored.ClaimedAt = rec.ClaimedAt
	s.records[rec.ID] = stored
	return nil
}

func (s *memStore) FetchStuck(_ context.Context, claimedBefore time.Time, limit int) ([]storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.Record
	for _, rec := range s.sorted() {
		if rec.Status == storage.StatusProcessing && rec.ClaimedAt != nil && rec.ClaimedAt.Before(claimedBefore) {
			out = append(out, rec)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return storage.Record{}, storage.ErrRecordNotFound
	}
	return rec, nil
}

func (s *memStore) DeleteSucceeded(_ context.Context, processedBefore time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for _, rec := range s.sorted() {
		if int(deleted) == limit {
			break
		}
		if rec.Status == storage.StatusSucceeded && rec.ProcessedOnUTC != nil && rec.ProcessedOnUTC.Before(processedBefore) {
			delete(s.records, rec.ID)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memStore) EnsureTables(context.Context) error { return nil }

func (s *memStore) sorted() []storage.Record {
	out := make([]storage.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredOnUTC.Equal(out[j].OccurredOnUTC) {
			return out[i].OccurredOnUTC.Before(out[j].OccurredOnUTC)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *memStore) get(t *testing.T, id uuid.UUID) storage.Record {
	t.Helper()
	rec, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

// stage stores event as a Pending record that occurred at occurredOn.
func (s *memStore) stage(t *testing.T, event IntegrationEvent, occurredOn time.Time) storage.Record {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	rec := storage.Record{
		ID:            event.EventID(),
		EventType:     event.EventType(),
		OccurredOnUTC: occurredOn,
		Payload:       payload,
		RoutingKey:    "catalog.test.updated",
		Version:       event.EventVersion(),
		Status:        storage.StatusPending,
		Headers:       map[string]string{"traceparent": "00-trace"},
	}
	require.NoError(t, s.Create(context.Background(), &rec))
	return rec
}

// passthroughTx runs fn without a transaction.
type passthroughTx struct{}

func (passthroughTx) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// scriptedPublisher records published messages and answers with fn.
type scriptedPublisher struct {
	mu        sync.Mutex
	published []Message
	fn        func(call int, msg Message) error
}

func (p *scriptedPublisher) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	p.published = append(p.published, msg)
	call := len(p.published)
	fn := p.fn
	p.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(call, msg)
}

func (p *scriptedPublisher) Close() error { return nil }

func (p *scriptedPublisher) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}
