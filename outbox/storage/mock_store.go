package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the Store interface for testing.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Create(ctx context.Context, record *Record) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockStore) FetchByStatus(ctx context.Context, statuses []Status, limit int) ([]Record, error) {
	args := m.Called(ctx, statuses, limit)
	return args.Get(0).([]Record), args.Error(1)
}

func (m *MockStore) MarkAsProcessing(ctx context.Context, ids []uuid.UUID, claimedAt time.Time) error {
	args := m.Called(ctx, ids, claimedAt)
	return args.Error(0)
}

func (m *MockStore) Update(ctx context.Context, record Record) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockStore) FetchStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]Record, error) {
	args := m.Called(ctx, claimedBefore, limit)
	return args.Get(0).([]Record), args.Error(1)
}

func (m *MockStore) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Record), args.Error(1)
}

func (m *MockStore) DeleteSucceeded(ctx context.Context, processedBefore time.Time, limit int) (int64, error) {
	args := m.Called(ctx, processedBefore, limit)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) EnsureTables(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
