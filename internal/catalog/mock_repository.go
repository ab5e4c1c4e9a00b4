package catalog

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockRepository is a mock implementation of Repository for testing.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) InsertCategory(ctx context.Context, c Category) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockRepository) UpdateCategory(ctx context.Context, c Category) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockRepository) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) GetCategory(ctx context.Context, id uuid.UUID) (Category, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Category), args.Error(1)
}

func (m *MockRepository) ListCategories(ctx context.Context) ([]Category, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Category), args.Error(1)
}

func (m *MockRepository) CountProducts(ctx context.Context, categoryID uuid.UUID) (int, error) {
	args := m.Called(ctx, categoryID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) CountSubcategories(ctx context.Context, parentID uuid.UUID) (int, error) {
	args := m.Called(ctx, parentID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) InsertProduct(ctx context.Context, p Product) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockRepository) UpdateProduct(ctx context.Context, p Product) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockRepository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Product), args.Error(1)
}

func (m *MockRepository) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]Product), args.Error(1)
}
