package httpapi

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/overtonx/catalog-service/internal/catalog"
)

type mockCatalogService struct {
	mock.Mock
}

func (m *mockCatalogService) CreateCategory(ctx context.Context, in catalog.CategoryInput) (catalog.Category, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(catalog.Category), args.Error(1)
}

func (m *mockCatalogService) UpdateCategory(ctx context.Context, id uuid.UUID, in catalog.CategoryInput) (catalog.Category, error) {
	args := m.Called(ctx, id, in)
	return args.Get(0).(catalog.Category), args.Error(1)
}

func (m *mockCatalogService) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockCatalogService) GetCategory(ctx context.Context, id uuid.UUID) (catalog.Category, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(catalog.Category), args.Error(1)
}

func (m *mockCatalogService) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	args := m.Called(ctx)
	return args.Get(0).([]catalog.Category), args.Error(1)
}

func (m *mockCatalogService) CreateProduct(ctx context.Context, in catalog.ProductInput) (catalog.Product, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(catalog.Product), args.Error(1)
}

func (m *mockCatalogService) UpdateProduct(ctx context.Context, id uuid.UUID, in catalog.ProductInput) (catalog.Product, error) {
	args := m.Called(ctx, id, in)
	return args.Get(0).(catalog.Product), args.Error(1)
}

func (m *mockCatalogService) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockCatalogService) GetProduct(ctx context.Context, id uuid.UUID) (catalog.Product, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(catalog.Product), args.Error(1)
}

func (m *mockCatalogService) ListProducts(ctx context.Context, filter catalog.ProductFilter) ([]catalog.Product, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]catalog.Product), args.Error(1)
}
