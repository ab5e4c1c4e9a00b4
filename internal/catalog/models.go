package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation failed")
	ErrCategoryInUse = errors.New("category is in use")
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Category struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Description      *string    `json:"description,omitempty"`
	URL              *string    `json:"url,omitempty"`
	ParentCategoryID *uuid.UUID `json:"parentCategoryId,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

type Product struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	ImageURL     string          `json:"imageUrl"`
	Price        decimal.Decimal `json:"price"`
	Amount       int             `json:"amount"`
	CategoryID   uuid.UUID       `json:"categoryId"`
	CategoryName string          `json:"categoryName,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// CategoryInput is the writable part of a category.
type CategoryInput struct {
	Name             string     `json:"name" validate:"required,max=50"`
	Description      *string    `json:"description" validate:"omitempty,max=1000"`
	URL              *string    `json:"url" validate:"omitempty,max=200,url"`
	ParentCategoryID *uuid.UUID `json:"parentCategoryId"`
}

// ProductInput is the writable part of a product.
type ProductInput struct {
	Name        string          `json:"name" validate:"required,max=50"`
	Description string          `json:"description" validate:"max=1000"`
	ImageURL    string          `json:"imageUrl" validate:"omitempty,max=200,url"`
	Price       decimal.Decimal `json:"price" validate:"gt=0"`
	Amount      int             `json:"amount" validate:"min=1"`
	CategoryID  uuid.UUID       `json:"categoryId" validate:"required"`
}

// ProductFilter narrows ListProducts. Zero Limit means the default page size.
type ProductFilter struct {
	CategoryID *uuid.UUID
	Limit      int
	Offset     int
}

func (f ProductFilter) normalize() ProductFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
