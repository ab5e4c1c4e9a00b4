package catalog

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/overtonx/catalog-service/outbox"
)

// Type tags and routing keys of the catalog integration events.
const (
	CategoryUpdatedEventType = "CategoryUpdatedEvent"
	CategoryDeletedEventType = "CategoryDeletedEvent"
	ProductUpdatedEventType  = "ProductUpdatedEvent"
	ProductDeletedEventType  = "ProductDeletedEvent"

	RoutingKeyCategoryUpdated = "catalog.category.updated"
	RoutingKeyCategoryDeleted = "catalog.category.deleted"
	RoutingKeyProductUpdated  = "catalog.product.updated"
	RoutingKeyProductDeleted  = "catalog.product.deleted"
)

type CategoryUpdatedEvent struct {
	outbox.EventBase
	CategoryID uuid.UUID `json:"categoryId"`
	Name       string    `json:"name"`
}

func NewCategoryUpdatedEvent(c Category) *CategoryUpdatedEvent {
	return &CategoryUpdatedEvent{
		EventBase:  outbox.NewEventBase(CategoryUpdatedEventType),
		CategoryID: c.ID,
		Name:       c.Name,
	}
}

func (e CategoryUpdatedEvent) PartitionKey() string { return e.CategoryID.String() }

type CategoryDeletedEvent struct {
	outbox.EventBase
	CategoryID uuid.UUID `json:"categoryId"`
}

func NewCategoryDeletedEvent(id uuid.UUID) *CategoryDeletedEvent {
	return &CategoryDeletedEvent{
		EventBase:  outbox.NewEventBase(CategoryDeletedEventType),
		CategoryID: id,
	}
}

func (e CategoryDeletedEvent) PartitionKey() string { return e.CategoryID.String() }

// ProductUpdatedEvent is emitted on create and on update.
type ProductUpdatedEvent struct {
	outbox.EventBase
	ProductID    uuid.UUID       `json:"productId"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	CategoryID   uuid.UUID       `json:"categoryId"`
	CategoryName *string         `json:"categoryName"`
}

func NewProductUpdatedEvent(p Product) *ProductUpdatedEvent {
	e := &ProductUpdatedEvent{
		EventBase:  outbox.NewEventBase(ProductUpdatedEventType),
		ProductID:  p.ID,
		Name:       p.Name,
		Price:      p.Price,
		CategoryID: p.CategoryID,
	}
	if p.CategoryName != "" {
		name := p.CategoryName
		e.CategoryName = &name
	}
	return e
}

func (e ProductUpdatedEvent) PartitionKey() string { return e.ProductID.String() }

type ProductDeletedEvent struct {
	outbox.EventBase
	ProductID uuid.UUID `json:"productId"`
}

func NewProductDeletedEvent(id uuid.UUID) *ProductDeletedEvent {
	return &ProductDeletedEvent{
		EventBase: outbox.NewEventBase(ProductDeletedEventType),
		ProductID: id,
	}
}

func (e ProductDeletedEvent) PartitionKey() string { return e.ProductID.String() }

// RegisterEvents adds every catalog event to the registry. The registry is the
// allow-list of types the dispatcher will decode.
func RegisterEvents(r *outbox.EventRegistry) error {
	regs := []func() error{
		func() error { return outbox.RegisterEvent[CategoryUpdatedEvent](r, CategoryUpdatedEventType) },
		func() error { return outbox.RegisterEvent[CategoryDeletedEvent](r, CategoryDeletedEventType) },
		func() error { return outbox.RegisterEvent[ProductUpdatedEvent](r, ProductUpdatedEventType) },
		func() error { return outbox.RegisterEvent[ProductDeletedEvent](r, ProductDeletedEventType) },
	}
	for _, reg := range regs {
		if err := reg(); err != nil {
			return fmt.Errorf("failed to register catalog events: %w", err)
		}
	}
	return nil
}
