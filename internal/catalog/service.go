package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/overtonx/catalog-service/internal/logger"
	"github.com/overtonx/catalog-service/outbox"
)

// EventWriter stages an integration event in the transaction carried by ctx.
type EventWriter interface {
	Add(ctx context.Context, event outbox.IntegrationEvent, routingKey, correlationID string) error
}

// Service applies catalog changes. Each mutation writes the entity and its
// integration event in one transaction, so either both are stored or neither is.
type Service struct {
	repo     Repository
	tx       outbox.TxRunner
	events   EventWriter
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, tx outbox.TxRunner, events EventWriter, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		tx:       tx,
		events:   events,
		validate: newValidator(),
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (Category, error) {
	if err := s.validate.Struct(in); err != nil {
		return Category{}, validationError(err)
	}

	now := s.now()
	c := Category{
		ID:               uuid.New(),
		Name:             in.Name,
		Description:      in.Description,
		URL:              in.URL,
		ParentCategoryID: in.ParentCategoryID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.tx.Do(ctx, func(ctx context.Context) error {
		if err := s.checkParent(ctx, c.ID, c.ParentCategoryID); err != nil {
			return err
		}
		if err := s.repo.InsertCategory(ctx, c); err != nil {
			return err
		}
		return s.publish(ctx, NewCategoryUpdatedEvent(c), RoutingKeyCategoryUpdated)
	})
	if err != nil {
		return Category{}, err
	}

	logger.FromContext(ctx, s.logger).Info("Category created", zap.String("category_id", c.ID.String()))
	return c, nil
}

func (s *Service) UpdateCategory(ctx context.Context, id uuid.UUID, in CategoryInput) (Category, error) {
	if err := s.validate.Struct(in); err != nil {
		return Category{}, validationError(err)
	}

	var c Category
	err := s.tx.Do(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.repo.GetCategory(ctx, id); err != nil {
			return err
		}
		if err := s.checkParent(ctx, id, in.ParentCategoryID); err != nil {
			return err
		}

		c.Name = in.Name
		c.Description = in.Description
		c.URL = in.URL
		c.ParentCategoryID = in.ParentCategoryID
		c.UpdatedAt = s.now()

		if err := s.repo.UpdateCategory(ctx, c); err != nil {
			return err
		}
		return s.publish(ctx, NewCategoryUpdatedEvent(c), RoutingKeyCategoryUpdated)
	})
	if err != nil {
		return Category{}, err
	}

	logger.FromContext(ctx, s.logger).Info("Category updated", zap.String("category_id", id.String()))
	return c, nil
}

// DeleteCategory removes an empty category. A category that still has products or
// subcategories is rejected with ErrCategoryInUse.
func (s *Service) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	err := s.tx.Do(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetCategory(ctx, id); err != nil {
			return err
		}
		products, err := s.repo.CountProducts(ctx, id)
		if err != nil {
			return err
		}
		children, err := s.repo.CountSubcategories(ctx, id)
		if err != nil {
			return err
		}
		if products > 0 || children > 0 {
			return fmt.Errorf("%w: %d products, %d subcategories", ErrCategoryInUse, products, children)
		}

		if err := s.repo.DeleteCategory(ctx, id); err != nil {
			return err
		}
		return s.publish(ctx, NewCategoryDeletedEvent(id), RoutingKeyCategoryDeleted)
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx, s.logger).Info("Category deleted", zap.String("category_id", id.String()))
	return nil
}

func (s *Service) GetCategory(ctx context.Context, id uuid.UUID) (Category, error) {
	return s.repo.GetCategory(ctx, id)
}

func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (Product, error) {
	if err := s.validate.Struct(in); err != nil {
		return Product{}, validationError(err)
	}

	now := s.now()
	p := Product{
		ID:          uuid.New(),
		Name:        in.Name,
		Description: in.Description,
		ImageURL:    in.ImageURL,
		Price:       in.Price,
		Amount:      in.Amount,
		CategoryID:  in.CategoryID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.tx.Do(ctx, func(ctx context.Context) error {
		category, err := s.repo.GetCategory(ctx, p.CategoryID)
		if err != nil {
			return err
		}
		p.CategoryName = category.Name

		if err := s.repo.InsertProduct(ctx, p); err != nil {
			return err
		}
		return s.publish(ctx, NewProductUpdatedEvent(p), RoutingKeyProductUpdated)
	})
	if err != nil {
		return Product{}, err
	}

	logger.FromContext(ctx, s.logger).Info("Product created", zap.String("product_id", p.ID.String()))
	return p, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id uuid.UUID, in ProductInput) (Product, error) {
	if err := s.validate.Struct(in); err != nil {
		return Product{}, validationError(err)
	}

	var p Product
	err := s.tx.Do(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.repo.GetProduct(ctx, id); err != nil {
			return err
		}
		category, err := s.repo.GetCategory(ctx, in.CategoryID)
		if err != nil {
			return err
		}

		p.Name = in.Name
		p.Description = in.Description
		p.ImageURL = in.ImageURL
		p.Price = in.Price
		p.Amount = in.Amount
		p.CategoryID = in.CategoryID
		p.CategoryName = category.Name
		p.UpdatedAt = s.now()

		if err := s.repo.UpdateProduct(ctx, p); err != nil {
			return err
		}
		return s.publish(ctx, NewProductUpdatedEvent(p), RoutingKeyProductUpdated)
	})
	if err != nil {
		return Product{}, err
	}

	logger.FromContext(ctx, s.logger).Info("Product updated", zap.String("product_id", id.String()))
	return p, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	err := s.tx.Do(ctx, func(ctx context.Context) error {
		if err := s.repo.DeleteProduct(ctx, id); err != nil {
			return err
		}
		return s.publish(ctx, NewProductDeletedEvent(id), RoutingKeyProductDeleted)
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx, s.logger).Info("Product deleted", zap.String("product_id", id.String()))
	return nil
}

func (s *Service) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	return s.repo.ListProducts(ctx, filter)
}

func (s *Service) checkParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	if parentID == nil {
		return nil
	}
	if *parentID == id {
		return fmt.Errorf("%w: a category cannot be its own parent", ErrValidation)
	}
	if _, err := s.repo.GetCategory(ctx, *parentID); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: parent category %s does not exist", ErrValidation, parentID)
		}
		return err
	}
	return nil
}

// publish stages event with the request id as correlation id.
func (s *Service) publish(ctx context.Context, event outbox.IntegrationEvent, routingKey string) error {
	if err := s.events.Add(ctx, event, routingKey, logger.RequestID(ctx)); err != nil {
		return fmt.Errorf("failed to stage %s: %w", event.EventType(), err)
	}
	return nil
}
