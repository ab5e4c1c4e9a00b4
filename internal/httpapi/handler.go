package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/overtonx/catalog-service/internal/catalog"
)

// CatalogService is the part of catalog.Service the API uses.
type CatalogService interface {
	CreateCategory(ctx context.Context, in catalog.CategoryInput) (catalog.Category, error)
	UpdateCategory(ctx context.Context, id uuid.UUID, in catalog.CategoryInput) (catalog.Category, error)
	DeleteCategory(ctx context.Context, id uuid.UUID) error
	GetCategory(ctx context.Context, id uuid.UUID) (catalog.Category, error)
	ListCategories(ctx context.Context) ([]catalog.Category, error)

	CreateProduct(ctx context.Context, in catalog.ProductInput) (catalog.Product, error)
	UpdateProduct(ctx context.Context, id uuid.UUID, in catalog.ProductInput) (catalog.Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	GetProduct(ctx context.Context, id uuid.UUID) (catalog.Product, error)
	ListProducts(ctx context.Context, filter catalog.ProductFilter) ([]catalog.Product, error)
}

type CatalogHandler struct {
	service CatalogService
}

func NewCatalogHandler(service CatalogService) *CatalogHandler {
	return &CatalogHandler{service: service}
}

func (h *CatalogHandler) ListCategories(c *gin.Context) {
	items, err := h.service.ListCategories(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(items))
}

func (h *CatalogHandler) GetCategory(c *gin.Context) {
	id, ok := pathID(c, "invalid category id")
	if !ok {
		return
	}
	item, err := h.service.GetCategory(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(item))
}

func (h *CatalogHandler) CreateCategory(c *gin.Context) {
	var req catalog.CategoryInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	item, err := h.service.CreateCategory(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, NewSuccessResponse(item))
}

func (h *CatalogHandler) UpdateCategory(c *gin.Context) {
	id, ok := pathID(c, "invalid category id")
	if !ok {
		return
	}
	var req catalog.CategoryInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	item, err := h.service.UpdateCategory(c.Request.Context(), id, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(item))
}

func (h *CatalogHandler) DeleteCategory(c *gin.Context) {
	id, ok := pathID(c, "invalid category id")
	if !ok {
		return
	}
	if err := h.service.DeleteCategory(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse[any](nil))
}

func (h *CatalogHandler) ListProducts(c *gin.Context) {
	var filter catalog.ProductFilter
	if raw := c.Query("category_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "invalid category_id")
			return
		}
		filter.CategoryID = &id
	}
	var ok bool
	if filter.Limit, ok = queryInt(c, "limit"); !ok {
		return
	}
	if filter.Offset, ok = queryInt(c, "offset"); !ok {
		return
	}

	items, err := h.service.ListProducts(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(items))
}

func (h *CatalogHandler) GetProduct(c *gin.Context) {
	id, ok := pathID(c, "invalid product id")
	if !ok {
		return
	}
	item, err := h.service.GetProduct(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(item))
}

func (h *CatalogHandler) CreateProduct(c *gin.Context) {
	var req catalog.ProductInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	item, err := h.service.CreateProduct(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, NewSuccessResponse(item))
}

func (h *CatalogHandler) UpdateProduct(c *gin.Context) {
	id, ok := pathID(c, "invalid product id")
	if !ok {
		return
	}
	var req catalog.ProductInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	item, err := h.service.UpdateProduct(c.Request.Context(), id, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(item))
}

func (h *CatalogHandler) DeleteProduct(c *gin.Context) {
	id, ok := pathID(c, "invalid product id")
	if !ok {
		return
	}
	if err := h.service.DeleteProduct(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse[any](nil))
}

func pathID(c *gin.Context, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, msg)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, "invalid "+key)
		return 0, false
	}
	return n, true
}
