package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter wires the catalog API under /api/v1.
func NewRouter(service CatalogService, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(logger))
	r.Use(ErrorHandler(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, NewSuccessResponse(gin.H{"status": "ok"}))
	})

	h := NewCatalogHandler(service)
	v1 := r.Group("/api/v1")
	{
		categories := v1.Group("/categories")
		categories.GET("", h.ListCategories)
		categories.POST("", h.CreateCategory)
		categories.GET("/:id", h.GetCategory)
		categories.PUT("/:id", h.UpdateCategory)
		categories.DELETE("/:id", h.DeleteCategory)

		products := v1.Group("/products")
		products.GET("", h.ListProducts)
		products.POST("", h.CreateProduct)
		products.GET("/:id", h.GetProduct)
		products.PUT("/:id", h.UpdateProduct)
		products.DELETE("/:id", h.DeleteProduct)
	}
	return r
}
