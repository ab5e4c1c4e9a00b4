package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/overtonx/catalog-service/internal/catalog"
)

type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{
		Success: true,
		Data:    data,
	}
}

func NewErrorResponse(err string, code string) Response[any] {
	return Response[any]{
		Success: false,
		Error:   err,
		Code:    code,
	}
}

const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeValidation     = "VALIDATION_FAILED"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeInternal       = "INTERNAL_ERROR"
)

// errorStatus maps a service error to its HTTP status and envelope code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, catalog.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, catalog.ErrCategoryInUse):
		return http.StatusConflict, CodeConflict
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, NewErrorResponse(msg, CodeInvalidRequest))
}
