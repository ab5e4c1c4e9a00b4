package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/overtonx/catalog-service/internal/logger"
)

const (
	requestIDHeader    = "X-Request-Id"
	maxRequestIDLength = 100
)

// RequestIDMiddleware reuses the caller's X-Request-Id or creates one. The id becomes the
// correlation id of every outbox record staged while serving the request.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = newRequestID()
		}
		c.Writer.Header().Set(requestIDHeader, requestID)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

func newRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

func LoggingMiddleware(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.FromContext(c.Request.Context(), l).Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// ErrorHandler renders errors attached with c.Error as the response envelope.
// Server-side failures are logged and their text is not returned to the client.
func ErrorHandler(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status, code := errorStatus(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			logger.FromContext(c.Request.Context(), l).Error("Request failed", zap.Error(err))
			msg = "internal server error"
		}
		c.JSON(status, NewErrorResponse(msg, code))
	}
}
