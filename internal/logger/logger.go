package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	ProductionMode  = "production"
	DevelopmentMode = "development"
)

type ctxKey string

// RequestIDKey holds the request id put into the request context by the HTTP middleware.
const RequestIDKey ctxKey = "request_id"

// New builds a JSON logger for production and a coloured console logger otherwise.
func New(mode string) (*zap.Logger, error) {
	var config zap.Config
	if mode == ProductionMode {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return config.Build()
}

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// FromContext returns l with the request id of ctx attached.
func FromContext(ctx context.Context, l *zap.Logger) *zap.Logger {
	if id := RequestID(ctx); id != "" {
		return l.With(zap.String(string(RequestIDKey), id))
	}
	return l
}
