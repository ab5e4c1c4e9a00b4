package outbox

import (
	"context"
	"time"
)

// Publisher delivers one decoded event to the broker.
// A failure is retried by the caller unless it is wrapped with NonRetryable.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type MetricsCollector interface {
	IncrementCounter(name string, tags map[string]string)
	RecordDuration(name string, duration time.Duration, tags map[string]string)
	RecordGauge(name string, value float64, tags map[string]string)
}

type Worker interface {
	Start(ctx context.Context)
	Stop()
	Name() string
}

// TxRunner runs fn inside one transaction carried by the ctx passed to fn.
// *manager.Manager from go-transaction-manager satisfies it.
type TxRunner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}
