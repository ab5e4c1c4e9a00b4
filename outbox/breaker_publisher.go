package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerPublisher stops calling a failing broker for a while so that a dispatch
// cycle does not spend every retry wait on a broker that is known to be down.
type BreakerPublisher struct {
	next   Publisher
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewBreakerPublisher(next Publisher, logger *zap.Logger, opts ...BreakerOption) *BreakerPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &breakerOptions{
		name:             "outbox-publisher",
		failureThreshold: 5,
		openTimeout:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	b := &BreakerPublisher{next: next, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        o.name,
		MaxRequests: 1,
		Timeout:     o.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.failureThreshold
		},
		// Rejected payloads say nothing about broker health.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Publisher circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return b
}

func (b *BreakerPublisher) Publish(ctx context.Context, msg Message) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Publish(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	return err
}

// State reports the breaker state, for health checks.
func (b *BreakerPublisher) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerPublisher) Close() error {
	return b.next.Close()
}
