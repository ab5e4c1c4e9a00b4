package outbox

import (
	"context"
	"time"
)

// DefaultRetryWaits are the waits between publish attempts within one dispatch cycle.
var DefaultRetryWaits = []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second}

// RetryClassifier decides whether a failed attempt may be retried.
type RetryClassifier func(err error) bool

// OnRetryFunc is called before each wait. attempt is 1-based.
type OnRetryFunc func(attempt int, wait time.Duration, err error)

// RetryPolicy retries an operation with a fixed escalating sequence of waits.
// It is independent of the attempts counter persisted on a record: one exhausted
// Execute counts as one failed cycle.
type RetryPolicy struct {
	waits      []time.Duration
	onRetry    OnRetryFunc
	classifier RetryClassifier
}

type RetryPolicyOption func(*RetryPolicy)

func WithOnRetry(fn OnRetryFunc) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.onRetry = fn
	}
}

func WithRetryClassifier(fn RetryClassifier) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.classifier = fn
	}
}

// NewRetryPolicy creates a policy that tries len(waits)+1 times.
func NewRetryPolicy(waits []time.Duration, opts ...RetryPolicyOption) *RetryPolicy {
	p := &RetryPolicy{
		waits:      append([]time.Duration(nil), waits...),
		classifier: IsRetryable,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait returns the wait before retry number attempt (1-based) and whether such a retry exists.
func (p *RetryPolicy) Wait(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > len(p.waits) {
		return 0, false
	}
	return p.waits[attempt-1], true
}

// MaxTries is the total number of calls Execute makes when every call fails.
func (p *RetryPolicy) MaxTries() int {
	return len(p.waits) + 1
}

// Execute runs fn until it succeeds, returns a non-retryable error, the waits run out
// or ctx is done. The last error is returned.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !p.classifier(err) {
			return err
		}

		wait, ok := p.Wait(attempt)
		if !ok {
			return err
		}
		if p.onRetry != nil {
			p.onRetry(attempt, wait, err)
		}
		if sleepErr := sleepWithContext(ctx, wait); sleepErr != nil {
			return err
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
