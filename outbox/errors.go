package outbox

import (
	"context"
	"errors"
	"regexp"
	"unicode/utf8"

	"github.com/sony/gobreaker"

	"github.com/overtonx/catalog-service/outbox/storage"
)

var (
	ErrSerialization              = errors.New("event serialization failed")
	ErrDeserialization            = errors.New("event deserialization failed")
	ErrInvalidEvent               = errors.New("invalid integration event")
	ErrUnknownEventType           = errors.New("unknown event type")
	ErrEventTypeAlreadyRegistered = errors.New("event type already registered")
	ErrPayloadTooLarge            = errors.New("payload too large")
	ErrPublish                    = errors.New("publish failed")
	ErrBrokerNack                 = errors.New("broker rejected message")
	ErrBrokerUnavailable          = errors.New("broker unavailable")
	ErrRecordNotReplayable        = errors.New("only abandoned records can be replayed")

	// Re-exported so callers of the writer do not need the storage package.
	ErrEventAlreadyExists  = storage.ErrEventAlreadyExists
	ErrNoActiveTransaction = storage.ErrNoActiveTransaction
	ErrRecordNotFound      = storage.ErrRecordNotFound
)

// Reasons persisted in last_error for terminal and interrupted records.
const (
	ReasonPayloadTooLarge       = "PayloadTooLarge"
	ReasonUnknownEventType      = "UnknownEventType"
	ReasonDeserializationFailed = "DeserializationFailed"
	ReasonPublishTimeout        = "PublishTimeout"
	ReasonBrokerNack            = "BrokerNack"
	ReasonBrokerUnavailable     = "BrokerUnavailable"
	ReasonCircuitOpen           = "CircuitOpen"
	ReasonPublishFailure        = "PublishFailure"
	ReasonInterrupted           = "Interrupted"
	ReasonRecovered             = "RecoveredFromProcessing"
)

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks err as terminal: the retry policy stops and the record is abandoned.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsRetryable is the default retry classifier.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nr *nonRetryableError
	if errors.As(err, &nr) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Category maps an error to the stable reason stored on abandoned records.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPayloadTooLarge):
		return ReasonPayloadTooLarge
	case errors.Is(err, ErrUnknownEventType):
		return ReasonUnknownEventType
	case errors.Is(err, ErrDeserialization):
		return ReasonDeserializationFailed
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ReasonCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonPublishTimeout
	case errors.Is(err, ErrBrokerNack):
		return ReasonBrokerNack
	case errors.Is(err, ErrBrokerUnavailable):
		return ReasonBrokerUnavailable
	default:
		return ReasonPublishFailure
	}
}

var credentialsInURL = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/\s:@]+:[^/\s@]+@`)

// SanitizeError redacts URL credentials and bounds the text to the last_error column.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return truncateRunes(credentialsInURL.ReplaceAllString(err.Error(), "${1}***:***@"), storage.MaxLastErrorLength)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
