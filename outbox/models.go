package outbox

import (
	"time"

	"github.com/google/uuid"
)

// IntegrationEvent is a domain event that leaves the service through the outbox.
// Implementations carry their own identity, occurrence time, type tag and schema version.
type IntegrationEvent interface {
	EventID() uuid.UUID
	OccurredOnUTC() time.Time
	EventType() string
	EventVersion() int
}

// EventBase implements IntegrationEvent and is meant to be embedded in concrete events.
type EventBase struct {
	ID         uuid.UUID `json:"eventId"`
	OccurredOn time.Time `json:"occurredOnUtc"`
	Type       string    `json:"eventType"`
	Version    int       `json:"version"`
}

// NewEventBase stamps a fresh id and the current UTC time.
func NewEventBase(eventType string) EventBase {
	return EventBase{
		ID:         uuid.New(),
		OccurredOn: time.Now().UTC(),
		Type:       eventType,
		Version:    1,
	}
}

func (e EventBase) EventID() uuid.UUID       { return e.ID }
func (e EventBase) OccurredOnUTC() time.Time { return e.OccurredOn }
func (e EventBase) EventType() string        { return e.Type }
func (e EventBase) EventVersion() int        { return e.Version }

// Message is what a Publisher receives for one outbox record.
type Message struct {
	RecordID      uuid.UUID
	Event         IntegrationEvent
	RoutingKey    string
	CorrelationID string
	Headers       map[string]string
}
