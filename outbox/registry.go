package outbox

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// EventSchema describes one allow-listed event type.
type EventSchema struct {
	Type string
	New  func() IntegrationEvent
}

// EventRegistry is the allow-list of event types the dispatcher may decode.
// Type tags are never resolved dynamically: anything not registered is rejected.
type EventRegistry struct {
	mu      sync.RWMutex
	schemas map[string]EventSchema
}

func NewEventRegistry() *EventRegistry {
	return &EventRegistry{schemas: make(map[string]EventSchema)}
}

// Register adds an event type. newEvent must return a pointer so payloads can be decoded into it.
func (r *EventRegistry) Register(eventType string, newEvent func() IntegrationEvent) error {
	if eventType == "" {
		return fmt.Errorf("%w: empty event type", ErrInvalidEvent)
	}
	if newEvent == nil {
		return fmt.Errorf("%w: nil factory for %s", ErrInvalidEvent, eventType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[eventType]; exists {
		return fmt.Errorf("%w: %s", ErrEventTypeAlreadyRegistered, eventType)
	}
	r.schemas[eventType] = EventSchema{Type: eventType, New: newEvent}
	return nil
}

// RegisterEvent registers T under eventType, decoding payloads into *T.
func RegisterEvent[T any, PT interface {
	*T
	IntegrationEvent
}](r *EventRegistry, eventType string) error {
	return r.Register(eventType, func() IntegrationEvent { return PT(new(T)) })
}

// Resolve returns the schema registered for eventType.
func (r *EventRegistry) Resolve(eventType string) (EventSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, ok := r.schemas[eventType]
	if !ok {
		return EventSchema{}, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	return schema, nil
}

// Decode resolves eventType and unmarshals payload into a fresh instance of its schema.
func (r *EventRegistry) Decode(eventType string, payload []byte) (IntegrationEvent, error) {
	schema, err := r.Resolve(eventType)
	if err != nil {
		return nil, err
	}

	event := schema.New()
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeserialization, eventType, err)
	}
	if tag := event.EventType(); tag != "" && tag != eventType {
		return nil, fmt.Errorf("%w: payload carries type %q, record says %q", ErrDeserialization, tag, eventType)
	}
	return event, nil
}

// Types lists the registered type tags in sorted order.
func (r *EventRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
