package outbox

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Header keys set on every published message.
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderEventVersion  = "event_version"
	HeaderOccurredOn    = "occurred_on_utc"
	HeaderRoutingKey    = "routing_key"
	HeaderCorrelationID = "correlation_id"
	HeaderContentType   = "content_type"
)

// MessageEncoder turns a decoded event into the broker message body.
type MessageEncoder interface {
	Encode(msg Message) ([]byte, error)
	ContentType() string
}

// JSONEncoder publishes the event as JSON.
type JSONEncoder struct{}

func (JSONEncoder) Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg.Event)
}

func (JSONEncoder) ContentType() string { return "application/json" }

// ProtoEncoder publishes the event as a serialized google.protobuf.Struct, for consumers
// that read protobuf without a generated schema per event.
type ProtoEncoder struct{}

func (ProtoEncoder) Encode(msg Message) ([]byte, error) {
	raw, err := json.Marshal(msg.Event)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build protobuf struct: %w", err)
	}
	return proto.Marshal(st)
}

func (ProtoEncoder) ContentType() string { return "application/x-protobuf" }

// NewMessageEncoder returns the encoder for "json" or "protobuf".
func NewMessageEncoder(name string) (MessageEncoder, error) {
	switch name {
	case "", "json":
		return JSONEncoder{}, nil
	case "protobuf", "proto":
		return ProtoEncoder{}, nil
	default:
		return nil, fmt.Errorf("unknown message encoding %q", name)
	}
}

// PartitionKeyer is implemented by events that know which aggregate they belong to.
// Brokers that partition use it to keep one aggregate's events in order.
type PartitionKeyer interface {
	PartitionKey() string
}

func partitionKey(msg Message) string {
	if k, ok := msg.Event.(PartitionKeyer); ok && k.PartitionKey() != "" {
		return k.PartitionKey()
	}
	return msg.Event.EventID().String()
}

// messageHeaders merges the stored headers (trace context) with the event metadata.
func messageHeaders(msg Message, encoder MessageEncoder) map[string]string {
	headers := make(map[string]string, len(msg.Headers)+7)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderEventID] = msg.Event.EventID().String()
	headers[HeaderEventType] = msg.Event.EventType()
	headers[HeaderEventVersion] = strconv.Itoa(msg.Event.EventVersion())
	headers[HeaderOccurredOn] = msg.Event.OccurredOnUTC().UTC().Format(time.RFC3339Nano)
	headers[HeaderRoutingKey] = msg.RoutingKey
	headers[HeaderContentType] = encoder.ContentType()
	if msg.CorrelationID != "" {
		headers[HeaderCorrelationID] = msg.CorrelationID
	}
	return headers
}

func encodeMessage(encoder MessageEncoder, msg Message) ([]byte, error) {
	body, err := encoder.Encode(msg)
	if err != nil {
		return nil, NonRetryable(fmt.Errorf("%w: %w: %w", ErrPublish, ErrSerialization, err))
	}
	return body, nil
}
