package outbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type keyedTestEvent struct {
	EventBase
	ProductID string `json:"productId"`
}

func (e keyedTestEvent) PartitionKey() string { return e.ProductID }

func TestNewMessageEncoder(t *testing.T) {
	enc, err := NewMessageEncoder("")
	require.NoError(t, err)
	assert.Equal(t, "application/json", enc.ContentType())

	enc, err = NewMessageEncoder("protobuf")
	require.NoError(t, err)
	assert.Equal(t, "application/x-protobuf", enc.ContentType())

	_, err = NewMessageEncoder("avro")
	assert.Error(t, err)
}

func TestProtoEncoder_Encode(t *testing.T) {
	msg := newTestMessage()

	body, err := ProtoEncoder{}.Encode(msg)
	require.NoError(t, err)

	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(body, &st))
	fields := st.AsMap()
	assert.Equal(t, "phone", fields["name"])
	assert.Equal(t, "TestEvent", fields["eventType"])
	assert.Equal(t, msg.Event.EventID().String(), fields["eventId"])
	assert.Equal(t, float64(1), fields["version"])
}

func TestEncodeMessage_Failure(t *testing.T) {
	msg := newTestMessage()
	msg.Event = &unserializableEvent{EventBase: NewEventBase("Broken"), Updates: make(chan int)}

	_, err := encodeMessage(JSONEncoder{}, msg)

	assert.ErrorIs(t, err, ErrSerialization)
	assert.False(t, IsRetryable(err))
}

func TestMessageHeaders(t *testing.T) {
	msg := newTestMessage()

	headers := messageHeaders(msg, JSONEncoder{})

	assert.Equal(t, "00-trace", headers["traceparent"])
	assert.Equal(t, msg.Event.EventID().String(), headers[HeaderEventID])
	assert.Equal(t, "TestEvent", headers[HeaderEventType])
	assert.Equal(t, "1", headers[HeaderEventVersion])
	assert.Equal(t, "catalog.test.updated", headers[HeaderRoutingKey])
	assert.Equal(t, "corr-1", headers[HeaderCorrelationID])
	assert.Equal(t, "application/json", headers[HeaderContentType])
	assert.Len(t, msg.Headers, 1, "stored headers are not mutated")
}

func TestPartitionKey(t *testing.T) {
	msg := newTestMessage()
	assert.Equal(t, msg.Event.EventID().String(), partitionKey(msg))

	msg.Event = keyedTestEvent{EventBase: NewEventBase("Keyed"), ProductID: "42"}
	assert.Equal(t, "42", partitionKey(msg))
}
