package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// KafkaHeaderBuilder builds Kafka message headers for a message.
type KafkaHeaderBuilder func(msg Message) []kafka.Header

// NopPublisher is a publisher that does nothing. Useful for testing.
type NopPublisher struct{}

func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

func (p *NopPublisher) Publish(_ context.Context, _ Message) error {
	return nil
}

func (p *NopPublisher) Close() error {
	return nil
}

// kafkaProducer is the part of *kafka.Producer the publisher uses.
type kafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// KafkaPublisher sends events to Kafka and waits for the delivery report of each one.
type KafkaPublisher struct {
	logger        *zap.Logger
	producer      kafkaProducer
	producerProps kafka.ConfigMap
	topic         string
	topicResolver func(routingKey string) string
	headerBuilder KafkaHeaderBuilder
	encoder       MessageEncoder
}

// NewKafkaPublisher creates a new KafkaPublisher with functional options.
func NewKafkaPublisher(logger *zap.Logger, opts ...KafkaPublisherOption) (*KafkaPublisher, error) {
	p := newKafkaPublisher(logger, opts...)

	producer, err := kafka.NewProducer(&p.producerProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	p.producer = producer

	go p.handleEvents()

	return p, nil
}

func newKafkaPublisher(logger *zap.Logger, opts ...KafkaPublisherOption) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &KafkaPublisher{
		logger: logger,
		producerProps: kafka.ConfigMap{
			"acks":               "all",
			"enable.idempotence": true,
			"linger.ms":          10,
			"compression.type":   "snappy",
		},
		topic:   defaultKafkaTopic,
		encoder: JSONEncoder{},
	}
	p.headerBuilder = p.buildKafkaHeaders

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish produces one message and blocks until the broker acknowledges it or ctx ends.
func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	value, err := encodeMessage(p.encoder, msg)
	if err != nil {
		return err
	}

	topic := p.topic
	if p.topicResolver != nil {
		if resolved := p.topicResolver(msg.RoutingKey); resolved != "" {
			topic = resolved
		}
	}

	p.logger.Debug("Publishing event to Kafka",
		zap.String("event_id", msg.Event.EventID().String()),
		zap.String("event_type", msg.Event.EventType()),
		zap.String("topic", topic),
	)

	delivery := make(chan kafka.Event, 1)
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(partitionKey(msg)),
		Value:          value,
		Headers:        p.headerBuilder(msg),
		Timestamp:      msg.Event.OccurredOnUTC(),
	}, delivery)
	if err != nil {
		return classifyKafkaError(err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for delivery report: %w", ErrPublish, ctx.Err())
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("%w: unexpected delivery event %v", ErrPublish, e)
		}
		if m.TopicPartition.Error != nil {
			return classifyKafkaError(m.TopicPartition.Error)
		}
		return nil
	}
}

// Close flushes the producer and closes the Kafka connection.
func (p *KafkaPublisher) Close() error {
	p.logger.Info("Closing kafka producer")
	if remaining := p.producer.Flush(15 * 1000); remaining > 0 {
		p.logger.Warn("Kafka producer closed with undelivered messages", zap.Int("remaining", remaining))
	}
	p.producer.Close()
	return nil
}

// handleEvents logs producer-level events. Delivery reports go to per-message channels.
func (p *KafkaPublisher) handleEvents() {
	for e := range p.producer.Events() {
		switch ev := e.(type) {
		case kafka.Error:
			p.logger.Error("Kafka error", zap.Error(ev), zap.Bool("fatal", ev.IsFatal()))
		default:
			p.logger.Debug("Kafka event", zap.String("event", ev.String()))
		}
	}
}

func (p *KafkaPublisher) buildKafkaHeaders(msg Message) []kafka.Header {
	headers := messageHeaders(msg, p.encoder)
	out := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}

func classifyKafkaError(err error) error {
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		switch {
		case kerr.IsFatal(), kerr.Code() == kafka.ErrMsgSizeTooLarge, kerr.Code() == kafka.ErrInvalidMsg:
			return NonRetryable(fmt.Errorf("%w: %w: %w", ErrPublish, ErrBrokerNack, err))
		case kerr.Code() == kafka.ErrAllBrokersDown, kerr.Code() == kafka.ErrTransport, kerr.Code() == kafka.ErrQueueFull:
			return fmt.Errorf("%w: %w: %w", ErrPublish, ErrBrokerUnavailable, err)
		case kerr.Code() == kafka.ErrMsgTimedOut, kerr.Code() == kafka.ErrTimedOut:
			return fmt.Errorf("%w: %w: %w", ErrPublish, context.DeadlineExceeded, err)
		}
	}
	return fmt.Errorf("%w: %w: %w", ErrPublish, ErrBrokerNack, err)
}
