package outbox

import (
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const (
	defaultBatchSize          = 20
	defaultMaxAttempts        = 5
	defaultMaxPayloadBytes    = 256 * 1024
	defaultPersistTimeout     = 30 * time.Second
	defaultStuckEventTimeout  = 10 * time.Minute
	defaultSucceededRetention = 7 * 24 * time.Hour
	defaultCleanupBatchSize   = 500
	defaultRabbitMQExchange   = "catalog.integration"
	defaultKafkaTopic         = "catalog.integration"
	defaultConfirmTimeout     = 10 * time.Second
	defaultRedisStreamPrefix  = "catalog:"
)

//
// Carrier Options
//

type CarrierOption func(*Carrier)

func WithLogger(logger *zap.Logger) CarrierOption {
	return func(c *Carrier) {
		c.logger = logger
	}
}

func WithMetrics(metrics MetricsCollector) CarrierOption {
	return func(c *Carrier) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

func WithPublisher(publisher Publisher) CarrierOption {
	return func(c *Carrier) {
		c.publisher = publisher
	}
}

func WithRegistry(registry *EventRegistry) CarrierOption {
	return func(c *Carrier) {
		c.registry = registry
	}
}

//
// KafkaPublisher Options
//

type KafkaPublisherOption func(*KafkaPublisher)

func WithKafkaProducerProps(props kafka.ConfigMap) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		for k, v := range props {
			p.producerProps[k] = v
		}
	}
}

func WithKafkaTopic(topic string) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		p.topic = topic
	}
}

// WithKafkaTopicResolver maps a routing key to a topic. The default sends everything to one topic.
func WithKafkaTopicResolver(resolver func(routingKey string) string) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		p.topicResolver = resolver
	}
}

func WithKafkaHeaderBuilder(builder KafkaHeaderBuilder) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		p.headerBuilder = builder
	}
}

func WithKafkaEncoder(encoder MessageEncoder) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		p.encoder = encoder
	}
}

//
// RabbitMQPublisher Options
//

type RabbitMQPublisherOption func(*RabbitMQPublisher)

func WithRabbitMQExchange(exchange string) RabbitMQPublisherOption {
	return func(p *RabbitMQPublisher) {
		p.exchange = exchange
	}
}

func WithRabbitMQConfirmTimeout(timeout time.Duration) RabbitMQPublisherOption {
	return func(p *RabbitMQPublisher) {
		p.confirmTimeout = timeout
	}
}

func WithRabbitMQEncoder(encoder MessageEncoder) RabbitMQPublisherOption {
	return func(p *RabbitMQPublisher) {
		p.encoder = encoder
	}
}

//
// RedisStreamPublisher Options
//

type RedisStreamPublisherOption func(*RedisStreamPublisher)

func WithRedisStreamPrefix(prefix string) RedisStreamPublisherOption {
	return func(p *RedisStreamPublisher) {
		p.prefix = prefix
	}
}

// WithRedisMaxLen caps each stream approximately. Zero keeps every entry.
func WithRedisMaxLen(maxLen int64) RedisStreamPublisherOption {
	return func(p *RedisStreamPublisher) {
		p.maxLen = maxLen
	}
}

func WithRedisEncoder(encoder MessageEncoder) RedisStreamPublisherOption {
	return func(p *RedisStreamPublisher) {
		p.encoder = encoder
	}
}

//
// BreakerPublisher Options
//

type BreakerOption func(*breakerOptions)

type breakerOptions struct {
	name             string
	failureThreshold uint32
	openTimeout      time.Duration
}

func WithBreakerName(name string) BreakerOption {
	return func(o *breakerOptions) {
		o.name = name
	}
}

// WithBreakerFailureThreshold sets how many consecutive failures open the circuit.
func WithBreakerFailureThreshold(n uint32) BreakerOption {
	return func(o *breakerOptions) {
		o.failureThreshold = n
	}
}

func WithBreakerOpenTimeout(d time.Duration) BreakerOption {
	return func(o *breakerOptions) {
		o.openTimeout = d
	}
}

//
// EventProcessor Options
//

type EventProcessorOption func(*eventProcessorOptions)

type eventProcessorOptions struct {
	batchSize       int
	maxAttempts     int
	maxPayloadBytes int
	retryWaits      []time.Duration
	persistTimeout  time.Duration
	clock           func() time.Time
}

func defaultEventProcessorOptions() *eventProcessorOptions {
	return &eventProcessorOptions{
		batchSize:       defaultBatchSize,
		maxAttempts:     defaultMaxAttempts,
		maxPayloadBytes: defaultMaxPayloadBytes,
		retryWaits:      DefaultRetryWaits,
		persistTimeout:  defaultPersistTimeout,
		clock:           func() time.Time { return time.Now().UTC() },
	}
}

func WithEventProcessorBatchSize(size int) EventProcessorOption {
	return func(o *eventProcessorOptions) {
		o.batchSize = size
	}
}

func WithEventProcessorMaxAttempts(attempts int) EventProcessorOption {
	return func(o *eventProcessorOptions) {
		o.maxAttempts = attempts
	}
}

func WithEventProcessorMaxPayloadBytes(n int) EventProcessorOption {
	return func(o *eventProcessorOptions) {
		o.maxPayloadBytes = n
	}
}

func WithEventProcessorRetryWaits(waits []time.Duration) EventProcessorOption {
	return func(o *eventProcessorOptions) {
		o.retryWaits = waits
	}
}

func WithEventProcessorPersistTimeout(d time.Duration) EventProcessorOption {
	return func(o *eventProcessorOptions) {
		o.persistTimeout = d
	}
}

func WithEventProcessorClock(clock func() time.Time) EventProcessorOption {
	return func(o *eventProcessorOptions) {
		o.clock = clock
	}
}

//
// StuckEventService Options
//

type StuckEventServiceOption func(*stuckEventServiceOptions)

type stuckEventServiceOptions struct {
	batchSize    int
	stuckTimeout time.Duration
}

func WithStuckEventServiceBatchSize(size int) StuckEventServiceOption {
	return func(o *stuckEventServiceOptions) {
		o.batchSize = size
	}
}

func WithStuckEventServiceStuckTimeout(timeout time.Duration) StuckEventServiceOption {
	return func(o *stuckEventServiceOptions) {
		o.stuckTimeout = timeout
	}
}

//
// CleanupService Options
//

type CleanupServiceOption func(*cleanupServiceOptions)

type cleanupServiceOptions struct {
	batchSize          int
	succeededRetention time.Duration
}

func WithCleanupServiceBatchSize(size int) CleanupServiceOption {
	return func(o *cleanupServiceOptions) {
		o.batchSize = size
	}
}

func WithCleanupServiceSucceededRetention(retention time.Duration) CleanupServiceOption {
	return func(o *cleanupServiceOptions) {
		o.succeededRetention = retention
	}
}
