package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStreamPublisher appends each event to a Redis stream named prefix+routingKey.
type RedisStreamPublisher struct {
	client  redis.UniversalClient
	logger  *zap.Logger
	prefix  string
	maxLen  int64
	encoder MessageEncoder
}

// NewRedisStreamPublisher publishes through client. The caller owns the client.
func NewRedisStreamPublisher(client redis.UniversalClient, logger *zap.Logger, opts ...RedisStreamPublisherOption) *RedisStreamPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &RedisStreamPublisher{
		client:  client,
		logger:  logger,
		prefix:  defaultRedisStreamPrefix,
		encoder: JSONEncoder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, msg Message) error {
	body, err := encodeMessage(p.encoder, msg)
	if err != nil {
		return err
	}
	headers, err := json.Marshal(messageHeaders(msg, p.encoder))
	if err != nil {
		return NonRetryable(fmt.Errorf("%w: %w: %w", ErrPublish, ErrSerialization, err))
	}

	args := &redis.XAddArgs{
		Stream: p.prefix + msg.RoutingKey,
		Values: map[string]interface{}{
			HeaderEventID:   msg.Event.EventID().String(),
			HeaderEventType: msg.Event.EventType(),
			"headers":       string(headers),
			"payload":       body,
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrPublish, ctx.Err())
		}
		return fmt.Errorf("%w: %w: %w", ErrPublish, ErrBrokerUnavailable, err)
	}

	p.logger.Debug("Event appended to redis stream",
		zap.String("stream", args.Stream),
		zap.String("entry_id", id),
		zap.String("event_id", msg.Event.EventID().String()))
	return nil
}

func (p *RedisStreamPublisher) Close() error {
	return nil
}
