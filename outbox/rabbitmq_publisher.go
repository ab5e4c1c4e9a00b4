package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// amqpDialer opens a channel and returns a function that closes it with its connection.
type amqpDialer func() (amqpChannel, func() error, error)

func dialAMQP(url string) amqpDialer {
	return func() (amqpChannel, func() error, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, err
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return ch, func() error {
			_ = ch.Close()
			return conn.Close()
		}, nil
	}
}

// RabbitMQPublisher publishes to a durable topic exchange with publisher confirms.
// A broken channel is dropped and reopened on the next Publish.
type RabbitMQPublisher struct {
	logger         *zap.Logger
	dial           amqpDialer
	exchange       string
	confirmTimeout time.Duration
	encoder        MessageEncoder

	mu       sync.Mutex
	channel  amqpChannel
	confirms chan amqp.Confirmation
	closeFn  func() error
}

// NewRabbitMQPublisher connects to url and declares the exchange.
func NewRabbitMQPublisher(url string, logger *zap.Logger, opts ...RabbitMQPublisherOption) (*RabbitMQPublisher, error) {
	p := newRabbitMQPublisher(dialAMQP(url), logger, opts...)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureChannel(); err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %s", SanitizeError(err))
	}
	return p, nil
}

func newRabbitMQPublisher(dial amqpDialer, logger *zap.Logger, opts ...RabbitMQPublisherOption) *RabbitMQPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &RabbitMQPublisher{
		logger:         logger,
		dial:           dial,
		exchange:       defaultRabbitMQExchange,
		confirmTimeout: defaultConfirmTimeout,
		encoder:        JSONEncoder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends msg with the routing key and waits for the broker confirm.
// Publishes are serialized so confirms match their messages.
func (p *RabbitMQPublisher) Publish(ctx context.Context, msg Message) error {
	body, err := encodeMessage(p.encoder, msg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		return fmt.Errorf("%w: %w: %s", ErrPublish, ErrBrokerUnavailable, SanitizeError(err))
	}

	headers := amqp.Table{}
	for k, v := range messageHeaders(msg, p.encoder) {
		headers[k] = v
	}

	publishing := amqp.Publishing{
		Headers:       headers,
		ContentType:   p.encoder.ContentType(),
		DeliveryMode:  amqp.Persistent,
		CorrelationId: msg.CorrelationID,
		MessageId:     msg.Event.EventID().String(),
		Timestamp:     msg.Event.OccurredOnUTC(),
		Type:          msg.Event.EventType(),
		Body:          body,
	}

	confirmCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	if err := p.channel.PublishWithContext(confirmCtx, p.exchange, msg.RoutingKey, false, false, publishing); err != nil {
		p.resetChannel()
		if errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("%w: %w: %w", ErrPublish, ErrBrokerUnavailable, err)
		}
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			p.resetChannel()
			return fmt.Errorf("%w: %w: channel closed before confirm", ErrPublish, ErrBrokerUnavailable)
		}
		if !confirm.Ack {
			return fmt.Errorf("%w: %w: delivery tag %d", ErrPublish, ErrBrokerNack, confirm.DeliveryTag)
		}
		return nil
	case <-confirmCtx.Done():
		// The pending confirm would be matched to the next message.
		p.resetChannel()
		return fmt.Errorf("%w: waiting for confirm: %w", ErrPublish, confirmCtx.Err())
	}
}

// Close closes the channel and its connection.
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.Info("Closing rabbitmq publisher")
	if p.closeFn == nil {
		return nil
	}
	err := p.closeFn()
	p.channel, p.confirms, p.closeFn = nil, nil, nil
	return err
}

func (p *RabbitMQPublisher) ensureChannel() error {
	if p.channel != nil {
		return nil
	}

	ch, closeFn, err := p.dial()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = closeFn()
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = closeFn()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	p.channel = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.closeFn = closeFn
	p.logger.Info("RabbitMQ channel opened", zap.String("exchange", p.exchange))
	return nil
}

func (p *RabbitMQPublisher) resetChannel() {
	if p.closeFn != nil {
		if err := p.closeFn(); err != nil {
			p.logger.Debug("Closing broken rabbitmq channel", zap.Error(err))
		}
	}
	p.channel, p.confirms, p.closeFn = nil, nil, nil
}
