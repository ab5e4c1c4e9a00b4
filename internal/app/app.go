package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/overtonx/catalog-service/internal/catalog"
	"github.com/overtonx/catalog-service/internal/config"
	"github.com/overtonx/catalog-service/outbox"
	"github.com/overtonx/catalog-service/outbox/storage/sqlstore"
)

// Deps is everything the binaries share: the pool, the transaction manager and the outbox carrier.
type Deps struct {
	DB      *sql.DB
	TxMgr   *manager.Manager
	Store   *sqlstore.SQLStore
	Carrier *outbox.Carrier
}

// OpenDB opens the MySQL pool and checks it is reachable.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// NewDeps builds the outbox carrier over db with every catalog event registered.
func NewDeps(db *sql.DB, publisher outbox.Publisher, logger *zap.Logger, metrics outbox.MetricsCollector) (*Deps, error) {
	txMgr, err := manager.New(trmsql.NewDefaultFactory(db))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction manager: %w", err)
	}

	registry := outbox.NewEventRegistry()
	if err := catalog.RegisterEvents(registry); err != nil {
		return nil, err
	}

	store := sqlstore.NewSQLStore(db, logger)
	carrier, err := outbox.NewCarrier(store, txMgr,
		outbox.WithLogger(logger),
		outbox.WithMetrics(metrics),
		outbox.WithPublisher(publisher),
		outbox.WithRegistry(registry),
	)
	if err != nil {
		return nil, err
	}

	return &Deps{DB: db, TxMgr: txMgr, Store: store, Carrier: carrier}, nil
}

// Migrate creates the catalog and outbox tables.
func (d *Deps) Migrate(ctx context.Context) error {
	if err := catalog.NewSQLRepository(d.DB).Migrate(ctx); err != nil {
		return err
	}
	return d.Store.EnsureTables(ctx)
}

// NewPublisher builds the broker publisher selected by OUTBOX_PUBLISHER.
func NewPublisher(cfg *config.Config, logger *zap.Logger) (outbox.Publisher, error) {
	encoder, err := outbox.NewMessageEncoder(cfg.Outbox.Encoding)
	if err != nil {
		return nil, err
	}

	var publisher outbox.Publisher
	switch cfg.Outbox.Publisher {
	case "rabbitmq":
		publisher, err = outbox.NewRabbitMQPublisher(cfg.RabbitMQ.URL(), logger,
			outbox.WithRabbitMQExchange(cfg.RabbitMQ.Exchange),
			outbox.WithRabbitMQEncoder(encoder),
		)
	case "kafka":
		publisher, err = outbox.NewKafkaPublisher(logger,
			outbox.WithKafkaProducerProps(kafka.ConfigMap{"bootstrap.servers": cfg.Kafka.Brokers}),
			outbox.WithKafkaTopic(cfg.Kafka.Topic),
			outbox.WithKafkaEncoder(encoder),
		)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		publisher = &redisClientPublisher{
			Publisher: outbox.NewRedisStreamPublisher(client, logger,
				outbox.WithRedisStreamPrefix(cfg.Redis.StreamPrefix),
				outbox.WithRedisEncoder(encoder),
			),
			client: client,
		}
	case "nop":
		logger.Warn("Outbox publisher is disabled, records will be marked as published without a broker")
		publisher = outbox.NewNopPublisher()
	default:
		return nil, fmt.Errorf("unknown publisher %q", cfg.Outbox.Publisher)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s publisher: %w", cfg.Outbox.Publisher, err)
	}

	if cfg.Outbox.BreakerEnabled {
		publisher = outbox.NewBreakerPublisher(publisher, logger,
			outbox.WithBreakerName(cfg.Outbox.Publisher))
	}
	return publisher, nil
}

// redisClientPublisher closes the client it was built with.
type redisClientPublisher struct {
	outbox.Publisher
	client *redis.Client
}

func (p *redisClientPublisher) Close() error {
	if err := p.Publisher.Close(); err != nil {
		return err
	}
	return p.client.Close()
}

// EventProcessorOptions maps the outbox configuration onto processor options.
func EventProcessorOptions(cfg config.OutboxConfig) []outbox.EventProcessorOption {
	return []outbox.EventProcessorOption{
		outbox.WithEventProcessorBatchSize(cfg.BatchSize),
		outbox.WithEventProcessorMaxAttempts(cfg.MaxAttempts),
		outbox.WithEventProcessorMaxPayloadBytes(cfg.MaxPayloadBytes),
		outbox.WithEventProcessorRetryWaits(cfg.RetryWaits),
	}
}

// Workers returns the dispatch worker and, when a stuck timeout is configured, the reconciler.
func Workers(carrier *outbox.Carrier, cfg config.OutboxConfig, logger *zap.Logger) []outbox.Worker {
	processor := carrier.EventProcessor(EventProcessorOptions(cfg)...)
	workers := []outbox.Worker{
		outbox.NewBaseWorker("event_processor", cfg.PollInterval, logger, processor.ProcessEvents),
	}
	if cfg.StuckTimeout > 0 {
		reconciler := carrier.StuckEventService(outbox.WithStuckEventServiceStuckTimeout(cfg.StuckTimeout))
		workers = append(workers,
			outbox.NewBaseWorker("stuck_event_processor", cfg.ReconcileInterval, logger, reconciler.Reconcile))
	}
	return workers
}
