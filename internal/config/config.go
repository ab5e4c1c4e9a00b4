package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the catalog service and the operator CLI.
// Environment variables win; a .env file is loaded by the binaries before Load.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Outbox   OutboxConfig
	RabbitMQ RabbitMQConfig
	Kafka    KafkaConfig
	Redis    RedisConfig
}

type ServerConfig struct {
	Addr        string
	Environment string
}

type DatabaseConfig struct {
	DSN string
}

type OutboxConfig struct {
	PollInterval      time.Duration
	BatchSize         int
	MaxPayloadBytes   int
	MaxAttempts       int
	RetryWaits        []time.Duration
	StuckTimeout      time.Duration
	ReconcileInterval time.Duration
	Retention         time.Duration
	Publisher         string
	Encoding          string
	BreakerEnabled    bool
}

type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
	Exchange string
}

// URL builds the amqp:// connection string.
func (c RabbitMQConfig) URL() string {
	vhost := strings.TrimPrefix(c.VHost, "/")
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, vhost)
}

type KafkaConfig struct {
	Brokers string
	Topic   string
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	StreamPrefix string
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	retryWaits, err := parseDurations(getEnv("OUTBOX_RETRY_WAITS", "1s,2s,5s"))
	if err != nil {
		return nil, fmt.Errorf("OUTBOX_RETRY_WAITS: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:        getEnv("HTTP_ADDR", ":8080"),
			Environment: getEnv("APP_ENV", "development"),
		},
		Database: DatabaseConfig{
			DSN: getEnv("MYSQL_DSN", "root:password@tcp(localhost:3306)/catalog?parseTime=true"),
		},
		Outbox: OutboxConfig{
			PollInterval:      time.Duration(getEnvAsInt("OUTBOX_POLL_INTERVAL_SECONDS", 5)) * time.Second,
			BatchSize:         getEnvAsInt("OUTBOX_BATCH_SIZE", 20),
			MaxPayloadBytes:   getEnvAsInt("OUTBOX_MAX_PAYLOAD_BYTES", 262144),
			MaxAttempts:       getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 5),
			RetryWaits:        retryWaits,
			StuckTimeout:      getEnvAsDuration("OUTBOX_STUCK_TIMEOUT", 0),
			ReconcileInterval: getEnvAsDuration("OUTBOX_RECONCILE_INTERVAL", time.Minute),
			Retention:         getEnvAsDuration("OUTBOX_RETENTION", 7*24*time.Hour),
			Publisher:         getEnv("OUTBOX_PUBLISHER", "rabbitmq"),
			Encoding:          getEnv("OUTBOX_ENCODING", "json"),
			BreakerEnabled:    getEnvAsBool("OUTBOX_BREAKER_ENABLED", false),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getEnvAsInt("RABBITMQ_PORT", 5672),
			User:     getEnv("RABBITMQ_USER", "guest"),
			Password: getEnv("RABBITMQ_PASSWORD", "guest"),
			VHost:    getEnv("RABBITMQ_VHOST", "/"),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "catalog.integration"),
		},
		Kafka: KafkaConfig{
			Brokers: getEnv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getEnv("KAFKA_TOPIC", "catalog.integration"),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			StreamPrefix: getEnv("REDIS_STREAM_PREFIX", "catalog:"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the dispatcher cannot run with.
func (c *Config) Validate() error {
	var errs []error
	o := c.Outbox
	if o.PollInterval <= 0 {
		errs = append(errs, errors.New("OUTBOX_POLL_INTERVAL_SECONDS must be positive"))
	}
	if o.BatchSize <= 0 {
		errs = append(errs, errors.New("OUTBOX_BATCH_SIZE must be positive"))
	}
	if o.MaxPayloadBytes <= 0 {
		errs = append(errs, errors.New("OUTBOX_MAX_PAYLOAD_BYTES must be positive"))
	}
	if o.MaxAttempts <= 0 {
		errs = append(errs, errors.New("OUTBOX_MAX_ATTEMPTS must be positive"))
	}
	if o.StuckTimeout < 0 {
		errs = append(errs, errors.New("OUTBOX_STUCK_TIMEOUT must not be negative"))
	}
	if o.StuckTimeout > 0 && o.ReconcileInterval <= 0 {
		errs = append(errs, errors.New("OUTBOX_RECONCILE_INTERVAL must be positive when reconciliation is enabled"))
	}
	switch o.Publisher {
	case "rabbitmq", "kafka", "redis", "nop":
	default:
		errs = append(errs, fmt.Errorf("unknown OUTBOX_PUBLISHER %q", o.Publisher))
	}
	switch o.Encoding {
	case "json", "protobuf":
	default:
		errs = append(errs, fmt.Errorf("unknown OUTBOX_ENCODING %q", o.Encoding))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("MYSQL_DSN is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}

func parseDurations(s string) ([]time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return []time.Duration{}, nil
	}
	parts := strings.Split(s, ",")
	waits := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		if d < 0 {
			return nil, fmt.Errorf("negative wait %s", d)
		}
		waits = append(waits, d)
	}
	return waits, nil
}
