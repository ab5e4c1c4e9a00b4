package app

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/overtonx/catalog-service/internal/catalog"
	"github.com/overtonx/catalog-service/internal/config"
	"github.com/overtonx/catalog-service/outbox"
)

func testConfig() *config.Config {
	return &config.Config{
		Outbox: config.OutboxConfig{
			PollInterval:      time.Second,
			BatchSize:         10,
			MaxPayloadBytes:   1024,
			MaxAttempts:       3,
			ReconcileInterval: time.Minute,
			Publisher:         "nop",
			Encoding:          "json",
		},
		Redis: config.RedisConfig{StreamPrefix: "catalog:"},
	}
}

func TestNewPublisher_Nop(t *testing.T) {
	p, err := NewPublisher(testConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &outbox.NopPublisher{}, p)
	assert.NoError(t, p.Close())
}

func TestNewPublisher_RedisWithBreaker(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Outbox.Publisher = "redis"
	cfg.Outbox.Encoding = "protobuf"
	cfg.Outbox.BreakerEnabled = true
	cfg.Redis.Addr = mr.Addr()

	p, err := NewPublisher(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &outbox.BreakerPublisher{}, p)
	assert.NoError(t, p.Close())
}

func TestNewPublisher_UnknownEncoding(t *testing.T) {
	cfg := testConfig()
	cfg.Outbox.Encoding = "xml"

	_, err := NewPublisher(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNewPublisher_UnknownPublisher(t *testing.T) {
	cfg := testConfig()
	cfg.Outbox.Publisher = "sqs"

	_, err := NewPublisher(cfg, zap.NewNop())
	assert.ErrorContains(t, err, "sqs")
}

func TestNewDeps_RegistersCatalogEvents(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	deps, err := NewDeps(db, outbox.NewNopPublisher(), zap.NewNop(), nil)
	require.NoError(t, err)

	types := deps.Carrier.Registry().Types()
	assert.Contains(t, types, catalog.ProductUpdatedEventType)
	assert.Contains(t, types, catalog.CategoryDeletedEventType)
}

func TestDeps_Migrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	deps, err := NewDeps(db, outbox.NewNopPublisher(), zap.NewNop(), nil)
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS categories").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS products").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS outbox_messages").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, deps.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkers(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	deps, err := NewDeps(db, outbox.NewNopPublisher(), zap.NewNop(), nil)
	require.NoError(t, err)

	cfg := testConfig().Outbox
	workers := Workers(deps.Carrier, cfg, zap.NewNop())
	require.Len(t, workers, 1)
	assert.Equal(t, "event_processor", workers[0].Name())

	cfg.StuckTimeout = 10 * time.Minute
	workers = Workers(deps.Carrier, cfg, zap.NewNop())
	require.Len(t, workers, 2)
	assert.Equal(t, "stuck_event_processor", workers[1].Name())
}
