package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/overtonx/catalog-service/internal/app"
	"github.com/overtonx/catalog-service/internal/config"
	"github.com/overtonx/catalog-service/internal/logger"
	"github.com/overtonx/catalog-service/outbox"
)

const usage = `
Catalog outbox - operator CLI

Usage:
  outboxctl [flags] command [args]

Commands:
  migrate          Create the catalog and outbox tables
  replay <id>      Copy an Abandoned record into a new Pending record
  purge            Delete Succeeded records older than the retention window
  reconcile        Return records stuck in Processing to Failed

Flags:
  -retention duration       Retention for purge (default OUTBOX_RETENTION)
  -stuck-timeout duration   Claim age after which a record is stuck (default OUTBOX_STUCK_TIMEOUT or 10m)
  -batch int                Batch size for purge and reconcile (default 500)
`

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	defaultStuck := cfg.Outbox.StuckTimeout
	if defaultStuck <= 0 {
		defaultStuck = 10 * time.Minute
	}
	retention := flag.Duration("retention", cfg.Outbox.Retention, "Retention for purge")
	stuckTimeout := flag.Duration("stuck-timeout", defaultStuck, "Claim age after which a record is stuck")
	batch := flag.Int("batch", 500, "Batch size for purge and reconcile")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	zl, err := logger.New(cfg.Server.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenDB(ctx, cfg.Database.DSN)
	if err != nil {
		zl.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Operator commands never publish.
	deps, err := app.NewDeps(db, outbox.NewNopPublisher(), zl, nil)
	if err != nil {
		zl.Fatal("Failed to create outbox carrier", zap.Error(err))
	}

	switch command := flag.Arg(0); command {
	case "migrate":
		err = deps.Migrate(ctx)
		if err == nil {
			zl.Info("Schema is up to date")
		}
	case "replay":
		err = runReplay(ctx, deps.Carrier, zl, flag.Arg(1))
	case "purge":
		var deleted int64
		deleted, err = deps.Carrier.CleanupService(
			outbox.WithCleanupServiceBatchSize(*batch),
			outbox.WithCleanupServiceSucceededRetention(*retention),
		).PurgeSucceeded(ctx)
		if err == nil {
			zl.Info("Purge completed", zap.Int64("deleted", deleted), zap.Duration("retention", *retention))
		}
	case "reconcile":
		var recovered int
		recovered, err = deps.Carrier.StuckEventService(
			outbox.WithStuckEventServiceBatchSize(*batch),
			outbox.WithStuckEventServiceStuckTimeout(*stuckTimeout),
		).RecoverStuckEvents(ctx)
		if err == nil {
			zl.Info("Reconciliation completed", zap.Int("recovered", recovered), zap.Duration("stuck_timeout", *stuckTimeout))
		}
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		zl.Error("Command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		zl.Sync()
		os.Exit(1)
	}
}

func runReplay(ctx context.Context, carrier *outbox.Carrier, zl *zap.Logger, arg string) error {
	id, err := uuid.Parse(arg)
	if err != nil {
		return fmt.Errorf("replay needs an outbox record id: %w", err)
	}
	newID, err := carrier.ReplayService().Replay(ctx, id)
	if err != nil {
		return err
	}
	zl.Info("Record replayed", zap.String("original_id", id.String()), zap.String("replay_id", newID.String()))
	return nil
}
