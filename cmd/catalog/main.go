package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/overtonx/catalog-service/internal/app"
	"github.com/overtonx/catalog-service/internal/catalog"
	"github.com/overtonx/catalog-service/internal/config"
	"github.com/overtonx/catalog-service/internal/httpapi"
	"github.com/overtonx/catalog-service/internal/logger"
	"github.com/overtonx/catalog-service/outbox"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zl, err := logger.New(cfg.Server.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	if cfg.Server.Environment == logger.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenDB(ctx, cfg.Database.DSN)
	if err != nil {
		zl.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// 1. Publisher
	publisher, err := app.NewPublisher(cfg, zl)
	if err != nil {
		zl.Fatal("Failed to create publisher", zap.Error(err))
	}

	// 2. Carrier, shared by the catalog writes and the dispatcher
	deps, err := app.NewDeps(db, publisher, zl, outbox.NewOpenTelemetryMetricsCollector())
	if err != nil {
		zl.Fatal("Failed to create outbox carrier", zap.Error(err))
	}
	if err := deps.Migrate(ctx); err != nil {
		zl.Fatal("Failed to migrate database", zap.Error(err))
	}

	// 3. Dispatcher
	dispatcher := outbox.NewDispatcher(zl, app.Workers(deps.Carrier, cfg.Outbox, zl)...)
	dispatcher.OnShutdown(deps.Carrier.Close)

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Start(ctx)
	}()

	// 4. HTTP API
	service := catalog.NewService(catalog.NewSQLRepository(db), deps.TxMgr, deps.Carrier.Writer(), zl)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewRouter(service, zl),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zl.Info("HTTP server started", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	failed := false
	select {
	case <-ctx.Done():
		zl.Info("Shutdown signal received")
	case err := <-serverErr:
		zl.Error("HTTP server failed", zap.Error(err))
		failed = true
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// Start returns once the in-flight cycle is persisted and the publisher is closed.
	<-dispatcherDone
	zl.Info("Service stopped")

	if failed {
		zl.Sync()
		os.Exit(1)
	}
}
