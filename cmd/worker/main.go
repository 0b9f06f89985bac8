package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benvon/wellness-tracker/internal/config"
	"github.com/benvon/wellness-tracker/internal/database"
	"github.com/benvon/wellness-tracker/internal/logger"
	"github.com/benvon/wellness-tracker/internal/queue"
	"github.com/benvon/wellness-tracker/internal/telemetry"
	"github.com/benvon/wellness-tracker/internal/workers"
	"go.uber.org/zap"
)

const (
	dlqGCInterval  = time.Hour
	dlqGCRetention = 7 * 24 * time.Hour
)

var version = "dev"

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	configPath := flag.String("config", os.Getenv(config.ConfigPathEnv), "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.RabbitMQURL == "" {
		log.Fatalf("RABBITMQ_URL is required for the worker")
	}

	debugMode := cfg.DebugMode || *debugFlag

	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		// Sync fails on stderr for some platforms
		_ = logger.Sync(zapLogger)
	}()

	flush, err := telemetry.InitSentry(cfg.SentryDSN, cfg.Environment, version)
	if err != nil {
		zapLogger.Warn("sentry_init_failed", zap.Error(err))
	}
	defer flush()

	zapLogger.Info("worker_starting",
		zap.Bool("debug_mode", debugMode),
		zap.Int("prefetch", cfg.RabbitMQPrefetch),
	)

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("database_connect_failed", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("database_close_failed", zap.Error(err))
		}
	}()

	feed, err := database.NewPostgresFeed(db, cfg.DatabaseURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("change_feed_start_failed", zap.Error(err))
	}
	defer func() { _ = feed.Close() }()
	store := database.NewStore(db, feed, zapLogger)

	eventQueue, err := queue.NewRabbitMQQueue(cfg.RabbitMQURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("rabbitmq_connect_failed", zap.Error(err))
	}
	defer func() {
		if err := eventQueue.Close(); err != nil {
			zapLogger.Warn("rabbitmq_close_failed", zap.Error(err))
		}
	}()

	processor := workers.NewInsightProcessor(store, eventQueue, zapLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	msgChan, errChan, err := eventQueue.Consume(ctx, cfg.RabbitMQPrefetch)
	if err != nil {
		zapLogger.Fatal("consume_start_failed", zap.Error(err))
	}

	gc := queue.NewGarbageCollector(eventQueue, dlqGCInterval, dlqGCRetention, zapLogger)
	go func() {
		if err := gc.Start(ctx); err != nil && ctx.Err() == nil {
			zapLogger.Error("dlq_gc_stopped", zap.Error(err))
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errChan:
				if !ok {
					return
				}
				zapLogger.Error("queue_error", zap.Error(err))
				telemetry.CaptureError(err, map[string]string{"component": "queue"})
			}
		}
	}()

	zapLogger.Info("worker_started")

	for {
		select {
		case <-ctx.Done():
			zapLogger.Info("worker_stopping")
			return
		case msg, ok := <-msgChan:
			if !ok {
				zapLogger.Info("message_channel_closed")
				return
			}
			if err := processor.ProcessMessage(ctx, msg); err != nil {
				event := msg.GetEvent()
				zapLogger.Error("event_processing_failed",
					zap.Error(err),
					zap.String("event_id", event.ID.String()),
					zap.String("event_type", string(event.Type)),
				)
				telemetry.CaptureError(err, map[string]string{"event_type": string(event.Type)})
			}
		}
	}
}
