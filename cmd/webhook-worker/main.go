package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/corridorpay/corridor/internal/config"
	"github.com/corridorpay/corridor/internal/logger"
	"github.com/corridorpay/corridor/internal/queue"
	"github.com/corridorpay/corridor/internal/store"
	"github.com/corridorpay/corridor/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}
	logger.SetDefault(logger.NewFromString(cfg.Logging.Level))

	if !cfg.Webhook.Enabled {
		logger.Info("Webhook delivery disabled, exiting")
		return
	}
	if cfg.Webhook.SinkURL == "" {
		logger.Error("WEBHOOK_SINK_URL is required when webhooks are enabled")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("Failed to connect to database", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}
	defer db.Close()

	if err := store.EnsureSchema(ctx, db); err != nil {
		logger.Error("Failed to ensure schema", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}

	q, err := queue.FromConfig(cfg, db)
	if err != nil {
		logger.Error("Failed to build queue", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}

	w := webhook.NewWorker(store.NewDeliveryStore(db), q, cfg.Webhook.SinkURL)

	logger.Info("Webhook worker started", logger.Fields{"sink": cfg.Webhook.SinkURL})
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("Webhook worker stopped", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("Webhook worker stopped")
}
