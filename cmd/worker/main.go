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
	"github.com/corridorpay/corridor/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}
	logger.SetDefault(logger.NewFromString(cfg.Logging.Level))

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

	// Mock providers stand in for real onramp/offramp partners.
	orchestrator := worker.NewOrchestrator(
		store.NewPaymentStore(db, q, cfg.Webhook.Secret, cfg.Webhook.Enabled),
		q,
		worker.NewMockOnramp(),
		worker.NewMockOfframp(),
	)

	logger.Info("Payment worker started")
	if err := orchestrator.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("Worker stopped", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("Payment worker stopped")
}
