package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/corridorpay/corridor/internal/api"
	"github.com/corridorpay/corridor/internal/balance"
	"github.com/corridorpay/corridor/internal/cache"
	"github.com/corridorpay/corridor/internal/config"
	"github.com/corridorpay/corridor/internal/idempotency"
	"github.com/corridorpay/corridor/internal/logger"
	"github.com/corridorpay/corridor/internal/queue"
	"github.com/corridorpay/corridor/internal/quotes"
	"github.com/corridorpay/corridor/internal/rates"
	"github.com/corridorpay/corridor/internal/store"
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

	kv, err := cache.NewRedisFromURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("Failed to connect to redis", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}

	q, err := queue.FromConfig(cfg, db)
	if err != nil {
		logger.Error("Failed to build queue", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}

	available, err := decimal.NewFromString(cfg.Balance.Amount)
	if err != nil {
		logger.Error("Invalid BALANCE_AMOUNT", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}

	var rateSource rates.Source
	if cfg.Rates.APIURL != "" {
		rateSource = rates.NewHTTPSource(cfg.Rates.APIURL, cfg.Rates.APIKey)
	}
	rateCache := rates.New(kv, rateSource)

	server := api.NewServer(
		quotes.NewService(rateCache),
		store.NewPaymentStore(db, q, cfg.Webhook.Secret, cfg.Webhook.Enabled),
		store.NewEventStore(db),
		balance.NewFixedOracle(available),
		idempotency.NewStore(kv),
	)

	srv := &http.Server{
		Addr:        cfg.HTTP.Addr,
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: the event stream endpoints hold their
		// connections open indefinitely.
		WriteTimeout: 0,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", logger.Fields{"error": err.Error()})
		}
	}()

	logger.Info("API server listening", logger.Fields{"addr": cfg.HTTP.Addr})
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server failed", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}
}
