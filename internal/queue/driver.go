package queue

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/corridorpay/corridor/internal/config"
)

// FromConfig builds the queue driver named by the configuration.
func FromConfig(cfg *config.Config, db *sqlx.DB) (Queue, error) {
	switch cfg.Queue.Driver {
	case config.QueueDriverPostgres:
		return NewPostgres(db), nil
	case config.QueueDriverSQS:
		return NewSQS(cfg.AWS.Region, cfg.Queue.Endpoint, cfg.Queue.PaymentQueueURL, cfg.Queue.WebhookQueueURL)
	}
	return nil, fmt.Errorf("unknown queue driver: %s", cfg.Queue.Driver)
}
