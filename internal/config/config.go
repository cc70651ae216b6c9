package config

import (
	"fmt"
	"os"
	"strconv"
)

// Queue driver names
const (
	QueueDriverPostgres = "postgres"
	QueueDriverSQS      = "sqs"
)

// Config holds all application configuration
type Config struct {
	HTTP     HTTPConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	AWS      AWSConfig
	Webhook  WebhookConfig
	Rates    RatesConfig
	Balance  BalanceConfig
	Logging  LoggingConfig
}

// HTTPConfig holds API server configuration
type HTTPConfig struct {
	Addr string
}

// DatabaseConfig holds Postgres configuration
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds cache configuration
type RedisConfig struct {
	URL string
}

// QueueConfig holds job queue configuration
type QueueConfig struct {
	Driver          string // postgres | sqs
	PaymentQueueURL string
	WebhookQueueURL string
	Endpoint        string // For local SQS testing
}

// AWSConfig holds AWS-specific configuration
type AWSConfig struct {
	Region string
}

// WebhookConfig holds outbound webhook configuration
type WebhookConfig struct {
	Enabled bool
	Secret  string
	SinkURL string
}

// RatesConfig holds the upstream exchange-rate source configuration
type RatesConfig struct {
	APIURL string
	APIKey string
}

// BalanceConfig holds the balance oracle stub configuration
type BalanceConfig struct {
	Amount string // USD amount every user is assumed to hold
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		Queue: QueueConfig{
			Driver:          getEnv("QUEUE_DRIVER", QueueDriverPostgres),
			PaymentQueueURL: getEnv("PAYMENT_QUEUE_URL", ""),
			WebhookQueueURL: getEnv("WEBHOOK_QUEUE_URL", ""),
			Endpoint:        getEnv("SQS_ENDPOINT", ""),
		},
		AWS: AWSConfig{
			Region: getEnv("AWS_REGION", "us-east-1"),
		},
		Webhook: WebhookConfig{
			Enabled: getEnvBool("WEBHOOK_ENABLED", true),
			Secret:  getEnv("WEBHOOK_SECRET", ""),
			SinkURL: getEnv("WEBHOOK_SINK_URL", ""),
		},
		Rates: RatesConfig{
			APIURL: getEnv("RATE_API_URL", ""),
			APIKey: getEnv("RATE_API_KEY", ""),
		},
		Balance: BalanceConfig{
			Amount: getEnv("BALANCE_AMOUNT", "10000.00"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "INFO"),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.Webhook.Enabled && cfg.Webhook.Secret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required when webhooks are enabled")
	}

	if cfg.Queue.Driver == QueueDriverSQS {
		if cfg.Queue.PaymentQueueURL == "" || cfg.Queue.WebhookQueueURL == "" {
			return nil, fmt.Errorf("PAYMENT_QUEUE_URL and WEBHOOK_QUEUE_URL are required for the sqs queue driver")
		}
	}

	return cfg, nil
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default fallback
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
