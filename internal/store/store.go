package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// schema is applied idempotently at startup. Production migrations are
// handled outside this service; this keeps local and test environments
// bootable without extra tooling.
const schema = `
CREATE TABLE IF NOT EXISTS payments (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	source_currency    TEXT NOT NULL DEFAULT 'USD',
	dest_currency      TEXT NOT NULL,
	amount             NUMERIC(12,2) NOT NULL,
	payment_method     TEXT NOT NULL,
	fee_handling       TEXT NOT NULL,
	onramp_fee         NUMERIC(12,2) NOT NULL,
	corridor_fee       NUMERIC(12,2) NOT NULL,
	platform_fee       NUMERIC(12,2) NOT NULL,
	network_gas_fee    NUMERIC(12,2) NOT NULL,
	total_fees         NUMERIC(12,2) NOT NULL,
	usdc_sent          NUMERIC(12,2) NOT NULL,
	exchange_rate      NUMERIC(18,6) NOT NULL,
	destination_amount NUMERIC(18,2) NOT NULL,
	quote_id           TEXT UNIQUE,
	quote_expires_at   TIMESTAMPTZ NOT NULL,
	status             TEXT NOT NULL,
	onramp_tx_id       TEXT,
	offramp_tx_id      TEXT,
	error_message      TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at       TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_payments_user_created ON payments (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_payments_status ON payments (status);

CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	payment_id TEXT NOT NULL REFERENCES payments(id) ON DELETE CASCADE,
	event_type TEXT NOT NULL,
	status     TEXT NOT NULL,
	metadata   JSONB,
	timestamp  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_events_payment_ts ON events (payment_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events (event_type);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id              TEXT PRIMARY KEY,
	payment_id      TEXT NOT NULL REFERENCES payments(id),
	event_type      TEXT NOT NULL,
	payload         JSONB NOT NULL,
	signature       TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INT NOT NULL DEFAULT 0,
	max_attempts    INT NOT NULL DEFAULT 3,
	last_attempt_at TIMESTAMPTZ,
	next_retry_at   TIMESTAMPTZ,
	response_status INT,
	response_body   TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_payment ON webhook_deliveries (payment_id);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_retry ON webhook_deliveries (status, next_retry_at);

CREATE TABLE IF NOT EXISTS jobs (
	id           BIGSERIAL PRIMARY KEY,
	kind         TEXT NOT NULL,
	payload      JSONB NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	attempts     INT NOT NULL DEFAULT 0,
	max_attempts INT NOT NULL DEFAULT 3,
	run_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_error   TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_jobs_ready ON jobs (kind, status, run_at);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
