package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/corridorpay/corridor/internal/cache"
)

const recordTTL = 24 * time.Hour

// Record is a cached response for a previously executed request.
type Record struct {
	Fingerprint string            `json:"fingerprint"`
	Status      int               `json:"status"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"body"`
}

// Store caches responses keyed by (endpoint, user, idempotency key).
type Store struct {
	kv cache.Store
}

// NewStore creates an idempotency store over the given cache.
func NewStore(kv cache.Store) *Store {
	return &Store{kv: kv}
}

// Fingerprint returns the SHA-256 hex digest of the raw request body.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func recordKey(endpoint, user, key string) string {
	return fmt.Sprintf("idempotency:%s:%s:%s", endpoint, user, key)
}

// Lookup returns the stored record for the key, or nil when absent.
func (s *Store) Lookup(ctx context.Context, endpoint, user, key string) (*Record, error) {
	raw, err := s.kv.Get(ctx, recordKey(endpoint, user, key))
	if err == cache.ErrMiss {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// A corrupt record is treated as a miss; the handler re-executes.
		return nil, nil
	}
	return &rec, nil
}

// Save stores the response record with a 24-hour TTL.
func (s *Store) Save(ctx context.Context, endpoint, user, key string, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, recordKey(endpoint, user, key), string(raw), recordTTL)
}
