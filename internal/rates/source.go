package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Source fetches the full USD->X rate table from an upstream provider.
type Source interface {
	Fetch(ctx context.Context) (map[string]decimal.Decimal, error)
}

// HTTPSource fetches rates from a JSON endpoint of the shape
// {"rates": {"MXN": 17.234, ...}}.
type HTTPSource struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPSource creates an upstream rate source. apiKey may be empty.
func NewHTTPSource(url, apiKey string) *HTTPSource {
	return &HTTPSource{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch retrieves the current rate table.
func (s *HTTPSource) Fetch(ctx context.Context) (map[string]decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rate source request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate source returned status %d", resp.StatusCode)
	}

	var body struct {
		Rates map[string]json.Number `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode rate response: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(body.Rates))
	for currency, raw := range body.Rates {
		rate, err := decimal.NewFromString(raw.String())
		if err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %w", currency, err)
		}
		out[currency] = rate
	}
	return out, nil
}
