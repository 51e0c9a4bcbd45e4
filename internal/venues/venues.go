// Package venues defines the adapter contract shared by all upstream
// market-data sources plus the plumbing for talking to them.
//
// Adapters never surface upstream failures: a failed quote returns
// nil, a failed candle fetch returns an empty slice, and the cause is
// logged and counted. Consumers observe data or absence, not errors.
package venues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"vega-market/internal/models"
)

// Adapter is the venue-agnostic surface the aggregators dispatch
// through. Returned ticks and candles carry venue-local values only;
// the caller stamps the canonical key.
type Adapter interface {
	Name() models.Venue

	// Quote fetches the current price for a venue-local instrument id,
	// nil when the venue cannot serve it.
	Quote(ctx context.Context, nativeID string) *models.Tick

	// Candles fetches history for [start, end] epoch seconds at the
	// given timeframe, already normalized. Empty on failure or when
	// the venue cannot produce the resolution.
	Candles(ctx context.Context, nativeID string, tf models.Timeframe, start, end int64) []models.Candle
}

// Registry holds the configured adapters keyed by venue.
type Registry struct {
	adapters map[models.Venue]Adapter
	mu       sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.Venue]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for a venue, nil when none is configured.
func (r *Registry) Get(v models.Venue) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[v]
}

// Venues lists the registered venues.
func (r *Registry) Venues() []models.Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Venue, 0, len(r.adapters))
	for v := range r.adapters {
		out = append(out, v)
	}
	return out
}

// ErrRateLimited marks an upstream 429 so callers can feed their limiter.
var ErrRateLimited = errors.New("rate limited by venue")

// GetJSON performs a GET request and decodes the JSON body into out.
func GetJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
