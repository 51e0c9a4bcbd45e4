// Package cache holds the Redis read-through layers: quotes keyed by
// canonical symbol, candle series keyed by symbol and timeframe. Both
// are best effort; a cold or down Redis only costs venue round trips.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"vega-market/internal/models"
)

// CoinGecko quotes stay cached longer because the free tier allows
// only 30 requests a minute.
const (
	DefaultQuoteTTL   = 5 * time.Second
	CoinGeckoQuoteTTL = 30 * time.Second
)

// QuoteTTL returns the cache lifetime for a quote from the given venue.
func QuoteTTL(venue models.Venue) time.Duration {
	if venue == models.VenueCoinGecko {
		return CoinGeckoQuoteTTL
	}
	return DefaultQuoteTTL
}

type QuoteCache struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewQuoteCache(client *redis.Client, logger *logrus.Logger) *QuoteCache {
	return &QuoteCache{
		client: client,
		logger: logger,
	}
}

// SetQuote caches one tick under its canonical key.
func (c *QuoteCache) SetQuote(ctx context.Context, tick *models.Tick, ttl time.Duration) error {
	data, err := json.Marshal(tick)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, "quote:"+tick.Key, data, ttl).Err()
}

// GetQuote retrieves a cached tick, nil when absent or expired.
func (c *QuoteCache) GetQuote(ctx context.Context, key string) (*models.Tick, error) {
	data, err := c.client.Get(ctx, "quote:"+key).Result()
	if err != nil {
		return nil, err
	}

	var tick models.Tick
	if err := json.Unmarshal([]byte(data), &tick); err != nil {
		return nil, err
	}

	return &tick, nil
}

// Delete removes a cached quote.
func (c *QuoteCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, "quote:"+key).Err()
}
