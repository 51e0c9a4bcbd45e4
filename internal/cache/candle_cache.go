package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"vega-market/internal/models"
)

// DefaultSeriesTTL keeps candle series warm long enough to absorb
// dashboard refresh bursts without re-hitting the venues.
const DefaultSeriesTTL = 60 * time.Second

type CandleCache struct {
	client *redis.Client
	logger *logrus.Logger
	ttl    time.Duration
}

func NewCandleCache(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *CandleCache {
	if ttl <= 0 {
		ttl = DefaultSeriesTTL
	}
	return &CandleCache{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

func seriesKey(key string, tf models.Timeframe) string {
	return fmt.Sprintf("candles:%s:%s", key, tf)
}

// GetSeries retrieves a cached series. The comma-ok form folds misses,
// transport errors and corrupt entries together: the caller refetches
// either way.
func (c *CandleCache) GetSeries(ctx context.Context, key string, tf models.Timeframe) (*models.CandleSeries, bool) {
	data, err := c.client.Get(ctx, seriesKey(key, tf)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Debugf("candle cache read failed for %s %s", key, tf)
		}
		return nil, false
	}

	var series models.CandleSeries
	if err := json.Unmarshal([]byte(data), &series); err != nil {
		c.logger.WithError(err).Warnf("corrupt candle cache entry for %s %s", key, tf)
		return nil, false
	}

	return &series, true
}

// SetSeries caches a series, best effort.
func (c *CandleCache) SetSeries(ctx context.Context, series models.CandleSeries) {
	data, err := json.Marshal(series)
	if err != nil {
		c.logger.WithError(err).Warnf("candle series marshal failed for %s", series.Key)
		return
	}

	if err := c.client.Set(ctx, seriesKey(series.Key, series.Timeframe), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debugf("candle cache write failed for %s %s", series.Key, series.Timeframe)
	}
}

// Delete removes a cached series.
func (c *CandleCache) Delete(ctx context.Context, key string, tf models.Timeframe) error {
	return c.client.Del(ctx, seriesKey(key, tf)).Err()
}
