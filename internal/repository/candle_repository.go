// Package repository is the ClickHouse archive for normalized candles.
// The table is a ReplacingMergeTree keyed on (key, timeframe,
// bucket_start), so re-inserting a refreshed series is idempotent.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"vega-market/internal/metrics"
	"vega-market/internal/models"
)

type CandleRepository struct {
	clickhouse driver.Conn
	logger     *logrus.Logger
}

func NewCandleRepository(clickhouse driver.Conn, logger *logrus.Logger) *CandleRepository {
	return &CandleRepository{
		clickhouse: clickhouse,
		logger:     logger,
	}
}

// InsertCandles archives one series in a single batch.
func (r *CandleRepository) InsertCandles(ctx context.Context, series models.CandleSeries) error {
	if series.Empty() {
		return nil
	}
	start := time.Now()

	batch, err := r.clickhouse.PrepareBatch(ctx, `
		INSERT INTO candles (
			key, timeframe, bucket_start,
			open, high, low, close, volume,
			source, inserted_at
		)`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	now := time.Now().UTC()
	for i := range series.Candles {
		c := &series.Candles[i]

		open, _ := c.Open.Float64()
		high, _ := c.High.Float64()
		low, _ := c.Low.Float64()
		closePx, _ := c.Close.Float64()
		volume, _ := c.Volume.Float64()

		err := batch.Append(
			series.Key, string(series.Timeframe), c.OpenTime.UTC(),
			open, high, low, closePx, volume,
			string(c.Source), now,
		)
		if err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return err
	}

	metrics.ArchiveQueries.WithLabelValues("insert").Inc()
	metrics.TrackLatency(start, metrics.ArchiveQueryLatency.WithLabelValues("insert"))
	return nil
}

// GetCandles reads archived candles in ascending bucket order. A
// positive limit keeps the newest buckets. FINAL collapses replaced
// rows that have not merged yet.
func (r *CandleRepository) GetCandles(ctx context.Context, key string, tf models.Timeframe, startTime, endTime time.Time, limit int) ([]models.Candle, error) {
	started := time.Now()

	query := `
		SELECT key, timeframe, bucket_start,
			open, high, low, close, volume,
			source
		FROM candles FINAL
		WHERE key = ? AND timeframe = ?`

	args := []interface{}{key, string(tf)}

	if !startTime.IsZero() {
		query += " AND bucket_start >= ?"
		args = append(args, startTime)
	}
	if !endTime.IsZero() {
		query += " AND bucket_start < ?"
		args = append(args, endTime)
	}

	query += " ORDER BY bucket_start DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.clickhouse.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var (
			candle    models.Candle
			timeframe string
			source    string

			open, high, low, closePx, volume float64
		)

		err := rows.Scan(
			&candle.Key, &timeframe, &candle.OpenTime,
			&open, &high, &low, &closePx, &volume,
			&source,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}

		candle.Timeframe = models.Timeframe(timeframe)
		candle.Source = models.Venue(source)
		candle.Open = decimal.NewFromFloat(open)
		candle.High = decimal.NewFromFloat(high)
		candle.Low = decimal.NewFromFloat(low)
		candle.Close = decimal.NewFromFloat(closePx)
		candle.Volume = decimal.NewFromFloat(volume)

		candles = append(candles, candle)
	}

	// The query orders newest-first so LIMIT trims the old end; flip
	// back to ascending for callers.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}

	metrics.ArchiveQueries.WithLabelValues("select").Inc()
	metrics.TrackLatency(started, metrics.ArchiveQueryLatency.WithLabelValues("select"))
	return candles, nil
}

// LatestBucket returns the newest archived bucket start for a key and
// timeframe. The importer uses it to resume backfills.
func (r *CandleRepository) LatestBucket(ctx context.Context, key string, tf models.Timeframe) (time.Time, error) {
	query := `
		SELECT max(bucket_start)
		FROM candles
		WHERE key = ? AND timeframe = ?`

	row := r.clickhouse.QueryRow(ctx, query, key, string(tf))

	var latest time.Time
	if err := row.Scan(&latest); err != nil {
		return time.Time{}, err
	}
	return latest, nil
}

// GetStats retrieves archive-wide statistics for the stats endpoint.
func (r *CandleRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	query := `
		SELECT
			count() as total_candles,
			count(DISTINCT key) as total_keys,
			min(bucket_start) as earliest_bucket,
			max(bucket_start) as latest_bucket
		FROM candles`

	row := r.clickhouse.QueryRow(ctx, query)

	var totalCandles, totalKeys uint64
	var earliest, latest time.Time

	err := row.Scan(&totalCandles, &totalKeys, &earliest, &latest)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"total_candles":   totalCandles,
		"total_keys":      totalKeys,
		"earliest_bucket": earliest,
		"latest_bucket":   latest,
	}, nil
}
