// Package coinbase implements the Coinbase Exchange adapter: REST
// quotes and candle history plus the shared WebSocket ticker stream.
package coinbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"vega-market/internal/candles"
	"vega-market/internal/metrics"
	"vega-market/internal/models"
	"vega-market/internal/venues"
)

const (
	DefaultRESTURL = "https://api.exchange.coinbase.com"
	DefaultWSURL   = "wss://ws-feed.exchange.coinbase.com"

	// upstream serves at most 300 buckets per candle request
	maxCandlesPerRequest = 300
	// hard cap on backward pagination per fetch
	maxCandleBatches = 15
)

// granularities the venue serves natively, in seconds. 4H is absent on
// purpose: it is built from 1H by the normalizer. 21600 (6H) exists
// upstream but is unused, keeping the timeframe set uniform.
var granularities = map[models.Timeframe]int64{
	models.TF1m:  60,
	models.TF5m:  300,
	models.TF15m: 900,
	models.TF1H:  3600,
	models.TF1D:  86400,
}

// Adapter serves quotes and history over Coinbase Exchange REST.
type Adapter struct {
	baseURL string
	client  *http.Client
	limiter *venues.VenueLimiter
	logger  *logrus.Logger
}

func NewAdapter(baseURL string, client *http.Client, limiter *venues.VenueLimiter, logger *logrus.Logger) *Adapter {
	if baseURL == "" {
		baseURL = DefaultRESTURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Adapter{
		baseURL: baseURL,
		client:  client,
		limiter: limiter,
		logger:  logger,
	}
}

func (a *Adapter) Name() models.Venue {
	return models.VenueCoinbase
}

type tickerPayload struct {
	Price  string `json:"price"`
	Volume string `json:"volume"`
}

type statsPayload struct {
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Volume string `json:"volume"`
	Last   string `json:"last"`
}

// Quote combines /ticker (price) and /stats (24h open/high/low/volume).
func (a *Adapter) Quote(ctx context.Context, nativeID string) *models.Tick {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil
	}

	start := time.Now()
	var ticker tickerPayload
	if err := venues.GetJSON(ctx, a.client, fmt.Sprintf("%s/products/%s/ticker", a.baseURL, nativeID), nil, &ticker); err != nil {
		a.recordError(err, start)
		a.logger.WithError(err).Debugf("coinbase ticker failed for %s", nativeID)
		return nil
	}

	var stats statsPayload
	statsErr := venues.GetJSON(ctx, a.client, fmt.Sprintf("%s/products/%s/stats", a.baseURL, nativeID), nil, &stats)
	if statsErr != nil {
		a.logger.WithError(statsErr).Debugf("coinbase stats failed for %s", nativeID)
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil || !price.IsPositive() {
		if last, lerr := decimal.NewFromString(stats.Last); lerr == nil && last.IsPositive() {
			price = last
		} else {
			a.recordError(fmt.Errorf("no usable price for %s", nativeID), start)
			return nil
		}
	}

	tick := &models.Tick{
		Price:     price,
		Source:    models.VenueCoinbase,
		Timestamp: time.Now().UTC(),
	}
	if statsErr == nil {
		if open, err := decimal.NewFromString(stats.Open); err == nil && open.IsPositive() {
			tick.Change24h = models.ChangePercent(open, price)
		}
		if high, err := decimal.NewFromString(stats.High); err == nil {
			tick.High24h = high
		}
		if low, err := decimal.NewFromString(stats.Low); err == nil {
			tick.Low24h = low
		}
		if volume, err := decimal.NewFromString(stats.Volume); err == nil {
			tick.Volume24h = volume
		}
	}

	a.limiter.RecordSuccess()
	metrics.TrackUpstream(string(models.VenueCoinbase), "ok", start)
	return tick
}

// Candles pages backward from end in windows of at most 300 buckets,
// with a hard safety cap on batches, then normalizes. 4H goes through
// the 1H path and downsamples.
func (a *Adapter) Candles(ctx context.Context, nativeID string, tf models.Timeframe, start, end int64) []models.Candle {
	outcome := "empty"
	defer func() {
		metrics.CandleFetches.WithLabelValues(string(models.VenueCoinbase), string(tf), outcome).Inc()
	}()

	if tf == models.TF4H {
		hourly := a.Candles(ctx, nativeID, models.TF1H, start, end)
		out := candles.Normalize(hourly, 3600, models.TF4H)
		if len(out) > 0 {
			outcome = "ok"
		}
		return out
	}

	gran, ok := granularities[tf]
	if !ok || end <= start {
		return nil
	}

	span := gran * int64(maxCandlesPerRequest-1)
	var raw []models.Candle
	cursor := end
	for batch := 0; batch < maxCandleBatches && cursor >= start; batch++ {
		pageStart := cursor - span
		if pageStart < start {
			pageStart = start
		}

		rows, err := a.fetchCandlePage(ctx, nativeID, gran, pageStart, cursor)
		if err != nil {
			a.logger.WithError(err).Debugf("coinbase candles page failed for %s", nativeID)
			break // keep what we already have
		}
		if len(rows) == 0 {
			break
		}
		raw = append(raw, rows...)
		cursor = pageStart - gran
	}

	out := candles.Normalize(raw, gran, tf)
	if len(out) > 0 {
		outcome = "ok"
	}
	return out
}

// fetchCandlePage requests one window. Rows come back newest-first as
// [ts, low, high, open, close, volume].
func (a *Adapter) fetchCandlePage(ctx context.Context, nativeID string, gran, start, end int64) ([]models.Candle, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/products/%s/candles?granularity=%d&start=%s&end=%s",
		a.baseURL, nativeID, gran,
		url.QueryEscape(time.Unix(start, 0).UTC().Format(time.RFC3339)),
		url.QueryEscape(time.Unix(end, 0).UTC().Format(time.RFC3339)))

	reqStart := time.Now()
	var rows [][]json.Number
	if err := venues.GetJSON(ctx, a.client, u, nil, &rows); err != nil {
		a.recordError(err, reqStart)
		return nil, err
	}
	a.limiter.RecordSuccess()
	metrics.TrackUpstream(string(models.VenueCoinbase), "ok", reqStart)

	out := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		ts, err := row[0].Int64()
		if err != nil || ts <= 0 {
			continue
		}
		out = append(out, models.Candle{
			OpenTime: time.Unix(ts, 0).UTC(),
			Low:      num(row[1]),
			High:     num(row[2]),
			Open:     num(row[3]),
			Close:    num(row[4]),
			Volume:   num(row[5]),
			Source:   models.VenueCoinbase,
		})
	}
	return out, nil
}

func (a *Adapter) recordError(err error, start time.Time) {
	if errors.Is(err, venues.ErrRateLimited) {
		a.limiter.RecordRateLimitHit()
	}
	metrics.TrackUpstream(string(models.VenueCoinbase), "error", start)
}

func num(n json.Number) decimal.Decimal {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
