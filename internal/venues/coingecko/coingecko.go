// Package coingecko implements the CoinGecko adapter, the catch-all
// route for crypto assets no exchange venue lists.
//
// The venue serves price samples rather than candles, at a resolution
// it picks from the requested span: 5-minutely inside a day, hourly up
// to 90 days, daily beyond. History requests that need finer buckets
// than the venue will serve come back empty rather than upsampled.
package coingecko

import (
	"context"
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

const DefaultRESTURL = "https://api.coingecko.com/api/v3"

// Adapter serves quotes and sampled history over CoinGecko REST.
type Adapter struct {
	baseURL string
	client  *http.Client
	limiter *venues.VenueLimiter
	apiKey  string
	logger  *logrus.Logger
}

func NewAdapter(baseURL string, client *http.Client, limiter *venues.VenueLimiter, apiKey string, logger *logrus.Logger) *Adapter {
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
		apiKey:  apiKey,
		logger:  logger,
	}
}

func (a *Adapter) Name() models.Venue {
	return models.VenueCoinGecko
}

// Quote reads /simple/price. The venue reports no 24h high or low, so
// those stay zero.
func (a *Adapter) Quote(ctx context.Context, nativeID string) *models.Tick {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil
	}

	start := time.Now()
	var resp map[string]map[string]float64
	u := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd&include_24hr_change=true&include_24hr_vol=true",
		a.baseURL, url.QueryEscape(nativeID))
	if err := a.getJSON(ctx, u, &resp); err != nil {
		a.recordError(err, start)
		a.logger.WithError(err).Debugf("coingecko price failed for %s", nativeID)
		return nil
	}

	entry, ok := resp[nativeID]
	if !ok || entry["usd"] <= 0 {
		a.recordError(fmt.Errorf("no price for %s", nativeID), start)
		return nil
	}

	tick := &models.Tick{
		Price:     decimal.NewFromFloat(entry["usd"]),
		Change24h: decimal.NewFromFloat(entry["usd_24h_change"]),
		Source:    models.VenueCoinGecko,
		Timestamp: time.Now().UTC(),
	}
	if vol := entry["usd_24h_vol"]; vol > 0 {
		tick.Volume24h = decimal.NewFromFloat(vol)
	}

	a.limiter.RecordSuccess()
	metrics.TrackUpstream(string(models.VenueCoinGecko), "ok", start)
	return tick
}

type marketChart struct {
	Prices [][]float64 `json:"prices"`
}

// Candles bucketizes /market_chart price samples into the requested
// timeframe. When the sample resolution is too coarse for the
// timeframe the result is empty; 4H and 1D additionally retry through
// the /ohlc endpoint before giving up.
func (a *Adapter) Candles(ctx context.Context, nativeID string, tf models.Timeframe, start, end int64) []models.Candle {
	outcome := "empty"
	defer func() {
		metrics.CandleFetches.WithLabelValues(string(models.VenueCoinGecko), string(tf), outcome).Inc()
	}()

	if !tf.Valid() || end <= start {
		return nil
	}

	days := spanDays(start)
	if native := chartResolution(days); native > tf.Seconds() {
		return nil
	}

	out := a.fromMarketChart(ctx, nativeID, tf, start, end, days)
	if len(out) == 0 && (tf == models.TF4H || tf == models.TF1D) {
		out = a.fromOHLC(ctx, nativeID, tf, start, end, days)
	}
	if len(out) > 0 {
		outcome = "ok"
	}
	return out
}

func (a *Adapter) fromMarketChart(ctx context.Context, nativeID string, tf models.Timeframe, start, end, days int64) []models.Candle {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil
	}

	reqStart := time.Now()
	var chart marketChart
	u := fmt.Sprintf("%s/coins/%s/market_chart?vs_currency=usd&days=%d",
		a.baseURL, url.PathEscape(nativeID), days)
	if err := a.getJSON(ctx, u, &chart); err != nil {
		a.recordError(err, reqStart)
		a.logger.WithError(err).Debugf("coingecko market_chart failed for %s", nativeID)
		return nil
	}
	a.limiter.RecordSuccess()
	metrics.TrackUpstream(string(models.VenueCoinGecko), "ok", reqStart)

	points := make([]candles.Point, 0, len(chart.Prices))
	for _, p := range chart.Prices {
		if len(p) < 2 {
			continue
		}
		ts := int64(p[0]) / 1000
		if ts < start || ts > end {
			continue
		}
		// total_volumes are 24h rolling figures, useless per bucket
		points = append(points, candles.Point{TS: ts, Price: decimal.NewFromFloat(p[1])})
	}

	out := candles.FromPoints(points, tf)
	for i := range out {
		out[i].Source = models.VenueCoinGecko
	}
	return out
}

func (a *Adapter) fromOHLC(ctx context.Context, nativeID string, tf models.Timeframe, start, end, days int64) []models.Candle {
	days = ohlcDays(days)
	native := ohlcResolution(days)
	if native > tf.Seconds() {
		return nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil
	}

	reqStart := time.Now()
	var rows [][]float64
	u := fmt.Sprintf("%s/coins/%s/ohlc?vs_currency=usd&days=%d",
		a.baseURL, url.PathEscape(nativeID), days)
	if err := a.getJSON(ctx, u, &rows); err != nil {
		a.recordError(err, reqStart)
		a.logger.WithError(err).Debugf("coingecko ohlc failed for %s", nativeID)
		return nil
	}
	a.limiter.RecordSuccess()
	metrics.TrackUpstream(string(models.VenueCoinGecko), "ok", reqStart)

	raw := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		ts := int64(row[0]) / 1000
		if ts < start || ts > end {
			continue
		}
		raw = append(raw, models.Candle{
			OpenTime: time.Unix(ts, 0).UTC(),
			Open:     decimal.NewFromFloat(row[1]),
			High:     decimal.NewFromFloat(row[2]),
			Low:      decimal.NewFromFloat(row[3]),
			Close:    decimal.NewFromFloat(row[4]),
			Source:   models.VenueCoinGecko,
		})
	}
	return candles.Normalize(raw, native, tf)
}

func (a *Adapter) getJSON(ctx context.Context, u string, out interface{}) error {
	var headers map[string]string
	if a.apiKey != "" {
		headers = map[string]string{"x-cg-demo-api-key": a.apiKey}
	}
	return venues.GetJSON(ctx, a.client, u, headers, out)
}

func (a *Adapter) recordError(err error, start time.Time) {
	if errors.Is(err, venues.ErrRateLimited) {
		a.limiter.RecordRateLimitHit()
	}
	metrics.TrackUpstream(string(models.VenueCoinGecko), "error", start)
}

// spanDays is the days-back-from-now parameter covering start.
func spanDays(start int64) int64 {
	days := (time.Now().Unix() - start + 86399) / 86400
	if days < 1 {
		days = 1
	}
	return days
}

// chartResolution is the sample spacing market_chart picks for a span.
func chartResolution(days int64) int64 {
	switch {
	case days <= 1:
		return 300
	case days <= 90:
		return 3600
	default:
		return 86400
	}
}

// ohlcDays clamps to the discrete day values /ohlc accepts.
func ohlcDays(days int64) int64 {
	for _, allowed := range []int64{1, 7, 14, 30, 90, 180, 365} {
		if days <= allowed {
			return allowed
		}
	}
	return 365
}

// ohlcResolution is the candle width /ohlc serves for a day span.
func ohlcResolution(days int64) int64 {
	switch {
	case days <= 2:
		return 1800
	case days <= 30:
		return 14400
	default:
		return 345600
	}
}
