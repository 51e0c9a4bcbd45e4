// Package yahoo implements the Yahoo Finance adapter used for equities
// and as the default route for unclassified symbols.
//
// The v7 quote endpoint intermittently rejects unauthenticated callers,
// so quotes fall back to the v8 chart metadata, which stays open. Both
// endpoints reject Go's default user agent outright, hence the browser
// header on every request.
package yahoo

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

const (
	DefaultRESTURL = "https://query1.finance.yahoo.com"

	browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// chart intervals per timeframe; 4H is composed from 60m
var chartIntervals = map[models.Timeframe]string{
	models.TF1m:  "1m",
	models.TF5m:  "5m",
	models.TF15m: "15m",
	models.TF1H:  "60m",
	models.TF1D:  "1d",
}

// Adapter serves equity quotes and history over Yahoo Finance REST.
type Adapter struct {
	baseURL string
	client  *http.Client
	limiter *venues.VenueLimiter
	logger  *logrus.Logger
}

// NewAdapter builds the adapter. Pass the proxy-rotating client here
// when egress proxies are configured; Yahoo is the one venue that
// rate-limits by address aggressively enough to need them.
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
	return models.VenueYahoo
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []struct {
			RegularMarketPrice         *float64 `json:"regularMarketPrice"`
			RegularMarketChangePercent *float64 `json:"regularMarketChangePercent"`
			RegularMarketDayHigh       *float64 `json:"regularMarketDayHigh"`
			RegularMarketDayLow        *float64 `json:"regularMarketDayLow"`
			RegularMarketVolume        *float64 `json:"regularMarketVolume"`
		} `json:"result"`
		Error interface{} `json:"error"`
	} `json:"quoteResponse"`
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice *float64 `json:"regularMarketPrice"`
				ChartPreviousClose *float64 `json:"chartPreviousClose"`
				PreviousClose      *float64 `json:"previousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error interface{} `json:"error"`
	} `json:"chart"`
}

// Quote tries v7/finance/quote first and falls back to the chart
// metadata when v7 is blocked or empty.
func (a *Adapter) Quote(ctx context.Context, nativeID string) *models.Tick {
	if tick := a.quoteV7(ctx, nativeID); tick != nil {
		return tick
	}
	return a.quoteFromChart(ctx, nativeID)
}

func (a *Adapter) quoteV7(ctx context.Context, nativeID string) *models.Tick {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil
	}

	start := time.Now()
	var resp quoteResponse
	u := fmt.Sprintf("%s/v7/finance/quote?symbols=%s", a.baseURL, url.QueryEscape(nativeID))
	if err := a.getJSON(ctx, u, &resp); err != nil {
		a.recordError(err, start)
		a.logger.WithError(err).Debugf("yahoo v7 quote failed for %s", nativeID)
		return nil
	}
	if resp.QuoteResponse.Error != nil || len(resp.QuoteResponse.Result) == 0 {
		a.recordError(fmt.Errorf("v7 empty for %s", nativeID), start)
		return nil
	}

	r := resp.QuoteResponse.Result[0]
	if r.RegularMarketPrice == nil || *r.RegularMarketPrice <= 0 {
		a.recordError(fmt.Errorf("v7 no price for %s", nativeID), start)
		return nil
	}

	tick := &models.Tick{
		Price:     decimal.NewFromFloat(*r.RegularMarketPrice),
		Source:    models.VenueYahoo,
		Timestamp: time.Now().UTC(),
	}
	if r.RegularMarketChangePercent != nil {
		tick.Change24h = decimal.NewFromFloat(*r.RegularMarketChangePercent)
	}
	if r.RegularMarketDayHigh != nil {
		tick.High24h = decimal.NewFromFloat(*r.RegularMarketDayHigh)
	}
	if r.RegularMarketDayLow != nil {
		tick.Low24h = decimal.NewFromFloat(*r.RegularMarketDayLow)
	}
	if r.RegularMarketVolume != nil {
		tick.Volume24h = decimal.NewFromFloat(*r.RegularMarketVolume)
	}

	a.limiter.RecordSuccess()
	metrics.TrackUpstream(string(models.VenueYahoo), "ok", start)
	return tick
}

func (a *Adapter) quoteFromChart(ctx context.Context, nativeID string) *models.Tick {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil
	}

	start := time.Now()
	var resp chartResponse
	u := fmt.Sprintf("%s/v8/finance/chart/%s?range=2d&interval=1d", a.baseURL, url.PathEscape(nativeID))
	if err := a.getJSON(ctx, u, &resp); err != nil {
		a.recordError(err, start)
		a.logger.WithError(err).Debugf("yahoo chart quote failed for %s", nativeID)
		return nil
	}
	if resp.Chart.Error != nil || len(resp.Chart.Result) == 0 {
		a.recordError(fmt.Errorf("chart empty for %s", nativeID), start)
		return nil
	}

	meta := resp.Chart.Result[0].Meta
	if meta.RegularMarketPrice == nil || *meta.RegularMarketPrice <= 0 {
		a.recordError(fmt.Errorf("chart no price for %s", nativeID), start)
		return nil
	}
	price := decimal.NewFromFloat(*meta.RegularMarketPrice)

	tick := &models.Tick{
		Price:     price,
		Source:    models.VenueYahoo,
		Timestamp: time.Now().UTC(),
	}
	prev := meta.ChartPreviousClose
	if prev == nil {
		prev = meta.PreviousClose
	}
	if prev != nil && *prev > 0 {
		tick.Change24h = models.ChangePercent(decimal.NewFromFloat(*prev), price)
	}

	a.limiter.RecordSuccess()
	metrics.TrackUpstream(string(models.VenueYahoo), "ok", start)
	return tick
}

// Candles reads v8/finance/chart with explicit period bounds. Null
// slots in the indicator arrays (halts, thin pre-market bars) are
// skipped. 4H goes through the 60m path and downsamples.
func (a *Adapter) Candles(ctx context.Context, nativeID string, tf models.Timeframe, start, end int64) []models.Candle {
	outcome := "empty"
	defer func() {
		metrics.CandleFetches.WithLabelValues(string(models.VenueYahoo), string(tf), outcome).Inc()
	}()

	if tf == models.TF4H {
		hourly := a.Candles(ctx, nativeID, models.TF1H, start, end)
		out := candles.Normalize(hourly, 3600, models.TF4H)
		if len(out) > 0 {
			outcome = "ok"
		}
		return out
	}

	interval, ok := chartIntervals[tf]
	if !ok || end <= start {
		return nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil
	}

	reqStart := time.Now()
	var resp chartResponse
	u := fmt.Sprintf("%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=%s",
		a.baseURL, url.PathEscape(nativeID), start, end, interval)
	if err := a.getJSON(ctx, u, &resp); err != nil {
		a.recordError(err, reqStart)
		a.logger.WithError(err).Debugf("yahoo chart failed for %s", nativeID)
		return nil
	}
	if resp.Chart.Error != nil || len(resp.Chart.Result) == 0 {
		a.recordError(fmt.Errorf("chart empty for %s", nativeID), reqStart)
		return nil
	}
	a.limiter.RecordSuccess()
	metrics.TrackUpstream(string(models.VenueYahoo), "ok", reqStart)

	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil
	}
	quote := result.Indicators.Quote[0]

	raw := make([]models.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) || i >= len(quote.Close) {
			break
		}
		if quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil || quote.Close[i] == nil {
			continue
		}
		c := models.Candle{
			OpenTime: time.Unix(ts, 0).UTC(),
			Open:     decimal.NewFromFloat(*quote.Open[i]),
			High:     decimal.NewFromFloat(*quote.High[i]),
			Low:      decimal.NewFromFloat(*quote.Low[i]),
			Close:    decimal.NewFromFloat(*quote.Close[i]),
			Source:   models.VenueYahoo,
		}
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			c.Volume = decimal.NewFromFloat(*quote.Volume[i])
		}
		raw = append(raw, c)
	}

	out := candles.Normalize(raw, tf.Seconds(), tf)
	if len(out) > 0 {
		outcome = "ok"
	}
	return out
}

func (a *Adapter) getJSON(ctx context.Context, u string, out interface{}) error {
	return venues.GetJSON(ctx, a.client, u, map[string]string{"User-Agent": browserUA}, out)
}

func (a *Adapter) recordError(err error, start time.Time) {
	if errors.Is(err, venues.ErrRateLimited) {
		a.limiter.RecordRateLimitHit()
	}
	metrics.TrackUpstream(string(models.VenueYahoo), "error", start)
}
