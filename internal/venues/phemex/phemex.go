// Package phemex implements the Phemex derivatives adapter: 24h ticker
// quotes with scaled-field fallbacks and public kline history.
//
// Phemex payloads are inconsistent across contract generations: newer
// USDT-margined perps carry string decimals ("closeRp"), older ones
// raw numbers ("lastPrice") or scaled integers ("closeEp"). The quote
// path probes those encodings in order instead of pinning one shape.
package phemex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"vega-market/internal/candles"
	"vega-market/internal/metrics"
	"vega-market/internal/models"
	"vega-market/internal/venues"
)

const (
	DefaultRESTURL = "https://api.phemex.com"

	// kline endpoint serves at most 1000 bars per request
	maxKlineBars = 1000
)

// Adapter serves perp quotes and kline history over Phemex public REST.
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
	return models.VenuePhemex
}

type tickerEnvelope struct {
	Error  interface{}            `json:"error"`
	ID     int64                  `json:"id"`
	Result map[string]interface{} `json:"result"`
}

var (
	priceFields = []string{
		"closeRp", "lastPriceRp", "markPriceRp", "indexPriceRp",
		"lastPrice", "close", "markPrice", "indexPrice",
		"closeEp", "lastPriceEp", "markPriceEp",
	}
	openFields   = []string{"openRp", "open", "openEp"}
	highFields   = []string{"highRp", "high", "highEp"}
	lowFields    = []string{"lowRp", "low", "lowEp"}
	volumeFields = []string{"volumeRq", "volume"}
)

// Quote reads /md/v2/ticker/24hr and probes the result for the first
// usable price encoding.
func (a *Adapter) Quote(ctx context.Context, nativeID string) *models.Tick {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil
	}

	start := time.Now()
	var envelope tickerEnvelope
	u := fmt.Sprintf("%s/md/v2/ticker/24hr?symbol=%s", a.baseURL, url.QueryEscape(nativeID))
	if err := venues.GetJSON(ctx, a.client, u, nil, &envelope); err != nil {
		a.recordError(err, start)
		a.logger.WithError(err).Debugf("phemex ticker failed for %s", nativeID)
		return nil
	}
	if envelope.Error != nil || envelope.Result == nil {
		a.recordError(fmt.Errorf("venue error for %s: %v", nativeID, envelope.Error), start)
		return nil
	}

	price, ok := probePositive(envelope.Result, priceFields...)
	if !ok {
		a.recordError(fmt.Errorf("no usable price field for %s", nativeID), start)
		return nil
	}

	tick := &models.Tick{
		Price:     price,
		Source:    models.VenuePhemex,
		Timestamp: time.Now().UTC(),
	}
	if open, ok := probePositive(envelope.Result, openFields...); ok {
		tick.Change24h = models.ChangePercent(open, price)
	}
	if high, ok := probe(envelope.Result, highFields...); ok {
		tick.High24h = high
	}
	if low, ok := probe(envelope.Result, lowFields...); ok {
		tick.Low24h = low
	}
	if volume, ok := probe(envelope.Result, volumeFields...); ok {
		tick.Volume24h = volume
	}

	a.limiter.RecordSuccess()
	metrics.TrackUpstream(string(models.VenuePhemex), "ok", start)
	return tick
}

type klineEnvelope struct {
	Code int64  `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Total int64           `json:"total"`
		Rows  [][]json.Number `json:"rows"`
	} `json:"data"`
}

// Candles fetches kline rows in one shot. All six timeframes are
// native resolutions here, 4H included. Rows arrive as
// [ts, interval, lastClose, open, high, low, close, volume, turnover].
func (a *Adapter) Candles(ctx context.Context, nativeID string, tf models.Timeframe, start, end int64) []models.Candle {
	outcome := "empty"
	defer func() {
		metrics.CandleFetches.WithLabelValues(string(models.VenuePhemex), string(tf), outcome).Inc()
	}()

	if !tf.Valid() || end <= start {
		return nil
	}
	sec := tf.Seconds()

	limit := (end-start)/sec + 2
	if limit > maxKlineBars {
		limit = maxKlineBars
	}
	if limit < 5 {
		limit = 5
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil
	}

	reqStart := time.Now()
	var envelope klineEnvelope
	u := fmt.Sprintf("%s/exchange/public/md/v2/kline?symbol=%s&resolution=%d&limit=%d",
		a.baseURL, url.QueryEscape(nativeID), sec, limit)
	if err := venues.GetJSON(ctx, a.client, u, nil, &envelope); err != nil {
		a.recordError(err, reqStart)
		a.logger.WithError(err).Debugf("phemex kline failed for %s", nativeID)
		return nil
	}
	if envelope.Code != 0 {
		a.recordError(fmt.Errorf("kline code %d for %s: %s", envelope.Code, nativeID, envelope.Msg), reqStart)
		return nil
	}
	a.limiter.RecordSuccess()
	metrics.TrackUpstream(string(models.VenuePhemex), "ok", reqStart)

	raw := make([]models.Candle, 0, len(envelope.Data.Rows))
	for _, row := range envelope.Data.Rows {
		if len(row) < 8 {
			continue
		}
		ts, err := row[0].Int64()
		if err != nil || ts < start || ts > end {
			continue
		}
		raw = append(raw, models.Candle{
			OpenTime: time.Unix(ts, 0).UTC(),
			Open:     num(row[3]),
			High:     num(row[4]),
			Low:      num(row[5]),
			Close:    num(row[6]),
			Volume:   num(row[7]),
			Source:   models.VenuePhemex,
		})
	}

	out := candles.Normalize(raw, sec, tf)
	if len(out) > 0 {
		outcome = "ok"
	}
	return out
}

func (a *Adapter) recordError(err error, start time.Time) {
	if errors.Is(err, venues.ErrRateLimited) {
		a.limiter.RecordRateLimitHit()
	}
	metrics.TrackUpstream(string(models.VenuePhemex), "error", start)
}

// probe returns the first present, parseable field. Names ending in
// "Ep" hold scaled integers and get descaled.
func probe(result map[string]interface{}, names ...string) (decimal.Decimal, bool) {
	for _, name := range names {
		v, ok := result[name]
		if !ok {
			continue
		}
		d, ok := asDecimal(v)
		if !ok {
			continue
		}
		if strings.HasSuffix(name, "Ep") {
			d = descale(d)
		}
		return d, true
	}
	return decimal.Zero, false
}

func probePositive(result map[string]interface{}, names ...string) (decimal.Decimal, bool) {
	for _, name := range names {
		v, ok := result[name]
		if !ok {
			continue
		}
		d, ok := asDecimal(v)
		if !ok {
			continue
		}
		if strings.HasSuffix(name, "Ep") {
			d = descale(d)
		}
		if d.IsPositive() {
			return d, true
		}
	}
	return decimal.Zero, false
}

// asDecimal accepts the venue's two encodings: string decimals and raw
// JSON numbers.
func asDecimal(v interface{}) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case string:
		if x == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(x)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(x), true
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

// descale converts a scaled Ep integer into a price. Contracts use
// the 1e4 price scale except the few quoting at 1e8, which show up
// past 1e12.
func descale(d decimal.Decimal) decimal.Decimal {
	if d.GreaterThan(decimal.New(1, 12)) {
		return d.Shift(-8)
	}
	return d.Shift(-4)
}

func num(n json.Number) decimal.Decimal {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
