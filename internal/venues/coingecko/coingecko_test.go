package coingecko

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"vega-market/internal/models"
	"vega-market/internal/venues"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testAdapter(baseURL, apiKey string) *Adapter {
	limiter := venues.NewVenueLimiter(models.VenueCoinGecko, 1000, 1000)
	return NewAdapter(baseURL, &http.Client{Timeout: 5 * time.Second}, limiter, apiKey, testLogger())
}

func TestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/simple/price") {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("ids"); got != "bitcoin" {
			t.Errorf("ids = %s, want bitcoin", got)
		}
		if got := r.URL.Query().Get("include_24hr_change"); got != "true" {
			t.Errorf("include_24hr_change = %s, want true", got)
		}
		fmt.Fprint(w, `{"bitcoin":{"usd":64123.5,"usd_24h_change":-1.78,"usd_24h_vol":28000000000}}`)
	}))
	defer srv.Close()

	tick := testAdapter(srv.URL, "").Quote(context.Background(), "bitcoin")
	if tick == nil {
		t.Fatal("expected a tick")
	}
	if tick.Source != models.VenueCoinGecko {
		t.Errorf("source = %s, want coingecko", tick.Source)
	}
	if !tick.Price.Equal(decimal.NewFromFloat(64123.5)) {
		t.Errorf("price = %s, want 64123.5", tick.Price)
	}
	if !tick.Change24h.Equal(decimal.NewFromFloat(-1.78)) {
		t.Errorf("change = %s, want -1.78", tick.Change24h)
	}
	if !tick.Volume24h.Equal(decimal.NewFromFloat(28000000000)) {
		t.Errorf("volume = %s, want 28000000000", tick.Volume24h)
	}
	if !tick.High24h.IsZero() || !tick.Low24h.IsZero() {
		t.Errorf("high/low = %s/%s, want zero (venue does not report them)", tick.High24h, tick.Low24h)
	}
}

func TestQuoteUnknownCoin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	if tick := testAdapter(srv.URL, "").Quote(context.Background(), "not-a-coin"); tick != nil {
		t.Fatalf("expected nil, got %+v", tick)
	}
}

func TestDemoKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-cg-demo-api-key"); got != "demo-123" {
			t.Errorf("api key header = %q, want demo-123", got)
		}
		fmt.Fprint(w, `{"layerzero":{"usd":4.25,"usd_24h_change":0.5}}`)
	}))
	defer srv.Close()

	tick := testAdapter(srv.URL, "demo-123").Quote(context.Background(), "layerzero")
	if tick == nil {
		t.Fatal("expected a tick")
	}
	if !tick.Price.Equal(decimal.NewFromFloat(4.25)) {
		t.Errorf("price = %s, want 4.25", tick.Price)
	}
}

func TestCandlesFromSamples(t *testing.T) {
	now := time.Now().Unix()
	base := now - now%14400 - 86400
	start := now - 2*86400
	var seenDays string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/market_chart") {
			http.NotFound(w, r)
			return
		}
		seenDays = r.URL.Query().Get("days")
		var rows []string
		for i := int64(0); i < 8; i++ {
			rows = append(rows, fmt.Sprintf("[%d,%d]", (base+i*3600)*1000, 100+i))
		}
		fmt.Fprintf(w, `{"prices":[%s],"total_volumes":[]}`, strings.Join(rows, ","))
	}))
	defer srv.Close()

	out := testAdapter(srv.URL, "").Candles(context.Background(), "bitcoin", models.TF4H, start, now)

	if seenDays != "2" {
		t.Fatalf("days = %s, want 2", seenDays)
	}
	if len(out) != 2 {
		t.Fatalf("candles = %d, want 2", len(out))
	}
	first := out[0]
	if first.OpenTime.Unix() != base {
		t.Errorf("first bucket = %d, want %d", first.OpenTime.Unix(), base)
	}
	if !first.Open.Equal(decimal.NewFromInt(100)) || !first.Close.Equal(decimal.NewFromInt(103)) {
		t.Errorf("first open/close = %s/%s, want 100/103", first.Open, first.Close)
	}
	if !first.High.Equal(decimal.NewFromInt(103)) || !first.Low.Equal(decimal.NewFromInt(100)) {
		t.Errorf("first high/low = %s/%s, want 103/100", first.High, first.Low)
	}
	if first.Source != models.VenueCoinGecko || first.Timeframe != models.TF4H {
		t.Errorf("source/timeframe = %s/%s", first.Source, first.Timeframe)
	}
}

func TestCandlesRefusesUpsample(t *testing.T) {
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		fmt.Fprint(w, `{"prices":[]}`)
	}))
	defer srv.Close()

	now := time.Now().Unix()
	out := testAdapter(srv.URL, "").Candles(context.Background(), "bitcoin", models.TF5m, now-10*86400, now)

	if out != nil {
		t.Fatalf("expected nil, got %d candles", len(out))
	}
	if atomic.LoadInt64(&requests) != 0 {
		t.Fatalf("requests = %d, want 0 (span too wide for 5m samples)", requests)
	}
}

func TestCandlesOHLCFallback(t *testing.T) {
	now := time.Now().Unix()
	base := now - now%14400 - 2*86400
	start := now - 5*86400
	var ohlcDaysSeen string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/market_chart"):
			fmt.Fprint(w, `{"prices":[]}`)
		case strings.Contains(r.URL.Path, "/ohlc"):
			ohlcDaysSeen = r.URL.Query().Get("days")
			fmt.Fprintf(w, `[[%d,100,105,98,104],[%d,104,110,103,109]]`,
				base*1000, (base+14400)*1000)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out := testAdapter(srv.URL, "").Candles(context.Background(), "bitcoin", models.TF4H, start, now)

	if ohlcDaysSeen != "7" {
		t.Fatalf("ohlc days = %s, want the clamped 7", ohlcDaysSeen)
	}
	if len(out) != 2 {
		t.Fatalf("candles = %d, want 2 from the ohlc fallback", len(out))
	}
	if !out[1].Close.Equal(decimal.NewFromInt(109)) {
		t.Errorf("second close = %s, want 109", out[1].Close)
	}
	if out[0].Source != models.VenueCoinGecko {
		t.Errorf("source = %s, want coingecko", out[0].Source)
	}
}
