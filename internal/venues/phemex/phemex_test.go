package phemex

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
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

func testAdapter(baseURL string) *Adapter {
	limiter := venues.NewVenueLimiter(models.VenuePhemex, 1000, 1000)
	return NewAdapter(baseURL, &http.Client{Timeout: 5 * time.Second}, limiter, testLogger())
}

func tickerServer(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
}

func TestQuoteStringFields(t *testing.T) {
	srv := tickerServer(`{"error":null,"id":0,"result":{"closeRp":"64123.5","openRp":"63000","highRp":"64500","lowRp":"62800","volumeRq":"1520.75"}}`)
	defer srv.Close()

	tick := testAdapter(srv.URL).Quote(context.Background(), "BTCUSDT")
	if tick == nil {
		t.Fatal("expected a tick")
	}
	if tick.Source != models.VenuePhemex {
		t.Errorf("source = %s, want phemex", tick.Source)
	}
	if !tick.Price.Equal(decimal.RequireFromString("64123.5")) {
		t.Errorf("price = %s, want 64123.5", tick.Price)
	}
	wantChange := models.ChangePercent(decimal.NewFromInt(63000), tick.Price)
	if !tick.Change24h.Equal(wantChange) {
		t.Errorf("change = %s, want %s", tick.Change24h, wantChange)
	}
	if !tick.Volume24h.Equal(decimal.RequireFromString("1520.75")) {
		t.Errorf("volume = %s, want 1520.75", tick.Volume24h)
	}
}

func TestQuoteUnscaledNumbers(t *testing.T) {
	srv := tickerServer(`{"error":null,"id":0,"result":{"lastPrice":1850.25,"open":1800,"high":1900,"low":1790,"volume":5000}}`)
	defer srv.Close()

	tick := testAdapter(srv.URL).Quote(context.Background(), "ETHUSDT")
	if tick == nil {
		t.Fatal("expected a tick")
	}
	if !tick.Price.Equal(decimal.RequireFromString("1850.25")) {
		t.Errorf("price = %s, want 1850.25", tick.Price)
	}
	if !tick.Change24h.IsPositive() {
		t.Errorf("change = %s, want positive", tick.Change24h)
	}
}

func TestQuoteScaledFields(t *testing.T) {
	t.Run("1e4 scale", func(t *testing.T) {
		srv := tickerServer(`{"error":null,"id":0,"result":{"closeEp":641235000,"openEp":630000000}}`)
		defer srv.Close()

		tick := testAdapter(srv.URL).Quote(context.Background(), "BTCUSD")
		if tick == nil {
			t.Fatal("expected a tick")
		}
		if !tick.Price.Equal(decimal.RequireFromString("64123.5")) {
			t.Errorf("price = %s, want 64123.5", tick.Price)
		}
		if !tick.Change24h.IsPositive() {
			t.Errorf("change = %s, want positive", tick.Change24h)
		}
	})

	t.Run("1e8 scale", func(t *testing.T) {
		srv := tickerServer(`{"error":null,"id":0,"result":{"closeEp":6412350000000}}`)
		defer srv.Close()

		tick := testAdapter(srv.URL).Quote(context.Background(), "BTCUSD")
		if tick == nil {
			t.Fatal("expected a tick")
		}
		if !tick.Price.Equal(decimal.RequireFromString("64123.5")) {
			t.Errorf("price = %s, want 64123.5", tick.Price)
		}
	})
}

func TestQuoteVenueError(t *testing.T) {
	srv := tickerServer(`{"error":{"code":6001,"msg":"invalid symbol"},"id":0,"result":null}`)
	defer srv.Close()

	if tick := testAdapter(srv.URL).Quote(context.Background(), "NOPEUSDT"); tick != nil {
		t.Fatalf("expected nil tick, got %+v", tick)
	}
}

func TestQuoteNoUsablePrice(t *testing.T) {
	srv := tickerServer(`{"error":null,"id":0,"result":{"fundingRateRr":"0.0001"}}`)
	defer srv.Close()

	if tick := testAdapter(srv.URL).Quote(context.Background(), "BTCUSDT"); tick != nil {
		t.Fatalf("expected nil tick, got %+v", tick)
	}
}

func TestCandlesNative4H(t *testing.T) {
	base := int64(1700006400) // 4H aligned
	var seenResolution string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenResolution = r.URL.Query().Get("resolution")
		fmt.Fprintf(w, `{"code":0,"msg":"OK","data":{"total":5,"rows":[
			[%d,14400,100,100,110,95,105,40,4200],
			[%d,14400,105,105,112,101,108,35,3700],
			[%d,14400,108,108,115,104,112,30,3400],
			[%d,14400,90,90,95,88,92,10,900],
			[%d,14400,112,112,118,110,116,20,2300]
		]}}`, base, base+14400, base+28800, base-14400, base+86400)
	}))
	defer srv.Close()

	out := testAdapter(srv.URL).Candles(context.Background(), "BTCUSDT", models.TF4H, base, base+28800)

	if seenResolution != "14400" {
		t.Fatalf("resolution = %s, want 14400", seenResolution)
	}
	if len(out) != 3 {
		t.Fatalf("candles = %d, want 3 inside the window", len(out))
	}
	for i, c := range out {
		if c.OpenTime.Unix() != base+int64(i)*14400 {
			t.Errorf("candle %d opens at %d", i, c.OpenTime.Unix())
		}
		if c.Timeframe != models.TF4H {
			t.Errorf("timeframe = %s, want 4H", c.Timeframe)
		}
		if c.Source != models.VenuePhemex {
			t.Errorf("source = %s, want phemex", c.Source)
		}
	}
	if !out[0].Open.Equal(decimal.NewFromInt(100)) || !out[2].Close.Equal(decimal.NewFromInt(112)) {
		t.Errorf("edge values = %s/%s, want 100/112", out[0].Open, out[2].Close)
	}
}

func TestCandlesVenueCode(t *testing.T) {
	srv := tickerServer(`{"code":39995,"msg":"Too many requests.","data":null}`)
	defer srv.Close()

	out := testAdapter(srv.URL).Candles(context.Background(), "BTCUSDT", models.TF1H, 1700006400, 1700006400+7200)
	if len(out) != 0 {
		t.Fatalf("expected empty, got %d", len(out))
	}
}

func TestCandlesInvalidTimeframe(t *testing.T) {
	srv := tickerServer(`{"code":0,"msg":"OK","data":{"total":0,"rows":[]}}`)
	defer srv.Close()

	if out := testAdapter(srv.URL).Candles(context.Background(), "BTCUSDT", models.Timeframe("3m"), 0, 7200); out != nil {
		t.Fatalf("expected nil, got %d", len(out))
	}
}
