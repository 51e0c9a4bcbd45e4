package coinbase

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"vega-market/internal/models"
)

// wsHarness is a fake Coinbase feed: it records every subscribe and
// unsubscribe frame and can push ticker messages or drop connections.
type wsHarness struct {
	t        *testing.T
	upgrader websocket.Upgrader
	srv      *httptest.Server

	mu     sync.Mutex
	conns  []*websocket.Conn
	frames chan map[string]interface{}
}

func newWSHarness(t *testing.T) *wsHarness {
	h := &wsHarness{t: t, frames: make(chan map[string]interface{}, 64)}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conns = append(h.conns, conn)
		h.mu.Unlock()
		for {
			var frame map[string]interface{}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			h.frames <- frame
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *wsHarness) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func (h *wsHarness) expectFrame(typ, productID string) {
	h.t.Helper()
	select {
	case frame := <-h.frames:
		if frame["type"] != typ {
			h.t.Fatalf("frame type = %v, want %s", frame["type"], typ)
		}
		ids, _ := frame["product_ids"].([]interface{})
		if len(ids) != 1 || ids[0] != productID {
			h.t.Fatalf("frame products = %v, want [%s]", ids, productID)
		}
	case <-time.After(3 * time.Second):
		h.t.Fatalf("timed out waiting for %s %s", typ, productID)
	}
}

func (h *wsHarness) expectSilence(d time.Duration) {
	h.t.Helper()
	select {
	case frame := <-h.frames:
		h.t.Fatalf("unexpected frame %v", frame)
	case <-time.After(d):
	}
}

func (h *wsHarness) sendTicker(productID, price, open string) {
	h.t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.conns) == 0 {
		h.t.Fatal("no server-side connection")
	}
	conn := h.conns[len(h.conns)-1]
	msg := map[string]interface{}{
		"type":       "ticker",
		"product_id": productID,
		"price":      price,
		"open_24h":   open,
		"high_24h":   price,
		"low_24h":    open,
		"volume_24h": "1000",
	}
	if err := conn.WriteJSON(msg); err != nil {
		h.t.Fatalf("send ticker: %v", err)
	}
}

func (h *wsHarness) dropConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conn := range h.conns {
		conn.Close()
	}
	h.conns = nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestStream(t *testing.T, h *wsHarness) *Stream {
	t.Helper()
	s := NewStream(StreamConfig{URL: h.url(), BaseDelay: 20 * time.Millisecond}, testLogger())
	t.Cleanup(s.Close)
	return s
}

func TestStreamDeliversTicks(t *testing.T) {
	h := newWSHarness(t)
	s := newTestStream(t, h)

	ticks := make(chan models.Tick, 8)
	cancel, err := s.Subscribe("BTC-USD", func(tk models.Tick) { ticks <- tk })
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	h.expectFrame("subscribe", "BTC-USD")
	h.sendTicker("BTC-USD", "65000.5", "64000")

	select {
	case tk := <-ticks:
		if !tk.Price.Equal(decimal.RequireFromString("65000.5")) {
			t.Errorf("price = %s, want 65000.5", tk.Price)
		}
		if tk.Source != models.VenueCoinbase {
			t.Errorf("source = %s, want coinbase", tk.Source)
		}
		if !tk.Change24h.IsPositive() {
			t.Errorf("change = %s, want positive", tk.Change24h)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no tick delivered")
	}
}

func TestStreamSharesProductAcrossListeners(t *testing.T) {
	h := newWSHarness(t)
	s := newTestStream(t, h)

	first := make(chan models.Tick, 8)
	second := make(chan models.Tick, 8)

	cancel1, err := s.Subscribe("ETH-USD", func(tk models.Tick) { first <- tk })
	if err != nil {
		t.Fatal(err)
	}
	h.expectFrame("subscribe", "ETH-USD")

	cancel2, err := s.Subscribe("ETH-USD", func(tk models.Tick) { second <- tk })
	if err != nil {
		t.Fatal(err)
	}
	// the second listener rides the existing subscription
	h.expectSilence(150 * time.Millisecond)

	h.sendTicker("ETH-USD", "3500", "3400")
	for name, ch := range map[string]chan models.Tick{"first": first, "second": second} {
		select {
		case <-ch:
		case <-time.After(3 * time.Second):
			t.Fatalf("%s listener got no tick", name)
		}
	}

	cancel1()
	h.expectSilence(150 * time.Millisecond)
	cancel1() // idempotent
	h.expectSilence(100 * time.Millisecond)

	cancel2()
	h.expectFrame("unsubscribe", "ETH-USD")
}

func TestStreamReconnectReplaysSubscriptions(t *testing.T) {
	h := newWSHarness(t)
	s := newTestStream(t, h)

	ticks := make(chan models.Tick, 8)
	cancel, err := s.Subscribe("BTC-USD", func(tk models.Tick) { ticks <- tk })
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()
	h.expectFrame("subscribe", "BTC-USD")

	h.dropConnections()

	// the replacement socket re-subscribes without any caller action
	h.expectFrame("subscribe", "BTC-USD")
	h.sendTicker("BTC-USD", "65100", "64000")

	select {
	case <-ticks:
	case <-time.After(3 * time.Second):
		t.Fatal("no tick after reconnect")
	}
}

func TestStreamBackoffSchedule(t *testing.T) {
	s := &Stream{baseDelay: time.Second, maxDelay: 30 * time.Second}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		if got := s.nextBackoff(); got != w {
			t.Fatalf("failure %d: delay = %v, want %v", i+1, got, w)
		}
	}

	// a successful connect resets the ladder
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
	if got := s.nextBackoff(); got != time.Second {
		t.Fatalf("delay after reset = %v, want 1s", got)
	}
}

func TestStreamCanceledHandleGoesQuiet(t *testing.T) {
	h := newWSHarness(t)
	s := newTestStream(t, h)

	var calls int64
	cancel, err := s.Subscribe("SOL-USD", func(models.Tick) { atomic.AddInt64(&calls, 1) })
	if err != nil {
		t.Fatal(err)
	}
	h.expectFrame("subscribe", "SOL-USD")

	h.sendTicker("SOL-USD", "150", "140")
	waitFor(t, "first tick", func() bool { return atomic.LoadInt64(&calls) == 1 })

	cancel()
	h.expectFrame("unsubscribe", "SOL-USD")

	// the venue may keep pushing after unsubscribe; the handle stays quiet
	h.sendTicker("SOL-USD", "151", "140")
	time.Sleep(200 * time.Millisecond)
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("callback fired after cancel: %d calls", got)
	}
}

func TestStreamClose(t *testing.T) {
	h := newWSHarness(t)
	s := NewStream(StreamConfig{URL: h.url(), BaseDelay: 20 * time.Millisecond}, testLogger())

	if _, err := s.Subscribe("", func(models.Tick) {}); err == nil {
		t.Fatal("expected error for empty product")
	}

	s.Close()
	s.Close() // second close is a no-op

	if _, err := s.Subscribe("BTC-USD", func(models.Tick) {}); err == nil {
		t.Fatal("expected error after close")
	}
}
