package live

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"vega-market/internal/models"
	"vega-market/internal/symbols"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeStream stands in for the Coinbase multiplexer.
type fakeStream struct {
	mu         sync.Mutex
	callbacks  map[string][]func(models.Tick)
	subscribes map[string]int
	cancels    int
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		callbacks:  make(map[string][]func(models.Tick)),
		subscribes: make(map[string]int),
	}
}

func (f *fakeStream) Subscribe(productID string, fn func(models.Tick)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks[productID] = append(f.callbacks[productID], fn)
	f.subscribes[productID]++
	return func() {
		f.mu.Lock()
		f.cancels++
		f.mu.Unlock()
	}, nil
}

func (f *fakeStream) push(productID string, price float64) {
	f.mu.Lock()
	fns := append([]func(models.Tick){}, f.callbacks[productID]...)
	f.mu.Unlock()

	tick := models.Tick{
		Price:     decimal.NewFromFloat(price),
		Source:    models.VenueCoinbase,
		Timestamp: time.Now().UTC(),
	}
	for _, fn := range fns {
		fn(tick)
	}
}

func (f *fakeStream) subscribeCount(productID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes[productID]
}

// fakeQuoter is a scripted venue REST adapter.
type fakeQuoter struct {
	venue models.Venue

	mu    sync.Mutex
	price decimal.Decimal
	fail  bool
	calls int
	ids   []string
}

func newFakeQuoter(venue models.Venue, price float64) *fakeQuoter {
	return &fakeQuoter{venue: venue, price: decimal.NewFromFloat(price)}
}

func (f *fakeQuoter) Name() models.Venue { return f.venue }

func (f *fakeQuoter) Quote(ctx context.Context, nativeID string) *models.Tick {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ids = append(f.ids, nativeID)
	if f.fail {
		return nil
	}
	return &models.Tick{
		Price:     f.price,
		Source:    f.venue,
		Timestamp: time.Now().UTC(),
	}
}

func (f *fakeQuoter) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeQuoter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeQuoter) lastID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return ""
	}
	return f.ids[len(f.ids)-1]
}

func newTestAggregator(stream Streamer, quoters []Quoter, cfg Config) *Aggregator {
	return NewAggregator(symbols.NewResolver(nil), NewTickerTable(), stream, quoters, nil, cfg, testLogger())
}

func sourceOf(table *TickerTable, key string) models.Venue {
	tick, ok := table.Get(key)
	if !ok {
		return ""
	}
	return tick.Source
}

func TestWatchStreamsCoinbasePrimary(t *testing.T) {
	stream := newFakeStream()
	agg := newTestAggregator(stream, nil, Config{})

	w := agg.Watch([]models.Holding{{Symbol: "BTC", Type: models.AssetCryptoSpot}})
	defer w.Stop()

	if got := stream.subscribeCount("BTC-USD"); got != 1 {
		t.Fatalf("subscriptions for BTC-USD = %d, want 1", got)
	}

	stream.push("BTC-USD", 65000.5)
	waitFor(t, "table update", func() bool {
		tick, ok := agg.Table().Get("BTC")
		return ok && tick.Price.Equal(decimal.NewFromFloat(65000.5))
	})
	if got := sourceOf(agg.Table(), "BTC"); got != models.VenueCoinbase {
		t.Fatalf("source = %s, want coinbase", got)
	}
}

func TestWatchDedupesHoldingsByKey(t *testing.T) {
	stream := newFakeStream()
	agg := newTestAggregator(stream, nil, Config{})

	w := agg.Watch([]models.Holding{
		{Symbol: "BTC", Type: models.AssetCryptoSpot},
		{Symbol: "btc-usd", Type: models.AssetCryptoSpot},
		{Symbol: "COINBASE:BTCUSD", Type: models.AssetCryptoSpot},
		{Symbol: "BITCOIN", Type: models.AssetCryptoSpot},
	})
	defer w.Stop()

	if got := stream.subscribeCount("BTC-USD"); got != 1 {
		t.Fatalf("subscriptions = %d, want 1 shared across aliases", got)
	}
	if keys := w.Keys(); len(keys) != 1 || keys[0] != "BTC" {
		t.Fatalf("keys = %v, want [BTC]", keys)
	}
}

func TestWatchSkipsUnresolvable(t *testing.T) {
	stream := newFakeStream()
	agg := newTestAggregator(stream, nil, Config{})

	w := agg.Watch([]models.Holding{
		{Symbol: "---", Type: models.AssetCryptoSpot},
		{Symbol: "ETH", Type: models.AssetCryptoSpot},
	})
	defer w.Stop()

	if keys := w.Keys(); len(keys) != 1 || keys[0] != "ETH" {
		t.Fatalf("keys = %v, want [ETH]", keys)
	}
}

func TestWatchSuppressesFallbackWhilePrimaryDelivers(t *testing.T) {
	stream := newFakeStream()
	phemex := newFakeQuoter(models.VenuePhemex, 64990)
	cfg := Config{PhemexPoll: 60 * time.Millisecond}
	agg := newTestAggregator(stream, []Quoter{phemex}, cfg)

	w := agg.Watch([]models.Holding{{Symbol: "BTC", Type: models.AssetCryptoSpot}})
	defer w.Stop()

	// keep the primary chatty
	pusherStop := make(chan struct{})
	var pusherDone sync.WaitGroup
	pusherDone.Add(1)
	go func() {
		defer pusherDone.Done()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-pusherStop:
				return
			case <-ticker.C:
				stream.push("BTC-USD", 65000)
			}
		}
	}()

	waitFor(t, "primary tick", func() bool {
		return sourceOf(agg.Table(), "BTC") == models.VenueCoinbase
	})

	// past the first poll period the shadow poller must stay suppressed
	time.Sleep(80 * time.Millisecond)
	for i := 0; i < 15; i++ {
		if got := sourceOf(agg.Table(), "BTC"); got != models.VenueCoinbase {
			t.Fatalf("fallback leaked through while primary delivers: source = %s", got)
		}
		time.Sleep(10 * time.Millisecond)
	}
	waitFor(t, "shadow poller activity", func() bool { return phemex.callCount() >= 2 })

	// primary goes silent; one poll period later the fallback takes over
	close(pusherStop)
	pusherDone.Wait()
	waitFor(t, "fallback takeover", func() bool {
		return sourceOf(agg.Table(), "BTC") == models.VenuePhemex
	})

	// primary resumes and re-suppresses the fallback
	resumeStop := make(chan struct{})
	var resumeDone sync.WaitGroup
	resumeDone.Add(1)
	go func() {
		defer resumeDone.Done()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-resumeStop:
				return
			case <-ticker.C:
				stream.push("BTC-USD", 65020)
			}
		}
	}()
	waitFor(t, "primary retake", func() bool {
		return sourceOf(agg.Table(), "BTC") == models.VenueCoinbase
	})
	time.Sleep(80 * time.Millisecond)
	for i := 0; i < 15; i++ {
		if got := sourceOf(agg.Table(), "BTC"); got != models.VenueCoinbase {
			t.Fatalf("fallback leaked after primary resumed: source = %s", got)
		}
		time.Sleep(10 * time.Millisecond)
	}
	close(resumeStop)
	resumeDone.Wait()
}

func TestWatchPollsCoinGeckoWhenCoinbaseLacksProduct(t *testing.T) {
	stream := newFakeStream()
	gecko := newFakeQuoter(models.VenueCoinGecko, 4.2)
	phemex := newFakeQuoter(models.VenuePhemex, 4.19)
	cfg := Config{CoinGeckoPoll: 40 * time.Millisecond}
	agg := newTestAggregator(stream, []Quoter{gecko, phemex}, cfg)

	w := agg.Watch([]models.Holding{{Symbol: "ZRO", Type: models.AssetCryptoSpot}})
	defer w.Stop()

	waitFor(t, "coingecko tick", func() bool {
		return sourceOf(agg.Table(), "ZRO") == models.VenueCoinGecko
	})
	if got := stream.subscribeCount("ZRO-USD"); got != 0 {
		t.Fatalf("unexpected stream subscription for an unlisted product: %d", got)
	}
	if got := gecko.lastID(); got != "layerzero" {
		t.Fatalf("coingecko native id = %s, want layerzero", got)
	}
}

func TestWatchFailsOverWithinCycle(t *testing.T) {
	phemex := newFakeQuoter(models.VenuePhemex, 64000)
	phemex.setFail(true)
	gecko := newFakeQuoter(models.VenueCoinGecko, 63990)
	cfg := Config{PhemexPoll: 40 * time.Millisecond}
	agg := newTestAggregator(nil, []Quoter{phemex, gecko}, cfg)

	w := agg.Watch([]models.Holding{{Symbol: "BTC", Type: models.AssetCryptoPerp}})
	defer w.Stop()

	waitFor(t, "fallback fill", func() bool {
		return sourceOf(agg.Table(), "BTC") == models.VenueCoinGecko
	})
	if got := phemex.lastID(); got != "BTCUSDT" {
		t.Fatalf("phemex native id = %s, want BTCUSDT", got)
	}

	phemex.setFail(false)
	waitFor(t, "primary recovery", func() bool {
		return sourceOf(agg.Table(), "BTC") == models.VenuePhemex
	})
}

func TestWatchStopQuiesces(t *testing.T) {
	stream := newFakeStream()
	phemex := newFakeQuoter(models.VenuePhemex, 64990)
	cfg := Config{PhemexPoll: 30 * time.Millisecond}
	agg := newTestAggregator(stream, []Quoter{phemex}, cfg)

	w := agg.Watch([]models.Holding{{Symbol: "BTC", Type: models.AssetCryptoSpot}})

	var callbacks int64
	w.Subscribe(func(models.Tick) { atomic.AddInt64(&callbacks, 1) })

	stream.push("BTC-USD", 65000)
	waitFor(t, "first callback", func() bool { return atomic.LoadInt64(&callbacks) >= 1 })

	w.Stop()
	w.Stop() // idempotent

	seen := atomic.LoadInt64(&callbacks)
	before, _ := agg.Table().Get("BTC")

	// the fake stream still fires its captured callbacks; the stopped
	// watch must drop them
	for i := 0; i < 5; i++ {
		stream.push("BTC-USD", 66000)
		time.Sleep(20 * time.Millisecond)
	}

	if got := atomic.LoadInt64(&callbacks); got != seen {
		t.Fatalf("callbacks after Stop: %d → %d", seen, got)
	}
	after, _ := agg.Table().Get("BTC")
	if !after.Price.Equal(before.Price) || !after.Timestamp.Equal(before.Timestamp) {
		t.Fatalf("table changed after Stop: %+v → %+v", before, after)
	}
}

func TestWatchSubscribeCoalesces(t *testing.T) {
	stream := newFakeStream()
	agg := newTestAggregator(stream, nil, Config{})

	w := agg.Watch([]models.Holding{{Symbol: "BTC", Type: models.AssetCryptoSpot}})
	defer w.Stop()

	var mu sync.Mutex
	var got []decimal.Decimal
	w.Subscribe(func(tick models.Tick) {
		time.Sleep(40 * time.Millisecond) // slow consumer
		mu.Lock()
		got = append(got, tick.Price)
		mu.Unlock()
	})

	for i := 1; i <= 10; i++ {
		stream.push("BTC-USD", float64(65000+i))
		time.Sleep(2 * time.Millisecond)
	}

	waitFor(t, "latest price delivered", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1].Equal(decimal.NewFromFloat(65010))
	})

	mu.Lock()
	count := len(got)
	mu.Unlock()
	if count >= 10 {
		t.Fatalf("deliveries = %d, want coalescing under a slow consumer", count)
	}
}

func TestSubscribeCancelIsIdempotent(t *testing.T) {
	stream := newFakeStream()
	agg := newTestAggregator(stream, nil, Config{})

	w := agg.Watch([]models.Holding{{Symbol: "ETH", Type: models.AssetCryptoSpot}})
	defer w.Stop()

	var calls int64
	cancel := w.Subscribe(func(models.Tick) { atomic.AddInt64(&calls, 1) })

	stream.push("ETH-USD", 3500)
	waitFor(t, "delivery", func() bool { return atomic.LoadInt64(&calls) == 1 })

	cancel()
	cancel()

	stream.push("ETH-USD", 3501)
	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("calls after cancel = %d, want 1", got)
	}
}

// fakePublisher records published ticks and snapshots.
type fakePublisher struct {
	mu        sync.Mutex
	ticks     []models.Tick
	snapshots [][]models.Tick
}

func (p *fakePublisher) PublishTick(ctx context.Context, tick models.Tick) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks = append(p.ticks, tick)
	return nil
}

func (p *fakePublisher) PublishSnapshot(ctx context.Context, ticks []models.Tick) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, ticks)
	return nil
}

func (p *fakePublisher) tickCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ticks)
}

func (p *fakePublisher) lastSnapshot() []models.Tick {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.snapshots) == 0 {
		return nil
	}
	return p.snapshots[len(p.snapshots)-1]
}

func TestWatchPublishesAcceptedTicks(t *testing.T) {
	stream := newFakeStream()
	publisher := &fakePublisher{}
	agg := NewAggregator(symbols.NewResolver(nil), NewTickerTable(), stream, nil, publisher, Config{}, testLogger())

	w := agg.Watch([]models.Holding{{Symbol: "BTC", Type: models.AssetCryptoSpot}})
	defer w.Stop()

	stream.push("BTC-USD", 97000)
	waitFor(t, "tick publish", func() bool { return publisher.tickCount() == 1 })

	publisher.mu.Lock()
	tick := publisher.ticks[0]
	publisher.mu.Unlock()
	if tick.Key != "BTC" || tick.Source != models.VenueCoinbase {
		t.Fatalf("published tick = %s from %s, want BTC from coinbase", tick.Key, tick.Source)
	}

	// every accepted tick goes out, not just the coalesced notifier view
	stream.push("BTC-USD", 97050)
	waitFor(t, "second tick publish", func() bool { return publisher.tickCount() == 2 })
}

func TestWatchPublishesSnapshots(t *testing.T) {
	stream := newFakeStream()
	publisher := &fakePublisher{}
	cfg := Config{SnapshotPublish: 30 * time.Millisecond}
	agg := NewAggregator(symbols.NewResolver(nil), NewTickerTable(), stream, nil, publisher, cfg, testLogger())

	w := agg.Watch([]models.Holding{
		{Symbol: "BTC", Type: models.AssetCryptoSpot},
		{Symbol: "ETH", Type: models.AssetCryptoSpot},
	})
	defer w.Stop()

	stream.push("BTC-USD", 97000)
	stream.push("ETH-USD", 3500)

	waitFor(t, "snapshot with both keys", func() bool {
		return len(publisher.lastSnapshot()) == 2
	})

	snap := publisher.lastSnapshot()
	if snap[0].Key != "BTC" || snap[1].Key != "ETH" {
		t.Fatalf("snapshot keys = %s, %s; want BTC, ETH sorted", snap[0].Key, snap[1].Key)
	}
}
