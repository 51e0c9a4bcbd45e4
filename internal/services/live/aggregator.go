package live

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"vega-market/internal/metrics"
	"vega-market/internal/models"
	"vega-market/internal/symbols"
)

// Streamer is the WebSocket multiplexer seam. Subscribe arms a venue
// product and returns an idempotent cancel.
type Streamer interface {
	Subscribe(productID string, fn func(models.Tick)) (func(), error)
}

// Quoter is the REST quote surface of a venue adapter.
type Quoter interface {
	Name() models.Venue
	Quote(ctx context.Context, nativeID string) *models.Tick
}

// TickPublisher pushes accepted ticks and periodic table snapshots to
// downstream consumers (Redis pub/sub in production). Nil disables
// publishing.
type TickPublisher interface {
	PublishTick(ctx context.Context, tick models.Tick) error
	PublishSnapshot(ctx context.Context, ticks []models.Tick) error
}

// Config holds the poll cadences. The Phemex period doubles as the
// suppression window for its shadow poller under a Coinbase primary.
type Config struct {
	PhemexPoll      time.Duration
	YahooPoll       time.Duration
	CoinGeckoPoll   time.Duration
	SnapshotPublish time.Duration
}

func (c Config) withDefaults() Config {
	if c.PhemexPoll <= 0 {
		c.PhemexPoll = 5 * time.Second
	}
	if c.YahooPoll <= 0 {
		c.YahooPoll = 15 * time.Second
	}
	if c.CoinGeckoPoll <= 0 {
		c.CoinGeckoPoll = 10 * time.Second
	}
	if c.SnapshotPublish <= 0 {
		c.SnapshotPublish = 10 * time.Second
	}
	return c
}

func (c Config) pollInterval(venue models.Venue) time.Duration {
	switch venue {
	case models.VenueYahoo:
		return c.YahooPoll
	case models.VenueCoinGecko:
		return c.CoinGeckoPoll
	default:
		return c.PhemexPoll
	}
}

// Aggregator builds watch pipelines over the resolver, the shared
// stream and the REST quoters.
type Aggregator struct {
	resolver  *symbols.Resolver
	table     *TickerTable
	stream    Streamer
	quoters   map[models.Venue]Quoter
	publisher TickPublisher
	cfg       Config
	logger    *logrus.Logger
}

func NewAggregator(resolver *symbols.Resolver, table *TickerTable, stream Streamer, quoters []Quoter, publisher TickPublisher, cfg Config, logger *logrus.Logger) *Aggregator {
	byVenue := make(map[models.Venue]Quoter, len(quoters))
	for _, q := range quoters {
		if q != nil {
			byVenue[q.Name()] = q
		}
	}
	return &Aggregator{
		resolver:  resolver,
		table:     table,
		stream:    stream,
		quoters:   byVenue,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

func (a *Aggregator) Table() *TickerTable {
	return a.table
}

// Watch resolves the holdings, dedupes them by canonical key and
// starts one pipeline per key. Duplicate holdings share a pipeline,
// which in turn shares one upstream subscription.
func (a *Aggregator) Watch(holdings []models.Holding) *Watch {
	w := &Watch{agg: a, notifier: newNotifier(), done: make(chan struct{})}

	seen := make(map[string]bool, len(holdings))
	for _, h := range holdings {
		plan := a.resolver.Resolve(h.Symbol, h.Type)
		if plan == nil {
			a.logger.Warnf("⏭️ skipping unresolvable symbol %q", h.Symbol)
			continue
		}
		if seen[plan.Key] {
			continue
		}
		seen[plan.Key] = true
		w.pipelines = append(w.pipelines, a.buildPipeline(w, plan))
	}

	if a.publisher != nil {
		go w.snapshotLoop(a.cfg.SnapshotPublish)
	}

	metrics.ActiveWatchPipelines.Add(float64(len(w.pipelines)))
	a.logger.Infof("📊 watching %d keys across %d holdings", len(w.pipelines), len(holdings))
	return w
}

type pipeline struct {
	key      string
	primary  models.Venue
	cancelWS func()
	pollers  []*Poller
}

func (a *Aggregator) buildPipeline(w *Watch, plan *models.RoutingPlan) *pipeline {
	p := &pipeline{key: plan.Key, primary: plan.Primary}

	if plan.Primary == models.VenueCoinbase && a.stream != nil {
		if a.buildStreamPipeline(w, plan, p) {
			return p
		}
		// stream refused the product; poll instead
	}
	a.buildPollPipeline(w, plan, p)
	return p
}

// buildStreamPipeline arms the Coinbase subscription and, when Phemex
// is among the fallbacks, a shadow poller whose emissions are
// suppressed while the stream keeps delivering. One full poll period
// of stream silence releases it; the next stream tick re-suppresses.
func (a *Aggregator) buildStreamPipeline(w *Watch, plan *models.RoutingPlan, p *pipeline) bool {
	productID := plan.NativeID(models.VenueCoinbase)
	if productID == "" {
		return false
	}

	var lastPrimary int64

	cancel, err := a.stream.Subscribe(productID, func(tick models.Tick) {
		atomic.StoreInt64(&lastPrimary, time.Now().UnixNano())
		tick.Key = plan.Key
		w.accept(tick)
	})
	if err != nil {
		a.logger.WithError(err).Warnf("stream subscribe failed for %s, polling instead", plan.Key)
		return false
	}
	p.cancelWS = cancel

	quoter := a.quoters[models.VenuePhemex]
	nativeID := plan.NativeID(models.VenuePhemex)
	if !hasFallback(plan, models.VenuePhemex) || quoter == nil || nativeID == "" {
		return true
	}

	period := a.cfg.PhemexPoll
	shadow := NewPoller(period,
		func(ctx context.Context) *models.Tick {
			return quoter.Quote(ctx, nativeID)
		},
		func(tick models.Tick) {
			last := atomic.LoadInt64(&lastPrimary)
			if last > 0 && time.Since(time.Unix(0, last)) < period {
				metrics.TicksSuppressed.WithLabelValues(string(models.VenuePhemex)).Inc()
				return
			}
			tick.Key = plan.Key
			w.accept(tick)
		})
	shadow.Start()
	p.pollers = append(p.pollers, shadow)
	return true
}

// buildPollPipeline runs a single poller on the primary's cadence; a
// nil primary fetch falls through the fallback venues within the same
// cycle, so one venue outage costs no extra latency beyond its call.
func (a *Aggregator) buildPollPipeline(w *Watch, plan *models.RoutingPlan, p *pipeline) {
	type candidate struct {
		quoter   Quoter
		nativeID string
	}
	var candidates []candidate
	for _, venue := range plan.Venues() {
		quoter := a.quoters[venue]
		nativeID := plan.NativeID(venue)
		if quoter == nil || nativeID == "" {
			continue
		}
		candidates = append(candidates, candidate{quoter: quoter, nativeID: nativeID})
	}
	if len(candidates) == 0 {
		a.logger.Warnf("⚠️ no usable venue for %s, key will stay stale", plan.Key)
		return
	}

	poller := NewPoller(a.cfg.pollInterval(plan.Primary),
		func(ctx context.Context) *models.Tick {
			for _, c := range candidates {
				if tick := c.quoter.Quote(ctx, c.nativeID); tick != nil {
					return tick
				}
				if ctx.Err() != nil {
					return nil
				}
			}
			return nil
		},
		func(tick models.Tick) {
			tick.Key = plan.Key
			w.accept(tick)
		})
	poller.Start()
	p.pollers = append(p.pollers, poller)
}

func hasFallback(plan *models.RoutingPlan, venue models.Venue) bool {
	for _, v := range plan.Fallbacks {
		if v == venue {
			return true
		}
	}
	return false
}

// Watch is one running aggregation over a resolved holding set.
type Watch struct {
	agg       *Aggregator
	notifier  *notifier
	pipelines []*pipeline
	done      chan struct{}
	stopped   int32
	stopOnce  sync.Once
}

// accept is the single admission point for every pipeline emission.
func (w *Watch) accept(tick models.Tick) {
	if atomic.LoadInt32(&w.stopped) == 1 {
		return
	}
	if !w.agg.table.Set(tick) {
		return
	}
	metrics.TrackTick(string(tick.Source))
	w.notifier.publish(tick)

	if w.agg.publisher != nil {
		if err := w.agg.publisher.PublishTick(context.Background(), tick); err != nil {
			w.agg.logger.WithError(err).Debugf("tick publish failed for %s", tick.Key)
		}
	}
}

// snapshotLoop periodically publishes the whole ticker table so late
// joiners get a full picture without replaying the tick channels.
func (w *Watch) snapshotLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			snapshot := w.agg.table.Snapshot()
			if len(snapshot) == 0 {
				continue
			}
			keys := make([]string, 0, len(snapshot))
			for key := range snapshot {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			ticks := make([]models.Tick, 0, len(keys))
			for _, key := range keys {
				ticks = append(ticks, snapshot[key])
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := w.agg.publisher.PublishSnapshot(ctx, ticks); err != nil {
				w.agg.logger.WithError(err).Debug("snapshot publish failed")
			}
			cancel()
		}
	}
}

// Subscribe registers a callback for accepted ticks. Delivery is
// coalesced per key; the returned cancel is idempotent.
func (w *Watch) Subscribe(fn func(models.Tick)) func() {
	return w.notifier.subscribe(fn)
}

// Keys lists the canonical keys this watch maintains, sorted.
func (w *Watch) Keys() []string {
	keys := make([]string, 0, len(w.pipelines))
	for _, p := range w.pipelines {
		keys = append(keys, p.key)
	}
	sort.Strings(keys)
	return keys
}

// GetStats reports pipeline composition for the stats endpoint.
func (w *Watch) GetStats() map[string]interface{} {
	streaming := 0
	polling := 0
	for _, p := range w.pipelines {
		if p.cancelWS != nil {
			streaming++
		}
		polling += len(p.pollers)
	}
	return map[string]interface{}{
		"pipelines": len(w.pipelines),
		"streaming": streaming,
		"pollers":   polling,
		"keys":      w.Keys(),
	}
}

// Stop cancels every subscription and poller and quiesces the
// notifier. After Stop returns no callback fires and the table stops
// changing on this watch's behalf.
func (w *Watch) Stop() {
	w.stopOnce.Do(func() {
		atomic.StoreInt32(&w.stopped, 1)
		close(w.done)
		for _, p := range w.pipelines {
			if p.cancelWS != nil {
				p.cancelWS()
			}
			for _, poller := range p.pollers {
				poller.Stop()
			}
		}
		w.notifier.close()
		metrics.ActiveWatchPipelines.Sub(float64(len(w.pipelines)))
		w.agg.logger.Infof("🛑 watch stopped (%d pipelines)", len(w.pipelines))
	})
}
