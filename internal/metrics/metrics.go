package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// Live tick metrics
	TicksAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vega_ticks_accepted_total",
			Help: "Total ticks accepted into the ticker table by venue",
		},
		[]string{"venue"},
	)

	TicksSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vega_ticks_suppressed_total",
			Help: "Total fallback ticks suppressed while the primary was delivering",
		},
		[]string{"venue"},
	)

	TickerTableSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vega_ticker_table_size",
			Help: "Number of keys currently present in the ticker table",
		},
	)

	// Stream metrics
	StreamSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vega_stream_subscriptions",
			Help: "Number of active multiplexed WebSocket product subscriptions",
		},
	)

	StreamReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vega_stream_reconnects_total",
			Help: "Total WebSocket reconnect attempts by venue",
		},
		[]string{"venue"},
	)

	// Upstream REST metrics
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vega_upstream_requests_total",
			Help: "Total upstream REST requests by venue and outcome",
		},
		[]string{"venue", "outcome"}, // ok, error, empty
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vega_upstream_request_latency_ms",
			Help:    "Upstream REST request latency in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"venue"},
	)

	CandleFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vega_candle_fetches_total",
			Help: "Total candle fetches by venue, timeframe and outcome",
		},
		[]string{"venue", "timeframe", "outcome"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vega_cache_hits_total",
			Help: "Cache hits by tier",
		},
		[]string{"tier"}, // quotes, candles, archive
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vega_cache_misses_total",
			Help: "Cache misses by tier",
		},
		[]string{"tier"},
	)

	CacheHitRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vega_cache_hit_ratio",
			Help: "Rolling cache hit ratio by tier, 0 to 1",
		},
		[]string{"tier"},
	)

	// Archive metrics
	ArchiveQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vega_archive_queries_total",
			Help: "Total archive queries executed",
		},
		[]string{"operation"}, // select, insert
	)

	ArchiveQueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vega_archive_query_latency_ms",
			Help:    "Archive query latency in milliseconds",
			Buckets: []float64{1, 5, 25, 100, 250, 1000, 5000},
		},
		[]string{"operation"},
	)

	// Redis publish metrics
	PublishSuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vega_publish_success_total",
			Help: "Redis publishes that succeeded, by channel kind",
		},
		[]string{"channel_type"}, // tick, candle, snapshot
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vega_publish_failures_total",
			Help: "Redis publishes that failed, by channel kind",
		},
		[]string{"channel_type"},
	)

	// Watch metrics
	ActiveWatchPipelines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vega_watch_pipelines",
			Help: "Number of active per-key watch pipelines",
		},
	)

	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vega_ws_clients",
			Help: "Number of connected WebSocket feed clients",
		},
	)
)

// RateTracker derives a per-second rate from a monotonically growing
// event count, sampled on demand.
type RateTracker struct {
	mu       sync.Mutex
	count    int64
	sampled  int64
	sampleAt time.Time
}

func NewRateTracker() *RateTracker {
	return &RateTracker{sampleAt: time.Now()}
}

func (rt *RateTracker) Increment() {
	rt.mu.Lock()
	rt.count++
	rt.mu.Unlock()
}

// GetRate reports events per second since the previous sample. Windows
// under a second report 0 so a burst right after a sample does not
// read as a huge rate.
func (rt *RateTracker) GetRate() float64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := time.Now()
	window := now.Sub(rt.sampleAt).Seconds()
	if window < 1 {
		return 0
	}

	rate := float64(rt.count-rt.sampled) / window
	rt.sampled = rt.count
	rt.sampleAt = now
	return rate
}

// ticksTracker backs GetTicksPerSecond for the stats endpoint.
var ticksTracker = NewRateTracker()

// TrackTick increments the accepted-tick counter for a venue
func TrackTick(venue string) {
	TicksAccepted.WithLabelValues(venue).Inc()
	ticksTracker.Increment()
}

// GetTicksPerSecond returns current accepted ticks/sec
func GetTicksPerSecond() float64 {
	return ticksTracker.GetRate()
}

// TrackUpstream records one REST request outcome with its latency
func TrackUpstream(venue, outcome string, start time.Time) {
	UpstreamRequests.WithLabelValues(venue, outcome).Inc()
	TrackLatency(start, UpstreamLatency.WithLabelValues(venue))
}

// RecordCacheAccess counts a hit or miss and refreshes the tier's
// hit-ratio gauge.
func RecordCacheAccess(tier string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(tier).Inc()
	} else {
		CacheMisses.WithLabelValues(tier).Inc()
	}
	refreshHitRatio(tier)
}

// refreshHitRatio reads both counters back through a dto snapshot, the
// only way client_golang exposes a counter's current value.
func refreshHitRatio(tier string) {
	hits, err := CacheHits.GetMetricWithLabelValues(tier)
	if err != nil {
		return
	}
	misses, err := CacheMisses.GetMetricWithLabelValues(tier)
	if err != nil {
		return
	}

	var h, m dto.Metric
	if hits.Write(&h) != nil || misses.Write(&m) != nil {
		return
	}

	total := h.Counter.GetValue() + m.Counter.GetValue()
	if total > 0 {
		CacheHitRatio.WithLabelValues(tier).Set(h.Counter.GetValue() / total)
	}
}

// TrackLatency observes the milliseconds elapsed since start.
func TrackLatency(start time.Time, histogram prometheus.Observer) {
	histogram.Observe(float64(time.Since(start).Milliseconds()))
}
