// Package history answers candle queries by fanning requests out over
// a bounded worker pool: Redis first, then the ClickHouse archive when
// it is fresh enough for the window, then the venues with failover
// (venue hint first when usable, then the routing primary, then the
// fallbacks; the first venue returning a non-empty normalized series
// wins). Fetch never fails; keys nothing answered for are simply
// absent.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vega-market/internal/metrics"
	"vega-market/internal/models"
	"vega-market/internal/symbols"
)

// Request names one symbol to fetch. Since is an epoch lower bound;
// zero means a timeframe-appropriate default window.
type Request struct {
	Symbol    string
	Type      models.AssetType
	VenueHint models.Venue
	Since     int64
}

// CandleSource is the venue history surface.
type CandleSource interface {
	Name() models.Venue
	Candles(ctx context.Context, nativeID string, tf models.Timeframe, start, end int64) []models.Candle
}

// Cache is the optional read-through series cache.
type Cache interface {
	GetSeries(ctx context.Context, key string, tf models.Timeframe) (*models.CandleSeries, bool)
	SetSeries(ctx context.Context, series models.CandleSeries)
}

// Archive is the durable candle store: winning series are written
// behind, and sufficiently fresh windows are served from it directly.
type Archive interface {
	InsertCandles(ctx context.Context, series models.CandleSeries) error
	GetCandles(ctx context.Context, key string, tf models.Timeframe, startTime, endTime time.Time, limit int) ([]models.Candle, error)
}

// SeriesPublisher pushes refreshed series to downstream consumers.
type SeriesPublisher interface {
	PublishSeries(ctx context.Context, series models.CandleSeries) error
}

const defaultWorkers = 4

// default lookback per timeframe when the request has no Since
var defaultSpans = map[models.Timeframe]int64{
	models.TF1m:  1 * 86400,
	models.TF5m:  3 * 86400,
	models.TF15m: 7 * 86400,
	models.TF1H:  30 * 86400,
	models.TF4H:  90 * 86400,
	models.TF1D:  365 * 86400,
}

type Aggregator struct {
	resolver  *symbols.Resolver
	sources   map[models.Venue]CandleSource
	cache     Cache
	archive   Archive
	publisher SeriesPublisher
	workers   int
	logger    *logrus.Logger
}

// NewAggregator wires the pool. cache, archive and publisher may be
// nil to disable those layers.
func NewAggregator(resolver *symbols.Resolver, sources []CandleSource, cache Cache, archive Archive, publisher SeriesPublisher, workers int, logger *logrus.Logger) *Aggregator {
	if workers <= 0 {
		workers = defaultWorkers
	}
	byVenue := make(map[models.Venue]CandleSource, len(sources))
	for _, s := range sources {
		if s != nil {
			byVenue[s.Name()] = s
		}
	}
	return &Aggregator{
		resolver:  resolver,
		sources:   byVenue,
		cache:     cache,
		archive:   archive,
		publisher: publisher,
		workers:   workers,
		logger:    logger,
	}
}

type job struct {
	plan  *models.RoutingPlan
	hint  models.Venue
	since int64
}

type result struct {
	key    string
	series models.CandleSeries
}

// Fetch resolves, dedupes and fans the requests out. The result maps
// canonical keys to non-empty series only.
func (a *Aggregator) Fetch(ctx context.Context, reqs []Request, tf models.Timeframe) map[string]models.CandleSeries {
	out := make(map[string]models.CandleSeries)
	if len(reqs) == 0 || !tf.Valid() {
		return out
	}

	jobs := make([]job, 0, len(reqs))
	seen := make(map[string]bool, len(reqs))
	for _, req := range reqs {
		plan := a.resolver.Resolve(req.Symbol, req.Type)
		if plan == nil {
			a.logger.Warnf("⏭️ skipping unresolvable symbol %q", req.Symbol)
			continue
		}
		if seen[plan.Key] {
			continue
		}
		seen[plan.Key] = true
		jobs = append(jobs, job{plan: plan, hint: req.VenueHint, since: req.Since})
	}
	if len(jobs) == 0 {
		return out
	}

	workers := a.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	taskChan := make(chan job, len(jobs))
	resultChan := make(chan result, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range taskChan {
				series := a.fetchOne(ctx, j, tf)
				if !series.Empty() {
					resultChan <- result{key: j.plan.Key, series: series}
				}
			}
		}()
	}

	for _, j := range jobs {
		taskChan <- j
	}
	close(taskChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for r := range resultChan {
		out[r.key] = r.series
	}
	return out
}

func (a *Aggregator) fetchOne(ctx context.Context, j job, tf models.Timeframe) models.CandleSeries {
	series := models.CandleSeries{Key: j.plan.Key, Timeframe: tf}

	if a.cache != nil {
		if cached, ok := a.cache.GetSeries(ctx, j.plan.Key, tf); ok && !cached.Empty() {
			metrics.RecordCacheAccess("candles", true)
			return *cached
		}
		metrics.RecordCacheAccess("candles", false)
	}

	end := time.Now().Unix()
	start := j.since
	if start <= 0 || start >= end {
		start = end - defaultSpans[tf]
	}

	if rows := a.archivedRows(ctx, j.plan.Key, tf, start, end); len(rows) > 0 {
		series.Candles = rows
		if a.cache != nil {
			a.cache.SetSeries(ctx, series)
		}
		return series
	}

	for _, venue := range a.candidateOrder(j) {
		source := a.sources[venue]
		nativeID := j.plan.NativeID(venue)
		if source == nil || nativeID == "" {
			continue
		}
		if ctx.Err() != nil {
			return series
		}

		rows := source.Candles(ctx, nativeID, tf, start, end)
		if len(rows) == 0 {
			a.logger.Debugf("no %s candles from %s for %s, trying next venue", tf, venue, j.plan.Key)
			continue
		}
		for i := range rows {
			rows[i].Key = j.plan.Key
		}
		series.Candles = rows

		if a.cache != nil {
			a.cache.SetSeries(ctx, series)
		}
		if a.archive != nil {
			go a.archiveSeries(series)
		}
		if a.publisher != nil {
			go a.publishSeries(series)
		}
		break
	}
	return series
}

// archivedRows serves a window from ClickHouse only when the archive
// is fresh enough for it: the newest archived bucket within two bucket
// spans of the requested end. Stale windows fall through to the
// venues, whose win then refreshes the archive.
func (a *Aggregator) archivedRows(ctx context.Context, key string, tf models.Timeframe, start, end int64) []models.Candle {
	if a.archive == nil {
		return nil
	}

	rows, err := a.archive.GetCandles(ctx, key, tf, time.Unix(start, 0).UTC(), time.Unix(end, 0).UTC(), 0)
	if err != nil {
		a.logger.WithError(err).Debugf("archive read failed for %s %s", key, tf)
		return nil
	}
	if len(rows) == 0 {
		metrics.RecordCacheAccess("archive", false)
		return nil
	}

	newest := rows[len(rows)-1].OpenTime.Unix()
	if end-newest >= 2*tf.Seconds() {
		metrics.RecordCacheAccess("archive", false)
		a.logger.Debugf("archive is stale for %s %s, refetching from venues", key, tf)
		return nil
	}

	metrics.RecordCacheAccess("archive", true)
	return rows
}

// candidateOrder: usable hint first, then primary, then fallbacks.
func (a *Aggregator) candidateOrder(j job) []models.Venue {
	order := make([]models.Venue, 0, 4)
	used := make(map[models.Venue]bool, 4)
	if j.hint != "" && j.plan.NativeID(j.hint) != "" {
		order = append(order, j.hint)
		used[j.hint] = true
	}
	for _, venue := range j.plan.Venues() {
		if used[venue] {
			continue
		}
		used[venue] = true
		order = append(order, venue)
	}
	return order
}

func (a *Aggregator) archiveSeries(series models.CandleSeries) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.archive.InsertCandles(ctx, series); err != nil {
		a.logger.WithError(err).Warnf("archive insert failed for %s %s", series.Key, series.Timeframe)
	}
}

func (a *Aggregator) publishSeries(series models.CandleSeries) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.publisher.PublishSeries(ctx, series); err != nil {
		a.logger.WithError(err).Debugf("series publish failed for %s %s", series.Key, series.Timeframe)
	}
}
