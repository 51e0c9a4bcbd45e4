// Package importer backfills the candle archive straight from the
// venue REST APIs: one window task per key, timeframe and calendar
// slice, fanned over a worker pool. Windows the primary venue cannot
// fill fall through the routing plan the same way live history
// requests do.
package importer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"vega-market/internal/config"
	"vega-market/internal/models"
	"vega-market/internal/repository"
	"vega-market/internal/symbols"
	"vega-market/internal/venues"
)

type Importer struct {
	resolver *symbols.Resolver
	registry *venues.Registry
	repo     *repository.CandleRepository
	logger   *logrus.Logger
	conn     clickhouse.Conn
}

type BackfillJob struct {
	Symbols    []string
	Timeframes []models.Timeframe
	StartYear  int
	StartMonth int
	EndYear    int
	EndMonth   int
	Workers    int

	// Resume skips windows already covered by the archive, so an
	// interrupted backfill picks up where it left off.
	Resume bool
}

func (j *BackfillJob) String() string {
	return fmt.Sprintf("%d symbols (%d timeframes) from %04d-%02d to %04d-%02d",
		len(j.Symbols), len(j.Timeframes), j.StartYear, j.StartMonth, j.EndYear, j.EndMonth)
}

type windowTask struct {
	plan  *models.RoutingPlan
	tf    models.Timeframe
	start time.Time
	end   time.Time
}

type backfillResult struct {
	task    windowTask
	venue   models.Venue
	count   int
	err     error
	skipped bool
}

func New(cfg *config.Config, resolver *symbols.Resolver, registry *venues.Registry, logger *logrus.Logger) (*Importer, error) {
	if !cfg.ArchiveEnabled() {
		return nil, fmt.Errorf("CLICKHOUSE_HOST is required for backfills")
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.ClickHouse.Host, cfg.ClickHouse.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	return &Importer{
		resolver: resolver,
		registry: registry,
		repo:     repository.NewCandleRepository(conn, logger),
		logger:   logger,
		conn:     conn,
	}, nil
}

func (imp *Importer) Close() {
	if imp.conn != nil {
		imp.conn.Close()
	}
}

func (imp *Importer) Backfill(ctx context.Context, job *BackfillJob) error {
	plans := make([]*models.RoutingPlan, 0, len(job.Symbols))
	seen := make(map[string]bool, len(job.Symbols))
	for _, symbol := range job.Symbols {
		plan := imp.resolver.Resolve(symbol, "")
		if plan == nil {
			imp.logger.Warnf("⏭️ skipping unresolvable symbol %q", symbol)
			continue
		}
		if seen[plan.Key] {
			continue
		}
		seen[plan.Key] = true
		plans = append(plans, plan)
	}
	if len(plans) == 0 {
		return fmt.Errorf("no resolvable symbols")
	}

	totalTasks := 0
	successCount := 0
	failCount := 0
	skippedCount := 0

	for _, tf := range job.Timeframes {
		imp.logger.Infof("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		imp.logger.Infof("📊 Processing timeframe: %s", tf)
		imp.logger.Infof("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")

		var latest map[string]time.Time
		if job.Resume {
			latest = imp.latestBuckets(ctx, plans, tf)
		}

		tasks := imp.generateTasks(plans, tf, job.StartYear, job.StartMonth, job.EndYear, job.EndMonth, latest)
		totalTasks += len(tasks)

		taskChan := make(chan windowTask, len(tasks))
		resultChan := make(chan backfillResult, len(tasks))

		var wg sync.WaitGroup
		for i := 0; i < job.Workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for task := range taskChan {
					resultChan <- imp.processWindow(ctx, task)
				}
			}()
		}

		for _, task := range tasks {
			taskChan <- task
		}
		close(taskChan)

		bar := progressbar.NewOptions(len(tasks),
			progressbar.OptionSetDescription(fmt.Sprintf("Backfilling %s", tf)),
			progressbar.OptionSetWidth(50),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)

		go func() {
			wg.Wait()
			close(resultChan)
		}()

		tfSuccess := 0
		tfFail := 0
		tfSkipped := 0

		for result := range resultChan {
			bar.Add(1)
			switch {
			case result.err != nil:
				tfFail++
				imp.logger.Warnf("  ❌ %s %s: %v",
					result.task.plan.Key, result.task.start.Format("2006-01-02"), result.err)
			case result.skipped:
				tfSkipped++
			default:
				tfSuccess++
				imp.logger.Debugf("  ✅ %s %s: %d candles from %s",
					result.task.plan.Key, result.task.start.Format("2006-01-02"), result.count, result.venue)
			}
		}

		successCount += tfSuccess
		failCount += tfFail
		skippedCount += tfSkipped

		imp.logger.Infof("\n✅ %s: %d succeeded, %d skipped, %d failed\n",
			tf, tfSuccess, tfSkipped, tfFail)
	}

	imp.logger.Info("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	imp.logger.Info("📈 Backfill Summary")
	imp.logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	imp.logger.Infof("Total tasks:    %d", totalTasks)
	imp.logger.Infof("✅ Successful:  %d", successCount)
	imp.logger.Infof("⏭️  Skipped:     %d", skippedCount)
	imp.logger.Infof("❌ Failed:      %d", failCount)
	imp.logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")

	if failCount > 0 {
		return fmt.Errorf("backfill completed with %d failures", failCount)
	}

	return nil
}

// latestBuckets asks the archive for the newest stored bucket per key.
// Keys that fail the lookup resume from scratch.
func (imp *Importer) latestBuckets(ctx context.Context, plans []*models.RoutingPlan, tf models.Timeframe) map[string]time.Time {
	latest := make(map[string]time.Time, len(plans))
	for _, plan := range plans {
		bucket, err := imp.repo.LatestBucket(ctx, plan.Key, tf)
		if err != nil {
			imp.logger.WithError(err).Debugf("latest bucket lookup failed for %s %s", plan.Key, tf)
			continue
		}
		if !bucket.IsZero() {
			latest[plan.Key] = bucket
		}
	}
	return latest
}

func (imp *Importer) generateTasks(plans []*models.RoutingPlan, tf models.Timeframe, startYear, startMonth, endYear, endMonth int, latest map[string]time.Time) []windowTask {
	var tasks []windowTask
	now := time.Now().UTC()

	monthStart := time.Date(startYear, time.Month(startMonth), 1, 0, 0, 0, 0, time.UTC)
	lastMonth := time.Date(endYear, time.Month(endMonth), 1, 0, 0, 0, 0, time.UTC)

	for !monthStart.After(lastMonth) {
		monthEnd := monthStart.AddDate(0, 1, 0)
		if monthEnd.After(now) {
			monthEnd = now
		}
		if !monthStart.Before(monthEnd) {
			break
		}

		for _, window := range splitWindows(monthStart, monthEnd, tf) {
			for _, plan := range plans {
				if bucket, ok := latest[plan.Key]; ok && !window[1].After(bucket.Add(tf.Duration())) {
					continue
				}
				tasks = append(tasks, windowTask{plan: plan, tf: tf, start: window[0], end: window[1]})
			}
		}

		monthStart = monthStart.AddDate(0, 1, 0)
	}

	return tasks
}

// splitWindows slices a month into day windows for the minute
// timeframes, keeping each fetch inside every venue's page cap.
func splitWindows(start, end time.Time, tf models.Timeframe) [][2]time.Time {
	if tf.Seconds() >= models.TF1H.Seconds() {
		return [][2]time.Time{{start, end}}
	}

	var windows [][2]time.Time
	for cursor := start; cursor.Before(end); cursor = cursor.AddDate(0, 0, 1) {
		next := cursor.AddDate(0, 0, 1)
		if next.After(end) {
			next = end
		}
		windows = append(windows, [2]time.Time{cursor, next})
	}
	return windows
}

func (imp *Importer) processWindow(ctx context.Context, task windowTask) backfillResult {
	start := task.start.Unix()
	end := task.end.Unix() - 1

	for _, venue := range task.plan.Venues() {
		adapter := imp.registry.Get(venue)
		nativeID := task.plan.NativeID(venue)
		if adapter == nil || nativeID == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return backfillResult{task: task, err: err}
		}

		rows := adapter.Candles(ctx, nativeID, task.tf, start, end)
		if len(rows) == 0 {
			continue
		}
		for i := range rows {
			rows[i].Key = task.plan.Key
		}

		series := models.CandleSeries{Key: task.plan.Key, Timeframe: task.tf, Candles: rows}
		if err := imp.repo.InsertCandles(ctx, series); err != nil {
			return backfillResult{task: task, err: fmt.Errorf("failed to insert candles: %w", err)}
		}
		return backfillResult{task: task, venue: venue, count: len(rows)}
	}

	return backfillResult{task: task, skipped: true}
}
