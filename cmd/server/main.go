package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"vega-market/internal/cache"
	"vega-market/internal/config"
	"vega-market/internal/gateway"
	"vega-market/internal/models"
	"vega-market/internal/proxy"
	"vega-market/internal/pubsub"
	"vega-market/internal/repository"
	"vega-market/internal/services/history"
	"vega-market/internal/services/live"
	"vega-market/internal/symbols"
	"vega-market/internal/venues"
	"vega-market/internal/venues/coinbase"
	"vega-market/internal/venues/coingecko"
	"vega-market/internal/venues/phemex"
	"vega-market/internal/venues/yahoo"
)

var version = "1.0.0"

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	logger.Info("Starting Vega Market Service...")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: ", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config: ", err)
	}

	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	ctx := context.Background()

	// ClickHouse is optional. Without it candles come straight from the
	// venues on every miss.
	var archive *repository.CandleRepository
	var clickhouseConn driver.Conn
	if cfg.ArchiveEnabled() {
		logger.Info("Connecting to ClickHouse...")
		clickhouseConn, err = clickhouse.Open(&clickhouse.Options{
			Addr: []string{fmt.Sprintf("%s:%d", cfg.ClickHouse.Host, cfg.ClickHouse.Port)},
			Auth: clickhouse.Auth{
				Database: cfg.ClickHouse.Database,
				Username: cfg.ClickHouse.Username,
				Password: cfg.ClickHouse.Password,
			},
			Settings: clickhouse.Settings{
				"max_execution_time": 60,
			},
			DialTimeout:     10 * time.Second,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		})
		if err != nil {
			logger.Fatal("Failed to connect to ClickHouse: ", err)
		}
		defer clickhouseConn.Close()

		if err := clickhouseConn.Ping(ctx); err != nil {
			logger.Fatal("ClickHouse ping failed: ", err)
		}
		archive = repository.NewCandleRepository(clickhouseConn, logger)
		logger.Info("ClickHouse connected successfully")
	} else {
		logger.Info("CLICKHOUSE_HOST not set - candle archive disabled")
	}

	// Redis is optional too. Without it there is no cache and no pub/sub.
	var redisClient *redis.Client
	var quoteCache *cache.QuoteCache
	var candleCache *cache.CandleCache
	var publisher *pubsub.Publisher
	if cfg.RedisEnabled() {
		logger.Info("Connecting to Redis...")
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis: ", err)
		}
		defer redisClient.Close()

		quoteCache = cache.NewQuoteCache(redisClient, logger)
		candleCache = cache.NewCandleCache(redisClient, cfg.Cache.CandleTTL, logger)
		publisher = pubsub.NewPublisher(redisClient, logger)
		logger.Info("Redis connected successfully")
	} else {
		logger.Info("REDIS_HOST not set - caching and pub/sub disabled")
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		logger.Fatal("Failed to build zap logger: ", err)
	}
	defer zapLogger.Sync()

	rotator := proxy.NewRotator(cfg.Proxy.URLs, cfg.Proxy.ListURL, zapLogger)
	rotator.Start(ctx)

	watchlist := symbols.LoadWatchlistWithFallback(cfg.Watchlist.File, logger)
	resolver := symbols.NewResolver(watchlist.Aliases)

	registry, limiters, quoters, stream := buildVenues(cfg, rotator, logger)

	// Interface fields must stay truly nil when a backend is disabled,
	// so the concrete pointers are only assigned when they exist.
	var tickPublisher live.TickPublisher
	if publisher != nil {
		tickPublisher = publisher
	}
	var streamer live.Streamer
	if stream != nil {
		streamer = stream
	}
	var histCache history.Cache
	if candleCache != nil {
		histCache = candleCache
	}
	var histArchive history.Archive
	if archive != nil {
		histArchive = archive
	}
	var seriesPublisher history.SeriesPublisher
	if publisher != nil {
		seriesPublisher = publisher
	}

	table := live.NewTickerTable()
	liveAgg := live.NewAggregator(resolver, table, streamer, quoters, tickPublisher, live.Config{
		PhemexPoll:      cfg.Poll.Phemex,
		YahooPoll:       cfg.Poll.Yahoo,
		CoinGeckoPoll:   cfg.Poll.CoinGecko,
		SnapshotPublish: cfg.Poll.Snapshot,
	}, logger)

	watch := liveAgg.Watch(watchlist.Holdings())

	sources := make([]history.CandleSource, 0, 4)
	for _, v := range registry.Venues() {
		sources = append(sources, registry.Get(v))
	}
	histAgg := history.NewAggregator(resolver, sources, histCache, histArchive, seriesPublisher, cfg.History.Workers, logger)

	gw := gateway.NewServer(gateway.Deps{
		Config:   cfg,
		Resolver: resolver,
		Table:    table,
		Feed:     watch,
		History:  histAgg,
		Registry: registry,
		Limiters: limiters,
		Quotes:   quoteCache,
		Archive:  archive,
		Rotator:  rotator,
		Logger:   logger,
	})

	gwErrChan := make(chan error, 1)
	go func() {
		if err := gw.Start(); err != nil {
			gwErrChan <- err
		}
	}()

	logger.Infof("🚀 Vega Market Service v%s started successfully", version)
	logger.Infof("Watching %d keys", len(watch.Keys()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case err := <-gwErrChan:
		logger.WithError(err).Error("HTTP server error")
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	gw.Stop(shutdownCtx)

	watch.Stop()
	if stream != nil {
		stream.Close()
	}
	rotator.Stop()

	logger.Info("Shutdown complete")
}

func buildVenues(cfg *config.Config, rotator *proxy.Rotator, logger *logrus.Logger) (*venues.Registry, *venues.LimiterSet, []live.Quoter, *coinbase.Stream) {
	client := &http.Client{Timeout: cfg.Venues.RequestTimeout}
	limiters := venues.NewLimiterSet()
	registry := venues.NewRegistry()

	var quoters []live.Quoter

	if cfg.Venues.EnableCoinbase {
		limiter := limiters.Register(models.VenueCoinbase, 10, 20)
		a := coinbase.NewAdapter(cfg.Venues.CoinbaseRESTURL, client, limiter, logger)
		registry.Register(a)
		quoters = append(quoters, a)
	}
	if cfg.Venues.EnablePhemex {
		limiter := limiters.Register(models.VenuePhemex, 5, 10)
		a := phemex.NewAdapter(cfg.Venues.PhemexURL, client, limiter, logger)
		registry.Register(a)
		quoters = append(quoters, a)
	}
	if cfg.Venues.EnableYahoo {
		// Yahoo throttles datacenter IPs, so its client rides the rotator.
		limiter := limiters.Register(models.VenueYahoo, 2, 4)
		a := yahoo.NewAdapter(cfg.Venues.YahooURL, rotator.Client(cfg.Venues.RequestTimeout), limiter, logger)
		registry.Register(a)
		quoters = append(quoters, a)
	}
	if cfg.Venues.EnableCoinGecko {
		// Free tier allows 30 requests per minute.
		limiter := limiters.Register(models.VenueCoinGecko, 0.5, 5)
		a := coingecko.NewAdapter(cfg.Venues.CoinGeckoURL, client, limiter, cfg.Venues.CoinGeckoAPIKey, logger)
		registry.Register(a)
		quoters = append(quoters, a)
	}

	var stream *coinbase.Stream
	if cfg.Venues.EnableCoinbase {
		stream = coinbase.NewStream(coinbase.StreamConfig{URL: cfg.Venues.CoinbaseWSURL}, logger)
	}

	return registry, limiters, quoters, stream
}
