package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"vega-market/internal/config"
	"vega-market/internal/importer"
	"vega-market/internal/models"
	"vega-market/internal/symbols"
	"vega-market/internal/venues"
	"vega-market/internal/venues/coinbase"
	"vega-market/internal/venues/coingecko"
	"vega-market/internal/venues/phemex"
	"vega-market/internal/venues/yahoo"
)

func main() {
	symbolsFlag := flag.String("symbols", "BTC,ETH", "Comma-separated symbols to backfill")
	timeframesFlag := flag.String("timeframes", "all", "Comma-separated timeframes (1m, 5m, 15m, 1H, 4H, 1D) or 'all'")
	startYear := flag.Int("start-year", 2024, "Start year")
	startMonth := flag.Int("start-month", 1, "Start month (1-12)")
	endYear := flag.Int("end-year", 2024, "End year")
	endMonth := flag.Int("end-month", 12, "End month (1-12)")
	workers := flag.Int("workers", 4, "Number of concurrent window fetches")
	resume := flag.Bool("resume", false, "Skip windows already covered by the archive")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("❌ Failed to load config: %v", err)
	}

	timeframes, err := parseTimeframes(*timeframesFlag)
	if err != nil {
		logger.Fatalf("❌ %v", err)
	}

	symbolList := splitList(*symbolsFlag)
	if len(symbolList) == 0 {
		logger.Fatal("❌ -symbols must name at least one symbol")
	}

	resolver := symbols.NewResolver(nil)
	registry := buildRegistry(cfg, logger)

	imp, err := importer.New(cfg, resolver, registry, logger)
	if err != nil {
		logger.Fatalf("❌ Failed to initialize importer: %v", err)
	}
	defer imp.Close()

	job := &importer.BackfillJob{
		Symbols:    symbolList,
		Timeframes: timeframes,
		StartYear:  *startYear,
		StartMonth: *startMonth,
		EndYear:    *endYear,
		EndMonth:   *endMonth,
		Workers:    *workers,
		Resume:     *resume,
	}

	logger.Infof("🚀 Starting backfill: %s", job)
	if err := imp.Backfill(context.Background(), job); err != nil {
		logger.Fatalf("❌ Backfill failed: %v", err)
	}
	logger.Info("✅ Backfill complete")
}

func buildRegistry(cfg *config.Config, logger *logrus.Logger) *venues.Registry {
	client := &http.Client{Timeout: cfg.Venues.RequestTimeout}
	limiters := venues.NewLimiterSet()
	registry := venues.NewRegistry()

	if cfg.Venues.EnableCoinbase {
		limiter := limiters.Register(models.VenueCoinbase, 10, 20)
		registry.Register(coinbase.NewAdapter(cfg.Venues.CoinbaseRESTURL, client, limiter, logger))
	}
	if cfg.Venues.EnablePhemex {
		limiter := limiters.Register(models.VenuePhemex, 5, 10)
		registry.Register(phemex.NewAdapter(cfg.Venues.PhemexURL, client, limiter, logger))
	}
	if cfg.Venues.EnableYahoo {
		limiter := limiters.Register(models.VenueYahoo, 2, 4)
		registry.Register(yahoo.NewAdapter(cfg.Venues.YahooURL, client, limiter, logger))
	}
	if cfg.Venues.EnableCoinGecko {
		// Free tier allows 30 requests per minute.
		limiter := limiters.Register(models.VenueCoinGecko, 0.5, 5)
		registry.Register(coingecko.NewAdapter(cfg.Venues.CoinGeckoURL, client, limiter, cfg.Venues.CoinGeckoAPIKey, logger))
	}

	return registry
}

func parseTimeframes(s string) ([]models.Timeframe, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return models.Timeframes(), nil
	}

	var out []models.Timeframe
	for _, part := range splitList(s) {
		tf, ok := models.ParseTimeframe(part)
		if !ok {
			return nil, fmt.Errorf("unknown timeframe %q (want 1m, 5m, 15m, 1H, 4H or 1D)", part)
		}
		out = append(out, tf)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("-timeframes must name at least one timeframe")
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
