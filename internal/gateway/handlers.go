package gateway

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"vega-market/internal/cache"
	"vega-market/internal/metrics"
	"vega-market/internal/models"
	"vega-market/internal/services/history"
)

func (s *Server) requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	services := map[string]string{
		"redis":      backendState(s.quotes != nil),
		"clickhouse": backendState(s.archive != nil),
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy":        true,
		"version":        version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"services":       services,
	})
}

func backendState(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// GET /api/v1/resolve?symbol=COINBASE:BTCUSD&type=crypto_spot
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	plan := s.resolver.Resolve(symbol, models.ParseAssetType(r.URL.Query().Get("type")))
	if plan == nil {
		s.writeError(w, http.StatusBadRequest, "symbol cannot be resolved")
		return
	}

	s.writeJSON(w, http.StatusOK, plan)
}

// GET /api/v1/tickers
func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	snapshot := s.table.Snapshot()
	tickers := make([]*models.TickResponse, 0, len(snapshot))
	for key := range snapshot {
		tick := snapshot[key]
		tickers = append(tickers, tick.ToResponse())
	}
	sort.Slice(tickers, func(i, j int) bool { return tickers[i].Key < tickers[j].Key })

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(tickers),
		"tickers": tickers,
	})
}

// GET /api/v1/quote?symbol=ZRO&type=crypto_spot
//
// Serves from the live table when the key is watched, then the quote
// cache, then walks the routing plan venue by venue.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	plan := s.resolver.Resolve(symbol, models.ParseAssetType(r.URL.Query().Get("type")))
	if plan == nil {
		s.writeError(w, http.StatusBadRequest, "symbol cannot be resolved")
		return
	}

	if tick, ok := s.table.Get(plan.Key); ok {
		s.writeJSON(w, http.StatusOK, tick.ToResponse())
		return
	}

	if s.quotes != nil {
		cached, err := s.quotes.GetQuote(r.Context(), plan.Key)
		metrics.RecordCacheAccess("quotes", err == nil && cached != nil)
		if err == nil && cached != nil {
			s.writeJSON(w, http.StatusOK, cached.ToResponse())
			return
		}
	}

	for _, venue := range plan.Venues() {
		adapter := s.registry.Get(venue)
		nativeID := plan.NativeID(venue)
		if adapter == nil || nativeID == "" {
			continue
		}

		tick := adapter.Quote(r.Context(), nativeID)
		if tick == nil {
			continue
		}
		tick.Key = plan.Key

		if s.quotes != nil {
			if err := s.quotes.SetQuote(r.Context(), tick, cache.QuoteTTL(venue)); err != nil {
				s.logger.WithError(err).Debugf("quote cache write failed for %s", plan.Key)
			}
		}
		s.writeJSON(w, http.StatusOK, tick.ToResponse())
		return
	}

	s.writeError(w, http.StatusNotFound, "no venue returned a quote for "+plan.Key)
}

// GET /api/v1/candles?symbol=BTC&tf=1H&type=crypto_spot&venue=phemex&since=1700000000
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	tf, ok := models.ParseTimeframe(q.Get("tf"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "tf must be one of 1m, 5m, 15m, 1H, 4H, 1D")
		return
	}

	var since int64
	if raw := q.Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "since must be epoch seconds")
			return
		}
		since = parsed
	}

	req := history.Request{
		Symbol:    symbol,
		Type:      models.ParseAssetType(q.Get("type")),
		VenueHint: models.Venue(strings.ToLower(q.Get("venue"))),
		Since:     since,
	}

	out := s.history.Fetch(r.Context(), []history.Request{req}, tf)
	if len(out) == 0 {
		s.writeError(w, http.StatusNotFound, "no venue returned candles")
		return
	}

	for key := range out {
		series := out[key]
		candles := make([]*models.CandleResponse, 0, len(series.Candles))
		for i := range series.Candles {
			candles = append(candles, series.Candles[i].ToResponse())
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"key":       series.Key,
			"timeframe": string(series.Timeframe),
			"count":     len(candles),
			"candles":   candles,
		})
		return
	}
}

// GET /api/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	stats := map[string]interface{}{
		"service": map[string]interface{}{
			"version":        version,
			"environment":    s.config.Server.Environment,
			"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		},
		"live":             s.feed.GetStats(),
		"watched_keys":     s.feed.Keys(),
		"ticks_per_second": metrics.GetTicksPerSecond(),
	}

	if s.limiters != nil {
		stats["venues"] = s.limiters.GetStats()
	}
	if s.archive != nil {
		archiveStats, err := s.archive.GetStats(r.Context())
		if err != nil {
			s.logger.WithError(err).Warn("archive stats query failed")
		} else {
			stats["archive"] = archiveStats
		}
	}
	if s.rotator != nil {
		stats["proxy"] = s.rotator.GetStats()
	}

	s.writeJSON(w, http.StatusOK, stats)
}
