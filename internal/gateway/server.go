// Package gateway is the HTTP surface of the aggregator: REST
// endpoints for resolution, quotes and candles, a WebSocket feed for
// live ticks, plus health and Prometheus metrics.
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"vega-market/internal/cache"
	"vega-market/internal/config"
	"vega-market/internal/models"
	"vega-market/internal/proxy"
	"vega-market/internal/repository"
	"vega-market/internal/services/history"
	"vega-market/internal/services/live"
	"vega-market/internal/symbols"
	"vega-market/internal/venues"
)

var version = "1.0.0"

// Feed is the live-tick surface the gateway serves from.
type Feed interface {
	Subscribe(fn func(models.Tick)) func()
	Keys() []string
	GetStats() map[string]interface{}
}

// Deps carries everything the server routes to. Quotes, Archive and
// Rotator may be nil when the matching backend is not configured.
type Deps struct {
	Config   *config.Config
	Resolver *symbols.Resolver
	Table    *live.TickerTable
	Feed     Feed
	History  *history.Aggregator
	Registry *venues.Registry
	Limiters *venues.LimiterSet
	Quotes   *cache.QuoteCache
	Archive  *repository.CandleRepository
	Rotator  *proxy.Rotator
	Logger   *logrus.Logger
}

type Server struct {
	config   *config.Config
	resolver *symbols.Resolver
	table    *live.TickerTable
	feed     Feed
	history  *history.Aggregator
	registry *venues.Registry
	limiters *venues.LimiterSet
	quotes   *cache.QuoteCache
	archive  *repository.CandleRepository
	rotator  *proxy.Rotator
	logger   *logrus.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader
	startTime  time.Time
}

func NewServer(deps Deps) *Server {
	return &Server{
		config:   deps.Config,
		resolver: deps.Resolver,
		table:    deps.Table,
		feed:     deps.Feed,
		history:  deps.History,
		registry: deps.Registry,
		limiters: deps.Limiters,
		quotes:   deps.Quotes,
		archive:  deps.Archive,
		rotator:  deps.Rotator,
		logger:   deps.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the dashboard is served from another origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startTime: time.Now(),
	}
}

// Handler builds the route table. Exposed separately from Start so
// tests can drive the mux through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/v1/resolve", s.handleResolve)
	mux.HandleFunc("/api/v1/tickers", s.handleTickers)
	mux.HandleFunc("/api/v1/quote", s.handleQuote)
	mux.HandleFunc("/api/v1/candles", s.handleCandles)
	mux.HandleFunc("/api/v1/stats", s.handleStats)

	mux.HandleFunc("/ws", s.handleWS)

	return s.logRequests(mux)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Server.HTTPPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the WebSocket feed writes indefinitely
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Infof("HTTP server listening on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	if s.httpServer != nil {
		s.logger.Info("Stopping HTTP server...")
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.WithError(err).Warn("HTTP shutdown interrupted")
		}
	}
}

// logRequests records method, path, status and duration for every
// request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).Milliseconds(),
		}).Debug("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrade take the connection over.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacking not supported")
	}
	return h.Hijack()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Debug("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
