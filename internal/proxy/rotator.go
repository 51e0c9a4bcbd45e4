// Package proxy maintains a rotating egress pool for venues that
// throttle datacenter IPs. Yahoo is the only consumer today: its quote
// endpoints intermittently reject direct cloud traffic, and cycling
// through a SOCKS5 pool keeps the poller alive.
package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultListURL serves a plain-text SOCKS5 list, one host:port per
	// line. Refresh is opt-in via config.
	DefaultListURL = "https://raw.githubusercontent.com/hookzof/socks5_list/master/proxy.txt"

	initialFetchTimeout = 10 * time.Second
	refreshInterval     = 30 * time.Minute
	fetchTimeout        = 15 * time.Second

	defaultScheme = "socks5"
)

// Rotator holds the pool and the index of the entry currently pinned.
// A request failure advances the pin, a success keeps it, so one
// working proxy serves every caller until it goes bad. The empty entry
// at the end of the pool means a direct connection.
type Rotator struct {
	logger     *zap.Logger
	refreshURL string
	httpClient *http.Client

	mu          sync.RWMutex
	pool        []string
	current     int
	lastRefresh time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRotator seeds the pool from static proxy URLs. Bare host:port
// entries get the socks5 scheme; invalid entries are dropped. A
// refreshURL of "" disables periodic list fetching.
func NewRotator(seeds []string, refreshURL string, logger *zap.Logger) *Rotator {
	pool := make([]string, 0, len(seeds)+1)
	for _, seed := range seeds {
		if p, ok := normalizeProxyURL(seed); ok {
			pool = append(pool, p)
		} else if strings.TrimSpace(seed) != "" {
			logger.Warn("dropping invalid proxy seed", zap.String("seed", seed))
		}
	}
	// direct connection stays the last resort
	pool = append(pool, "")

	return &Rotator{
		logger:     logger,
		refreshURL: refreshURL,
		pool:       pool,
		httpClient: &http.Client{
			Timeout: fetchTimeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    10 * time.Second,
				DisableCompression: true,
			},
		},
	}
}

// Start performs the initial list fetch when refresh is configured and
// launches the background updater. A failed initial fetch is not fatal;
// the seeded pool keeps serving.
func (r *Rotator) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	if r.refreshURL == "" {
		r.logger.Info("proxy rotator started with static pool",
			zap.Int("pool_size", r.PoolSize()))
		return nil
	}

	fetchCtx, fetchCancel := context.WithTimeout(ctx, initialFetchTimeout)
	defer fetchCancel()

	if err := r.refresh(fetchCtx); err != nil {
		r.logger.Warn("initial proxy list fetch failed, keeping seeds",
			zap.Error(err))
	}

	go r.periodicRefresh()

	r.logger.Info("proxy rotator started",
		zap.Int("pool_size", r.PoolSize()),
		zap.String("refresh_url", r.refreshURL))
	return nil
}

// Stop halts the background updater.
func (r *Rotator) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.logger.Info("proxy rotator stopped")
}

func (r *Rotator) periodicRefresh() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.refresh(r.ctx); err != nil {
				r.logger.Error("proxy list refresh failed", zap.Error(err))
			}
		}
	}
}

func (r *Rotator) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.refreshURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch proxy list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	pool, err := parsePool(resp.Body)
	if err != nil {
		return err
	}
	if len(pool) <= 1 {
		return fmt.Errorf("no proxies found in response")
	}

	r.mu.Lock()
	pinned := ""
	if r.current < len(r.pool) {
		pinned = r.pool[r.current]
	}
	r.pool = pool
	r.current = indexOf(pool, pinned) // 0 when the pin vanished
	r.lastRefresh = time.Now()
	r.mu.Unlock()

	r.logger.Info("proxy list refreshed", zap.Int("pool_size", len(pool)-1))
	return nil
}

// parsePool reads one proxy per line, skipping blanks and comments,
// and appends the direct-connection fallback.
func parsePool(body io.Reader) ([]string, error) {
	var pool []string
	scanner := bufio.NewScanner(body)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if p, ok := normalizeProxyURL(line); ok {
			pool = append(pool, p)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading proxy list: %w", err)
	}

	pool = append(pool, "")
	return pool, nil
}

func normalizeProxyURL(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if !strings.Contains(s, "://") {
		s = defaultScheme + "://" + s
	}

	parts := strings.SplitN(s, "://", 2)
	scheme := strings.ToLower(parts[0])
	switch scheme {
	case "http", "https", "socks4", "socks5":
	default:
		return "", false
	}

	hostPort := strings.Split(parts[1], ":")
	if len(hostPort) != 2 || hostPort[0] == "" || hostPort[1] == "" {
		return "", false
	}
	return s, true
}

func indexOf(pool []string, entry string) int {
	for i, p := range pool {
		if p == entry {
			return i
		}
	}
	return 0
}

// proxyFor is the http.Transport.Proxy hook; it is consulted on every
// request, so advancing the pin takes effect without rebuilding
// clients.
func (r *Rotator) proxyFor(*http.Request) (*url.URL, error) {
	r.mu.RLock()
	entry := r.pool[r.current]
	r.mu.RUnlock()

	if entry == "" {
		return nil, nil
	}
	return url.Parse(entry)
}

// MarkFailure advances the pin to the next pool entry.
func (r *Rotator) MarkFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.pool[r.current]
	r.current = (r.current + 1) % len(r.pool)
	r.logger.Debug("rotating proxy",
		zap.String("from", displayName(old)),
		zap.String("to", displayName(r.pool[r.current])))
}

// Current returns the pinned entry, "" for direct.
func (r *Rotator) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pool[r.current]
}

// PoolSize returns the number of proxies excluding the direct fallback.
func (r *Rotator) PoolSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pool) - 1
}

// Client returns an http.Client that routes through the pinned proxy
// and rotates away from it when requests fail or come back throttled.
func (r *Rotator) Client(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &rotatingTransport{
			rotator: r,
			base: &http.Transport{
				Proxy:           r.proxyFor,
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// GetStats reports pool state for the stats endpoint.
func (r *Rotator) GetStats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]interface{}{
		"pool_size":    len(r.pool) - 1,
		"current":      displayName(r.pool[r.current]),
		"last_refresh": r.lastRefresh,
		"refresh_url":  r.refreshURL,
	}
}

func displayName(entry string) string {
	if entry == "" {
		return "direct"
	}
	return entry
}

// rotatingTransport advances the rotator when the upstream either
// refuses the connection or answers with a throttling status.
type rotatingTransport struct {
	rotator *Rotator
	base    http.RoundTripper
}

func (t *rotatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.rotator.MarkFailure()
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable:
		t.rotator.MarkFailure()
	}
	return resp, nil
}
