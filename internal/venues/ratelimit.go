package venues

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"vega-market/internal/models"
)

const (
	penaltyFloor  = time.Second
	penaltyCap    = 5 * time.Minute
	penaltyGrowth = 1.5
	penaltyDecay  = 0.9
	penaltyExpiry = 5 * time.Minute
)

// VenueLimiter gates requests to one venue: a token bucket for steady
// pacing plus a penalty delay that grows on 429s and decays again as
// requests succeed. CoinGecko's free tier is the main customer.
type VenueLimiter struct {
	name   models.Venue
	bucket *rate.Limiter

	mu           sync.Mutex
	requests     int64
	throttles    int64
	lastThrottle time.Time
	penalty      time.Duration
}

// NewVenueLimiter admits rps requests per second with the given burst.
func NewVenueLimiter(name models.Venue, rps float64, burst int) *VenueLimiter {
	return &VenueLimiter{
		name:   name,
		bucket: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Wait blocks through the current penalty and then the token bucket,
// returning early when the context ends.
func (l *VenueLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	penalty := l.penalty
	l.mu.Unlock()

	if penalty > 0 {
		select {
		case <-time.After(penalty):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return l.bucket.Wait(ctx)
}

// RecordRateLimitHit grows the penalty after a 429.
func (l *VenueLimiter) RecordRateLimitHit() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.throttles++
	l.lastThrottle = time.Now()

	if l.penalty == 0 {
		l.penalty = penaltyFloor
		return
	}
	l.penalty = time.Duration(float64(l.penalty) * penaltyGrowth)
	if l.penalty > penaltyCap {
		l.penalty = penaltyCap
	}
}

// RecordSuccess decays the penalty, dropping it entirely once the last
// throttle is old news.
func (l *VenueLimiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.requests++
	if l.penalty == 0 {
		return
	}

	if time.Since(l.lastThrottle) > penaltyExpiry {
		l.penalty = 0
		return
	}
	l.penalty = time.Duration(float64(l.penalty) * penaltyDecay)
	if l.penalty < penaltyFloor {
		l.penalty = 0
	}
}

// GetStats reports limiter counters for the stats endpoint.
func (l *VenueLimiter) GetStats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]interface{}{
		"venue":              string(l.name),
		"request_count":      l.requests,
		"rate_limit_hits":    l.throttles,
		"current_penalty_ms": l.penalty.Milliseconds(),
	}
}

// LimiterSet holds the per-venue limiters built at wiring time.
type LimiterSet struct {
	mu       sync.RWMutex
	limiters map[models.Venue]*VenueLimiter
}

func NewLimiterSet() *LimiterSet {
	return &LimiterSet{limiters: make(map[models.Venue]*VenueLimiter)}
}

// Register creates and stores a limiter for a venue, returning it for
// the adapter to hold.
func (s *LimiterSet) Register(v models.Venue, rps float64, burst int) *VenueLimiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter := NewVenueLimiter(v, rps, burst)
	s.limiters[v] = limiter
	return limiter
}

// GetStats collects counters from every registered limiter.
func (s *LimiterSet) GetStats() []map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]map[string]interface{}, 0, len(s.limiters))
	for _, l := range s.limiters {
		out = append(out, l.GetStats())
	}
	return out
}
