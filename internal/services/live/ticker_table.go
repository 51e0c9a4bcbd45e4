// Package live keeps a continuously updated quote table for a watched
// set of holdings, fed by one pipeline per canonical key: a WebSocket
// subscription where Coinbase is primary, REST pollers everywhere
// else, with venue failover and fallback suppression handled here.
package live

import (
	"sync"

	"vega-market/internal/metrics"
	"vega-market/internal/models"
)

// TickerTable is the shared live snapshot consumers read from.
type TickerTable struct {
	mu    sync.RWMutex
	ticks map[string]models.Tick
}

func NewTickerTable() *TickerTable {
	return &TickerTable{ticks: make(map[string]models.Tick)}
}

// Set stores a tick under its canonical key. Keyless ticks and ticks
// without a positive price are rejected.
func (t *TickerTable) Set(tick models.Tick) bool {
	if tick.Key == "" || !tick.Valid() {
		return false
	}

	t.mu.Lock()
	t.ticks[tick.Key] = tick
	size := len(t.ticks)
	t.mu.Unlock()

	metrics.TickerTableSize.Set(float64(size))
	return true
}

func (t *TickerTable) Get(key string) (models.Tick, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tick, ok := t.ticks[key]
	return tick, ok
}

// Snapshot returns a copy of the table.
func (t *TickerTable) Snapshot() map[string]models.Tick {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]models.Tick, len(t.ticks))
	for key, tick := range t.ticks {
		out[key] = tick
	}
	return out
}

func (t *TickerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ticks)
}
