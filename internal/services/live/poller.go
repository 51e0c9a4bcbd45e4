package live

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"vega-market/internal/models"
)

// Poller drives a quote fetch on a fixed cadence, starting with an
// immediate fetch. Nil fetch results are skipped, and a response that
// lands after Stop is dropped rather than emitted.
type Poller struct {
	interval time.Duration
	fetch    func(ctx context.Context) *models.Tick
	emit     func(models.Tick)

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  int32
	done     chan struct{}
}

func NewPoller(interval time.Duration, fetch func(ctx context.Context) *models.Tick, emit func(models.Tick)) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		interval: interval,
		fetch:    fetch,
		emit:     emit,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (p *Poller) Start() {
	go p.run()
}

func (p *Poller) run() {
	defer close(p.done)

	p.poll()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	tick := p.fetch(p.ctx)
	if tick == nil {
		return
	}
	if atomic.LoadInt32(&p.stopped) == 1 {
		return
	}
	p.emit(*tick)
}

// Stop is idempotent and returns only after the poll loop has exited,
// so no emit can follow it.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.stopped, 1)
		p.cancel()
		<-p.done
	})
}
