package live

import (
	"sync"
	"sync/atomic"

	"vega-market/internal/models"
)

// notifier fans accepted ticks out to subscribers without letting a
// slow callback stall the pipelines: pending ticks coalesce per key,
// so under backpressure a subscriber sees the latest tick per key
// rather than every intermediate one.
type notifier struct {
	mu      sync.Mutex
	pending map[string]models.Tick
	order   []string

	subsMu sync.Mutex
	subs   map[int]*notifierSub
	nextID int

	wakeChan chan struct{}
	stopChan chan struct{}
	done     chan struct{}
}

type notifierSub struct {
	fn       func(models.Tick)
	canceled int32
}

func newNotifier() *notifier {
	n := &notifier{
		pending:  make(map[string]models.Tick),
		subs:     make(map[int]*notifierSub),
		wakeChan: make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) publish(tick models.Tick) {
	n.mu.Lock()
	if _, queued := n.pending[tick.Key]; !queued {
		n.order = append(n.order, tick.Key)
	}
	n.pending[tick.Key] = tick
	n.mu.Unlock()

	select {
	case n.wakeChan <- struct{}{}:
	default:
	}
}

func (n *notifier) subscribe(fn func(models.Tick)) func() {
	sub := &notifierSub{fn: fn}

	n.subsMu.Lock()
	n.nextID++
	id := n.nextID
	n.subs[id] = sub
	n.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			atomic.StoreInt32(&sub.canceled, 1)
			n.subsMu.Lock()
			delete(n.subs, id)
			n.subsMu.Unlock()
		})
	}
}

func (n *notifier) run() {
	defer close(n.done)

	for {
		select {
		case <-n.stopChan:
			return
		case <-n.wakeChan:
		}

		for {
			n.mu.Lock()
			if len(n.order) == 0 {
				n.mu.Unlock()
				break
			}
			key := n.order[0]
			n.order = n.order[1:]
			tick := n.pending[key]
			delete(n.pending, key)
			n.mu.Unlock()

			n.subsMu.Lock()
			listeners := make([]*notifierSub, 0, len(n.subs))
			for _, sub := range n.subs {
				listeners = append(listeners, sub)
			}
			n.subsMu.Unlock()

			for _, sub := range listeners {
				select {
				case <-n.stopChan:
					return
				default:
				}
				if atomic.LoadInt32(&sub.canceled) == 1 {
					continue
				}
				sub.fn(tick)
			}
		}
	}
}

// close stops the dispatch loop; after it returns no subscriber
// callback fires again. Callers serialize it (Watch.Stop runs once).
func (n *notifier) close() {
	close(n.stopChan)
	<-n.done
}
