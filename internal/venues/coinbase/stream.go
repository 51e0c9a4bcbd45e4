package coinbase

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"vega-market/internal/metrics"
	"vega-market/internal/models"
)

type streamState int32

const (
	stateIdle streamState = iota
	stateConnecting
	stateReady
	stateClosed
)

func (s streamState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConnecting:
		return "connecting"
	case stateReady:
		return "ready"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// StreamConfig tunes the shared ticker socket. Zero values get the
// production defaults.
type StreamConfig struct {
	URL       string
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Stream multiplexes ticker subscriptions from many callers over one
// shared WebSocket. Products are reference counted: the first listener
// for a product sends the subscribe frame, further listeners piggyback
// on it, and the last cancel sends the unsubscribe frame. On
// reconnect, one subscribe frame per live product is replayed.
type Stream struct {
	url    string
	dialer *websocket.Dialer
	logger *logrus.Logger

	baseDelay time.Duration
	maxDelay  time.Duration

	mu        sync.Mutex
	state     streamState
	conn      *websocket.Conn
	subs      map[string]map[uint64]*subscription
	nextToken uint64
	attempts  int

	writeMu sync.Mutex

	wakeChan chan struct{}
	stopChan chan struct{}
	done     chan struct{}

	msgCount   int64
	reconnects int64
}

type subscription struct {
	fn       func(models.Tick)
	canceled int32
}

func NewStream(cfg StreamConfig, logger *logrus.Logger) *Stream {
	if cfg.URL == "" {
		cfg.URL = DefaultWSURL
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}

	s := &Stream{
		url: cfg.URL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
		logger:    logger,
		baseDelay: cfg.BaseDelay,
		maxDelay:  cfg.MaxDelay,
		subs:      make(map[string]map[uint64]*subscription),
		wakeChan:  make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

type wsFrame struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

func subscribeFrame(productID string) wsFrame {
	return wsFrame{Type: "subscribe", ProductIDs: []string{productID}, Channels: []string{"ticker"}}
}

func unsubscribeFrame(productID string) wsFrame {
	return wsFrame{Type: "unsubscribe", ProductIDs: []string{productID}, Channels: []string{"ticker"}}
}

// Subscribe registers fn for ticker updates on a product and returns
// an idempotent cancel. The socket is dialed lazily on the first
// subscription. fn is invoked from the read loop, so it must not
// block.
func (s *Stream) Subscribe(productID string, fn func(models.Tick)) (func(), error) {
	if productID == "" || fn == nil {
		return nil, fmt.Errorf("coinbase stream: product and callback required")
	}

	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil, fmt.Errorf("coinbase stream: closed")
	}
	sub := &subscription{fn: fn}
	listeners := s.subs[productID]
	first := len(listeners) == 0
	if listeners == nil {
		listeners = make(map[uint64]*subscription)
		s.subs[productID] = listeners
	}
	s.nextToken++
	token := s.nextToken
	listeners[token] = sub
	conn := s.conn
	ready := s.state == stateReady
	products := len(s.subs)
	s.mu.Unlock()

	metrics.StreamSubscriptions.Set(float64(products))

	if first {
		if ready && conn != nil {
			if err := s.writeJSON(conn, subscribeFrame(productID)); err != nil {
				// socket is going down; the reconnect replay covers it
				s.logger.WithError(err).Debugf("subscribe frame failed for %s", productID)
			}
		} else {
			s.wake()
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.unsubscribe(productID, token, sub)
		})
	}
	return cancel, nil
}

func (s *Stream) unsubscribe(productID string, token uint64, sub *subscription) {
	atomic.StoreInt32(&sub.canceled, 1)

	s.mu.Lock()
	listeners := s.subs[productID]
	delete(listeners, token)
	last := len(listeners) == 0
	if last {
		delete(s.subs, productID)
	}
	conn := s.conn
	ready := s.state == stateReady
	products := len(s.subs)
	s.mu.Unlock()

	metrics.StreamSubscriptions.Set(float64(products))

	if last && ready && conn != nil {
		if err := s.writeJSON(conn, unsubscribeFrame(productID)); err != nil {
			s.logger.WithError(err).Debugf("unsubscribe frame failed for %s", productID)
		}
	}
}

// Close tears the stream down permanently. No listener callback fires
// after Close returns, and further Subscribe calls fail.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	s.state = stateClosed
	conn := s.conn
	s.conn = nil
	for _, listeners := range s.subs {
		for _, sub := range listeners {
			atomic.StoreInt32(&sub.canceled, 1)
		}
	}
	s.subs = make(map[string]map[uint64]*subscription)
	s.mu.Unlock()

	close(s.stopChan)
	if conn != nil {
		conn.Close()
	}
	<-s.done
	metrics.StreamSubscriptions.Set(0)
	s.logger.Info("🛑 Coinbase stream closed")
}

// run owns the connection lifecycle: dial, replay, read until the
// socket drops, back off, repeat. It parks when no products are live.
func (s *Stream) run() {
	defer close(s.done)

	for {
		select {
		case <-s.stopChan:
			return
		case <-s.wakeChan:
		}

		for s.wantConnection() {
			conn, err := s.connect()
			if err != nil {
				delay := s.nextBackoff()
				s.logger.WithError(err).Warnf("⚠️ Coinbase stream dial failed, retrying in %v", delay)
				if !s.sleep(delay) {
					return
				}
				continue
			}

			s.readLoop(conn)

			select {
			case <-s.stopChan:
				return
			default:
			}

			delay := s.nextBackoff()
			s.logger.Warnf("🔄 Coinbase stream lost, reconnecting in %v", delay)
			if !s.sleep(delay) {
				return
			}
		}

		// no live products left; park until the next subscribe
		s.setState(stateIdle)
	}
}

func (s *Stream) wantConnection() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != stateClosed && len(s.subs) > 0
}

// connect dials and replays one subscribe frame per live product.
func (s *Stream) connect() (*websocket.Conn, error) {
	s.setState(stateConnecting)
	atomic.AddInt64(&s.reconnects, 1)
	metrics.StreamReconnects.WithLabelValues(string(models.VenueCoinbase)).Inc()

	conn, _, err := s.dialer.Dial(s.url, nil)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("coinbase stream: closed")
	}
	s.conn = conn
	s.state = stateReady
	s.attempts = 0
	products := make([]string, 0, len(s.subs))
	for id := range s.subs {
		products = append(products, id)
	}
	s.mu.Unlock()
	sort.Strings(products)

	for _, id := range products {
		if err := s.writeJSON(conn, subscribeFrame(id)); err != nil {
			conn.Close()
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				if s.state != stateClosed {
					s.state = stateConnecting
				}
			}
			s.mu.Unlock()
			return nil, fmt.Errorf("replay subscribe %s: %w", id, err)
		}
	}

	s.logger.Infof("✅ Coinbase stream connected (%d products)", len(products))
	return conn, nil
}

// readLoop is the only reader on the socket; dispatch order therefore
// matches arrival order per product.
func (s *Stream) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				if s.state != stateClosed {
					s.state = stateConnecting
				}
			}
			s.mu.Unlock()
			s.logger.WithError(err).Debug("coinbase stream read ended")
			return
		}
		atomic.AddInt64(&s.msgCount, 1)
		s.dispatch(message)
	}
}

type tickerMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Open24h   string `json:"open_24h"`
	High24h   string `json:"high_24h"`
	Low24h    string `json:"low_24h"`
	Volume24h string `json:"volume_24h"`
}

func (s *Stream) dispatch(message []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}
	if msg.Type != "ticker" || msg.ProductID == "" {
		return
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil || !price.IsPositive() {
		return
	}

	tick := models.Tick{
		Price:     price,
		Source:    models.VenueCoinbase,
		Timestamp: time.Now().UTC(),
	}
	if open, err := decimal.NewFromString(msg.Open24h); err == nil && open.IsPositive() {
		tick.Change24h = models.ChangePercent(open, price)
	}
	if high, err := decimal.NewFromString(msg.High24h); err == nil {
		tick.High24h = high
	}
	if low, err := decimal.NewFromString(msg.Low24h); err == nil {
		tick.Low24h = low
	}
	if volume, err := decimal.NewFromString(msg.Volume24h); err == nil {
		tick.Volume24h = volume
	}

	s.mu.Lock()
	listeners := make([]*subscription, 0, len(s.subs[msg.ProductID]))
	for _, sub := range s.subs[msg.ProductID] {
		listeners = append(listeners, sub)
	}
	s.mu.Unlock()

	for _, sub := range listeners {
		// the flag is checked per dispatch so a canceled handle
		// goes quiet even while a read is in flight
		if atomic.LoadInt32(&sub.canceled) == 1 {
			continue
		}
		sub.fn(tick)
	}
}

// nextBackoff returns min(base·2^attempts, max) and advances the
// counter, yielding 1s, 2s, 4s, 8s, 16s, 30s, 30s... at the defaults.
// connect resets the counter on success.
func (s *Stream) nextBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := s.maxDelay
	if s.attempts < 30 {
		delay = s.baseDelay << uint(s.attempts)
		if delay > s.maxDelay || delay <= 0 {
			delay = s.maxDelay
		}
	}
	s.attempts++
	return delay
}

func (s *Stream) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-s.stopChan:
		return false
	}
}

func (s *Stream) setState(state streamState) {
	s.mu.Lock()
	if s.state != stateClosed {
		s.state = state
	}
	s.mu.Unlock()
}

func (s *Stream) wake() {
	select {
	case s.wakeChan <- struct{}{}:
	default:
	}
}

func (s *Stream) writeJSON(conn *websocket.Conn, v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// GetStats reports connection state for the stats endpoint.
func (s *Stream) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	listeners := 0
	for _, subs := range s.subs {
		listeners += len(subs)
	}
	return map[string]interface{}{
		"state":      s.state.String(),
		"products":   len(s.subs),
		"listeners":  listeners,
		"messages":   atomic.LoadInt64(&s.msgCount),
		"reconnects": atomic.LoadInt64(&s.reconnects),
	}
}
