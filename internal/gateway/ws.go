package gateway

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"vega-market/internal/metrics"
	"vega-market/internal/models"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBuffer   = 64
)

// GET /ws?symbols=BTC,ETH
//
// Streams tick responses as JSON text frames. An empty symbols param
// means every watched key. The current table state is sent first so a
// dashboard paints before the first live update.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	filter := s.parseFilter(r.URL.Query().Get("symbols"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the error response
		s.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
	}

	for _, tick := range s.snapshotFor(filter) {
		client.enqueue(tick)
	}

	cancel := s.feed.Subscribe(func(tick models.Tick) {
		if filter != nil && !filter[tick.Key] {
			return
		}
		client.enqueue(tick)
	})

	metrics.WSClients.Inc()
	s.logger.Debugf("websocket client connected, %d keys filtered", len(filter))

	go client.writeLoop()
	client.readLoop()

	cancel()
	close(client.done)
	conn.Close()
	metrics.WSClients.Dec()
	s.logger.Debug("websocket client disconnected")
}

// parseFilter normalizes the comma-separated symbols param into a set
// of canonical keys, nil for no filtering.
func (s *Server) parseFilter(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	filter := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		if key := s.resolver.Normalize(part); key != "" {
			filter[key] = true
		}
	}
	if len(filter) == 0 {
		return nil
	}
	return filter
}

func (s *Server) snapshotFor(filter map[string]bool) []models.Tick {
	snapshot := s.table.Snapshot()
	ticks := make([]models.Tick, 0, len(snapshot))
	for key, tick := range snapshot {
		if filter != nil && !filter[key] {
			continue
		}
		ticks = append(ticks, tick)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Key < ticks[j].Key })
	return ticks
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// enqueue drops the update when the client cannot keep up; the next
// tick for the key supersedes it anyway.
func (c *wsClient) enqueue(tick models.Tick) {
	data, err := json.Marshal(tick.ToResponse())
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop consumes control frames until the peer goes away. Inbound
// text frames are ignored; the feed is one-way.
func (c *wsClient) readLoop() {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
