package services

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bikefleet/relay/internal/models"
	"github.com/bikefleet/relay/internal/utils"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 512
)

// Hub rebroadcasts broker messages to every connected websocket client.
// Each client owns a bounded queue drained by its own writer goroutine, so a
// slow client never delays the others.
type Hub struct {
	queueSize    int
	writeTimeout time.Duration
	logger       zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	open      atomic.Bool
	closeOnce sync.Once
}

// NewHub creates a Hub with the given per-client queue size and write deadline.
func NewHub(queueSize int, writeTimeout time.Duration, logger zerolog.Logger) *Hub {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Hub{
		queueSize:    queueSize,
		writeTimeout: writeTimeout,
		logger:       logger,
		clients:      make(map[*client]struct{}),
	}
}

// Register adds an upgraded websocket connection and starts its pumps.
func (h *Hub) Register(conn *websocket.Conn) {
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.queueSize),
		done: make(chan struct{}),
	}
	c.open.Store(true)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().Str("remote", conn.RemoteAddr().String()).Int("clients", count).Msg("Websocket client connected")

	go c.writePump()
	go c.readPump()
}

// Broadcast wraps a broker message in an envelope and queues it for every
// open client. Topics without a device segment are ignored. It returns the
// number of clients the envelope was queued for.
func (h *Hub) Broadcast(topic string, payload any) int {
	info, ok := utils.ParseTopic(topic)
	if !ok {
		return 0
	}

	data, err := json.Marshal(models.Envelope{
		Topic:    topic,
		Type:     info.Type,
		Group:    info.Group,
		DeviceID: info.DeviceID,
		Payload:  payload,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("Failed to serialize websocket envelope")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.clients {
		if !c.open.Load() {
			continue
		}
		select {
		case c.send <- data:
			delivered++
		default:
			h.logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Str("topic", topic).Msg("Websocket client queue full, dropping message")
		}
	}
	return delivered
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects further registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.logger.Info().Int("clients", len(clients)).Msg("Websocket hub closed")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	c.close()
	if present {
		h.logger.Info().Str("remote", c.conn.RemoteAddr().String()).Int("clients", count).Msg("Websocket client disconnected")
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.done)
	})
}

// writePump is the only goroutine writing to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.unregister(c)
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.logger.Debug().Err(err).Msg("Websocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

// readPump discards inbound frames; clients are receive-only. It exists to
// process pongs and notice disconnects.
func (c *client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
