// Package hub pushes market snapshots to websocket UI clients and turns
// their control messages into sequenced events.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/event"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// Publisher accepts events for the single writer.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) error
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// envelope wraps every message pushed to clients.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

// Hub fans snapshots out to every connected client. Snapshots are coalesced:
// a slow client misses intermediate snapshots, never the latest one.
type Hub struct {
	clients    map[*client]bool
	snapshots  chan domain.MarketSnapshot
	register   chan *client
	unregister chan *client
	publisher  Publisher
	done       chan struct{}
	mu         sync.RWMutex
	last       []byte
	logger     *slog.Logger
}

// NewHub creates a hub. A nil publisher makes the hub read-only.
func NewHub(publisher Publisher, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		snapshots:  make(chan domain.MarketSnapshot, 16),
		register:   make(chan *client),
		unregister: make(chan *client),
		publisher:  publisher,
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "hub")),
	}
}

// Broadcast queues snap for delivery without blocking. It is meant to be
// passed to service.Store.Subscribe.
func (h *Hub) Broadcast(snap domain.MarketSnapshot) {
	select {
	case h.snapshots <- snap:
	default:
		h.logger.Warn("hub: snapshot queue full, dropping")
	}
}

// Run handles client registration and snapshot fan-out until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			last := h.last
			h.mu.Unlock()
			if last != nil {
				c.trySend(last)
			}
			h.logger.Info("hub: client connected", slog.Int("total_clients", h.ClientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("hub: client disconnected", slog.Int("total_clients", h.ClientCount()))

		case snap := <-h.snapshots:
			data, err := json.Marshal(envelope{Type: "snapshot", Payload: snap})
			if err != nil {
				h.logger.Error("hub: marshal snapshot", slog.Any("error", err))
				continue
			}
			h.mu.Lock()
			h.last = data
			for c := range h.clients {
				c.trySend(data)
			}
			h.mu.Unlock()
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("hub: upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("hub: dropping message for slow client")
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("hub: unexpected close error", slog.Any("error", err))
			}
			return
		}
		c.handleCommand(message)
	}
}

func (c *client) handleCommand(message []byte) {
	ev, err := ParseCommand(message)
	if err != nil {
		c.reply(envelope{Type: "error", Message: err.Error()})
		return
	}
	if c.hub.publisher == nil {
		c.reply(envelope{Type: "error", Message: "read-only hub"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := c.hub.publisher.Publish(ctx, ev); err != nil {
		c.hub.logger.Warn("hub: publish command failed",
			slog.String("type", ev.GetType().String()),
			slog.Any("error", err))
		c.reply(envelope{Type: "error", Message: "busy, try again"})
	}
}

func (c *client) reply(env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	// only Run closes send, and only under the write lock
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.hub.clients[c] {
		c.trySend(data)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
