// Package eventstream is a websocket broadcast hub for live session
// activity: tool outcomes and session lifecycle transitions pushed to
// any connected observer (a debugging dashboard, a log tail), grounded
// on the teacher's tunnel.TunnelService websocket usage.
package eventstream

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"browsercontrol/internal/logging"
)

// Event is one broadcastable activity record.
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Hub fans out events to every currently connected websocket client.
// A slow or gone client never blocks a publisher: writes to a full
// client buffer are dropped rather than awaited.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the connection and registers it to receive
// broadcasts until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("eventstream: upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan Event, 32)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// readPump exists only to detect disconnects — the stream is one-way,
// the client never sends anything meaningful back.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for event := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteJSON(event); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast pushes event to every connected client, dropping it for any
// client whose buffer is already full.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- event:
		default:
			logging.Warn("eventstream: dropping event for slow client", zap.String("type", event.Type))
		}
	}
}

// ClientCount reports how many clients are currently connected, useful
// for the health service's metrics export.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
