package alerts

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nshruti113/traffic-sentinel/internal/models"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait = 5 * time.Second

	// queued messages per client before it counts as too slow
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the envelope pushed to websocket clients
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// client owns one connection; writePump is its only writer
type client struct {
	conn *websocket.Conn
	send chan Message
}

// Hub broadcasts alerts and anomalies to connected websocket clients
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// ServeWS upgrades the request and keeps the client registered until it
// disconnects
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan Message, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.WithField("remote", conn.RemoteAddr().String()).Info("WebSocket client connected")

	go h.writePump(c)
	defer h.remove(c)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.WithError(err).Debug("WebSocket client gone")
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			log.WithError(err).Warn("WebSocket write failed")
			h.remove(c)
			return
		}
	}
}

// remove unregisters c and stops its writer. Safe to call more than once.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues a message for every client without blocking. Clients
// whose queue is full are dropped.
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	msg := Message{Type: msgType, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.WithField("remote", c.conn.RemoteAddr().String()).Warn("WebSocket client too slow, dropping")
			h.removeLocked(c)
		}
	}
}

func (h *Hub) SendAlert(_ context.Context, title, message string, severity models.Severity) error {
	h.Broadcast("alert", newAlert(title, message, severity))
	return nil
}
