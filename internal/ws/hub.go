// Package ws pushes queue and sync events to local UI clients over
// WebSocket.
package ws

import (
	"encoding/json"
	"net/http"
	"net/url"
	stdsync "sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tillpoint/pos-core/internal/logging"
	syncpkg "github.com/tillpoint/pos-core/internal/sync"
	"github.com/tillpoint/pos-core/internal/uuid"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The hub serves the local till UI only. Non-browser clients send
		// no Origin header; browsers must come from a loopback page.
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := u.Hostname()
		return host == "localhost" || host == "127.0.0.1" || host == "::1"
	},
}

// Event types pushed to clients.
const (
	EventQueueUpdated        = "queue.updated"
	EventConnectivityChanged = "connectivity.changed"
	EventSyncStarted         = "sync.started"
	EventSyncCompleted       = "sync.completed"
	EventSyncFailed          = "sync.failed"
)

// Envelope wraps every message sent to clients.
type Envelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// Client is one WebSocket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub tracks connected clients and fans events out to them.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         stdsync.RWMutex
}

// NewHub creates a hub and starts its dispatch loop.
func NewHub() *Hub {
	hub := &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
	go hub.run()
	return hub
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("ws client connected", map[string]interface{}{
				"client_id": client.id,
				"total":     total,
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("ws client disconnected", map[string]interface{}{
				"client_id": client.id,
				"total":     total,
			})

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer, drop the connection.
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast fans an event out to every connected client.
func (h *Hub) Broadcast(eventType string, data map[string]interface{}) {
	envelope := Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("ws envelope marshal failed", err, nil)
		return
	}

	select {
	case h.broadcast <- bytes:
	default:
		// Broadcast buffer full; the UI can recover from a missed event.
	}
}

// BroadcastQueueUpdated pushes the current pending-item count.
func (h *Hub) BroadcastQueueUpdated(pending int) {
	h.Broadcast(EventQueueUpdated, map[string]interface{}{
		"pending": pending,
	})
}

// BroadcastConnectivity pushes an online/offline transition.
func (h *Hub) BroadcastConnectivity(online bool) {
	h.Broadcast(EventConnectivityChanged, map[string]interface{}{
		"online": online,
	})
}

// BroadcastSyncStarted announces the start of a full sync pass.
func (h *Hub) BroadcastSyncStarted() {
	h.Broadcast(EventSyncStarted, map[string]interface{}{
		"status": "started",
	})
}

// BroadcastSyncCompleted announces a finished full sync pass.
func (h *Hub) BroadcastSyncCompleted(result *syncpkg.Result) {
	h.Broadcast(EventSyncCompleted, map[string]interface{}{
		"delivered":   result.Delivered,
		"products":    result.Products,
		"settings":    result.Settings,
		"duration_ms": result.Duration.Milliseconds(),
		"status":      "completed",
	})
}

// BroadcastSyncFailed announces a failed full sync pass.
func (h *Hub) BroadcastSyncFailed(err error) {
	h.Broadcast(EventSyncFailed, map[string]interface{}{
		"error":  err.Error(),
		"status": "failed",
	})
}

// ConnectivityChanged implements the scheduler event sink.
func (h *Hub) ConnectivityChanged(online bool) { h.BroadcastConnectivity(online) }

// SyncStarted implements the scheduler event sink.
func (h *Hub) SyncStarted() { h.BroadcastSyncStarted() }

// SyncCompleted implements the scheduler event sink.
func (h *Hub) SyncCompleted(result *syncpkg.Result) { h.BroadcastSyncCompleted(result) }

// SyncFailed implements the scheduler event sink.
func (h *Hub) SyncFailed(err error) { h.BroadcastSyncFailed(err) }

// ServeWS upgrades an HTTP request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("ws upgrade failed", err, nil)
		return
	}

	client := &Client{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump discards inbound frames and tears the client down on error.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("ws read error", map[string]interface{}{
					"client_id": c.id,
					"error":     err.Error(),
				})
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
