// Package monitor streams live session events to connected admin dashboards
// over WebSocket.
package monitor

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"explab/apps/server/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: Restrict in production
	},
}

// Connection represents one admin dashboard's WebSocket connection
type Connection struct {
	ID       string
	AdminID  int64
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *Hub
	LastPing time.Time
}

// Hub manages dashboard connections and fans session events out to them.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	nextConnID  uint64
	auth        auth.Service
}

func New(authService auth.Service) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		auth:        authService,
	}
}

// HandleWebSocket authenticates the admin session token and upgrades the
// connection. The token travels as a query parameter because browser
// WebSocket clients cannot set an Authorization header.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	adminID, _, ok := h.auth.ResolveSession(token)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Monitor] Upgrade error: %v", err)
		return
	}

	h.mu.Lock()
	h.nextConnID++
	connID := fmt.Sprintf("conn_%d", h.nextConnID)
	c := &Connection{
		ID:       connID,
		AdminID:  adminID,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		Hub:      h,
		LastPing: time.Now(),
	}
	h.connections[connID] = c
	h.mu.Unlock()

	log.Printf("[Monitor] Dashboard connected: %s (admin=%d), total: %d", connID, adminID, len(h.connections))

	go c.readPump()
	go c.writePump()
}

// BroadcastJSON encodes v and fans it out to every connected dashboard.
func (h *Hub) BroadcastJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[Monitor] Encode error: %v", err)
		return
	}
	h.Broadcast(data)
}

// Broadcast sends a message to all connections
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.connections {
		select {
		case c.Send <- message:
		default:
			// Drop message if buffer full
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Hub.removeConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		c.LastPing = time.Now()
		return nil
	})

	// The feed is one-directional; inbound frames only keep the connection
	// alive until the peer closes or times out.
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Monitor] Read error: %v", err)
			}
			break
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) removeConnection(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, c.ID)
	log.Printf("[Monitor] Dashboard disconnected: %s, total: %d", c.ID, len(h.connections))
}
