package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/neurobile/internal/monitoring"
)

const (
	// Time allowed to write one message to the peer.
	writeWait = time.Second
	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second
	// Ping period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Clients only send control frames.
	maxMessageSize = 512
	// Messages queued per client before it is considered too slow.
	clientBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// WindowMessage is pushed to stream clients after every tick.
type WindowMessage struct {
	At       time.Time   `json:"at"`
	Rate     float64     `json:"rate"`
	Channels [][]float64 `json:"channels"`
	Ratio    *float64    `json:"ratio,omitempty"`
	Decision string      `json:"decision,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan WindowMessage
}

// Hub fans window messages out to websocket clients. A client whose queue
// is full misses messages rather than delaying the tick.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Broadcast queues m for every client without blocking.
func (h *Hub) Broadcast(m WindowMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- m:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams messages until either side
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("[api] websocket upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan WindowMessage, clientBuffer)}
	h.register(c)
	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client frames and notices when the browser goes away.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case m, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
