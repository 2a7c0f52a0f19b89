package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"evently-core/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendQueueSize = 32
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
)

// Connection wraps one upgraded WebSocket with its own outbound queue,
// preserving per-connection FIFO ordering (§4.7) independent of how
// fast the hub is producing broadcasts for other connections.
type Connection struct {
	id     string
	userID *uuid.UUID
	ws     *websocket.Conn
	send   chan []byte
	hub    *Hub
}

// UserID reports the authenticated identity behind this connection, if
// any. Unauthenticated connections may still receive broadcasts.
func (c *Connection) UserID() *uuid.UUID { return c.userID }

// Hub is the single-process event bus: one goroutine owns connection
// bookkeeping and broadcast fan-out, the same register/unregister/
// broadcast channel shape this codebase already uses for its
// background job loops, adapted here for long-lived connections
// instead of tickers.
type Hub struct {
	register   chan *Connection
	unregister chan *Connection
	broadcast  chan broadcastMsg
	log        *logger.Logger

	mu          sync.RWMutex
	connections map[*Connection]bool
}

type broadcastMsg struct {
	event   Event
	exclude *Connection
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan broadcastMsg, 256),
		connections: make(map[*Connection]bool),
		log:         log,
	}
}

// Run owns the hub's state for its lifetime; call it once from a
// background goroutine at startup.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			body, err := json.Marshal(msg.event)
			if err != nil {
				h.log.ErrorWithContext(ctx, "realtime: failed to marshal broadcast event", err, nil)
				continue
			}
			h.mu.RLock()
			for conn := range h.connections {
				if conn == msg.exclude {
					continue
				}
				select {
				case conn.send <- body:
				default:
					// Slow consumer: drop rather than block the hub
					// goroutine for every other connection.
					h.log.ErrorWithContext(ctx, "realtime: dropping broadcast for slow connection", nil, map[string]interface{}{"connection": conn.id})
				}
			}
			h.mu.RUnlock()

		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.connections {
				close(conn.send)
			}
			h.connections = make(map[*Connection]bool)
			h.mu.Unlock()
			return
		}
	}
}

// publish never blocks the caller on hub back-pressure beyond the
// channel buffer; a broadcast failure must never fail the underlying
// mutation (§4.7 Failures), so Publish* callers ignore this entirely.
func (h *Hub) publish(evt Event, exclude *Connection) {
	select {
	case h.broadcast <- broadcastMsg{event: evt, exclude: exclude}:
	default:
	}
}

func (h *Hub) Publish(evt Event) {
	h.publish(evt, nil)
}

func (h *Hub) PublishExcept(evt Event, exclude *Connection) {
	h.publish(evt, exclude)
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
