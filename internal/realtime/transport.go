package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"evently-core/internal/booking"
	"evently-core/internal/seatlock"
	"evently-core/internal/shared/apperr"
	"evently-core/internal/shared/config"
	"evently-core/internal/shared/middleware"
	"evently-core/internal/tokengate"
	"evently-core/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin enforcement belongs to the reverse proxy / CORS layer in
	// front of this service, matching the rest of this codebase's HTTP
	// surface (gin-contrib/cors), not the upgrader itself.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inboundMessage is the envelope a client sends back over an
// authenticated connection to originate one of the mutation mirrors.
type inboundMessage struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type lockRequest struct {
	EventID    uuid.UUID `json:"event_id"`
	SeatTypeID uuid.UUID `json:"seat_type_id"`
	SeatLabel  string    `json:"seat_label"`
}

type createBookingRequest struct {
	EventID uuid.UUID             `json:"event_id"`
	Seats   []booking.SeatRequest `json:"seat_details"`
}

// Server wires the hub to gin and dispatches originatable events (§4.7)
// to the Lock Manager / Coordinator. It calls them only through their
// Service interfaces (seatlock.Service.Acquire,
// booking.Service.CreateBooking), and it never lets a dispatch failure
// escape as anything but a direct error frame to the originator.
type Server struct {
	hub      *Hub
	cfg      *config.Config
	gate     tokengate.Service
	seats    seatlock.Service
	bookings booking.Service
	log      *logger.Logger
}

func NewServer(hub *Hub, cfg *config.Config, gate tokengate.Service, seats seatlock.Service, bookings booking.Service, log *logger.Logger) *Server {
	return &Server{hub: hub, cfg: cfg, gate: gate, seats: seats, bookings: bookings, log: log}
}

// ServeWS upgrades the connection and registers it with the hub.
// Authentication is optional: an absent or invalid token yields an
// unauthenticated connection that may still receive broadcasts (§4.7).
func (s *Server) ServeWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.ErrorWithContext(c.Request.Context(), "realtime: websocket upgrade failed", err, nil)
		return
	}

	conn := &Connection{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendQueueSize),
		hub:  s.hub,
	}
	conn.userID = s.authenticate(c.Request.Context(), c.Query("token"))

	s.hub.register <- conn

	go s.writePump(conn)
	go s.readPump(c.Request.Context(), conn)
}

func (s *Server) authenticate(ctx context.Context, token string) *uuid.UUID {
	if token == "" {
		return nil
	}
	claims, err := middleware.ParseAccessToken(s.cfg, token)
	if err != nil {
		return nil
	}
	if s.gate != nil && s.gate.IsBlacklisted(ctx, token) {
		return nil
	}
	rawID, _ := claims["user_id"].(string)
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return nil
	}
	return &userID
}

func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case message, ok := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(ctx context.Context, conn *Connection) {
	defer func() {
		s.hub.unregister <- conn
		conn.ws.Close()
	}()

	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendError(conn, "malformed message")
			continue
		}
		s.dispatch(ctx, conn, msg)
	}
}

// dispatch handles the originatable subset: everything else the client
// sends is rejected rather than silently ignored, so a misbehaving
// client gets a clear signal. The origin is stamped onto the context
// so the broadcaster skips this connection when mirroring the public
// event; the originator gets only the direct response frame.
func (s *Server) dispatch(ctx context.Context, conn *Connection, msg inboundMessage) {
	if conn.userID == nil {
		s.sendError(conn, "authentication required to originate events")
		return
	}
	ctx = WithOrigin(ctx, conn)

	switch msg.Type {
	case SeatLocked:
		s.dispatchLock(ctx, conn, msg.Payload)
	case BookingCreated:
		s.dispatchCreateBooking(ctx, conn, msg.Payload)
	default:
		s.sendError(conn, "event type is not originatable")
	}
}

func (s *Server) dispatchLock(ctx context.Context, conn *Connection, raw json.RawMessage) {
	var req lockRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(conn, "malformed seat lock request")
		return
	}

	lock, err := s.seats.Acquire(ctx, req.EventID, req.SeatTypeID, *conn.userID, req.SeatLabel)
	if err != nil {
		s.sendError(conn, errorMessage(err))
		return
	}

	s.sendDirect(conn, SeatLocked, lock)
}

func (s *Server) dispatchCreateBooking(ctx context.Context, conn *Connection, raw json.RawMessage) {
	var req createBookingRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(conn, "malformed booking request")
		return
	}

	b, err := s.bookings.CreateBooking(ctx, req.EventID, *conn.userID, req.Seats)
	if err != nil {
		s.sendError(conn, errorMessage(err))
		return
	}

	s.sendDirect(conn, BookingCreated, b)
}

func (s *Server) sendDirect(conn *Connection, eventType EventType, payload interface{}) {
	body, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		return
	}
	select {
	case conn.send <- body:
	default:
	}
}

func (s *Server) sendError(conn *Connection, message string) {
	body, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return
	}
	select {
	case conn.send <- body:
	default:
	}
}

func errorMessage(err error) string {
	if appErr, ok := apperr.As(err); ok {
		return appErr.Message
	}
	return "request failed"
}
