// Package realtime is the Realtime Broadcaster (§4.7): a single-process
// event hub that fans mutation-lifecycle events out to connected
// WebSocket clients and accepts a narrow set of authenticated
// originating events back in.
package realtime

import "github.com/google/uuid"

// EventType names one of the public broadcast events or, for the
// originatable subset, one a connection may send inbound.
type EventType string

const (
	EventCreated         EventType = "event_created"
	EventUpdated         EventType = "event_updated"
	EventDeleted         EventType = "event_deleted"
	SeatTypeCreated      EventType = "seat_type_created"
	SeatTypeUpdated      EventType = "seat_type_updated"
	SeatTypeDeleted      EventType = "seat_type_deleted"
	SeatLocked           EventType = "seat_locked"
	SeatReleased         EventType = "seat_released"
	BookingCreated       EventType = "booking_created"
	BookingConfirmed     EventType = "booking_confirmed"
	BookingCancelled     EventType = "booking_cancelled"
	TicketsReady         EventType = "tickets_ready"
)

// Event is the wire shape broadcast to every subscribed connection (or
// every connection but the originator, for events mirrored back from
// an authenticated client action).
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// SeatLockPayload is the payload of seat_locked / seat_released.
type SeatLockPayload struct {
	EventID           uuid.UUID `json:"event_id"`
	SeatTypeID        uuid.UUID `json:"seat_type_id"`
	SeatLabel         string    `json:"seat_label"`
	AvailableQuantity int       `json:"available_quantity"`
}

// SeatTypePayload is the payload of seat_type_created/updated/deleted.
type SeatTypePayload struct {
	EventID    uuid.UUID `json:"event_id"`
	SeatTypeID uuid.UUID `json:"seat_type_id"`
}

// BookingPayload is the payload of booking_created/confirmed/cancelled.
type BookingPayload struct {
	EventID   uuid.UUID `json:"event_id"`
	BookingID uuid.UUID `json:"booking_id"`
}

// TicketsReadyPayload is the payload of tickets_ready.
type TicketsReadyPayload struct {
	BookingID   uuid.UUID `json:"booking_id"`
	TicketCount int       `json:"ticket_count"`
}
