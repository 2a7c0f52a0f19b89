package realtime

import (
	"context"

	"github.com/google/uuid"
)

// Broadcaster is the thin adapter the Coordinator, Lock Manager, and
// Ticket Generator depend on through their own narrow Publisher
// interfaces (§9 event bus interface note) — none of them import this
// package or know about WebSocket transport. The ctx may carry an
// originating connection (WithOrigin); that connection is excluded
// from the fan-out so it never sees its own mutation mirrored back.
type Broadcaster struct {
	hub *Hub
}

func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

func (b *Broadcaster) PublishSeatLocked(ctx context.Context, eventID, seatTypeID uuid.UUID, seatLabel string, available int) {
	b.hub.PublishExcept(Event{Type: SeatLocked, Payload: SeatLockPayload{
		EventID: eventID, SeatTypeID: seatTypeID, SeatLabel: seatLabel, AvailableQuantity: available,
	}}, originFrom(ctx))
}

func (b *Broadcaster) PublishSeatReleased(ctx context.Context, eventID, seatTypeID uuid.UUID, seatLabel string, available int) {
	b.hub.PublishExcept(Event{Type: SeatReleased, Payload: SeatLockPayload{
		EventID: eventID, SeatTypeID: seatTypeID, SeatLabel: seatLabel, AvailableQuantity: available,
	}}, originFrom(ctx))
}

func (b *Broadcaster) PublishBookingCreated(ctx context.Context, eventID, bookingID uuid.UUID) {
	b.hub.PublishExcept(Event{Type: BookingCreated, Payload: BookingPayload{EventID: eventID, BookingID: bookingID}}, originFrom(ctx))
}

func (b *Broadcaster) PublishBookingConfirmed(ctx context.Context, eventID, bookingID uuid.UUID) {
	b.hub.PublishExcept(Event{Type: BookingConfirmed, Payload: BookingPayload{EventID: eventID, BookingID: bookingID}}, originFrom(ctx))
}

func (b *Broadcaster) PublishBookingCancelled(ctx context.Context, eventID, bookingID uuid.UUID) {
	b.hub.PublishExcept(Event{Type: BookingCancelled, Payload: BookingPayload{EventID: eventID, BookingID: bookingID}}, originFrom(ctx))
}

func (b *Broadcaster) PublishSeatTypeCreated(ctx context.Context, eventID, seatTypeID uuid.UUID) {
	b.hub.PublishExcept(Event{Type: SeatTypeCreated, Payload: SeatTypePayload{EventID: eventID, SeatTypeID: seatTypeID}}, originFrom(ctx))
}

func (b *Broadcaster) PublishSeatTypeUpdated(ctx context.Context, eventID, seatTypeID uuid.UUID) {
	b.hub.PublishExcept(Event{Type: SeatTypeUpdated, Payload: SeatTypePayload{EventID: eventID, SeatTypeID: seatTypeID}}, originFrom(ctx))
}

func (b *Broadcaster) PublishSeatTypeDeleted(ctx context.Context, eventID, seatTypeID uuid.UUID) {
	b.hub.PublishExcept(Event{Type: SeatTypeDeleted, Payload: SeatTypePayload{EventID: eventID, SeatTypeID: seatTypeID}}, originFrom(ctx))
}

func (b *Broadcaster) PublishTicketsReady(ctx context.Context, bookingID uuid.UUID, ticketCount int) {
	b.hub.PublishExcept(Event{Type: TicketsReady, Payload: TicketsReadyPayload{BookingID: bookingID, TicketCount: ticketCount}}, originFrom(ctx))
}
