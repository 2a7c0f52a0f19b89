// Package booking is the Booking Coordinator (§4.2): it turns a set of
// held seat locks into a pending booking, then into a confirmed one on
// verified payment, or cancels and releases on request or timeout.
package booking

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

type Booking struct {
	ID                 uuid.UUID     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Reference          string        `gorm:"type:varchar(32);uniqueIndex;not null" json:"reference"`
	EventID            uuid.UUID     `gorm:"type:uuid;index;not null" json:"event_id"`
	UserID             uuid.UUID     `gorm:"type:uuid;index;not null" json:"user_id"`
	TotalAmount        float64       `gorm:"not null" json:"total_amount"`
	Status             Status        `gorm:"type:varchar(20);index;not null" json:"status"`
	PaymentStatus      PaymentStatus `gorm:"type:varchar(20);not null" json:"payment_status"`
	PaymentID          string        `gorm:"type:varchar(255);index" json:"payment_id,omitempty"`
	PaymentGateway     string        `gorm:"type:varchar(50)" json:"payment_gateway,omitempty"`
	BookedAt           time.Time     `gorm:"index" json:"booked_at"`
	ConfirmedAt        *time.Time    `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	CancellationReason string        `gorm:"type:text" json:"cancellation_reason,omitempty"`
	ExpiresAt          time.Time     `json:"expires_at"`
}

func (Booking) TableName() string { return "bookings" }

// BookingSeat is the many-to-many link between a Booking and the Seat
// rows it claims (§3 BookingSeats). Invariant B: for any non-cancelled
// booking, each linked seat's owner equals the booking's user.
type BookingSeat struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	BookingID uuid.UUID `gorm:"type:uuid;index;not null" json:"booking_id"`
	SeatID    uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"seat_id"`
	PricePaid float64   `gorm:"not null" json:"price_paid"`
	CreatedAt time.Time `json:"created_at"`
}

func (BookingSeat) TableName() string { return "booking_seats" }

// SeatRequest is one entry of CreateBooking's input seat set.
type SeatRequest struct {
	SeatLabel  string    `json:"seat_label" validate:"required"`
	SeatTypeID uuid.UUID `json:"seat_type_id" validate:"required"`
}
