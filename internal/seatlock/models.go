// Package seatlock is the Seat Lock Manager (§4.1): it hands out
// at-most-one-holder reservations on individual seat labels under
// arbitrary concurrency, using a Redis conditional-set as the fast-path
// arbiter and the seats table's unique constraint as the final one.
//
// Seats are virtual until reserved — a row in this table exists only
// while a label is locked or booked; an unlocked label has no row at
// all, and availability is read from seat_types.available_quantity, not
// from counting rows.
package seatlock

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusLocked Status = "locked"
	StatusBooked Status = "booked"
)

type Seat struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	EventID     uuid.UUID  `gorm:"type:uuid;index;not null" json:"event_id"`
	SeatTypeID  uuid.UUID  `gorm:"type:uuid;index;not null" json:"seat_type_id"`
	SeatLabel   string     `gorm:"type:varchar(20);not null" json:"seat_label"`
	Status      Status     `gorm:"type:varchar(20);not null" json:"status"`
	OwnerUserID *uuid.UUID `gorm:"type:uuid;index" json:"owner_user_id,omitempty"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	ExpiresAt   *time.Time `gorm:"index" json:"expires_at,omitempty"`
	BookedAt    *time.Time `json:"booked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Seat) TableName() string { return "seats" }

// Lock is the read-view returned to callers; it never exposes the
// relational row's internal identifiers beyond what a holder needs to
// confirm or release.
type Lock struct {
	EventID    uuid.UUID `json:"event_id"`
	SeatTypeID uuid.UUID `json:"seat_type_id"`
	SeatLabel  string    `json:"seat_label"`
	UserID     uuid.UUID `json:"user_id"`
	LockedAt   time.Time `json:"locked_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
