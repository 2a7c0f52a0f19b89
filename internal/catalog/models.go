// Package catalog holds Event metadata and the priced SeatType tiers
// within it. Event CRUD itself lives outside this module (§1 Out of
// scope), so Event is a read-only shape here. Seat types are created,
// updated and deleted through this package's organizer-facing Service;
// the booking engine itself updates only SeatType.available_quantity,
// atomically under transaction.
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus mirrors the three states the core distinguishes; cancelled
// and draft events both reject new locks (§4.1 ErrEventClosed).
type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusPublished EventStatus = "published"
	EventStatusCancelled EventStatus = "cancelled"
)

// Event is the read-only projection of event metadata the core consumes.
type Event struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	Status      EventStatus `gorm:"type:varchar(20);not null" json:"status"`
	StartDate   time.Time   `json:"start_date"`
	OrganizerID uuid.UUID   `gorm:"type:uuid;not null" json:"organizer_id"`
}

func (Event) TableName() string { return "events" }

// IsOpenForBooking reports whether the event accepts new seat locks,
// per §4.1 Acquire's "Event must be published and start_date in the
// future".
func (e *Event) IsOpenForBooking(now time.Time) bool {
	return e.Status == EventStatusPublished && e.StartDate.After(now)
}

// SeatType is a priced tier within an event (§3 SeatType). available_quantity
// is the only field the booking engine mutates, and only via the guarded
// UPDATE in §4.1 step 3 / §4.2 step 5 / §4.6 sweeper restoration; the
// seat-type Service in this package also inserts, updates and deletes
// whole rows.
type SeatType struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	EventID           uuid.UUID `gorm:"type:uuid;index;not null" json:"event_id"`
	Name              string    `gorm:"not null" json:"name"`
	Price             float64   `gorm:"not null;check:price >= 0" json:"price"`
	Quantity          int       `gorm:"not null;check:quantity >= 0" json:"quantity"`
	AvailableQuantity int       `gorm:"not null;check:available_quantity >= 0" json:"available_quantity"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (SeatType) TableName() string { return "event_seat_types" }
