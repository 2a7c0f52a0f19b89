package database

import (
	"gorm.io/gorm"
)

// MigrateConstraints adds the indices and constraints §6 Required
// indices calls out, beyond what AutoMigrate derives from struct tags.
// The load-bearing one is seats(seat_type_id, seat_label): it is the
// final arbiter §4.1 step 2 relies on when two Acquire calls race past
// the KV conditional-set.
func MigrateConstraints(db *gorm.DB) error {
	err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS unique_seat_label_per_type
		ON seats (seat_type_id, seat_label);
	`).Error
	if err != nil {
		return err
	}

	err = db.Exec(`
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_seats_status_expires
		ON seats (status, expires_at);
	`).Error
	if err != nil {
		return err
	}

	err = db.Exec(`
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_booking_seats_seat_id
		ON booking_seats (seat_id);
	`).Error
	if err != nil {
		return err
	}

	err = db.Exec(`
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_bookings_user_status_booked
		ON bookings (user_id, status, booked_at);
	`).Error
	if err != nil {
		return err
	}

	err = db.Exec(`
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_tickets_booking_id
		ON tickets (booking_id);
	`).Error
	if err != nil {
		return err
	}

	err = db.Exec(`
		CREATE UNIQUE INDEX CONCURRENTLY IF NOT EXISTS idx_tickets_ticket_id
		ON tickets (ticket_id);
	`).Error
	if err != nil {
		return err
	}

	return nil
}
