package database

import (
	"evently-core/internal/booking"
	"evently-core/internal/catalog"
	"evently-core/internal/idempotency"
	"evently-core/internal/seatlock"
	"evently-core/internal/tickets"
	"evently-core/internal/tokengate"
	"evently-core/internal/users"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		// Identity
		&users.User{},

		// Catalog: event metadata is a read-only projection of
		// externally-owned data, migrated here so a standalone deployment
		// of this service has somewhere to seed it for local testing;
		// seat types are managed through the catalog package's Service.
		&catalog.Event{},
		&catalog.SeatType{},

		// Seat Lock Manager
		&seatlock.Seat{},

		// Booking Coordinator
		&booking.Booking{},
		&booking.BookingSeat{},

		// Ticket Generator
		&tickets.Ticket{},

		// Token Gate
		&tokengate.BlacklistedToken{},
		&tokengate.RefreshToken{},

		// Idempotency Store
		&idempotency.Key{},
	)
	if err != nil {
		return err
	}

	return MigrateConstraints(db)
}
