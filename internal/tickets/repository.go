package tickets

import (
	"context"

	"evently-core/internal/users"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	// UpsertGenerated persists one ticket row with
	// `ON CONFLICT (ticket_id) DO UPDATE`, making redelivery of the same
	// generate_tickets job idempotent. Takes the caller's transaction so
	// a job's per-seat rows commit or roll back together.
	UpsertGenerated(tx *gorm.DB, row Ticket) error
	MarkEmailSent(ctx context.Context, bookingID uuid.UUID) error
	MarkSMSSent(ctx context.Context, bookingID uuid.UUID) error
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]Ticket, error)
	// GetUserContact reads the identity boundary's users table directly;
	// the ticket generator has no business logic dependency on that
	// package beyond this single read.
	GetUserContact(ctx context.Context, userID uuid.UUID) (email string, phone *string, err error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) UpsertGenerated(tx *gorm.DB, row Ticket) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ticket_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "qr_payload", "generated_at", "seat_type_name", "price_paid",
		}),
	}).Create(&row).Error
}

func (r *repository) MarkEmailSent(ctx context.Context, bookingID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&Ticket{}).
		Where("booking_id = ?", bookingID).
		Updates(map[string]interface{}{
			"email_sent":   true,
			"delivered_at": gorm.Expr("COALESCE(delivered_at, now())"),
		}).Error
}

func (r *repository) MarkSMSSent(ctx context.Context, bookingID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&Ticket{}).
		Where("booking_id = ?", bookingID).
		Updates(map[string]interface{}{
			"sms_sent":     true,
			"delivered_at": gorm.Expr("COALESCE(delivered_at, now())"),
		}).Error
}

func (r *repository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]Ticket, error) {
	var rows []Ticket
	err := r.db.WithContext(ctx).Where("booking_id = ?", bookingID).Order("seat_label").Find(&rows).Error
	return rows, err
}

func (r *repository) GetUserContact(ctx context.Context, userID uuid.UUID) (string, *string, error) {
	var u users.User
	if err := r.db.WithContext(ctx).Select("email").First(&u, "id = ?", userID.String()).Error; err != nil {
		return "", nil, err
	}
	return u.Email, nil, nil
}
