package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	// Insert uses ON CONFLICT (reference) DO NOTHING so a collision never
	// aborts the surrounding transaction the way a raw unique-violation
	// would; inserted is false on collision and the caller should retry
	// with a freshly generated reference.
	Insert(tx *gorm.DB, booking *Booking) (inserted bool, err error)
	InsertSeats(tx *gorm.DB, seats []BookingSeat) (inserted int64, err error)

	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*Booking, error)
	SetPaymentOrderID(ctx context.Context, id uuid.UUID, orderID string) error
	GetForUpdate(tx *gorm.DB, id uuid.UUID) (*Booking, error)
	// GetForUpdateSkipLocked returns nil, nil (not an error) when another
	// in-flight transaction currently holds the row (§4.2 CancelBooking step 2).
	GetForUpdateSkipLocked(tx *gorm.DB, id uuid.UUID) (*Booking, error)

	ListByUser(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]Booking, int64, error)
	ListSeatsForBooking(ctx context.Context, bookingID uuid.UUID) ([]BookingSeat, error)
	// ListExpiredPending returns up to limit still-pending bookings whose
	// expires_at has passed, for the sweeper to cancel.
	ListExpiredPending(ctx context.Context, before time.Time, limit int) ([]Booking, error)

	// ConfirmIfPending applies the §4.2 ConfirmBooking step 4 optimistic
	// guard; affected is false if another writer already confirmed it.
	ConfirmIfPending(tx *gorm.DB, id uuid.UUID, paymentID, gateway string, confirmedAt time.Time) (affected bool, err error)
	Cancel(tx *gorm.DB, id uuid.UUID, reason string) error
	MarkPaymentFailed(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Insert(tx *gorm.DB, booking *Booking) (bool, error) {
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "reference"}},
		DoNothing: true,
	}).Create(booking)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) InsertSeats(tx *gorm.DB, seats []BookingSeat) (int64, error) {
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "seat_id"}},
		DoNothing: true,
	}).Create(&seats)
	return result.RowsAffected, result.Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	var b Booking
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *repository) GetByPaymentID(ctx context.Context, paymentID string) (*Booking, error) {
	var b Booking
	if err := r.db.WithContext(ctx).First(&b, "payment_id = ?", paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *repository) SetPaymentOrderID(ctx context.Context, id uuid.UUID, orderID string) error {
	return r.db.WithContext(ctx).Model(&Booking{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Update("payment_id", orderID).Error
}

func (r *repository) GetForUpdate(tx *gorm.DB, id uuid.UUID) (*Booking, error) {
	var b Booking
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&b, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *repository) GetForUpdateSkipLocked(tx *gorm.DB, id uuid.UUID) (*Booking, error) {
	var b Booking
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		First(&b, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]Booking, int64, error) {
	q := r.db.WithContext(ctx).Model(&Booking{}).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var bookings []Booking
	err := q.Order("booked_at DESC").Limit(limit).Offset(offset).Find(&bookings).Error
	return bookings, total, err
}

func (r *repository) ListSeatsForBooking(ctx context.Context, bookingID uuid.UUID) ([]BookingSeat, error) {
	var seats []BookingSeat
	err := r.db.WithContext(ctx).Where("booking_id = ?", bookingID).Find(&seats).Error
	return seats, err
}

func (r *repository) ListExpiredPending(ctx context.Context, before time.Time, limit int) ([]Booking, error) {
	var bookings []Booking
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", StatusPending, before).
		Order("expires_at ASC").
		Limit(limit).
		Find(&bookings).Error
	return bookings, err
}

func (r *repository) ConfirmIfPending(tx *gorm.DB, id uuid.UUID, paymentID, gateway string, confirmedAt time.Time) (bool, error) {
	result := tx.Model(&Booking{}).
		Where("id = ? AND status = ? AND payment_status = ?", id, StatusPending, PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":          StatusConfirmed,
			"payment_status":  PaymentStatusCompleted,
			"payment_id":      paymentID,
			"payment_gateway": gateway,
			"confirmed_at":    confirmedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Cancel(tx *gorm.DB, id uuid.UUID, reason string) error {
	now := time.Now()
	return tx.Model(&Booking{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":              StatusCancelled,
		"payment_status":      PaymentStatusRefunded,
		"cancelled_at":        now,
		"cancellation_reason": reason,
	}).Error
}

func (r *repository) MarkPaymentFailed(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&Booking{}).
		Where("id = ?", id).
		Update("payment_status", PaymentStatusFailed).Error
}
