package seatlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	// TryInsertLocked performs the §4.1 step 2
	// `INSERT ... ON CONFLICT (seat_type_id, seat_label) DO NOTHING`.
	// inserted is false when the persisted slot was already taken.
	TryInsertLocked(tx *gorm.DB, seat *Seat) (inserted bool, err error)
	DeleteSeat(tx *gorm.DB, seatID uuid.UUID) error
	GetByLabel(ctx context.Context, eventID, seatTypeID uuid.UUID, seatLabel string) (*Seat, error)
	GetForUpdate(tx *gorm.DB, seatID uuid.UUID) (*Seat, error)
	BatchGetByLabels(ctx context.Context, eventID, seatTypeID uuid.UUID, labels []string) (map[string]*Seat, error)
	ListByUser(ctx context.Context, eventID, userID uuid.UUID) ([]Seat, error)
	UpdateExpiry(ctx context.Context, seatID uuid.UUID, expiresAt time.Time) error
	// BatchGetByIDs is a plain (non-locking) read used by callers outside
	// the booking transaction, such as the Ticket Generator resolving
	// seat labels for an already-confirmed booking.
	BatchGetByIDs(ctx context.Context, seatIDs []uuid.UUID) (map[uuid.UUID]*Seat, error)
	// ListExpiredLocked returns up to limit still-locked seats whose
	// expires_at has passed, oldest first, for the sweeper to reclaim.
	ListExpiredLocked(ctx context.Context, before time.Time, limit int) ([]Seat, error)
	// MarkBooked transitions a locked seat to booked (§4.2 ConfirmBooking
	// step 5); affected is false if the row was no longer locked.
	MarkBooked(tx *gorm.DB, seatID uuid.UUID, bookedAt time.Time) (affected bool, err error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) TryInsertLocked(tx *gorm.DB, seat *Seat) (bool, error) {
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "seat_type_id"}, {Name: "seat_label"}},
		DoNothing: true,
	}).Create(seat)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) DeleteSeat(tx *gorm.DB, seatID uuid.UUID) error {
	return tx.Delete(&Seat{}, "id = ?", seatID).Error
}

func (r *repository) GetByLabel(ctx context.Context, eventID, seatTypeID uuid.UUID, seatLabel string) (*Seat, error) {
	var seat Seat
	err := r.db.WithContext(ctx).First(&seat,
		"event_id = ? AND seat_type_id = ? AND seat_label = ?", eventID, seatTypeID, seatLabel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &seat, nil
}

func (r *repository) GetForUpdate(tx *gorm.DB, seatID uuid.UUID) (*Seat, error) {
	var seat Seat
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&seat, "id = ?", seatID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &seat, nil
}

func (r *repository) BatchGetByLabels(ctx context.Context, eventID, seatTypeID uuid.UUID, labels []string) (map[string]*Seat, error) {
	var seats []Seat
	err := r.db.WithContext(ctx).Where(
		"event_id = ? AND seat_type_id = ? AND seat_label IN ?", eventID, seatTypeID, labels,
	).Find(&seats).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Seat, len(seats))
	for i := range seats {
		out[seats[i].SeatLabel] = &seats[i]
	}
	return out, nil
}

func (r *repository) ListByUser(ctx context.Context, eventID, userID uuid.UUID) ([]Seat, error) {
	var seats []Seat
	err := r.db.WithContext(ctx).Where(
		"event_id = ? AND owner_user_id = ? AND status = ?", eventID, userID, StatusLocked,
	).Find(&seats).Error
	return seats, err
}

func (r *repository) UpdateExpiry(ctx context.Context, seatID uuid.UUID, expiresAt time.Time) error {
	return r.db.WithContext(ctx).Model(&Seat{}).
		Where("id = ?", seatID).
		Update("expires_at", expiresAt).Error
}

func (r *repository) BatchGetByIDs(ctx context.Context, seatIDs []uuid.UUID) (map[uuid.UUID]*Seat, error) {
	var seats []Seat
	if err := r.db.WithContext(ctx).Where("id IN ?", seatIDs).Find(&seats).Error; err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]*Seat, len(seats))
	for i := range seats {
		out[seats[i].ID] = &seats[i]
	}
	return out, nil
}

func (r *repository) ListExpiredLocked(ctx context.Context, before time.Time, limit int) ([]Seat, error) {
	var seats []Seat
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", StatusLocked, before).
		Order("expires_at ASC").
		Limit(limit).
		Find(&seats).Error
	return seats, err
}

func (r *repository) MarkBooked(tx *gorm.DB, seatID uuid.UUID, bookedAt time.Time) (bool, error) {
	result := tx.Model(&Seat{}).
		Where("id = ? AND status = ?", seatID, StatusLocked).
		Updates(map[string]interface{}{"status": StatusBooked, "booked_at": bookedAt})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
