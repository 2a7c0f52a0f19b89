package catalog

import (
	"context"
	"errors"

	"evently-core/internal/shared/apperr"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the events/seat-types data access surface: the reads and
// guarded counter updates the booking engine uses, plus the seat-type
// insert/save/delete behind this package's Service. The event-CRUD write
// path lives entirely outside this module.
type Repository interface {
	GetEvent(ctx context.Context, eventID uuid.UUID) (*Event, error)
	GetSeatType(ctx context.Context, seatTypeID uuid.UUID) (*SeatType, error)
	GetSeatTypeForUpdate(tx *gorm.DB, seatTypeID uuid.UUID) (*SeatType, error)
	ListSeatTypes(ctx context.Context, eventID uuid.UUID) ([]SeatType, error)

	InsertSeatType(ctx context.Context, st *SeatType) error
	SaveSeatType(tx *gorm.DB, st *SeatType) error
	DeleteSeatType(tx *gorm.DB, seatTypeID uuid.UUID) error
	// CountLiveSeats counts the locked/booked rows referencing this seat
	// type; queried by table name since the seat entity's own package
	// depends on this one.
	CountLiveSeats(tx *gorm.DB, seatTypeID uuid.UUID) (int64, error)

	// DecrementAvailability applies §4.1 step 3's guarded decrement
	// within the caller's transaction and returns the row's new value.
	DecrementAvailability(tx *gorm.DB, seatTypeID uuid.UUID) (int, error)

	// RestoreAvailability applies §4.2/§4.6's LEAST(quantity, available+k)
	// restoration within the caller's transaction.
	RestoreAvailability(tx *gorm.DB, seatTypeID uuid.UUID, count int) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetEvent(ctx context.Context, eventID uuid.UUID) (*Event, error) {
	var event Event
	if err := r.db.WithContext(ctx).First(&event, "id = ?", eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to load event", err)
	}
	return &event, nil
}

func (r *repository) GetSeatType(ctx context.Context, seatTypeID uuid.UUID) (*SeatType, error) {
	var st SeatType
	if err := r.db.WithContext(ctx).First(&st, "id = ?", seatTypeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to load seat type", err)
	}
	return &st, nil
}

func (r *repository) GetSeatTypeForUpdate(tx *gorm.DB, seatTypeID uuid.UUID) (*SeatType, error) {
	var st SeatType
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&st, "id = ?", seatTypeID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to lock seat type", err)
	}
	return &st, nil
}

func (r *repository) ListSeatTypes(ctx context.Context, eventID uuid.UUID) ([]SeatType, error) {
	var rows []SeatType
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Order("price ASC").Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to list seat types", err)
	}
	return rows, nil
}

func (r *repository) InsertSeatType(ctx context.Context, st *SeatType) error {
	return r.db.WithContext(ctx).Create(st).Error
}

func (r *repository) SaveSeatType(tx *gorm.DB, st *SeatType) error {
	return tx.Save(st).Error
}

func (r *repository) DeleteSeatType(tx *gorm.DB, seatTypeID uuid.UUID) error {
	return tx.Delete(&SeatType{}, "id = ?", seatTypeID).Error
}

func (r *repository) CountLiveSeats(tx *gorm.DB, seatTypeID uuid.UUID) (int64, error) {
	var count int64
	err := tx.Table("seats").Where("seat_type_id = ?", seatTypeID).Count(&count).Error
	return count, err
}

// DecrementAvailability implements §4.1 step 3:
//   UPDATE seat_types SET available_quantity = available_quantity - 1
//   WHERE id = ? AND available_quantity > 0 RETURNING available_quantity
func (r *repository) DecrementAvailability(tx *gorm.DB, seatTypeID uuid.UUID) (int, error) {
	result := tx.Model(&SeatType{}).
		Where("id = ? AND available_quantity > 0", seatTypeID).
		UpdateColumn("available_quantity", gorm.Expr("available_quantity - 1"))
	if result.Error != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, "failed to decrement availability", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, apperr.ErrNoAvailability
	}

	var st SeatType
	if err := tx.Select("available_quantity").First(&st, "id = ?", seatTypeID).Error; err != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, "failed to read availability after decrement", err)
	}
	return st.AvailableQuantity, nil
}

// RestoreAvailability implements the LEAST(quantity, available+k) clamp
// used by cancellation (§4.2 step 5) and the sweeper (§4.6).
func (r *repository) RestoreAvailability(tx *gorm.DB, seatTypeID uuid.UUID, count int) error {
	if count <= 0 {
		return nil
	}
	err := tx.Model(&SeatType{}).
		Where("id = ?", seatTypeID).
		UpdateColumn("available_quantity", gorm.Expr("LEAST(quantity, available_quantity + ?)", count)).Error
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "failed to restore availability", err)
	}
	return nil
}
