package catalog

import (
	"context"
	"time"

	"evently-core/internal/shared/apperr"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Publisher is the seat-type slice of the realtime fan-out
// (seat_type_created/updated/deleted); implemented by the broadcaster
// adapter, never imported concretely here.
type Publisher interface {
	PublishSeatTypeCreated(ctx context.Context, eventID, seatTypeID uuid.UUID)
	PublishSeatTypeUpdated(ctx context.Context, eventID, seatTypeID uuid.UUID)
	PublishSeatTypeDeleted(ctx context.Context, eventID, seatTypeID uuid.UUID)
}

// CacheInvalidator is satisfied by the availability cache; the catalog
// cannot import that package without a cycle, so it names only the one
// method it needs.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, eventID uuid.UUID, seatTypeID *uuid.UUID) error
}

// SeatTypeInput is the named contract for seat-type create/update.
type SeatTypeInput struct {
	Name     string  `json:"name" validate:"required,max=100"`
	Price    float64 `json:"price" validate:"min=0"`
	Quantity int     `json:"quantity" validate:"min=0"`
}

// Service is the organizer-facing seat-type management surface. Event
// CRUD itself stays outside this module; seat types are managed here
// because their quantity/available_quantity pair is load-bearing for
// the booking engine's availability arithmetic.
type Service interface {
	ListSeatTypes(ctx context.Context, eventID uuid.UUID) ([]SeatType, error)
	CreateSeatType(ctx context.Context, eventID, callerID uuid.UUID, isAdmin bool, input SeatTypeInput) (*SeatType, error)
	UpdateSeatType(ctx context.Context, eventID, seatTypeID, callerID uuid.UUID, isAdmin bool, input SeatTypeInput) (*SeatType, error)
	DeleteSeatType(ctx context.Context, eventID, seatTypeID, callerID uuid.UUID, isAdmin bool) error
}

type service struct {
	db        *gorm.DB
	repo      Repository
	cache     CacheInvalidator
	publisher Publisher
}

func NewService(db *gorm.DB, repo Repository, cache CacheInvalidator, publisher Publisher) Service {
	return &service{db: db, repo: repo, cache: cache, publisher: publisher}
}

// authorize verifies the caller owns the event (or is an admin). Seat
// types are only mutable while the event has not started.
func (s *service) authorize(ctx context.Context, eventID, callerID uuid.UUID, isAdmin bool) (*Event, error) {
	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && event.OrganizerID != callerID {
		return nil, apperr.New(apperr.CodeAuthRequired, "event does not belong to caller")
	}
	if event.StartDate.Before(time.Now()) {
		return nil, apperr.ErrEventClosed
	}
	return event, nil
}

func (s *service) ListSeatTypes(ctx context.Context, eventID uuid.UUID) ([]SeatType, error) {
	return s.repo.ListSeatTypes(ctx, eventID)
}

func (s *service) CreateSeatType(ctx context.Context, eventID, callerID uuid.UUID, isAdmin bool, input SeatTypeInput) (*SeatType, error) {
	if _, err := s.authorize(ctx, eventID, callerID, isAdmin); err != nil {
		return nil, err
	}

	st := &SeatType{
		EventID:           eventID,
		Name:              input.Name,
		Price:             input.Price,
		Quantity:          input.Quantity,
		AvailableQuantity: input.Quantity,
	}
	if err := s.repo.InsertSeatType(ctx, st); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to create seat type", err)
	}

	s.invalidateAndPublish(ctx, eventID, st.ID, func() { s.publisher.PublishSeatTypeCreated(ctx, eventID, st.ID) })
	return st, nil
}

// UpdateSeatType adjusts quantity by shifting available_quantity by the
// same delta, so the reserved count (quantity - available_quantity)
// stays fixed and already-reserved seats are never double-counted back
// into availability. A new quantity below the reserved count is
// rejected with CONFLICT.
func (s *service) UpdateSeatType(ctx context.Context, eventID, seatTypeID, callerID uuid.UUID, isAdmin bool, input SeatTypeInput) (*SeatType, error) {
	if _, err := s.authorize(ctx, eventID, callerID, isAdmin); err != nil {
		return nil, err
	}

	var updated *SeatType
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st, err := s.repo.GetSeatTypeForUpdate(tx, seatTypeID)
		if err != nil {
			return err
		}
		if st.EventID != eventID {
			return apperr.ErrNotFound
		}

		reserved := st.Quantity - st.AvailableQuantity
		if input.Quantity < reserved {
			return apperr.New(apperr.CodeConflict, "quantity cannot drop below the number of reserved seats")
		}

		st.Name = input.Name
		st.Price = input.Price
		st.Quantity = input.Quantity
		st.AvailableQuantity = input.Quantity - reserved

		if err := s.repo.SaveSeatType(tx, st); err != nil {
			return apperr.Wrap(apperr.CodeInternal, "failed to update seat type", err)
		}
		updated = st
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateAndPublish(ctx, eventID, seatTypeID, func() { s.publisher.PublishSeatTypeUpdated(ctx, eventID, seatTypeID) })
	return updated, nil
}

func (s *service) DeleteSeatType(ctx context.Context, eventID, seatTypeID, callerID uuid.UUID, isAdmin bool) error {
	if _, err := s.authorize(ctx, eventID, callerID, isAdmin); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st, err := s.repo.GetSeatTypeForUpdate(tx, seatTypeID)
		if err != nil {
			return err
		}
		if st.EventID != eventID {
			return apperr.ErrNotFound
		}

		live, err := s.repo.CountLiveSeats(tx, seatTypeID)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "failed to count reserved seats", err)
		}
		if live > 0 {
			return apperr.New(apperr.CodeConflict, "seat type still has reserved seats")
		}

		return s.repo.DeleteSeatType(tx, seatTypeID)
	})
	if err != nil {
		return err
	}

	s.invalidateAndPublish(ctx, eventID, seatTypeID, func() { s.publisher.PublishSeatTypeDeleted(ctx, eventID, seatTypeID) })
	return nil
}

func (s *service) invalidateAndPublish(ctx context.Context, eventID, seatTypeID uuid.UUID, publish func()) {
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, eventID, &seatTypeID)
	}
	if s.publisher != nil {
		publish()
	}
}
