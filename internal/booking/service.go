package booking

import (
	"context"
	"encoding/json"
	"time"

	"evently-core/internal/availability"
	"evently-core/internal/catalog"
	"evently-core/internal/idempotency"
	"evently-core/internal/seatlock"
	"evently-core/internal/shared/apperr"
	"evently-core/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxReferenceAttempts = 5
	pendingWindow        = 15 * time.Minute
)

// TicketDispatcher decouples the coordinator from the Ticket Generator's
// concrete queue implementation; ConfirmBooking enqueues through this
// interface after commit and only logs a Dispatch error, leaving the
// confirmation in place.
type TicketDispatcher interface {
	Dispatch(ctx context.Context, bookingID uuid.UUID) error
}

// Publisher is the subset of realtime fan-out the coordinator drives.
// The ctx lets the broadcaster exclude the originating connection when
// the mutation arrived over its own transport.
type Publisher interface {
	PublishBookingCreated(ctx context.Context, eventID, bookingID uuid.UUID)
	PublishBookingConfirmed(ctx context.Context, eventID, bookingID uuid.UUID)
	PublishBookingCancelled(ctx context.Context, eventID, bookingID uuid.UUID)
}

type Service interface {
	CreateBooking(ctx context.Context, eventID, userID uuid.UUID, seats []SeatRequest) (*Booking, error)
	ConfirmBooking(ctx context.Context, bookingID uuid.UUID, paymentID, gateway string) (*Booking, error)
	CancelBooking(ctx context.Context, bookingID, userID uuid.UUID, reason, idempotencyKey string) (*Booking, error)
	GetByID(ctx context.Context, bookingID uuid.UUID) (*Booking, error)
	ListByUser(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]Booking, int64, error)
	// ExpirePending implements §4.2's "a pending booking whose expires_at
	// elapses is treated as cancelled by the Sweeper" rule. Driven by the
	// Expiry Sweeper, not by request traffic.
	ExpirePending(ctx context.Context, before time.Time, batchSize int) (int, error)
}

type service struct {
	db           *gorm.DB
	repo         Repository
	seats        seatlock.Repository
	catalogRepo  catalog.Repository
	idempotency  idempotency.Service
	availability availability.Service
	tickets      TicketDispatcher
	publisher    Publisher
	log          *logger.Logger
}

func NewService(
	db *gorm.DB,
	repo Repository,
	seats seatlock.Repository,
	catalogRepo catalog.Repository,
	idempotencySvc idempotency.Service,
	availabilitySvc availability.Service,
	tickets TicketDispatcher,
	publisher Publisher,
	log *logger.Logger,
) Service {
	return &service{
		db:           db,
		repo:         repo,
		seats:        seats,
		catalogRepo:  catalogRepo,
		idempotency:  idempotencySvc,
		availability: availabilitySvc,
		tickets:      tickets,
		publisher:    publisher,
		log:          log,
	}
}

// CreateBooking implements §4.2 CreateBooking: within one transaction,
// verify every requested seat is a fresh lock owned by the caller, sum
// prices, mint a reference, and link the seats.
func (s *service) CreateBooking(ctx context.Context, eventID, userID uuid.UUID, requested []SeatRequest) (*Booking, error) {
	if len(requested) == 0 {
		return nil, apperr.New(apperr.CodeValidation, "at least one seat is required")
	}

	var result *Booking
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		var totalAmount float64
		seatIDs := make([]uuid.UUID, 0, len(requested))
		prices := make([]float64, 0, len(requested))

		for _, req := range requested {
			seat, err := s.seats.GetByLabel(ctx, eventID, req.SeatTypeID, req.SeatLabel)
			if err != nil {
				return apperr.Wrap(apperr.CodeInternal, "failed to load seat", err)
			}
			if seat == nil ||
				seat.Status != seatlock.StatusLocked ||
				seat.OwnerUserID == nil || *seat.OwnerUserID != userID ||
				seat.ExpiresAt == nil || seat.ExpiresAt.Before(now) ||
				seat.SeatTypeID != req.SeatTypeID {
				return apperr.ErrStaleLocks
			}

			locked, err := s.seats.GetForUpdate(tx, seat.ID)
			if err != nil {
				return apperr.Wrap(apperr.CodeInternal, "failed to lock seat row", err)
			}
			if locked == nil || locked.Status != seatlock.StatusLocked {
				return apperr.ErrStaleLocks
			}

			seatType, err := s.catalogRepo.GetSeatType(ctx, req.SeatTypeID)
			if err != nil {
				return err
			}
			totalAmount += seatType.Price
			prices = append(prices, seatType.Price)
			seatIDs = append(seatIDs, seat.ID)
		}

		booking, err := s.insertBookingWithUniqueReference(tx, eventID, userID, totalAmount, now)
		if err != nil {
			return err
		}

		bookingSeats := make([]BookingSeat, 0, len(seatIDs))
		for i, seatID := range seatIDs {
			bookingSeats = append(bookingSeats, BookingSeat{BookingID: booking.ID, SeatID: seatID, PricePaid: prices[i]})
		}

		inserted, err := s.repo.InsertSeats(tx, bookingSeats)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "failed to link booking seats", err)
		}
		if int(inserted) != len(bookingSeats) {
			return apperr.ErrAlreadyBooked
		}

		result = booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publisher.PublishBookingCreated(ctx, eventID, result.ID)
	return result, nil
}

func (s *service) insertBookingWithUniqueReference(tx *gorm.DB, eventID, userID uuid.UUID, totalAmount float64, now time.Time) (*Booking, error) {
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		reference, err := generateReference(now)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "failed to generate booking reference", err)
		}

		b := &Booking{
			Reference:     reference,
			EventID:       eventID,
			UserID:        userID,
			TotalAmount:   totalAmount,
			Status:        StatusPending,
			PaymentStatus: PaymentStatusPending,
			BookedAt:      now,
			ExpiresAt:     now.Add(pendingWindow),
		}
		inserted, err := s.repo.Insert(tx, b)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "failed to insert booking", err)
		}
		if !inserted {
			// Reference collision: retry with a freshly generated suffix.
			continue
		}
		return b, nil
	}
	return nil, apperr.Wrap(apperr.CodeInternal, "failed to allocate a unique booking reference", nil)
}

// ConfirmBooking implements §4.2 ConfirmBooking.
func (s *service) ConfirmBooking(ctx context.Context, bookingID uuid.UUID, paymentID, gateway string) (*Booking, error) {
	var result *Booking
	var shouldDispatch bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.repo.GetForUpdate(tx, bookingID)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "failed to lock booking", err)
		}
		if b == nil {
			return apperr.ErrNotFound
		}

		if b.Status == StatusConfirmed && b.PaymentStatus == PaymentStatusCompleted && b.PaymentID == paymentID {
			result = b
			return nil
		}
		if time.Now().After(b.ExpiresAt) {
			return apperr.New(apperr.CodeStale, "Booking has expired. Please create a new booking.")
		}
		if b.Status != StatusPending {
			return apperr.New(apperr.CodeConflict, "booking is no longer pending")
		}

		seats, err := s.repo.ListSeatsForBooking(ctx, bookingID)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "failed to load booking seats", err)
		}

		for _, bs := range seats {
			seat, err := s.seats.GetForUpdate(tx, bs.SeatID)
			if err != nil {
				return apperr.Wrap(apperr.CodeInternal, "failed to lock seat row", err)
			}
			if seat == nil || seat.Status != seatlock.StatusLocked {
				return apperr.ErrStaleLocks
			}
		}

		confirmedAt := time.Now()
		affected, err := s.repo.ConfirmIfPending(tx, bookingID, paymentID, gateway, confirmedAt)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "failed to confirm booking", err)
		}
		if !affected {
			return apperr.New(apperr.CodeConflict, "booking was already confirmed by another request")
		}

		for _, bs := range seats {
			affected, err := s.seats.MarkBooked(tx, bs.SeatID, confirmedAt)
			if err != nil {
				return apperr.Wrap(apperr.CodeInternal, "failed to mark seat booked", err)
			}
			if !affected {
				return apperr.ErrStaleLocks
			}
		}

		b.Status = StatusConfirmed
		b.PaymentStatus = PaymentStatusCompleted
		b.PaymentID = paymentID
		b.PaymentGateway = gateway
		b.ConfirmedAt = &confirmedAt
		result = b
		shouldDispatch = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if shouldDispatch {
		s.log.LogBookingConfirmed(ctx, result.ID.String(), paymentID)
		if s.publisher != nil {
			s.publisher.PublishBookingConfirmed(ctx, result.EventID, result.ID)
		}
		if s.availability != nil {
			_ = s.availability.Invalidate(ctx, result.EventID, nil)
		}
		if s.tickets != nil {
			if err := s.tickets.Dispatch(ctx, result.ID); err != nil {
				s.log.ErrorWithContext(ctx, "ticket dispatch failed, caller must fall back to synchronous generation", err, nil)
			}
		}
	}
	return result, nil
}

// CancelBooking implements §4.2 CancelBooking with the §4.9 idempotent
// retry wrapper.
func (s *service) CancelBooking(ctx context.Context, bookingID, userID uuid.UUID, reason, idempotencyKey string) (*Booking, error) {
	if idempotencyKey != "" {
		outcome, err := s.idempotency.Begin(ctx, idempotencyKey, "cancel_booking", bookingID.String(), userID.String())
		if err != nil {
			return nil, err
		}
		if !outcome.Proceed {
			// Replay the stored snapshot so every retry under this key
			// returns the same bytes the first success did.
			var cached Booking
			if len(outcome.CachedResponse) > 0 {
				if err := json.Unmarshal(outcome.CachedResponse, &cached); err == nil {
					return &cached, nil
				}
			}
			b, getErr := s.repo.GetByID(ctx, bookingID)
			if getErr != nil {
				return nil, apperr.Wrap(apperr.CodeInternal, "failed to reload cancelled booking", getErr)
			}
			return b, nil
		}
	}

	result, err := s.cancelBookingLocked(ctx, bookingID, userID, reason)
	if idempotencyKey != "" {
		if err != nil {
			_ = s.idempotency.Fail(ctx, idempotencyKey)
		} else {
			snapshot, _ := json.Marshal(result)
			_ = s.idempotency.Complete(ctx, idempotencyKey, snapshot)
		}
	}
	return result, err
}

func (s *service) cancelBookingLocked(ctx context.Context, bookingID, userID uuid.UUID, reason string) (*Booking, error) {
	var result *Booking
	var restoredBySeatType map[uuid.UUID]int

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.repo.GetForUpdateSkipLocked(tx, bookingID)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "failed to lock booking for cancellation", err)
		}
		if b == nil {
			return apperr.ErrInFlight
		}
		if b.UserID != userID {
			return apperr.New(apperr.CodeAuthRequired, "booking does not belong to caller")
		}
		if b.Status == StatusConfirmed && b.PaymentStatus == PaymentStatusCompleted {
			return apperr.New(apperr.CodeConflict, "confirmed bookings must be cancelled via refund")
		}
		if b.Status == StatusCancelled {
			result = b
			return nil
		}

		seats, err := s.repo.ListSeatsForBooking(ctx, bookingID)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "failed to load booking seats", err)
		}

		restoredBySeatType = make(map[uuid.UUID]int)
		for _, bs := range seats {
			seat, err := s.seats.GetForUpdate(tx, bs.SeatID)
			if err != nil {
				return apperr.Wrap(apperr.CodeInternal, "failed to lock seat row", err)
			}
			if seat == nil || seat.Status != seatlock.StatusLocked {
				continue
			}
			if err := s.seats.DeleteSeat(tx, seat.ID); err != nil {
				return apperr.Wrap(apperr.CodeInternal, "failed to release cancelled seat", err)
			}
			restoredBySeatType[seat.SeatTypeID]++
		}

		for seatTypeID, count := range restoredBySeatType {
			if err := s.catalogRepo.RestoreAvailability(tx, seatTypeID, count); err != nil {
				return err
			}
		}

		if err := s.repo.Cancel(tx, bookingID, reason); err != nil {
			return apperr.Wrap(apperr.CodeInternal, "failed to mark booking cancelled", err)
		}

		now := time.Now()
		b.Status = StatusCancelled
		b.PaymentStatus = PaymentStatusRefunded
		b.CancelledAt = &now
		b.CancellationReason = reason
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.availability != nil {
		for seatTypeID, count := range restoredBySeatType {
			_ = s.availability.Increment(ctx, result.EventID, seatTypeID, count)
		}
	}
	if s.publisher != nil {
		s.publisher.PublishBookingCancelled(ctx, result.EventID, result.ID)
	}
	return result, nil
}

// ExpirePending reclaims pending bookings whose 15-minute hold window
// lapsed without confirmation, releasing their seats the same way a
// user-initiated cancellation does, minus the ownership and
// idempotency-key checks that only apply to that caller-facing path.
func (s *service) ExpirePending(ctx context.Context, before time.Time, batchSize int) (int, error) {
	candidates, err := s.repo.ListExpiredPending(ctx, before, batchSize)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, "failed to list expired pending bookings", err)
	}

	expired := 0
	for i := range candidates {
		bookingID := candidates[i].ID
		var result *Booking
		var restoredBySeatType map[uuid.UUID]int

		txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			b, err := s.repo.GetForUpdateSkipLocked(tx, bookingID)
			if err != nil {
				return err
			}
			if b == nil || b.Status != StatusPending || !b.ExpiresAt.Before(before) {
				return nil
			}

			seats, err := s.repo.ListSeatsForBooking(ctx, bookingID)
			if err != nil {
				return err
			}

			restoredBySeatType = make(map[uuid.UUID]int)
			for _, bs := range seats {
				seat, err := s.seats.GetForUpdate(tx, bs.SeatID)
				if err != nil {
					return err
				}
				if seat == nil || seat.Status != seatlock.StatusLocked {
					continue
				}
				if err := s.seats.DeleteSeat(tx, seat.ID); err != nil {
					return err
				}
				restoredBySeatType[seat.SeatTypeID]++
			}

			for seatTypeID, count := range restoredBySeatType {
				if err := s.catalogRepo.RestoreAvailability(tx, seatTypeID, count); err != nil {
					return err
				}
			}

			if err := s.repo.Cancel(tx, bookingID, "expired: hold window elapsed"); err != nil {
				return err
			}
			result = b
			return nil
		})
		if txErr != nil {
			s.log.ErrorWithContext(ctx, "booking sweeper: failed to expire pending booking", txErr, map[string]interface{}{
				"booking_id": bookingID.String(),
			})
			continue
		}
		if result == nil {
			// Lost the race (another sweeper replica, or it was confirmed
			// in the meantime) — not an error.
			continue
		}

		expired++
		if s.availability != nil {
			for seatTypeID, count := range restoredBySeatType {
				_ = s.availability.Increment(ctx, result.EventID, seatTypeID, count)
			}
		}
		if s.publisher != nil {
			s.publisher.PublishBookingCancelled(ctx, result.EventID, result.ID)
		}
	}
	return expired, nil
}

func (s *service) GetByID(ctx context.Context, bookingID uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to load booking", err)
	}
	if b == nil {
		return nil, apperr.ErrNotFound
	}
	return b, nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]Booking, int64, error) {
	bookings, total, err := s.repo.ListByUser(ctx, userID, status, limit, offset)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.CodeInternal, "failed to list bookings", err)
	}
	return bookings, total, nil
}
