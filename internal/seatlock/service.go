package seatlock

import (
	"context"
	"regexp"
	"strings"
	"time"

	"evently-core/internal/availability"
	"evently-core/internal/catalog"
	"evently-core/internal/shared/apperr"
	"evently-core/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var seatLabelPattern = regexp.MustCompile(`^[A-Z0-9]{1,20}$`)

// Publisher decouples the lock manager from the realtime broadcaster's
// concrete package to avoid the import cycle the two would otherwise
// form (the broadcaster also needs lock state to build snapshots). The
// ctx lets the broadcaster exclude the originating connection when the
// mutation arrived over its own transport.
type Publisher interface {
	PublishSeatLocked(ctx context.Context, eventID, seatTypeID uuid.UUID, seatLabel string, available int)
	PublishSeatReleased(ctx context.Context, eventID, seatTypeID uuid.UUID, seatLabel string, available int)
}

type Service interface {
	Acquire(ctx context.Context, eventID, seatTypeID, userID uuid.UUID, seatLabel string) (*Lock, error)
	Release(ctx context.Context, eventID, seatTypeID, userID uuid.UUID, seatLabel string) (bool, error)
	Extend(ctx context.Context, eventID, seatTypeID, userID uuid.UUID, seatLabel string, additional time.Duration) (bool, error)
	Get(ctx context.Context, eventID, seatTypeID uuid.UUID, seatLabel string) (*Lock, error)
	BatchGet(ctx context.Context, eventID, seatTypeID uuid.UUID, labels []string) (map[string]*Lock, error)
	ListByUser(ctx context.Context, eventID, userID uuid.UUID) ([]Lock, error)
	// SweepExpired reclaims still-locked seats whose hold lapsed without
	// a release or confirmation, restoring availability and publishing
	// a release event per seat. Driven by the Expiry Sweeper, not by
	// request traffic. Returns the count reclaimed and the distinct
	// events affected, so the caller can invalidate their caches.
	SweepExpired(ctx context.Context, before time.Time, batchSize int) (reclaimed int, affectedEvents []uuid.UUID, err error)
}

type service struct {
	db           *gorm.DB
	kv           *KVStore
	repo         Repository
	catalog      catalog.Repository
	availability availability.Service
	publisher    Publisher
	log          *logger.Logger
	lockTTL      time.Duration
}

func NewService(db *gorm.DB, repo Repository, catalogRepo catalog.Repository, kv *KVStore, availabilitySvc availability.Service, publisher Publisher, log *logger.Logger, lockTTL time.Duration) Service {
	return &service{
		db:           db,
		kv:           kv,
		repo:         repo,
		catalog:      catalogRepo,
		availability: availabilitySvc,
		publisher:    publisher,
		log:          log,
		lockTTL:      lockTTL,
	}
}

func validateSeatLabel(raw string) (string, error) {
	label := strings.ToUpper(strings.TrimSpace(raw))
	if !seatLabelPattern.MatchString(label) {
		return "", apperr.New(apperr.CodeValidation, "seat_label must match [A-Z0-9]{1,20}")
	}
	return label, nil
}

// Acquire implements §4.1's two-store atomic reservation: a Redis
// conditional-set fast path, then a relational insert guarded by the
// (seat_type_id, seat_label) unique constraint, then the guarded
// availability decrement. Any failure past the KV step compensates by
// deleting the KV entry before returning.
func (s *service) Acquire(ctx context.Context, eventID, seatTypeID, userID uuid.UUID, rawLabel string) (*Lock, error) {
	label, err := validateSeatLabel(rawLabel)
	if err != nil {
		return nil, err
	}

	event, err := s.catalog.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.IsOpenForBooking(time.Now()) {
		return nil, apperr.ErrEventClosed
	}

	userIDStr := userID.String()

	ok, err := s.kv.conditionalSet(ctx, eventID, seatTypeID, label, userIDStr, s.lockTTL)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to acquire seat lock", err)
	}
	if !ok {
		s.log.LogSeatConflict(ctx, eventID.String(), seatTypeID.String(), label)
		return nil, apperr.ErrConflict
	}

	now := time.Now()
	expiresAt := now.Add(s.lockTTL)

	var result *Lock
	var newAvailable int
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seat := &Seat{
			EventID:     eventID,
			SeatTypeID:  seatTypeID,
			SeatLabel:   label,
			Status:      StatusLocked,
			OwnerUserID: &userID,
			LockedAt:    &now,
			ExpiresAt:   &expiresAt,
		}

		inserted, err := s.repo.TryInsertLocked(tx, seat)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "failed to persist seat lock", err)
		}
		if !inserted {
			return apperr.ErrConflict
		}

		remaining, err := s.catalog.DecrementAvailability(tx, seatTypeID)
		if err != nil {
			// Persisted slot claimed but the counter disagrees — Invariant A
			// should prevent this; unwind the seat row we just inserted.
			if delErr := s.repo.DeleteSeat(tx, seat.ID); delErr != nil {
				return apperr.Wrap(apperr.CodeInternal, "failed to compensate after availability conflict", delErr)
			}
			return err
		}

		result = &Lock{
			EventID:    eventID,
			SeatTypeID: seatTypeID,
			SeatLabel:  label,
			UserID:     userID,
			LockedAt:   now,
			ExpiresAt:  expiresAt,
		}
		newAvailable = remaining
		return nil
	})

	if txErr != nil {
		if compErr := s.kv.compensateDelete(ctx, eventID, seatTypeID, label, userIDStr); compErr != nil {
			s.log.ErrorWithContext(ctx, "failed to compensate seat lock kv entry", compErr, nil)
		}
		return nil, txErr
	}

	s.log.LogSeatLocked(ctx, eventID.String(), seatTypeID.String(), label, userIDStr)
	if s.availability != nil {
		_ = s.availability.Decrement(ctx, eventID, seatTypeID)
	}
	if s.publisher != nil {
		s.publisher.PublishSeatLocked(ctx, eventID, seatTypeID, label, newAvailable)
	}
	return result, nil
}

func (s *service) currentAvailable(ctx context.Context, seatTypeID uuid.UUID) (int, error) {
	st, err := s.catalog.GetSeatType(ctx, seatTypeID)
	if err != nil {
		return 0, err
	}
	return st.AvailableQuantity, nil
}

// Release returns availability only when this caller was the recorded
// holder; a foreign release attempt is reported as false, not an error.
func (s *service) Release(ctx context.Context, eventID, seatTypeID, userID uuid.UUID, rawLabel string) (bool, error) {
	label, err := validateSeatLabel(rawLabel)
	if err != nil {
		return false, err
	}

	seat, err := s.repo.GetByLabel(ctx, eventID, seatTypeID, label)
	if err != nil {
		return false, apperr.Wrap(apperr.CodeInternal, "failed to load seat", err)
	}
	if seat == nil || seat.Status != StatusLocked || seat.OwnerUserID == nil || *seat.OwnerUserID != userID {
		return false, nil
	}

	released, err := s.kv.release(ctx, eventID, seatTypeID, label, userID.String())
	if err != nil {
		return false, apperr.Wrap(apperr.CodeInternal, "failed to release kv lock", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.GetForUpdate(tx, seat.ID)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "failed to lock seat row for release", err)
		}
		if current == nil || current.Status != StatusLocked {
			return nil
		}
		if err := s.repo.DeleteSeat(tx, seat.ID); err != nil {
			return apperr.Wrap(apperr.CodeInternal, "failed to delete released seat", err)
		}
		return s.catalog.RestoreAvailability(tx, seatTypeID, 1)
	})
	if txErr != nil {
		return false, txErr
	}

	if s.availability != nil {
		_ = s.availability.Increment(ctx, eventID, seatTypeID, 1)
	}
	if s.publisher != nil {
		if avail, availErr := s.currentAvailable(ctx, seatTypeID); availErr == nil {
			s.publisher.PublishSeatReleased(ctx, eventID, seatTypeID, label, avail)
		}
	}
	return released, nil
}

// Extend rewrites both the KV TTL and the DB expires_at using an
// absolute timestamp computed here in application code, never a
// DB-side INTERVAL built from user input (§4.1).
func (s *service) Extend(ctx context.Context, eventID, seatTypeID, userID uuid.UUID, rawLabel string, additional time.Duration) (bool, error) {
	label, err := validateSeatLabel(rawLabel)
	if err != nil {
		return false, err
	}

	seat, err := s.repo.GetByLabel(ctx, eventID, seatTypeID, label)
	if err != nil {
		return false, apperr.Wrap(apperr.CodeInternal, "failed to load seat", err)
	}
	if seat == nil || seat.Status != StatusLocked || seat.OwnerUserID == nil || *seat.OwnerUserID != userID {
		return false, nil
	}

	newExpiresAt := time.Now().Add(additional)

	extended, err := s.kv.extend(ctx, eventID, seatTypeID, label, userID.String(), newExpiresAt, additional)
	if err != nil {
		return false, apperr.Wrap(apperr.CodeInternal, "failed to extend kv lock", err)
	}
	if !extended {
		return false, nil
	}

	if err := s.repo.UpdateExpiry(ctx, seat.ID, newExpiresAt); err != nil {
		return false, apperr.Wrap(apperr.CodeInternal, "failed to extend seat expiry", err)
	}
	return true, nil
}

func (s *service) Get(ctx context.Context, eventID, seatTypeID uuid.UUID, rawLabel string) (*Lock, error) {
	label, err := validateSeatLabel(rawLabel)
	if err != nil {
		return nil, err
	}
	seat, err := s.repo.GetByLabel(ctx, eventID, seatTypeID, label)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to load seat", err)
	}
	if seat == nil || seat.Status != StatusLocked {
		return nil, nil
	}
	return seatToLock(seat), nil
}

func (s *service) BatchGet(ctx context.Context, eventID, seatTypeID uuid.UUID, labels []string) (map[string]*Lock, error) {
	seats, err := s.repo.BatchGetByLabels(ctx, eventID, seatTypeID, labels)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to batch load seats", err)
	}
	out := make(map[string]*Lock, len(labels))
	for _, label := range labels {
		if seat, ok := seats[label]; ok && seat.Status == StatusLocked {
			out[label] = seatToLock(seat)
		} else {
			out[label] = nil
		}
	}
	return out, nil
}

func (s *service) ListByUser(ctx context.Context, eventID, userID uuid.UUID) ([]Lock, error) {
	seats, err := s.repo.ListByUser(ctx, eventID, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to list seats for user", err)
	}
	out := make([]Lock, 0, len(seats))
	for i := range seats {
		if lock := seatToLock(&seats[i]); lock != nil {
			out = append(out, *lock)
		}
	}
	return out, nil
}

// SweepExpired implements §4.6's lock-reclamation sweep: each expired
// seat is reclaimed in its own transaction so one bad row never blocks
// the rest of the batch.
func (s *service) SweepExpired(ctx context.Context, before time.Time, batchSize int) (int, []uuid.UUID, error) {
	expired, err := s.repo.ListExpiredLocked(ctx, before, batchSize)
	if err != nil {
		return 0, nil, apperr.Wrap(apperr.CodeInternal, "failed to list expired seat locks", err)
	}

	reclaimed := 0
	affectedSet := make(map[uuid.UUID]struct{})
	for i := range expired {
		seat := expired[i]
		txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.repo.GetForUpdate(tx, seat.ID)
			if err != nil {
				return err
			}
			if current == nil || current.Status != StatusLocked || current.ExpiresAt == nil || !current.ExpiresAt.Before(before) {
				return nil
			}
			if err := s.repo.DeleteSeat(tx, seat.ID); err != nil {
				return err
			}
			return s.catalog.RestoreAvailability(tx, seat.SeatTypeID, 1)
		})
		if txErr != nil {
			s.log.ErrorWithContext(ctx, "seat lock sweeper: failed to reclaim expired seat", txErr, map[string]interface{}{
				"seat_id": seat.ID.String(),
			})
			continue
		}

		if err := s.kv.deleteExpired(ctx, seat.EventID, seat.SeatTypeID, seat.SeatLabel); err != nil {
			s.log.ErrorWithContext(ctx, "seat lock sweeper: failed to clear kv entry for reclaimed seat", err, nil)
		}

		reclaimed++
		affectedSet[seat.EventID] = struct{}{}
		if s.availability != nil {
			_ = s.availability.Increment(ctx, seat.EventID, seat.SeatTypeID, 1)
		}
		if s.publisher != nil {
			if avail, availErr := s.currentAvailable(ctx, seat.SeatTypeID); availErr == nil {
				s.publisher.PublishSeatReleased(ctx, seat.EventID, seat.SeatTypeID, seat.SeatLabel, avail)
			}
		}
	}

	affectedEvents := make([]uuid.UUID, 0, len(affectedSet))
	for eventID := range affectedSet {
		affectedEvents = append(affectedEvents, eventID)
	}
	return reclaimed, affectedEvents, nil
}

func seatToLock(seat *Seat) *Lock {
	if seat == nil || seat.OwnerUserID == nil || seat.LockedAt == nil || seat.ExpiresAt == nil {
		return nil
	}
	return &Lock{
		EventID:    seat.EventID,
		SeatTypeID: seat.SeatTypeID,
		SeatLabel:  seat.SeatLabel,
		UserID:     *seat.OwnerUserID,
		LockedAt:   *seat.LockedAt,
		ExpiresAt:  *seat.ExpiresAt,
	}
}
