package idempotency

import (
	"context"
	"time"

	"evently-core/internal/shared/apperr"

	"gorm.io/gorm"
)

const ttl = 24 * time.Hour

// Outcome tells the caller whether to execute the operation or replay a
// previously-stored response.
type Outcome struct {
	Proceed        bool
	CachedResponse []byte
}

// Service is the §4.9 Idempotency Store contract.
type Service interface {
	// Begin claims the key for a fresh attempt, returns the cached
	// response on replay, or returns apperr.ErrInFlight when another
	// attempt is mid-flight.
	Begin(ctx context.Context, key, operationType, resourceID, userID string) (*Outcome, error)
	Complete(ctx context.Context, key string, response []byte) error
	Fail(ctx context.Context, key string) error
}

type service struct {
	repo Repository
	db   *gorm.DB
}

func NewService(repo Repository, db *gorm.DB) Service {
	return &service{repo: repo, db: db}
}

func (s *service) Begin(ctx context.Context, key, operationType, resourceID, userID string) (*Outcome, error) {
	row := Key{
		Key:           key,
		OperationType: operationType,
		ResourceID:    resourceID,
		UserID:        userID,
		Status:        StatusPending,
		ExpiresAt:     time.Now().Add(ttl),
	}

	inserted, err := s.repo.TryInsert(ctx, row)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to claim idempotency key", err)
	}
	if inserted {
		return &Outcome{Proceed: true}, nil
	}

	existing, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to load idempotency key", err)
	}
	if existing == nil {
		// Raced with a concurrent expiry sweep between the failed insert
		// and this read; treat as a fresh attempt.
		return &Outcome{Proceed: true}, nil
	}

	switch existing.Status {
	case StatusCompleted:
		return &Outcome{Proceed: false, CachedResponse: existing.ResponseSnapshot}, nil
	case StatusFailed:
		// A prior attempt under this key failed outright; let the
		// caller retry rather than permanently wedging the key.
		if err := s.repo.Reactivate(ctx, key, time.Now().Add(ttl)); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "failed to reset idempotency key", err)
		}
		return &Outcome{Proceed: true}, nil
	default:
		return nil, apperr.ErrInFlight
	}
}

func (s *service) Complete(ctx context.Context, key string, response []byte) error {
	if err := s.repo.Complete(ctx, key, response); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "failed to record idempotent completion", err)
	}
	return nil
}

func (s *service) Fail(ctx context.Context, key string) error {
	if err := s.repo.Fail(ctx, key); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "failed to record idempotent failure", err)
	}
	return nil
}
