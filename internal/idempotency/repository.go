package idempotency

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists the key-dedup ledger.
type Repository interface {
	// TryInsert attempts the §4.9 `INSERT ... ON CONFLICT DO NOTHING`.
	// inserted is false when a row for this key already existed, in
	// which case the caller must fetch it to decide in-flight vs replay.
	TryInsert(ctx context.Context, key Key) (inserted bool, err error)
	Get(ctx context.Context, key string) (*Key, error)
	Complete(ctx context.Context, key string, response []byte) error
	Fail(ctx context.Context, key string) error
	Reactivate(ctx context.Context, key string, expiresAt time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) TryInsert(ctx context.Context, key Key) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&key)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Get(ctx context.Context, key string) (*Key, error) {
	var row Key
	if err := r.db.WithContext(ctx).First(&row, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *repository) Complete(ctx context.Context, key string, response []byte) error {
	return r.db.WithContext(ctx).Model(&Key{}).
		Where("key = ?", key).
		Updates(map[string]interface{}{
			"status":            StatusCompleted,
			"response_snapshot": response,
		}).Error
}

func (r *repository) Fail(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Model(&Key{}).
		Where("key = ?", key).
		Update("status", StatusFailed).Error
}

func (r *repository) Reactivate(ctx context.Context, key string, expiresAt time.Time) error {
	return r.db.WithContext(ctx).Model(&Key{}).
		Where("key = ?", key).
		Updates(map[string]interface{}{
			"status":     StatusPending,
			"expires_at": expiresAt,
		}).Error
}

func (r *repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&Key{})
	return result.RowsAffected, result.Error
}
