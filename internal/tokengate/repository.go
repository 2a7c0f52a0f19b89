package tokengate

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Repository is the relational mirror backing the KV-first read path.
type Repository interface {
	InsertBlacklisted(ctx context.Context, token, userID string, expiresAt time.Time) error
	IsBlacklisted(ctx context.Context, token string) (bool, time.Time, error)
	DeleteExpiredBlacklisted(ctx context.Context, now time.Time) (int64, error)

	UpsertRefresh(ctx context.Context, token, userID string, expiresAt time.Time) error
	GetRefresh(ctx context.Context, token string) (*RefreshInfo, error)
	RevokeAllForUser(ctx context.Context, userID string) error
	DeleteExpiredRefresh(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) InsertBlacklisted(ctx context.Context, token, userID string, expiresAt time.Time) error {
	row := BlacklistedToken{Token: token, UserID: userID, ExpiresAt: expiresAt}
	return r.db.WithContext(ctx).Save(&row).Error
}

func (r *repository) IsBlacklisted(ctx context.Context, token string) (bool, time.Time, error) {
	var row BlacklistedToken
	err := r.db.WithContext(ctx).First(&row, "token = ?", token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	return true, row.ExpiresAt, nil
}

func (r *repository) DeleteExpiredBlacklisted(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&BlacklistedToken{})
	return result.RowsAffected, result.Error
}

func (r *repository) UpsertRefresh(ctx context.Context, token, userID string, expiresAt time.Time) error {
	row := RefreshToken{Token: token, UserID: userID, ExpiresAt: expiresAt}
	return r.db.WithContext(ctx).Save(&row).Error
}

func (r *repository) GetRefresh(ctx context.Context, token string) (*RefreshInfo, error) {
	var row RefreshToken
	err := r.db.WithContext(ctx).First(&row, "token = ?", token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &RefreshInfo{UserID: row.UserID, Revoked: row.Revoked, ExpiresAt: row.ExpiresAt}, nil
}

func (r *repository) RevokeAllForUser(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("user_id = ?", userID).
		Update("revoked", true).Error
}

func (r *repository) DeleteExpiredRefresh(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&RefreshToken{})
	return result.RowsAffected, result.Error
}
