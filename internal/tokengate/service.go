package tokengate

import (
	"context"
	"time"

	"evently-core/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	blacklistKeyPrefix = "blacklist:"
	refreshKeyPrefix   = "refresh_token:"
)

// Service is the §4.8 Token Gate contract.
type Service interface {
	IsBlacklisted(ctx context.Context, token string) bool
	Blacklist(ctx context.Context, token, userID string, expiresAt time.Time) error
	CacheRefresh(ctx context.Context, token, userID string, expiresAt time.Time) error
	GetRefresh(ctx context.Context, token string) (*RefreshInfo, error)
	RevokeAllForUser(ctx context.Context, userID string) error
}

type service struct {
	repo  Repository
	redis *redis.Client
	log   *logger.Logger
}

func NewService(repo Repository, redisClient *redis.Client, log *logger.Logger) Service {
	return &service{repo: repo, redis: redisClient, log: log}
}

// IsBlacklisted implements the §4.8 KV-first, fail-open read path.
func (s *service) IsBlacklisted(ctx context.Context, token string) bool {
	key := blacklistKeyPrefix + token

	exists, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		s.log.ErrorWithContext(ctx, "token gate: redis unavailable, reading through to database", err, nil)
	} else if exists > 0 {
		return true
	}
	kvHealthy := err == nil

	// Cache miss or KV outage: read through to the relational mirror.
	// Only a failure of BOTH stores fails open — the accepted
	// availability trade for short-lived access tokens.
	blacklisted, expiresAt, err := s.repo.IsBlacklisted(ctx, token)
	if err != nil {
		s.log.ErrorWithContext(ctx, "token gate: db read-through failed, failing open", err, nil)
		return false
	}
	if !blacklisted {
		return false
	}

	if remaining := time.Until(expiresAt); kvHealthy && remaining > 0 {
		_ = s.redis.Set(ctx, key, "1", remaining).Err()
	}
	return true
}

func (s *service) Blacklist(ctx context.Context, token, userID string, expiresAt time.Time) error {
	if err := s.repo.InsertBlacklisted(ctx, token, userID, expiresAt); err != nil {
		return err
	}
	remaining := time.Until(expiresAt)
	if remaining > 0 {
		if err := s.redis.Set(ctx, blacklistKeyPrefix+token, "1", remaining).Err(); err != nil {
			s.log.ErrorWithContext(ctx, "token gate: failed to populate blacklist cache entry", err, nil)
		}
	}
	return nil
}

func (s *service) CacheRefresh(ctx context.Context, token, userID string, expiresAt time.Time) error {
	if err := s.repo.UpsertRefresh(ctx, token, userID, expiresAt); err != nil {
		return err
	}
	remaining := time.Until(expiresAt)
	if remaining > 0 {
		if err := s.redis.Set(ctx, refreshKeyPrefix+token, userID, remaining).Err(); err != nil {
			s.log.ErrorWithContext(ctx, "token gate: failed to populate refresh cache entry", err, nil)
		}
	}
	return nil
}

// GetRefresh always confirms against the relational mirror: the cached
// entry only records token->user for existence checks, not revocation
// state, so revoked-flag correctness would otherwise go stale between
// a RevokeAllForUser call and the cached entry's natural expiry.
func (s *service) GetRefresh(ctx context.Context, token string) (*RefreshInfo, error) {
	return s.repo.GetRefresh(ctx, token)
}

func (s *service) RevokeAllForUser(ctx context.Context, userID string) error {
	return s.repo.RevokeAllForUser(ctx, userID)
}
