// Package availability serves constant-time reads of seat-type counters
// (§4.5) so UI polling and broadcast payloads never touch the relational
// store on the hot path. The cache is a lazily-rehydrated projection,
// never the system of record — the seat_types table stays authoritative.
package availability

import (
	"context"
	"fmt"
	"time"

	"evently-core/internal/catalog"
	"evently-core/pkg/cache"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const ttl = 60 * time.Second

type Service interface {
	Get(ctx context.Context, eventID, seatTypeID uuid.UUID) (int, error)
	Decrement(ctx context.Context, eventID, seatTypeID uuid.UUID) error
	Increment(ctx context.Context, eventID, seatTypeID uuid.UUID, count int) error
	Invalidate(ctx context.Context, eventID uuid.UUID, seatTypeID *uuid.UUID) error
}

type service struct {
	cache    cache.Service
	redis    *redis.Client
	catalog  catalog.Repository
}

func NewService(cacheService cache.Service, redisClient *redis.Client, catalogRepo catalog.Repository) Service {
	return &service{cache: cacheService, redis: redisClient, catalog: catalogRepo}
}

func key(eventID, seatTypeID uuid.UUID) string {
	return fmt.Sprintf("avail:%s:%s", eventID, seatTypeID)
}

func (s *service) Get(ctx context.Context, eventID, seatTypeID uuid.UUID) (int, error) {
	var value int
	err := s.cache.GetOrSet(ctx, key(eventID, seatTypeID), ttl, func() (interface{}, error) {
		st, err := s.catalog.GetSeatType(ctx, seatTypeID)
		if err != nil {
			return nil, err
		}
		return st.AvailableQuantity, nil
	}, &value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

// Decrement applies the clamped KV counter adjustment after a Lock
// Manager Acquire commits. A miss (-1) means the key isn't warm; the
// caller's next Get will re-derive it from the database, so a miss here
// is not an error.
func (s *service) Decrement(ctx context.Context, eventID, seatTypeID uuid.UUID) error {
	k := key(eventID, seatTypeID)
	result, err := s.redis.Eval(ctx, luaClampedDecrement, []string{k}, int(ttl.Seconds())).Result()
	if err != nil {
		return err
	}
	_ = result
	return nil
}

// Increment applies the clamped restoration used by cancellation and the
// sweeper. cap is the seat type's total quantity, the ceiling the cached
// counter may never exceed.
func (s *service) Increment(ctx context.Context, eventID, seatTypeID uuid.UUID, count int) error {
	st, err := s.catalog.GetSeatType(ctx, seatTypeID)
	if err != nil {
		return err
	}
	k := key(eventID, seatTypeID)
	result, err := s.redis.Eval(ctx, luaClampedIncrement, []string{k}, int(ttl.Seconds()), count, st.Quantity).Result()
	if err != nil {
		return err
	}
	_ = result
	return nil
}

func (s *service) Invalidate(ctx context.Context, eventID uuid.UUID, seatTypeID *uuid.UUID) error {
	if seatTypeID != nil {
		return s.cache.Delete(ctx, key(eventID, *seatTypeID))
	}
	return s.cache.DeletePattern(ctx, fmt.Sprintf("avail:%s:*", eventID))
}
