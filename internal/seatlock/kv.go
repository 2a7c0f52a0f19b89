package seatlock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// luaGuardedDelete removes KEYS[1] only if its stored holder matches
// ARGV[1]. Used both for Release (genuine holder-initiated release) and
// for the Acquire-step compensation when the DB side loses the race
// after the KV side already won (§4.1 step 2/3 compensation).
const luaGuardedDelete = `
local raw = redis.call("GET", KEYS[1])
if raw == false then
    return 0
end
local holder = cjson.decode(raw).user_id
if holder ~= ARGV[1] then
    return 0
end
redis.call("DEL", KEYS[1])
return 1
`

// luaGuardedExtend rewrites the stored lock payload with a new
// expires_at and resets the key TTL, but only if ARGV[1] still matches
// the recorded holder.
const luaGuardedExtend = `
local raw = redis.call("GET", KEYS[1])
if raw == false then
    return 0
end
local payload = cjson.decode(raw)
if payload.user_id ~= ARGV[1] then
    return 0
end
payload.expires_at = ARGV[2]
redis.call("SET", KEYS[1], cjson.encode(payload), "EX", ARGV[3])
return 1
`

type lockPayload struct {
	UserID    string    `json:"user_id"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func lockKey(eventID, seatTypeID uuid.UUID, seatLabel string) string {
	return fmt.Sprintf("seat_lock:%s:%s:%s", eventID, seatTypeID, seatLabel)
}

// KVStore wraps the Redis primitives §4.1 relies on: create-if-absent
// with TTL for the fast-path rejection, and two holder-guarded mutations.
type KVStore struct {
	redis *redis.Client
}

func NewKVStore(client *redis.Client) *KVStore {
	return &KVStore{redis: client}
}

// conditionalSet is the §4.1 step 1 "create-if-absent" primitive. ok is
// false when another holder already owns the label (the fast-path
// ErrConflict case); no DB attempt is made by the loser.
func (k *KVStore) conditionalSet(ctx context.Context, eventID, seatTypeID uuid.UUID, seatLabel, userID string, ttl time.Duration) (ok bool, err error) {
	now := time.Now()
	payload := lockPayload{UserID: userID, LockedAt: now, ExpiresAt: now.Add(ttl)}
	data, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}
	return k.redis.SetNX(ctx, lockKey(eventID, seatTypeID, seatLabel), data, ttl).Result()
}

func (k *KVStore) get(ctx context.Context, eventID, seatTypeID uuid.UUID, seatLabel string) (*lockPayload, error) {
	raw, err := k.redis.Get(ctx, lockKey(eventID, seatTypeID, seatLabel)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var payload lockPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// compensateDelete removes a lock key this holder just created, used
// when the DB side of Acquire fails after the KV side already won.
func (k *KVStore) compensateDelete(ctx context.Context, eventID, seatTypeID uuid.UUID, seatLabel, userID string) error {
	_, err := k.redis.Eval(ctx, luaGuardedDelete, []string{lockKey(eventID, seatTypeID, seatLabel)}, userID).Result()
	return err
}

// release is the holder-initiated counterpart to compensateDelete;
// released reports whether this call was the one that removed the key.
func (k *KVStore) release(ctx context.Context, eventID, seatTypeID uuid.UUID, seatLabel, userID string) (released bool, err error) {
	result, err := k.redis.Eval(ctx, luaGuardedDelete, []string{lockKey(eventID, seatTypeID, seatLabel)}, userID).Result()
	if err != nil {
		return false, err
	}
	n, _ := result.(int64)
	return n == 1, nil
}

// deleteExpired unconditionally removes a lock key the sweeper has
// already confirmed is past expiry in the relational store; no holder
// check is needed since the TTL itself would have reaped a live key.
func (k *KVStore) deleteExpired(ctx context.Context, eventID, seatTypeID uuid.UUID, seatLabel string) error {
	return k.redis.Del(ctx, lockKey(eventID, seatTypeID, seatLabel)).Err()
}

func (k *KVStore) extend(ctx context.Context, eventID, seatTypeID uuid.UUID, seatLabel, userID string, newExpiresAt time.Time, ttl time.Duration) (bool, error) {
	result, err := k.redis.Eval(ctx, luaGuardedExtend, []string{lockKey(eventID, seatTypeID, seatLabel)},
		userID, newExpiresAt.Format(time.RFC3339Nano), int(ttl.Seconds())).Result()
	if err != nil {
		return false, err
	}
	n, _ := result.(int64)
	return n == 1, nil
}
