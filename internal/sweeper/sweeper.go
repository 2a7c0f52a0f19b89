// Package sweeper implements the Expiry Sweeper: the background job
// that reclaims locks and pending bookings holders walked away from,
// and purges stale Token Gate rows, on two independent ticker cadences
// (§4.6), grounded on the same ticker/select/done shape the codebase
// already uses for its other background loops.
package sweeper

import (
	"context"
	"sync/atomic"
	"time"

	"evently-core/internal/availability"
	"evently-core/internal/booking"
	"evently-core/internal/idempotency"
	"evently-core/internal/seatlock"
	"evently-core/internal/tokengate"
	"evently-core/pkg/logger"

	"github.com/google/uuid"
)

// Config controls the sweeper's cadence and batch sizes.
type Config struct {
	LockSweepInterval  time.Duration
	TokenSweepInterval time.Duration
	BatchSize          int
	// MinInterval enforces §4.6's "one execution per 30s minimum" rate
	// cap, so a manual trigger (e.g. an admin endpoint) can never pile
	// sweeps up faster than this regardless of ticker cadence.
	MinInterval time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		LockSweepInterval:  5 * time.Minute,
		TokenSweepInterval: 1 * time.Hour,
		BatchSize:          500,
		MinInterval:        30 * time.Second,
	}
}

// Sweeper owns the two ticker loops. running guards max-concurrency-1
// per sweep kind; lastLockRun/lastTokenRun enforce MinInterval.
type Sweeper struct {
	seats        seatlock.Service
	bookings     booking.Service
	tokens       tokengate.Repository
	idempotency  idempotency.Repository
	availability availability.Service
	cfg          *Config
	log          *logger.Logger

	lockRunning  int32
	tokenRunning int32
	lastLockRun  atomic.Int64
	lastTokenRun atomic.Int64

	done chan struct{}
}

func NewSweeper(
	seats seatlock.Service,
	bookings booking.Service,
	tokens tokengate.Repository,
	idempotencyRepo idempotency.Repository,
	availabilitySvc availability.Service,
	cfg *Config,
	log *logger.Logger,
) *Sweeper {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Sweeper{
		seats:        seats,
		bookings:     bookings,
		tokens:       tokens,
		idempotency:  idempotencyRepo,
		availability: availabilitySvc,
		cfg:          cfg,
		log:          log,
		done:         make(chan struct{}),
	}
}

// Start launches both ticker loops; call once at startup.
func (sw *Sweeper) Start(ctx context.Context) {
	go sw.runLockSweepLoop(ctx)
	go sw.runTokenSweepLoop(ctx)
}

func (sw *Sweeper) Stop() {
	close(sw.done)
}

func (sw *Sweeper) runLockSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sw.cfg.LockSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.runLockSweep(ctx)
		case <-sw.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (sw *Sweeper) runTokenSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sw.cfg.TokenSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.runTokenSweep(ctx)
		case <-sw.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runLockSweep reclaims expired seat locks and expired pending
// bookings, then invalidates the availability/event caches for every
// event touched, per §4.6's first bullet.
func (sw *Sweeper) runLockSweep(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&sw.lockRunning, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&sw.lockRunning, 0)

	if !sw.allowRun(&sw.lastLockRun) {
		return
	}

	start := time.Now()
	affected := make(map[uuid.UUID]struct{})

	reclaimed, events, err := sw.seats.SweepExpired(ctx, start, sw.cfg.BatchSize)
	if err != nil {
		sw.log.ErrorWithContext(ctx, "sweeper: lock sweep failed", err, nil)
	} else if reclaimed > 0 {
		sw.log.LogSweepCompleted(ctx, "lock_expiry", reclaimed, time.Since(start))
		for _, eventID := range events {
			affected[eventID] = struct{}{}
		}
	}

	bookingStart := time.Now()
	expiredBookings, err := sw.bookings.ExpirePending(ctx, bookingStart, sw.cfg.BatchSize)
	if err != nil {
		sw.log.ErrorWithContext(ctx, "sweeper: pending-booking expiry sweep failed", err, nil)
	} else if expiredBookings > 0 {
		sw.log.LogSweepCompleted(ctx, "booking_expiry", expiredBookings, time.Since(bookingStart))
	}

	if sw.availability != nil {
		for eventID := range affected {
			if err := sw.availability.Invalidate(ctx, eventID, nil); err != nil {
				sw.log.ErrorWithContext(ctx, "sweeper: cache invalidation failed", err, map[string]interface{}{
					"event_id": eventID.String(),
				})
			}
		}
	}
}

// runTokenSweep purges expired Token Gate rows (§4.6's second bullet).
// Redis TTL should have already removed the corresponding KV entries;
// this is the relational-store cleanup, run far less often than the
// lock sweep since stale rows here carry no functional cost beyond
// table bloat.
func (sw *Sweeper) runTokenSweep(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&sw.tokenRunning, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&sw.tokenRunning, 0)

	if !sw.allowRun(&sw.lastTokenRun) {
		return
	}

	start := time.Now()

	blacklistedRemoved, err := sw.tokens.DeleteExpiredBlacklisted(ctx, start)
	if err != nil {
		sw.log.ErrorWithContext(ctx, "sweeper: blacklisted-token sweep failed", err, nil)
	}

	refreshRemoved, err := sw.tokens.DeleteExpiredRefresh(ctx, start)
	if err != nil {
		sw.log.ErrorWithContext(ctx, "sweeper: refresh-token sweep failed", err, nil)
	}

	// Idempotency keys age out on the same slow cadence; a stale key
	// only costs table bloat, never correctness.
	if _, err := sw.idempotency.DeleteExpired(ctx, start); err != nil {
		sw.log.ErrorWithContext(ctx, "sweeper: idempotency-key sweep failed", err, nil)
	}

	if total := blacklistedRemoved + refreshRemoved; total > 0 {
		sw.log.LogSweepCompleted(ctx, "token_expiry", int(total), time.Since(start))
	}
}

func (sw *Sweeper) allowRun(last *atomic.Int64) bool {
	now := time.Now().UnixNano()
	prev := last.Load()
	if prev != 0 && time.Duration(now-prev) < sw.cfg.MinInterval {
		return false
	}
	last.Store(now)
	return true
}
