package booking

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"evently-core/internal/availability"
	"evently-core/internal/catalog"
	"evently-core/internal/idempotency"
	"evently-core/internal/seatlock"
	"evently-core/internal/shared/apperr"
	"evently-core/pkg/logger"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newGormMock opens a gorm handle over sqlmock so db.Transaction issues
// real BEGIN/COMMIT while all row access goes through fake repositories.
func newGormMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB, PreferSimpleProtocol: true}), &gorm.Config{})
	require.NoError(t, err)
	return gdb, mock
}

// fakeRepo implements Repository with overridable funcs.
type fakeRepo struct {
	referenceExistsFn        func(ctx context.Context, reference string) (bool, error)
	insertFn                 func(tx *gorm.DB, booking *Booking) (bool, error)
	insertSeatsFn            func(tx *gorm.DB, seats []BookingSeat) (int64, error)
	getByIDFn                func(ctx context.Context, id uuid.UUID) (*Booking, error)
	getByReferenceFn         func(ctx context.Context, reference string) (*Booking, error)
	getByPaymentIDFn         func(ctx context.Context, paymentID string) (*Booking, error)
	setPaymentOrderIDFn      func(ctx context.Context, id uuid.UUID, orderID string) error
	getForUpdateFn           func(tx *gorm.DB, id uuid.UUID) (*Booking, error)
	getForUpdateSkipLockedFn func(tx *gorm.DB, id uuid.UUID) (*Booking, error)
	listByUserFn             func(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]Booking, int64, error)
	listSeatsForBookingFn    func(ctx context.Context, bookingID uuid.UUID) ([]BookingSeat, error)
	listExpiredPendingFn     func(ctx context.Context, before time.Time, limit int) ([]Booking, error)
	confirmIfPendingFn       func(tx *gorm.DB, id uuid.UUID, paymentID, gateway string, confirmedAt time.Time) (bool, error)
	cancelFn                 func(tx *gorm.DB, id uuid.UUID, reason string) error
	markPaymentFailedFn      func(ctx context.Context, id uuid.UUID) error
}

func (f *fakeRepo) Insert(tx *gorm.DB, booking *Booking) (bool, error) {
	if f.insertFn != nil {
		return f.insertFn(tx, booking)
	}
	booking.ID = uuid.New()
	return true, nil
}

func (f *fakeRepo) InsertSeats(tx *gorm.DB, seats []BookingSeat) (int64, error) {
	if f.insertSeatsFn != nil {
		return f.insertSeatsFn(tx, seats)
	}
	return int64(len(seats)), nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeRepo) GetByPaymentID(ctx context.Context, paymentID string) (*Booking, error) {
	if f.getByPaymentIDFn != nil {
		return f.getByPaymentIDFn(ctx, paymentID)
	}
	return nil, nil
}

func (f *fakeRepo) SetPaymentOrderID(ctx context.Context, id uuid.UUID, orderID string) error {
	if f.setPaymentOrderIDFn != nil {
		return f.setPaymentOrderIDFn(ctx, id, orderID)
	}
	return nil
}

func (f *fakeRepo) GetForUpdate(tx *gorm.DB, id uuid.UUID) (*Booking, error) {
	if f.getForUpdateFn != nil {
		return f.getForUpdateFn(tx, id)
	}
	return nil, nil
}

func (f *fakeRepo) GetForUpdateSkipLocked(tx *gorm.DB, id uuid.UUID) (*Booking, error) {
	if f.getForUpdateSkipLockedFn != nil {
		return f.getForUpdateSkipLockedFn(tx, id)
	}
	return nil, nil
}

func (f *fakeRepo) ListByUser(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]Booking, int64, error) {
	if f.listByUserFn != nil {
		return f.listByUserFn(ctx, userID, status, limit, offset)
	}
	return nil, 0, nil
}

func (f *fakeRepo) ListSeatsForBooking(ctx context.Context, bookingID uuid.UUID) ([]BookingSeat, error) {
	if f.listSeatsForBookingFn != nil {
		return f.listSeatsForBookingFn(ctx, bookingID)
	}
	return nil, nil
}

func (f *fakeRepo) ListExpiredPending(ctx context.Context, before time.Time, limit int) ([]Booking, error) {
	if f.listExpiredPendingFn != nil {
		return f.listExpiredPendingFn(ctx, before, limit)
	}
	return nil, nil
}

func (f *fakeRepo) ConfirmIfPending(tx *gorm.DB, id uuid.UUID, paymentID, gateway string, confirmedAt time.Time) (bool, error) {
	if f.confirmIfPendingFn != nil {
		return f.confirmIfPendingFn(tx, id, paymentID, gateway, confirmedAt)
	}
	return true, nil
}

func (f *fakeRepo) Cancel(tx *gorm.DB, id uuid.UUID, reason string) error {
	if f.cancelFn != nil {
		return f.cancelFn(tx, id, reason)
	}
	return nil
}

func (f *fakeRepo) MarkPaymentFailed(ctx context.Context, id uuid.UUID) error {
	if f.markPaymentFailedFn != nil {
		return f.markPaymentFailedFn(ctx, id)
	}
	return nil
}

// fakeSeatRepo implements seatlock.Repository.
type fakeSeatRepo struct {
	getByLabelFn   func(ctx context.Context, eventID, seatTypeID uuid.UUID, seatLabel string) (*seatlock.Seat, error)
	getForUpdateFn func(tx *gorm.DB, seatID uuid.UUID) (*seatlock.Seat, error)
	deleteSeatFn   func(tx *gorm.DB, seatID uuid.UUID) error
	markBookedFn   func(tx *gorm.DB, seatID uuid.UUID, bookedAt time.Time) (bool, error)
}

func (f *fakeSeatRepo) TryInsertLocked(tx *gorm.DB, seat *seatlock.Seat) (bool, error) {
	return true, nil
}

func (f *fakeSeatRepo) DeleteSeat(tx *gorm.DB, seatID uuid.UUID) error {
	if f.deleteSeatFn != nil {
		return f.deleteSeatFn(tx, seatID)
	}
	return nil
}

func (f *fakeSeatRepo) GetByLabel(ctx context.Context, eventID, seatTypeID uuid.UUID, seatLabel string) (*seatlock.Seat, error) {
	if f.getByLabelFn != nil {
		return f.getByLabelFn(ctx, eventID, seatTypeID, seatLabel)
	}
	return nil, nil
}

func (f *fakeSeatRepo) GetForUpdate(tx *gorm.DB, seatID uuid.UUID) (*seatlock.Seat, error) {
	if f.getForUpdateFn != nil {
		return f.getForUpdateFn(tx, seatID)
	}
	return nil, nil
}

func (f *fakeSeatRepo) BatchGetByLabels(ctx context.Context, eventID, seatTypeID uuid.UUID, labels []string) (map[string]*seatlock.Seat, error) {
	return nil, nil
}

func (f *fakeSeatRepo) ListByUser(ctx context.Context, eventID, userID uuid.UUID) ([]seatlock.Seat, error) {
	return nil, nil
}

func (f *fakeSeatRepo) UpdateExpiry(ctx context.Context, seatID uuid.UUID, expiresAt time.Time) error {
	return nil
}

func (f *fakeSeatRepo) BatchGetByIDs(ctx context.Context, seatIDs []uuid.UUID) (map[uuid.UUID]*seatlock.Seat, error) {
	return nil, nil
}

func (f *fakeSeatRepo) ListExpiredLocked(ctx context.Context, before time.Time, limit int) ([]seatlock.Seat, error) {
	return nil, nil
}

func (f *fakeSeatRepo) MarkBooked(tx *gorm.DB, seatID uuid.UUID, bookedAt time.Time) (bool, error) {
	if f.markBookedFn != nil {
		return f.markBookedFn(tx, seatID, bookedAt)
	}
	return true, nil
}

// fakeCatalogRepo implements catalog.Repository.
type fakeCatalogRepo struct {
	getSeatTypeFn         func(ctx context.Context, seatTypeID uuid.UUID) (*catalog.SeatType, error)
	restoreAvailabilityFn func(tx *gorm.DB, seatTypeID uuid.UUID, count int) error
}

func (f *fakeCatalogRepo) GetEvent(ctx context.Context, eventID uuid.UUID) (*catalog.Event, error) {
	return nil, apperr.ErrNotFound
}

func (f *fakeCatalogRepo) GetSeatType(ctx context.Context, seatTypeID uuid.UUID) (*catalog.SeatType, error) {
	if f.getSeatTypeFn != nil {
		return f.getSeatTypeFn(ctx, seatTypeID)
	}
	return &catalog.SeatType{ID: seatTypeID, Price: 500, Quantity: 100, AvailableQuantity: 99}, nil
}

func (f *fakeCatalogRepo) GetSeatTypeForUpdate(tx *gorm.DB, seatTypeID uuid.UUID) (*catalog.SeatType, error) {
	return nil, apperr.ErrNotFound
}

func (f *fakeCatalogRepo) ListSeatTypes(ctx context.Context, eventID uuid.UUID) ([]catalog.SeatType, error) {
	return nil, nil
}

func (f *fakeCatalogRepo) InsertSeatType(ctx context.Context, st *catalog.SeatType) error { return nil }
func (f *fakeCatalogRepo) SaveSeatType(tx *gorm.DB, st *catalog.SeatType) error           { return nil }
func (f *fakeCatalogRepo) DeleteSeatType(tx *gorm.DB, seatTypeID uuid.UUID) error         { return nil }

func (f *fakeCatalogRepo) CountLiveSeats(tx *gorm.DB, seatTypeID uuid.UUID) (int64, error) {
	return 0, nil
}

func (f *fakeCatalogRepo) DecrementAvailability(tx *gorm.DB, seatTypeID uuid.UUID) (int, error) {
	return 0, nil
}

func (f *fakeCatalogRepo) RestoreAvailability(tx *gorm.DB, seatTypeID uuid.UUID, count int) error {
	if f.restoreAvailabilityFn != nil {
		return f.restoreAvailabilityFn(tx, seatTypeID, count)
	}
	return nil
}

// fakeIdempotency implements idempotency.Service.
type fakeIdempotency struct {
	beginFn    func(ctx context.Context, key, operationType, resourceID, userID string) (*idempotency.Outcome, error)
	completeFn func(ctx context.Context, key string, response []byte) error
	failFn     func(ctx context.Context, key string) error
}

func (f *fakeIdempotency) Begin(ctx context.Context, key, operationType, resourceID, userID string) (*idempotency.Outcome, error) {
	if f.beginFn != nil {
		return f.beginFn(ctx, key, operationType, resourceID, userID)
	}
	return &idempotency.Outcome{Proceed: true}, nil
}

func (f *fakeIdempotency) Complete(ctx context.Context, key string, response []byte) error {
	if f.completeFn != nil {
		return f.completeFn(ctx, key, response)
	}
	return nil
}

func (f *fakeIdempotency) Fail(ctx context.Context, key string) error {
	if f.failFn != nil {
		return f.failFn(ctx, key)
	}
	return nil
}

// fakeAvailability implements availability.Service.
type fakeAvailability struct {
	increments int
}

func (f *fakeAvailability) Get(ctx context.Context, eventID, seatTypeID uuid.UUID) (int, error) {
	return 0, nil
}

func (f *fakeAvailability) Decrement(ctx context.Context, eventID, seatTypeID uuid.UUID) error {
	return nil
}

func (f *fakeAvailability) Increment(ctx context.Context, eventID, seatTypeID uuid.UUID, count int) error {
	f.increments += count
	return nil
}

func (f *fakeAvailability) Invalidate(ctx context.Context, eventID uuid.UUID, seatTypeID *uuid.UUID) error {
	return nil
}

var _ availability.Service = (*fakeAvailability)(nil)

type fakeDispatcher struct {
	dispatched []uuid.UUID
	err        error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, bookingID uuid.UUID) error {
	f.dispatched = append(f.dispatched, bookingID)
	return f.err
}

type fakePublisher struct {
	created   int
	confirmed int
	cancelled int
}

func (f *fakePublisher) PublishBookingCreated(ctx context.Context, eventID, bookingID uuid.UUID) {
	f.created++
}

func (f *fakePublisher) PublishBookingConfirmed(ctx context.Context, eventID, bookingID uuid.UUID) {
	f.confirmed++
}

func (f *fakePublisher) PublishBookingCancelled(ctx context.Context, eventID, bookingID uuid.UUID) {
	f.cancelled++
}

type testDeps struct {
	mock        sqlmock.Sqlmock
	repo        *fakeRepo
	seats       *fakeSeatRepo
	catalogRepo *fakeCatalogRepo
	idem        *fakeIdempotency
	avail       *fakeAvailability
	dispatcher  *fakeDispatcher
	publisher   *fakePublisher
}

func newTestService(t *testing.T) (Service, *testDeps) {
	t.Helper()
	db, mock := newGormMock(t)
	deps := &testDeps{
		mock:        mock,
		repo:        &fakeRepo{},
		seats:       &fakeSeatRepo{},
		catalogRepo: &fakeCatalogRepo{},
		idem:        &fakeIdempotency{},
		avail:       &fakeAvailability{},
		dispatcher:  &fakeDispatcher{},
		publisher:   &fakePublisher{},
	}
	svc := NewService(db, deps.repo, deps.seats, deps.catalogRepo, deps.idem, deps.avail, deps.dispatcher, deps.publisher, logger.New())
	return svc, deps
}

func lockedSeat(eventID, seatTypeID, userID uuid.UUID, label string, expiresAt time.Time) *seatlock.Seat {
	now := time.Now()
	return &seatlock.Seat{
		ID:          uuid.New(),
		EventID:     eventID,
		SeatTypeID:  seatTypeID,
		SeatLabel:   label,
		Status:      seatlock.StatusLocked,
		OwnerUserID: &userID,
		LockedAt:    &now,
		ExpiresAt:   &expiresAt,
	}
}

func TestCreateBooking_RequiresSeats(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateBooking(context.Background(), uuid.New(), uuid.New(), nil)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeValidation, appErr.Code)
}

func TestCreateBooking_StaleWhenSeatMissing(t *testing.T) {
	svc, deps := newTestService(t)
	deps.mock.ExpectBegin()
	deps.mock.ExpectRollback()

	_, err := svc.CreateBooking(context.Background(), uuid.New(), uuid.New(),
		[]SeatRequest{{SeatLabel: "V1", SeatTypeID: uuid.New()}})
	require.ErrorIs(t, err, apperr.ErrStaleLocks)
}

func TestCreateBooking_StaleWhenOwnedByAnotherUser(t *testing.T) {
	svc, deps := newTestService(t)
	eventID, seatTypeID := uuid.New(), uuid.New()
	other := uuid.New()

	deps.seats.getByLabelFn = func(ctx context.Context, e, st uuid.UUID, label string) (*seatlock.Seat, error) {
		return lockedSeat(eventID, seatTypeID, other, label, time.Now().Add(time.Minute)), nil
	}
	deps.mock.ExpectBegin()
	deps.mock.ExpectRollback()

	_, err := svc.CreateBooking(context.Background(), eventID, uuid.New(),
		[]SeatRequest{{SeatLabel: "V1", SeatTypeID: seatTypeID}})
	require.ErrorIs(t, err, apperr.ErrStaleLocks)
}

func TestCreateBooking_StaleWhenLockExpired(t *testing.T) {
	svc, deps := newTestService(t)
	eventID, seatTypeID, userID := uuid.New(), uuid.New(), uuid.New()

	deps.seats.getByLabelFn = func(ctx context.Context, e, st uuid.UUID, label string) (*seatlock.Seat, error) {
		return lockedSeat(eventID, seatTypeID, userID, label, time.Now().Add(-time.Second)), nil
	}
	deps.mock.ExpectBegin()
	deps.mock.ExpectRollback()

	_, err := svc.CreateBooking(context.Background(), eventID, userID,
		[]SeatRequest{{SeatLabel: "V1", SeatTypeID: seatTypeID}})
	require.ErrorIs(t, err, apperr.ErrStaleLocks)
}

func TestCreateBooking_ConflictWhenSeatAlreadyLinked(t *testing.T) {
	svc, deps := newTestService(t)
	eventID, seatTypeID, userID := uuid.New(), uuid.New(), uuid.New()

	seat := lockedSeat(eventID, seatTypeID, userID, "V1", time.Now().Add(time.Minute))
	deps.seats.getByLabelFn = func(ctx context.Context, e, st uuid.UUID, label string) (*seatlock.Seat, error) {
		return seat, nil
	}
	deps.seats.getForUpdateFn = func(tx *gorm.DB, seatID uuid.UUID) (*seatlock.Seat, error) {
		return seat, nil
	}
	deps.repo.insertSeatsFn = func(tx *gorm.DB, seats []BookingSeat) (int64, error) {
		return 0, nil // ON CONFLICT DO NOTHING swallowed every row
	}
	deps.mock.ExpectBegin()
	deps.mock.ExpectRollback()

	_, err := svc.CreateBooking(context.Background(), eventID, userID,
		[]SeatRequest{{SeatLabel: "V1", SeatTypeID: seatTypeID}})
	require.ErrorIs(t, err, apperr.ErrAlreadyBooked)
}

func TestCreateBooking_Success(t *testing.T) {
	svc, deps := newTestService(t)
	eventID, seatTypeID, userID := uuid.New(), uuid.New(), uuid.New()

	seats := map[string]*seatlock.Seat{
		"V1": lockedSeat(eventID, seatTypeID, userID, "V1", time.Now().Add(time.Minute)),
		"V2": lockedSeat(eventID, seatTypeID, userID, "V2", time.Now().Add(time.Minute)),
	}
	deps.seats.getByLabelFn = func(ctx context.Context, e, st uuid.UUID, label string) (*seatlock.Seat, error) {
		return seats[label], nil
	}
	deps.seats.getForUpdateFn = func(tx *gorm.DB, seatID uuid.UUID) (*seatlock.Seat, error) {
		for _, s := range seats {
			if s.ID == seatID {
				return s, nil
			}
		}
		return nil, nil
	}
	deps.catalogRepo.getSeatTypeFn = func(ctx context.Context, st uuid.UUID) (*catalog.SeatType, error) {
		return &catalog.SeatType{ID: st, Price: 500, Quantity: 100}, nil
	}

	var linked []BookingSeat
	deps.repo.insertSeatsFn = func(tx *gorm.DB, rows []BookingSeat) (int64, error) {
		linked = rows
		return int64(len(rows)), nil
	}

	deps.mock.ExpectBegin()
	deps.mock.ExpectCommit()

	before := time.Now()
	b, err := svc.CreateBooking(context.Background(), eventID, userID,
		[]SeatRequest{{SeatLabel: "V1", SeatTypeID: seatTypeID}, {SeatLabel: "V2", SeatTypeID: seatTypeID}})
	require.NoError(t, err)

	require.Equal(t, StatusPending, b.Status)
	require.Equal(t, PaymentStatusPending, b.PaymentStatus)
	require.InDelta(t, 1000.0, b.TotalAmount, 0.001)
	require.Regexp(t, `^BKG-\d{4}-\d{4}-\d{6}-[0-9A-F]{4}$`, b.Reference)
	require.WithinDuration(t, before.Add(15*time.Minute), b.ExpiresAt, 5*time.Second)
	require.Len(t, linked, 2)
	for _, bs := range linked {
		require.InDelta(t, 500.0, bs.PricePaid, 0.001)
	}
	require.Equal(t, 1, deps.publisher.created)
}

func TestCreateBooking_RetriesReferenceCollision(t *testing.T) {
	svc, deps := newTestService(t)
	eventID, seatTypeID, userID := uuid.New(), uuid.New(), uuid.New()

	seat := lockedSeat(eventID, seatTypeID, userID, "V1", time.Now().Add(time.Minute))
	deps.seats.getByLabelFn = func(ctx context.Context, e, st uuid.UUID, label string) (*seatlock.Seat, error) {
		return seat, nil
	}
	deps.seats.getForUpdateFn = func(tx *gorm.DB, seatID uuid.UUID) (*seatlock.Seat, error) {
		return seat, nil
	}

	attempts := 0
	deps.repo.insertFn = func(tx *gorm.DB, b *Booking) (bool, error) {
		attempts++
		if attempts == 1 {
			return false, nil // reference collided, ON CONFLICT DO NOTHING
		}
		b.ID = uuid.New()
		return true, nil
	}

	deps.mock.ExpectBegin()
	deps.mock.ExpectCommit()

	b, err := svc.CreateBooking(context.Background(), eventID, userID,
		[]SeatRequest{{SeatLabel: "V1", SeatTypeID: seatTypeID}})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.NotEmpty(t, b.Reference)
}

func TestConfirmBooking_IdempotentOnRedelivery(t *testing.T) {
	svc, deps := newTestService(t)
	bookingID := uuid.New()
	confirmedAt := time.Now()

	deps.repo.getForUpdateFn = func(tx *gorm.DB, id uuid.UUID) (*Booking, error) {
		return &Booking{
			ID:            bookingID,
			Status:        StatusConfirmed,
			PaymentStatus: PaymentStatusCompleted,
			PaymentID:     "pay_X",
			ConfirmedAt:   &confirmedAt,
		}, nil
	}
	deps.mock.ExpectBegin()
	deps.mock.ExpectCommit()

	b, err := svc.ConfirmBooking(context.Background(), bookingID, "pay_X", "razorpay")
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, b.Status)
	require.Empty(t, deps.dispatcher.dispatched, "redelivery must not enqueue new ticket jobs")
	require.Zero(t, deps.publisher.confirmed)
}

func TestConfirmBooking_RejectsExpired(t *testing.T) {
	svc, deps := newTestService(t)

	deps.repo.getForUpdateFn = func(tx *gorm.DB, id uuid.UUID) (*Booking, error) {
		return &Booking{ID: id, Status: StatusPending, PaymentStatus: PaymentStatusPending,
			ExpiresAt: time.Now().Add(-time.Minute)}, nil
	}
	deps.mock.ExpectBegin()
	deps.mock.ExpectRollback()

	_, err := svc.ConfirmBooking(context.Background(), uuid.New(), "pay_X", "razorpay")
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeStale, appErr.Code)
}

func TestConfirmBooking_ConflictWhenCancelled(t *testing.T) {
	svc, deps := newTestService(t)

	deps.repo.getForUpdateFn = func(tx *gorm.DB, id uuid.UUID) (*Booking, error) {
		return &Booking{ID: id, Status: StatusCancelled, PaymentStatus: PaymentStatusRefunded,
			ExpiresAt: time.Now().Add(time.Minute)}, nil
	}
	deps.mock.ExpectBegin()
	deps.mock.ExpectRollback()

	_, err := svc.ConfirmBooking(context.Background(), uuid.New(), "pay_X", "razorpay")
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeConflict, appErr.Code)
}

func TestConfirmBooking_StaleWhenSeatNoLongerLocked(t *testing.T) {
	svc, deps := newTestService(t)
	bookingID := uuid.New()
	seatID := uuid.New()

	deps.repo.getForUpdateFn = func(tx *gorm.DB, id uuid.UUID) (*Booking, error) {
		return &Booking{ID: id, Status: StatusPending, PaymentStatus: PaymentStatusPending,
			ExpiresAt: time.Now().Add(time.Minute)}, nil
	}
	deps.repo.listSeatsForBookingFn = func(ctx context.Context, id uuid.UUID) ([]BookingSeat, error) {
		return []BookingSeat{{BookingID: id, SeatID: seatID}}, nil
	}
	deps.seats.getForUpdateFn = func(tx *gorm.DB, id uuid.UUID) (*seatlock.Seat, error) {
		return nil, nil // reclaimed by the sweeper mid-flight
	}
	deps.mock.ExpectBegin()
	deps.mock.ExpectRollback()

	_, err := svc.ConfirmBooking(context.Background(), bookingID, "pay_X", "razorpay")
	require.ErrorIs(t, err, apperr.ErrStaleLocks)
}

func TestConfirmBooking_FailsWhenGuardLosesRace(t *testing.T) {
	svc, deps := newTestService(t)

	deps.repo.getForUpdateFn = func(tx *gorm.DB, id uuid.UUID) (*Booking, error) {
		return &Booking{ID: id, Status: StatusPending, PaymentStatus: PaymentStatusPending,
			ExpiresAt: time.Now().Add(time.Minute)}, nil
	}
	deps.repo.confirmIfPendingFn = func(tx *gorm.DB, id uuid.UUID, paymentID, gateway string, confirmedAt time.Time) (bool, error) {
		return false, nil
	}
	deps.mock.ExpectBegin()
	deps.mock.ExpectRollback()

	_, err := svc.ConfirmBooking(context.Background(), uuid.New(), "pay_X", "razorpay")
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeConflict, appErr.Code)
}

func TestConfirmBooking_Success(t *testing.T) {
	svc, deps := newTestService(t)
	bookingID, eventID, userID, seatTypeID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	seat := lockedSeat(eventID, seatTypeID, userID, "V1", time.Now().Add(time.Minute))

	deps.repo.getForUpdateFn = func(tx *gorm.DB, id uuid.UUID) (*Booking, error) {
		return &Booking{ID: bookingID, EventID: eventID, UserID: userID,
			Status: StatusPending, PaymentStatus: PaymentStatusPending,
			ExpiresAt: time.Now().Add(time.Minute)}, nil
	}
	deps.repo.listSeatsForBookingFn = func(ctx context.Context, id uuid.UUID) ([]BookingSeat, error) {
		return []BookingSeat{{BookingID: bookingID, SeatID: seat.ID}}, nil
	}
	deps.seats.getForUpdateFn = func(tx *gorm.DB, id uuid.UUID) (*seatlock.Seat, error) {
		return seat, nil
	}

	var booked []uuid.UUID
	deps.seats.markBookedFn = func(tx *gorm.DB, seatID uuid.UUID, bookedAt time.Time) (bool, error) {
		booked = append(booked, seatID)
		return true, nil
	}
	deps.mock.ExpectBegin()
	deps.mock.ExpectCommit()

	b, err := svc.ConfirmBooking(context.Background(), bookingID, "pay_X", "razorpay")
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, b.Status)
	require.Equal(t, PaymentStatusCompleted, b.PaymentStatus)
	require.Equal(t, "pay_X", b.PaymentID)
	require.NotNil(t, b.ConfirmedAt)
	require.Equal(t, []uuid.UUID{seat.ID}, booked)
	require.Equal(t, []uuid.UUID{bookingID}, deps.dispatcher.dispatched)
	require.Equal(t, 1, deps.publisher.confirmed)
}

func TestCancelBooking_ReplaysCachedSnapshot(t *testing.T) {
	svc, deps := newTestService(t)
	bookingID, userID := uuid.New(), uuid.New()

	cancelled := Booking{ID: bookingID, UserID: userID, Status: StatusCancelled, PaymentStatus: PaymentStatusRefunded}
	snapshot, err := json.Marshal(&cancelled)
	require.NoError(t, err)

	deps.idem.beginFn = func(ctx context.Context, key, op, resourceID, uid string) (*idempotency.Outcome, error) {
		return &idempotency.Outcome{Proceed: false, CachedResponse: snapshot}, nil
	}

	// No transaction may run on a replay.
	b, err := svc.CancelBooking(context.Background(), bookingID, userID, "", "k1")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, b.Status)
	require.NoError(t, deps.mock.ExpectationsWereMet())
}

func TestCancelBooking_InFlightWhenRowHeld(t *testing.T) {
	svc, deps := newTestService(t)

	deps.repo.getForUpdateSkipLockedFn = func(tx *gorm.DB, id uuid.UUID) (*Booking, error) {
		return nil, nil // SKIP LOCKED found the row held elsewhere
	}
	deps.mock.ExpectBegin()
	deps.mock.ExpectRollback()

	_, err := svc.CancelBooking(context.Background(), uuid.New(), uuid.New(), "", "")
	require.ErrorIs(t, err, apperr.ErrInFlight)
}

func TestCancelBooking_RefusesConfirmed(t *testing.T) {
	svc, deps := newTestService(t)
	userID := uuid.New()

	deps.repo.getForUpdateSkipLockedFn = func(tx *gorm.DB, id uuid.UUID) (*Booking, error) {
		return &Booking{ID: id, UserID: userID, Status: StatusConfirmed, PaymentStatus: PaymentStatusCompleted}, nil
	}
	deps.mock.ExpectBegin()
	deps.mock.ExpectRollback()

	_, err := svc.CancelBooking(context.Background(), uuid.New(), userID, "", "")
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeConflict, appErr.Code)
}

func TestCancelBooking_TerminalIdempotentWhenAlreadyCancelled(t *testing.T) {
	svc, deps := newTestService(t)
	userID := uuid.New()

	deps.repo.getForUpdateSkipLockedFn = func(tx *gorm.DB, id uuid.UUID) (*Booking, error) {
		return &Booking{ID: id, UserID: userID, Status: StatusCancelled, PaymentStatus: PaymentStatusRefunded}, nil
	}
	deps.mock.ExpectBegin()
	deps.mock.ExpectCommit()

	b, err := svc.CancelBooking(context.Background(), uuid.New(), userID, "", "")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, b.Status)
	require.Zero(t, deps.avail.increments, "second cancel must not double-restore")
}

func TestCancelBooking_ReleasesSeatsAndRestoresAvailability(t *testing.T) {
	svc, deps := newTestService(t)
	bookingID, eventID, userID, seatTypeID := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	s1 := lockedSeat(eventID, seatTypeID, userID, "V1", time.Now().Add(time.Minute))
	s2 := lockedSeat(eventID, seatTypeID, userID, "V2", time.Now().Add(time.Minute))

	deps.repo.getForUpdateSkipLockedFn = func(tx *gorm.DB, id uuid.UUID) (*Booking, error) {
		return &Booking{ID: bookingID, EventID: eventID, UserID: userID,
			Status: StatusPending, PaymentStatus: PaymentStatusPending}, nil
	}
	deps.repo.listSeatsForBookingFn = func(ctx context.Context, id uuid.UUID) ([]BookingSeat, error) {
		return []BookingSeat{{SeatID: s1.ID}, {SeatID: s2.ID}}, nil
	}
	deps.seats.getForUpdateFn = func(tx *gorm.DB, id uuid.UUID) (*seatlock.Seat, error) {
		if id == s1.ID {
			return s1, nil
		}
		return s2, nil
	}

	var deleted []uuid.UUID
	deps.seats.deleteSeatFn = func(tx *gorm.DB, id uuid.UUID) error {
		deleted = append(deleted, id)
		return nil
	}
	var restored int
	deps.catalogRepo.restoreAvailabilityFn = func(tx *gorm.DB, st uuid.UUID, count int) error {
		restored += count
		return nil
	}
	var completedSnapshot []byte
	deps.idem.completeFn = func(ctx context.Context, key string, response []byte) error {
		completedSnapshot = response
		return nil
	}

	deps.mock.ExpectBegin()
	deps.mock.ExpectCommit()

	b, err := svc.CancelBooking(context.Background(), bookingID, userID, "changed my mind", "k1")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, b.Status)
	require.Equal(t, PaymentStatusRefunded, b.PaymentStatus)
	require.Len(t, deleted, 2)
	require.Equal(t, 2, restored)
	require.Equal(t, 2, deps.avail.increments)
	require.Equal(t, 1, deps.publisher.cancelled)
	require.NotEmpty(t, completedSnapshot)

	var stored Booking
	require.NoError(t, json.Unmarshal(completedSnapshot, &stored))
	require.Equal(t, StatusCancelled, stored.Status)
}

func TestExpirePending_CancelsOnlyLapsedBookings(t *testing.T) {
	svc, deps := newTestService(t)
	eventID, userID := uuid.New(), uuid.New()

	lapsed := Booking{ID: uuid.New(), EventID: eventID, UserID: userID,
		Status: StatusPending, ExpiresAt: time.Now().Add(-time.Minute)}
	racing := Booking{ID: uuid.New(), EventID: eventID, UserID: userID,
		Status: StatusConfirmed, ExpiresAt: time.Now().Add(-time.Minute)}

	deps.repo.listExpiredPendingFn = func(ctx context.Context, before time.Time, limit int) ([]Booking, error) {
		return []Booking{lapsed, racing}, nil
	}
	deps.repo.getForUpdateSkipLockedFn = func(tx *gorm.DB, id uuid.UUID) (*Booking, error) {
		if id == lapsed.ID {
			return &lapsed, nil
		}
		return &racing, nil // confirmed between listing and locking
	}

	var cancelled []uuid.UUID
	deps.repo.cancelFn = func(tx *gorm.DB, id uuid.UUID, reason string) error {
		cancelled = append(cancelled, id)
		return nil
	}

	deps.mock.ExpectBegin()
	deps.mock.ExpectCommit()
	deps.mock.ExpectBegin()
	deps.mock.ExpectCommit()

	n, err := svc.ExpirePending(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []uuid.UUID{lapsed.ID}, cancelled)
	require.Equal(t, 1, deps.publisher.cancelled)
}
