package tickets

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"evently-core/internal/booking"
	"evently-core/internal/catalog"
	"evently-core/internal/seatlock"
	"evently-core/pkg/logger"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newGormMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB, PreferSimpleProtocol: true}), &gorm.Config{})
	require.NoError(t, err)
	return gdb, mock
}

type fakeTicketRepo struct {
	upserted      []Ticket
	upsertErr     error
	listByBooking func(ctx context.Context, bookingID uuid.UUID) ([]Ticket, error)
	emailMarked   int
	smsMarked     int
	contactEmail  string
	contactPhone  *string
}

func (f *fakeTicketRepo) UpsertGenerated(tx *gorm.DB, row Ticket) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, row)
	return nil
}

func (f *fakeTicketRepo) MarkEmailSent(ctx context.Context, bookingID uuid.UUID) error {
	f.emailMarked++
	return nil
}

func (f *fakeTicketRepo) MarkSMSSent(ctx context.Context, bookingID uuid.UUID) error {
	f.smsMarked++
	return nil
}

func (f *fakeTicketRepo) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]Ticket, error) {
	if f.listByBooking != nil {
		return f.listByBooking(ctx, bookingID)
	}
	return nil, nil
}

func (f *fakeTicketRepo) GetUserContact(ctx context.Context, userID uuid.UUID) (string, *string, error) {
	return f.contactEmail, f.contactPhone, nil
}

type fakeBookingRepo struct {
	booking *booking.Booking
	seats   []booking.BookingSeat
}

func (f *fakeBookingRepo) Insert(tx *gorm.DB, b *booking.Booking) (bool, error) { return true, nil }

func (f *fakeBookingRepo) InsertSeats(tx *gorm.DB, seats []booking.BookingSeat) (int64, error) {
	return 0, nil
}

func (f *fakeBookingRepo) GetByID(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	return f.booking, nil
}

func (f *fakeBookingRepo) GetByPaymentID(ctx context.Context, paymentID string) (*booking.Booking, error) {
	return nil, nil
}

func (f *fakeBookingRepo) SetPaymentOrderID(ctx context.Context, id uuid.UUID, orderID string) error {
	return nil
}

func (f *fakeBookingRepo) GetForUpdate(tx *gorm.DB, id uuid.UUID) (*booking.Booking, error) {
	return nil, nil
}

func (f *fakeBookingRepo) GetForUpdateSkipLocked(tx *gorm.DB, id uuid.UUID) (*booking.Booking, error) {
	return nil, nil
}

func (f *fakeBookingRepo) ListByUser(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]booking.Booking, int64, error) {
	return nil, 0, nil
}

func (f *fakeBookingRepo) ListSeatsForBooking(ctx context.Context, bookingID uuid.UUID) ([]booking.BookingSeat, error) {
	return f.seats, nil
}

func (f *fakeBookingRepo) ListExpiredPending(ctx context.Context, before time.Time, limit int) ([]booking.Booking, error) {
	return nil, nil
}

func (f *fakeBookingRepo) ConfirmIfPending(tx *gorm.DB, id uuid.UUID, paymentID, gateway string, confirmedAt time.Time) (bool, error) {
	return true, nil
}

func (f *fakeBookingRepo) Cancel(tx *gorm.DB, id uuid.UUID, reason string) error { return nil }

func (f *fakeBookingRepo) MarkPaymentFailed(ctx context.Context, id uuid.UUID) error { return nil }

type fakeSeatRepo struct {
	seats map[uuid.UUID]*seatlock.Seat
}

func (f *fakeSeatRepo) TryInsertLocked(tx *gorm.DB, seat *seatlock.Seat) (bool, error) {
	return true, nil
}

func (f *fakeSeatRepo) DeleteSeat(tx *gorm.DB, seatID uuid.UUID) error { return nil }

func (f *fakeSeatRepo) GetByLabel(ctx context.Context, eventID, seatTypeID uuid.UUID, seatLabel string) (*seatlock.Seat, error) {
	return nil, nil
}

func (f *fakeSeatRepo) GetForUpdate(tx *gorm.DB, seatID uuid.UUID) (*seatlock.Seat, error) {
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
	return f.seats, nil
}

func (f *fakeSeatRepo) ListExpiredLocked(ctx context.Context, before time.Time, limit int) ([]seatlock.Seat, error) {
	return nil, nil
}

func (f *fakeSeatRepo) MarkBooked(tx *gorm.DB, seatID uuid.UUID, bookedAt time.Time) (bool, error) {
	return true, nil
}

type fakeCatalogRepo struct{}

func (f *fakeCatalogRepo) GetEvent(ctx context.Context, eventID uuid.UUID) (*catalog.Event, error) {
	return nil, nil
}

func (f *fakeCatalogRepo) GetSeatType(ctx context.Context, seatTypeID uuid.UUID) (*catalog.SeatType, error) {
	return &catalog.SeatType{ID: seatTypeID, Name: "VIP", Price: 500}, nil
}

func (f *fakeCatalogRepo) GetSeatTypeForUpdate(tx *gorm.DB, seatTypeID uuid.UUID) (*catalog.SeatType, error) {
	return nil, nil
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
	return nil
}

type fakeProducer struct {
	dispatched []envelope
	err        error
}

func (f *fakeProducer) Dispatch(ctx context.Context, env envelope) error {
	if f.err != nil {
		return f.err
	}
	f.dispatched = append(f.dispatched, env)
	return nil
}

func (f *fakeProducer) Close() error                          { return nil }
func (f *fakeProducer) HealthCheck(ctx context.Context) error { return nil }

type fakeTicketsPublisher struct {
	readyBookings []uuid.UUID
	readyCounts   []int
}

func (f *fakeTicketsPublisher) PublishTicketsReady(ctx context.Context, bookingID uuid.UUID, ticketCount int) {
	f.readyBookings = append(f.readyBookings, bookingID)
	f.readyCounts = append(f.readyCounts, ticketCount)
}

func generateJob(ref string, seats ...SeatPayload) GenerateTicketsJob {
	return GenerateTicketsJob{
		JobID:      uuid.NewString(),
		BookingID:  uuid.New(),
		BookingRef: ref,
		EventID:    uuid.New(),
		Seats:      seats,
		User:       UserPayload{UserID: uuid.NewString(), Email: "u@example.com"},
	}
}

func TestHandleGenerateTickets_PersistsOneTicketPerSeat(t *testing.T) {
	db, mock := newGormMock(t)
	repo := &fakeTicketRepo{}
	publisher := &fakeTicketsPublisher{}
	svc := NewService(db, repo, &fakeBookingRepo{}, &fakeSeatRepo{}, &fakeCatalogRepo{},
		&fakeProducer{}, nil, nil, publisher, logger.New())

	job := generateJob("BKG-2025-0614-103000-ABCD",
		SeatPayload{SeatID: uuid.New(), SeatLabel: "V1", SeatTypeName: "VIP", PricePaid: 500},
		SeatPayload{SeatID: uuid.New(), SeatLabel: "V2", SeatTypeName: "VIP", PricePaid: 500},
	)

	mock.ExpectBegin()
	mock.ExpectCommit()

	svc.(*service).registry.setWaiting(job.JobID)
	err := svc.(*service).HandleGenerateTickets(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, repo.upserted, 2)
	require.Equal(t, "TKT-BKG-2025-0614-103000-ABCD-V1", repo.upserted[0].TicketID)
	require.Equal(t, "TKT-BKG-2025-0614-103000-ABCD-V2", repo.upserted[1].TicketID)
	for _, row := range repo.upserted {
		require.Equal(t, StatusGenerated, row.Status)
		require.Equal(t, job.BookingID, row.BookingID)
		require.NotNil(t, row.GeneratedAt)

		decoded, err := base64.StdEncoding.DecodeString(row.QRPayload)
		require.NoError(t, err)
		require.Contains(t, string(decoded), row.TicketID)
	}

	require.Equal(t, []uuid.UUID{job.BookingID}, publisher.readyBookings)
	require.Equal(t, []int{2}, publisher.readyCounts)

	status, found := svc.GetJobStatus(job.JobID)
	require.True(t, found)
	require.Equal(t, 100, status.ProgressPercent)
}

func TestHandleGenerateTickets_RollsBackWholeSetOnFailure(t *testing.T) {
	db, mock := newGormMock(t)
	repo := &fakeTicketRepo{upsertErr: errors.New("unique violation")}
	publisher := &fakeTicketsPublisher{}
	svc := NewService(db, repo, &fakeBookingRepo{}, &fakeSeatRepo{}, &fakeCatalogRepo{},
		&fakeProducer{}, nil, nil, publisher, logger.New())

	job := generateJob("BKG-2025-0614-103000-ABCD",
		SeatPayload{SeatID: uuid.New(), SeatLabel: "V1"})

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := svc.(*service).HandleGenerateTickets(context.Background(), job)
	require.Error(t, err)
	require.Empty(t, publisher.readyBookings, "a failed job must not announce tickets")
}

func TestDispatch_FallsBackToSynchronousGeneration(t *testing.T) {
	db, mock := newGormMock(t)
	repo := &fakeTicketRepo{contactEmail: "u@example.com"}
	seatID := uuid.New()
	b := &booking.Booking{ID: uuid.New(), Reference: "BKG-2025-0614-103000-ABCD",
		EventID: uuid.New(), UserID: uuid.New()}

	svc := NewService(db, repo,
		&fakeBookingRepo{booking: b, seats: []booking.BookingSeat{{BookingID: b.ID, SeatID: seatID, PricePaid: 500}}},
		&fakeSeatRepo{seats: map[uuid.UUID]*seatlock.Seat{
			seatID: {ID: seatID, SeatLabel: "V1", SeatTypeID: uuid.New(), Status: seatlock.StatusBooked},
		}},
		&fakeCatalogRepo{},
		&fakeProducer{err: errors.New("kafka: broker unreachable")},
		nil, nil, &fakeTicketsPublisher{}, logger.New())

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := svc.Dispatch(context.Background(), b.ID)
	require.NoError(t, err, "queue outage must fall back, not fail the confirmation")
	require.Len(t, repo.upserted, 1)
	require.Equal(t, "TKT-BKG-2025-0614-103000-ABCD-V1", repo.upserted[0].TicketID)
}

func TestDispatch_EnqueuesWhenQueueHealthy(t *testing.T) {
	db, _ := newGormMock(t)
	repo := &fakeTicketRepo{contactEmail: "u@example.com"}
	producer := &fakeProducer{}
	seatID := uuid.New()
	b := &booking.Booking{ID: uuid.New(), Reference: "BKG-2025-0614-103000-ABCD",
		EventID: uuid.New(), UserID: uuid.New()}

	svc := NewService(db, repo,
		&fakeBookingRepo{booking: b, seats: []booking.BookingSeat{{BookingID: b.ID, SeatID: seatID, PricePaid: 500}}},
		&fakeSeatRepo{seats: map[uuid.UUID]*seatlock.Seat{
			seatID: {ID: seatID, SeatLabel: "V1", SeatTypeID: uuid.New(), Status: seatlock.StatusBooked},
		}},
		&fakeCatalogRepo{}, producer, nil, nil, &fakeTicketsPublisher{}, logger.New())

	err := svc.Dispatch(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, producer.dispatched, 1)
	require.Equal(t, kindGenerateTickets, producer.dispatched[0].Kind)
	require.Equal(t, b.ID, producer.dispatched[0].Generate.BookingID)
	require.Empty(t, repo.upserted, "healthy queue path must not generate inline")

	status, found := svc.GetJobStatus(producer.dispatched[0].Generate.JobID)
	require.True(t, found)
	require.Equal(t, JobWaiting, status.State)
}

func TestAggregateStatus(t *testing.T) {
	cases := []struct {
		name string
		rows []Ticket
		want AggregateStatus
	}{
		{"no rows yet", nil, AggregatePending},
		{"all generated", []Ticket{{Status: StatusGenerated}, {Status: StatusGenerated}}, AggregateReady},
		{"delivery recorded", []Ticket{{Status: StatusGenerated}, {Status: StatusDelivered}}, AggregateReady},
		{"one failed", []Ticket{{Status: StatusGenerated}, {Status: StatusFailed}}, AggregatePartial},
		{"still generating", []Ticket{{Status: StatusGenerated}, {Status: StatusPending}}, AggregateGenerating},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, aggregateStatus(tc.rows))
		})
	}
}

func TestGetTickets_ReportsAggregate(t *testing.T) {
	db, _ := newGormMock(t)
	bookingID := uuid.New()
	repo := &fakeTicketRepo{
		listByBooking: func(ctx context.Context, id uuid.UUID) ([]Ticket, error) {
			return []Ticket{{BookingID: id, TicketID: "TKT-X-V1", Status: StatusGenerated}}, nil
		},
	}
	svc := NewService(db, repo, &fakeBookingRepo{}, &fakeSeatRepo{}, &fakeCatalogRepo{},
		&fakeProducer{}, nil, nil, &fakeTicketsPublisher{}, logger.New())

	rows, status, err := svc.GetTickets(context.Background(), bookingID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, AggregateReady, status)
}
