package catalog

import (
	"context"
	"testing"
	"time"

	"evently-core/internal/shared/apperr"

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

type fakeRepo struct {
	event     *Event
	seatType  *SeatType
	liveSeats int64
	inserted  *SeatType
	saved     *SeatType
	deleted   []uuid.UUID
}

func (f *fakeRepo) GetEvent(ctx context.Context, eventID uuid.UUID) (*Event, error) {
	if f.event == nil {
		return nil, apperr.ErrNotFound
	}
	return f.event, nil
}

func (f *fakeRepo) GetSeatType(ctx context.Context, seatTypeID uuid.UUID) (*SeatType, error) {
	if f.seatType == nil {
		return nil, apperr.ErrNotFound
	}
	return f.seatType, nil
}

func (f *fakeRepo) GetSeatTypeForUpdate(tx *gorm.DB, seatTypeID uuid.UUID) (*SeatType, error) {
	if f.seatType == nil {
		return nil, apperr.ErrNotFound
	}
	return f.seatType, nil
}

func (f *fakeRepo) ListSeatTypes(ctx context.Context, eventID uuid.UUID) ([]SeatType, error) {
	return nil, nil
}

func (f *fakeRepo) InsertSeatType(ctx context.Context, st *SeatType) error {
	st.ID = uuid.New()
	f.inserted = st
	return nil
}

func (f *fakeRepo) SaveSeatType(tx *gorm.DB, st *SeatType) error {
	f.saved = st
	return nil
}

func (f *fakeRepo) DeleteSeatType(tx *gorm.DB, seatTypeID uuid.UUID) error {
	f.deleted = append(f.deleted, seatTypeID)
	return nil
}

func (f *fakeRepo) CountLiveSeats(tx *gorm.DB, seatTypeID uuid.UUID) (int64, error) {
	return f.liveSeats, nil
}

func (f *fakeRepo) DecrementAvailability(tx *gorm.DB, seatTypeID uuid.UUID) (int, error) {
	return 0, nil
}

func (f *fakeRepo) RestoreAvailability(tx *gorm.DB, seatTypeID uuid.UUID, count int) error {
	return nil
}

type fakeSeatTypePublisher struct {
	created, updated, deleted int
}

func (f *fakeSeatTypePublisher) PublishSeatTypeCreated(ctx context.Context, eventID, seatTypeID uuid.UUID) {
	f.created++
}

func (f *fakeSeatTypePublisher) PublishSeatTypeUpdated(ctx context.Context, eventID, seatTypeID uuid.UUID) {
	f.updated++
}

func (f *fakeSeatTypePublisher) PublishSeatTypeDeleted(ctx context.Context, eventID, seatTypeID uuid.UUID) {
	f.deleted++
}

type fakeInvalidator struct {
	calls int
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, eventID uuid.UUID, seatTypeID *uuid.UUID) error {
	f.calls++
	return nil
}

func futureEvent(organizerID uuid.UUID) *Event {
	return &Event{ID: uuid.New(), Status: EventStatusPublished,
		StartDate: time.Now().Add(24 * time.Hour), OrganizerID: organizerID}
}

func TestIsOpenForBooking(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name  string
		event Event
		want  bool
	}{
		{"published future", Event{Status: EventStatusPublished, StartDate: now.Add(time.Hour)}, true},
		{"published past", Event{Status: EventStatusPublished, StartDate: now.Add(-time.Hour)}, false},
		{"draft", Event{Status: EventStatusDraft, StartDate: now.Add(time.Hour)}, false},
		{"cancelled", Event{Status: EventStatusCancelled, StartDate: now.Add(time.Hour)}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.event.IsOpenForBooking(now))
		})
	}
}

func TestCreateSeatType_RejectsForeignOrganizer(t *testing.T) {
	db, _ := newGormMock(t)
	repo := &fakeRepo{event: futureEvent(uuid.New())}
	svc := NewService(db, repo, &fakeInvalidator{}, &fakeSeatTypePublisher{})

	_, err := svc.CreateSeatType(context.Background(), repo.event.ID, uuid.New(), false,
		SeatTypeInput{Name: "VIP", Price: 500, Quantity: 100})
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeAuthRequired, appErr.Code)
}

func TestCreateSeatType_AdminBypassesOwnership(t *testing.T) {
	db, _ := newGormMock(t)
	repo := &fakeRepo{event: futureEvent(uuid.New())}
	publisher := &fakeSeatTypePublisher{}
	svc := NewService(db, repo, &fakeInvalidator{}, publisher)

	st, err := svc.CreateSeatType(context.Background(), repo.event.ID, uuid.New(), true,
		SeatTypeInput{Name: "VIP", Price: 500, Quantity: 100})
	require.NoError(t, err)
	require.Equal(t, 100, st.AvailableQuantity, "a fresh tier starts fully available")
	require.Equal(t, 1, publisher.created)
}

func TestUpdateSeatType_PreservesReservedCount(t *testing.T) {
	db, mock := newGormMock(t)
	organizerID := uuid.New()
	event := futureEvent(organizerID)
	repo := &fakeRepo{
		event: event,
		seatType: &SeatType{ID: uuid.New(), EventID: event.ID, Name: "VIP",
			Price: 500, Quantity: 100, AvailableQuantity: 80}, // 20 reserved
	}
	invalidator := &fakeInvalidator{}
	svc := NewService(db, repo, invalidator, &fakeSeatTypePublisher{})

	mock.ExpectBegin()
	mock.ExpectCommit()

	st, err := svc.UpdateSeatType(context.Background(), event.ID, repo.seatType.ID, organizerID, false,
		SeatTypeInput{Name: "VIP", Price: 600, Quantity: 50})
	require.NoError(t, err)
	require.Equal(t, 50, st.Quantity)
	require.Equal(t, 30, st.AvailableQuantity, "20 reserved seats stay reserved")
	require.Equal(t, 1, invalidator.calls)
}

func TestUpdateSeatType_RejectsQuantityBelowReserved(t *testing.T) {
	db, mock := newGormMock(t)
	organizerID := uuid.New()
	event := futureEvent(organizerID)
	repo := &fakeRepo{
		event: event,
		seatType: &SeatType{ID: uuid.New(), EventID: event.ID,
			Quantity: 100, AvailableQuantity: 80},
	}
	svc := NewService(db, repo, &fakeInvalidator{}, &fakeSeatTypePublisher{})

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.UpdateSeatType(context.Background(), event.ID, repo.seatType.ID, organizerID, false,
		SeatTypeInput{Name: "VIP", Price: 500, Quantity: 10})
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeConflict, appErr.Code)
}

func TestDeleteSeatType_RefusedWhileSeatsReserved(t *testing.T) {
	db, mock := newGormMock(t)
	organizerID := uuid.New()
	event := futureEvent(organizerID)
	repo := &fakeRepo{
		event:     event,
		seatType:  &SeatType{ID: uuid.New(), EventID: event.ID, Quantity: 100, AvailableQuantity: 99},
		liveSeats: 1,
	}
	svc := NewService(db, repo, &fakeInvalidator{}, &fakeSeatTypePublisher{})

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := svc.DeleteSeatType(context.Background(), event.ID, repo.seatType.ID, organizerID, false)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeConflict, appErr.Code)
	require.Empty(t, repo.deleted)
}

func TestDeleteSeatType_Succeeds(t *testing.T) {
	db, mock := newGormMock(t)
	organizerID := uuid.New()
	event := futureEvent(organizerID)
	repo := &fakeRepo{
		event:    event,
		seatType: &SeatType{ID: uuid.New(), EventID: event.ID, Quantity: 100, AvailableQuantity: 100},
	}
	publisher := &fakeSeatTypePublisher{}
	svc := NewService(db, repo, &fakeInvalidator{}, publisher)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := svc.DeleteSeatType(context.Background(), event.ID, repo.seatType.ID, organizerID, false)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{repo.seatType.ID}, repo.deleted)
	require.Equal(t, 1, publisher.deleted)
}
