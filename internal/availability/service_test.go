package availability

import (
	"context"
	"testing"
	"time"

	"evently-core/internal/catalog"
	"evently-core/internal/shared/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeCache implements cache.Service with an in-memory map; GetOrSet
// mirrors the real cache-aside semantics closely enough to observe
// populate-on-miss behavior.
type fakeCache struct {
	values  map[string]int
	fetches int
	deleted []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]int)}
}

func (f *fakeCache) Get(ctx context.Context, key string, dest interface{}) error {
	v, ok := f.values[key]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	*dest.(*int) = v
	return nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.values[key] = value.(int)
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.values, key)
	return nil
}

func (f *fakeCache) DeletePattern(ctx context.Context, pattern string) error {
	f.deleted = append(f.deleted, pattern)
	return nil
}

func (f *fakeCache) Exists(ctx context.Context, key string) bool {
	_, ok := f.values[key]
	return ok
}

func (f *fakeCache) MGet(ctx context.Context, keys []string, dest interface{}) error { return nil }

func (f *fakeCache) MSet(ctx context.Context, items map[string]interface{}, ttl time.Duration) error {
	return nil
}

func (f *fakeCache) GetOrSet(ctx context.Context, key string, ttl time.Duration, fetcher func() (interface{}, error), dest interface{}) error {
	if v, ok := f.values[key]; ok {
		*dest.(*int) = v
		return nil
	}
	f.fetches++
	fetched, err := fetcher()
	if err != nil {
		return err
	}
	f.values[key] = fetched.(int)
	*dest.(*int) = fetched.(int)
	return nil
}

func (f *fakeCache) Ping(ctx context.Context) error { return nil }

type fakeCatalogRepo struct {
	seatType *catalog.SeatType
	reads    int
}

func (f *fakeCatalogRepo) GetEvent(ctx context.Context, eventID uuid.UUID) (*catalog.Event, error) {
	return nil, apperr.ErrNotFound
}

func (f *fakeCatalogRepo) GetSeatType(ctx context.Context, seatTypeID uuid.UUID) (*catalog.SeatType, error) {
	f.reads++
	if f.seatType == nil {
		return nil, apperr.ErrNotFound
	}
	return f.seatType, nil
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
	return nil
}

func TestGet_PopulatesOnMissThenServesFromCache(t *testing.T) {
	eventID, seatTypeID := uuid.New(), uuid.New()
	cacheFake := newFakeCache()
	catalogFake := &fakeCatalogRepo{seatType: &catalog.SeatType{
		ID: seatTypeID, EventID: eventID, Quantity: 100, AvailableQuantity: 73}}
	svc := NewService(cacheFake, nil, catalogFake)

	v, err := svc.Get(context.Background(), eventID, seatTypeID)
	require.NoError(t, err)
	require.Equal(t, 73, v)
	require.Equal(t, 1, catalogFake.reads)

	v, err = svc.Get(context.Background(), eventID, seatTypeID)
	require.NoError(t, err)
	require.Equal(t, 73, v)
	require.Equal(t, 1, catalogFake.reads, "warm cache must not touch the relational store")
}

func TestGet_PropagatesMissingSeatType(t *testing.T) {
	svc := NewService(newFakeCache(), nil, &fakeCatalogRepo{})

	_, err := svc.Get(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
}

func TestInvalidate_NarrowRemovesOneKey(t *testing.T) {
	eventID, seatTypeID := uuid.New(), uuid.New()
	cacheFake := newFakeCache()
	svc := NewService(cacheFake, nil, &fakeCatalogRepo{})

	require.NoError(t, svc.Invalidate(context.Background(), eventID, &seatTypeID))
	require.Equal(t, []string{key(eventID, seatTypeID)}, cacheFake.deleted)
}

func TestInvalidate_BroadRemovesEventPattern(t *testing.T) {
	eventID := uuid.New()
	cacheFake := newFakeCache()
	svc := NewService(cacheFake, nil, &fakeCatalogRepo{})

	require.NoError(t, svc.Invalidate(context.Background(), eventID, nil))
	require.Len(t, cacheFake.deleted, 1)
	require.Contains(t, cacheFake.deleted[0], eventID.String())
	require.Contains(t, cacheFake.deleted[0], "*")
}

func TestKeyLayout(t *testing.T) {
	eventID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	seatTypeID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	require.Equal(t,
		"avail:11111111-1111-1111-1111-111111111111:22222222-2222-2222-2222-222222222222",
		key(eventID, seatTypeID))
}
