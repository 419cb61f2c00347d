package reservation

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"courtside/internal/access"
	"courtside/internal/database"
	"courtside/internal/events"
	"courtside/internal/lock"
	"courtside/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	alice = access.Principal{UserID: 10, Role: models.RoleUser}
	bob   = access.Principal{UserID: 11, Role: models.RoleUser}
	admin = access.Principal{UserID: 1, Role: models.RoleAdmin}
)

type fixture struct {
	db     *database.DB
	engine *Engine
	bus    *events.EventBus
}

func newFixture(t *testing.T, locker lock.Locker) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "engine.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := events.NewEventBus(&logger)
	cfg := DefaultConfig()
	cfg.Backoff = time.Millisecond
	engine := NewEngine(NewSQLStore(db), locker, access.NewService(logger), bus, cfg, logger)
	return &fixture{db: db, engine: engine, bus: bus}
}

func (f *fixture) slot(t *testing.T, category string, capacity int, date, start, end string, price float64) *models.Slot {
	t.Helper()
	ctx := context.Background()
	l := &models.Listing{Kind: models.ListingVenue, OwnerID: 2, Name: "Arena " + category, Location: "Bangkok", Category: category}
	require.NoError(t, f.db.CreateListing(ctx, l))
	s := &models.Slot{ListingID: l.ID, Date: date, StartTime: start, EndTime: end, Capacity: capacity, Price: price, IsActive: true}
	require.NoError(t, f.db.CreateSlot(ctx, s))
	return s
}

func (f *fixture) occupancy(t *testing.T, slotID int64) int {
	t.Helper()
	s, err := f.db.GetSlot(context.Background(), slotID)
	require.NoError(t, err)
	return s.BookedCount
}

func TestReserve_ExclusiveSlot(t *testing.T) {
	f := newFixture(t, lock.NewLocalLocker())
	s := f.slot(t, "Futsal", 1, "2025-12-12", "16:00", "17:00", 1600)

	var published []events.SlotEvent
	f.bus.Subscribe(events.BookingCreated, func(e events.Event) error {
		p, err := e.Decode()
		published = append(published, p)
		return err
	})

	b, err := f.engine.Reserve(context.Background(), alice, s.Key())
	require.NoError(t, err)
	assert.Equal(t, 1600.0, b.Price)
	assert.Equal(t, models.BookingConfirmed, b.Status)
	assert.False(t, b.ReminderSent)
	assert.Equal(t, time.Date(2025, 12, 12, 15, 0, 0, 0, time.UTC), b.ReminderTime)
	assert.Equal(t, "Arena Futsal", b.ListingName)
	assert.NotEmpty(t, b.ID)

	_, err = f.engine.Reserve(context.Background(), bob, s.Key())
	assert.ErrorIs(t, err, models.ErrSlotFull)
	assert.Equal(t, 1, f.occupancy(t, s.ID))

	require.Len(t, published, 1)
	assert.Equal(t, b.ID, published[0].BookingID)
}

func TestReserve_GroupSlotFillsToCapacity(t *testing.T) {
	f := newFixture(t, nil)
	s := f.slot(t, "Gym", 20, "2025-12-12", "10:00", "11:00", 100)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := f.engine.Reserve(ctx, access.Principal{UserID: int64(100 + i), Role: models.RoleUser}, s.Key())
		require.NoError(t, err)
	}

	_, err := f.engine.Reserve(ctx, alice, s.Key())
	require.NoError(t, err)
	assert.Equal(t, 11, f.occupancy(t, s.ID))

	for i := 12; i <= 20; i++ {
		_, err := f.engine.Reserve(ctx, access.Principal{UserID: int64(200 + i), Role: models.RoleUser}, s.Key())
		require.NoError(t, err)
	}
	assert.Equal(t, 20, f.occupancy(t, s.ID))

	_, err = f.engine.Reserve(ctx, bob, s.Key())
	assert.ErrorIs(t, err, models.ErrSlotFull)
	assert.Equal(t, 20, f.occupancy(t, s.ID))
}

func TestReserve_PriceFrozenAtCommit(t *testing.T) {
	f := newFixture(t, nil)
	s := f.slot(t, "Tennis", 1, "2025-12-12", "14:00", "16:00", 500)
	ctx := context.Background()

	b, err := f.engine.Reserve(ctx, alice, s.Key())
	require.NoError(t, err)
	assert.Equal(t, 1000.0, b.Price)

	require.NoError(t, f.db.UpdateSlotPrice(ctx, s.ID, 9999))

	stored, err := f.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, stored.Price)
}

func TestReserve_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	s := f.slot(t, "Futsal", 1, "2025-12-12", "16:00", "17:00", 100)
	ctx := context.Background()

	t.Run("no such slot", func(t *testing.T) {
		key := s.Key()
		key.End = "18:00"
		_, err := f.engine.Reserve(ctx, alice, key)
		assert.ErrorIs(t, err, models.ErrSlotNotFound)
	})

	t.Run("inactive listing", func(t *testing.T) {
		_, err := f.db.SetListingActive(ctx, s.ListingID, false)
		require.NoError(t, err)

		_, err = f.engine.Reserve(ctx, alice, s.Key())
		assert.ErrorIs(t, err, models.ErrSlotNotFound)
		assert.Zero(t, f.occupancy(t, s.ID))
	})

	t.Run("invalid key", func(t *testing.T) {
		key := s.Key()
		key.Start = "17:00"
		_, err := f.engine.Reserve(ctx, alice, key)
		assert.Equal(t, models.KindValidation, models.KindOf(err))
	})

	t.Run("anonymous caller", func(t *testing.T) {
		_, err := f.engine.Reserve(ctx, access.Principal{}, s.Key())
		assert.Equal(t, models.KindValidation, models.KindOf(err))
	})
}

func TestReserve_ReminderUsesServiceTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Bangkok")
	require.NoError(t, err)

	f := newFixture(t, nil)
	f.engine.cfg.Location = loc
	s := f.slot(t, "Futsal", 1, "2025-12-12", "16:00", "17:00", 100)

	b, err := f.engine.Reserve(context.Background(), alice, s.Key())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 12, 12, 8, 0, 0, 0, time.UTC), b.ReminderTime)
}

func TestReserve_UnpaddedClockHitsSameSlot(t *testing.T) {
	f := newFixture(t, lock.NewLocalLocker())
	s := f.slot(t, "Futsal", 1, "2025-12-12", "07:00", "08:00", 100)
	ctx := context.Background()

	alias := &models.Slot{ListingID: s.ListingID, Date: "2025-12-12", StartTime: "7:00", EndTime: "8:00", Capacity: 1, IsActive: true}
	err := f.db.CreateSlot(ctx, alias)
	assert.Equal(t, models.KindValidation, models.KindOf(err), "alias window must not become a second slot")

	b, err := f.engine.Reserve(ctx, alice, s.Key())
	require.NoError(t, err)
	assert.Equal(t, "07:00", b.StartTime)

	_, err = f.engine.Reserve(ctx, bob, models.SlotKey{ListingID: s.ListingID, Date: "2025-12-12", Start: "7:00", End: "8:00"})
	assert.ErrorIs(t, err, models.ErrSlotFull)
	assert.Equal(t, 1, f.occupancy(t, s.ID))
}

func TestReserve_PriceUsesWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	f := newFixture(t, nil)
	f.engine.cfg.Location = loc
	// 02:00 does not exist on this date; the booking still covers two hours of the rate card.
	s := f.slot(t, "Tennis", 1, "2025-03-09", "01:00", "03:00", 500)

	b, err := f.engine.Reserve(context.Background(), alice, s.Key())
	require.NoError(t, err)
	assert.Equal(t, 1000.0, b.Price)
	assert.Equal(t, time.Date(2025, 3, 9, 5, 0, 0, 0, time.UTC), b.ReminderTime)
}

func runConcurrent(t *testing.T, f *fixture, key models.SlotKey, n int) (successes int, rejected int) {
	t.Helper()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			<-start
			_, err := f.engine.Reserve(context.Background(), access.Principal{UserID: uid, Role: models.RoleUser}, key)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(int64(1000 + i))
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, models.ErrSlotFull), errors.Is(err, models.ErrConflict):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	return successes, rejected
}

func TestReserve_ConcurrentExclusive(t *testing.T) {
	for name, locker := range map[string]lock.Locker{"with lock": lock.NewLocalLocker(), "transaction only": nil} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, locker)
			s := f.slot(t, "Futsal", 1, "2025-12-12", "16:00", "17:00", 100)

			ok, rejected := runConcurrent(t, f, s.Key(), 10)
			assert.Equal(t, 1, ok)
			assert.Equal(t, 9, rejected)
			assert.Equal(t, 1, f.occupancy(t, s.ID))

			bookings, err := f.db.ListBookingsByListing(context.Background(), s.ListingID)
			require.NoError(t, err)
			assert.Len(t, bookings, 1)
		})
	}
}

func TestReserve_ConcurrentGroupNeverOverbooks(t *testing.T) {
	f := newFixture(t, lock.NewLocalLocker())
	s := f.slot(t, "Yoga", 3, "2025-12-12", "07:00", "08:00", 100)

	ok, _ := runConcurrent(t, f, s.Key(), 12)
	assert.Equal(t, 3, ok)
	assert.Equal(t, 3, f.occupancy(t, s.ID))
}

func TestCancel(t *testing.T) {
	f := newFixture(t, nil)
	s := f.slot(t, "Futsal", 1, "2025-12-12", "16:00", "17:00", 100)
	ctx := context.Background()

	b, err := f.engine.Reserve(ctx, alice, s.Key())
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, bob, b.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	cancelled, err := f.engine.Cancel(ctx, alice, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Zero(t, f.occupancy(t, s.ID))

	_, err = f.engine.Cancel(ctx, admin, b.ID)
	assert.ErrorIs(t, err, models.ErrAlreadyCancelled)

	_, err = f.engine.Cancel(ctx, alice, "missing")
	assert.ErrorIs(t, err, models.ErrBookingNotFound)

	// The freed place can be booked again.
	_, err = f.engine.Reserve(ctx, bob, s.Key())
	require.NoError(t, err)
	assert.Equal(t, 1, f.occupancy(t, s.ID))
}

type mockTx struct {
	mock.Mock
}

func (m *mockTx) SlotByKey(ctx context.Context, key models.SlotKey) (*models.Slot, error) {
	args := m.Called(ctx, key)
	s, _ := args.Get(0).(*models.Slot)
	return s, args.Error(1)
}

func (m *mockTx) SlotByID(ctx context.Context, id int64) (*models.Slot, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*models.Slot)
	return s, args.Error(1)
}

func (m *mockTx) ListingByID(ctx context.Context, id int64) (*models.Listing, error) {
	args := m.Called(ctx, id)
	l, _ := args.Get(0).(*models.Listing)
	return l, args.Error(1)
}

func (m *mockTx) CountActiveBookings(ctx context.Context, slotID int64) (int, error) {
	args := m.Called(ctx, slotID)
	return args.Int(0), args.Error(1)
}

func (m *mockTx) SetOccupancy(ctx context.Context, slotID int64, observed, next int) (bool, error) {
	args := m.Called(ctx, slotID, observed, next)
	return args.Bool(0), args.Error(1)
}

func (m *mockTx) InsertBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}

func (m *mockTx) BookingByID(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

func (m *mockTx) MarkCancelled(ctx context.Context, id string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, at)
	return args.Bool(0), args.Error(1)
}

type mockStore struct {
	tx    *mockTx
	calls int
}

func (s *mockStore) InTx(_ context.Context, fn func(Tx) error) error {
	s.calls++
	return fn(s.tx)
}

func TestReserve_GuardMissSurfacesConflict(t *testing.T) {
	tx := &mockTx{}
	slot := &models.Slot{ID: 5, ListingID: 2, Date: "2025-12-12", StartTime: "16:00", EndTime: "17:00", Capacity: 1, IsActive: true}
	tx.On("SlotByKey", mock.Anything, slot.Key()).Return(slot, nil)
	tx.On("ListingByID", mock.Anything, int64(2)).Return(&models.Listing{ID: 2, IsActive: true}, nil)
	tx.On("CountActiveBookings", mock.Anything, int64(5)).Return(0, nil)
	tx.On("SetOccupancy", mock.Anything, int64(5), 0, 1).Return(false, nil)

	store := &mockStore{tx: tx}
	cfg := DefaultConfig()
	cfg.Backoff = 0
	logger := zerolog.New(io.Discard)
	engine := NewEngine(store, nil, access.NewService(logger), nil, cfg, logger)

	_, err := engine.Reserve(context.Background(), alice, slot.Key())
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, models.KindConflict, models.KindOf(err))
	assert.Equal(t, cfg.MaxAttempts, store.calls)
	tx.AssertNotCalled(t, "InsertBooking", mock.Anything, mock.Anything)
}

func TestReserve_RetrySucceedsAfterGuardMiss(t *testing.T) {
	tx := &mockTx{}
	slot := &models.Slot{ID: 5, ListingID: 2, Date: "2025-12-12", StartTime: "16:00", EndTime: "17:00", Capacity: 2, Price: 100, IsActive: true}
	tx.On("SlotByKey", mock.Anything, slot.Key()).Return(slot, nil)
	tx.On("ListingByID", mock.Anything, int64(2)).Return(&models.Listing{ID: 2, Name: "Pool", IsActive: true}, nil)
	tx.On("CountActiveBookings", mock.Anything, int64(5)).Return(0, nil)
	tx.On("SetOccupancy", mock.Anything, int64(5), 0, 1).Return(false, nil).Once()
	tx.On("SetOccupancy", mock.Anything, int64(5), 0, 1).Return(true, nil).Once()
	tx.On("InsertBooking", mock.Anything, mock.AnythingOfType("*models.Booking")).Return(nil).Once()

	store := &mockStore{tx: tx}
	cfg := DefaultConfig()
	cfg.Backoff = 0
	logger := zerolog.New(io.Discard)
	engine := NewEngine(store, nil, access.NewService(logger), nil, cfg, logger)
	engine.newID = func() string { return "fixed-id" }

	b, err := engine.Reserve(context.Background(), alice, slot.Key())
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", b.ID)
	assert.Equal(t, 2, store.calls)
	tx.AssertExpectations(t)
}

func TestReserve_LockTimeoutIsConflict(t *testing.T) {
	locker := lock.NewLocalLocker()
	f := newFixture(t, locker)
	f.engine.cfg.LockTTL = 20 * time.Millisecond
	s := f.slot(t, "Futsal", 1, "2025-12-12", "16:00", "17:00", 100)

	release, err := locker.Acquire(context.Background(), slotLockKey(s.Key()), time.Minute)
	require.NoError(t, err)
	defer release()

	_, err = f.engine.Reserve(context.Background(), alice, s.Key())
	assert.ErrorIs(t, err, models.ErrConflict)
}
