package database

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"courtside/internal/config"
	"courtside/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedSlot(t *testing.T, db *DB, capacity int) (*models.Listing, *models.Slot) {
	t.Helper()
	ctx := context.Background()
	l := &models.Listing{Kind: models.ListingVenue, OwnerID: 7, Name: "Arena", Location: "Sukhumvit", Category: "Futsal"}
	require.NoError(t, db.CreateListing(ctx, l))

	s := &models.Slot{ListingID: l.ID, Date: "2025-12-12", StartTime: "16:00", EndTime: "17:00", Capacity: capacity, Price: 1600, IsActive: true}
	require.NoError(t, db.CreateSlot(ctx, s))
	return l, s
}

func insertBooking(t *testing.T, db *DB, l *models.Listing, s *models.Slot, id string, reminderAt time.Time) {
	t.Helper()
	now := time.Now().UTC()
	err := db.InTx(context.Background(), func(tx *Tx) error {
		n, err := tx.CountActiveBookings(context.Background(), s.ID)
		if err != nil {
			return err
		}
		ok, err := tx.SetOccupancy(context.Background(), s.ID, n, n+1)
		if err != nil {
			return err
		}
		require.True(t, ok)
		return tx.InsertBooking(context.Background(), &models.Booking{
			ID: id, UserID: 1, SlotID: s.ID, ListingID: l.ID, ListingKind: l.Kind, ListingName: l.Name,
			Location: l.Location, Date: s.Date, StartTime: s.StartTime, EndTime: s.EndTime, Price: s.Price,
			Status: models.BookingConfirmed, ReminderTime: reminderAt, CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)
}

func TestSlots(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	l, s := seedSlot(t, db, 1)

	t.Run("find by key", func(t *testing.T) {
		found, err := db.FindSlot(ctx, s.Key())
		require.NoError(t, err)
		assert.Equal(t, s.ID, found.ID)
		assert.Equal(t, 1, found.Capacity)
	})

	t.Run("missing key", func(t *testing.T) {
		key := s.Key()
		key.Start = "09:00"
		_, err := db.FindSlot(ctx, key)
		assert.ErrorIs(t, err, models.ErrSlotNotFound)
	})

	t.Run("duplicate is a validation error", func(t *testing.T) {
		dup := &models.Slot{ListingID: l.ID, Date: s.Date, StartTime: s.StartTime, EndTime: s.EndTime, Capacity: 1, IsActive: true}
		err := db.CreateSlot(ctx, dup)
		var vErr *models.ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("unpadded clock is the same slot", func(t *testing.T) {
		early := &models.Slot{ListingID: l.ID, Date: s.Date, StartTime: "9:00", EndTime: "9:30", Capacity: 1, IsActive: true}
		require.NoError(t, db.CreateSlot(ctx, early))
		assert.Equal(t, "09:00", early.StartTime)
		assert.Equal(t, "09:30", early.EndTime)

		dup := &models.Slot{ListingID: l.ID, Date: s.Date, StartTime: "9:00", EndTime: "09:30", Capacity: 1, IsActive: true}
		var vErr *models.ValidationError
		assert.ErrorAs(t, db.CreateSlot(ctx, dup), &vErr)

		found, err := db.FindSlot(ctx, models.SlotKey{ListingID: l.ID, Date: s.Date, Start: "9:00", End: "9:30"})
		require.NoError(t, err)
		assert.Equal(t, early.ID, found.ID)

		_, err = db.ExecContext(ctx, `DELETE FROM slots WHERE id = ?`, early.ID)
		require.NoError(t, err)
	})

	t.Run("list ordered", func(t *testing.T) {
		early := &models.Slot{ListingID: l.ID, Date: "2025-12-11", StartTime: "08:00", EndTime: "09:00", Capacity: 1, IsActive: true}
		require.NoError(t, db.CreateSlot(ctx, early))

		slots, err := db.ListSlots(ctx, l.ID)
		require.NoError(t, err)
		require.Len(t, slots, 2)
		assert.Equal(t, early.ID, slots[0].ID)
		assert.Equal(t, s.ID, slots[1].ID)
	})

	t.Run("set listing active toggles every slot", func(t *testing.T) {
		n, err := db.SetListingActive(ctx, l.ID, false)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		got, err := db.GetSlot(ctx, s.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)

		_, err = db.SetListingActive(ctx, 999, true)
		assert.ErrorIs(t, err, models.ErrListingNotFound)
	})
}

func TestTx_SetOccupancyGuard(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, s := seedSlot(t, db, 1)

	err := db.InTx(ctx, func(tx *Tx) error {
		ok, err := tx.SetOccupancy(ctx, s.ID, 5, 6)
		require.NoError(t, err)
		assert.False(t, ok, "stale observed value must miss")

		ok, err = tx.SetOccupancy(ctx, s.ID, 0, 1)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)

	got, err := db.GetSlot(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.BookedCount)
}

func TestTx_CapacityCheckConstraint(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, s := seedSlot(t, db, 1)

	err := db.InTx(ctx, func(tx *Tx) error {
		_, err := tx.SetOccupancy(ctx, s.ID, 0, 2)
		return err
	})
	assert.Error(t, err, "booked_count above capacity is rejected by the schema")
}

func TestReminderClaims(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	l, s := seedSlot(t, db, 20)

	now := time.Date(2025, 12, 12, 15, 0, 0, 0, time.UTC)
	insertBooking(t, db, l, s, "due", now)
	insertBooking(t, db, l, s, "later", now.Add(time.Minute))

	due, err := db.FindDueReminders(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].ID)
	assert.Equal(t, now, due[0].ReminderTime)

	ok, err := db.TryAcquireReminder(ctx, "due", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.TryAcquireReminder(ctx, "due", now, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	due, err = db.FindDueReminders(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "claimed bookings are hidden")

	require.NoError(t, db.ReleaseReminder(ctx, "due"))
	ok, err = db.TryAcquireReminder(ctx, "due", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, db.MarkReminderSent(ctx, "due"))
	require.NoError(t, db.MarkReminderSent(ctx, "due"))

	b, err := db.GetBooking(ctx, "due")
	require.NoError(t, err)
	assert.True(t, b.ReminderSent)

	pending, err := db.CountPendingReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	t.Run("expired claim can be taken over", func(t *testing.T) {
		ok, err := db.TryAcquireReminder(ctx, "later", now, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = db.TryAcquireReminder(ctx, "later", now.Add(2*time.Minute), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestCancelledBookingsNotCounted(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	l, s := seedSlot(t, db, 20)
	insertBooking(t, db, l, s, "a", time.Now())
	insertBooking(t, db, l, s, "b", time.Now())

	err := db.InTx(ctx, func(tx *Tx) error {
		ok, err := tx.MarkCancelled(ctx, "a", time.Now())
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.MarkCancelled(ctx, "a", time.Now())
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := tx.CountActiveBookings(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	})
	require.NoError(t, err)

	b, err := db.GetBooking(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, b.Status)
	assert.NotNil(t, b.CancelledAt)
}

func TestLedgerQueries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	l, s := seedSlot(t, db, 20)
	insertBooking(t, db, l, s, "x", time.Now())

	byUser, err := db.ListBookingsByUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, byUser, 1)

	byOwner, err := db.ListBookingsByOwner(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, byOwner, 1)

	byOther, err := db.ListBookingsByOwner(ctx, 8)
	require.NoError(t, err)
	assert.Empty(t, byOther)

	byListing, err := db.ListBookingsByListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, byListing, 1)

	_, err = db.GetBooking(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrBookingNotFound)
}

func TestUsersAndNotifications(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetUser(ctx, 42)
	assert.ErrorIs(t, err, models.ErrUserNotFound)

	require.NoError(t, db.UpsertUser(ctx, &models.User{ID: 42, Email: "a@example.com", Name: "A", Role: models.RoleUser}))
	require.NoError(t, db.SetTelegramChatID(ctx, 42, 9001))
	require.NoError(t, db.UpsertUser(ctx, &models.User{ID: 42, Email: "b@example.com", Name: "B", Role: models.RoleOwner}))

	u, err := db.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", u.Email)
	assert.Equal(t, models.RoleOwner, u.Role)
	assert.Equal(t, int64(9001), u.TelegramChatID)

	n, err := db.CreateNotification(ctx, 42, "Reminder", "soon")
	require.NoError(t, err)

	list, err := db.ListNotifications(ctx, 42, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].IsRead)

	ok, err := db.MarkNotificationRead(ctx, 43, n.ID)
	require.NoError(t, err)
	assert.False(t, ok, "other users cannot mark it")

	ok, err = db.MarkNotificationRead(ctx, 42, n.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBackupService(t *testing.T) {
	db := newTestDB(t)
	seedSlot(t, db, 1)
	logger := zerolog.New(io.Discard)
	dir := filepath.Join(t.TempDir(), "backups")

	svc := NewBackupService(db, config.BackupConfig{Enabled: true, Schedule: "@daily", StoragePath: dir, RetentionDays: 1}, &logger)

	path, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)

	old := filepath.Join(dir, "backup_old.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	past := time.Now().AddDate(0, 0, -3)
	require.NoError(t, os.Chtimes(old, past, past))

	assert.Equal(t, 1, svc.CleanupOldBackups())
	assert.NoFileExists(t, old)
	assert.FileExists(t, path)

	t.Run("bad schedule", func(t *testing.T) {
		bad := NewBackupService(db, config.BackupConfig{Enabled: true, Schedule: "every now and then", StoragePath: dir}, &logger)
		assert.Error(t, bad.Start(context.Background()))
	})
}
