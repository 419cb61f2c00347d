package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"courtside/internal/models"
)

const bookingColumns = `b.id, b.user_id, b.slot_id, b.listing_id, b.listing_kind, b.listing_name, b.location,
	b.category, b.specialization, b.date, b.start_time, b.end_time, b.price, b.status,
	b.reminder_at, b.reminder_sent, b.created_at, b.updated_at, b.cancelled_at`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b           models.Booking
		reminderAt  int64
		cancelledAt sql.NullTime
	)
	err := row.Scan(&b.ID, &b.UserID, &b.SlotID, &b.ListingID, &b.ListingKind, &b.ListingName, &b.Location,
		&b.Category, &b.Specialization, &b.Date, &b.StartTime, &b.EndTime, &b.Price, &b.Status,
		&reminderAt, &b.ReminderSent, &b.CreatedAt, &b.UpdatedAt, &cancelledAt)
	if err != nil {
		return nil, err
	}
	b.ReminderTime = time.Unix(reminderAt, 0).UTC()
	if cancelledAt.Valid {
		t := cancelledAt.Time
		b.CancelledAt = &t
	}
	return &b, nil
}

func getBooking(ctx context.Context, q queryRower, id string) (*models.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings b WHERE b.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return b, nil
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...any) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	out := make([]models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return getBooking(ctx, db.DB, id)
}

func (db *DB) ListBookingsByUser(ctx context.Context, userID int64) ([]models.Booking, error) {
	return db.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings b
		WHERE b.user_id = ?
		ORDER BY b.date, b.start_time, b.created_at`, userID)
}

// ListBookingsByOwner returns bookings against any listing the owner holds.
func (db *DB) ListBookingsByOwner(ctx context.Context, ownerID int64) ([]models.Booking, error) {
	return db.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings b
		JOIN listings l ON l.id = b.listing_id
		WHERE l.owner_id = ?
		ORDER BY b.date, b.start_time, b.created_at`, ownerID)
}

func (db *DB) ListBookingsByListing(ctx context.Context, listingID int64) ([]models.Booking, error) {
	return db.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings b
		WHERE b.listing_id = ?
		ORDER BY b.date, b.start_time, b.created_at`, listingID)
}

// FindDueReminders returns confirmed bookings whose reminder time has
// passed, that were not reminded yet and are not claimed by a worker.
func (db *DB) FindDueReminders(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	return db.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings b
		WHERE b.status = ? AND b.reminder_sent = 0 AND b.reminder_at <= ? AND b.reminder_lock_until <= ?
		ORDER BY b.reminder_at
		LIMIT ?`,
		models.BookingConfirmed, now.Unix(), now.Unix(), limit)
}

// TryAcquireReminder claims the booking for lease. Only one worker wins
// until the lease expires or the claim is released.
func (db *DB) TryAcquireReminder(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings SET reminder_lock_until = ?
		WHERE id = ? AND status = ? AND reminder_sent = 0 AND reminder_lock_until <= ?`,
		now.Add(lease).Unix(), id, models.BookingConfirmed, now.Unix())
	if err != nil {
		return false, fmt.Errorf("acquire reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (db *DB) ReleaseReminder(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE bookings SET reminder_lock_until = 0 WHERE id = ? AND reminder_sent = 0`, id)
	if err != nil {
		return fmt.Errorf("release reminder: %w", err)
	}
	return nil
}

// MarkReminderSent flips reminder_sent once. A second call is a no-op.
func (db *DB) MarkReminderSent(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE bookings SET reminder_sent = 1, reminder_lock_until = 0, updated_at = ?
		WHERE id = ? AND reminder_sent = 0`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

// CountPendingReminders counts confirmed bookings still waiting for a reminder.
func (db *DB) CountPendingReminders(ctx context.Context) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE status = ? AND reminder_sent = 0`,
		models.BookingConfirmed).Scan(&n)
	return n, err
}
