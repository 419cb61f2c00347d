package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"courtside/internal/models"
)

// Tx exposes the statements that must run together inside one write
// transaction: the occupancy recount, the guarded counter update and the
// booking insert.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) SlotByKey(ctx context.Context, key models.SlotKey) (*models.Slot, error) {
	return findSlot(ctx, t.tx, key)
}

func (t *Tx) SlotByID(ctx context.Context, id int64) (*models.Slot, error) {
	s, err := scanSlot(t.tx.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get slot %d: %w", id, err)
	}
	return s, nil
}

func (t *Tx) ListingByID(ctx context.Context, id int64) (*models.Listing, error) {
	l, err := scanListing(t.tx.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing %d: %w", id, err)
	}
	return l, nil
}

// CountActiveBookings recounts non-cancelled bookings against the slot.
func (t *Tx) CountActiveBookings(ctx context.Context, slotID int64) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE slot_id = ? AND status != ?`,
		slotID, models.BookingCancelled,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bookings: %w", err)
	}
	return n, nil
}

// SetOccupancy writes next only if booked_count still equals observed.
// Returns false when the guard missed.
func (t *Tx) SetOccupancy(ctx context.Context, slotID int64, observed, next int) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE slots SET booked_count = ?, updated_at = ? WHERE id = ? AND booked_count = ?`,
		next, time.Now().UTC(), slotID, observed)
	if err != nil {
		return false, fmt.Errorf("update occupancy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *Tx) InsertBooking(ctx context.Context, b *models.Booking) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO bookings (
			id, user_id, slot_id, listing_id, listing_kind, listing_name, location, category, specialization,
			date, start_time, end_time, price, status, reminder_at, reminder_sent, reminder_lock_until,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		b.ID, b.UserID, b.SlotID, b.ListingID, b.ListingKind, b.ListingName, b.Location, b.Category, b.Specialization,
		b.Date, b.StartTime, b.EndTime, b.Price, b.Status, b.ReminderTime.Unix(),
		b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (t *Tx) BookingByID(ctx context.Context, id string) (*models.Booking, error) {
	return getBooking(ctx, t.tx, id)
}

// MarkCancelled flips a confirmed booking to cancelled. Returns false if
// the booking was not confirmed.
func (t *Tx) MarkCancelled(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE bookings SET status = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.BookingCancelled, at.UTC(), at.UTC(), id, models.BookingConfirmed)
	if err != nil {
		return false, fmt.Errorf("cancel booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
