package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"courtside/internal/models"
)

const slotColumns = `id, listing_id, date, start_time, end_time, capacity, booked_count, price, is_active, created_at, updated_at`

func scanSlot(row rowScanner) (*models.Slot, error) {
	var s models.Slot
	err := row.Scan(&s.ID, &s.ListingID, &s.Date, &s.StartTime, &s.EndTime, &s.Capacity,
		&s.BookedCount, &s.Price, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSlot inserts s with its key in canonical form. A duplicate
// (listing, date, start, end) is a validation failure.
func (db *DB) CreateSlot(ctx context.Context, s *models.Slot) error {
	key, err := s.Key().Canonical()
	if err != nil {
		return err
	}
	s.Date, s.StartTime, s.EndTime = key.Date, key.Start, key.End

	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		INSERT INTO slots (listing_id, date, start_time, end_time, capacity, booked_count, price, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		s.ListingID, s.Date, s.StartTime, s.EndTime, s.Capacity, s.Price, s.IsActive, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Invalid("start_time", "slot already exists for this listing and time")
		}
		return fmt.Errorf("insert slot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = id
	s.BookedCount = 0
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

func (db *DB) GetSlot(ctx context.Context, id int64) (*models.Slot, error) {
	s, err := scanSlot(db.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get slot %d: %w", id, err)
	}
	return s, nil
}

// FindSlot looks a slot up by exact key, active or not.
func (db *DB) FindSlot(ctx context.Context, key models.SlotKey) (*models.Slot, error) {
	return findSlot(ctx, db.DB, key)
}

func (db *DB) ListSlots(ctx context.Context, listingID int64) ([]models.Slot, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE listing_id = ? ORDER BY date, start_time, end_time`, listingID)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	out := make([]models.Slot, 0)
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpdateSlotPrice changes the per-hour rate. Existing bookings keep the
// price they were charged.
func (db *DB) UpdateSlotPrice(ctx context.Context, id int64, price float64) error {
	res, err := db.ExecContext(ctx,
		`UPDATE slots SET price = ?, updated_at = ? WHERE id = ?`, price, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update slot price: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrSlotNotFound
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findSlot(ctx context.Context, q queryRower, key models.SlotKey) (*models.Slot, error) {
	key, err := key.Canonical()
	if err != nil {
		return nil, err
	}
	s, err := scanSlot(q.QueryRowContext(ctx, `
		SELECT `+slotColumns+` FROM slots
		WHERE listing_id = ? AND date = ? AND start_time = ? AND end_time = ?`,
		key.ListingID, key.Date, key.Start, key.End))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find slot: %w", err)
	}
	return s, nil
}
