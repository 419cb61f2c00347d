package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"courtside/internal/models"
)

const listingColumns = `id, kind, owner_id, name, location, category, specialization, is_active, created_at, updated_at`

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(&l.ID, &l.Kind, &l.OwnerID, &l.Name, &l.Location, &l.Category,
		&l.Specialization, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateListing inserts l and fills in its id and timestamps.
func (db *DB) CreateListing(ctx context.Context, l *models.Listing) error {
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		INSERT INTO listings (kind, owner_id, name, location, category, specialization, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Kind, l.OwnerID, l.Name, l.Location, l.Category, l.Specialization, true, now, now)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = id
	l.IsActive = true
	l.CreatedAt = now
	l.UpdatedAt = now
	return nil
}

func (db *DB) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	l, err := scanListing(db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing %d: %w", id, err)
	}
	return l, nil
}

func (db *DB) ListListingsByOwner(ctx context.Context, ownerID int64) ([]models.Listing, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	out := make([]models.Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// SetListingActive toggles the listing and every slot in it. Returns the
// number of slots touched.
func (db *DB) SetListingActive(ctx context.Context, id int64, active bool) (int64, error) {
	var touched int64
	err := db.InTx(ctx, func(tx *Tx) error {
		now := time.Now().UTC()
		res, err := tx.tx.ExecContext(ctx,
			`UPDATE listings SET is_active = ?, updated_at = ? WHERE id = ?`, active, now, id)
		if err != nil {
			return fmt.Errorf("update listing: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrListingNotFound
		}

		res, err = tx.tx.ExecContext(ctx,
			`UPDATE slots SET is_active = ?, updated_at = ? WHERE listing_id = ?`, active, now, id)
		if err != nil {
			return fmt.Errorf("update slots: %w", err)
		}
		touched, err = res.RowsAffected()
		return err
	})
	return touched, err
}
