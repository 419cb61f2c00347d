package reservation

import (
	"context"
	"time"

	"courtside/internal/database"
	"courtside/internal/models"
)

// Tx is the transactional view the engine commits through.
type Tx interface {
	SlotByKey(ctx context.Context, key models.SlotKey) (*models.Slot, error)
	SlotByID(ctx context.Context, id int64) (*models.Slot, error)
	ListingByID(ctx context.Context, id int64) (*models.Listing, error)
	CountActiveBookings(ctx context.Context, slotID int64) (int, error)
	SetOccupancy(ctx context.Context, slotID int64, observed, next int) (bool, error)
	InsertBooking(ctx context.Context, b *models.Booking) error
	BookingByID(ctx context.Context, id string) (*models.Booking, error)
	MarkCancelled(ctx context.Context, id string, at time.Time) (bool, error)
}

// Store runs fn atomically. Any error from fn rolls everything back.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

type sqlStore struct {
	db *database.DB
}

// NewSQLStore adapts the SQLite database to Store.
func NewSQLStore(db *database.DB) Store {
	return sqlStore{db: db}
}

func (s sqlStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.InTx(ctx, func(tx *database.Tx) error {
		return fn(tx)
	})
}
