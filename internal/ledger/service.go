// Package ledger serves read-only views over committed bookings.
package ledger

import (
	"context"

	"courtside/internal/access"
	"courtside/internal/models"

	"github.com/rs/zerolog"
)

type Reader interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	ListBookingsByUser(ctx context.Context, userID int64) ([]models.Booking, error)
	ListBookingsByOwner(ctx context.Context, ownerID int64) ([]models.Booking, error)
	ListBookingsByListing(ctx context.Context, listingID int64) ([]models.Booking, error)
}

type Service struct {
	reader Reader
	access *access.Service
	logger zerolog.Logger
}

func NewService(reader Reader, acc *access.Service, logger zerolog.Logger) *Service {
	return &Service{
		reader: reader,
		access: acc,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// ForUser lists the caller's own bookings, cancelled ones included.
func (s *Service) ForUser(ctx context.Context, p access.Principal) ([]models.Booking, error) {
	if p.UserID <= 0 {
		return nil, models.Invalid("user_id", "is required")
	}
	return s.reader.ListBookingsByUser(ctx, p.UserID)
}

// ForOwner lists bookings made against listings held by ownerID. Zero means
// the caller. Only admins may look at another owner.
func (s *Service) ForOwner(ctx context.Context, p access.Principal, ownerID int64) ([]models.Booking, error) {
	if ownerID == 0 {
		ownerID = p.UserID
	}
	if !p.IsAdmin() && (p.Role != models.RoleOwner || ownerID != p.UserID) {
		return nil, &access.DeniedError{Reason: "owner ledger is restricted"}
	}
	return s.reader.ListBookingsByOwner(ctx, ownerID)
}

// ForTrainer lists bookings of a trainer listing.
func (s *Service) ForTrainer(ctx context.Context, p access.Principal, listingID int64) ([]models.Booking, error) {
	listing, err := s.reader.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Kind != models.ListingTrainer {
		return nil, models.Invalid("listing_id", "is not a trainer listing")
	}
	if err := s.access.CanManageListing(p, listing); err != nil {
		return nil, err
	}
	return s.reader.ListBookingsByListing(ctx, listingID)
}

// Get returns one booking if the caller booked it or owns its listing.
func (s *Service) Get(ctx context.Context, p access.Principal, id string) (*models.Booking, error) {
	b, err := s.reader.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	var ownerID int64
	if b.UserID != p.UserID && !p.IsAdmin() {
		listing, err := s.reader.GetListing(ctx, b.ListingID)
		if err != nil {
			return nil, err
		}
		ownerID = listing.OwnerID
	}
	if err := s.access.CanViewBooking(p, b, ownerID); err != nil {
		return nil, err
	}
	return b, nil
}
