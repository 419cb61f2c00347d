// Package access provides role checks for listing and booking operations.
package access

import (
	"context"
	"errors"
	"fmt"

	"courtside/internal/models"

	"github.com/rs/zerolog"
)

// Principal is the verified caller of an operation.
type Principal struct {
	UserID int64
	Role   models.Role
	Email  string
	Name   string
}

func (p Principal) IsAdmin() bool { return p.Role == models.RoleAdmin }

type principalKey struct{}

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Service implements the role checks.
type Service struct {
	logger zerolog.Logger
}

// NewService creates a new access control service.
func NewService(logger zerolog.Logger) *Service {
	return &Service{
		logger: logger.With().Str("component", "access").Logger(),
	}
}

// CanCreateListing allows owners and admins.
func (s *Service) CanCreateListing(p Principal) error {
	if p.Role == models.RoleOwner || p.IsAdmin() {
		return nil
	}
	return s.deny(p, "only owners can create listings")
}

// CanManageListing allows the listing owner and admins.
func (s *Service) CanManageListing(p Principal, l *models.Listing) error {
	if p.IsAdmin() || (p.Role == models.RoleOwner && l.OwnerID == p.UserID) {
		return nil
	}
	return s.deny(p, fmt.Sprintf("listing %d belongs to another owner", l.ID))
}

// CanViewBooking allows the booker, the owner of the booked listing and admins.
func (s *Service) CanViewBooking(p Principal, b *models.Booking, listingOwnerID int64) error {
	if p.IsAdmin() || b.UserID == p.UserID || listingOwnerID == p.UserID {
		return nil
	}
	return s.deny(p, "booking belongs to another user")
}

// CanCancelBooking allows the booker and admins.
func (s *Service) CanCancelBooking(p Principal, b *models.Booking) error {
	if p.IsAdmin() || b.UserID == p.UserID {
		return nil
	}
	return s.deny(p, "booking belongs to another user")
}

func (s *Service) deny(p Principal, reason string) error {
	s.logger.Debug().
		Int64("user_id", p.UserID).
		Str("role", string(p.Role)).
		Str("reason", reason).
		Msg("access denied")
	return &DeniedError{Reason: reason}
}

// DeniedError is returned when user access is denied. It matches
// models.ErrForbidden under errors.Is.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return "access denied: " + e.Reason
}

func (e *DeniedError) Is(target error) bool {
	return target == models.ErrForbidden
}

// IsAccessDenied checks if error is access denied.
func IsAccessDenied(err error) bool {
	var denied *DeniedError
	return errors.As(err, &denied)
}
