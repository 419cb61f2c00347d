// Package registry stores bookable slots and the listings that group them.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"courtside/internal/access"
	"courtside/internal/events"
	"courtside/internal/models"

	"github.com/rs/zerolog"
)

// Store is the persistence the registry needs.
type Store interface {
	CreateListing(ctx context.Context, l *models.Listing) error
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	ListListingsByOwner(ctx context.Context, ownerID int64) ([]models.Listing, error)
	SetListingActive(ctx context.Context, id int64, active bool) (int64, error)
	CreateSlot(ctx context.Context, s *models.Slot) error
	GetSlot(ctx context.Context, id int64) (*models.Slot, error)
	FindSlot(ctx context.Context, key models.SlotKey) (*models.Slot, error)
	ListSlots(ctx context.Context, listingID int64) ([]models.Slot, error)
	UpdateSlotPrice(ctx context.Context, id int64, price float64) error
}

type Service struct {
	store  Store
	cache  SlotCache
	access *access.Service
	bus    events.Publisher
	logger zerolog.Logger
}

func NewService(store Store, cache SlotCache, acc *access.Service, bus events.Publisher, logger zerolog.Logger) *Service {
	if cache == nil {
		cache = NoopCache{}
	}
	return &Service{
		store:  store,
		cache:  cache,
		access: acc,
		bus:    bus,
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// Subscribe drops cached slot lists whenever occupancy changes.
func (s *Service) Subscribe(bus *events.EventBus) {
	invalidate := func(e events.Event) error {
		p, err := e.Decode()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.cache.Invalidate(ctx, p.ListingID)
		return nil
	}
	bus.Subscribe(events.BookingCreated, invalidate)
	bus.Subscribe(events.BookingCancelled, invalidate)
	bus.Subscribe(events.ListingChanged, invalidate)
}

type CreateListingInput struct {
	Kind           models.ListingKind `json:"kind"`
	Name           string             `json:"name"`
	Location       string             `json:"location"`
	Category       string             `json:"category"`
	Specialization string             `json:"specialization"`
	// OwnerID lets an admin create a listing on behalf of an owner.
	OwnerID int64 `json:"owner_id,omitempty"`
}

func (s *Service) CreateListing(ctx context.Context, p access.Principal, in CreateListingInput) (*models.Listing, error) {
	if err := s.access.CanCreateListing(p); err != nil {
		return nil, err
	}

	ownerID := p.UserID
	if p.IsAdmin() && in.OwnerID > 0 {
		ownerID = in.OwnerID
	}

	l := &models.Listing{
		Kind:           in.Kind,
		OwnerID:        ownerID,
		Name:           strings.TrimSpace(in.Name),
		Location:       strings.TrimSpace(in.Location),
		Category:       strings.TrimSpace(in.Category),
		Specialization: strings.TrimSpace(in.Specialization),
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateListing(ctx, l); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("listing_id", l.ID).
		Int64("owner_id", l.OwnerID).
		Str("kind", string(l.Kind)).
		Msg("listing created")
	return l, nil
}

func (s *Service) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	return s.store.GetListing(ctx, id)
}

// OwnerListings returns the listings held by ownerID, active or not. Zero
// means the caller; only admins may name someone else.
func (s *Service) OwnerListings(ctx context.Context, p access.Principal, ownerID int64) ([]models.Listing, error) {
	if ownerID == 0 {
		ownerID = p.UserID
	}
	if ownerID != p.UserID && !p.IsAdmin() {
		return nil, &access.DeniedError{Reason: "listings of another owner"}
	}
	return s.store.ListListingsByOwner(ctx, ownerID)
}

type CreateSlotInput struct {
	Date  string  `json:"date"`
	Start string  `json:"start_time"`
	End   string  `json:"end_time"`
	Price float64 `json:"price"`
	// CapacityHint overrides the classified capacity when positive.
	CapacityHint int `json:"capacity_hint,omitempty"`
}

func (s *Service) CreateSlot(ctx context.Context, p access.Principal, listingID int64, in CreateSlotInput) (*models.Slot, error) {
	key, err := models.SlotKey{ListingID: listingID, Date: in.Date, Start: in.Start, End: in.End}.Canonical()
	if err != nil {
		return nil, err
	}
	if in.Price < 0 {
		return nil, models.Invalid("price", "must not be negative")
	}
	if in.CapacityHint < 0 {
		return nil, models.Invalid("capacity_hint", "must not be negative")
	}

	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanManageListing(p, listing); err != nil {
		return nil, err
	}

	capacity := in.CapacityHint
	if capacity == 0 {
		capacity = ClassifyCapacity(listing.CapacityLabel())
	}

	slot := &models.Slot{
		ListingID: listingID,
		Date:      key.Date,
		StartTime: key.Start,
		EndTime:   key.End,
		Capacity:  capacity,
		Price:     in.Price,
		IsActive:  listing.IsActive,
	}
	if err := s.store.CreateSlot(ctx, slot); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, listingID)

	s.logger.Info().
		Int64("slot_id", slot.ID).
		Int64("listing_id", listingID).
		Int("capacity", capacity).
		Msg("slot created")
	return slot, nil
}

// FindSlot resolves an exact key. Inactive slots are returned too.
func (s *Service) FindSlot(ctx context.Context, key models.SlotKey) (*models.Slot, error) {
	key, err := key.Canonical()
	if err != nil {
		return nil, err
	}
	return s.store.FindSlot(ctx, key)
}

// ListSlots returns every slot of the listing ordered by date and start.
func (s *Service) ListSlots(ctx context.Context, listingID int64) ([]models.Slot, error) {
	slots, gen, ok := s.cache.Get(ctx, listingID)
	if ok {
		return slots, nil
	}
	if _, err := s.store.GetListing(ctx, listingID); err != nil {
		return nil, err
	}

	slots, err := s.store.ListSlots(ctx, listingID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, listingID, gen, slots)
	return slots, nil
}

// SetActive toggles the listing and all its slots in one go. Existing
// bookings are left alone.
func (s *Service) SetActive(ctx context.Context, p access.Principal, listingID int64, active bool) (int64, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return 0, err
	}
	if err := s.access.CanManageListing(p, listing); err != nil {
		return 0, err
	}

	n, err := s.store.SetListingActive(ctx, listingID, active)
	if err != nil {
		return 0, fmt.Errorf("set active: %w", err)
	}
	s.publish(listingID)

	s.logger.Info().
		Int64("listing_id", listingID).
		Bool("active", active).
		Int64("slots", n).
		Msg("listing activation changed")
	return n, nil
}

// UpdatePrice changes the hourly rate charged to future bookings.
func (s *Service) UpdatePrice(ctx context.Context, p access.Principal, slotID int64, price float64) (*models.Slot, error) {
	if price < 0 {
		return nil, models.Invalid("price", "must not be negative")
	}
	slot, err := s.store.GetSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	listing, err := s.store.GetListing(ctx, slot.ListingID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanManageListing(p, listing); err != nil {
		return nil, err
	}

	if err := s.store.UpdateSlotPrice(ctx, slotID, price); err != nil {
		return nil, err
	}
	slot.Price = price
	s.publish(slot.ListingID)
	return slot, nil
}

func (s *Service) publish(listingID int64) {
	s.cache.Invalidate(context.Background(), listingID)
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.NewSlotEvent(events.ListingChanged, events.SlotEvent{ListingID: listingID}))
}
