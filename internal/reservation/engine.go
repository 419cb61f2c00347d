// Package reservation is the only writer of slot occupancy.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"courtside/internal/access"
	"courtside/internal/events"
	"courtside/internal/lock"
	"courtside/internal/metrics"
	"courtside/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// errGuardMiss means booked_count moved between read and conditional update.
var errGuardMiss = errors.New("occupancy changed concurrently")

type Config struct {
	// MaxAttempts bounds retries of a transaction whose occupancy guard missed.
	MaxAttempts int
	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration
	// LockTTL bounds both the wait for and the hold of the per-slot lock.
	LockTTL time.Duration
	// ReminderLead is how long before the start a reminder fires.
	ReminderLead time.Duration
	// Location interprets slot dates and clock times.
	Location *time.Location
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		Backoff:      25 * time.Millisecond,
		LockTTL:      5 * time.Second,
		ReminderLead: time.Hour,
		Location:     time.UTC,
	}
}

type Engine struct {
	store  Store
	locker lock.Locker
	access *access.Service
	bus    events.Publisher
	cfg    Config
	logger zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewEngine builds an engine. locker and bus may be nil.
func NewEngine(store Store, locker lock.Locker, acc *access.Service, bus events.Publisher, cfg Config, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = def.ReminderLead
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	return &Engine{
		store:  store,
		locker: locker,
		access: acc,
		bus:    bus,
		cfg:    cfg,
		logger: logger.With().Str("component", "reservation").Logger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Reserve books one place in the slot identified by key for the caller.
func (e *Engine) Reserve(ctx context.Context, p access.Principal, key models.SlotKey) (*models.Booking, error) {
	if p.UserID <= 0 {
		return nil, models.Invalid("user_id", "is required")
	}
	key, err := key.Canonical()
	if err != nil {
		metrics.IncReservation("invalid")
		return nil, err
	}

	if e.locker != nil {
		lockCtx, cancel := context.WithTimeout(ctx, e.cfg.LockTTL)
		release, err := e.locker.Acquire(lockCtx, slotLockKey(key), e.cfg.LockTTL)
		cancel()
		if err != nil {
			metrics.IncReservation("conflict")
			return nil, fmt.Errorf("%w: slot is busy: %v", models.ErrConflict, err)
		}
		defer release()
	}

	var booking *models.Booking
	err = e.withRetry(ctx, func() error {
		var err error
		booking, err = e.commit(ctx, p.UserID, key)
		return err
	})

	metrics.IncReservation(outcome(err))
	if err != nil {
		e.logger.Debug().Err(err).
			Int64("user_id", p.UserID).
			Int64("listing_id", key.ListingID).
			Str("date", key.Date).
			Str("start", key.Start).
			Msg("reservation rejected")
		return nil, err
	}

	e.logger.Info().
		Str("booking_id", booking.ID).
		Int64("user_id", booking.UserID).
		Int64("slot_id", booking.SlotID).
		Float64("price", booking.Price).
		Msg("booking confirmed")

	e.publish(events.BookingCreated, booking)
	return booking, nil
}

func (e *Engine) commit(ctx context.Context, userID int64, key models.SlotKey) (*models.Booking, error) {
	start, _, err := key.Window(e.cfg.Location)
	if err != nil {
		return nil, err
	}
	length, err := key.Duration()
	if err != nil {
		return nil, err
	}

	var out *models.Booking
	err = e.store.InTx(ctx, func(tx Tx) error {
		slot, err := tx.SlotByKey(ctx, key)
		if err != nil {
			return err
		}
		if !slot.IsActive {
			return models.ErrSlotNotFound
		}
		listing, err := tx.ListingByID(ctx, slot.ListingID)
		if err != nil {
			if errors.Is(err, models.ErrListingNotFound) {
				return models.ErrSlotNotFound
			}
			return err
		}
		if !listing.IsActive {
			return models.ErrSlotNotFound
		}

		// The recount is the source of truth; booked_count is rewritten from it.
		occupancy, err := tx.CountActiveBookings(ctx, slot.ID)
		if err != nil {
			return err
		}
		if occupancy >= slot.Capacity {
			return models.ErrSlotFull
		}

		ok, err := tx.SetOccupancy(ctx, slot.ID, slot.BookedCount, occupancy+1)
		if err != nil {
			return err
		}
		if !ok {
			return errGuardMiss
		}

		now := e.now().UTC()
		b := &models.Booking{
			ID:             e.newID(),
			UserID:         userID,
			SlotID:         slot.ID,
			ListingID:      listing.ID,
			ListingKind:    listing.Kind,
			ListingName:    listing.Name,
			Location:       listing.Location,
			Category:       listing.Category,
			Specialization: listing.Specialization,
			Date:           slot.Date,
			StartTime:      slot.StartTime,
			EndTime:        slot.EndTime,
			Price:          models.TotalPrice(slot.Price, length),
			Status:         models.BookingConfirmed,
			ReminderTime:   start.Add(-e.cfg.ReminderLead).UTC(),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// Cancel releases the caller's place. The status flip and the occupancy
// decrement commit together.
func (e *Engine) Cancel(ctx context.Context, p access.Principal, bookingID string) (*models.Booking, error) {
	var booking *models.Booking
	err := e.withRetry(ctx, func() error {
		return e.store.InTx(ctx, func(tx Tx) error {
			b, err := tx.BookingByID(ctx, bookingID)
			if err != nil {
				return err
			}
			if err := e.access.CanCancelBooking(p, b); err != nil {
				return err
			}
			if b.Status == models.BookingCancelled {
				return models.ErrAlreadyCancelled
			}

			slot, err := tx.SlotByID(ctx, b.SlotID)
			if err != nil {
				return err
			}

			now := e.now().UTC()
			ok, err := tx.MarkCancelled(ctx, b.ID, now)
			if err != nil {
				return err
			}
			if !ok {
				return models.ErrAlreadyCancelled
			}

			occupancy, err := tx.CountActiveBookings(ctx, slot.ID)
			if err != nil {
				return err
			}
			ok, err = tx.SetOccupancy(ctx, slot.ID, slot.BookedCount, occupancy)
			if err != nil {
				return err
			}
			if !ok {
				return errGuardMiss
			}

			b.Status = models.BookingCancelled
			b.CancelledAt = &now
			b.UpdatedAt = now
			booking = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.IncBookingCancelled()
	e.logger.Info().
		Str("booking_id", booking.ID).
		Int64("cancelled_by", p.UserID).
		Msg("booking cancelled")

	e.publish(events.BookingCancelled, booking)
	return booking, nil
}

// withRetry reruns fn while it reports a transient conflict, up to
// MaxAttempts, and then surfaces models.ErrConflict.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}

		metrics.IncReservationRetry()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.Backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", models.ErrConflict, e.cfg.MaxAttempts, err)
}

func isTransient(err error) bool {
	return errors.Is(err, errGuardMiss) || errors.Is(err, models.ErrConflict)
}

func (e *Engine) publish(eventType string, b *models.Booking) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.NewSlotEvent(eventType, events.SlotEvent{
		ListingID: b.ListingID,
		SlotID:    b.SlotID,
		BookingID: b.ID,
		UserID:    b.UserID,
	}))
}

func slotLockKey(key models.SlotKey) string {
	return "slot:" + strconv.FormatInt(key.ListingID, 10) + ":" + key.Date + ":" + key.Start + ":" + key.End
}

func outcome(err error) string {
	switch models.KindOf(err) {
	case models.KindNone:
		return "confirmed"
	case models.KindSlotFull:
		return "slot_full"
	case models.KindNotFound:
		return "not_found"
	case models.KindConflict:
		return "conflict"
	case models.KindValidation:
		return "invalid"
	default:
		return "error"
	}
}
