package models

import "time"

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking is an immutable snapshot of a reservation. Only Status and the
// reminder fields change after creation.
type Booking struct {
	ID             string        `json:"id"`
	UserID         int64         `json:"user_id"`
	SlotID         int64         `json:"slot_id"`
	ListingID      int64         `json:"listing_id"`
	ListingKind    ListingKind   `json:"listing_kind"`
	ListingName    string        `json:"listing_name"`
	Location       string        `json:"location"`
	Category       string        `json:"category,omitempty"`
	Specialization string        `json:"specialization,omitempty"`
	Date           string        `json:"date"`
	StartTime      string        `json:"start_time"`
	EndTime        string        `json:"end_time"`
	Price          float64       `json:"price"`
	Status         BookingStatus `json:"status"`
	ReminderTime   time.Time     `json:"reminder_time"`
	ReminderSent   bool          `json:"reminder_sent"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	CancelledAt    *time.Time    `json:"cancelled_at,omitempty"`
}

func (b *Booking) Key() SlotKey {
	return SlotKey{ListingID: b.ListingID, Date: b.Date, Start: b.StartTime, End: b.EndTime}
}

func (b *Booking) IsActive() bool {
	return b.Status != BookingCancelled
}

// ReminderDue reports whether a reminder should fire at now.
func (b *Booking) ReminderDue(now time.Time) bool {
	return b.Status == BookingConfirmed && !b.ReminderSent && !now.Before(b.ReminderTime)
}
