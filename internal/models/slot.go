package models

import (
	"math"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// SlotKey is the exact-match identity of a slot within a listing.
type SlotKey struct {
	ListingID int64  `json:"listing_id"`
	Date      string `json:"date"`
	Start     string `json:"start_time"`
	End       string `json:"end_time"`
}

// Validate checks formats and ordering of the key.
func (k SlotKey) Validate() error {
	_, err := k.Canonical()
	return err
}

// Canonical validates the key and returns it with zero-padded date and
// clock strings, so "7:00" and "07:00" name the same slot.
func (k SlotKey) Canonical() (SlotKey, error) {
	if k.ListingID <= 0 {
		return SlotKey{}, Invalid("listing_id", "is required")
	}
	day, from, to, err := k.parse(time.UTC)
	if err != nil {
		return SlotKey{}, err
	}
	return SlotKey{
		ListingID: k.ListingID,
		Date:      day.Format(DateLayout),
		Start:     from.Format(ClockLayout),
		End:       to.Format(ClockLayout),
	}, nil
}

// Duration is the wall-clock length of the window. It ignores DST shifts
// on the slot's date.
func (k SlotKey) Duration() (time.Duration, error) {
	_, from, to, err := k.parse(time.UTC)
	if err != nil {
		return 0, err
	}
	return to.Sub(from), nil
}

// Window resolves the key to absolute start and end instants in loc.
func (k SlotKey) Window(loc *time.Location) (start, end time.Time, err error) {
	day, from, to, err := k.parse(loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start = time.Date(day.Year(), day.Month(), day.Day(), from.Hour(), from.Minute(), 0, 0, loc)
	end = time.Date(day.Year(), day.Month(), day.Day(), to.Hour(), to.Minute(), 0, 0, loc)
	return start, end, nil
}

func (k SlotKey) parse(loc *time.Location) (day, from, to time.Time, err error) {
	day, err = time.ParseInLocation(DateLayout, k.Date, loc)
	if err != nil {
		return day, from, to, Invalid("date", "expected YYYY-MM-DD")
	}
	from, err = time.Parse(ClockLayout, k.Start)
	if err != nil {
		return day, from, to, Invalid("start_time", "expected HH:MM")
	}
	to, err = time.Parse(ClockLayout, k.End)
	if err != nil {
		return day, from, to, Invalid("end_time", "expected HH:MM")
	}
	if !from.Before(to) {
		return day, from, to, Invalid("end_time", "must be after start_time")
	}
	return day, from, to, nil
}

type Slot struct {
	ID          int64     `json:"id"`
	ListingID   int64     `json:"listing_id"`
	Date        string    `json:"date"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	Capacity    int       `json:"capacity"`
	BookedCount int       `json:"booked_count"`
	Price       float64   `json:"price"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Slot) Key() SlotKey {
	return SlotKey{ListingID: s.ListingID, Date: s.Date, Start: s.StartTime, End: s.EndTime}
}

// Remaining is the number of places still free.
func (s *Slot) Remaining() int {
	if s.BookedCount >= s.Capacity {
		return 0
	}
	return s.Capacity - s.BookedCount
}

// TotalPrice charges perHour for every hour of d, rounded to cents.
func TotalPrice(perHour float64, d time.Duration) float64 {
	return math.Round(perHour*d.Hours()*100) / 100
}
