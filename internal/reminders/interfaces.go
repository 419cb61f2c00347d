// Package reminders sends one reminder per confirmed booking shortly before
// it starts.
package reminders

import (
	"context"
	"fmt"
	"time"

	"courtside/internal/models"
)

// BookingStore provides the reminder claim protocol over bookings.
type BookingStore interface {
	// FindDueReminders returns unclaimed confirmed bookings whose reminder
	// time is not after now.
	FindDueReminders(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)

	// TryAcquireReminder claims a booking for lease. Returns false when
	// another worker holds it or it was already reminded.
	TryAcquireReminder(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error)

	// ReleaseReminder drops a claim so the next tick can retry.
	ReleaseReminder(ctx context.Context, id string) error

	// MarkReminderSent flips reminder_sent. Repeated calls are no-ops.
	MarkReminderSent(ctx context.Context, id string) error

	CountPendingReminders(ctx context.Context) (int64, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, userID int64, title, message string) (*models.Notification, error)
}

type Mailer interface {
	SendMail(ctx context.Context, to, subject, html string) error
}

// ChatNotifier mirrors a reminder into a chat. Optional.
type ChatNotifier interface {
	SendChat(ctx context.Context, chatID int64, text string) error
}

// DeliveryError reports which step of a reminder failed.
type DeliveryError struct {
	BookingID string
	Stage     string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("reminder %s: %s: %v", e.BookingID, e.Stage, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Stats summarizes one tick.
type Stats struct {
	Due      int
	Sent     int
	Orphaned int
	Skipped  int
	Failed   int
}
