package reminders

import (
	"context"
	"errors"
	"sync"
	"time"

	"courtside/internal/metrics"
	"courtside/internal/models"
	"courtside/internal/notify"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config holds configuration for the reminder scheduler.
type Config struct {
	// Interval between ticks.
	Interval time.Duration
	// BatchSize caps the bookings handled per tick.
	BatchSize int
	// MaxConcurrent bounds parallel deliveries within a tick.
	MaxConcurrent int
	// Claim is the lease taken on a booking while it is being delivered.
	Claim time.Duration
	// TickTimeout bounds one whole tick.
	TickTimeout time.Duration
	// SendRate and SendBurst throttle outgoing mail.
	SendRate  float64
	SendBurst int
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:      time.Minute,
		BatchSize:     100,
		MaxConcurrent: 4,
		Claim:         2 * time.Minute,
		TickTimeout:   50 * time.Second,
		SendRate:      10,
		SendBurst:     20,
	}
}

// Scheduler manages the reminder sending schedule.
type Scheduler struct {
	config        Config
	bookings      BookingStore
	users         UserStore
	notifications NotificationStore
	mailer        Mailer
	chat          ChatNotifier
	limiter       *rate.Limiter
	logger        zerolog.Logger
	now           func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a new reminder scheduler. chat may be nil.
func NewScheduler(
	config Config,
	bookings BookingStore,
	users UserStore,
	notifications NotificationStore,
	mailer Mailer,
	chat ChatNotifier,
	logger zerolog.Logger,
) *Scheduler {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	if config.Claim <= 0 {
		config.Claim = def.Claim
	}
	if config.TickTimeout <= 0 {
		config.TickTimeout = def.TickTimeout
	}
	if config.SendRate <= 0 {
		config.SendRate = def.SendRate
	}
	if config.SendBurst <= 0 {
		config.SendBurst = def.SendBurst
	}

	return &Scheduler{
		config:        config,
		bookings:      bookings,
		users:         users,
		notifications: notifications,
		mailer:        mailer,
		chat:          chat,
		limiter:       rate.NewLimiter(rate.Limit(config.SendRate), config.SendBurst),
		logger:        logger.With().Str("component", "reminders").Logger(),
		now:           time.Now,
	}
}

// Start launches the ticker loop. It returns immediately; a second call
// while running does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(ctx, s.stopCh)

	s.logger.Info().Dur("interval", s.config.Interval).Msg("reminder scheduler started")
}

// Stop ends the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("reminder scheduler stopped")
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, s.config.TickTimeout)
			if _, err := s.RunOnce(tickCtx); err != nil {
				s.logger.Error().Err(err).Msg("reminder tick failed")
			}
			cancel()
		}
	}
}

// RunOnce processes one batch of due reminders.
func (s *Scheduler) RunOnce(ctx context.Context) (Stats, error) {
	start := time.Now()
	defer func() { metrics.ObserveReminderTick(time.Since(start).Seconds()) }()

	due, err := s.bookings.FindDueReminders(ctx, s.now(), s.config.BatchSize)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Due: len(due)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.config.MaxConcurrent)

	for i := range due {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.logStats(stats)
			return stats, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(b *models.Booking) {
			defer wg.Done()
			defer func() { <-sem }()

			result := s.process(ctx, b)

			mu.Lock()
			defer mu.Unlock()
			switch result {
			case "sent":
				stats.Sent++
			case "orphaned":
				stats.Orphaned++
			case "skipped":
				stats.Skipped++
			default:
				stats.Failed++
			}
		}(&due[i])
	}
	wg.Wait()

	if pending, err := s.bookings.CountPendingReminders(ctx); err == nil {
		metrics.SetRemindersPending(pending)
	}
	s.logStats(stats)
	return stats, nil
}

func (s *Scheduler) logStats(stats Stats) {
	if stats.Due == 0 {
		return
	}
	s.logger.Info().
		Int("due", stats.Due).
		Int("sent", stats.Sent).
		Int("orphaned", stats.Orphaned).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("reminders processed")
}

// process delivers a single reminder and reports its outcome.
func (s *Scheduler) process(ctx context.Context, b *models.Booking) string {
	acquired, err := s.bookings.TryAcquireReminder(ctx, b.ID, s.now(), s.config.Claim)
	if err != nil {
		s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("failed to acquire reminder")
		metrics.IncReminder("failed")
		return "failed"
	}
	if !acquired {
		return "skipped"
	}

	err = s.deliver(ctx, b)
	if errors.Is(err, models.ErrUserNotFound) {
		// Nobody left to remind.
		if err := s.bookings.MarkReminderSent(ctx, b.ID); err != nil {
			s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("failed to mark orphaned reminder")
			s.release(b.ID)
			metrics.IncReminder("failed")
			return "failed"
		}
		s.logger.Warn().Str("booking_id", b.ID).Int64("user_id", b.UserID).Msg("user missing, reminder dropped")
		metrics.IncReminder("orphaned")
		return "orphaned"
	}
	if err != nil {
		s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("reminder delivery failed")
		s.release(b.ID)
		metrics.IncReminder("failed")
		return "failed"
	}

	metrics.IncReminder("sent")
	return "sent"
}

// deliver runs notification, then mail, then marks the booking. The chat
// mirror runs last and never fails the reminder.
func (s *Scheduler) deliver(ctx context.Context, b *models.Booking) error {
	user, err := s.users.GetUser(ctx, b.UserID)
	if err != nil {
		return err
	}

	msg, err := notify.RenderReminder(user, b)
	if err != nil {
		return &DeliveryError{BookingID: b.ID, Stage: "render", Err: err}
	}

	if _, err := s.notifications.CreateNotification(ctx, user.ID, msg.Title, msg.Text); err != nil {
		return &DeliveryError{BookingID: b.ID, Stage: "notification", Err: err}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return &DeliveryError{BookingID: b.ID, Stage: "rate_limit", Err: err}
	}
	if err := s.mailer.SendMail(ctx, user.Email, msg.Title, msg.HTML); err != nil {
		return &DeliveryError{BookingID: b.ID, Stage: "email", Err: err}
	}

	if err := s.bookings.MarkReminderSent(ctx, b.ID); err != nil {
		return &DeliveryError{BookingID: b.ID, Stage: "mark_sent", Err: err}
	}

	s.logger.Info().Str("booking_id", b.ID).Int64("user_id", user.ID).Msg("reminder sent")

	if s.chat != nil && user.TelegramChatID != 0 {
		if err := s.chat.SendChat(ctx, user.TelegramChatID, msg.Text); err != nil {
			s.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("chat mirror failed")
		}
	}
	return nil
}

func (s *Scheduler) release(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.bookings.ReleaseReminder(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("booking_id", id).Msg("failed to release reminder claim")
	}
}
