package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "courtside"

var (
	once sync.Once

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome.",
		},
		[]string{"result"},
	)

	reservationRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_retries_total",
			Help:      "Optimistic occupancy guard misses that were retried.",
		},
	)

	bookingCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_cancelled_total",
			Help:      "Count of bookings cancelled.",
		},
	)

	remindersSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Reminders processed by status.",
		},
		[]string{"status"},
	)

	remindersPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reminders_pending",
			Help:      "Confirmed bookings still waiting for a reminder.",
		},
	)

	reminderTick = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reminder_tick_duration_seconds",
			Help:      "Time spent in one reminder tick.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5, 15, 30},
		},
	)

	slotCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_cache_total",
			Help:      "Slot listing cache lookups by result.",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			reservations, reservationRetries, bookingCancelled,
			remindersSent, remindersPending, reminderTick,
			slotCache, httpRequests,
		)
	})
}

func IncReservation(result string) {
	reservations.WithLabelValues(result).Inc()
}

func IncReservationRetry() {
	reservationRetries.Inc()
}

func IncBookingCancelled() {
	bookingCancelled.Inc()
}

func IncReminder(status string) {
	remindersSent.WithLabelValues(status).Inc()
}

func SetRemindersPending(n int64) {
	remindersPending.Set(float64(n))
}

func ObserveReminderTick(seconds float64) {
	reminderTick.Observe(seconds)
}

func IncSlotCache(result string) {
	slotCache.WithLabelValues(result).Inc()
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
