package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	BookingCreated   = "booking.created"
	BookingCancelled = "booking.cancelled"
	ListingChanged   = "listing.changed"
)

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// SlotEvent is the payload of every event this service emits.
type SlotEvent struct {
	ListingID int64  `json:"listing_id"`
	SlotID    int64  `json:"slot_id,omitempty"`
	BookingID string `json:"booking_id,omitempty"`
	UserID    int64  `json:"user_id,omitempty"`
}

// NewSlotEvent marshals p into an Event of the given type.
func NewSlotEvent(eventType string, p SlotEvent) Event {
	data, _ := json.Marshal(p)
	return Event{Type: eventType, Payload: data, CreatedAt: time.Now()}
}

// Decode unmarshals the payload of a SlotEvent.
func (e Event) Decode() (SlotEvent, error) {
	var p SlotEvent
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// Publisher is the publishing half of the bus.
type Publisher interface {
	Publish(event Event)
}

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Handler errors are
// logged and never reach the publisher.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && b.logger != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Msg("event handler failed")
		}
	}
}
