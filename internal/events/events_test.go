package events

import (
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	logger := zerolog.New(io.Discard)
	bus := NewEventBus(&logger)

	var got []SlotEvent
	bus.Subscribe(BookingCreated, func(e Event) error {
		p, err := e.Decode()
		require.NoError(t, err)
		got = append(got, p)
		return nil
	})
	bus.Subscribe(BookingCreated, func(Event) error { return errors.New("boom") })

	calledOther := false
	bus.Subscribe(BookingCancelled, func(Event) error {
		calledOther = true
		return nil
	})

	bus.Publish(NewSlotEvent(BookingCreated, SlotEvent{ListingID: 3, SlotID: 4, BookingID: "b1"}))
	bus.Publish(Event{Type: "unknown"})

	require.Len(t, got, 1)
	assert.Equal(t, SlotEvent{ListingID: 3, SlotID: 4, BookingID: "b1"}, got[0])
	assert.False(t, calledOther)
}
