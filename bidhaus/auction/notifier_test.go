package auction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifierDropsWhenFull(t *testing.T) {
	n := NewNotifier(2)

	n.Publish(
		newEvent(EventOutbid, 1, "AH-000001"),
		newEvent(EventOutbid, 1, "AH-000001"),
		newEvent(EventOutbid, 1, "AH-000001"),
	)

	assert.Equal(t, int64(1), n.Dropped())
	assert.Len(t, n.Events(), 2)
}

func TestNotifierCloseIsIdempotent(t *testing.T) {
	n := NewNotifier(2)
	n.Publish(newEvent(EventReserveMet, 1, "AH-000001"))
	n.Close()
	n.Close()

	// Publishing after close is a no-op, and buffered events still drain.
	n.Publish(newEvent(EventOutbid, 1, "AH-000001"))

	ev, ok := <-n.Events()
	assert.True(t, ok)
	assert.Equal(t, EventReserveMet, ev.Type)

	_, ok = <-n.Events()
	assert.False(t, ok)
}
