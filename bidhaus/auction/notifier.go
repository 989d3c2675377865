package auction

import (
	"log/slog"
	"sync"
)

const defaultEventBuffer = 256

// Notifier fans committed domain events out to the notification
// collaborator. Publishing never blocks the bid path: when the consumer
// falls behind, events are dropped and counted, and the consumer is
// expected to reconcile from the ledger.
type Notifier struct {
	mu      sync.Mutex
	events  chan Event
	closed  bool
	dropped int64
}

func NewNotifier(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &Notifier{events: make(chan Event, buffer)}
}

// Events is the consumer side of the notifier.
func (n *Notifier) Events() <-chan Event {
	return n.events
}

// Publish enqueues a batch of post-commit events.
func (n *Notifier) Publish(events ...Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	for _, ev := range events {
		select {
		case n.events <- ev:
			slog.Debug("event published",
				slog.String("type", "event"),
				slog.String("event", string(ev.Type)),
				slog.Int64("auction_id", ev.AuctionID))
		default:
			n.dropped++
			slog.Warn("event buffer full, dropping event",
				slog.String("event", string(ev.Type)),
				slog.Int64("auction_id", ev.AuctionID),
				slog.Int64("dropped_total", n.dropped))
		}
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (n *Notifier) Dropped() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Close stops the notifier; further publishes are no-ops.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.events)
	}
}
