package marketdata

import (
	"sync"
)

const (
	EventQuote          = "quote"
	EventOrderFilled    = "order_filled"
	EventOrderPending   = "order_pending"
	EventPositionClosed = "position_closed"
	EventDisqualified   = "disqualified"
	EventSweepCompleted = "sweep_completed"
)

// Event is fanned out to every subscriber. Events with a UserID are private
// to that user; the rest are public.
type Event struct {
	Type   string `json:"type"`
	UserID string `json:"-"`
	Data   any    `json:"data"`
}

type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 100)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish never blocks; a subscriber whose buffer is full misses the event.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.RUnlock()
}

// Visible reports whether evt may be delivered to userID.
func (e Event) Visible(userID string) bool {
	return e.UserID == "" || e.UserID == userID
}
