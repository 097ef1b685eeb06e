package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Publish never blocks: events for a subscriber whose buffer is full are
// dropped, so a slow presentation layer cannot stall the sync pipeline.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*Subscription
	next int
}

// Subscription is a live bus subscription. Receive on C, call Cancel when done.
type Subscription struct {
	C <-chan Event

	prefix string
	ch     chan Event
	cancel func()
}

// Cancel removes the subscription from the bus.
func (s *Subscription) Cancel() {
	s.cancel()
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Publish sends an event to every subscriber whose prefix matches event.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.prefix) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Subscribe registers interest in events whose Kind starts with prefix.
// bufSize controls the channel buffer.
func (b *Bus) Subscribe(prefix string, bufSize int) *Subscription {
	ch := make(chan Event, bufSize)
	sub := &Subscription{C: ch, prefix: prefix, ch: ch}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	sub.cancel = func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	return sub
}
