package engine

import (
	"sync"
	"time"
)

// typingTracker owns one expiry timer per peer. Timers are cancelled and
// removed atomically on stop-signal or expiry, never orphaned across
// reconnects.
type typingTracker struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTypingTracker() *typingTracker {
	return &typingTracker{timers: make(map[string]*time.Timer)}
}

// Arm (re)starts the expiry timer for a peer. A refresh replaces the
// previous timer so the deadline slides.
func (t *typingTracker) Arm(peer string, d time.Duration, expire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[peer]; ok {
		old.Stop()
	}
	t.timers[peer] = time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.timers, peer)
		t.mu.Unlock()
		expire()
	})
}

// Disarm cancels the peer's timer, if any.
func (t *typingTracker) Disarm(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[peer]; ok {
		timer.Stop()
		delete(t.timers, peer)
	}
}

// DisarmAll cancels every timer. Called on teardown.
func (t *typingTracker) DisarmAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for peer, timer := range t.timers {
		timer.Stop()
		delete(t.timers, peer)
	}
}
