package session

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/andrefarinha/courier/internal/bus"
)

// State represents a connection session lifecycle state.
type State string

const (
	Idle         State = "IDLE"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Disconnected State = "DISCONNECTED"
	AuthFailed   State = "AUTH_FAILED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:         {Connecting},
	Connecting:   {Connected, Reconnecting, Disconnected, AuthFailed},
	Connected:    {Connecting, Reconnecting, Disconnected, AuthFailed},
	Reconnecting: {Connecting, Disconnected, AuthFailed},
	Disconnected: {Connecting},
	AuthFailed:   {Connecting},
}

// Machine tracks and enforces connection session state transitions.
// It also owns the session generation counter: every new transport handle
// bumps the generation, and callbacks carrying a stale generation are
// ignored by their owners.
type Machine struct {
	mu      sync.RWMutex
	current State
	gen     uint64
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Idle, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Generation returns the current session generation.
func (m *Machine) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

// Supersede bumps the session generation and returns the new value.
// Any in-flight work holding an older generation is thereby invalidated.
func (m *Machine) Supersede() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	return m.gen
}

// Live reports whether gen is still the current session generation.
func (m *Machine) Live(gen uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen == gen
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	b := m.bus
	m.mu.Unlock()

	if b != nil {
		b.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload:   StatusChange{From: from, To: to},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
