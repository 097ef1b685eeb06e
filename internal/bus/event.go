package bus

import "time"

// Event kinds published by the sync core. Subscribers filter by namespace
// prefix ("session.", "sync.", "message.").
const (
	KindStatusChanged = "session.status_changed"
	KindUpdated       = "sync.updated"
	KindHydrated      = "sync.hydrated"
	KindSendFailed    = "message.send_failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
