package bus

import "time"

// Event is a domain event published on the bus. Kind is a dot-separated
// name whose leading segment acts as a namespace, e.g. "conn.status_changed",
// "cache.invalidated", "outbox.drained", "presence.typing_changed".
type Event struct {
	Kind    string
	At      time.Time
	Payload any
}
