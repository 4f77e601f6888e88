package conn

import "slices"

// Status is the externally observable connection state.
type Status string

const (
	// StatusConnected means the realtime channel is live.
	StatusConnected Status = "CONNECTED"
	// StatusConnecting means a dial is in flight.
	StatusConnecting Status = "CONNECTING"
	// StatusDisconnected means the channel is down but the network looks
	// usable: the server refused us, dropped us, or retries ran out.
	StatusDisconnected Status = "DISCONNECTED"
	// StatusOffline means the host has no network; reconnecting waits for
	// the online signal instead of burning retry attempts.
	StatusOffline Status = "OFFLINE"
)

// validTransitions defines the allowed status edges. A transition to the
// current status is treated as a no-op before this table is consulted.
var validTransitions = map[Status][]Status{
	StatusDisconnected: {StatusConnecting, StatusOffline},
	StatusConnecting:   {StatusConnected, StatusDisconnected, StatusOffline},
	StatusConnected:    {StatusDisconnected, StatusOffline},
	StatusOffline:      {StatusConnecting, StatusDisconnected},
}

// canTransition reports whether from → to is an allowed edge.
func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// StatusChange is the payload for "conn.status_changed" bus events.
type StatusChange struct {
	From Status
	To   Status
}
