// Package netmon tracks host network availability. The connection manager
// consults it to distinguish a server that refused us (Disconnected, worth
// retrying) from a machine with no network at all (Offline, wait for the
// online signal).
package netmon

import "sync"

// Monitor reports whether the network is believed reachable.
type Monitor interface {
	Online() bool
	// Subscribe registers fn to run whenever the online state flips.
	// The returned function removes the subscription.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Manual is a Monitor driven entirely by SetOnline calls. Host applications
// feed it their platform's connectivity signal; tests drive it directly.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	next   int
}

// NewManual creates a Manual monitor with the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{
		online: online,
		subs:   make(map[int]func(bool)),
	}
}

// Online reports the current state.
func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records the new state and notifies subscribers when it changed.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// Subscribe registers fn for state flips.
func (m *Manual) Subscribe(fn func(bool)) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}
