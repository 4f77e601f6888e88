// Package bus provides the in-process publish/subscribe channel that
// decouples the sync engine's components from the daemon surfaces that
// observe them.
package bus

import (
	"strings"
	"sync"
	"time"
)

// Bus fans events out to subscribers filtered by kind prefix. Publishing
// never blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscriber),
	}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.prefix) {
			select {
			case sub.ch <- evt:
			default:
				// Subscriber buffer full, drop rather than block the publisher.
			}
		}
	}
}

// Emit publishes a payload under the given kind, stamped with the current time.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, At: time.Now(), Payload: payload})
}

// Subscribe registers interest in events whose Kind starts with prefix.
// An empty prefix matches everything. bufSize controls how many events may
// queue before drops begin. The returned function removes the subscription.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
