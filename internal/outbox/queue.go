// Package outbox buffers messages composed while the realtime channel is
// down. Entries live in memory for the lifetime of the client and are never
// discarded by the queue itself: only a drain or an explicit Remove clears
// them.
package outbox

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is a queued send. EnqueuedAt is the original compose time and
// travels with the message when it is finally transmitted, so the server can
// order it truthfully.
type Message struct {
	ID             string
	ConversationID string
	Body           string
	EnqueuedAt     time.Time
}

// Queue is a FIFO of unsent messages. All methods are safe for concurrent
// use. Drain removes entries eagerly, before transmission, so two concurrent
// drains can never hand the same entry to the transport twice.
type Queue struct {
	mu    sync.Mutex
	items []Message
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends a message and returns its generated id.
func (q *Queue) Enqueue(conversationID, body string) string {
	m := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Body:           body,
		EnqueuedAt:     time.Now(),
	}
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
	return m.ID
}

// Remove deletes the entry with the given id. Removing an unknown id is a
// no-op.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.items {
		if m.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// Drain atomically removes and returns every queued entry in FIFO order.
// The caller owns transmission; entries that fail to send should go back
// via Requeue.
func (q *Queue) Drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Requeue puts messages back at the front of the queue, preserving their
// order ahead of anything enqueued since the drain.
func (q *Queue) Requeue(items []Message) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(append([]Message{}, items...), q.items...)
}

// Len reports the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queue contents in FIFO order.
func (q *Queue) Snapshot() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.items))
	copy(out, q.items)
	return out
}
