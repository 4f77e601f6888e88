package outbox

import (
	"sync"
	"testing"
	"time"
)

func TestEnqueueAssignsIDs(t *testing.T) {
	q := New()

	id1 := q.Enqueue("c1", "first")
	id2 := q.Enqueue("c1", "second")

	if id1 == "" || id2 == "" {
		t.Fatal("Enqueue returned empty id")
	}
	if id1 == id2 {
		t.Errorf("ids collide: %q", id1)
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestEnqueueStampsTime(t *testing.T) {
	q := New()
	before := time.Now()
	q.Enqueue("c1", "hello")

	got := q.Snapshot()[0].EnqueuedAt
	if got.Before(before) || got.After(time.Now()) {
		t.Errorf("EnqueuedAt = %v, want within test run", got)
	}
}

func TestDrainFIFO(t *testing.T) {
	q := New()
	q.Enqueue("c1", "one")
	q.Enqueue("c2", "two")
	q.Enqueue("c1", "three")

	items := q.Drain()
	if len(items) != 3 {
		t.Fatalf("Drain() returned %d items, want 3", len(items))
	}
	want := []string{"one", "two", "three"}
	for i, m := range items {
		if m.Body != want[i] {
			t.Errorf("items[%d].Body = %q, want %q", i, m.Body, want[i])
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() after drain = %d, want 0", q.Len())
	}
}

func TestDrainEmpty(t *testing.T) {
	q := New()
	if items := q.Drain(); len(items) != 0 {
		t.Errorf("Drain() on empty queue = %v", items)
	}
}

func TestConcurrentDrainNoDoubleDelivery(t *testing.T) {
	q := New()
	const n = 200
	for i := 0; i < n; i++ {
		q.Enqueue("c1", "msg")
	}

	var wg sync.WaitGroup
	results := make(chan []Message, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- q.Drain()
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	total := 0
	for batch := range results {
		for _, m := range batch {
			if seen[m.ID] {
				t.Fatalf("message %s drained twice", m.ID)
			}
			seen[m.ID] = true
			total++
		}
	}
	if total != n {
		t.Errorf("drained %d messages, want %d", total, n)
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	q := New()
	q.Enqueue("c1", "keep")

	q.Remove("not-there")
	q.Remove("not-there")

	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestRemove(t *testing.T) {
	q := New()
	q.Enqueue("c1", "one")
	id := q.Enqueue("c1", "two")
	q.Enqueue("c1", "three")

	q.Remove(id)

	items := q.Snapshot()
	if len(items) != 2 {
		t.Fatalf("Len() = %d, want 2", len(items))
	}
	if items[0].Body != "one" || items[1].Body != "three" {
		t.Errorf("remaining = %q, %q", items[0].Body, items[1].Body)
	}
}

func TestRequeuePreservesOrder(t *testing.T) {
	q := New()
	q.Enqueue("c1", "one")
	q.Enqueue("c1", "two")

	drained := q.Drain()
	// A send failed partway: the remainder goes back while a newer message
	// arrives concurrently.
	q.Enqueue("c1", "three")
	q.Requeue(drained[1:])

	items := q.Drain()
	if len(items) != 2 {
		t.Fatalf("Len() = %d, want 2", len(items))
	}
	if items[0].Body != "two" || items[1].Body != "three" {
		t.Errorf("order = %q, %q; want two, three", items[0].Body, items[1].Body)
	}
}
