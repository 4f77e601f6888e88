package rooms

import (
	"testing"

	"go.uber.org/zap"
)

type fakeEmitter struct {
	connected bool
	joins     []string
	leaves    []string
}

func (f *fakeEmitter) Join(id string) error  { f.joins = append(f.joins, id); return nil }
func (f *fakeEmitter) Leave(id string) error { f.leaves = append(f.leaves, id); return nil }
func (f *fakeEmitter) Connected() bool       { return f.connected }

func TestJoinEmitsWhenConnected(t *testing.T) {
	em := &fakeEmitter{connected: true}
	c := NewController(em, zap.NewNop())

	if !c.Join("c1") {
		t.Fatal("Join() = false, want true")
	}
	if len(em.joins) != 1 || em.joins[0] != "c1" {
		t.Errorf("joins = %v, want [c1]", em.joins)
	}
	if !c.Joined("c1") {
		t.Error("Joined(c1) = false after join")
	}
}

func TestJoinDroppedWhenDisconnected(t *testing.T) {
	em := &fakeEmitter{connected: false}
	c := NewController(em, zap.NewNop())

	if c.Join("c1") {
		t.Fatal("Join() = true while disconnected, want false")
	}
	if len(em.joins) != 0 {
		t.Errorf("joins = %v, want none", em.joins)
	}
	if c.Joined("c1") {
		t.Error("Joined(c1) = true for a dropped join")
	}
}

func TestDuplicateJoinHarmless(t *testing.T) {
	em := &fakeEmitter{connected: true}
	c := NewController(em, zap.NewNop())

	c.Join("c1")
	c.Join("c1")

	// Both requests reach the wire; the server deduplicates.
	if len(em.joins) != 2 {
		t.Errorf("joins = %v, want two emissions", em.joins)
	}
	if got := c.Memberships(); len(got) != 1 {
		t.Errorf("Memberships() = %v, want single entry", got)
	}
}

func TestLeaveRemovesMembership(t *testing.T) {
	em := &fakeEmitter{connected: true}
	c := NewController(em, zap.NewNop())

	c.Join("c1")
	if !c.Leave("c1") {
		t.Fatal("Leave() = false, want true")
	}
	if c.Joined("c1") {
		t.Error("Joined(c1) = true after leave")
	}
	if len(em.leaves) != 1 || em.leaves[0] != "c1" {
		t.Errorf("leaves = %v, want [c1]", em.leaves)
	}
}

func TestLeaveWithoutJoinStillEmits(t *testing.T) {
	em := &fakeEmitter{connected: true}
	c := NewController(em, zap.NewNop())

	if !c.Leave("c1") {
		t.Fatal("Leave() = false, want true")
	}
	if len(em.leaves) != 1 {
		t.Errorf("leaves = %v, want one emission", em.leaves)
	}
}

func TestLeaveDroppedWhenDisconnected(t *testing.T) {
	em := &fakeEmitter{connected: true}
	c := NewController(em, zap.NewNop())
	c.Join("c1")

	em.connected = false
	if c.Leave("c1") {
		t.Fatal("Leave() = true while disconnected, want false")
	}
	// Local membership is forgotten regardless.
	if c.Joined("c1") {
		t.Error("Joined(c1) = true after disconnected leave")
	}
	if len(em.leaves) != 0 {
		t.Errorf("leaves = %v, want none", em.leaves)
	}
}

func TestEmptyConversationIgnored(t *testing.T) {
	em := &fakeEmitter{connected: true}
	c := NewController(em, zap.NewNop())

	if c.Join("") || c.Leave("") {
		t.Error("empty conversation id must be ignored")
	}
	if len(em.joins)+len(em.leaves) != 0 {
		t.Error("no emissions expected for empty id")
	}
}

func TestReset(t *testing.T) {
	em := &fakeEmitter{connected: true}
	c := NewController(em, zap.NewNop())

	c.Join("c1")
	c.Join("c2")
	c.Reset()

	if len(c.Memberships()) != 0 {
		t.Errorf("Memberships() = %v after reset, want empty", c.Memberships())
	}
	// Reset is local bookkeeping only, no leave frames.
	if len(em.leaves) != 0 {
		t.Errorf("leaves = %v, want none", em.leaves)
	}
}
