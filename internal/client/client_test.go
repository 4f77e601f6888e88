package client

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hearthhq/hearth/internal/backoff"
	"github.com/hearthhq/hearth/internal/bus"
	"github.com/hearthhq/hearth/internal/cache"
	"github.com/hearthhq/hearth/internal/conn"
	"github.com/hearthhq/hearth/internal/netmon"
	"github.com/hearthhq/hearth/internal/outbox"
	"github.com/hearthhq/hearth/internal/presence"
	"github.com/hearthhq/hearth/internal/reconcile"
	"github.com/hearthhq/hearth/internal/rooms"
	"github.com/hearthhq/hearth/internal/transport"
)

type fakeTransport struct {
	mu           sync.Mutex
	connected    bool
	dials        int
	sendErrs     int
	sends        []transport.Send
	joins        []string
	typingStarts []string
	typingStops  []string
	markReads    []string
	handler      transport.Handler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	f.connected = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) SendMessage(msg transport.Send) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	if f.sendErrs > 0 {
		f.sendErrs--
		return errors.New("write failed")
	}
	f.sends = append(f.sends, msg)
	return nil
}

func (f *fakeTransport) Join(conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	f.joins = append(f.joins, conversationID)
	return nil
}

func (f *fakeTransport) Leave(conversationID string) error { return nil }

func (f *fakeTransport) TypingStart(conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	f.typingStarts = append(f.typingStarts, conversationID)
	return nil
}

func (f *fakeTransport) TypingStop(conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	f.typingStops = append(f.typingStops, conversationID)
	return nil
}

func (f *fakeTransport) MarkRead(conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	f.markReads = append(f.markReads, conversationID)
	return nil
}

func (f *fakeTransport) SetHandler(h transport.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

// push delivers a server event the way the socket's read loop would.
func (f *fakeTransport) push(evt transport.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h.OnEvent != nil {
		h.OnEvent(evt)
	}
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeTransport) sentMessages() []transport.Send {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sends)
}

func (f *fakeTransport) typingStartsSent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.typingStarts)
}

func (f *fakeTransport) markReadsSent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.markReads)
}

type fakeCreds struct {
	mu   sync.Mutex
	subs []func()
}

func (f *fakeCreds) Token() (string, error) { return "test-token", nil }

func (f *fakeCreds) Subscribe(fn func()) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	i := len(f.subs) - 1
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.subs[i] = nil
		f.mu.Unlock()
	}
}

func (f *fakeCreds) rotate() {
	f.mu.Lock()
	subs := slices.Clone(f.subs)
	f.mu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn()
		}
	}
}

type fakeStore struct {
	mu          sync.Mutex
	seen        map[string]bool
	prepends    []cache.Message
	invalidated []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{seen: make(map[string]bool)}
}

func (s *fakeStore) PrependMessage(m cache.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := m.ConversationID + "/" + m.ID
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	s.prepends = append(s.prepends, m)
	return true, nil
}

func (s *fakeStore) Invalidate(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, key)
	return nil
}

func (s *fakeStore) prependedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.prepends))
	for _, m := range s.prepends {
		ids = append(ids, m.ID)
	}
	return ids
}

func (s *fakeStore) invalidatedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.invalidated)
}

type fixture struct {
	client *Client
	ft     *fakeTransport
	store  *fakeStore
	creds  *fakeCreds
	queue  *outbox.Queue
	net    *netmon.Manual
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	logger := zap.NewNop()
	ft := newFakeTransport()
	net := netmon.NewManual(online)
	queue := outbox.New()
	b := bus.New()
	tracker := presence.NewTracker(ft, presence.Config{
		LocalTimeout: 40 * time.Millisecond,
		RemoteTTL:    80 * time.Millisecond,
	}, logger)
	store := newFakeStore()
	rec := reconcile.New(store, tracker, b, logger)
	mgr := conn.NewManager(conn.Options{
		Transport:   ft,
		Net:         net,
		Outbox:      queue,
		Rooms:       rooms.NewController(ft, logger),
		Bus:         b,
		Logger:      logger,
		Backoff:     backoff.Policy{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond, CapExponent: 2},
		MaxAttempts: 3,
	})
	fc := &fakeCreds{}
	c := New(Options{
		Transport:  ft,
		Manager:    mgr,
		Outbox:     queue,
		Presence:   tracker,
		Reconciler: rec,
		Creds:      fc,
		Logger:     logger,
	})
	t.Cleanup(c.Teardown)
	return &fixture{client: c, ft: ft, store: store, creds: fc, queue: queue, net: net}
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	ch := make(chan conn.Status, 16)
	unsub := f.client.SubscribeStatus(func(s conn.Status) { ch <- s })
	defer unsub()
	f.client.Connect()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if s == conn.StatusConnected {
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for connected status")
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newMessageEvent(id, conversationID, body string) transport.Event {
	return transport.Event{
		Name: transport.EventNewMessage,
		Message: &transport.Message{
			ID:             id,
			ConversationID: conversationID,
			SenderID:       "u1",
			SenderName:     "Ana",
			Body:           body,
			SentAtMs:       time.Now().UnixMilli(),
		},
	}
}

func TestSendMessageLiveWhenConnected(t *testing.T) {
	fx := newFixture(t, true)
	fx.connect(t)

	id := fx.client.SendMessage("c1", "hello")
	if id == "" {
		t.Fatal("SendMessage returned empty id")
	}
	sends := fx.ft.sentMessages()
	if len(sends) != 1 {
		t.Fatalf("transport saw %d sends, want 1", len(sends))
	}
	if sends[0].ClientID != id || sends[0].Body != "hello" {
		t.Fatalf("send = %+v, want clientId %s body hello", sends[0], id)
	}
	if sends[0].QueuedAtMs != 0 {
		t.Fatalf("live send carries queuedAt %d, want 0", sends[0].QueuedAtMs)
	}
	if got := fx.queue.Len(); got != 0 {
		t.Fatalf("outbox length = %d, want 0", got)
	}
}

func TestSendMessageQueuedWhileDisconnected(t *testing.T) {
	fx := newFixture(t, true)

	id := fx.client.SendMessage("c1", "later")
	if id == "" {
		t.Fatal("SendMessage returned empty id")
	}
	if got := len(fx.ft.sentMessages()); got != 0 {
		t.Fatalf("transport saw %d sends while disconnected, want 0", got)
	}
	if got := fx.queue.Len(); got != 1 {
		t.Fatalf("outbox length = %d, want 1", got)
	}

	fx.connect(t)
	waitFor(t, "drain", func() bool { return len(fx.ft.sentMessages()) == 1 })
	sent := fx.ft.sentMessages()[0]
	if sent.ClientID != id {
		t.Fatalf("drained clientId = %s, want %s", sent.ClientID, id)
	}
	if sent.QueuedAtMs == 0 {
		t.Fatal("drained send missing queuedAt tag")
	}
}

func TestSendMessageFallsBackToOutboxOnWriteError(t *testing.T) {
	fx := newFixture(t, true)
	fx.connect(t)
	fx.ft.mu.Lock()
	fx.ft.sendErrs = 1
	fx.ft.mu.Unlock()

	id := fx.client.SendMessage("c1", "flaky")
	if id == "" {
		t.Fatal("SendMessage returned empty id")
	}
	if got := len(fx.ft.sentMessages()); got != 0 {
		t.Fatalf("transport saw %d sends, want 0", got)
	}
	if got := fx.queue.Len(); got != 1 {
		t.Fatalf("outbox length = %d, want 1", got)
	}
}

func TestSendMessageRejectsEmptyArguments(t *testing.T) {
	fx := newFixture(t, true)
	if id := fx.client.SendMessage("", "body"); id != "" {
		t.Fatalf("id = %q, want empty", id)
	}
	if id := fx.client.SendMessage("c1", ""); id != "" {
		t.Fatalf("id = %q, want empty", id)
	}
	if got := fx.queue.Len(); got != 0 {
		t.Fatalf("outbox length = %d, want 0", got)
	}
}

func TestCredentialRotationReconnects(t *testing.T) {
	fx := newFixture(t, true)
	fx.connect(t)
	if got := fx.ft.dialCount(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}

	fx.creds.rotate()
	waitFor(t, "redial", func() bool { return fx.ft.dialCount() == 2 })
	waitFor(t, "connected", func() bool { return fx.client.Status() == conn.StatusConnected })
}

func TestTeardownStopsCredentialWatch(t *testing.T) {
	fx := newFixture(t, true)
	fx.connect(t)

	fx.client.Teardown()
	dials := fx.ft.dialCount()
	fx.creds.rotate()
	time.Sleep(30 * time.Millisecond)
	if got := fx.ft.dialCount(); got != dials {
		t.Fatalf("rotation after Teardown dialed (%d -> %d)", dials, got)
	}
	if got := fx.client.Status(); got != conn.StatusDisconnected {
		t.Fatalf("Status() = %s, want %s", got, conn.StatusDisconnected)
	}
}

func TestInboundMessageReachesStore(t *testing.T) {
	fx := newFixture(t, true)
	fx.connect(t)

	fx.ft.push(newMessageEvent("m1", "c1", "hello"))
	fx.ft.push(newMessageEvent("m1", "c1", "hello"))

	if got, want := fx.store.prependedIDs(), []string{"m1"}; !slices.Equal(got, want) {
		t.Fatalf("prepended ids = %v, want %v", got, want)
	}
	keys := fx.store.invalidatedKeys()
	if !slices.Contains(keys, cache.QueryConversations) || !slices.Contains(keys, cache.QueryUnread) {
		t.Fatalf("invalidated keys = %v, want conversations and unread", keys)
	}
}

func TestInboundTypingUpdatesObservers(t *testing.T) {
	fx := newFixture(t, true)
	fx.connect(t)
	fx.client.SetActiveConversation("c1")

	updates := make(chan []presence.TypingUser, 16)
	unsub := fx.client.SubscribeTyping(func(users []presence.TypingUser) { updates <- users })
	defer unsub()
	if got := <-updates; len(got) != 0 {
		t.Fatalf("initial typing set = %v, want empty", got)
	}

	fx.ft.push(transport.Event{
		Name:   transport.EventTypingStart,
		Typing: &transport.Typing{ConversationID: "c1", UserID: "u7", DisplayName: "Bea"},
	})
	got := <-updates
	if len(got) != 1 || got[0].UserID != "u7" {
		t.Fatalf("typing set = %v, want [u7]", got)
	}

	fx.ft.push(transport.Event{
		Name:   transport.EventTypingStop,
		Typing: &transport.Typing{ConversationID: "c1", UserID: "u7"},
	})
	if got := <-updates; len(got) != 0 {
		t.Fatalf("typing set after stop = %v, want empty", got)
	}
}

func TestStartTypingUsesActiveConversation(t *testing.T) {
	fx := newFixture(t, true)
	fx.connect(t)

	// No active conversation: nothing to announce.
	fx.client.StartTyping()
	if got := len(fx.ft.typingStartsSent()); got != 0 {
		t.Fatalf("typing starts = %d, want 0", got)
	}

	fx.client.SetActiveConversation("c3")
	fx.client.StartTyping()
	if got, want := fx.ft.typingStartsSent(), []string{"c3"}; !slices.Equal(got, want) {
		t.Fatalf("typing starts = %v, want %v", got, want)
	}
	fx.client.StopTyping()
}

func TestMarkRead(t *testing.T) {
	fx := newFixture(t, true)

	// Dropped while disconnected.
	fx.client.MarkRead("c1")
	if got := len(fx.ft.markReadsSent()); got != 0 {
		t.Fatalf("mark_reads while disconnected = %d, want 0", got)
	}

	fx.connect(t)
	fx.client.MarkRead("c1")
	if got, want := fx.ft.markReadsSent(), []string{"c1"}; !slices.Equal(got, want) {
		t.Fatalf("mark_reads = %v, want %v", got, want)
	}
}
