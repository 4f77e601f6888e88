// Package presence tracks who is typing in the conversation the user is
// looking at, and manages the local user's own typing announcements.
package presence

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthhq/hearth/internal/transport"
)

const (
	// DefaultLocalTimeout is how long after the last keystroke signal the
	// local typing announcement auto-stops.
	DefaultLocalTimeout = 3 * time.Second
	// DefaultRemoteTTL evicts a remote typing entry that never saw a
	// typing_stop, e.g. because the sender's connection died mid-compose.
	DefaultRemoteTTL = 6 * time.Second
)

// TypingUser is a remote participant currently composing a message.
type TypingUser struct {
	ConversationID string
	UserID         string
	DisplayName    string
}

// Emitter transmits typing signals to the service. Emissions while the
// channel is down are dropped, never queued: stale typing indicators are
// worse than missing ones.
type Emitter interface {
	TypingStart(conversationID string) error
	TypingStop(conversationID string) error
}

// Config tunes tracker timers. Zero values take the defaults.
type Config struct {
	LocalTimeout time.Duration
	RemoteTTL    time.Duration
}

type entry struct {
	user  TypingUser
	seq   int
	timer *time.Timer
}

// Tracker maintains the typing set for the observed conversation. A tracker
// observes at most one conversation at a time; events for any other
// conversation are ignored.
type Tracker struct {
	emitter Emitter
	logger  *zap.Logger
	local   time.Duration
	ttl     time.Duration

	mu           sync.Mutex
	conversation string
	entries      map[string]*entry
	order        []string
	subs         map[int]func([]TypingUser)
	nextSub      int

	localConv  string
	localSeq   int
	localTimer *time.Timer
}

// NewTracker creates a tracker that is not yet observing any conversation.
func NewTracker(emitter Emitter, cfg Config, logger *zap.Logger) *Tracker {
	if cfg.LocalTimeout <= 0 {
		cfg.LocalTimeout = DefaultLocalTimeout
	}
	if cfg.RemoteTTL <= 0 {
		cfg.RemoteTTL = DefaultRemoteTTL
	}
	return &Tracker{
		emitter: emitter,
		logger:  logger,
		local:   cfg.LocalTimeout,
		ttl:     cfg.RemoteTTL,
		entries: make(map[string]*entry),
		subs:    make(map[int]func([]TypingUser)),
	}
}

// SetConversation switches the observed conversation. The typing set is
// cleared, pending expiry timers are cancelled, and an armed local typing
// announcement for the previous conversation is retracted. Pass "" to stop
// observing entirely.
func (t *Tracker) SetConversation(conversationID string) {
	t.mu.Lock()
	if t.conversation == conversationID {
		t.mu.Unlock()
		return
	}
	t.conversation = conversationID
	hadEntries := len(t.entries) > 0
	for _, e := range t.entries {
		e.timer.Stop()
	}
	t.entries = make(map[string]*entry)
	t.order = nil

	stopConv := t.resetLocalLocked()
	var fns []func([]TypingUser)
	if hadEntries {
		fns = t.subscribersLocked()
	}
	t.mu.Unlock()

	t.emitStop(stopConv)
	notify(fns, nil)
}

// Conversation returns the currently observed conversation id.
func (t *Tracker) Conversation() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversation
}

// OnTypingStart records a remote participant composing. Repeats for a user
// already in the set refresh that entry's expiry and change nothing else.
func (t *Tracker) OnTypingStart(u TypingUser) {
	t.mu.Lock()
	if t.conversation == "" || u.ConversationID != t.conversation {
		t.mu.Unlock()
		return
	}
	if e, ok := t.entries[u.UserID]; ok {
		e.seq++
		e.timer.Stop()
		e.timer = t.armExpiry(u.UserID, e.seq)
		t.mu.Unlock()
		return
	}
	e := &entry{user: u}
	e.timer = t.armExpiry(u.UserID, 0)
	t.entries[u.UserID] = e
	t.order = append(t.order, u.UserID)
	snapshot := t.snapshotLocked()
	fns := t.subscribersLocked()
	t.mu.Unlock()

	notify(fns, snapshot)
}

// OnTypingStop removes a remote participant from the typing set. Stops for
// users not in the set are no-ops.
func (t *Tracker) OnTypingStop(conversationID, userID string) {
	t.mu.Lock()
	if t.conversation == "" || conversationID != t.conversation {
		t.mu.Unlock()
		return
	}
	e, ok := t.entries[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.timer.Stop()
	t.removeLocked(userID)
	snapshot := t.snapshotLocked()
	fns := t.subscribersLocked()
	t.mu.Unlock()

	notify(fns, snapshot)
}

// StartLocal announces the local user is composing in conversationID and
// arms the auto-stop timer. Calling it again re-arms the timer, so a user
// typing continuously keeps the announcement alive with a single start.
func (t *Tracker) StartLocal(conversationID string) {
	if conversationID == "" {
		return
	}
	t.mu.Lock()
	if t.localTimer != nil {
		t.localTimer.Stop()
	}
	t.localConv = conversationID
	t.localSeq++
	seq := t.localSeq
	t.localTimer = time.AfterFunc(t.local, func() { t.autoStopLocal(seq) })
	t.mu.Unlock()

	if err := t.emitter.TypingStart(conversationID); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		t.logger.Debug("typing start not sent", zap.Error(err))
	}
}

// StopLocal retracts the local typing announcement immediately.
func (t *Tracker) StopLocal() {
	t.mu.Lock()
	conv := t.resetLocalLocked()
	t.mu.Unlock()

	t.emitStop(conv)
}

// Subscribe registers an observer for typing set changes. The observer is
// invoked immediately with the current set, then on every change. The
// returned function removes the subscription.
func (t *Tracker) Subscribe(fn func([]TypingUser)) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	fn(snapshot)

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Typing returns the current typing set in arrival order.
func (t *Tracker) Typing() []TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) autoStopLocal(seq int) {
	t.mu.Lock()
	if seq != t.localSeq {
		t.mu.Unlock()
		return
	}
	conv := t.localConv
	t.localConv = ""
	t.localTimer = nil
	t.mu.Unlock()

	t.emitStop(conv)
}

// armExpiry must be called with t.mu held.
func (t *Tracker) armExpiry(userID string, seq int) *time.Timer {
	return time.AfterFunc(t.ttl, func() { t.expire(userID, seq) })
}

func (t *Tracker) expire(userID string, seq int) {
	t.mu.Lock()
	e, ok := t.entries[userID]
	if !ok || e.seq != seq {
		t.mu.Unlock()
		return
	}
	t.removeLocked(userID)
	snapshot := t.snapshotLocked()
	fns := t.subscribersLocked()
	t.mu.Unlock()

	t.logger.Debug("typing entry expired", zap.String("user", userID))
	notify(fns, snapshot)
}

// resetLocalLocked cancels the local auto-stop timer and returns the
// conversation whose announcement should be retracted, if any.
func (t *Tracker) resetLocalLocked() string {
	if t.localTimer != nil {
		t.localTimer.Stop()
		t.localTimer = nil
	}
	t.localSeq++
	conv := t.localConv
	t.localConv = ""
	return conv
}

func (t *Tracker) removeLocked(userID string) {
	delete(t.entries, userID)
	for i, id := range t.order {
		if id == userID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *Tracker) snapshotLocked() []TypingUser {
	out := make([]TypingUser, 0, len(t.order))
	for _, id := range t.order {
		if e, ok := t.entries[id]; ok {
			out = append(out, e.user)
		}
	}
	return out
}

func (t *Tracker) subscribersLocked() []func([]TypingUser) {
	fns := make([]func([]TypingUser), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	return fns
}

func (t *Tracker) emitStop(conversationID string) {
	if conversationID == "" {
		return
	}
	if err := t.emitter.TypingStop(conversationID); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		t.logger.Debug("typing stop not sent", zap.Error(err))
	}
}

func notify(fns []func([]TypingUser), snapshot []TypingUser) {
	for _, fn := range fns {
		fn(snapshot)
	}
}
