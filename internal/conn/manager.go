// Package conn owns the realtime connection lifecycle for one session: it
// dials the transport, keeps the externally visible status truthful, retries
// with capped exponential backoff, and re-establishes room membership and
// queued sends when a connection comes back.
package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthhq/hearth/internal/backoff"
	"github.com/hearthhq/hearth/internal/bus"
	"github.com/hearthhq/hearth/internal/netmon"
	"github.com/hearthhq/hearth/internal/outbox"
	"github.com/hearthhq/hearth/internal/rooms"
	"github.com/hearthhq/hearth/internal/transport"
)

// Bus event kinds published by the manager.
const (
	EventStatusChanged  = "conn.status_changed"
	EventAuthFailed     = "conn.auth_failed"
	EventRetryExhausted = "conn.retry_exhausted"
	EventOutboxDrained  = "outbox.drained"
)

// DefaultMaxAttempts is how many consecutive failed dials the manager makes
// before it parks at Disconnected and waits for an explicit trigger.
const DefaultMaxAttempts = 10

const defaultDialTimeout = 15 * time.Second

// Options configures a Manager. Transport, Net, Outbox, Rooms, Bus and
// Logger are required; the rest fall back to defaults.
type Options struct {
	Transport   transport.Transport
	Net         netmon.Monitor
	Outbox      *outbox.Queue
	Rooms       *rooms.Controller
	Bus         *bus.Bus
	Logger      *zap.Logger
	Backoff     backoff.Policy
	MaxAttempts int
	DialTimeout time.Duration
}

// Manager is the sole owner and mutator of the connection status. Everything
// else observes it through Subscribe or the bus. One session has exactly one
// Manager over exactly one transport.
type Manager struct {
	transport   transport.Transport
	net         netmon.Monitor
	outbox      *outbox.Queue
	rooms       *rooms.Controller
	bus         *bus.Bus
	logger      *zap.Logger
	policy      backoff.Policy
	maxAttempts int
	dialTimeout time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	netUnsub func()

	mu         sync.Mutex
	status     Status
	attempts   int
	active     string
	gen        int
	dialing    bool
	redial     bool
	authParked bool
	retry      *time.Timer
	tornDown   bool
	subs       map[int]func(Status)
	nextSub    int
}

// NewManager creates a Manager in the Disconnected state. It does not dial;
// call Connect to start.
func NewManager(opts Options) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.Backoff == (backoff.Policy{}) {
		opts.Backoff = backoff.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		transport:   opts.Transport,
		net:         opts.Net,
		outbox:      opts.Outbox,
		rooms:       opts.Rooms,
		bus:         opts.Bus,
		logger:      opts.Logger,
		policy:      opts.Backoff,
		maxAttempts: opts.MaxAttempts,
		dialTimeout: opts.DialTimeout,
		ctx:         ctx,
		cancel:      cancel,
		status:      StatusDisconnected,
		subs:        make(map[int]func(Status)),
	}
	m.netUnsub = opts.Net.Subscribe(m.onNetChange)
	return m
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers an observer for status changes. The current status is
// delivered synchronously before Subscribe returns, so the observer never
// starts blind. The returned function removes the observer.
func (m *Manager) Subscribe(fn func(Status)) func() {
	m.mu.Lock()
	if m.tornDown {
		cur := m.status
		m.mu.Unlock()
		fn(cur)
		return func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	cur := m.status
	m.mu.Unlock()

	fn(cur)
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Connect starts the connection unless one is already up or being dialed.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.tornDown || m.status == StatusConnected || m.status == StatusConnecting {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.authParked = false
	m.stopRetryLocked()
	m.mu.Unlock()
	m.tryDial()
}

// Reconnect drops the current connection, if any, and dials fresh. Used when
// the bearer credential rotates and as the manual escape hatch after retry
// exhaustion. Observers see the normal status sequence.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.attempts = 0
	m.authParked = false
	m.stopRetryLocked()
	fns := m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()

	m.notify(fns, StatusDisconnected)
	m.rooms.Reset()
	if err := m.transport.Close(); err != nil {
		m.logger.Warn("transport close failed", zap.Error(err))
	}
	m.logger.Info("forcing reconnect")
	m.tryDial()
}

// Teardown permanently shuts the manager down: the final Disconnected status
// is delivered, observers are cleared and the transport is closed. The
// manager cannot be restarted afterwards.
func (m *Manager) Teardown() {
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return
	}
	m.tornDown = true
	m.gen++
	m.stopRetryLocked()
	fns := m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()

	m.notify(fns, StatusDisconnected)
	m.netUnsub()
	m.cancel()
	if err := m.transport.Close(); err != nil {
		m.logger.Warn("transport close failed", zap.Error(err))
	}

	m.mu.Lock()
	m.subs = make(map[int]func(Status))
	m.mu.Unlock()
	m.logger.Info("connection manager torn down")
}

// SetActive records the conversation the user is viewing and moves room
// membership to it. The active conversation is rejoined automatically on
// every Connected transition, so membership survives reconnects without the
// caller resubscribing.
func (m *Manager) SetActive(conversationID string) {
	m.mu.Lock()
	prev := m.active
	m.active = conversationID
	m.mu.Unlock()
	if prev == conversationID {
		return
	}
	if prev != "" {
		m.rooms.Leave(prev)
	}
	if conversationID != "" {
		m.rooms.Join(conversationID)
	}
}

// Active returns the conversation currently marked active, or "".
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// OnDisconnect is wired as the transport's disconnect callback. A drop
// reported while the status is anything but Connected is stale: it concerns
// a connection that a reconnect or teardown already replaced.
func (m *Manager) OnDisconnect(err error) {
	m.mu.Lock()
	if m.tornDown || m.status != StatusConnected {
		m.mu.Unlock()
		return
	}
	var to Status
	if m.net.Online() {
		to = StatusDisconnected
		m.scheduleRetryLocked(m.policy.Delay(0))
	} else {
		to = StatusOffline
	}
	fns := m.setStatusLocked(to)
	m.mu.Unlock()

	m.logger.Warn("connection dropped", zap.Error(err), zap.String("status", string(to)))
	m.rooms.Reset()
	m.notify(fns, to)
}

// tryDial transitions to Connecting and starts a dial when the manager is in
// a state where dialing makes sense. With no network it parks at Offline and
// waits for the online signal instead.
func (m *Manager) tryDial() {
	m.mu.Lock()
	if m.tornDown || m.status == StatusConnected {
		m.mu.Unlock()
		return
	}
	if !m.net.Online() {
		fns := m.setStatusLocked(StatusOffline)
		m.mu.Unlock()
		m.notify(fns, StatusOffline)
		return
	}
	fns := m.setStatusLocked(StatusConnecting)
	if m.dialing {
		// A dial from a superseded generation is still in flight. Flag it
		// to start us again once it unwinds.
		m.redial = true
		m.mu.Unlock()
		m.notify(fns, StatusConnecting)
		return
	}
	m.dialing = true
	gen := m.gen
	m.mu.Unlock()

	m.notify(fns, StatusConnecting)
	go m.dial(gen)
}

// dial runs one connection attempt. gen identifies the connection epoch the
// attempt belongs to; Reconnect and Teardown bump the epoch, so a dial that
// raced one of them discards its result instead of resurrecting a connection
// nobody wants.
func (m *Manager) dial(gen int) {
	ctx, cancel := context.WithTimeout(m.ctx, m.dialTimeout)
	err := m.transport.Connect(ctx)
	cancel()

	m.mu.Lock()
	m.dialing = false
	redial := m.redial
	m.redial = false
	if m.tornDown {
		m.mu.Unlock()
		if err == nil {
			_ = m.transport.Close()
		}
		return
	}
	if gen != m.gen {
		m.mu.Unlock()
		if err == nil {
			_ = m.transport.Close()
		}
		if redial {
			m.tryDial()
		}
		return
	}
	if err == nil && !m.transport.Connected() {
		// The connection died in the instant between the handshake and this
		// lock. Its disconnect callback was ignored because the status was
		// still Connecting, so account for it here.
		err = errors.New("connection lost during handshake")
	}
	if err != nil {
		fns, to := m.failDialLocked(err)
		m.mu.Unlock()
		m.notify(fns, to)
		return
	}

	m.attempts = 0
	active := m.active
	fns := m.setStatusLocked(StatusConnected)
	m.mu.Unlock()

	m.notify(fns, StatusConnected)
	m.rooms.Reset()
	if active != "" {
		m.rooms.Join(active)
	}
	m.drainOutbox()
}

// failDialLocked classifies a dial error and decides whether another attempt
// gets scheduled. Caller holds mu.
func (m *Manager) failDialLocked(err error) ([]func(Status), Status) {
	if errors.Is(err, transport.ErrUnauthorized) {
		// Redialing with the same credential would only be rejected again, so
		// park until rotation or an explicit call; an online signal must not
		// wake us either.
		m.authParked = true
		m.logger.Warn("credential rejected, waiting for a fresh one", zap.Error(err))
		m.bus.Emit(EventAuthFailed, err.Error())
		return m.setStatusLocked(StatusDisconnected), StatusDisconnected
	}
	if !m.net.Online() {
		m.logger.Info("connect failed with no network, waiting for online signal", zap.Error(err))
		return m.setStatusLocked(StatusOffline), StatusOffline
	}
	m.attempts++
	if m.attempts >= m.maxAttempts {
		m.logger.Warn("automatic retries exhausted",
			zap.Int("attempts", m.attempts),
			zap.Error(err))
		m.bus.Emit(EventRetryExhausted, m.attempts)
		return m.setStatusLocked(StatusDisconnected), StatusDisconnected
	}
	delay := m.policy.Delay(m.attempts - 1)
	m.logger.Info("connect failed, retrying",
		zap.Int("attempt", m.attempts),
		zap.Duration("retry_in", delay),
		zap.Error(err))
	m.scheduleRetryLocked(delay)
	return m.setStatusLocked(StatusDisconnected), StatusDisconnected
}

func (m *Manager) retryFire() {
	m.mu.Lock()
	if m.tornDown || m.status == StatusConnected || m.status == StatusConnecting {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.tryDial()
}

func (m *Manager) scheduleRetryLocked(delay time.Duration) {
	m.stopRetryLocked()
	m.retry = time.AfterFunc(delay, m.retryFire)
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

// onNetChange reacts to host connectivity flips. Coming back online resumes
// a parked manager, whether it parked at Offline or ran out of retries at
// Disconnected — but not one parked on a rejected credential, which stays
// down until rotation or an explicit call. Going offline does nothing
/// proactive: a live connection will drop on its own and OnDisconnect will
// see the network is gone.
func (m *Manager) onNetChange(online bool) {
	if !online {
		return
	}
	m.mu.Lock()
	if m.tornDown || m.authParked || (m.status != StatusOffline && m.status != StatusDisconnected) {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.stopRetryLocked()
	m.mu.Unlock()

	m.logger.Info("network is back, reconnecting")
	m.tryDial()
}

// drainOutbox hands queued messages to the transport in FIFO order, each
// tagged with its original enqueue time. Entries already left the queue;
// whatever fails to transmit goes back at the front.
func (m *Manager) drainOutbox() {
	items := m.outbox.Drain()
	if len(items) == 0 {
		return
	}
	for i, msg := range items {
		send := transport.Send{
			ConversationID: msg.ConversationID,
			Body:           msg.Body,
			ClientID:       msg.ID,
			QueuedAtMs:     msg.EnqueuedAt.UnixMilli(),
		}
		if err := m.transport.SendMessage(send); err != nil {
			m.logger.Warn("outbox drain interrupted",
				zap.Int("sent", i),
				zap.Int("requeued", len(items)-i),
				zap.Error(err))
			m.outbox.Requeue(items[i:])
			return
		}
	}
	m.logger.Info("outbox drained", zap.Int("count", len(items)))
	m.bus.Emit(EventOutboxDrained, len(items))
}

// setStatusLocked applies a transition and returns the observers to notify
// once the lock is released. Transitioning to the current status is a no-op.
// Caller holds mu.
func (m *Manager) setStatusLocked(to Status) []func(Status) {
	if m.status == to {
		return nil
	}
	if !canTransition(m.status, to) {
		m.logger.Error("refusing invalid status transition",
			zap.String("from", string(m.status)),
			zap.String("to", string(to)))
		return nil
	}
	from := m.status
	m.status = to
	m.logger.Info("connection status changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	m.bus.Emit(EventStatusChanged, StatusChange{From: from, To: to})

	if len(m.subs) == 0 {
		return nil
	}
	fns := make([]func(Status), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	return fns
}

func (m *Manager) notify(fns []func(Status), s Status) {
	for _, fn := range fns {
		fn(s)
	}
}
