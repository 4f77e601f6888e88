// Package reconcile applies server-pushed events to local state: messages
// into the cache, typing signals into the presence tracker, read receipts
// into query invalidations.
package reconcile

import (
	"go.uber.org/zap"

	"github.com/hearthhq/hearth/internal/bus"
	"github.com/hearthhq/hearth/internal/cache"
	"github.com/hearthhq/hearth/internal/presence"
	"github.com/hearthhq/hearth/internal/transport"
)

// Bus event kinds published by the reconciler.
const (
	EventMessageApplied = "cache.message_applied"
	EventInvalidated    = "cache.invalidated"
)

// MessageApplied is the bus payload for EventMessageApplied.
type MessageApplied struct {
	ConversationID string
	MessageID      string
}

// Invalidated is the bus payload for EventInvalidated.
type Invalidated struct {
	Keys []string
}

// Reconciler ingests realtime events. Every handler is idempotent: the
// server may re-deliver an event after a reconnect, and applying it again
// must change nothing.
type Reconciler struct {
	store    cache.Store
	presence *presence.Tracker
	bus      *bus.Bus
	logger   *zap.Logger
}

// New creates a reconciler writing through store and tracker.
func New(store cache.Store, tracker *presence.Tracker, b *bus.Bus, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		presence: tracker,
		bus:      b,
		logger:   logger,
	}
}

// Apply ingests one server push. It runs on the transport's read goroutine,
// so events apply in server emission order. Failures are logged, never
// returned: a bad event must not take the connection down.
func (r *Reconciler) Apply(evt transport.Event) {
	switch evt.Name {
	case transport.EventNewMessage:
		r.applyMessage(evt.Message)
	case transport.EventTypingStart:
		if evt.Typing == nil {
			return
		}
		r.presence.OnTypingStart(presence.TypingUser{
			ConversationID: evt.Typing.ConversationID,
			UserID:         evt.Typing.UserID,
			DisplayName:    evt.Typing.DisplayName,
		})
	case transport.EventTypingStop:
		if evt.Typing == nil {
			return
		}
		r.presence.OnTypingStop(evt.Typing.ConversationID, evt.Typing.UserID)
	case transport.EventReadReceipt:
		r.applyReceipt(evt.Receipt)
	default:
		r.logger.Debug("unhandled event", zap.String("event", evt.Name))
	}
}

func (r *Reconciler) applyMessage(m *transport.Message) {
	if m == nil {
		return
	}
	inserted, err := r.store.PrependMessage(cache.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Body:           m.Body,
		SentAt:         m.SentAtMs,
	})
	if err != nil {
		r.logger.Error("failed to cache message", zap.Error(err), zap.String("msg_id", m.ID))
		return
	}
	if !inserted {
		r.logger.Debug("duplicate message dropped", zap.String("msg_id", m.ID))
		return
	}

	// A new message changes the conversation-list summary and the unread
	// aggregate; both are recomputed server-side on the next fetch.
	keys := []string{cache.QueryConversations, cache.QueryUnread}
	for _, key := range keys {
		if err := r.store.Invalidate(key); err != nil {
			r.logger.Error("failed to invalidate query", zap.Error(err), zap.String("key", key))
		}
	}

	r.bus.Emit(EventMessageApplied, MessageApplied{
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
	})
	r.bus.Emit(EventInvalidated, Invalidated{Keys: keys})
}

func (r *Reconciler) applyReceipt(rec *transport.ReadReceipt) {
	if rec == nil {
		return
	}
	key := cache.QueryConversation(rec.ConversationID)
	if err := r.store.Invalidate(key); err != nil {
		r.logger.Error("failed to invalidate query", zap.Error(err), zap.String("key", key))
		return
	}
	r.bus.Emit(EventInvalidated, Invalidated{Keys: []string{key}})
}
