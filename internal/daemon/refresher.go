package daemon

import (
	"context"
	"strings"
	"sync"

	"github.com/hearthhq/hearth/internal/bus"
	"github.com/hearthhq/hearth/internal/cache"
	"github.com/hearthhq/hearth/internal/history"
	"github.com/hearthhq/hearth/internal/reconcile"
	"go.uber.org/zap"
)

// refreshBuffer is the bus queue depth for invalidation events. Bursts
// beyond it are dropped; the stale flags stay set in sqlite, so the next
// startup sweep catches up.
const refreshBuffer = 256

// Refresher keeps the sqlite cache warm. On startup it seeds an empty cache
// from the server, or catches up on queries a previous run left stale. After
// that it refetches whatever the reconciler marks stale, clearing each stale
// flag only once the server copy has landed in the cache.
type Refresher struct {
	db     *cache.DB
	hist   *history.Client
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefresher returns a stopped refresher. Call Start to begin.
func NewRefresher(db *cache.DB, hist *history.Client, b *bus.Bus, logger *zap.Logger) *Refresher {
	return &Refresher{
		db:     db,
		hist:   hist,
		bus:    b,
		logger: logger,
	}
}

// Start bootstraps the cache in the background and then consumes
// invalidation events until ctx is cancelled or Stop is called.
func (r *Refresher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	events, unsub := r.bus.Subscribe(reconcile.EventInvalidated, refreshBuffer)
	go func() {
		defer close(done)
		defer unsub()
		r.bootstrap(ctx)
		for {
			select {
			case evt := <-events:
				r.handle(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the refresher. Safe to call before Start and more than once.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (r *Refresher) bootstrap(ctx context.Context) {
	count, err := r.db.ConversationCount()
	if err != nil {
		r.logger.Error("conversation count", zap.Error(err))
		return
	}
	if count == 0 {
		r.logger.Info("cache empty, seeding from server")
		r.seed(ctx)
		return
	}
	// Warm start: catch up on anything a previous run left stale, and
	// refresh the conversation list so the UI opens on current data.
	keys, err := r.db.StaleQueries()
	if err != nil {
		r.logger.Error("list stale queries", zap.Error(err))
		keys = nil
	}
	r.refresh(ctx, append(keys, cache.QueryConversations))
}

// seed populates an empty cache with the first page of conversations and
// each conversation's newest messages. Failures are logged and skipped so
// the daemon still comes up offline with an empty cache.
func (r *Refresher) seed(ctx context.Context) {
	page, err := r.hist.Conversations(ctx, 0)
	if err != nil {
		r.logger.Warn("seed skipped, conversation list unavailable", zap.Error(err))
		return
	}
	for i := range page.Items {
		conv := &page.Items[i]
		if err := r.db.UpsertConversation(conv); err != nil {
			r.logger.Error("seed conversation", zap.String("conversation_id", conv.ID), zap.Error(err))
			continue
		}
		msgs, err := r.hist.Messages(ctx, conv.ID, 0, cache.DefaultPageSize)
		if err != nil {
			r.logger.Warn("seed messages", zap.String("conversation_id", conv.ID), zap.Error(err))
			continue
		}
		if err := r.db.PutMessages(msgs.Items); err != nil {
			r.logger.Error("store seeded messages", zap.String("conversation_id", conv.ID), zap.Error(err))
		}
	}
	r.logger.Info("cache seeded", zap.Int("conversations", len(page.Items)))
}

func (r *Refresher) handle(ctx context.Context, evt bus.Event) {
	inv, ok := evt.Payload.(reconcile.Invalidated)
	if !ok {
		return
	}
	r.refresh(ctx, inv.Keys)
}

func (r *Refresher) refresh(ctx context.Context, keys []string) {
	list := false
	for _, key := range keys {
		switch {
		case key == cache.QueryConversations || key == cache.QueryUnread:
			// Both are served by the same list fetch; do it once per batch.
			list = true
		case strings.HasPrefix(key, cache.QueryConversationPrefix):
			r.refreshConversation(ctx, strings.TrimPrefix(key, cache.QueryConversationPrefix))
		}
	}
	if list {
		r.refreshConversationList(ctx)
	}
}

func (r *Refresher) refreshConversationList(ctx context.Context) {
	page, err := r.hist.Conversations(ctx, 0)
	if err != nil {
		r.logger.Warn("conversation list refresh failed, cache stays stale", zap.Error(err))
		return
	}
	for i := range page.Items {
		if err := r.db.UpsertConversation(&page.Items[i]); err != nil {
			r.logger.Error("refresh conversation", zap.String("conversation_id", page.Items[i].ID), zap.Error(err))
			return
		}
	}
	r.clearStale(cache.QueryConversations)
	r.clearStale(cache.QueryUnread)
	r.logger.Debug("conversation list refreshed", zap.Int("count", len(page.Items)))
}

func (r *Refresher) refreshConversation(ctx context.Context, id string) {
	conv, err := r.hist.Conversation(ctx, id)
	if err != nil {
		r.logger.Warn("conversation refresh failed, cache stays stale",
			zap.String("conversation_id", id), zap.Error(err))
		return
	}
	if err := r.db.UpsertConversation(conv); err != nil {
		r.logger.Error("refresh conversation", zap.String("conversation_id", id), zap.Error(err))
		return
	}
	r.clearStale(cache.QueryConversation(id))
}

func (r *Refresher) clearStale(key string) {
	if err := r.db.ClearStale(key); err != nil {
		r.logger.Error("clear stale flag", zap.String("query", key), zap.Error(err))
	}
}
