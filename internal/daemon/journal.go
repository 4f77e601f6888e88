package daemon

import (
	"context"
	"strings"
	"sync"

	"github.com/hearthhq/hearth/internal/bus"
	"github.com/hearthhq/hearth/internal/reconcile"
	"go.uber.org/zap"
)

// Journal writes cache activity to the session log. The reconciler stays
// quiet on its hot path, so this is where applied messages and stale marks
// become visible for debugging a session after the fact.
type Journal struct {
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewJournal(b *bus.Bus, logger *zap.Logger) *Journal {
	return &Journal{bus: b, logger: logger}
}

// Start consumes cache events until ctx is cancelled or Stop is called.
func (j *Journal) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	j.mu.Lock()
	j.cancel = cancel
	j.done = done
	j.mu.Unlock()

	events, unsub := j.bus.Subscribe("cache.", 256)
	go func() {
		defer close(done)
		defer unsub()
		for {
			select {
			case evt := <-events:
				j.record(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the journal. Safe to call before Start and more than once.
func (j *Journal) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (j *Journal) record(evt bus.Event) {
	switch evt.Kind {
	case reconcile.EventMessageApplied:
		applied, ok := evt.Payload.(reconcile.MessageApplied)
		if !ok {
			return
		}
		j.logger.Info("message cached",
			zap.String("conversation_id", applied.ConversationID),
			zap.String("message_id", applied.MessageID))
	case reconcile.EventInvalidated:
		inv, ok := evt.Payload.(reconcile.Invalidated)
		if !ok {
			return
		}
		j.logger.Debug("queries marked stale", zap.String("keys", strings.Join(inv.Keys, ",")))
	}
}
