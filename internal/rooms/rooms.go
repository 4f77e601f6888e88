// Package rooms tracks which conversation rooms the current connection has
// joined. Room membership lives on the server side of the connection, so it
// dies with the connection; the controller's set mirrors only what this
// connection has asked for.
package rooms

import (
	"sync"

	"go.uber.org/zap"
)

// Emitter transmits membership changes. The transport implements it.
type Emitter interface {
	Join(conversationID string) error
	Leave(conversationID string) error
	Connected() bool
}

// Controller issues join/leave requests and remembers which joins were
// actually sent. Requests while disconnected are dropped, not queued: after
// a reconnect the connection manager re-establishes membership for the
// active conversation explicitly.
type Controller struct {
	emitter Emitter
	logger  *zap.Logger

	mu     sync.Mutex
	joined map[string]struct{}
}

// NewController creates a controller with an empty membership set.
func NewController(emitter Emitter, logger *zap.Logger) *Controller {
	return &Controller{
		emitter: emitter,
		logger:  logger,
		joined:  make(map[string]struct{}),
	}
}

// Join requests membership in a conversation's room. Joining a room already
// joined is harmless: the server treats repeated joins as a no-op, and the
// set keeps a single entry. Returns false when the request was dropped
// because the transport is down.
func (c *Controller) Join(conversationID string) bool {
	if conversationID == "" {
		return false
	}
	if !c.emitter.Connected() {
		c.logger.Debug("join dropped, transport down", zap.String("conversation", conversationID))
		return false
	}
	if err := c.emitter.Join(conversationID); err != nil {
		c.logger.Warn("join failed", zap.String("conversation", conversationID), zap.Error(err))
		return false
	}

	c.mu.Lock()
	c.joined[conversationID] = struct{}{}
	c.mu.Unlock()
	return true
}

// Leave requests departure from a conversation's room. Leaving a room never
// joined still emits; the server ignores it. Returns false when the request
// was dropped because the transport is down.
func (c *Controller) Leave(conversationID string) bool {
	if conversationID == "" {
		return false
	}

	c.mu.Lock()
	delete(c.joined, conversationID)
	c.mu.Unlock()

	if !c.emitter.Connected() {
		c.logger.Debug("leave dropped, transport down", zap.String("conversation", conversationID))
		return false
	}
	if err := c.emitter.Leave(conversationID); err != nil {
		c.logger.Warn("leave failed", zap.String("conversation", conversationID), zap.Error(err))
		return false
	}
	return true
}

// Joined reports whether a join has been sent for the conversation on the
// current connection.
func (c *Controller) Joined(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.joined[conversationID]
	return ok
}

// Memberships returns the conversations joined on the current connection.
func (c *Controller) Memberships() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.joined))
	for id := range c.joined {
		out = append(out, id)
	}
	return out
}

// Reset forgets all memberships. Called when the connection drops, since
// server-side membership did not survive it.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.joined = make(map[string]struct{})
	c.mu.Unlock()
}
