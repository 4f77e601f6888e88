// Package client bundles the sync engine's moving parts behind the surface
// the application talks to: send a message, follow connection status, watch
// who is typing, mark conversations read.
package client

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hearthhq/hearth/internal/conn"
	"github.com/hearthhq/hearth/internal/creds"
	"github.com/hearthhq/hearth/internal/outbox"
	"github.com/hearthhq/hearth/internal/presence"
	"github.com/hearthhq/hearth/internal/reconcile"
	"github.com/hearthhq/hearth/internal/transport"
)

// Options carries the assembled components. All fields are required.
type Options struct {
	Transport  transport.Transport
	Manager    *conn.Manager
	Outbox     *outbox.Queue
	Presence   *presence.Tracker
	Reconciler *reconcile.Reconciler
	Creds      creds.Source
	Logger     *zap.Logger
}

// Client is the application-facing handle on the sync engine. One Client
// serves one authenticated session.
type Client struct {
	transport  transport.Transport
	manager    *conn.Manager
	outbox     *outbox.Queue
	presence   *presence.Tracker
	logger     *zap.Logger
	credsUnsub func()
}

// New wires inbound traffic to the reconciler and drop notifications to the
// connection manager, and arms a forced reconnect on credential rotation.
func New(opts Options) *Client {
	c := &Client{
		transport: opts.Transport,
		manager:   opts.Manager,
		outbox:    opts.Outbox,
		presence:  opts.Presence,
		logger:    opts.Logger,
	}
	opts.Transport.SetHandler(transport.Handler{
		OnEvent:      opts.Reconciler.Apply,
		OnDisconnect: opts.Manager.OnDisconnect,
	})
	c.credsUnsub = opts.Creds.Subscribe(func() {
		c.logger.Info("credential rotated, reconnecting")
		c.manager.Reconnect()
	})
	return c
}

// Connect starts the realtime connection.
func (c *Client) Connect() { c.manager.Connect() }

// Reconnect forces a fresh connection.
func (c *Client) Reconnect() { c.manager.Reconnect() }

// Teardown shuts the engine down: typing state is retracted, the credential
// watch is removed, and the connection is closed for good.
func (c *Client) Teardown() {
	c.credsUnsub()
	c.presence.SetConversation("")
	c.manager.Teardown()
}

// Status returns the current connection status.
func (c *Client) Status() conn.Status { return c.manager.Status() }

// SubscribeStatus registers a status observer. The current value is
// delivered before SubscribeStatus returns.
func (c *Client) SubscribeStatus(fn func(conn.Status)) func() {
	return c.manager.Subscribe(fn)
}

// SubscribeTyping registers an observer of the active conversation's typing
// set. The current set is delivered before SubscribeTyping returns.
func (c *Client) SubscribeTyping(fn func([]presence.TypingUser)) func() {
	return c.presence.Subscribe(fn)
}

// Typing returns who is typing in the active conversation.
func (c *Client) Typing() []presence.TypingUser { return c.presence.Typing() }

// SetActiveConversation moves room membership and typing scope to the given
// conversation. Pass "" when the user navigates away from all conversations.
func (c *Client) SetActiveConversation(conversationID string) {
	c.manager.SetActive(conversationID)
	c.presence.SetConversation(conversationID)
}

// ActiveConversation returns the conversation currently in view, or "".
func (c *Client) ActiveConversation() string { return c.manager.Active() }

// SendMessage delivers body to a conversation. Connected, it goes straight
// to the transport; otherwise, or if the live send fails, it lands in the
// outbox and is replayed on the next Connected transition. Sending never
// fails from the caller's point of view. The returned id identifies the send
// locally; it is empty only when the arguments are empty.
func (c *Client) SendMessage(conversationID, body string) string {
	if conversationID == "" || body == "" {
		return ""
	}
	if c.manager.Status() == conn.StatusConnected {
		send := transport.Send{
			ConversationID: conversationID,
			Body:           body,
			ClientID:       uuid.NewString(),
		}
		err := c.transport.SendMessage(send)
		if err == nil {
			return send.ClientID
		}
		c.logger.Debug("live send failed, queueing", zap.Error(err))
	}
	return c.outbox.Enqueue(conversationID, body)
}

// Pending returns the messages waiting in the outbox.
func (c *Client) Pending() []outbox.Message { return c.outbox.Snapshot() }

// StartTyping announces the local user is composing in the active
// conversation. Repeated calls keep the announcement alive; it retracts
// itself when they stop.
func (c *Client) StartTyping() {
	if id := c.manager.Active(); id != "" {
		c.presence.StartLocal(id)
	}
}

// StopTyping retracts the local typing announcement immediately.
func (c *Client) StopTyping() { c.presence.StopLocal() }

// MarkRead tells the service the local user has read a conversation. Dropped
// while disconnected: read state is refetched wholesale after reconnecting,
// so a lost receipt self-heals.
func (c *Client) MarkRead(conversationID string) {
	if conversationID == "" {
		return
	}
	if err := c.transport.MarkRead(conversationID); err != nil {
		c.logger.Debug("mark_read not sent", zap.Error(err))
	}
}
