// Package transport maintains the realtime channel to the Hearth backend.
// It exposes the narrow command surface the sync engine emits and delivers
// server pushes through a Handler, leaving reconnection policy to the
// connection manager.
package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by emit operations while the channel is down.
var ErrNotConnected = errors.New("transport: not connected")

// ErrUnauthorized is returned by Connect when the server rejects the
// credential. The connection manager stops auto-retrying until a new
// credential arrives.
var ErrUnauthorized = errors.New("transport: credential rejected")

// Transport is the persistent bidirectional channel to the messaging service.
// Implementations must be safe for concurrent use.
type Transport interface {
	// Connect dials and performs the handshake, blocking until the channel
	// is usable or ctx expires. Errors matching ErrUnauthorized indicate a
	// rejected credential.
	Connect(ctx context.Context) error
	// Close tears the channel down without firing OnDisconnect.
	Close() error
	Connected() bool

	SendMessage(msg Send) error
	Join(conversationID string) error
	Leave(conversationID string) error
	TypingStart(conversationID string) error
	TypingStop(conversationID string) error
	MarkRead(conversationID string) error

	SetHandler(h Handler)
}

// Handler receives inbound traffic and lifecycle callbacks. OnEvent runs on
// the read goroutine, preserving server emission order. OnDisconnect fires
// once per connection when the channel drops for any reason other than an
// explicit Close.
type Handler struct {
	OnEvent      func(Event)
	OnDisconnect func(err error)
}
