package transport

import (
	"encoding/json"
	"fmt"
)

// Server-pushed event names.
const (
	EventNewMessage  = "new_message"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
	EventReadReceipt = "read_receipt"
)

// Client-emitted command names.
const (
	cmdJoin        = "join_conversation"
	cmdLeave       = "leave_conversation"
	cmdSendMessage = "send_message"
	cmdTypingStart = "typing_start"
	cmdTypingStop  = "typing_stop"
	cmdMarkRead    = "mark_read"
)

// envelope is the frame format in both directions: an event name plus a
// shape determined by that name.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Message is a chat message as the server represents it.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	Body           string `json:"body"`
	SentAtMs       int64  `json:"sentAtMs"`
}

// Typing identifies a participant composing (or no longer composing) a
// message in a conversation.
type Typing struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	DisplayName    string `json:"displayName,omitempty"`
}

// ReadReceipt records that a participant read a conversation.
type ReadReceipt struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	ReadAtMs       int64  `json:"readAtMs,omitempty"`
}

// Send is an outbound message. QueuedAtMs carries the original enqueue time
// for sends that waited in the offline outbox; zero means the send was live.
// ClientID lets the server deduplicate retransmissions.
type Send struct {
	ConversationID string `json:"conversationId"`
	Body           string `json:"body"`
	ClientID       string `json:"clientId,omitempty"`
	QueuedAtMs     int64  `json:"queuedAtMs,omitempty"`
}

// conversationRef is the payload for commands that only name a conversation.
type conversationRef struct {
	ConversationID string `json:"conversationId"`
}

// Event is a decoded server push. Exactly one of Message, Typing, Receipt is
// set, according to Name; all are nil for event names this client does not
// know, which consumers skip.
type Event struct {
	Name    string
	Message *Message
	Typing  *Typing
	Receipt *ReadReceipt
}

func decodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}

	evt := Event{Name: env.Event}
	switch env.Event {
	case EventNewMessage:
		var m Message
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
		evt.Message = &m
	case EventTypingStart, EventTypingStop:
		var ty Typing
		if err := json.Unmarshal(env.Payload, &ty); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
		evt.Typing = &ty
	case EventReadReceipt:
		var r ReadReceipt
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
		evt.Receipt = &r
	}
	return evt, nil
}

func encodeFrame(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	data, err := json.Marshal(envelope{Event: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}
	return data, nil
}
