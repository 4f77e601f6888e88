package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hearthhq/hearth/internal/creds"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong before the connection is declared dead.
	pongWait = 60 * time.Second
	// Ping cadence; must be shorter than pongWait.
	pingPeriod = 54 * time.Second
)

// Socket is the websocket Transport. A Socket survives reconnects: each
// Connect opens a fresh underlying connection, and goroutines from a
// previous connection detect they are stale and exit silently.
type Socket struct {
	url    string
	creds  creds.Source
	logger *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	handler Handler

	// writeMu serializes frame writes; gorilla connections allow only one
	// concurrent writer.
	writeMu sync.Mutex
}

// NewSocket creates an unconnected Socket for the realtime endpoint at
// baseURL+socketPath. source may be nil when the endpoint is unauthenticated.
func NewSocket(baseURL, socketPath string, source creds.Source, logger *zap.Logger) *Socket {
	return &Socket{
		url:    socketURL(baseURL, socketPath),
		creds:  source,
		logger: logger,
	}
}

// socketURL rewrites an http(s) origin into its ws(s) equivalent.
func socketURL(baseURL, path string) string {
	u := strings.Replace(baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return strings.TrimSuffix(u, "/") + path
}

// SetHandler installs the inbound callbacks. Must be called before Connect.
func (s *Socket) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Connect dials the endpoint with the current credential and starts the read
// and keepalive goroutines.
func (s *Socket) Connect(ctx context.Context) error {
	header := http.Header{}
	if s.creds != nil {
		token, err := s.creds.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: server returned %s", ErrUnauthorized, resp.Status)
		}
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		_ = conn.Close()
		s.logger.Warn("connect called while already connected")
		return nil
	}
	done := make(chan struct{})
	s.conn = conn
	s.done = done
	s.mu.Unlock()

	s.logger.Info("transport connected", zap.String("url", s.url))
	go s.readLoop(conn)
	go s.keepalive(conn, done)
	return nil
}

// Connected reports whether a live connection is held.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close tears down the connection. The read loop sees a stale connection and
// exits without firing OnDisconnect.
func (s *Socket) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return conn.Close()
}

// SendMessage emits a chat message.
func (s *Socket) SendMessage(msg Send) error {
	return s.emit(cmdSendMessage, msg)
}

// Join subscribes this connection to a conversation's room.
func (s *Socket) Join(conversationID string) error {
	return s.emit(cmdJoin, conversationRef{ConversationID: conversationID})
}

// Leave unsubscribes this connection from a conversation's room.
func (s *Socket) Leave(conversationID string) error {
	return s.emit(cmdLeave, conversationRef{ConversationID: conversationID})
}

// TypingStart announces the local user is composing.
func (s *Socket) TypingStart(conversationID string) error {
	return s.emit(cmdTypingStart, conversationRef{ConversationID: conversationID})
}

// TypingStop retracts a typing announcement.
func (s *Socket) TypingStop(conversationID string) error {
	return s.emit(cmdTypingStop, conversationRef{ConversationID: conversationID})
}

// MarkRead reports the local user read a conversation.
func (s *Socket) MarkRead(conversationID string) error {
	return s.emit(cmdMarkRead, conversationRef{ConversationID: conversationID})
}

func (s *Socket) emit(event string, payload any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.dropped(conn, err)
			return
		}

		evt, err := decodeEvent(data)
		if err != nil {
			s.logger.Warn("malformed frame", zap.Error(err))
			continue
		}

		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h.OnEvent != nil {
			h.OnEvent(evt)
		}
	}
}

// dropped handles a read failure. Only the loop owning the live connection
// reports it; loops left over from replaced connections exit silently.
func (s *Socket) dropped(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	h := s.handler
	s.mu.Unlock()

	_ = conn.Close()
	s.logger.Warn("transport dropped", zap.Error(err))
	if h.OnDisconnect != nil {
		h.OnDisconnect(err)
	}
}

func (s *Socket) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				// Force the read loop to notice and run the drop path.
				_ = conn.Close()
				return
			}
		}
	}
}
