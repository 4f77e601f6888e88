// Package history fetches conversation data from the Hearth marketplace
// API. The realtime channel only carries deltas; everything older than the
// current session, and every refetch after an invalidation, comes through
// here.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hearthhq/hearth/internal/cache"
	"github.com/hearthhq/hearth/internal/creds"
)

// Client talks to the marketplace REST API.
type Client struct {
	baseURL string
	source  creds.Source
	httpc   *http.Client
	logger  *zap.Logger
}

// NewClient creates a client for the API at baseURL. source may be nil for
// unauthenticated endpoints (tests).
func NewClient(baseURL string, source creds.Source, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		source:  source,
		httpc:   &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

// ConversationsPage is one page of the conversation list.
type ConversationsPage struct {
	Items   []cache.Conversation
	HasMore bool
}

// MessagesPage is one page of a conversation's messages, newest first.
// NextBefore is the cursor for the next older page; zero when HasMore is
// false.
type MessagesPage struct {
	Items      []cache.Message
	NextBefore int64
	HasMore    bool
}

type conversationDTO struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	ListingID          string `json:"listingId"`
	ListingTitle       string `json:"listingTitle"`
	LastMessagePreview string `json:"lastMessagePreview"`
	LastMessageAtMs    int64  `json:"lastMessageAtMs"`
	UnreadCount        int    `json:"unreadCount"`
}

type messageDTO struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	Body           string `json:"body"`
	SentAtMs       int64  `json:"sentAtMs"`
}

type conversationsResponse struct {
	Items   []conversationDTO `json:"items"`
	HasMore bool              `json:"hasMore"`
}

type messagesResponse struct {
	Items      []messageDTO `json:"items"`
	NextBefore int64        `json:"nextBefore"`
	HasMore    bool         `json:"hasMore"`
}

// Conversations fetches one page of the conversation list.
func (c *Client) Conversations(ctx context.Context, page int) (*ConversationsPage, error) {
	if page < 0 {
		page = 0
	}
	q := url.Values{"page": {strconv.Itoa(page)}}

	var resp conversationsResponse
	if err := c.get(ctx, "/api/conversations", q, &resp); err != nil {
		return nil, err
	}

	out := &ConversationsPage{HasMore: resp.HasMore}
	for _, d := range resp.Items {
		out.Items = append(out.Items, d.toCache())
	}
	return out, nil
}

// Conversation fetches a single conversation's metadata.
func (c *Client) Conversation(ctx context.Context, id string) (*cache.Conversation, error) {
	var d conversationDTO
	if err := c.get(ctx, "/api/conversations/"+url.PathEscape(id), nil, &d); err != nil {
		return nil, err
	}
	conv := d.toCache()
	return &conv, nil
}

// Messages fetches one page of a conversation's history. before is a unix
// millisecond cursor; pass 0 for the newest page. limit <= 0 uses the
// server default.
func (c *Client) Messages(ctx context.Context, conversationID string, before int64, limit int) (*MessagesPage, error) {
	q := url.Values{}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp messagesResponse
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.get(ctx, path, q, &resp); err != nil {
		return nil, err
	}

	out := &MessagesPage{NextBefore: resp.NextBefore, HasMore: resp.HasMore}
	for _, d := range resp.Items {
		out.Items = append(out.Items, cache.Message{
			ID:             d.ID,
			ConversationID: d.ConversationID,
			SenderID:       d.SenderID,
			SenderName:     d.SenderName,
			Body:           d.Body,
			SentAt:         d.SentAtMs,
		})
	}
	return out, nil
}

func (d conversationDTO) toCache() cache.Conversation {
	return cache.Conversation{
		ID:                 d.ID,
		Title:              d.Title,
		ListingID:          d.ListingID,
		ListingTitle:       d.ListingTitle,
		LastMessagePreview: d.LastMessagePreview,
		LastMessageAt:      d.LastMessageAtMs,
		UnreadCount:        d.UnreadCount,
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.source != nil {
		token, err := c.source.Token()
		if err != nil {
			return fmt.Errorf("fetch credential: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
