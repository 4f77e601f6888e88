package cache

// Well-known query keys. Invalidating one marks the cached result stale so
// the refresher refetches it from the marketplace API.
const (
	// QueryConversations is the conversation-list summary.
	QueryConversations = "conversations"
	// QueryUnread is the unread-count aggregate across conversations.
	QueryUnread = "unread"
	// QueryConversationPrefix prefixes per-conversation query keys.
	QueryConversationPrefix = "conversation:"
)

// QueryConversation returns the per-conversation query key, covering that
// conversation's metadata and read state.
func QueryConversation(conversationID string) string {
	return QueryConversationPrefix + conversationID
}

// Store is the surface the event reconciler writes through. *DB implements
// it; tests may substitute their own.
type Store interface {
	// PrependMessage inserts m at the head of its conversation's first page
	// unless a message with the same id is already cached. Reports whether
	// an insert happened.
	PrependMessage(m Message) (bool, error)
	// Invalidate marks a query key stale.
	Invalidate(key string) error
}

// Conversation is a cached conversation-list entry. Conversations on Hearth
// are scoped to a listing: a buyer opens one per property they ask about.
type Conversation struct {
	ID                 string
	Title              string
	ListingID          string
	ListingTitle       string
	LastMessagePreview string
	LastMessageAt      int64
	UnreadCount        int
}

// Message is a cached chat message. SentAt is unix milliseconds.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	Body           string
	SentAt         int64
}

// Page is one page of a conversation's history, newest first.
type Page struct {
	Index   int
	Items   []Message
	HasMore bool
}
