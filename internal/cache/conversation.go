package cache

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation-list entry.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, title, listing_id, listing_title, last_message_preview, last_message_at, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			listing_id = excluded.listing_id,
			listing_title = excluded.listing_title,
			last_message_preview = excluded.last_message_preview,
			last_message_at = excluded.last_message_at,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.ID, c.Title, c.ListingID, c.ListingTitle, c.LastMessagePreview, c.LastMessageAt, c.UnreadCount, now)
	return err
}

// ListConversations returns entries sorted by last message time descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	rows, err := db.Query(`
		SELECT id, title, listing_id, listing_title, last_message_preview, last_message_at, unread_count
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.ListingID, &c.ListingTitle, &c.LastMessagePreview, &c.LastMessageAt, &c.UnreadCount); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single entry, or nil when absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, title, listing_id, listing_title, last_message_preview, last_message_at, unread_count
		FROM conversations
		WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &c.ListingID, &c.ListingTitle, &c.LastMessagePreview, &c.LastMessageAt, &c.UnreadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UnreadTotal sums unread counts across all conversations.
func (db *DB) UnreadTotal() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COALESCE(SUM(unread_count), 0) FROM conversations`).Scan(&n)
	return n, err
}

// ConversationCount returns the number of cached conversations.
func (db *DB) ConversationCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n)
	return n, err
}
