package cache

import "time"

// PrependMessage inserts a realtime message unless its id is already cached
// for that conversation. It never updates an existing row: server pushes for
// a known id are re-deliveries, and the first write wins.
func (db *DB) PrependMessage(m Message) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO messages (conversation_id, id, sender_id, sender_name, body, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, id) DO NOTHING`,
		m.ConversationID, m.ID, m.SenderID, m.SenderName, m.Body, m.SentAt, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PutMessages bulk-upserts history fetched from the marketplace API. Unlike
// PrependMessage this overwrites: on a refetch the server copy is the truth.
func (db *DB) PutMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, id, sender_id, sender_name, body, sent_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, id) DO UPDATE SET
				sender_name = excluded.sender_name,
				body = excluded.body,
				sent_at = excluded.sent_at`,
			m.ConversationID, m.ID, m.SenderID, m.SenderName, m.Body, m.SentAt, now); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetPage returns one page of a conversation's messages, newest first.
// size <= 0 uses DefaultPageSize. HasMore reports whether an older page
// exists.
func (db *DB) GetPage(conversationID string, page, size int) (Page, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	rows, err := db.Query(`
		SELECT conversation_id, id, sender_id, sender_name, body, sent_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sent_at DESC, id DESC
		LIMIT ? OFFSET ?`, conversationID, size+1, page*size)
	if err != nil {
		return Page{}, err
	}
	defer func() { _ = rows.Close() }()

	var items []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.SenderName, &m.Body, &m.SentAt); err != nil {
			return Page{}, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}

	p := Page{Index: page, Items: items}
	if len(items) > size {
		p.Items = items[:size]
		p.HasMore = true
	}
	return p, nil
}

// MessageCount returns the number of cached messages.
func (db *DB) MessageCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}
