package store

import (
	"database/sql"
	"time"

	"pombo/internal/model"
)

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c *model.Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, phone, display_name, avatar, last_message_preview, last_message_time, unread_count, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phone = excluded.phone,
			display_name = excluded.display_name,
			avatar = excluded.avatar,
			last_message_preview = excluded.last_message_preview,
			last_message_time = excluded.last_message_time,
			unread_count = excluded.unread_count,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		c.ID, c.Phone, c.DisplayName, c.Avatar, c.LastMessagePreview, c.LastMessageTime, c.UnreadCount, c.Status, now)
	return err
}

// ListConversations returns conversations sorted by last message time
// descending.
func (db *DB) ListConversations(limit, offset int) ([]model.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, phone, display_name, avatar, last_message_preview, last_message_time, unread_count, status
		FROM conversations
		ORDER BY last_message_time DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []model.Conversation
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.Phone, &c.DisplayName, &c.Avatar, &c.LastMessagePreview, &c.LastMessageTime, &c.UnreadCount, &c.Status); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, nil when absent.
func (db *DB) GetConversation(id string) (*model.Conversation, error) {
	var c model.Conversation
	err := db.QueryRow(`
		SELECT id, phone, display_name, avatar, last_message_preview, last_message_time, unread_count, status
		FROM conversations
		WHERE id = ?`, id).
		Scan(&c.ID, &c.Phone, &c.DisplayName, &c.Avatar, &c.LastMessagePreview, &c.LastMessageTime, &c.UnreadCount, &c.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
