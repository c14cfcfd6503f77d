package store

import (
	"time"

	"pombo/internal/model"
)

// UpsertMessage inserts or updates a message by id. A row holding the same
// provider message id under a different id is removed first: the core just
// merged or promoted that message, and the unique index would otherwise
// reject the write.
func (db *DB) UpsertMessage(m *model.Message) error {
	now := time.Now().UnixMilli()

	if m.ProviderMessageID != "" {
		if _, err := db.Exec(
			`DELETE FROM messages WHERE provider_message_id = ? AND id != ?`,
			m.ProviderMessageID, m.ID); err != nil {
			return err
		}
	}

	var mediaURL, mediaMime string
	if m.Media != nil {
		mediaURL, mediaMime = m.Media.URL, m.Media.MIMEType
	}
	_, err := db.Exec(`
		INSERT INTO messages (id, conversation_id, direction, type, status, content, media_url, media_mime, provider_message_id, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			direction = excluded.direction,
			type = excluded.type,
			status = excluded.status,
			content = excluded.content,
			media_url = excluded.media_url,
			media_mime = excluded.media_mime,
			provider_message_id = excluded.provider_message_id,
			timestamp = excluded.timestamp`,
		m.ID, m.ConversationID, m.Direction, m.Type, m.Status, m.Content, mediaURL, mediaMime, m.ProviderMessageID, m.Timestamp, now)
	return err
}

// DeleteMessage removes a message row. Unknown ids are a no-op.
func (db *DB) DeleteMessage(id string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// ListMessages returns a conversation's messages using keyset pagination by
// timestamp, newest page first.
func (db *DB) ListMessages(conversationID string, beforeTS int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTS <= 0 {
		beforeTS = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, direction, type, status, content, media_url, media_mime, provider_message_id, timestamp
		FROM messages
		WHERE conversation_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, conversationID, beforeTS, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// AllMessages returns every cached message ordered by timestamp ascending,
// used for the warm start.
func (db *DB) AllMessages() ([]model.Message, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, direction, type, status, content, media_url, media_mime, provider_message_id, timestamp
		FROM messages
		ORDER BY timestamp ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows rowScanner) ([]model.Message, error) {
	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var mediaURL, mediaMime string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Type, &m.Status, &m.Content, &mediaURL, &mediaMime, &m.ProviderMessageID, &m.Timestamp); err != nil {
			return nil, err
		}
		if mediaURL != "" || mediaMime != "" {
			m.Media = &model.MediaRef{URL: mediaURL, MIMEType: mediaMime}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
