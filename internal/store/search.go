package store

import "pombo/internal/model"

// SearchResult pairs a matched message with its highlighted snippet.
type SearchResult struct {
	Message model.Message
	Snippet string
}

// SearchMessages performs a full-text search on message content, optionally
// scoped to one conversation.
func (db *DB) SearchMessages(query string, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.conversation_id, m.direction, m.type, m.status, m.content,
		       m.media_url, m.media_mime, m.provider_message_id, m.timestamp,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.rowid = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if conversationID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var mediaURL, mediaMime string
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ConversationID, &r.Message.Direction,
			&r.Message.Type, &r.Message.Status, &r.Message.Content,
			&mediaURL, &mediaMime, &r.Message.ProviderMessageID,
			&r.Message.Timestamp, &r.Snippet,
		); err != nil {
			return nil, err
		}
		if mediaURL != "" || mediaMime != "" {
			r.Message.Media = &model.MediaRef{URL: mediaURL, MIMEType: mediaMime}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
