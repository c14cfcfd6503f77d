package model

// ConversationStatus is the agent-facing workflow state of a conversation.
type ConversationStatus string

const (
	ConversationActive  ConversationStatus = "active"
	ConversationWaiting ConversationStatus = "waiting"
	ConversationClosed  ConversationStatus = "closed"
)

// Conversation is one thread in the console. LastMessagePreview and
// LastMessageTime are derived from the message sequence and always reflect
// its chronologically last entry, including locally pending sends.
type Conversation struct {
	ID                 string             `json:"id"`
	Phone              string             `json:"phone"`
	DisplayName        string             `json:"display_name"`
	Avatar             string             `json:"avatar,omitempty"`
	LastMessagePreview string             `json:"last_message_preview"`
	LastMessageTime    int64              `json:"last_message_time"` // unix millis
	UnreadCount        int                `json:"unread_count"`
	Status             ConversationStatus `json:"status"`
}

// StatusUpdate is a provider push reporting delivery progress for a
// message, addressed by local id or provider id.
type StatusUpdate struct {
	MessageID         string        `json:"message_id,omitempty"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	Status            MessageStatus `json:"status"`
}

// ConversationPatch is a provider push updating conversation metadata.
// Zero-valued fields are left untouched; UnreadCount uses a pointer so an
// explicit zero can be distinguished from absence.
type ConversationPatch struct {
	ConversationID string             `json:"conversation_id"`
	Phone          string             `json:"phone,omitempty"`
	DisplayName    string             `json:"display_name,omitempty"`
	Avatar         string             `json:"avatar,omitempty"`
	Status         ConversationStatus `json:"status,omitempty"`
	UnreadCount    *int               `json:"unread_count,omitempty"`
}
