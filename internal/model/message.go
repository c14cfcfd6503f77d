package model

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Direction indicates whether a message was received or sent by this account.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Inbound || d == Outbound
}

// MessageType classifies the message payload.
type MessageType string

const (
	TypeText        MessageType = "text"
	TypeImage       MessageType = "image"
	TypeVideo       MessageType = "video"
	TypeAudio       MessageType = "audio"
	TypeDocument    MessageType = "document"
	TypeLocation    MessageType = "location"
	TypeInteractive MessageType = "interactive"
)

// MessageStatus is the delivery lifecycle state of a message.
type MessageStatus string

const (
	StatusDrafting  MessageStatus = "drafting"
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
	StatusReceived  MessageStatus = "received"
)

// statusRank orders the forward-only portion of the lifecycle.
// Transitions between ranked statuses may only move to a higher rank;
// everything else (sending, failed, received) is managed by the send path.
var statusRank = map[MessageStatus]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanAdvance reports whether a status update from "from" to "to" moves
// forward in the partial order sent < delivered < read. A message still in
// "sending" may advance to any ranked status (the ack and the first receipt
// can race). Backward moves and unranked targets are rejected.
func CanAdvance(from, to MessageStatus) bool {
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	if from == StatusSending {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// MediaRef points at an uploaded media object.
type MediaRef struct {
	URL      string `json:"url"`
	MIMEType string `json:"mime_type"`
}

// Message is a single conversation entry. Content holds the text body for
// text messages and the serialized structured payload for interactive and
// location messages.
type Message struct {
	ID                string        `json:"id"`
	ConversationID    string        `json:"conversation_id"`
	Direction         Direction     `json:"direction"`
	Type              MessageType   `json:"type"`
	Status            MessageStatus `json:"status"`
	Content           string        `json:"content"`
	Media             *MediaRef     `json:"media,omitempty"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	Timestamp         int64         `json:"timestamp"` // unix millis
}

// TempIDPrefix marks locally generated ids that have not yet been
// confirmed by the provider.
const TempIDPrefix = "pending-"

// NewTempID generates a temporary message id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id is a locally generated temporary id.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// previewLabels collapses media types to human-readable labels for the
// conversation list.
var previewLabels = map[MessageType]string{
	TypeImage:       "Image",
	TypeVideo:       "Video",
	TypeAudio:       "Audio",
	TypeDocument:    "Document",
	TypeLocation:    "Location",
	TypeInteractive: "Interactive message",
}

const maxPreviewLen = 100

// PreviewText derives the conversation-list summary for a message.
func PreviewText(m *Message) string {
	if m == nil {
		return ""
	}
	if label, ok := previewLabels[m.Type]; ok {
		return label
	}
	return truncate(m.Content, maxPreviewLen)
}

// truncate cuts s to at most maxLen bytes on a rune boundary.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
