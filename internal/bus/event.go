package bus

import "time"

// Event kinds published on the bus. Subscribers filter by prefix, so the
// dotted namespaces double as subscription groups ("provider.", "message.").
const (
	KindTransportConnected    = "transport.connected"
	KindTransportDisconnected = "transport.disconnected"

	KindProviderMessage      = "provider.message"
	KindProviderEcho         = "provider.echo"
	KindProviderStatus       = "provider.status"
	KindProviderConversation = "provider.conversation"

	KindConversationChanged = "conversation.changed"
	KindMessageChanged      = "message.changed"
	KindMessageSendFailed   = "message.send_failed"
)

// Event is a domain event. Seq is a process-wide publish counter; the
// transport may redeliver provider events after a reconnect, but two Events
// never share a Seq.
type Event struct {
	Kind      string
	Seq       uint64
	Timestamp time.Time
	Payload   any
}

// SendFailure is the payload for KindMessageSendFailed.
type SendFailure struct {
	ConversationID string
	MessageID      string
	Reason         string
}
