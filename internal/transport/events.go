package transport

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"pombo/internal/bus"
	"pombo/internal/model"
)

// envelope is the wire frame for every event on the channel.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Wire event types.
const (
	evtNewMessage          = "new_message"
	evtMessageEcho         = "message_echo"
	evtStatusUpdate        = "status_update"
	evtConversationUpdated = "conversation_updated"
)

// dispatch validates a raw frame and publishes the typed event. Malformed
// frames are logged and dropped; they must never corrupt the store or kill
// the connection.
func (t *Transport) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.logger.Warn("malformed event frame", zap.Error(err))
		return
	}

	switch env.Type {
	case evtNewMessage, evtMessageEcho:
		msg, err := decodeMessage(env.Data, env.Type == evtMessageEcho)
		if err != nil {
			t.logger.Warn("malformed message event", zap.String("type", env.Type), zap.Error(err))
			return
		}
		kind := bus.KindProviderMessage
		if env.Type == evtMessageEcho {
			kind = bus.KindProviderEcho
		}
		t.bus.Publish(kind, msg)

	case evtStatusUpdate:
		var u model.StatusUpdate
		if err := json.Unmarshal(env.Data, &u); err != nil {
			t.logger.Warn("malformed status event", zap.Error(err))
			return
		}
		if u.Status == "" || (u.MessageID == "" && u.ProviderMessageID == "") {
			t.logger.Warn("status event missing identifier or status")
			return
		}
		t.bus.Publish(bus.KindProviderStatus, u)

	case evtConversationUpdated:
		var p model.ConversationPatch
		if err := json.Unmarshal(env.Data, &p); err != nil {
			t.logger.Warn("malformed conversation event", zap.Error(err))
			return
		}
		if p.ConversationID == "" {
			t.logger.Warn("conversation event missing conversation_id")
			return
		}
		t.bus.Publish(bus.KindProviderConversation, p)

	default:
		t.logger.Warn("unknown event type", zap.String("type", env.Type))
	}
}

// decodeMessage validates the message payload union. Unrecognized fields
// are dropped by the JSON decoder rather than rejected. An echo confirms a
// message this account sent, so echo payloads missing a direction default
// to outbound; everything else defaults to inbound.
func decodeMessage(data []byte, echo bool) (*model.Message, error) {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ConversationID == "" {
		return nil, errMissingField("conversation_id")
	}
	if msg.ID == "" && msg.ProviderMessageID == "" {
		return nil, errMissingField("id")
	}
	if msg.ID == "" {
		msg.ID = msg.ProviderMessageID
	}
	if !msg.Direction.Valid() {
		if echo {
			msg.Direction = model.Outbound
		} else {
			msg.Direction = model.Inbound
		}
	}
	if msg.Type == "" {
		msg.Type = model.TypeText
	}
	if msg.Status == "" {
		if msg.Direction == model.Inbound {
			msg.Status = model.StatusReceived
		} else {
			msg.Status = model.StatusSent
		}
	}
	if msg.Timestamp <= 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	return &msg, nil
}

type errMissingField string

func (e errMissingField) Error() string {
	return "missing required field " + string(e)
}
