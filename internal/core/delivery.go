package core

import (
	"errors"
	"time"

	"pombo/internal/model"
)

// ErrNotRetryable reports that a retry request referenced a message that
// cannot be re-sent: unknown id, not failed, or already confirmed by the
// provider. A soft failure, never a panic.
var ErrNotRetryable = errors.New("message not retryable")

// Delivery drives the outbound message lifecycle:
// drafting → sending → {sent|failed}; sent → delivered → read; failed →
// sending on explicit retry. Delivered/read progress comes exclusively from
// transport status events; regressions in the partial order are discarded.
type Delivery struct {
	store *MessageStore
}

// NewDelivery creates the delivery state machine over the given store.
func NewDelivery(store *MessageStore) *Delivery {
	return &Delivery{store: store}
}

// BeginSend creates the optimistic message for a user submit: temporary id,
// sending status, inserted into the store before any network call resolves.
func (d *Delivery) BeginSend(conversationID, content string, mtype model.MessageType) *model.Message {
	m := &model.Message{
		ID:             model.NewTempID(),
		ConversationID: conversationID,
		Direction:      model.Outbound,
		Type:           mtype,
		Status:         model.StatusSending,
		Content:        content,
		Timestamp:      time.Now().UnixMilli(),
	}
	d.store.Append(m)
	return m
}

// Complete resolves a successful send: the temporary id is replaced with
// the server-assigned id and provider id. If an echo already claimed the
// provider id the optimistic copy is dropped in its favor. Returns the
// resulting message and the id it replaced ("" if unchanged).
func (d *Delivery) Complete(id, providerMessageID string, status model.MessageStatus) (*model.Message, string) {
	if d.store.Get(id) == nil {
		// Already promoted by an echo that raced the RPC response.
		m := d.store.GetByProviderID(providerMessageID)
		if m != nil {
			d.advance(m, status)
		}
		return m, ""
	}

	m, merged := d.store.Promote(id, providerMessageID, providerMessageID)
	if m == nil {
		return nil, ""
	}
	d.advance(m, status)
	if merged || m.ID != id {
		return m, id
	}
	return m, ""
}

// Fail marks an in-flight send as failed. The message stays visible with
// its failed status as the retry affordance.
func (d *Delivery) Fail(id string) *model.Message {
	m := d.store.Get(id)
	if m == nil {
		return nil
	}
	if m.Status == model.StatusSending {
		d.store.Update(id, func(m *model.Message) {
			m.Status = model.StatusFailed
		})
	}
	return m
}

// PrepareRetry transitions a failed message back to sending, reusing its
// original id and content. Stale references and already-confirmed messages
// return ErrNotRetryable.
func (d *Delivery) PrepareRetry(id string) (*model.Message, error) {
	m := d.store.Get(id)
	if m == nil {
		return nil, ErrNotRetryable
	}
	if m.Status != model.StatusFailed || m.ProviderMessageID != "" {
		return nil, ErrNotRetryable
	}
	d.store.Update(id, func(m *model.Message) {
		m.Status = model.StatusSending
	})
	return m, nil
}

// ApplyStatusUpdate applies a transport status event addressed by local or
// provider id. Returns the updated message, or nil when the reference is
// stale or the move is backward in sent < delivered < read.
func (d *Delivery) ApplyStatusUpdate(u model.StatusUpdate) *model.Message {
	var m *model.Message
	if u.MessageID != "" {
		m = d.store.Get(u.MessageID)
	}
	if m == nil && u.ProviderMessageID != "" {
		m = d.store.GetByProviderID(u.ProviderMessageID)
	}
	if m == nil {
		return nil
	}
	if !model.CanAdvance(m.Status, u.Status) {
		return nil
	}
	d.store.Update(m.ID, func(m *model.Message) {
		m.Status = u.Status
	})
	return m
}

func (d *Delivery) advance(m *model.Message, status model.MessageStatus) {
	if status == "" || !model.CanAdvance(m.Status, status) {
		return
	}
	d.store.Update(m.ID, func(m *model.Message) {
		m.Status = status
	})
}
