package core

import (
	"sort"

	"pombo/internal/model"
)

// ReadAcker receives inbound provider message ids that need an upstream
// read acknowledgement. Implemented by the receipt batcher.
type ReadAcker interface {
	EnqueueRead(conversationID string, providerMessageIDs []string)
}

// ConversationIndex owns the conversation list and its derived metadata:
// preview, last-message time and unread counts. A conversation exists from
// the first message that references its id and is never hard-deleted here.
type ConversationIndex struct {
	convs  map[string]*model.Conversation
	active string
	store  *MessageStore
	acker  ReadAcker
}

// NewConversationIndex creates an index deriving from the given store.
func NewConversationIndex(store *MessageStore) *ConversationIndex {
	return &ConversationIndex{
		convs: make(map[string]*model.Conversation),
		store: store,
	}
}

// SetAcker wires the read-receipt delegate.
func (ix *ConversationIndex) SetAcker(acker ReadAcker) {
	ix.acker = acker
}

// Ensure returns the conversation, creating it on first reference.
func (ix *ConversationIndex) Ensure(conversationID string) *model.Conversation {
	if c, ok := ix.convs[conversationID]; ok {
		return c
	}
	c := &model.Conversation{
		ID:     conversationID,
		Phone:  conversationID,
		Status: model.ConversationActive,
	}
	ix.convs[conversationID] = c
	return c
}

// Get returns the conversation or nil.
func (ix *ConversationIndex) Get(conversationID string) *model.Conversation {
	return ix.convs[conversationID]
}

// Touch recomputes the preview and last-message time from the store. This
// is the consumer of the MessageStore's conversationTouched side effect.
func (ix *ConversationIndex) Touch(conversationID string) {
	c := ix.Ensure(conversationID)
	last := ix.store.Last(conversationID)
	if last == nil {
		return
	}
	c.LastMessagePreview = model.PreviewText(last)
	c.LastMessageTime = last.Timestamp
}

// IncrementUnread bumps the unread count unless the conversation is the
// active one. Callers gate on the triggering message being inbound.
func (ix *ConversationIndex) IncrementUnread(conversationID string) {
	if conversationID == ix.active {
		return
	}
	ix.Ensure(conversationID).UnreadCount++
}

// MarkRead zeroes the unread count and hands every un-acked inbound message
// with a provider id to the receipt batcher. Inbound messages flip to read
// locally so repeated calls do not re-acknowledge them; messages lacking a
// provider id cannot be acknowledged upstream and are skipped. Returns the
// flipped messages so the caller can persist the new status.
func (ix *ConversationIndex) MarkRead(conversationID string) []*model.Message {
	c := ix.Ensure(conversationID)
	c.UnreadCount = 0

	var ids []string
	var flipped []*model.Message
	for _, m := range ix.store.ListOrdered(conversationID) {
		if m.Direction != model.Inbound || m.Status != model.StatusReceived {
			continue
		}
		if m.ProviderMessageID == "" {
			continue
		}
		ids = append(ids, m.ProviderMessageID)
		ix.store.Update(m.ID, func(m *model.Message) {
			m.Status = model.StatusRead
		})
		flipped = append(flipped, m)
	}
	if len(ids) > 0 && ix.acker != nil {
		ix.acker.EnqueueRead(conversationID, ids)
	}
	return flipped
}

// SetActive selects a conversation, which also marks it read. Returns the
// messages MarkRead flipped.
func (ix *ConversationIndex) SetActive(conversationID string) []*model.Message {
	ix.active = conversationID
	if conversationID == "" {
		return nil
	}
	return ix.MarkRead(conversationID)
}

// Active returns the selected conversation id.
func (ix *ConversationIndex) Active() string {
	return ix.active
}

// ApplyPatch merges a provider conversation update. An explicit unread
// count from the server is ignored for the active conversation, which is
// pinned to zero while the user is reading it.
func (ix *ConversationIndex) ApplyPatch(p model.ConversationPatch) {
	c := ix.Ensure(p.ConversationID)
	if p.Phone != "" {
		c.Phone = p.Phone
	}
	if p.DisplayName != "" {
		c.DisplayName = p.DisplayName
	}
	if p.Avatar != "" {
		c.Avatar = p.Avatar
	}
	if p.Status != "" {
		c.Status = p.Status
	}
	if p.UnreadCount != nil && p.ConversationID != ix.active {
		c.UnreadCount = *p.UnreadCount
	}
}

// ApplyServerSnapshot merges a full conversation-list fetch. The server
// wins for unread counts except for the active conversation, which stays at
// zero. Preview and last-message time stay derived from the local sequence
// whenever it has messages, since it includes locally pending sends.
func (ix *ConversationIndex) ApplyServerSnapshot(convs []model.Conversation) {
	for _, sc := range convs {
		if sc.ID == "" {
			continue
		}
		c := ix.Ensure(sc.ID)
		if sc.Phone != "" {
			c.Phone = sc.Phone
		}
		if sc.DisplayName != "" {
			c.DisplayName = sc.DisplayName
		}
		if sc.Avatar != "" {
			c.Avatar = sc.Avatar
		}
		if sc.Status != "" {
			c.Status = sc.Status
		}
		if sc.ID == ix.active {
			c.UnreadCount = 0
		} else {
			c.UnreadCount = sc.UnreadCount
		}
		if ix.store.Last(sc.ID) != nil {
			ix.Touch(sc.ID)
		} else {
			c.LastMessagePreview = sc.LastMessagePreview
			c.LastMessageTime = sc.LastMessageTime
		}
	}
}

// Seed inserts a conversation as-is, used when warm-loading from the cache.
func (ix *ConversationIndex) Seed(c model.Conversation) {
	if c.ID == "" {
		return
	}
	cp := c
	ix.convs[c.ID] = &cp
}

// List returns conversations ordered by last-message time descending, ties
// broken by id so the order is stable across map iterations.
func (ix *ConversationIndex) List() []model.Conversation {
	out := make([]model.Conversation, 0, len(ix.convs))
	for _, c := range ix.convs {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageTime != out[j].LastMessageTime {
			return out[i].LastMessageTime > out[j].LastMessageTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}
