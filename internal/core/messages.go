package core

import (
	"sort"

	"pombo/internal/model"
)

// MessageStore owns the ordered message sequence of every conversation.
// Sequences are sorted by timestamp ascending with insertion order breaking
// ties; at most one message carries any given provider message id.
//
// All operations are total: malformed input is dropped, never rejected with
// an error. Mutation is serialized by the owning Facade.
type MessageStore struct {
	byConv     map[string][]*model.Message
	byID       map[string]*model.Message
	byProvider map[string]*model.Message
	onTouch    func(conversationID string)
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		byConv:     make(map[string][]*model.Message),
		byID:       make(map[string]*model.Message),
		byProvider: make(map[string]*model.Message),
	}
}

// SetTouchFunc registers the callback invoked after every mutation with the
// affected conversation id. The ConversationIndex derives preview/unread
// metadata from it.
func (s *MessageStore) SetTouchFunc(fn func(conversationID string)) {
	s.onTouch = fn
}

func (s *MessageStore) touch(conversationID string) {
	if s.onTouch != nil {
		s.onTouch(conversationID)
	}
}

// Append inserts a message keeping the timestamp order. A message with the
// same id overwrites the existing one in place; a message whose provider id
// is already present merges into the holder instead of duplicating.
// Returns true if a new entry was created.
func (s *MessageStore) Append(m *model.Message) bool {
	if m == nil || m.ID == "" || m.ConversationID == "" {
		return false
	}

	if existing, ok := s.byID[m.ID]; ok {
		s.overwrite(existing, m)
		s.touch(m.ConversationID)
		return false
	}
	if m.ProviderMessageID != "" {
		if holder, ok := s.byProvider[m.ProviderMessageID]; ok {
			s.overwrite(holder, m)
			s.touch(m.ConversationID)
			return false
		}
	}

	s.insert(m)
	s.touch(m.ConversationID)
	return true
}

// UpsertByProviderID merges the patch into the message holding the given
// provider id, or inserts it as a new inbound message when none exists.
// Returns true if a new entry was created.
func (s *MessageStore) UpsertByProviderID(providerMessageID string, patch *model.Message) bool {
	if providerMessageID == "" || patch == nil || patch.ConversationID == "" {
		return false
	}

	if m, ok := s.byProvider[providerMessageID]; ok {
		s.merge(m, patch)
		s.touch(m.ConversationID)
		return false
	}

	m := *patch
	m.ProviderMessageID = providerMessageID
	if m.ID == "" {
		m.ID = providerMessageID
	}
	if !m.Direction.Valid() {
		m.Direction = model.Inbound
	}
	if m.Status == "" {
		m.Status = model.StatusReceived
	}
	if _, ok := s.byID[m.ID]; ok {
		// Id collision with a different provider id: overwrite in place.
		s.overwrite(s.byID[m.ID], &m)
	} else {
		s.insert(&m)
	}
	s.touch(m.ConversationID)
	return true
}

// Update applies fn to the message with the given id and emits the touch
// side effect. Returns false if the id is unknown.
func (s *MessageStore) Update(id string, fn func(*model.Message)) bool {
	m, ok := s.byID[id]
	if !ok {
		return false
	}
	oldTS := m.Timestamp
	fn(m)
	if m.Timestamp != oldTS {
		s.reposition(m)
	}
	s.touch(m.ConversationID)
	return true
}

// Promote rekeys the message id to newID and claims the provider id,
// replacing a temporary id with the server-assigned one. If another message
// already holds providerMessageID, the promoted message is dropped in its
// favor (dedup invariant) and the holder is returned with merged=true.
func (s *MessageStore) Promote(id, newID, providerMessageID string) (msg *model.Message, merged bool) {
	m, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	if providerMessageID != "" {
		if holder, ok := s.byProvider[providerMessageID]; ok && holder != m {
			s.remove(m)
			s.touch(holder.ConversationID)
			return holder, true
		}
	}

	if newID != "" && newID != m.ID {
		delete(s.byID, m.ID)
		m.ID = newID
		s.byID[newID] = m
	}
	if providerMessageID != "" {
		if m.ProviderMessageID != "" {
			delete(s.byProvider, m.ProviderMessageID)
		}
		m.ProviderMessageID = providerMessageID
		s.byProvider[providerMessageID] = m
	}
	s.touch(m.ConversationID)
	return m, false
}

// Get returns the message with the given id, or nil.
func (s *MessageStore) Get(id string) *model.Message {
	return s.byID[id]
}

// GetByProviderID returns the message holding the given provider id, or nil.
func (s *MessageStore) GetByProviderID(providerMessageID string) *model.Message {
	if providerMessageID == "" {
		return nil
	}
	return s.byProvider[providerMessageID]
}

// ListOrdered returns the conversation's messages sorted by timestamp
// ascending. The returned slice is a copy; the messages are shared.
func (s *MessageStore) ListOrdered(conversationID string) []*model.Message {
	seq := s.byConv[conversationID]
	out := make([]*model.Message, len(seq))
	copy(out, seq)
	return out
}

// Last returns the chronologically last message of a conversation, or nil.
func (s *MessageStore) Last(conversationID string) *model.Message {
	seq := s.byConv[conversationID]
	if len(seq) == 0 {
		return nil
	}
	return seq[len(seq)-1]
}

// RemoveByID deletes a message. Unknown ids are a no-op.
func (s *MessageStore) RemoveByID(id string) {
	m, ok := s.byID[id]
	if !ok {
		return
	}
	s.remove(m)
	s.touch(m.ConversationID)
}

// ReplaceFromServer reloads a conversation's sequence from a full server
// fetch. Locally failed sends are retained (the client, not the server, is
// authoritative for them) unless the server independently reports the same
// provider message id.
func (s *MessageStore) ReplaceFromServer(conversationID string, server []*model.Message) {
	serverPIDs := make(map[string]struct{}, len(server))
	for _, m := range server {
		if m.ProviderMessageID != "" {
			serverPIDs[m.ProviderMessageID] = struct{}{}
		}
	}

	var failed []*model.Message
	for _, m := range s.byConv[conversationID] {
		if m.Status != model.StatusFailed {
			continue
		}
		if m.ProviderMessageID != "" {
			if _, ok := serverPIDs[m.ProviderMessageID]; ok {
				continue
			}
		}
		failed = append(failed, m)
	}

	for _, m := range s.byConv[conversationID] {
		delete(s.byID, m.ID)
		if m.ProviderMessageID != "" {
			delete(s.byProvider, m.ProviderMessageID)
		}
	}
	s.byConv[conversationID] = nil

	for _, m := range server {
		if m == nil || m.ConversationID == "" {
			continue
		}
		if m.ID == "" {
			if m.ProviderMessageID == "" {
				continue
			}
			m.ID = m.ProviderMessageID
		}
		if _, ok := s.byID[m.ID]; ok {
			continue
		}
		s.insert(m)
	}
	for _, m := range failed {
		s.insert(m)
	}
	s.touch(conversationID)
}

// insert places m at its sorted position. Equal timestamps keep insertion
// order: the new message goes after existing ones.
func (s *MessageStore) insert(m *model.Message) {
	seq := s.byConv[m.ConversationID]
	idx := sort.Search(len(seq), func(i int) bool {
		return seq[i].Timestamp > m.Timestamp
	})
	seq = append(seq, nil)
	copy(seq[idx+1:], seq[idx:])
	seq[idx] = m
	s.byConv[m.ConversationID] = seq
	s.byID[m.ID] = m
	if m.ProviderMessageID != "" {
		s.byProvider[m.ProviderMessageID] = m
	}
}

func (s *MessageStore) remove(m *model.Message) {
	seq := s.byConv[m.ConversationID]
	for i, cur := range seq {
		if cur == m {
			s.byConv[m.ConversationID] = append(seq[:i], seq[i+1:]...)
			break
		}
	}
	delete(s.byID, m.ID)
	if m.ProviderMessageID != "" {
		delete(s.byProvider, m.ProviderMessageID)
	}
}

// overwrite replaces dst's content with src in place, keeping dst's
// identity in the sequence (optimistic to confirmed transitions).
func (s *MessageStore) overwrite(dst *model.Message, src *model.Message) {
	if src.ProviderMessageID != dst.ProviderMessageID {
		if dst.ProviderMessageID != "" {
			delete(s.byProvider, dst.ProviderMessageID)
		}
		if src.ProviderMessageID != "" {
			s.byProvider[src.ProviderMessageID] = dst
		}
	}
	if src.ID != dst.ID {
		delete(s.byID, dst.ID)
		s.byID[src.ID] = dst
	}
	oldTS := dst.Timestamp
	conv := dst.ConversationID
	*dst = *src
	dst.ConversationID = conv
	if dst.Timestamp != oldTS {
		s.reposition(dst)
	}
}

// merge applies the non-zero fields of patch onto m (latest event wins).
func (s *MessageStore) merge(m *model.Message, patch *model.Message) {
	if patch.Content != "" {
		m.Content = patch.Content
	}
	if patch.Type != "" {
		m.Type = patch.Type
	}
	if patch.Status != "" {
		m.Status = patch.Status
	}
	if patch.Media != nil {
		m.Media = patch.Media
	}
	if patch.Direction.Valid() {
		m.Direction = patch.Direction
	}
	if patch.Timestamp > 0 && patch.Timestamp != m.Timestamp {
		m.Timestamp = patch.Timestamp
		s.reposition(m)
	}
}

func (s *MessageStore) reposition(m *model.Message) {
	seq := s.byConv[m.ConversationID]
	for i, cur := range seq {
		if cur == m {
			s.byConv[m.ConversationID] = append(seq[:i], seq[i+1:]...)
			break
		}
	}
	s.insert(m)
}
