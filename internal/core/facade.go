package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pombo/internal/bus"
	"pombo/internal/model"
	"pombo/internal/provider"
)

// ProviderAPI is the outbound request/response surface of the provider.
// Satisfied by *provider.Client; faked in tests.
type ProviderAPI interface {
	SendMessage(ctx context.Context, conversationID, content string, mtype model.MessageType) (*provider.SendResult, error)
	FetchConversations(ctx context.Context, page, limit int) ([]model.Conversation, error)
	FetchMessages(ctx context.Context, conversationID string, page, limit int) ([]model.Message, error)
}

// Sink receives every applied mutation for durable write-behind.
// Satisfied by *store.DB. The in-memory core stays authoritative; sink
// errors are logged, never propagated.
type Sink interface {
	UpsertMessage(m *model.Message) error
	UpsertConversation(c *model.Conversation) error
	DeleteMessage(id string) error
}

// Options tunes the facade.
type Options struct {
	SendTimeout time.Duration
	EchoWindow  time.Duration
	PageSize    int
}

// Facade is the synchronization core's public API and the only component
// the UI layer talks to. Every mutation — UI calls and transport events
// alike — is serialized under one mutex, so interleavings behave like a
// single event loop; network calls run outside the lock and re-enter to
// apply their result, which keeps optimistic inserts synchronously visible
// and lets in-flight sends resolve after the user navigated away.
type Facade struct {
	mu       sync.Mutex
	store    *MessageStore
	index    *ConversationIndex
	delivery *Delivery
	echo     *EchoReconciler
	api      ProviderAPI
	sink     Sink
	bus      *bus.Bus
	logger   *zap.Logger
	opts     Options

	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFacade wires the core components together. sink may be nil.
func NewFacade(api ProviderAPI, acker ReadAcker, sink Sink, b *bus.Bus, logger *zap.Logger, opts Options) *Facade {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 15 * time.Second
	}
	if opts.EchoWindow <= 0 {
		opts.EchoWindow = time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}

	store := NewMessageStore()
	index := NewConversationIndex(store)
	index.SetAcker(acker)
	f := &Facade{
		store:    store,
		index:    index,
		delivery: NewDelivery(store),
		echo:     NewEchoReconciler(store, opts.EchoWindow),
		api:      api,
		sink:     sink,
		bus:      b,
		logger:   logger,
		opts:     opts,
	}
	store.SetTouchFunc(index.Touch)
	return f
}

// Start subscribes to transport events. Provider pushes mutate the core;
// every transport.connected triggers a resync, since events during a
// disconnection are neither buffered nor replayed.
func (f *Facade) Start(ctx context.Context) {
	f.runCtx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	sub := f.bus.Subscribe(256, "provider.", bus.KindTransportConnected)

	go func() {
		defer close(f.done)
		defer sub.Close()
		for {
			select {
			case evt := <-sub.C():
				f.handleEvent(evt)
			case <-f.runCtx.Done():
				return
			}
		}
	}()
}

// Stop terminates event handling. In-flight sends are abandoned; their
// outcome is recovered from the provider on the next start's resync.
func (f *Facade) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
}

func (f *Facade) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindProviderMessage:
		if msg, ok := evt.Payload.(*model.Message); ok {
			f.handleInbound(msg)
		}
	case bus.KindProviderEcho:
		if msg, ok := evt.Payload.(*model.Message); ok {
			f.handleEcho(msg)
		}
	case bus.KindProviderStatus:
		if u, ok := evt.Payload.(model.StatusUpdate); ok {
			f.handleStatus(u)
		}
	case bus.KindProviderConversation:
		if p, ok := evt.Payload.(model.ConversationPatch); ok {
			f.handleConversationPatch(p)
		}
	case bus.KindTransportConnected:
		go func() {
			if err := f.Resync(f.runCtx); err != nil {
				f.logger.Warn("resync after reconnect failed", zap.Error(err))
			}
		}()
	}
}

// handleInbound ingests a pushed message. Redelivered events (same provider
// id) merge instead of duplicating and do not bump unread again.
func (f *Facade) handleInbound(msg *model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var created bool
	if msg.ProviderMessageID != "" {
		created = f.store.UpsertByProviderID(msg.ProviderMessageID, msg)
	} else {
		created = f.store.Append(msg)
	}

	convID := msg.ConversationID
	if created && msg.Direction == model.Inbound {
		if f.index.Active() == convID {
			// Visible to the user right now: acknowledge instead of counting.
			for _, fm := range f.index.MarkRead(convID) {
				f.persistMessage(fm)
			}
		} else {
			f.index.IncrementUnread(convID)
		}
	}

	f.persistConversation(convID)
	if m := f.currentMessage(msg); m != nil {
		f.persistMessage(m)
	}
	f.bus.Publish(bus.KindMessageChanged, convID)
	f.bus.Publish(bus.KindConversationChanged, convID)
}

func (f *Facade) handleEcho(echo *model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	res := f.echo.Reconcile(echo)
	if res.Msg == nil {
		return
	}
	if res.ReplacedID != "" {
		f.deleteMessage(res.ReplacedID)
	}
	f.persistMessage(res.Msg)
	f.persistConversation(res.Msg.ConversationID)
	f.bus.Publish(bus.KindMessageChanged, res.Msg.ConversationID)
	f.bus.Publish(bus.KindConversationChanged, res.Msg.ConversationID)
}

func (f *Facade) handleStatus(u model.StatusUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m := f.delivery.ApplyStatusUpdate(u)
	if m == nil {
		// Stale reference or backward move; both are dropped.
		return
	}
	f.persistMessage(m)
	f.bus.Publish(bus.KindMessageChanged, m.ConversationID)
}

func (f *Facade) handleConversationPatch(p model.ConversationPatch) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.index.ApplyPatch(p)
	f.persistConversation(p.ConversationID)
	f.bus.Publish(bus.KindConversationChanged, p.ConversationID)
}

// SelectConversation makes a conversation active, zeroing its unread count
// and acknowledging its inbound messages upstream.
func (f *Facade) SelectConversation(conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	flipped := f.index.SetActive(conversationID)
	for _, m := range flipped {
		f.persistMessage(m)
	}
	f.persistConversation(conversationID)
	if len(flipped) > 0 {
		f.bus.Publish(bus.KindMessageChanged, conversationID)
	}
	f.bus.Publish(bus.KindConversationChanged, conversationID)
}

// Send creates an optimistic outbound message, visible via
// GetOrderedMessages before the provider call resolves, and returns its
// (temporary) id.
func (f *Facade) Send(conversationID, content string, mtype model.MessageType) string {
	f.mu.Lock()
	f.index.Ensure(conversationID)
	msg := f.delivery.BeginSend(conversationID, content, mtype)
	f.persistMessage(msg)
	f.persistConversation(conversationID)
	f.bus.Publish(bus.KindMessageChanged, conversationID)
	f.bus.Publish(bus.KindConversationChanged, conversationID)
	id := msg.ID
	f.mu.Unlock()

	go f.performSend(id, conversationID, content, mtype)
	return id
}

// Retry re-sends a failed message with its original content and id.
// Returns ErrNotRetryable for stale or already-confirmed references.
func (f *Facade) Retry(messageID string) error {
	f.mu.Lock()
	msg, err := f.delivery.PrepareRetry(messageID)
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("retry %s: %w", messageID, err)
	}
	conversationID, content, mtype := msg.ConversationID, msg.Content, msg.Type
	f.persistMessage(msg)
	f.bus.Publish(bus.KindMessageChanged, conversationID)
	f.mu.Unlock()

	go f.performSend(messageID, conversationID, content, mtype)
	return nil
}

func (f *Facade) performSend(id, conversationID, content string, mtype model.MessageType) {
	parent := f.runCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, f.opts.SendTimeout)
	defer cancel()

	res, err := f.api.SendMessage(ctx, conversationID, content, mtype)

	f.mu.Lock()
	defer f.mu.Unlock()

	if err != nil {
		f.logger.Warn("send failed",
			zap.String("message_id", id),
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		if m := f.delivery.Fail(id); m != nil {
			f.persistMessage(m)
		}
		f.bus.Publish(bus.KindMessageChanged, conversationID)
		f.bus.Publish(bus.KindMessageSendFailed, bus.SendFailure{
			ConversationID: conversationID,
			MessageID:      id,
			Reason:         err.Error(),
		})
		return
	}

	m, replaced := f.delivery.Complete(id, res.ProviderMessageID, res.Status)
	if replaced != "" {
		f.deleteMessage(replaced)
	}
	if m != nil {
		f.persistMessage(m)
	}
	f.persistConversation(conversationID)
	f.bus.Publish(bus.KindMessageChanged, conversationID)
}

// GetOrderedMessages returns the conversation's messages by timestamp
// ascending, as copies.
func (f *Facade) GetOrderedMessages(conversationID string) []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	seq := f.store.ListOrdered(conversationID)
	out := make([]model.Message, len(seq))
	for i, m := range seq {
		out[i] = *m
	}
	return out
}

// GetConversations returns the conversation list by recency.
func (f *Facade) GetConversations() []model.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.index.List()
}

// LoadHistory fetches a page of a conversation's history. Page zero is a
// full reload that retains locally failed sends; later pages merge.
func (f *Facade) LoadHistory(ctx context.Context, conversationID string, page int) error {
	msgs, err := f.api.FetchMessages(ctx, conversationID, page, f.opts.PageSize)
	if err != nil {
		return fmt.Errorf("load history %s: %w", conversationID, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if page == 0 {
		ptrs := make([]*model.Message, len(msgs))
		for i := range msgs {
			ptrs[i] = &msgs[i]
		}
		f.store.ReplaceFromServer(conversationID, ptrs)
	} else {
		for i := range msgs {
			m := &msgs[i]
			if m.ProviderMessageID != "" {
				f.store.UpsertByProviderID(m.ProviderMessageID, m)
			} else {
				f.store.Append(m)
			}
		}
	}
	for _, m := range f.store.ListOrdered(conversationID) {
		f.persistMessage(m)
	}
	f.persistConversation(conversationID)
	f.bus.Publish(bus.KindMessageChanged, conversationID)
	f.bus.Publish(bus.KindConversationChanged, conversationID)
	return nil
}

// Resync refetches the conversation list and reloads the active
// conversation. It is the correctness backstop after every reconnect.
func (f *Facade) Resync(ctx context.Context) error {
	convs, err := f.api.FetchConversations(ctx, 0, f.opts.PageSize)
	if err != nil {
		return fmt.Errorf("resync conversations: %w", err)
	}

	f.mu.Lock()
	f.index.ApplyServerSnapshot(convs)
	for i := range convs {
		f.persistConversation(convs[i].ID)
	}
	active := f.index.Active()
	f.bus.Publish(bus.KindConversationChanged, "")
	f.mu.Unlock()

	if active != "" {
		return f.LoadHistory(ctx, active, 0)
	}
	return nil
}

// Warm seeds the core from the durable cache before the first connect, so
// the console has data before any network round-trip. No write-behind.
func (f *Facade) Warm(convs []model.Conversation, msgs []model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range convs {
		f.index.Seed(c)
	}
	for i := range msgs {
		f.store.Append(&msgs[i])
	}
}

// OnConversationsChanged subscribes to conversation list changes. The
// payload is the affected conversation id ("" for a full refresh).
func (f *Facade) OnConversationsChanged(bufSize int) *bus.Subscription {
	return f.bus.Subscribe(bufSize, bus.KindConversationChanged)
}

// OnMessagesChanged subscribes to message sequence changes; the payload is
// the conversation id.
func (f *Facade) OnMessagesChanged(bufSize int) *bus.Subscription {
	return f.bus.Subscribe(bufSize, bus.KindMessageChanged)
}

// currentMessage relocates msg after ingestion, which may have merged it
// into an existing entry.
func (f *Facade) currentMessage(msg *model.Message) *model.Message {
	if msg.ProviderMessageID != "" {
		if m := f.store.GetByProviderID(msg.ProviderMessageID); m != nil {
			return m
		}
	}
	return f.store.Get(msg.ID)
}

func (f *Facade) persistMessage(m *model.Message) {
	if f.sink == nil || m == nil {
		return
	}
	if err := f.sink.UpsertMessage(m); err != nil {
		f.logger.Warn("persist message failed", zap.String("id", m.ID), zap.Error(err))
	}
}

func (f *Facade) persistConversation(conversationID string) {
	if f.sink == nil {
		return
	}
	c := f.index.Get(conversationID)
	if c == nil {
		return
	}
	if err := f.sink.UpsertConversation(c); err != nil {
		f.logger.Warn("persist conversation failed", zap.String("id", c.ID), zap.Error(err))
	}
}

func (f *Facade) deleteMessage(id string) {
	if f.sink == nil {
		return
	}
	if err := f.sink.DeleteMessage(id); err != nil {
		f.logger.Warn("delete cached message failed", zap.String("id", id), zap.Error(err))
	}
}
