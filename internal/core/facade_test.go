package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"pombo/internal/bus"
	"pombo/internal/model"
	"pombo/internal/provider"
)

type fakeAPI struct {
	mu        sync.Mutex
	sendErr   error
	sendCount int
	convs     []model.Conversation
	msgs      map[string][]model.Message
}

func (a *fakeAPI) SendMessage(ctx context.Context, conversationID, content string, mtype model.MessageType) (*provider.SendResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendCount++
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	return &provider.SendResult{
		ProviderMessageID: fmt.Sprintf("wamid.%d", a.sendCount),
		Status:            model.StatusSent,
	}, nil
}

func (a *fakeAPI) FetchConversations(ctx context.Context, page, limit int) ([]model.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.convs, nil
}

func (a *fakeAPI) FetchMessages(ctx context.Context, conversationID string, page, limit int) ([]model.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if page > 0 {
		return nil, nil
	}
	return a.msgs[conversationID], nil
}

func (a *fakeAPI) setErr(err error) {
	a.mu.Lock()
	a.sendErr = err
	a.mu.Unlock()
}

type fakeSink struct {
	mu       sync.Mutex
	messages map[string]model.Message
	deleted  []string
}

func newFakeSink() *fakeSink {
	return &fakeSink{messages: make(map[string]model.Message)}
}

func (s *fakeSink) UpsertMessage(m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = *m
	return nil
}

func (s *fakeSink) UpsertConversation(c *model.Conversation) error { return nil }

func (s *fakeSink) DeleteMessage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeSink) message(id string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	return m, ok
}

func newFacadeFixture(t *testing.T) (*Facade, *fakeAPI, *bus.Bus) {
	t.Helper()
	api := &fakeAPI{msgs: make(map[string][]model.Message)}
	b := bus.New()
	f := NewFacade(api, newRecordingAcker(), nil, b, zap.NewNop(), Options{
		SendTimeout: time.Second,
		EchoWindow:  time.Second,
		PageSize:    50,
	})
	return f, api, b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestSendOptimisticThenConfirmed(t *testing.T) {
	f, _, _ := newFacadeFixture(t)

	id := f.Send("c1", "hello", model.TypeText)

	// Visible synchronously, before the provider call resolves.
	msgs := f.GetOrderedMessages("c1")
	if len(msgs) != 1 || msgs[0].ID != id || msgs[0].Status != model.StatusSending {
		t.Fatalf("messages = %+v", msgs)
	}

	waitFor(t, func() bool {
		seq := f.GetOrderedMessages("c1")
		return len(seq) == 1 && seq[0].Status == model.StatusSent
	})
	got := f.GetOrderedMessages("c1")[0]
	if got.ProviderMessageID == "" || got.ID == id {
		t.Errorf("message = %+v, want promoted id and provider id", got)
	}
}

func TestSendFailurePublishesAndRetryWorks(t *testing.T) {
	f, api, b := newFacadeFixture(t)
	sub := b.Subscribe(10, bus.KindMessageSendFailed)
	defer sub.Close()
	api.setErr(errors.New("boom"))

	id := f.Send("c1", "hello", model.TypeText)

	waitFor(t, func() bool {
		seq := f.GetOrderedMessages("c1")
		return len(seq) == 1 && seq[0].Status == model.StatusFailed
	})
	select {
	case evt := <-sub.C():
		fail := evt.Payload.(bus.SendFailure)
		if fail.MessageID != id || fail.ConversationID != "c1" {
			t.Errorf("failure = %+v", fail)
		}
	case <-time.After(time.Second):
		t.Fatal("no send failure event")
	}

	api.setErr(nil)
	if err := f.Retry(id); err != nil {
		t.Fatalf("retry: %v", err)
	}
	waitFor(t, func() bool {
		seq := f.GetOrderedMessages("c1")
		return len(seq) == 1 && seq[0].Status == model.StatusSent
	})
}

func TestRetryNotRetryable(t *testing.T) {
	f, _, _ := newFacadeFixture(t)

	if err := f.Retry("missing"); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("unknown id: err = %v", err)
	}

	f.Send("c1", "hello", model.TypeText)
	waitFor(t, func() bool {
		seq := f.GetOrderedMessages("c1")
		return len(seq) == 1 && seq[0].Status == model.StatusSent
	})
	confirmed := f.GetOrderedMessages("c1")[0].ID
	if err := f.Retry(confirmed); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("confirmed message: err = %v", err)
	}
}

func TestInboundBumpsUnreadUnlessActive(t *testing.T) {
	f, _, _ := newFacadeFixture(t)

	f.handleInbound(inbound("a", "c1", "oi", 100))
	convs := f.GetConversations()
	if len(convs) != 1 || convs[0].UnreadCount != 1 {
		t.Fatalf("conversations = %+v", convs)
	}

	// Redelivery of the same provider id must not bump again.
	f.handleInbound(inbound("a", "c1", "oi", 100))
	if got := f.GetConversations()[0].UnreadCount; got != 1 {
		t.Errorf("unread after redelivery = %d, want 1", got)
	}

	f.SelectConversation("c1")
	f.handleInbound(inbound("b", "c1", "de novo", 200))
	if got := f.GetConversations()[0].UnreadCount; got != 0 {
		t.Errorf("unread while active = %d, want 0", got)
	}
}

func TestEchoDedupThroughFacade(t *testing.T) {
	f, api, _ := newFacadeFixture(t)
	api.setErr(errors.New("slow network")) // keep the optimistic message pending
	f.Send("c1", "Hola", model.TypeText)
	waitFor(t, func() bool {
		seq := f.GetOrderedMessages("c1")
		return len(seq) == 1 && seq[0].Status == model.StatusFailed
	})
	// Flip back to pending as the echo would find it mid-flight.
	f.mu.Lock()
	pending := f.store.ListOrdered("c1")[0]
	pending.Status = model.StatusSending
	f.mu.Unlock()

	f.handleEcho(&model.Message{
		ID:                "srv-1",
		ConversationID:    "c1",
		Direction:         model.Outbound,
		Status:            model.StatusSent,
		Content:           "Hola",
		ProviderMessageID: "abc123",
		Timestamp:         pending.Timestamp + 500,
	})

	msgs := f.GetOrderedMessages("c1")
	if len(msgs) != 1 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].ProviderMessageID != "abc123" || msgs[0].Status != model.StatusSent {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestStatusEventThroughFacade(t *testing.T) {
	f, _, _ := newFacadeFixture(t)
	f.Send("c1", "hello", model.TypeText)
	waitFor(t, func() bool {
		seq := f.GetOrderedMessages("c1")
		return len(seq) == 1 && seq[0].Status == model.StatusSent
	})
	pid := f.GetOrderedMessages("c1")[0].ProviderMessageID

	f.handleStatus(model.StatusUpdate{ProviderMessageID: pid, Status: model.StatusRead})
	f.handleStatus(model.StatusUpdate{ProviderMessageID: pid, Status: model.StatusDelivered})

	if got := f.GetOrderedMessages("c1")[0].Status; got != model.StatusRead {
		t.Errorf("status = %q, want read", got)
	}
}

func TestLoadHistoryRetainsFailedSend(t *testing.T) {
	f, api, _ := newFacadeFixture(t)
	api.setErr(errors.New("boom"))
	id := f.Send("c1", "pending text", model.TypeText)
	waitFor(t, func() bool {
		seq := f.GetOrderedMessages("c1")
		return len(seq) == 1 && seq[0].Status == model.StatusFailed
	})

	api.mu.Lock()
	api.msgs["c1"] = []model.Message{
		*inbound("srv-a", "c1", "history one", 100),
		*inbound("srv-b", "c1", "history two", 200),
	}
	api.mu.Unlock()

	if err := f.LoadHistory(context.Background(), "c1", 0); err != nil {
		t.Fatalf("load history: %v", err)
	}
	msgs := f.GetOrderedMessages("c1")
	if len(msgs) != 3 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[2].ID != id || msgs[2].Status != model.StatusFailed {
		t.Errorf("failed local send dropped by reload: %+v", msgs[2])
	}
}

func TestResyncOnTransportConnected(t *testing.T) {
	f, api, b := newFacadeFixture(t)
	api.mu.Lock()
	api.convs = []model.Conversation{{ID: "c1", DisplayName: "Ana", UnreadCount: 4, LastMessageTime: 100}}
	api.mu.Unlock()

	f.Start(context.Background())
	defer f.Stop()

	b.Publish(bus.KindTransportConnected, nil)

	waitFor(t, func() bool {
		convs := f.GetConversations()
		return len(convs) == 1 && convs[0].DisplayName == "Ana"
	})
	if got := f.GetConversations()[0].UnreadCount; got != 4 {
		t.Errorf("unread = %d, want 4", got)
	}
}

func TestSelectConversationPersistsReadFlips(t *testing.T) {
	api := &fakeAPI{msgs: make(map[string][]model.Message)}
	sink := newFakeSink()
	f := NewFacade(api, newRecordingAcker(), sink, bus.New(), zap.NewNop(), Options{
		SendTimeout: time.Second,
		EchoWindow:  time.Second,
		PageSize:    50,
	})

	f.handleInbound(inbound("a", "c1", "one", 100))
	f.handleInbound(inbound("b", "c1", "two", 200))
	// Not selected yet, so the cache must still say received.
	for _, id := range []string{"a", "b"} {
		if m, ok := sink.message(id); !ok || m.Status != model.StatusReceived {
			t.Fatalf("cached %s = %+v, want received", id, m)
		}
	}

	f.SelectConversation("c1")

	for _, id := range []string{"a", "b"} {
		m, ok := sink.message(id)
		if !ok {
			t.Fatalf("message %s missing from cache", id)
		}
		if m.Status != model.StatusRead {
			t.Errorf("cached %s status = %q, want read", id, m.Status)
		}
	}
}

func TestWarmSeedsWithoutNetwork(t *testing.T) {
	f, _, _ := newFacadeFixture(t)

	f.Warm(
		[]model.Conversation{{ID: "c1", DisplayName: "Ana", UnreadCount: 2, LastMessageTime: 100}},
		[]model.Message{*inbound("a", "c1", "cached", 100)},
	)

	convs := f.GetConversations()
	if len(convs) != 1 || convs[0].DisplayName != "Ana" {
		t.Fatalf("conversations = %+v", convs)
	}
	msgs := f.GetOrderedMessages("c1")
	if len(msgs) != 1 || msgs[0].Content != "cached" {
		t.Errorf("messages = %+v", msgs)
	}
}
