package store

import (
	"path/filepath"
	"testing"

	"pombo/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func storedMessage(id, conv string, ts int64) *model.Message {
	return &model.Message{
		ID:             id,
		ConversationID: conv,
		Direction:      model.Inbound,
		Type:           model.TypeText,
		Status:         model.StatusReceived,
		Content:        "content " + id,
		Timestamp:      ts,
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + fts)", result.Version)
	}
}

func TestUpsertConversationRoundTrip(t *testing.T) {
	db := testDB(t)

	c := &model.Conversation{
		ID:                 "c1",
		Phone:              "+5511999",
		DisplayName:        "Ana",
		LastMessagePreview: "oi",
		LastMessageTime:    1000,
		UnreadCount:        3,
		Status:             model.ConversationActive,
	}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	c.UnreadCount = 0
	c.DisplayName = "Ana Clara"
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.DisplayName != "Ana Clara" || got.UnreadCount != 0 {
		t.Errorf("conversation = %+v", got)
	}

	missing, err := db.GetConversation("nope")
	if err != nil || missing != nil {
		t.Errorf("missing = %+v, err = %v", missing, err)
	}
}

func TestListConversationsOrdering(t *testing.T) {
	db := testDB(t)
	for _, c := range []model.Conversation{
		{ID: "old", LastMessageTime: 100, Status: model.ConversationActive},
		{ID: "new", LastMessageTime: 300, Status: model.ConversationActive},
		{ID: "mid", LastMessageTime: 200, Status: model.ConversationActive},
	} {
		c := c
		if err := db.UpsertConversation(&c); err != nil {
			t.Fatal(err)
		}
	}

	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 3 || convs[0].ID != "new" || convs[2].ID != "old" {
		t.Errorf("conversations = %+v", convs)
	}
}

func TestUpsertMessageReplacesProviderIDHolder(t *testing.T) {
	db := testDB(t)

	optimistic := storedMessage("pending-1", "c1", 1000)
	optimistic.Direction = model.Outbound
	optimistic.Status = model.StatusSending
	if err := db.UpsertMessage(optimistic); err != nil {
		t.Fatal(err)
	}

	// Promotion rekeyed the message: same provider id, new row id.
	promoted := storedMessage("wamid.1", "c1", 1000)
	promoted.Direction = model.Outbound
	promoted.Status = model.StatusSent
	promoted.ProviderMessageID = "wamid.1"
	if err := db.UpsertMessage(promoted); err != nil {
		t.Fatal(err)
	}
	stale := storedMessage("pending-1", "c1", 1000)
	stale.ProviderMessageID = "wamid.1"
	if err := db.UpsertMessage(stale); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %+v, want the provider id held once", msgs)
	}
	if msgs[0].ID != "pending-1" {
		t.Errorf("id = %q, latest writer should hold the provider id", msgs[0].ID)
	}
}

func TestMessageMediaRoundTrip(t *testing.T) {
	db := testDB(t)

	m := storedMessage("m1", "c1", 1000)
	m.Type = model.TypeImage
	m.Media = &model.MediaRef{URL: "https://cdn.example/pic.jpg", MIMEType: "image/jpeg"}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Media == nil {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Media.URL != m.Media.URL || msgs[0].Media.MIMEType != "image/jpeg" {
		t.Errorf("media = %+v", msgs[0].Media)
	}
}

func TestDeleteMessage(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertMessage(storedMessage("m1", "c1", 1000)); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteMessage("m1"); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteMessage("missing"); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages = %+v, want empty", msgs)
	}
}

func TestAllMessagesAscending(t *testing.T) {
	db := testDB(t)
	for _, m := range []*model.Message{
		storedMessage("b", "c1", 200),
		storedMessage("a", "c1", 100),
		storedMessage("c", "c2", 300),
	} {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.AllMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 || msgs[0].ID != "a" || msgs[2].ID != "c" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)
	hello := storedMessage("m1", "c1", 100)
	hello.Content = "hello from the other side"
	other := storedMessage("m2", "c2", 200)
	other.Content = "hello again"
	noise := storedMessage("m3", "c1", 300)
	noise.Content = "nothing relevant"
	for _, m := range []*model.Message{hello, other, noise} {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	results, err := db.SearchMessages("hello", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}

	scoped, err := db.SearchMessages("hello", "c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 1 || scoped[0].Message.ID != "m1" {
		t.Fatalf("scoped = %+v", scoped)
	}
	if scoped[0].Snippet == "" {
		t.Error("empty snippet")
	}
}

func TestSearchReflectsUpdatesAndDeletes(t *testing.T) {
	db := testDB(t)
	m := storedMessage("m1", "c1", 100)
	m.Content = "original wording"
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	m.Content = "rewritten body"
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	if results, _ := db.SearchMessages("original", "", 10); len(results) != 0 {
		t.Errorf("stale index entry: %+v", results)
	}
	if results, _ := db.SearchMessages("rewritten", "", 10); len(results) != 1 {
		t.Errorf("results = %+v", results)
	}

	if err := db.DeleteMessage("m1"); err != nil {
		t.Fatal(err)
	}
	if results, _ := db.SearchMessages("rewritten", "", 10); len(results) != 0 {
		t.Errorf("index entry survived delete: %+v", results)
	}
}
