package store

import (
	"testing"
	"time"

	"github.com/saravenpi/alljobs-chat/internal/models"
)

func msg(conv, id, sender, content string) models.Message {
	return models.Message{ID: id, ConversationID: conv, Sender: models.User{ID: sender}, Content: content}
}

func TestAppendIgnoresDuplicateIDs(t *testing.T) {
	s := New()
	if !s.Append(msg("c1", "m1", "u2", "hi")) {
		t.Fatal("first append rejected")
	}
	if s.Append(msg("c1", "m1", "u2", "hi")) {
		t.Fatal("duplicate append accepted")
	}
	if got := len(s.Messages("c1")); got != 1 {
		t.Fatalf("len = %d, want 1", got)
	}
}

func TestUpdatePreviewMovesToTop(t *testing.T) {
	s := New()
	s.SetConversations([]models.Conversation{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if !s.UpdatePreview("c", "latest", at) {
		t.Fatal("UpdatePreview returned false")
	}
	convs := s.Conversations()
	if convs[0].ID != "c" || convs[1].ID != "a" || convs[2].ID != "b" {
		t.Fatalf("order = %s %s %s", convs[0].ID, convs[1].ID, convs[2].ID)
	}
	if convs[0].LastMessage != "latest" || !convs[0].LastMessageAt.Equal(at) {
		t.Fatalf("preview = %+v", convs[0])
	}
	if s.UpdatePreview("zzz", "x", at) {
		t.Fatal("unknown conversation must report false")
	}
}

func TestUnreadCounters(t *testing.T) {
	s := New()
	s.SetConversations([]models.Conversation{{ID: "a", UnreadCount: 4}})
	s.IncrementUnread("a")
	if c, _ := s.Conversation("a"); c.UnreadCount != 5 {
		t.Fatalf("unread = %d", c.UnreadCount)
	}
	s.ResetUnread("a")
	if c, _ := s.Conversation("a"); c.UnreadCount != 0 {
		t.Fatalf("unread = %d", c.UnreadCount)
	}
}

func TestReconcileByClientID(t *testing.T) {
	s := New()
	pending := msg("c1", "tmp-1", "me", "hello")
	pending.ClientID = "tmp-1"
	pending.Status = models.StatusPending
	s.Append(pending)

	echo := msg("c1", "srv-1", "me", "hello")
	echo.ClientID = "tmp-1"
	echo.CreatedAt = time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	got, ok := s.Reconcile(echo)
	if !ok {
		t.Fatal("Reconcile returned false")
	}
	if got.ClientID != "tmp-1" {
		t.Fatalf("returned message = %+v", got)
	}

	msgs := s.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].ID != "srv-1" || msgs[0].ClientID != "tmp-1" || msgs[0].Status != models.StatusConfirmed {
		t.Fatalf("reconciled = %+v", msgs[0])
	}
	if !msgs[0].CreatedAt.Equal(echo.CreatedAt) {
		t.Fatal("server timestamp not applied")
	}
	if !s.HasMessage("c1", "srv-1") || !s.HasMessage("c1", "tmp-1") {
		t.Fatal("message must be findable by both ids")
	}
}

func TestReconcileByContentPicksOldestPending(t *testing.T) {
	s := New()
	for _, id := range []string{"tmp-1", "tmp-2"} {
		m := msg("c1", id, "me", "same")
		m.ClientID = id
		m.Status = models.StatusPending
		s.Append(m)
	}

	if _, ok := s.Reconcile(msg("c1", "srv-9", "me", "same")); !ok {
		t.Fatal("Reconcile returned false")
	}
	msgs := s.Messages("c1")
	if msgs[0].ID != "srv-9" || msgs[1].Status != models.StatusPending {
		t.Fatalf("msgs = %+v", msgs)
	}
	if _, ok := s.Reconcile(msg("c1", "srv-10", "me", "different")); ok {
		t.Fatal("content mismatch must not reconcile")
	}
}

func TestReplaceHistoryKeepsLiveAndDropsSupersededPending(t *testing.T) {
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	live := msg("c1", "m3", "u2", "arrived during fetch")
	s.Append(live)
	echoed := msg("c1", "tmp-a", "me", "already on server")
	echoed.ClientID = "tmp-a"
	echoed.Status = models.StatusPending
	echoed.CreatedAt = at
	s.Append(echoed)
	inflight := msg("c1", "tmp-b", "me", "not yet on server")
	inflight.ClientID = "tmp-b"
	inflight.Status = models.StatusPending
	inflight.CreatedAt = at
	s.Append(inflight)

	old := msg("c1", "m1", "u2", "old")
	old.CreatedAt = at.Add(-time.Hour)
	stored := msg("c1", "m2", "me", "already on server")
	stored.CreatedAt = at.Add(time.Second)
	s.ReplaceHistory("c1", []models.Message{old, stored})

	msgs := s.Messages("c1")
	want := []string{"m1", "m2", "m3", "tmp-b"}
	if len(msgs) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(msgs), len(want), msgs)
	}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Fatalf("msgs[%d] = %s, want %s", i, msgs[i].ID, id)
		}
	}
}

func TestReplaceHistoryKeepsFailedResendOfOlderText(t *testing.T) {
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	sent := msg("c1", "srv-1", "me", "ok")
	sent.Status = models.StatusConfirmed
	sent.CreatedAt = at
	s.Append(sent)
	failed := msg("c1", "tmp-1", "me", "ok")
	failed.ClientID = "tmp-1"
	failed.Status = models.StatusFailed
	failed.CreatedAt = at.Add(time.Minute)
	s.Append(failed)

	s.ReplaceHistory("c1", []models.Message{sent})

	msgs := s.Messages("c1")
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(msgs), msgs)
	}
	if msgs[1].ID != "tmp-1" || msgs[1].Status != models.StatusFailed {
		t.Fatalf("failed message = %+v", msgs[1])
	}
}

func TestReplaceHistoryMatchesByClientIDFirst(t *testing.T) {
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	first := msg("c1", "tmp-1", "me", "same")
	first.ClientID = "tmp-1"
	first.Status = models.StatusPending
	first.CreatedAt = at
	s.Append(first)
	second := msg("c1", "tmp-2", "me", "same")
	second.ClientID = "tmp-2"
	second.Status = models.StatusPending
	second.CreatedAt = at
	s.Append(second)

	// Only the second one reached the server.
	stored := msg("c1", "srv-2", "me", "same")
	stored.ClientID = "tmp-2"
	stored.CreatedAt = at.Add(time.Second)
	s.ReplaceHistory("c1", []models.Message{stored})

	msgs := s.Messages("c1")
	if len(msgs) != 2 || msgs[0].ID != "srv-2" || msgs[1].ID != "tmp-1" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestSetConversationsDropsStaleMessages(t *testing.T) {
	s := New()
	s.SetConversations([]models.Conversation{{ID: "a"}, {ID: "b"}})
	s.Append(msg("a", "m1", "u", "x"))
	s.Append(msg("b", "m2", "u", "y"))
	s.SetConversations([]models.Conversation{{ID: "a"}})

	if len(s.Messages("a")) != 1 || len(s.Messages("b")) != 0 {
		t.Fatal("messages of removed conversations must be dropped")
	}
}

func TestMarkReadAndClear(t *testing.T) {
	s := New()
	s.Append(msg("c1", "m1", "u2", "x"))
	s.Append(msg("c1", "m2", "me", "y"))
	s.MarkRead("c1", "me")
	msgs := s.Messages("c1")
	if !msgs[0].Read || msgs[1].Read {
		t.Fatalf("read flags = %v %v", msgs[0].Read, msgs[1].Read)
	}

	s.Clear()
	if len(s.Conversations()) != 0 || len(s.Messages("c1")) != 0 {
		t.Fatal("Clear left state behind")
	}
}
