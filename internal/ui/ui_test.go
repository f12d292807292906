package ui

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/saravenpi/alljobs-chat/internal/contacts"
	"github.com/saravenpi/alljobs-chat/internal/models"
	"github.com/saravenpi/alljobs-chat/internal/session"
)

type fakeChat struct {
	snap     session.Snapshot
	selected []string
	left     int
	sent     []string
	drafts   []string
	typing   []bool
	retried  []string
	loads    int
	offline  bool
}

func (f *fakeChat) Snapshot() session.Snapshot { return f.snap }

func (f *fakeChat) LoadConversations(ctx context.Context) { f.loads++ }

func (f *fakeChat) SelectConversation(id string) {
	f.selected = append(f.selected, id)
	f.snap.ActiveID = id
}

func (f *fakeChat) LeaveConversation() {
	f.left++
	f.snap.ActiveID = ""
}

func (f *fakeChat) SendMessage(text string) string {
	if f.offline || strings.TrimSpace(text) == "" {
		return ""
	}
	f.sent = append(f.sent, text)
	return "tmp-1"
}

func (f *fakeChat) RetryMessage(id string) bool {
	f.retried = append(f.retried, id)
	return !f.offline
}

func (f *fakeChat) SetTyping(isTyping bool) { f.typing = append(f.typing, isTyping) }

func (f *fakeChat) SetDraft(text string) { f.drafts = append(f.drafts, text) }

var (
	viewer = models.User{ID: "me", Name: "Me"}
	ana    = models.User{ID: "ana", Name: "Ana"}
	bob    = models.User{ID: "bob", Name: "Bob"}
)

func newTestApp(t *testing.T) (*App, *fakeChat) {
	chat := &fakeChat{snap: session.Snapshot{
		State:  models.StateConnected,
		Viewer: viewer,
		Conversations: []models.Conversation{
			{ID: "a", Participants: []models.User{viewer, ana}, LastMessage: "see you", UnreadCount: 2},
			{ID: "b", Participants: []models.User{bob, viewer}},
		},
	}}
	return &App{Chat: chat, Contacts: contacts.NewBook(t.TempDir())}, chat
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestFormatTimeAgo(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "just now"},
		{90 * time.Second, "1 min ago"},
		{10 * time.Minute, "10m ago"},
		{90 * time.Minute, "1h ago"},
		{5 * time.Hour, "5h ago"},
		{30 * time.Hour, "yesterday"},
		{72 * time.Hour, "3d ago"},
		{30 * 24 * time.Hour, "May 16"},
	}
	for _, tt := range tests {
		if got := formatTimeAgo(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("formatTimeAgo(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
	if got := formatTimeAgo(time.Time{}, now); got != "never" {
		t.Errorf("zero time = %q", got)
	}
}

func TestConversationItem(t *testing.T) {
	item := conversationItem{
		conv: models.Conversation{UnreadCount: 3, LastMessage: strings.Repeat("x", 80)},
		name: "Ana",
		now:  time.Now(),
	}
	if item.Title() != "Ana (3)" {
		t.Fatalf("Title = %q", item.Title())
	}
	desc := item.Description()
	if !strings.HasPrefix(desc, "never • ") || !strings.HasSuffix(desc, "...") {
		t.Fatalf("Description = %q", desc)
	}
}

func TestConversationsUseNicknamesAndUnreadFilter(t *testing.T) {
	app, _ := newTestApp(t)
	if err := app.Contacts.Save(contacts.Contact{Name: "Ana (recruiter)", UserIDs: []string{"ana"}}); err != nil {
		t.Fatal(err)
	}

	m := NewConversationsModel(app)
	items := m.list.Items()
	if len(items) != 2 {
		t.Fatalf("items = %d", len(items))
	}
	if got := items[0].(conversationItem).name; got != "Ana (recruiter)" {
		t.Fatalf("name = %q", got)
	}
	if got := items[1].(conversationItem).name; got != "Bob" {
		t.Fatalf("name = %q", got)
	}

	next, _ := m.Update(key("u"))
	m = next.(ConversationsModel)
	if n := len(m.list.Items()); n != 1 {
		t.Fatalf("unread-only items = %d", n)
	}
}

func TestOpenConversationSelectsIt(t *testing.T) {
	app, chat := newTestApp(t)
	m := NewConversationsModel(app)

	next, _ := m.Update(key("enter"))
	if _, ok := next.(MessagesModel); !ok {
		t.Fatalf("next screen = %T", next)
	}
	if len(chat.selected) != 1 || chat.selected[0] != "a" {
		t.Fatalf("selected = %v", chat.selected)
	}
}

func TestComposeDrivesDraftTypingAndSend(t *testing.T) {
	app, chat := newTestApp(t)
	chat.SelectConversation("a")
	var model tea.Model = NewMessagesModel(app)

	model, _ = model.Update(key("n"))
	for _, r := range "hi" {
		model, _ = model.Update(key(string(r)))
	}
	if len(chat.drafts) != 2 || chat.drafts[1] != "hi" {
		t.Fatalf("drafts = %v", chat.drafts)
	}
	if len(chat.typing) != 2 || !chat.typing[0] || !chat.typing[1] {
		t.Fatalf("typing = %v", chat.typing)
	}

	model, _ = model.Update(key("enter"))
	if len(chat.sent) != 1 || chat.sent[0] != "hi" {
		t.Fatalf("sent = %v", chat.sent)
	}
	if v := model.(MessagesModel).textarea.Value(); v != "" {
		t.Fatalf("input not cleared: %q", v)
	}
}

func TestSendWhileOfflineKeepsInput(t *testing.T) {
	app, chat := newTestApp(t)
	chat.SelectConversation("a")
	chat.offline = true
	chat.snap.Draft = "pending thought"

	m := NewMessagesModel(app)
	if !m.composing {
		t.Fatal("a saved draft must reopen the editor")
	}
	next, _ := m.Update(key("enter"))
	m = next.(MessagesModel)
	if m.textarea.Value() != "pending thought" || m.notice == "" {
		t.Fatalf("value = %q notice = %q", m.textarea.Value(), m.notice)
	}
}

func TestEscLeavesConversation(t *testing.T) {
	app, chat := newTestApp(t)
	chat.SelectConversation("a")
	m := NewMessagesModel(app)

	next, _ := m.Update(key("esc"))
	if _, ok := next.(ConversationsModel); !ok {
		t.Fatalf("next screen = %T", next)
	}
	if chat.left != 1 {
		t.Fatalf("left = %d", chat.left)
	}
}

func TestRetryFailedMessages(t *testing.T) {
	app, chat := newTestApp(t)
	chat.SelectConversation("a")
	chat.snap.Messages = []models.Message{
		{ID: "m1", ConversationID: "a", Sender: ana, Content: "hello"},
		{ID: "tmp-1", ClientID: "tmp-1", ConversationID: "a", Sender: viewer, Content: "lost", Status: models.StatusFailed},
	}
	m := NewMessagesModel(app)
	m.Update(key("f"))
	if len(chat.retried) != 1 || chat.retried[0] != "tmp-1" {
		t.Fatalf("retried = %v", chat.retried)
	}
}

func TestRenderMessagesMarksDeliveryState(t *testing.T) {
	msgs := []models.Message{
		{ID: "m1", Sender: ana, Content: "hello", CreatedAt: time.Now()},
		{ID: "tmp-1", Sender: viewer, Content: "on its way", Status: models.StatusPending, CreatedAt: time.Now()},
		{ID: "tmp-2", Sender: viewer, Content: "lost", Status: models.StatusFailed, CreatedAt: time.Now()},
	}
	out := renderMessages(msgs, "me", "Ana", 60)
	for _, want := range []string{"Ana •", "hello", "sending...", "not delivered"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestForwardStopsOnClose(t *testing.T) {
	updates := make(chan session.Update, 2)
	updates <- session.MessagesChanged
	updates <- session.TypingChanged
	close(updates)

	var got []tea.Msg
	Forward(context.Background(), updates, func(msg tea.Msg) { got = append(got, msg) })
	if len(got) != 2 {
		t.Fatalf("forwarded %d messages", len(got))
	}
	if u := got[0].(SessionUpdatedMsg); !u.What.Has(session.MessagesChanged) {
		t.Fatalf("first = %+v", u)
	}
}

func TestBellRings(t *testing.T) {
	var buf bytes.Buffer
	if err := (Bell{Out: &buf}).Notify(models.Message{}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "\a" {
		t.Fatalf("wrote %q", buf.String())
	}
}

type fakeDraftIndex map[string][]string

func (f fakeDraftIndex) Conversations(userID string) ([]string, error) {
	return f[userID], nil
}

func TestConversationsMarkDrafts(t *testing.T) {
	app, _ := newTestApp(t)
	app.Drafts = fakeDraftIndex{"me": {"b"}}

	m := NewConversationsModel(app)
	items := m.list.Items()
	if items[0].(conversationItem).draft {
		t.Fatal("conversation a has no draft")
	}
	item := items[1].(conversationItem)
	if !item.draft || !strings.Contains(item.Description(), "✎ draft") {
		t.Fatalf("Description = %q", item.Description())
	}
}
