package ui

import (
	"context"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/saravenpi/alljobs-chat/internal/contacts"
	"github.com/saravenpi/alljobs-chat/internal/models"
	"github.com/saravenpi/alljobs-chat/internal/session"
)

// Chat is the part of the session the screens drive.
type Chat interface {
	Snapshot() session.Snapshot
	LoadConversations(ctx context.Context)
	SelectConversation(id string)
	LeaveConversation()
	SendMessage(text string) string
	RetryMessage(id string) bool
	SetTyping(isTyping bool)
	SetDraft(text string)
}

// DraftIndex lists the conversations holding an unsent draft.
type DraftIndex interface {
	Conversations(userID string) ([]string, error)
}

// App carries what every screen needs. Drafts may be nil.
type App struct {
	Chat     Chat
	Contacts *contacts.Book
	Drafts   DraftIndex
}

// SessionUpdatedMsg tells the current screen to re-read the session
// snapshot.
type SessionUpdatedMsg struct {
	What session.Update
}

// Forward turns session updates into program messages until ctx is done or
// updates is closed.
func Forward(ctx context.Context, updates <-chan session.Update, send func(tea.Msg)) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			send(SessionUpdatedMsg{What: u})
		}
	}
}

// Bell rings the terminal bell for new messages.
type Bell struct {
	Out io.Writer
}

func (b Bell) Notify(models.Message) error {
	_, err := io.WriteString(b.Out, "\a")
	return err
}

// switchTo hands the current window size to the next screen.
func switchTo(next tea.Model, width, height int) (tea.Model, tea.Cmd) {
	if width > 0 {
		next, _ = next.Update(tea.WindowSizeMsg{Width: width, Height: height})
	}
	return next, next.Init()
}

func (a *App) draftedConversations(userID string) map[string]bool {
	drafted := make(map[string]bool)
	if a.Drafts == nil || userID == "" {
		return drafted
	}
	ids, err := a.Drafts.Conversations(userID)
	if err != nil {
		return drafted
	}
	for _, id := range ids {
		drafted[id] = true
	}
	return drafted
}

func (a *App) peerOf(conv models.Conversation, viewerID string) (models.User, string) {
	peer := conv.Peer(viewerID)
	return peer, a.Contacts.Resolve(peer)
}
