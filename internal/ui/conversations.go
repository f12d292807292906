package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/saravenpi/alljobs-chat/internal/models"
	"github.com/saravenpi/alljobs-chat/internal/session"
)

type conversationItem struct {
	conv  models.Conversation
	name  string
	draft bool
	now   time.Time
}

type conversationsLoadedMsg struct{}

func (i conversationItem) Title() string {
	if i.conv.UnreadCount > 0 {
		return fmt.Sprintf("%s (%d)", i.name, i.conv.UnreadCount)
	}
	return i.name
}

func (i conversationItem) Description() string {
	preview := i.conv.LastMessage
	if preview == "" {
		preview = "No messages yet"
	}
	preview = truncate.StringWithTail(preview, 50, "...")
	if i.draft {
		preview = "✎ draft • " + preview
	}
	return fmt.Sprintf("%s • %s", formatTimeAgo(i.conv.LastMessageAt, i.now), preview)
}

func (i conversationItem) FilterValue() string {
	return i.name
}

func formatTimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}

	duration := now.Sub(t)

	if duration < time.Minute {
		return "just now"
	}
	if duration < 2*time.Minute {
		return "1 min ago"
	}
	if duration < time.Hour {
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	}
	if duration < 2*time.Hour {
		return "1h ago"
	}
	if duration < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	}
	if duration < 48*time.Hour {
		return "yesterday"
	}
	if duration < 7*24*time.Hour {
		return fmt.Sprintf("%dd ago", int(duration.Hours()/24))
	}
	return t.Format("Jan 2")
}

type ConversationsModel struct {
	app            *App
	snap           session.Snapshot
	list           list.Model
	loading        bool
	spinner        spinner.Model
	showUnreadOnly bool
	windowWidth    int
	windowHeight   int
}

func NewConversationsModel(app *App) ConversationsModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("5")).
		Bold(true)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("8"))

	l := list.New([]list.Item{}, delegate, 80, 20)
	l.Title = "Conversations"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	m := ConversationsModel{
		app:          app,
		list:         l,
		spinner:      s,
		windowWidth:  80,
		windowHeight: 30,
	}
	m.refresh()
	return m
}

func (m ConversationsModel) Init() tea.Cmd {
	return nil
}

func (m ConversationsModel) loadCmd() tea.Cmd {
	chat := m.app.Chat
	return func() tea.Msg {
		chat.LoadConversations(context.Background())
		return conversationsLoadedMsg{}
	}
}

// refresh rebuilds the list from the session snapshot, keeping the cursor
// on the same conversation when it is still present.
func (m *ConversationsModel) refresh() {
	var selected string
	if item, ok := m.list.SelectedItem().(conversationItem); ok {
		selected = item.conv.ID
	}

	m.snap = m.app.Chat.Snapshot()
	now := time.Now()
	drafted := m.app.draftedConversations(m.snap.Viewer.ID)
	items := make([]list.Item, 0, len(m.snap.Conversations))
	cursor := 0
	for _, c := range m.snap.Conversations {
		if m.showUnreadOnly && c.UnreadCount == 0 {
			continue
		}
		if c.ID == selected {
			cursor = len(items)
		}
		_, name := m.app.peerOf(c, m.snap.Viewer.ID)
		items = append(items, conversationItem{conv: c, name: name, draft: drafted[c.ID], now: now})
	}
	m.list.SetItems(items)
	if len(items) > 0 && m.list.FilterState() == list.Unfiltered {
		m.list.Select(cursor)
	}

	title := fmt.Sprintf("Conversations - %d chats", len(m.snap.Conversations))
	if m.showUnreadOnly {
		title = fmt.Sprintf("Unread - %d of %d chats", len(items), len(m.snap.Conversations))
	}
	m.list.Title = title
}

func (m ConversationsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height - 5)
		return m, nil

	case SessionUpdatedMsg:
		if msg.What.Has(session.ConversationsChanged) || msg.What.Has(session.ConnectionChanged) {
			m.refresh()
		}
		return m, nil

	case conversationsLoadedMsg:
		m.loading = false
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if m.list.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.list, cmd = m.list.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "q":
			return m, tea.Quit

		case "esc":
			if m.list.FilterState() == list.FilterApplied {
				m.list.ResetFilter()
				return m, nil
			}
			return switchTo(NewMenuModel(m.app), m.windowWidth, m.windowHeight)

		case "r":
			if m.loading {
				return m, nil
			}
			m.loading = true
			return m, tea.Batch(m.spinner.Tick, m.loadCmd())

		case "u":
			m.showUnreadOnly = !m.showUnreadOnly
			m.refresh()
			return m, nil

		case "enter":
			if item, ok := m.list.SelectedItem().(conversationItem); ok {
				m.app.Chat.SelectConversation(item.conv.ID)
				return switchTo(NewMessagesModel(m.app), m.windowWidth, m.windowHeight)
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m ConversationsModel) View() string {
	if m.loading {
		return fmt.Sprintf("\n  %s Loading conversations...\n", m.spinner.View())
	}

	status := connectionLine(m.snap.State, m.snap.Viewer, 0)

	if len(m.snap.Conversations) == 0 {
		s := titleStyle.Render("Conversations") + "\n\n"
		s += normalStyle.Render("  No conversations yet.") + "\n\n"
		s += status + "\n"
		s += helpStyle.Render("r: refresh • esc: back • q: quit")
		return s
	}

	s := m.list.View() + "\n"
	s += status + "\n"
	s += helpStyle.Render("↑↓/jk: navigate • enter: open • /: search • u: unread only • r: refresh • esc: back • q: quit")

	return s
}
