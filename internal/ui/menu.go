package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/saravenpi/alljobs-chat/internal/models"
)

const (
	menuConversations = "💬 Conversations"
	menuNicknames     = "🏷  Nicknames"
)

type menuItem struct {
	title string
	desc  string
}

func (i menuItem) FilterValue() string { return i.title }
func (i menuItem) Title() string       { return i.title }
func (i menuItem) Description() string { return i.desc }

type MenuModel struct {
	app          *App
	list         list.Model
	state        models.ConnState
	viewer       models.User
	unread       int
	windowWidth  int
	windowHeight int
}

// NewMenuModel creates the main menu with Conversations and Nicknames options.
func NewMenuModel(app *App) MenuModel {
	items := []list.Item{
		menuItem{title: menuConversations, desc: "Read and answer your ALL JOBS messages"},
		menuItem{title: menuNicknames, desc: "Name the people you talk to"},
	}

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("5")).
		Bold(true)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("8"))

	l := list.New(items, delegate, 80, 14)
	l.Title = "ALL JOBS Chat"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	m := MenuModel{
		app:          app,
		list:         l,
		windowWidth:  80,
		windowHeight: 30,
	}
	m.refresh()
	return m
}

func (m *MenuModel) refresh() {
	snap := m.app.Chat.Snapshot()
	m.state = snap.State
	m.viewer = snap.Viewer
	m.unread = 0
	for _, c := range snap.Conversations {
		m.unread += c.UnreadCount
	}
}

func (m MenuModel) Init() tea.Cmd {
	return nil
}

func (m MenuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height - 5)
		return m, nil

	case SessionUpdatedMsg:
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}

		if msg.String() == "enter" {
			selectedItem, ok := m.list.SelectedItem().(menuItem)
			if !ok {
				return m, nil
			}

			switch selectedItem.title {
			case menuConversations:
				return switchTo(NewConversationsModel(m.app), m.windowWidth, m.windowHeight)
			case menuNicknames:
				return switchTo(NewContactsListModel(m.app), m.windowWidth, m.windowHeight)
			}
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m MenuModel) View() string {
	s := m.list.View() + "\n"
	s += connectionLine(m.state, m.viewer, m.unread) + "\n"
	s += helpStyle.Render("↑↓/jk: navigate • enter: select • q: quit")
	return s
}

func connectionLine(state models.ConnState, viewer models.User, unread int) string {
	switch state {
	case models.StateConnected:
		line := statusStyle.Render(fmt.Sprintf("● connected as %s", viewer.DisplayName()))
		if unread > 0 {
			line += "  " + unreadStyle.Render(fmt.Sprintf("%d unread", unread))
		}
		return line
	case models.StateConnecting:
		return statusStyle.Render("○ connecting...")
	default:
		return offlineStyle.Render("○ offline, reconnecting...")
	}
}
