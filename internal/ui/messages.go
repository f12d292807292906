package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/saravenpi/alljobs-chat/internal/models"
	"github.com/saravenpi/alljobs-chat/internal/session"
)

type MessagesModel struct {
	app          *App
	snap         session.Snapshot
	peer         models.User
	peerName     string
	viewport     viewport.Model
	textarea     textarea.Model
	composing    bool
	notice       string
	windowWidth  int
	windowHeight int
}

// NewMessagesModel shows the session's active conversation.
func NewMessagesModel(app *App) MessagesModel {
	vp := viewport.New(80, 20)

	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.CharLimit = 2000
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	m := MessagesModel{
		app:          app,
		viewport:     vp,
		textarea:     ta,
		windowWidth:  80,
		windowHeight: 30,
	}
	m.refresh()
	if m.snap.Draft != "" {
		m.textarea.SetValue(m.snap.Draft)
		m.composing = true
		m.textarea.Focus()
	}
	m.viewport.GotoBottom()
	return m
}

func (m MessagesModel) Init() tea.Cmd {
	if m.composing {
		return textarea.Blink
	}
	return nil
}

func (m *MessagesModel) refresh() {
	prev := len(m.snap.Messages)
	atBottom := m.viewport.AtBottom()

	m.snap = m.app.Chat.Snapshot()
	if conv, ok := m.snap.Active(); ok {
		m.peer, m.peerName = m.app.peerOf(conv, m.snap.Viewer.ID)
	}
	m.updateViewportContent()
	if len(m.snap.Messages) != prev && (atBottom || prev == 0) {
		m.viewport.GotoBottom()
	}
}

func (m *MessagesModel) layout() {
	headerHeight := 4
	helpHeight := 3
	available := m.windowHeight - headerHeight - helpHeight

	m.viewport.Width = m.windowWidth - 4
	if m.composing {
		m.viewport.Height = available - 5
		m.textarea.SetWidth(m.windowWidth - 4)
	} else {
		m.viewport.Height = available
	}
	if m.viewport.Height < 3 {
		m.viewport.Height = 3
	}
}

func (m MessagesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.layout()
		m.updateViewportContent()
		return m, nil

	case SessionUpdatedMsg:
		m.refresh()
		if m.snap.ActiveID == "" {
			return switchTo(NewConversationsModel(m.app), m.windowWidth, m.windowHeight)
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if msg.String() == "esc" {
			if m.composing {
				m.composing = false
				m.textarea.Blur()
				m.app.Chat.SetTyping(false)
				m.layout()
				return m, nil
			}
			m.app.Chat.LeaveConversation()
			return switchTo(NewConversationsModel(m.app), m.windowWidth, m.windowHeight)
		}

		if m.composing {
			return m.updateComposing(msg)
		}

		switch msg.String() {
		case "n", "c", "i":
			m.composing = true
			m.notice = ""
			m.layout()
			cmd := m.textarea.Focus()
			return m, cmd

		case "f":
			m.notice = ""
			retried := 0
			for _, message := range m.snap.Messages {
				if message.Status == models.StatusFailed && m.app.Chat.RetryMessage(message.ClientID) {
					retried++
				}
			}
			if retried == 0 && m.failedCount() > 0 {
				m.notice = "Still offline, try again once reconnected."
			}
			m.refresh()
			return m, nil

		case "a":
			if m.canAddNickname() {
				return switchTo(NewQuickContactFormModel(m.app, m.peer), m.windowWidth, m.windowHeight)
			}
			return m, nil

		case "q":
			return m, tea.Quit
		}

		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m MessagesModel) updateComposing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "ctrl+s":
		text := m.textarea.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		if id := m.app.Chat.SendMessage(text); id == "" {
			m.notice = "Not sent: you are offline. Your draft is kept."
			return m, nil
		}
		m.notice = ""
		m.textarea.Reset()
		m.refresh()
		m.viewport.GotoBottom()
		return m, nil
	}

	before := m.textarea.Value()
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	if after := m.textarea.Value(); after != before {
		m.app.Chat.SetDraft(after)
		if after != "" {
			m.app.Chat.SetTyping(true)
		} else {
			m.app.Chat.SetTyping(false)
		}
	}
	return m, cmd
}

func (m MessagesModel) canAddNickname() bool {
	return m.peer.ID != "" && m.app.Contacts != nil && m.app.Contacts.NameFor(m.peer.ID) == ""
}

func (m MessagesModel) failedCount() int {
	n := 0
	for _, message := range m.snap.Messages {
		if message.Status == models.StatusFailed {
			n++
		}
	}
	return n
}

func (m *MessagesModel) updateViewportContent() {
	wrapWidth := m.viewport.Width
	if wrapWidth <= 0 {
		wrapWidth = 80
	}
	m.viewport.SetContent(renderMessages(m.snap.Messages, m.snap.Viewer.ID, m.peerName, wrapWidth))
}

func renderMessages(messages []models.Message, viewerID, peerName string, wrapWidth int) string {
	var content strings.Builder
	right := lipgloss.NewStyle().Align(lipgloss.Right).Width(wrapWidth)
	textWidth := wrapWidth - 10
	if textWidth < 10 {
		textWidth = 10
	}

	for i, message := range messages {
		if i > 0 {
			content.WriteString("\n")
		}

		timestamp := message.CreatedAt.Local().Format("3:04 PM")

		if message.IsFromMe(viewerID) {
			header := messageHeaderStyle.Render(fmt.Sprintf("You • %s", timestamp))
			switch message.Status {
			case models.StatusPending:
				header += " " + pendingStyle.Render("sending...")
			case models.StatusFailed:
				header += " " + failedStyle.Render("✗ not delivered (f: retry)")
			}
			content.WriteString(right.Render(header) + "\n")

			wrappedText := wordwrap.String(message.Content, textWidth)
			content.WriteString(right.Render(messageFromMeStyle.Render(wrappedText)) + "\n")
			continue
		}

		sender := peerName
		if sender == "" {
			sender = message.Sender.DisplayName()
		}
		header := messageHeaderStyle.Render(fmt.Sprintf("%s • %s", sender, timestamp))
		content.WriteString(header + "\n")

		wrappedText := wordwrap.String(message.Content, textWidth)
		content.WriteString(messageFromOtherStyle.Render(wrappedText) + "\n")
	}

	return content.String()
}

func (m MessagesModel) View() string {
	title := fmt.Sprintf("💬 %s", m.peerName)
	s := titleStyle.Render(title) + "\n"
	if m.snap.State != models.StateConnected {
		s += connectionLine(m.snap.State, m.snap.Viewer, 0) + "\n"
	}
	s += "\n"

	if len(m.snap.Messages) == 0 {
		s += normalStyle.Render("  No messages yet. Say hello!") + "\n"
	} else {
		s += m.viewport.View() + "\n"
	}

	if m.snap.PeerTyping {
		s += typingStyle.Render(fmt.Sprintf("%s is typing...", m.peerName)) + "\n"
	}
	if m.notice != "" {
		s += errorStyle.Render(m.notice) + "\n"
	}

	if m.composing {
		s += "\n" + inputStyle.Render("New Message:") + "\n"
		s += m.textarea.View() + "\n"
		s += helpStyle.Render("enter/ctrl+s: send • esc: stop writing")
		return s
	}

	scrollPercent := int(m.viewport.ScrollPercent() * 100)
	help := "↑↓/jk: scroll • n: write"
	if m.failedCount() > 0 {
		help += " • f: retry failed"
	}
	if m.canAddNickname() {
		help += " • a: add nickname"
	}
	help += fmt.Sprintf(" • esc: back • q: quit • %d%%", scrollPercent)
	s += "\n" + helpStyle.Render(help)

	return s
}
