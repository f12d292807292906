package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/saravenpi/alljobs-chat/internal/contacts"
	"github.com/saravenpi/alljobs-chat/internal/models"
)

type quickContactSavedMsg struct {
	err error
}

// QuickContactFormModel names the peer of the open conversation.
type QuickContactFormModel struct {
	app          *App
	peer         models.User
	nameInput    textinput.Model
	err          error
	windowWidth  int
	windowHeight int
}

func NewQuickContactFormModel(app *App, peer models.User) QuickContactFormModel {
	nameInput := textinput.New()
	nameInput.Placeholder = "Nickname"
	nameInput.Focus()
	nameInput.CharLimit = 100
	nameInput.Width = 50
	nameInput.SetValue(peer.Name)

	return QuickContactFormModel{
		app:       app,
		peer:      peer,
		nameInput: nameInput,
	}
}

func (m QuickContactFormModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m QuickContactFormModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		return m, nil

	case SessionUpdatedMsg:
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if msg.String() == "esc" {
			return switchTo(NewMessagesModel(m.app), m.windowWidth, m.windowHeight)
		}

		if msg.String() == "enter" || msg.String() == "ctrl+s" {
			return m, m.saveContact()
		}

	case quickContactSavedMsg:
		if msg.err == nil {
			return switchTo(NewMessagesModel(m.app), m.windowWidth, m.windowHeight)
		}
		m.err = msg.err
		return m, nil
	}

	var cmd tea.Cmd
	m.nameInput, cmd = m.nameInput.Update(msg)
	return m, cmd
}

func (m QuickContactFormModel) saveContact() tea.Cmd {
	book := m.app.Contacts
	name := strings.TrimSpace(m.nameInput.Value())
	peerID := m.peer.ID
	return func() tea.Msg {
		if name == "" {
			return quickContactSavedMsg{err: fmt.Errorf("name is required")}
		}
		err := book.Save(contacts.Contact{Name: name, UserIDs: []string{peerID}})
		return quickContactSavedMsg{err: err}
	}
}

func (m QuickContactFormModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Add Nickname") + "\n\n")
	b.WriteString(normalStyle.Render(fmt.Sprintf("Account: %s (%s)", m.peer.DisplayName(), m.peer.ID)) + "\n\n")

	focusedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	b.WriteString(focusedStyle.Render("Nickname:") + "\n")
	b.WriteString(m.nameInput.View() + "\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n")
	}

	b.WriteString(helpStyle.Render("enter/ctrl+s: save • esc: cancel"))

	return b.String()
}
