package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/saravenpi/alljobs-chat/internal/contacts"
)

type contactSavedMsg struct {
	err error
}

type ContactFormModel struct {
	app             *App
	originalContact *contacts.Contact
	nameInput       textinput.Model
	idInputs        []textinput.Model
	noteInput       textinput.Model
	focusIndex      int
	err             error
	windowWidth     int
	windowHeight    int
}

// NewContactFormModel creates a form for adding or editing a nickname.
func NewContactFormModel(app *App, contact *contacts.Contact) ContactFormModel {
	nameInput := textinput.New()
	nameInput.Placeholder = "Nickname"
	nameInput.Focus()
	nameInput.CharLimit = 100
	nameInput.Width = 50

	idInputs := make([]textinput.Model, 3)
	for i := range idInputs {
		idInputs[i] = textinput.New()
		idInputs[i].Placeholder = fmt.Sprintf("ALL JOBS user id %d", i+1)
		idInputs[i].CharLimit = 64
		idInputs[i].Width = 50
	}

	noteInput := textinput.New()
	noteInput.Placeholder = "Note (optional)"
	noteInput.CharLimit = 200
	noteInput.Width = 50

	m := ContactFormModel{
		app:             app,
		originalContact: contact,
		nameInput:       nameInput,
		idInputs:        idInputs,
		noteInput:       noteInput,
	}

	if contact != nil {
		m.nameInput.SetValue(contact.Name)
		for i, id := range contact.UserIDs {
			if i < len(m.idInputs) {
				m.idInputs[i].SetValue(id)
			}
		}
		m.noteInput.SetValue(contact.Note)
	}

	return m
}

func (m ContactFormModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m ContactFormModel) totalInputs() int {
	return 2 + len(m.idInputs)
}

func (m ContactFormModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		return m, nil

	case SessionUpdatedMsg:
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "esc":
			return switchTo(NewContactsListModel(m.app), m.windowWidth, m.windowHeight)

		case "tab", "down":
			m.focusIndex = (m.focusIndex + 1) % m.totalInputs()
			m.updateFocus()
			return m, nil

		case "shift+tab", "up":
			m.focusIndex = (m.focusIndex - 1 + m.totalInputs()) % m.totalInputs()
			m.updateFocus()
			return m, nil

		case "ctrl+s":
			return m, m.saveContact()
		}

	case contactSavedMsg:
		if msg.err == nil {
			return switchTo(NewContactsListModel(m.app), m.windowWidth, m.windowHeight)
		}
		m.err = msg.err
		return m, nil
	}

	cmd := m.updateInputs(msg)
	return m, cmd
}

// updateFocus focuses index 0 (name), then the id inputs, then the note.
func (m *ContactFormModel) updateFocus() {
	m.nameInput.Blur()
	for i := range m.idInputs {
		m.idInputs[i].Blur()
	}
	m.noteInput.Blur()

	switch {
	case m.focusIndex == 0:
		m.nameInput.Focus()
	case m.focusIndex <= len(m.idInputs):
		m.idInputs[m.focusIndex-1].Focus()
	default:
		m.noteInput.Focus()
	}
}

func (m *ContactFormModel) updateInputs(msg tea.Msg) tea.Cmd {
	cmds := make([]tea.Cmd, 0, m.totalInputs())

	var cmd tea.Cmd
	m.nameInput, cmd = m.nameInput.Update(msg)
	cmds = append(cmds, cmd)

	for i := range m.idInputs {
		m.idInputs[i], cmd = m.idInputs[i].Update(msg)
		cmds = append(cmds, cmd)
	}

	m.noteInput, cmd = m.noteInput.Update(msg)
	cmds = append(cmds, cmd)

	return tea.Batch(cmds...)
}

func (m ContactFormModel) saveContact() tea.Cmd {
	book := m.app.Contacts
	original := m.originalContact
	name := strings.TrimSpace(m.nameInput.Value())
	note := strings.TrimSpace(m.noteInput.Value())
	ids := []string{}
	for _, input := range m.idInputs {
		if id := strings.TrimSpace(input.Value()); id != "" {
			ids = append(ids, id)
		}
	}

	return func() tea.Msg {
		if name == "" {
			return contactSavedMsg{err: fmt.Errorf("nickname is required")}
		}
		if len(ids) == 0 {
			return contactSavedMsg{err: fmt.Errorf("at least one user id is required")}
		}

		if original != nil && original.Name != name {
			if err := book.Delete(original.Name); err != nil {
				return contactSavedMsg{err: fmt.Errorf("failed to delete old nickname: %w", err)}
			}
		}

		return contactSavedMsg{err: book.Save(contacts.Contact{Name: name, UserIDs: ids, Note: note})}
	}
}

func (m ContactFormModel) View() string {
	var b strings.Builder

	title := "Add Nickname"
	if m.originalContact != nil {
		title = "Edit Nickname"
	}

	b.WriteString(titleStyle.Render(title) + "\n\n")

	focusedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	blurredStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	renderInput := func(input textinput.Model, label string, focused bool) {
		style := blurredStyle
		if focused {
			style = focusedStyle
		}
		b.WriteString(style.Render(label) + "\n")
		b.WriteString(input.View() + "\n\n")
	}

	renderInput(m.nameInput, "Nickname (required):", m.focusIndex == 0)

	b.WriteString(normalStyle.Render("Accounts:") + "\n")
	for i, input := range m.idInputs {
		renderInput(input, fmt.Sprintf("  User id %d:", i+1), m.focusIndex == i+1)
	}

	renderInput(m.noteInput, "Note:", m.focusIndex == len(m.idInputs)+1)

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n")
	}

	b.WriteString(helpStyle.Render("tab/↑↓: navigate • ctrl+s: save • esc: cancel"))

	return b.String()
}
