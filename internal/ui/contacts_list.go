package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/saravenpi/alljobs-chat/internal/contacts"
)

type contactItem struct {
	contact contacts.Contact
}

func (i contactItem) FilterValue() string { return i.contact.Name }
func (i contactItem) Title() string       { return i.contact.Name }
func (i contactItem) Description() string {
	desc := strings.Join(i.contact.UserIDs, ", ")
	if i.contact.Note != "" {
		desc += " • " + i.contact.Note
	}
	return desc
}

type contactsLoadedMsg struct {
	contacts []contacts.Contact
	err      error
}

type contactDeletedMsg struct {
	err error
}

type ContactsListModel struct {
	app             *App
	list            list.Model
	contacts        []contacts.Contact
	loading         bool
	err             error
	windowWidth     int
	windowHeight    int
	confirmDelete   bool
	contactToDelete *contacts.Contact
}

// NewContactsListModel creates the nickname list view.
func NewContactsListModel(app *App) ContactsListModel {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("5")).
		Bold(true)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("8"))

	l := list.New([]list.Item{}, delegate, 80, 20)
	l.Title = "Nicknames"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	return ContactsListModel{
		app:          app,
		list:         l,
		loading:      true,
		windowWidth:  80,
		windowHeight: 30,
	}
}

func (m ContactsListModel) Init() tea.Cmd {
	return m.loadContactsCmd()
}

func (m ContactsListModel) loadContactsCmd() tea.Cmd {
	book := m.app.Contacts
	return func() tea.Msg {
		all, err := book.List()
		return contactsLoadedMsg{contacts: all, err: err}
	}
}

func (m ContactsListModel) deleteContactCmd(name string) tea.Cmd {
	book := m.app.Contacts
	return func() tea.Msg {
		return contactDeletedMsg{err: book.Delete(name)}
	}
}

func (m ContactsListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height - 4)
		return m, nil

	case contactsLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}

		m.err = nil
		m.contacts = msg.contacts
		items := make([]list.Item, len(m.contacts))
		for i, contact := range m.contacts {
			items[i] = contactItem{contact: contact}
		}
		m.list.SetItems(items)
		m.list.Title = fmt.Sprintf("Nicknames - %d total", len(m.contacts))
		return m, nil

	case contactDeletedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.loading = true
		return m, m.loadContactsCmd()

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if m.confirmDelete {
			switch msg.String() {
			case "y", "Y":
				name := m.contactToDelete.Name
				m.confirmDelete = false
				m.contactToDelete = nil
				return m, m.deleteContactCmd(name)
			case "n", "N", "esc":
				m.confirmDelete = false
				m.contactToDelete = nil
			}
			return m, nil
		}

		if m.list.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.list, cmd = m.list.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "esc", "q":
			return switchTo(NewMenuModel(m.app), m.windowWidth, m.windowHeight)

		case "n", "a":
			return switchTo(NewContactFormModel(m.app, nil), m.windowWidth, m.windowHeight)

		case "r":
			m.loading = true
			m.app.Contacts.Invalidate()
			return m, m.loadContactsCmd()

		case "enter":
			if item, ok := m.list.SelectedItem().(contactItem); ok {
				contact := item.contact
				return switchTo(NewContactFormModel(m.app, &contact), m.windowWidth, m.windowHeight)
			}
			return m, nil

		case "d", "delete":
			if item, ok := m.list.SelectedItem().(contactItem); ok {
				m.confirmDelete = true
				contactCopy := item.contact
				m.contactToDelete = &contactCopy
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m ContactsListModel) View() string {
	if m.confirmDelete && m.contactToDelete != nil {
		s := titleStyle.Render("Delete Nickname") + "\n\n"
		s += normalStyle.Render(fmt.Sprintf("Are you sure you want to delete '%s'?", m.contactToDelete.Name)) + "\n\n"
		s += errorStyle.Render("This action cannot be undone.") + "\n\n"
		s += helpStyle.Render("y: confirm delete • n/esc: cancel")
		return s
	}

	if m.loading {
		return "\n  Loading nicknames...\n"
	}

	if m.err != nil {
		s := titleStyle.Render("Nicknames") + "\n\n"
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n"
		s += helpStyle.Render("r: retry • esc: back to menu")
		return s
	}

	if len(m.contacts) == 0 {
		s := titleStyle.Render("Nicknames") + "\n\n"
		s += normalStyle.Render("  No nicknames yet. Press 'n' to add one, or 'a' inside a conversation.") + "\n"
		s += "\n" + helpStyle.Render("n: new nickname • esc: back")
		return s
	}

	s := m.list.View() + "\n"
	s += helpStyle.Render("↑↓/jk: navigate • enter: edit • n: new • d: delete • /: search • r: refresh • esc: back")

	return s
}
