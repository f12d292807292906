package store

import (
	"time"

	"github.com/saravenpi/alljobs-chat/internal/models"
)

// Store holds the conversations and messages of one session. It is not safe
// for concurrent use; the session serializes every call.
type Store struct {
	conversations []models.Conversation
	messages      map[string][]models.Message
}

func New() *Store {
	return &Store{messages: make(map[string][]models.Message)}
}

// SetConversations replaces the conversation list. Loaded message lists are
// kept for conversations that are still present.
func (s *Store) SetConversations(convs []models.Conversation) {
	s.conversations = make([]models.Conversation, len(convs))
	copy(s.conversations, convs)

	keep := make(map[string]bool, len(convs))
	for _, c := range convs {
		keep[c.ID] = true
	}
	for id := range s.messages {
		if !keep[id] {
			delete(s.messages, id)
		}
	}
}

func (s *Store) Conversations() []models.Conversation {
	out := make([]models.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

func (s *Store) indexOf(id string) int {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) Conversation(id string) (models.Conversation, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.conversations[i], true
	}
	return models.Conversation{}, false
}

func (s *Store) ResetUnread(id string) {
	if i := s.indexOf(id); i >= 0 {
		s.conversations[i].UnreadCount = 0
	}
}

func (s *Store) IncrementUnread(id string) {
	if i := s.indexOf(id); i >= 0 {
		s.conversations[i].UnreadCount++
	}
}

// UpdatePreview sets the last-message snippet and moves the conversation to
// the top of the list. It reports false for unknown conversations.
func (s *Store) UpdatePreview(id, text string, at time.Time) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	c := s.conversations[i]
	c.LastMessage = text
	c.LastMessageAt = at
	copy(s.conversations[1:i+1], s.conversations[:i])
	s.conversations[0] = c
	return true
}

func (s *Store) Messages(conversationID string) []models.Message {
	msgs := s.messages[conversationID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}

func (s *Store) find(conversationID, id string) int {
	if id == "" {
		return -1
	}
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ID == id || msgs[i].ClientID == id {
			return i
		}
	}
	return -1
}

func (s *Store) HasMessage(conversationID, id string) bool {
	return s.find(conversationID, id) >= 0
}

func (s *Store) Message(conversationID, id string) (models.Message, bool) {
	if i := s.find(conversationID, id); i >= 0 {
		return s.messages[conversationID][i], true
	}
	return models.Message{}, false
}

// Append adds msg at the end of its conversation. A message whose id is
// already present is ignored and Append reports false.
func (s *Store) Append(msg models.Message) bool {
	if s.HasMessage(msg.ConversationID, msg.ID) {
		return false
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return true
}

// historySkew is how far a server timestamp may trail the local clock and
// still count as the copy of an optimistic message.
const historySkew = 5 * time.Second

// ReplaceHistory installs server history for a conversation. Messages already
// held locally that the history does not contain (live arrivals and
// optimistic sends made while the fetch was in flight) stay after it in their
// current order.
func (s *Store) ReplaceHistory(conversationID string, history []models.Message) {
	local := s.messages[conversationID]
	confirmed := make(map[string]bool)
	for _, m := range local {
		if m.Status == models.StatusConfirmed && m.ID != "" {
			confirmed[m.ID] = true
		}
	}

	seen := make(map[string]bool, len(history))
	merged := make([]models.Message, 0, len(history)+len(local))
	for _, m := range history {
		if m.ID != "" && seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		if m.ClientID != "" {
			seen[m.ClientID] = true
		}
		merged = append(merged, m)
	}

	// Entries already matched to a local message by id are not free for the
	// content fallback below.
	claimed := make(map[int]bool)
	for j, h := range merged {
		if confirmed[h.ID] || h.ClientID != "" {
			claimed[j] = true
		}
	}
	for _, m := range local {
		if seen[m.ID] || (m.ClientID != "" && seen[m.ClientID]) {
			continue
		}
		if m.Status != models.StatusConfirmed && claimHistoryCopy(merged, claimed, m) {
			continue
		}
		merged = append(merged, m)
	}
	s.messages[conversationID] = merged
}

// claimHistoryCopy reports whether history holds the server copy of an
// unconfirmed local message: same sender and content, and not older than the
// local message.
func claimHistoryCopy(history []models.Message, claimed map[int]bool, m models.Message) bool {
	for j := range history {
		h := history[j]
		if claimed[j] || h.Sender.ID != m.Sender.ID || h.Content != m.Content {
			continue
		}
		if h.CreatedAt.IsZero() || h.CreatedAt.Before(m.CreatedAt.Add(-historySkew)) {
			continue
		}
		claimed[j] = true
		return true
	}
	return false
}

// Reconcile matches a server echo of the viewer's own message with the
// optimistic copy: by client id when the server echoed it, otherwise the
// oldest unconfirmed message from the same sender with identical content.
// The local copy takes the server id and timestamp and is returned.
func (s *Store) Reconcile(echo models.Message) (models.Message, bool) {
	msgs := s.messages[echo.ConversationID]
	match := -1
	if echo.ClientID != "" {
		for i := range msgs {
			if msgs[i].ClientID == echo.ClientID && msgs[i].Status != models.StatusConfirmed {
				match = i
				break
			}
		}
	}
	if match < 0 {
		for i := range msgs {
			if msgs[i].Status != models.StatusConfirmed &&
				msgs[i].Sender.ID == echo.Sender.ID &&
				msgs[i].Content == echo.Content {
				match = i
				break
			}
		}
	}
	if match < 0 {
		return models.Message{}, false
	}

	m := &msgs[match]
	if echo.ID != "" {
		m.ID = echo.ID
	}
	if !echo.CreatedAt.IsZero() {
		m.CreatedAt = echo.CreatedAt
	}
	m.Status = models.StatusConfirmed
	return *m, true
}

// SetStatus updates the delivery status of a message found by id or client
// id.
func (s *Store) SetStatus(conversationID, id string, status models.MessageStatus) bool {
	i := s.find(conversationID, id)
	if i < 0 {
		return false
	}
	s.messages[conversationID][i].Status = status
	return true
}

// MarkRead flags every message not sent by viewerID as read.
func (s *Store) MarkRead(conversationID, viewerID string) {
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].Sender.ID != viewerID {
			msgs[i].Read = true
		}
	}
}

func (s *Store) Clear() {
	s.conversations = nil
	s.messages = make(map[string][]models.Message)
}
