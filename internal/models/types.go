package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// User is a chat participant. The client never mutates it.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// UnmarshalJSON accepts either a bare id string or an object carrying
// "id" or "_id".
func (u *User) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*u = User{ID: id}
		return nil
	}

	var raw struct {
		ID       string `json:"id"`
		MongoID  string `json:"_id"`
		Name     string `json:"name"`
		FullName string `json:"fullName"`
		Avatar   string `json:"avatar"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.ID = raw.ID
	if u.ID == "" {
		u.ID = raw.MongoID
	}
	u.Name = raw.Name
	if u.Name == "" {
		u.Name = raw.FullName
	}
	u.Avatar = raw.Avatar
	return nil
}

// DisplayName falls back to the id when the server sent no name.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

type Conversation struct {
	ID            string    `json:"id"`
	Participants  []User    `json:"participants"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	UnreadCount   int       `json:"unreadCount"`
}

// Peer returns the participant that is not the viewer.
func (c Conversation) Peer(viewerID string) User {
	for _, p := range c.Participants {
		if p.ID != viewerID {
			return p
		}
	}
	if len(c.Participants) > 0 {
		return c.Participants[0]
	}
	return User{}
}

type MessageStatus int

const (
	StatusConfirmed MessageStatus = iota
	StatusPending
	StatusFailed
)

func (s MessageStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	default:
		return "confirmed"
	}
}

type Message struct {
	ID             string        `json:"id"`
	ClientID       string        `json:"clientId,omitempty"`
	ConversationID string        `json:"conversationId"`
	Sender         User          `json:"sender"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"createdAt"`
	Read           bool          `json:"read"`
	Status         MessageStatus `json:"-"`
}

// IsFromMe reports whether the viewer authored the message.
func (m Message) IsFromMe(viewerID string) bool {
	return viewerID != "" && m.Sender.ID == viewerID
}

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// UnmarshalJSON tolerates the Mongo-style "_id" and "chatId" spellings the
// backend uses on some routes.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var raw struct {
		plain
		MongoID string `json:"_id"`
		ChatID  string `json:"chatId"`
		RoomID  string `json:"roomId"`
		IsRead  *bool  `json:"isRead"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(raw.plain)
	if m.ID == "" {
		m.ID = raw.MongoID
	}
	if m.ConversationID == "" {
		m.ConversationID = raw.ChatID
	}
	if m.ConversationID == "" {
		m.ConversationID = raw.RoomID
	}
	if raw.IsRead != nil {
		m.Read = *raw.IsRead
	}
	return nil
}

// UnmarshalJSON accepts lastMessage either as text or as a message object.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID            string          `json:"id"`
		MongoID       string          `json:"_id"`
		Participants  []User          `json:"participants"`
		LastMessage   json.RawMessage `json:"lastMessage"`
		LastMessageAt time.Time       `json:"lastMessageAt"`
		UpdatedAt     time.Time       `json:"updatedAt"`
		UnreadCount   int             `json:"unreadCount"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*c = Conversation{
		ID:            raw.ID,
		Participants:  raw.Participants,
		LastMessageAt: raw.LastMessageAt,
		UnreadCount:   raw.UnreadCount,
	}
	if c.ID == "" {
		c.ID = raw.MongoID
	}
	if c.LastMessageAt.IsZero() {
		c.LastMessageAt = raw.UpdatedAt
	}
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}

	last := bytes.TrimSpace(raw.LastMessage)
	switch {
	case len(last) == 0 || bytes.Equal(last, []byte("null")):
	case last[0] == '"':
		if err := json.Unmarshal(last, &c.LastMessage); err != nil {
			return err
		}
	default:
		var msg Message
		if err := json.Unmarshal(last, &msg); err != nil {
			return err
		}
		c.LastMessage = msg.Content
		if c.LastMessageAt.IsZero() {
			c.LastMessageAt = msg.CreatedAt
		}
	}
	return nil
}
