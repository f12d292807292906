package transport

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotConnected = errors.New("transport not connected")
	ErrClosed       = errors.New("transport closed")
	ErrBufferFull   = errors.New("transport send buffer full")
)

// Outbound event names.
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventNotify      = "notify"
)

// Inbound event names. EventConnect and EventDisconnect are raised by the
// transport itself; EventConnect only after an automatic reconnect.
const (
	EventConnect        = "connect"
	EventDisconnect     = "disconnect"
	EventReceiveMessage = "receive_message"
	EventUserTyping     = "user_typing"
)

// Envelope is the wire format of every frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Event struct {
	Name string
	Data json.RawMessage
}

type Handler func(Event)

// Transport is the bidirectional event channel to the chat backend.
type Transport interface {
	Connect(ctx context.Context, token string) error
	Emit(event string, payload interface{}) error
	// SetHandler replaces the inbound handler; nil unregisters it.
	SetHandler(h Handler)
	Connected() bool
	Close() error
}

type JoinRoom struct {
	ConversationID string `json:"conversationId"`
}

type SendMessage struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content"`
	ClientID       string `json:"clientId,omitempty"`
}

type Typing struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type Notify struct {
	RecipientID string `json:"recipientId"`
	Message     string `json:"message"`
	Type        string `json:"type"`
}

// UserTyping is the inbound typing event; older servers send roomId.
type UserTyping struct {
	ConversationID string `json:"conversationId"`
	RoomID         string `json:"roomId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

func (u UserTyping) Conversation() string {
	if u.ConversationID != "" {
		return u.ConversationID
	}
	return u.RoomID
}
