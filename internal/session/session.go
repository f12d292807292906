package session

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/saravenpi/alljobs-chat/internal/auth"
	"github.com/saravenpi/alljobs-chat/internal/metrics"
	"github.com/saravenpi/alljobs-chat/internal/models"
	"github.com/saravenpi/alljobs-chat/internal/store"
	"github.com/saravenpi/alljobs-chat/internal/transport"
	"go.uber.org/zap"
)

var (
	ErrNoUser = errors.New("session: no authenticated user")
	ErrClosed = errors.New("session: closed")
)

// API is the REST side of the chat backend.
type API interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// Drafts persists the unsent input of each conversation.
type Drafts interface {
	Get(userID, conversationID string) (string, error)
	Save(userID, conversationID, body string) error
}

// Notifier plays the new-message alert. Errors are logged and dropped.
type Notifier interface {
	Notify(msg models.Message) error
}

// Update flags which part of the state changed. Several flags may be
// coalesced into one value.
type Update int

const (
	ConversationsChanged Update = 1 << iota
	MessagesChanged
	TypingChanged
	ConnectionChanged
)

func (u Update) Has(flag Update) bool { return u&flag != 0 }

type Config struct {
	TypingIdle     time.Duration
	PendingTimeout time.Duration
}

// Snapshot is a read-only copy of the session state for the presentation
// layer.
type Snapshot struct {
	State         models.ConnState
	Viewer        models.User
	Conversations []models.Conversation
	ActiveID      string
	Messages      []models.Message
	PeerTyping    bool
	Draft         string
}

// Active returns the active conversation, if any.
func (s Snapshot) Active() (models.Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == s.ActiveID {
			return c, true
		}
	}
	return models.Conversation{}, false
}

// listDelta is what happened to one conversation locally while a list
// reload was in flight.
type listDelta struct {
	text   string
	at     time.Time
	unread []time.Time
}

type Option func(*Session)

func WithLogger(log *zap.Logger) Option { return func(s *Session) { s.log = log } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Session) { s.metrics = m } }
func WithDrafts(d Drafts) Option { return func(s *Session) { s.drafts = d } }
func WithNotifier(n Notifier) Option { return func(s *Session) { s.notifier = n } }
func WithClock(c Clock) Option { return func(s *Session) { s.clock = c } }

// Session is one viewer's realtime chat state. Every state transition runs
// under mu; network round trips run outside it and re-check the state
// before applying their result.
type Session struct {
	cfg      Config
	tr       transport.Transport
	api      API
	log      *zap.Logger
	metrics  *metrics.Metrics
	drafts   Drafts
	notifier Notifier
	clock    Clock
	updates  chan Update

	mu          sync.Mutex
	state       models.ConnState
	established bool
	closed      bool
	viewer      models.User
	store       *store.Store
	active      string
	activeGen   uint64
	listGen     uint64
	listDeltas  map[string]*listDelta
	peerTyping  bool
	draft       string

	typing      bool
	typingConv  string
	typingTimer Timer
	typingGen   uint64

	pending map[string]Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, tr transport.Transport, api API, opts ...Option) *Session {
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = time.Second
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 15 * time.Second
	}
	s := &Session{
		cfg:     cfg,
		tr:      tr,
		api:     api,
		log:     zap.NewNop(),
		clock:   realClock{},
		updates: make(chan Update, 64),
		store:   store.New(),
		pending: make(map[string]Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Updates delivers change notifications. Slow readers lose intermediate
// signals, never the latest state: read Snapshot after each one.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

func (s *Session) publish(u Update) {
	select {
	case s.updates <- u:
	default:
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:         s.state,
		Viewer:        s.viewer,
		Conversations: s.store.Conversations(),
		ActiveID:      s.active,
		Messages:      s.store.Messages(s.active),
		PeerTyping:    s.peerTyping,
		Draft:         s.draft,
	}
}

// spawnLocked runs f on its own goroutine bound to the session context.
// Callers hold mu.
func (s *Session) spawnLocked(f func(ctx context.Context)) {
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f(s.ctx)
	}()
}

func (s *Session) emitLocked(event string, payload interface{}) error {
	err := s.tr.Emit(event, payload)
	if err != nil {
		s.log.Debug("emit failed", zap.String("event", event), zap.Error(err))
	}
	return err
}

// Connect opens the transport for user. When user carries no id the identity
// from ac is used. On failure the session stays disconnected and Connect may
// be called again.
func (s *Session) Connect(ctx context.Context, user models.User, ac auth.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.established || s.state == models.StateConnecting {
		s.mu.Unlock()
		return nil
	}
	if user.ID == "" {
		user = ac.User
	}
	if user.ID == "" {
		s.mu.Unlock()
		return ErrNoUser
	}
	s.state = models.StateConnecting
	s.viewer = user
	s.tr.SetHandler(s.handleEvent)
	s.mu.Unlock()
	s.publish(ConnectionChanged)

	err := s.tr.Connect(ctx, ac.Token)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		s.state = models.StateDisconnected
		s.viewer = models.User{}
		s.tr.SetHandler(nil)
		s.mu.Unlock()
		s.log.Warn("connect failed", zap.Error(err))
		s.publish(ConnectionChanged)
		return err
	}
	s.state = models.StateConnected
	s.established = true
	s.mu.Unlock()

	s.log.Info("session connected", zap.String("user", user.ID))
	s.publish(ConnectionChanged)
	s.LoadConversations(ctx)
	return nil
}

// LoadConversations refreshes the conversation list. Any failure leaves an
// empty list; the newest call wins when several overlap. Previews and unread
// increments applied locally while the fetch was in flight are replayed on
// top of the result unless the server already reflects them.
func (s *Session) LoadConversations(ctx context.Context) {
	s.mu.Lock()
	if !s.established || s.closed {
		s.mu.Unlock()
		return
	}
	s.listGen++
	gen := s.listGen
	if s.listDeltas == nil {
		s.listDeltas = make(map[string]*listDelta)
	}
	s.mu.Unlock()

	convs, err := s.api.ListConversations(ctx)

	s.mu.Lock()
	if s.closed || gen != s.listGen {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.log.Error("failed to load conversations", zap.Error(err))
		convs = []models.Conversation{}
	}
	s.store.SetConversations(convs)
	s.replayListDeltasLocked()
	if s.active != "" {
		s.store.ResetUnread(s.active)
	}
	s.mu.Unlock()
	s.publish(ConversationsChanged | MessagesChanged)
}

func (s *Session) noteListChangeLocked(conv, text string, at time.Time, unread bool) {
	if s.listDeltas == nil {
		return
	}
	d := s.listDeltas[conv]
	if d == nil {
		d = &listDelta{}
		s.listDeltas[conv] = d
	}
	if !at.Before(d.at) {
		d.text, d.at = text, at
	}
	if unread {
		d.unread = append(d.unread, at)
	}
}

func (s *Session) replayListDeltasLocked() {
	ids := make([]string, 0, len(s.listDeltas))
	for id := range s.listDeltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return s.listDeltas[ids[i]].at.Before(s.listDeltas[ids[j]].at) })

	for _, id := range ids {
		d := s.listDeltas[id]
		c, ok := s.store.Conversation(id)
		if !ok {
			continue
		}
		for _, at := range d.unread {
			if at.After(c.LastMessageAt) {
				s.store.IncrementUnread(id)
			}
		}
		if d.at.After(c.LastMessageAt) {
			s.store.UpdatePreview(id, d.text, d.at)
		}
	}
	s.listDeltas = nil
}

// SelectConversation makes id the active conversation. Selecting the active
// conversation again is a no-op.
func (s *Session) SelectConversation(id string) {
	s.mu.Lock()
	if !s.established || s.closed || id == "" || id == s.active {
		s.mu.Unlock()
		return
	}

	if prev := s.active; prev != "" {
		s.stopTypingLocked()
		_ = s.emitLocked(transport.EventLeaveRoom, transport.JoinRoom{ConversationID: prev})
	}

	s.active = id
	s.activeGen++
	gen := s.activeGen
	s.peerTyping = false
	s.store.ResetUnread(id)
	if d := s.listDeltas[id]; d != nil {
		d.unread = nil
	}
	s.draft = s.loadDraftLocked(id)
	_ = s.emitLocked(transport.EventJoinRoom, transport.JoinRoom{ConversationID: id})

	s.spawnLocked(func(ctx context.Context) { s.fetchHistory(ctx, id, gen) })
	s.spawnLocked(func(ctx context.Context) { s.markRead(ctx, id) })
	s.mu.Unlock()

	s.publish(ConversationsChanged | MessagesChanged | TypingChanged)
}

// LeaveConversation returns to having no active conversation.
func (s *Session) LeaveConversation() {
	s.mu.Lock()
	if s.closed || s.active == "" {
		s.mu.Unlock()
		return
	}
	s.stopTypingLocked()
	_ = s.emitLocked(transport.EventLeaveRoom, transport.JoinRoom{ConversationID: s.active})
	s.active = ""
	s.activeGen++
	s.peerTyping = false
	s.draft = ""
	s.mu.Unlock()

	s.publish(MessagesChanged | TypingChanged)
}

func (s *Session) fetchHistory(ctx context.Context, id string, gen uint64) {
	msgs, err := s.api.ListMessages(ctx, id)

	s.mu.Lock()
	if s.closed || s.active != id || s.activeGen != gen {
		s.mu.Unlock()
		s.log.Debug("discarding stale history", zap.String("conversation", id))
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.log.Error("failed to load messages", zap.String("conversation", id), zap.Error(err))
		return
	}
	s.store.ReplaceHistory(id, msgs)
	s.mu.Unlock()
	s.publish(MessagesChanged)
}

func (s *Session) markRead(ctx context.Context, id string) {
	if err := s.api.MarkRead(ctx, id); err != nil {
		s.log.Warn("failed to mark conversation read", zap.String("conversation", id), zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.closed || s.active != id {
		s.mu.Unlock()
		return
	}
	s.store.MarkRead(id, s.viewer.ID)
	s.store.ResetUnread(id)
	s.mu.Unlock()
	s.publish(MessagesChanged | ConversationsChanged)
}

// SendMessage appends an optimistic message to the active conversation and
// emits it. It returns the temporary id, or "" when a precondition failed
// and nothing was sent.
func (s *Session) SendMessage(text string) string {
	content := strings.TrimSpace(text)
	if content == "" {
		return ""
	}

	s.mu.Lock()
	if s.closed || s.state != models.StateConnected || !s.tr.Connected() ||
		s.active == "" || s.viewer.ID == "" {
		s.mu.Unlock()
		return ""
	}

	conv := s.active
	id := "tmp-" + uuid.NewString()
	now := s.clock.Now()
	msg := models.Message{
		ID:             id,
		ClientID:       id,
		ConversationID: conv,
		Sender:         s.viewer,
		Content:        content,
		CreatedAt:      now,
		Read:           true,
		Status:         models.StatusPending,
	}
	s.store.Append(msg)
	s.store.UpdatePreview(conv, content, now)
	s.noteListChangeLocked(conv, content, now, false)

	err := s.emitLocked(transport.EventSendMessage, transport.SendMessage{
		ConversationID: conv,
		SenderID:       s.viewer.ID,
		Content:        content,
		ClientID:       id,
	})
	if err != nil {
		s.store.SetStatus(conv, id, models.StatusFailed)
		s.metrics.Failed()
	} else {
		s.armPendingLocked(conv, id)
		s.metrics.Sent()
		s.notifyPeerLocked(conv, content)
	}

	s.draft = ""
	s.saveDraftLocked(conv, "")
	s.stopTypingLocked()
	s.mu.Unlock()

	s.publish(MessagesChanged | ConversationsChanged)
	return id
}

func (s *Session) notifyPeerLocked(conv, content string) {
	c, ok := s.store.Conversation(conv)
	if !ok {
		return
	}
	if peer := c.Peer(s.viewer.ID); peer.ID != "" && peer.ID != s.viewer.ID {
		_ = s.emitLocked(transport.EventNotify, transport.Notify{
			RecipientID: peer.ID,
			Message:     content,
			Type:        "message",
		})
	}
}

// RetryMessage re-emits a failed message of the active conversation under
// its original client id.
func (s *Session) RetryMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != models.StateConnected || s.active == "" {
		return false
	}
	msg, ok := s.store.Message(s.active, id)
	if !ok || msg.Status != models.StatusFailed {
		return false
	}

	err := s.emitLocked(transport.EventSendMessage, transport.SendMessage{
		ConversationID: msg.ConversationID,
		SenderID:       msg.Sender.ID,
		Content:        msg.Content,
		ClientID:       msg.ClientID,
	})
	if err != nil {
		return false
	}
	s.store.SetStatus(msg.ConversationID, msg.ClientID, models.StatusPending)
	s.armPendingLocked(msg.ConversationID, msg.ClientID)
	s.publish(MessagesChanged)
	return true
}

func (s *Session) armPendingLocked(conv, clientID string) {
	if t, ok := s.pending[clientID]; ok {
		t.Stop()
	}
	s.pending[clientID] = s.clock.AfterFunc(s.cfg.PendingTimeout, func() {
		s.expirePending(conv, clientID)
	})
}

func (s *Session) expirePending(conv, clientID string) {
	s.mu.Lock()
	if _, ok := s.pending[clientID]; !ok || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, clientID)
	msg, ok := s.store.Message(conv, clientID)
	if !ok || msg.Status != models.StatusPending {
		s.mu.Unlock()
		return
	}
	s.store.SetStatus(conv, clientID, models.StatusFailed)
	s.mu.Unlock()

	s.metrics.Failed()
	s.log.Warn("message not confirmed in time", zap.String("conversation", conv), zap.String("client_id", clientID))
	s.publish(MessagesChanged)
}

// ReceiveMessage applies an inbound message event. A message id already held
// for the conversation is ignored. Messages that arrive before Connect has
// finished are dropped; the first conversation load catches up on them.
func (s *Session) ReceiveMessage(msg models.Message) {
	s.mu.Lock()
	if s.closed || msg.ConversationID == "" {
		s.mu.Unlock()
		return
	}
	if !s.established {
		s.mu.Unlock()
		s.log.Debug("dropping message received before connect completed",
			zap.String("conversation", msg.ConversationID), zap.String("id", msg.ID))
		return
	}
	if msg.ID != "" && s.store.HasMessage(msg.ConversationID, msg.ID) {
		s.mu.Unlock()
		return
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.clock.Now()
	}
	msg.Status = models.StatusConfirmed

	unread := false
	if msg.IsFromMe(s.viewer.ID) {
		s.receiveSelfLocked(msg)
	} else {
		unread = msg.ConversationID != s.active
		s.receivePeerLocked(msg)
	}

	known := s.store.UpdatePreview(msg.ConversationID, msg.Content, msg.CreatedAt)
	if !known && s.listDeltas == nil {
		s.listDeltas = make(map[string]*listDelta)
	}
	s.noteListChangeLocked(msg.ConversationID, msg.Content, msg.CreatedAt, unread)
	if !known {
		s.spawnLocked(s.LoadConversations)
	}
	s.mu.Unlock()

	s.publish(MessagesChanged | ConversationsChanged | TypingChanged)
}

// receiveSelfLocked handles the echo of the viewer's own message, or a
// message the viewer sent from another device.
func (s *Session) receiveSelfLocked(msg models.Message) {
	if local, ok := s.store.Reconcile(msg); ok {
		if t, ok := s.pending[local.ClientID]; ok {
			t.Stop()
			delete(s.pending, local.ClientID)
		}
		return
	}
	msg.Read = true
	s.store.Append(msg)
}

func (s *Session) receivePeerLocked(msg models.Message) {
	s.metrics.Received()
	if msg.ConversationID != s.active {
		s.store.Append(msg)
		s.store.IncrementUnread(msg.ConversationID)
		return
	}

	msg.Read = true
	s.store.Append(msg)
	s.peerTyping = false

	conv := msg.ConversationID
	s.spawnLocked(func(ctx context.Context) {
		if err := s.api.MarkRead(ctx, conv); err != nil {
			s.log.Debug("mark read after receive failed", zap.String("conversation", conv), zap.Error(err))
		}
	})
	if s.notifier != nil {
		if err := s.notifier.Notify(msg); err != nil {
			s.log.Debug("notification failed", zap.Error(err))
		}
	}
}

// SetTyping reports keyboard activity. true is one keystroke: the first
// after idle emits typing:true and every keystroke restarts the idle timer,
// whose expiry emits typing:false. false stops typing right away.
func (s *Session) SetTyping(isTyping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != models.StateConnected || s.active == "" || s.viewer.ID == "" {
		return
	}
	if !isTyping {
		s.stopTypingLocked()
		return
	}

	if !s.typing {
		s.typing = true
		s.typingConv = s.active
		_ = s.emitLocked(transport.EventTyping, transport.Typing{
			ConversationID: s.typingConv,
			UserID:         s.viewer.ID,
			IsTyping:       true,
		})
	}

	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingGen++
	gen := s.typingGen
	s.typingTimer = s.clock.AfterFunc(s.cfg.TypingIdle, func() { s.typingIdle(gen) })
}

func (s *Session) typingIdle(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.typingGen {
		return
	}
	s.stopTypingLocked()
}

func (s *Session) stopTypingLocked() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.typingGen++
	if !s.typing {
		return
	}
	s.typing = false
	_ = s.emitLocked(transport.EventTyping, transport.Typing{
		ConversationID: s.typingConv,
		UserID:         s.viewer.ID,
		IsTyping:       false,
	})
	s.typingConv = ""
}

// ReceiveTyping updates the peer-typing flag of the active conversation.
func (s *Session) ReceiveTyping(ev transport.UserTyping) {
	s.mu.Lock()
	if s.closed || s.active == "" || ev.Conversation() != s.active ||
		ev.UserID == "" || ev.UserID == s.viewer.ID || s.peerTyping == ev.IsTyping {
		s.mu.Unlock()
		return
	}
	s.peerTyping = ev.IsTyping
	s.mu.Unlock()
	s.publish(TypingChanged)
}

// SetDraft records the input buffer of the active conversation.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.active == "" || s.draft == text {
		return
	}
	s.draft = text
	s.saveDraftLocked(s.active, text)
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *Session) loadDraftLocked(conv string) string {
	if s.drafts == nil {
		return ""
	}
	body, err := s.drafts.Get(s.viewer.ID, conv)
	if err != nil {
		s.log.Warn("failed to load draft", zap.String("conversation", conv), zap.Error(err))
		return ""
	}
	return body
}

func (s *Session) saveDraftLocked(conv, body string) {
	if s.drafts == nil {
		return
	}
	if err := s.drafts.Save(s.viewer.ID, conv, body); err != nil {
		s.log.Warn("failed to save draft", zap.String("conversation", conv), zap.Error(err))
	}
}

func (s *Session) handleEvent(ev transport.Event) {
	switch ev.Name {
	case transport.EventReceiveMessage:
		var msg models.Message
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			s.log.Warn("malformed receive_message", zap.Error(err))
			return
		}
		s.ReceiveMessage(msg)

	case transport.EventUserTyping:
		var t transport.UserTyping
		if err := json.Unmarshal(ev.Data, &t); err != nil {
			s.log.Warn("malformed user_typing", zap.Error(err))
			return
		}
		s.ReceiveTyping(t)

	case transport.EventDisconnect:
		s.connectionLost()

	case transport.EventConnect:
		s.connectionRestored()

	default:
		s.log.Debug("ignoring event", zap.String("event", ev.Name))
	}
}

func (s *Session) connectionLost() {
	s.mu.Lock()
	if s.closed || !s.established {
		s.mu.Unlock()
		return
	}
	s.state = models.StateDisconnected
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.typingGen++
	s.typing = false
	s.typingConv = ""
	s.peerTyping = false
	s.mu.Unlock()

	s.log.Warn("connection lost")
	s.publish(ConnectionChanged | TypingChanged)
}

// connectionRestored rejoins the active room and catches up on whatever
// was missed while offline.
func (s *Session) connectionRestored() {
	s.mu.Lock()
	if s.closed || !s.established {
		s.mu.Unlock()
		return
	}
	s.state = models.StateConnected
	if s.active != "" {
		id, gen := s.active, s.activeGen
		_ = s.emitLocked(transport.EventJoinRoom, transport.JoinRoom{ConversationID: id})
		s.spawnLocked(func(ctx context.Context) { s.fetchHistory(ctx, id, gen) })
	}
	s.spawnLocked(s.LoadConversations)
	s.mu.Unlock()

	s.log.Info("connection restored")
	s.publish(ConnectionChanged)
}

// Disconnect leaves the active room, closes the transport and clears all
// state. Calling it again is a no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.active != "" && s.state == models.StateConnected {
		_ = s.emitLocked(transport.EventLeaveRoom, transport.JoinRoom{ConversationID: s.active})
	}
	s.stopTypingLocked()
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
	s.closed = true
	s.tr.SetHandler(nil)
	s.cancel()

	s.store.Clear()
	s.listDeltas = nil
	s.active = ""
	s.draft = ""
	s.peerTyping = false
	s.viewer = models.User{}
	s.state = models.StateDisconnected
	s.established = false
	s.mu.Unlock()

	if err := s.tr.Close(); err != nil {
		s.log.Warn("transport close failed", zap.Error(err))
	}
	s.wg.Wait()
	s.log.Info("session disconnected")
	s.publish(ConnectionChanged | ConversationsChanged | MessagesChanged | TypingChanged)
}
