package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

// echoServer upgrades every request, records inbound envelopes, and lets
// the test push frames or drop connections.
type echoServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   []*websocket.Conn
	inbound []Envelope
	auth    []string
	got     chan Envelope
	joined  chan struct{}
}

func newEchoServer(t *testing.T) *echoServer {
	s := &echoServer{t: t, got: make(chan Envelope, 64), joined: make(chan struct{}, 8)}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *echoServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *echoServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	s.mu.Unlock()
	s.joined <- struct{}{}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err == nil {
			s.got <- env
		}
	}
}

func (s *echoServer) push(event string, payload interface{}) {
	data, _ := json.Marshal(payload)
	frame, _ := json.Marshal(Envelope{Event: event, Data: data})
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.t.Errorf("push: %v", err)
	}
}

func (s *echoServer) dropLatest() {
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	_ = conn.Close()
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func newTestSocket(t *testing.T, url string) *WebSocket {
	ws := NewWebSocket(Config{
		URL:          url,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
	}, zaptest.NewLogger(t), nil)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestEmitBeforeConnect(t *testing.T) {
	ws := newTestSocket(t, "ws://127.0.0.1:1/ws")
	if err := ws.Emit(EventTyping, Typing{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestConnectFailureIsReturned(t *testing.T) {
	ws := newTestSocket(t, "ws://127.0.0.1:1/ws")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ws.Connect(ctx, "tok"); err == nil {
		t.Fatal("expected dial error")
	}
	if ws.Connected() {
		t.Fatal("must stay disconnected")
	}
}

func TestEmitAndReceive(t *testing.T) {
	srv := newEchoServer(t)
	ws := newTestSocket(t, srv.url())

	events := make(chan Event, 8)
	ws.SetHandler(func(ev Event) { events <- ev })

	if err := ws.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, srv.joined)
	if srv.auth[0] != "Bearer tok" {
		t.Fatalf("authorization = %q", srv.auth[0])
	}

	if err := ws.Emit(EventJoinRoom, JoinRoom{ConversationID: "c1"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	env := waitFor(t, srv.got)
	if env.Event != EventJoinRoom || !strings.Contains(string(env.Data), `"conversationId":"c1"`) {
		t.Fatalf("server got %s %s", env.Event, env.Data)
	}

	srv.push(EventReceiveMessage, map[string]string{"id": "m1", "conversationId": "c1", "content": "hey"})
	ev := waitFor(t, events)
	if ev.Name != EventReceiveMessage || !strings.Contains(string(ev.Data), `"m1"`) {
		t.Fatalf("client got %s %s", ev.Name, ev.Data)
	}
}

func TestReconnectRaisesEvents(t *testing.T) {
	srv := newEchoServer(t)
	ws := newTestSocket(t, srv.url())

	events := make(chan Event, 8)
	ws.SetHandler(func(ev Event) { events <- ev })

	if err := ws.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, srv.joined)

	srv.dropLatest()
	if ev := waitFor(t, events); ev.Name != EventDisconnect {
		t.Fatalf("first event = %s, want disconnect", ev.Name)
	}
	waitFor(t, srv.joined)
	if ev := waitFor(t, events); ev.Name != EventConnect {
		t.Fatalf("second event = %s, want connect", ev.Name)
	}
	if !ws.Connected() {
		t.Fatal("expected connected after reconnect")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := newEchoServer(t)
	ws := newTestSocket(t, srv.url())
	if err := ws.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := ws.Emit(EventTyping, Typing{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestTypingStopPassesLimiter(t *testing.T) {
	srv := newEchoServer(t)
	ws := NewWebSocket(Config{URL: srv.url(), TypingPerSecond: 1}, zaptest.NewLogger(t), nil)
	t.Cleanup(func() { _ = ws.Close() })

	events := make(chan UserTyping, 8)
	ws.SetHandler(func(ev Event) {
		var u UserTyping
		if ev.Name == EventUserTyping && json.Unmarshal(ev.Data, &u) == nil {
			events <- u
		}
	})
	if err := ws.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, srv.joined)

	for i := 0; i < 3; i++ {
		srv.push(EventUserTyping, UserTyping{ConversationID: "c1", UserID: "u2", IsTyping: true})
	}
	srv.push(EventUserTyping, UserTyping{ConversationID: "c1", UserID: "u2", IsTyping: false})

	started := 0
	for {
		u := waitFor(t, events)
		if !u.IsTyping {
			break
		}
		started++
	}
	if started == 0 || started == 3 {
		t.Fatalf("typing starts delivered = %d, want throttled to fewer than 3", started)
	}
}
