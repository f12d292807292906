package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/saravenpi/alljobs-chat/internal/metrics"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *metrics.Metrics) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	m := metrics.New(nil)
	c := New(Config{
		BaseURL:         srv.URL + "/api",
		Timeout:         2 * time.Second,
		RetryMaxElapsed: 3 * time.Second,
		MaxFailures:     100,
	}, "tok", zaptest.NewLogger(t), m)
	return c, m
}

func TestListConversationsArrayAndAuthHeader(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/conversations" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		w.Write([]byte(`[{"id":"c1","participants":["me","u2"],"lastMessage":"hi","unreadCount":2}]`))
	}))

	convs, err := c.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != "c1" || convs[0].UnreadCount != 2 {
		t.Fatalf("convs = %+v", convs)
	}
}

func TestListConversationsEmptyIsNotError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"conversations":[]}`))
	}))

	convs, err := c.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if convs == nil || len(convs) != 0 {
		t.Fatalf("want empty non-nil slice, got %#v", convs)
	}
}

func TestListMessagesWrappedInData(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/conversations/c%201/messages" && r.URL.Path != "/api/chat/conversations/c 1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":{"messages":[{"_id":"m1","sender":"u2","content":"hello"}]}}`))
	}))

	msgs, err := c.ListMessages(context.Background(), "c 1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" || msgs[0].ConversationID != "c 1" {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestMarkReadUsesPut(t *testing.T) {
	var method atomic.Value
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := c.MarkRead(context.Background(), "c1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if method.Load() != http.MethodPut {
		t.Fatalf("method = %v", method.Load())
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	}))

	if _, err := c.ListConversations(context.Background()); err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if atomic.LoadInt32(&calls) < 2 {
		t.Fatalf("expected a retry, got %d calls", calls)
	}
}

func TestUnauthorizedIsPermanent(t *testing.T) {
	var calls int32
	c, m := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.ListConversations(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("unauthorized must not be retried, got %d calls", calls)
	}
	if got := testutil.ToFloat64(m.APIErrors.WithLabelValues("list_conversations")); got != 1 {
		t.Fatalf("api error counter = %v", got)
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL:         srv.URL,
		Timeout:         time.Second,
		RetryMaxElapsed: time.Millisecond,
		MaxFailures:     1,
		BreakerTimeout:  time.Minute,
	}, "", zaptest.NewLogger(t), nil)

	_, _ = c.ListConversations(context.Background())
	_, err := c.ListConversations(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
