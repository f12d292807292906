package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/saravenpi/alljobs-chat/internal/metrics"
	"github.com/saravenpi/alljobs-chat/internal/models"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("chat api unavailable")
)

type Config struct {
	BaseURL         string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
	MaxFailures     uint32
	BreakerInterval time.Duration
	BreakerTimeout  time.Duration
}

// Client talks to the chat REST endpoints of the job-board backend.
type Client struct {
	http    *http.Client
	base    string
	token   string
	retry   time.Duration
	cb      *gobreaker.CircuitBreaker
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, token string, log *zap.Logger, m *metrics.Metrics) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}

	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}

	st := gobreaker.Settings{
		Name:        "chat-api",
		MaxRequests: 1,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
		// 4xx answers mean the backend is healthy.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) || errors.Is(err, errClient)
		},
	}

	return &Client{
		http:    &http.Client{Transport: tr, Timeout: cfg.Timeout},
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		token:   token,
		retry:   cfg.RetryMaxElapsed,
		cb:      gobreaker.NewCircuitBreaker(st),
		log:     log,
		metrics: m,
	}
}

var errClient = errors.New("request rejected")

// ListConversations returns the viewer's conversations. An empty list is
// not an error.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	if err := c.do(ctx, "list_conversations", http.MethodGet, "/chat/conversations", &listEnvelope{key: "conversations", out: &convs}); err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	return convs, nil
}

// ListMessages returns the history of a conversation, oldest first.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	path := "/chat/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, "list_messages", http.MethodGet, path, &listEnvelope{key: "messages", out: &msgs}); err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ConversationID == "" {
			msgs[i].ConversationID = conversationID
		}
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// MarkRead marks every message of the conversation as read for the viewer.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/chat/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, "mark_read", http.MethodPut, path, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, out json.Unmarshaler) error {
	var body []byte
	operation := func() error {
		res, err := c.cb.Execute(func() (interface{}, error) {
			return c.roundTrip(ctx, method, path)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrUnavailable, err))
			}
			if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) || errors.Is(err, errClient) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		body = res.([]byte)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.retry
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		c.metrics.APIError(op)
		c.log.Warn("chat api request failed", zap.String("op", op), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := out.UnmarshalJSON(body); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", errClient, resp.StatusCode)
	}
	return data, nil
}

// listEnvelope decodes either a bare JSON array or an object wrapping the
// array under key (optionally nested in "data").
type listEnvelope struct {
	key string
	out interface{}
}

func (l *listEnvelope) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, l.out)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if raw, ok := obj[l.key]; ok {
		return json.Unmarshal(raw, l.out)
	}
	if raw, ok := obj["data"]; ok {
		return l.UnmarshalJSON(raw)
	}
	return nil
}
