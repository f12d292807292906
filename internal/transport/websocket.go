package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/saravenpi/alljobs-chat/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	URL             string
	PingPeriod      time.Duration
	WriteWait       time.Duration
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
	TypingPerSecond int
}

// WebSocket is a Transport over a single gorilla websocket connection that
// redials with exponential backoff when the connection drops.
type WebSocket struct {
	cfg     Config
	dialer  *websocket.Dialer
	log     *zap.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	mu      sync.Mutex
	link    *link
	token   string
	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	hmu     sync.RWMutex
	handler Handler

	connected atomic.Bool
	closed    atomic.Bool
	wg        sync.WaitGroup
}

// link is one physical connection and its write loop.
type link struct {
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	quit     chan struct{}
	once     sync.Once
	quitOnce sync.Once
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

// shutdown asks the write loop to flush queued frames and say goodbye.
func (l *link) shutdown() {
	l.quitOnce.Do(func() { close(l.quit) })
}

func NewWebSocket(cfg Config, log *zap.Logger, m *metrics.Metrics) *WebSocket {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 30 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 500 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.TypingPerSecond <= 0 {
		cfg.TypingPerSecond = 10
	}
	return &WebSocket{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		log:     log,
		metrics: m,
		limiter: rate.NewLimiter(rate.Limit(cfg.TypingPerSecond), cfg.TypingPerSecond),
	}
}

// Connect dials once. A failed dial is returned to the caller; drops after a
// successful dial are retried in the background until Close.
func (w *WebSocket) Connect(ctx context.Context, token string) error {
	if w.closed.Load() {
		return ErrClosed
	}

	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	l, err := w.dial(ctx, token)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.started || w.closed.Load() {
		w.mu.Unlock()
		l.close()
		if w.closed.Load() {
			return ErrClosed
		}
		return nil
	}
	w.started = true
	w.token = token
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.link = l
	w.mu.Unlock()

	w.setConnected(true)
	w.wg.Add(1)
	go w.loop(l)
	return nil
}

func (w *WebSocket) dial(ctx context.Context, token string) (*link, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := w.dialer.DialContext(ctx, w.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s: %w (status %d)", w.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", w.cfg.URL, err)
	}
	conn.SetReadLimit(64 * 1024)

	l := &link{
		conn: conn,
		send: make(chan []byte, 128),
		done: make(chan struct{}),
		quit: make(chan struct{}),
	}
	go w.writeLoop(l)
	return l, nil
}

func (w *WebSocket) loop(l *link) {
	defer w.wg.Done()
	for {
		w.readLoop(l)
		l.close()
		w.setConnected(false)
		if w.closed.Load() {
			return
		}
		w.log.Warn("websocket dropped, reconnecting", zap.String("url", w.cfg.URL))
		w.dispatch(Event{Name: EventDisconnect})

		l = w.reconnect()
		if l == nil {
			return
		}
		w.setConnected(true)
		w.log.Info("websocket reconnected", zap.String("url", w.cfg.URL))
		w.dispatch(Event{Name: EventConnect})
	}
}

func (w *WebSocket) reconnect() *link {
	w.mu.Lock()
	ctx, token := w.ctx, w.token
	w.mu.Unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.ReconnectMin
	b.MaxInterval = w.cfg.ReconnectMax
	b.MaxElapsedTime = 0

	var l *link
	operation := func() error {
		next, err := w.dial(ctx, token)
		if err != nil {
			return err
		}
		l = next
		return nil
	}
	notify := func(err error, wait time.Duration) {
		w.metrics.Reconnect()
		w.log.Debug("reconnect attempt failed", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Load() {
		l.close()
		return nil
	}
	w.link = l
	return l
}

func (w *WebSocket) readLoop(l *link) {
	pongWait := 2 * w.cfg.PingPeriod
	_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			w.log.Debug("dropping malformed frame", zap.ByteString("frame", data))
			continue
		}
		if env.Event == EventUserTyping && typingStarted(env.Data) && !w.limiter.Allow() {
			continue
		}
		w.dispatch(Event{Name: env.Event, Data: env.Data})
	}
}

// typingStarted reports whether a user_typing payload announces typing.
// Stop frames are never throttled.
func typingStarted(data json.RawMessage) bool {
	var t UserTyping
	if err := json.Unmarshal(data, &t); err != nil {
		return true
	}
	return t.IsTyping
}

func (w *WebSocket) writeLoop(l *link) {
	ticker := time.NewTicker(w.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-l.quit:
			w.flush(l)
			return
		case msg := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				l.close()
				return
			}
		case <-ticker.C:
			_ = l.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.close()
				return
			}
		}
	}
}

func (w *WebSocket) flush(l *link) {
	defer l.close()
	for {
		select {
		case msg := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			_ = l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(w.cfg.WriteWait))
			return
		}
	}
}

// Emit queues one event. It never blocks on the network.
func (w *WebSocket) Emit(event string, payload interface{}) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if !w.connected.Load() {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}

	w.mu.Lock()
	l := w.link
	w.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}

	select {
	case <-l.done:
		return ErrNotConnected
	case l.send <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

func (w *WebSocket) SetHandler(h Handler) {
	w.hmu.Lock()
	w.handler = h
	w.hmu.Unlock()
}

func (w *WebSocket) dispatch(ev Event) {
	w.hmu.RLock()
	h := w.handler
	w.hmu.RUnlock()
	if h != nil {
		h(ev)
	}
}

func (w *WebSocket) Connected() bool {
	return w.connected.Load()
}

func (w *WebSocket) setConnected(up bool) {
	w.connected.Store(up)
	w.metrics.SetConnected(up)
}

// Close flushes queued frames, stops reconnecting and closes the
// connection. Safe to call twice.
func (w *WebSocket) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	w.mu.Lock()
	l := w.link
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	if l != nil {
		l.shutdown()
		select {
		case <-l.done:
		case <-time.After(w.cfg.WriteWait):
			l.close()
		}
	}
	w.setConnected(false)
	w.wg.Wait()
	return nil
}
