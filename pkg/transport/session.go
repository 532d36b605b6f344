// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/telekom/escalation-sync/pkg/codec"
	"github.com/telekom/escalation-sync/pkg/incident"
	"github.com/telekom/escalation-sync/pkg/metrics"
)

const (
	// DefaultReconnectDelay is the constant wait between losing the connection and
	// the next attempt. There is no backoff and no attempt limit.
	DefaultReconnectDelay = 3 * time.Second
	// DefaultWriteTimeout bounds a single Send.
	DefaultWriteTimeout = 5 * time.Second
	// DefaultHandshakeTimeout bounds the opening handshake of an attempt.
	DefaultHandshakeTimeout = 10 * time.Second
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("transport: session closed")

// EventHandler receives decoded incident states, on the session's read goroutine.
type EventHandler func(incident.State)

// ConnectionHandler receives connectivity changes.
type ConnectionHandler func(connected bool)

// Session is the single logical connection to the escalation service.
//
// Once Connect is called the session keeps itself connected until Close: every
// failed attempt or lost connection schedules exactly one new attempt after the
// reconnect delay. Commands are never queued; Send writes immediately or fails.
type Session struct {
	url            string
	dialer         *websocket.Dialer
	header         http.Header
	reconnectDelay time.Duration
	writeTimeout   time.Duration
	log            *zap.SugaredLogger

	mu       sync.Mutex
	ctx      context.Context //nolint:containedctx // lifetime of the reconnect loop
	stopCtx  func() bool
	conn     *websocket.Conn
	timer    *time.Timer
	dialing  bool
	closed   bool
	changed  chan struct{}
	attempts int

	writeMu   sync.Mutex
	connected atomic.Bool

	hmu          sync.RWMutex
	eventHandler []EventHandler
	connHandler  []ConnectionHandler
}

// New creates a session for a ws:// or wss:// URL. It does not connect.
func New(rawURL string, opts ...Option) (*Session, error) {
	if rawURL == "" {
		return nil, errors.New("server is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server %q: scheme must be ws or wss", rawURL)
	}

	s := &Session{
		url: parsed.String(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
		},
		header:         http.Header{},
		reconnectDelay: DefaultReconnectDelay,
		writeTimeout:   DefaultWriteTimeout,
		log:            zap.NewNop().Sugar(),
		changed:        make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// URL returns the server URL.
func (s *Session) URL() string {
	return s.url
}

// OnEvent registers a handler for inbound incident states.
func (s *Session) OnEvent(h EventHandler) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.eventHandler = append(s.eventHandler, h)
}

// OnConnectionChange registers a handler for connectivity changes.
func (s *Session) OnConnectionChange(h ConnectionHandler) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.connHandler = append(s.connHandler, h)
}

// Connected reports whether the connection is currently open.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Connect starts connecting in the background and returns immediately. Calling it
// while a connection is open or an attempt is under way does nothing. Cancelling
// ctx closes the session.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.ctx == nil {
		s.ctx = ctx
		s.stopCtx = context.AfterFunc(ctx, func() { _ = s.Close() })
	}
	s.startAttemptLocked()
	return nil
}

// WaitConnected blocks until the connection is open, the session is closed or ctx ends.
func (s *Session) WaitConnected(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.connected.Load() {
			s.mu.Unlock()
			return nil
		}
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) startAttemptLocked() {
	if s.closed || s.conn != nil || s.dialing {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.dialing = true
	s.attempts++
	go s.dial(s.ctx, s.attempts)
}

func (s *Session) dial(ctx context.Context, attempt int) {
	s.log.Debugw("Connecting to escalation service", "url", s.url, "attempt", attempt)
	conn, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	s.mu.Lock()
	s.dialing = false
	if s.closed {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.scheduleReconnectLocked()
		s.mu.Unlock()
		s.log.Warnw("Connection attempt failed", "url", s.url, "attempt", attempt,
			"retryIn", s.reconnectDelay, "error", err)
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.conn = conn
	changed := s.setConnectedLocked(true)
	s.mu.Unlock()

	s.log.Infow("Connected to escalation service", "url", s.url, "attempt", attempt)
	if changed {
		s.notify(true)
	}
	go s.readLoop(conn)
}

// scheduleReconnectLocked arms the reconnect timer unless one is already pending.
func (s *Session) scheduleReconnectLocked() {
	if s.closed || s.timer != nil {
		return
	}
	metrics.TransportReconnects.Inc()
	s.timer = time.AfterFunc(s.reconnectDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.timer = nil
		s.startAttemptLocked()
	})
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.drop(conn, err)
			return
		}
		s.dispatch(data)
	}
}

func (s *Session) dispatch(data []byte) {
	st, err := codec.Decode(data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, codec.ErrIgnored) {
			reason = "ignored"
		}
		metrics.EventsDropped.WithLabelValues(reason).Inc()
		s.log.Debugw("Dropping inbound message", "reason", reason, "error", err)
		return
	}
	metrics.EventsReceived.Inc()

	s.hmu.RLock()
	handlers := slices.Clone(s.eventHandler)
	s.hmu.RUnlock()
	for _, h := range handlers {
		h(st)
	}
}

// drop tears down conn after a read or write failure and schedules a reconnect.
// It is a no-op if conn is no longer the current connection.
func (s *Session) drop(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.scheduleReconnectLocked()
	changed := s.setConnectedLocked(false)
	s.mu.Unlock()

	_ = conn.Close()
	if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.log.Infow("Connection closed by server", "url", s.url, "retryIn", s.reconnectDelay)
	} else {
		s.log.Warnw("Connection lost", "url", s.url, "retryIn", s.reconnectDelay, "error", cause)
	}
	if changed {
		s.notify(false)
	}
}

// Send writes one command. It returns false without queueing when the session is
// disconnected or the write fails.
func (s *Session) Send(cmd codec.Command) bool {
	data, err := codec.Encode(cmd)
	if err != nil {
		metrics.CommandsFailed.WithLabelValues(string(cmd.Action)).Inc()
		s.log.Errorw("Refusing to send invalid command", "command", cmd.String(), "error", err)
		return false
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		metrics.CommandsFailed.WithLabelValues(string(cmd.Action)).Inc()
		s.log.Debugw("Not connected, command dropped", "command", cmd.String())
		return false
	}

	s.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		metrics.CommandsFailed.WithLabelValues(string(cmd.Action)).Inc()
		s.drop(conn, err)
		return false
	}

	metrics.CommandsSent.WithLabelValues(string(cmd.Action)).Inc()
	s.log.Debugw("Command sent", "command", cmd.String())
	return true
}

// Close stops the reconnect loop and closes the connection. Commands not yet
// written are lost. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	conn := s.conn
	s.conn = nil
	stop := s.stopCtx
	changed := s.setConnectedLocked(false)
	// wake WaitConnected callers even if the flag was already down
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	var err error
	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = conn.Close()
	}
	if changed {
		s.notify(false)
	}
	s.log.Debugw("Session closed", "url", s.url)
	return err
}

// setConnectedLocked updates the connectivity flag and wakes WaitConnected callers.
// It reports whether the flag changed.
func (s *Session) setConnectedLocked(v bool) bool {
	if s.connected.Swap(v) == v {
		return false
	}
	if v {
		metrics.TransportConnected.Set(1)
	} else {
		metrics.TransportConnected.Set(0)
	}
	close(s.changed)
	s.changed = make(chan struct{})
	return true
}

func (s *Session) notify(connected bool) {
	s.hmu.RLock()
	handlers := slices.Clone(s.connHandler)
	s.hmu.RUnlock()
	for _, h := range handlers {
		h(connected)
	}
}
