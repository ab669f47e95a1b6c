/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 The RoomTalk Authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Config holds the transport tuning for a Socket.
type Config struct {
	HandshakeTimeout time.Duration // Timeout for the WebSocket handshake
	PingInterval     time.Duration // Interval between ping messages
	PongTimeout      time.Duration // Timeout for receiving a pong response
	WriteTimeout     time.Duration // Per-message write deadline
	BackoffTimeReset time.Duration // Initial wait before the first reconnect attempt
	BackoffTimeMax   time.Duration // Maximum wait between reconnect attempts
	MaxRetries       int           // Reconnect attempts before giving up
}

// DefaultConfig returns the default Socket configuration.
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		WriteTimeout:     10 * time.Second,
		BackoffTimeReset: 1 * time.Second,
		BackoffTimeMax:   32 * time.Second,
		MaxRetries:       5,
	}
}

// Socket is a Channel over a single WebSocket connection. It keeps the
// connection alive with ping/pong and reconnects with exponential backoff
// when the read loop fails. Reconnection is purely a transport concern: the
// bound handler table survives it, but no call-level resynchronization is
// attempted afterwards.
type Socket struct {
	url        string
	config     *Config
	dispatcher *Dispatcher

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewSocket creates a Socket for the given signaling server URL. Pass nil
// to use DefaultConfig.
func NewSocket(url string, config *Config) *Socket {
	if config == nil {
		config = DefaultConfig()
	}
	return &Socket{
		url:        url,
		config:     config,
		dispatcher: NewDispatcher(),
		closeCh:    make(chan struct{}),
	}
}

// Bind implements Channel.
func (s *Socket) Bind(roomID string, handlers HandlerTable) {
	s.dispatcher.Bind(roomID, handlers)
}

// Unbind implements Channel.
func (s *Socket) Unbind() {
	s.dispatcher.Unbind()
}

// IsConnected reports whether the socket currently holds a live connection.
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect dials the signaling server and starts the read and keepalive
// loops. It returns once the first connection attempt succeeds or fails;
// later drops are handled by the internal reconnect loop.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect signaling socket: %w", err)
	}
	s.start(conn)
	return nil
}

// Close shuts the socket down and stops any reconnect attempts.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"))
		_ = conn.Close()
	}
	return nil
}

// Send implements Channel. Writes are serialized so concurrent senders
// cannot interleave frames.
func (s *Socket) Send(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("signaling socket is not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(s.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Socket) start(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(s.config.PingInterval + s.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.PingInterval + s.config.PongTimeout))
	})

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	log.Info().Str("module", "signaling").Str("url", s.url).Msg("socket connected")

	go s.pingLoop(conn)
	go s.readLoop(conn)
}

func (s *Socket) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				log.Warn().Str("module", "signaling").Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-s.closeCh:
				return
			default:
			}
			log.Warn().Str("module", "signaling").Err(err).Msg("read failed, reconnecting")
			_ = conn.Close()
			s.mu.Lock()
			s.connected = false
			s.conn = nil
			s.mu.Unlock()
			s.reconnect()
			return
		}
		s.dispatcher.Route(&msg)
	}
}

// reconnect re-dials with exponential backoff until it succeeds, the retry
// budget is exhausted, or the socket is closed.
func (s *Socket) reconnect() {
	backoff := s.config.BackoffTimeReset

	for attempt := 1; attempt <= s.config.MaxRetries; attempt++ {
		select {
		case <-s.closeCh:
			return
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.config.HandshakeTimeout)
		conn, err := s.dial(ctx)
		cancel()
		if err == nil {
			log.Info().Str("module", "signaling").Int("attempt", attempt).Msg("socket reconnected")
			s.start(conn)
			return
		}

		log.Warn().Str("module", "signaling").Int("attempt", attempt).Err(err).Msg("reconnect failed")
		backoff *= 2
		if backoff > s.config.BackoffTimeMax {
			backoff = s.config.BackoffTimeMax
		}
	}

	log.Error().Str("module", "signaling").Int("attempts", s.config.MaxRetries).Msg("giving up on reconnect")
}
