package server

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Session is one active client connection bound to a single room for its
// whole lifetime. The socket is owned exclusively by the session; the
// registry and supervisor reach it only through the Conn interface.
type Session struct {
	id   string
	room string
	user string

	conn    *websocket.Conn
	writeMu sync.Mutex

	registry   *Registry
	supervisor *Supervisor
	backplane  Backplane
	presence   Presence
	limiter    *rateLimiter

	heartbeatInterval time.Duration
	idleTimeout       time.Duration

	// lastRx holds the unix nanosecond timestamp of the most recent
	// inbound frame; both activities read and write it.
	lastRx atomic.Int64

	logger *slog.Logger
}

// NewSession wraps an authenticated, upgraded connection. The read limit
// and rate limiter are applied here, before the first frame is read.
func NewSession(conn *websocket.Conn, room, user string, app *App) *Session {
	id := uuid.NewString()
	conn.SetReadLimit(app.cfg.MaxMessageSize)

	return &Session{
		id:                id,
		room:              room,
		user:              user,
		conn:              conn,
		registry:          app.registry,
		supervisor:        app.supervisor,
		backplane:         app.backplane,
		presence:          app.presence,
		limiter:           newRateLimiter(app.cfg.RateLimit.Burst, app.cfg.RateLimit.RefillInterval),
		heartbeatInterval: app.cfg.HeartbeatInterval,
		idleTimeout:       app.cfg.IdleTimeout,
		logger:            app.logger.With("conn", id, "room", room, "user", user),
	}
}

// ID implements Conn.
func (s *Session) ID() string { return s.id }

// User implements Conn.
func (s *Session) User() string { return s.user }

// Send writes one text frame. Safe for concurrent use by the heartbeat
// and the registry fan-out.
func (s *Session) Send(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close implements Conn. Closing the socket unblocks the reader, which
// drains the session through its normal cleanup path.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) sendEnvelope(env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return s.Send(data)
}

// Run registers the session, drives both activities to completion, and
// unconditionally releases every resource on the way out. Cleanup steps
// run in order regardless of which activity ended first or how.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.lastRx.Store(time.Now().UnixNano())
	s.presence.Touch(ctx, s.user, s.room)
	s.registry.Add(s.room, s)
	s.supervisor.Ensure(s.room)
	s.logger.Info("session started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.reader(ctx, cancel)
	}()
	go func() {
		defer wg.Done()
		s.heartbeat(ctx, cancel)
	}()
	wg.Wait()

	s.registry.Remove(s.room, s)
	s.presence.Clear(context.Background(), s.user, s.room)
	s.supervisor.MaybeStop(s.room)
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.logger.Debug("socket close", "error", err)
	}
	s.logger.Info("session closed")
}

// reader processes inbound frames until the client disconnects, the read
// fails, or the session is cancelled. Leaving the reader always signals
// the shared cancellation.
func (s *Session) reader(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadExit(ctx, err)
			return
		}

		s.lastRx.Store(time.Now().UnixNano())
		s.presence.Touch(ctx, s.user, s.room)

		if !s.limiter.allow() {
			s.logger.Warn("rate limit exceeded, frame dropped")
			continue
		}
		s.dispatch(ctx, raw)
	}
}

func (s *Session) logReadExit(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil || isExpectedCloseError(err):
		// Cancellation closed the socket underneath us.
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		s.logger.Info("client disconnected")
	default:
		s.logger.Warn("read failed", "error", err)
	}
}

// dispatch routes one decoded frame. Decode failures and unrecognized
// types are answered with an error envelope; the session continues.
func (s *Session) dispatch(ctx context.Context, raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		s.reply(NewErrorEnvelope("bad_payload"))
		return
	}

	switch env.Type {
	case MsgChat:
		s.publishChat(ctx, env)
	case MsgPing:
		ref := env.ID
		if ref == "" {
			ref = newMessageID()
		}
		s.reply(NewAck(ref))
	case MsgAck, MsgPong:
		// Activity already stamped; nothing to answer.
	case MsgDelivery, MsgError, MsgUnknown:
		s.reply(NewErrorEnvelope("unknown_type"))
	}
}

// publishChat stamps the chat message and publishes the delivery envelope
// to the room's backplane channel. Local peers, the sender included, only
// ever receive it back through the subscriber task.
func (s *Session) publishChat(ctx context.Context, env Envelope) {
	id := env.ID
	if id == "" {
		id = newMessageID()
	}

	payload, err := NewDelivery(s.room, s.user, env.Text, id).Encode()
	if err != nil {
		s.logger.Warn("delivery encode failed", "error", err)
		return
	}
	if err := s.backplane.Publish(ctx, channelForRoom(s.room), payload); err != nil {
		s.logger.Warn("backplane publish failed", "error", err)
	}
}

func (s *Session) reply(env Envelope) {
	if err := s.sendEnvelope(env); err != nil {
		s.logger.Debug("reply send failed", "type", env.Type, "error", err)
	}
}

// heartbeat sends an application-level ping on a fixed interval and
// enforces the idle timeout against the shared activity timestamp.
func (s *Session) heartbeat(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := s.sendEnvelope(NewPing()); err != nil {
			s.logger.Info("heartbeat send failed", "error", err)
			_ = s.conn.Close()
			cancel()
			return
		}

		idle := time.Since(time.Unix(0, s.lastRx.Load()))
		if idle > s.idleTimeout {
			s.logger.Info("idle timeout", "idle", idle)
			s.closeWith(websocket.CloseNormalClosure, "idle timeout")
			cancel()
			return
		}
	}
}

// closeWith sends a close frame with the given code and reason, then
// closes the socket so the reader unblocks.
func (s *Session) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil && !isExpectedCloseError(err) {
		s.logger.Debug("close frame write failed", "error", err)
	}
	_ = s.conn.Close()
}

// isExpectedCloseError checks if an error is expected during connection
// closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
