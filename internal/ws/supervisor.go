package ws

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/remote-mirror/backend/internal/auth"
	"github.com/remote-mirror/backend/internal/model"
)

var (
	errHandshakeTimeout = errors.New("handshake timeout")
	errAuthRequired     = errors.New("first message must be auth")
)

// supervisor owns one socket and drives its Connection through the lifecycle.
type supervisor struct {
	hub        *Hub
	conn       *Connection
	ws         *websocket.Conn
	token      string
	writerDone chan struct{}
}

// Serve upgrades the request and supervises the resulting connection in the
// background. An empty token means the client authenticates with its first
// message instead.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, token string, role Role) error {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	s := &supervisor{
		hub:        h,
		conn:       newConnection(role, h.opts.SendQueueSize),
		ws:         sock,
		token:      token,
		writerDone: make(chan struct{}),
	}
	if !h.track(s) {
		s.closeSocket(CloseGoingAway, "server shutting down")
		return nil
	}
	if err := s.conn.advance(StateConnecting, StateAuthenticating); err != nil {
		h.untrack(s)
		s.closeSocket(websocket.CloseInternalServerErr, "")
		return err
	}

	go s.run()
	return nil
}

func (s *supervisor) logger() *zerolog.Logger {
	l := log.With().Str("module", "ws.supervisor").
		Str("conn", string(s.conn.id)).
		Str("role", string(s.conn.role)).
		Str("user", string(s.conn.identity)).
		Logger()
	return &l
}

func (s *supervisor) run() {
	defer s.hub.untrack(s)
	s.ws.SetReadLimit(s.hub.opts.MaxMessageSize)

	claims, err := s.authenticate()
	if err != nil {
		s.reject(err)
		return
	}

	s.conn.bind(claims.UserID)
	// Register also moves the connection to Active.
	if _, err := s.hub.registry.Register(s.conn); err != nil {
		s.reject(err)
		return
	}
	s.logger().Info().Msg("connection active")

	go s.writePump()
	s.readPump()
	s.teardown()
}

func (s *supervisor) authenticate() (*auth.Claims, error) {
	token := s.token
	if token == "" {
		_ = s.ws.SetReadDeadline(time.Now().Add(s.hub.opts.HandshakeTimeout))
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				return nil, errHandshakeTimeout
			}
			return nil, err
		}
		msg, err := ParseMessage(data)
		if err != nil || msg.Type != MessageTypeAuth {
			return nil, errAuthRequired
		}
		token = msg.Token
	}
	return s.hub.verifier.Verify(token)
}

// reject closes a connection that never became Active.
func (s *supervisor) reject(err error) {
	code, reason := ClosePolicyViolation, "invalid token"
	switch {
	case errors.Is(err, errHandshakeTimeout):
		reason = "handshake timeout"
	case errors.Is(err, errAuthRequired):
		reason = "authentication required"
	case errors.Is(err, model.ErrTokenExpired):
		reason = "token expired"
	}
	s.conn.Close(code, reason)
	code, reason = s.conn.CloseStatus()

	s.hub.metrics.authFailures.Add(1)
	s.closeSocket(code, reason)
	_ = s.conn.advance(StateAuthenticating, StateClosed)

	s.logger().Warn().Err(err).Int("code", code).Msg("connection rejected")
}

// shutdown asks the connection to go away. A connection still waiting for
// its auth message is woken by expiring its read deadline.
func (s *supervisor) shutdown() {
	s.conn.Close(CloseGoingAway, "server shutting down")
	if s.conn.State() != StateActive {
		_ = s.ws.SetReadDeadline(time.Now())
	}
}

func (s *supervisor) closeSocket(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.hub.opts.WriteWait))
	_ = s.ws.Close()
}

// readPump reads messages from the socket and dispatches them until the
// socket fails or is closed.
func (s *supervisor) readPump() {
	pongWait := s.hub.opts.PongWait

	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		s.conn.touch()
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			s.readFailed(err)
			return
		}
		s.conn.touch()
		_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
		s.dispatch(data)
	}
}

func (s *supervisor) readFailed(err error) {
	select {
	case <-s.conn.Done():
		// closed from our side: eviction, shutdown or a failed write
		return
	default:
	}

	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce):
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			s.logger().Warn().Err(err).Msg("unexpected close")
		}
		s.conn.Close(CloseNormal, "")
	case isTimeout(err):
		s.logger().Warn().Msg("heartbeat timeout")
		s.conn.Close(CloseGoingAway, "heartbeat timeout")
	default:
		s.logger().Warn().Err(err).Msg("read failed")
		s.conn.Close(CloseGoingAway, "read error")
	}
}

func (s *supervisor) dispatch(data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		s.hub.metrics.malformed.Add(1)
		s.logger().Warn().Err(err).Msg("dropping message")
		return
	}

	switch msg.Type {
	case MessageTypeScreenUpdate:
		if s.conn.role != RoleCapture {
			s.roleViolation(msg.Type)
			return
		}
		s.hub.relay.Relay(s.conn, data)
	case MessageTypeInteraction:
		if s.conn.role != RoleViewer {
			s.roleViolation(msg.Type)
			return
		}
		if err := s.hub.router.Route(s.conn, data); err != nil {
			s.logger().Debug().Err(err).Str("kind", string(msg.Kind)).Msg("interaction not delivered")
		}
	case MessageTypePing:
		_ = s.conn.TrySend(pongMessage)
	case MessageTypeError:
		s.logger().Warn().RawJSON("payload", data).Msg("client reported error")
	case MessageTypeAuth, MessageTypePong:
	}
}

func (s *supervisor) roleViolation(t MessageType) {
	s.hub.metrics.roleViolations.Add(1)
	s.logger().Warn().Str("type", string(t)).Msg("message not allowed for role")
}

// writePump writes queued messages and pings to the socket. It is the only
// writer of data frames and closes the socket when it exits.
func (s *supervisor) writePump() {
	writeWait := s.hub.opts.WriteWait
	ticker := time.NewTicker(s.hub.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.ws.Close()
		close(s.writerDone)
	}()

	for {
		select {
		case <-s.conn.Done():
			code, reason := s.conn.CloseStatus()
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
			return
		case message := <-s.conn.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				s.conn.Close(CloseGoingAway, "write error")
				return
			}

			// Flush what queued up meanwhile, one frame per message.
			n := len(s.conn.send)
			for i := 0; i < n; i++ {
				queued := <-s.conn.send
				_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := s.ws.WriteMessage(websocket.TextMessage, queued); err != nil {
					s.conn.Close(CloseGoingAway, "write error")
					return
				}
			}
		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.conn.Close(CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

// teardown runs once the read pump has returned.
func (s *supervisor) teardown() {
	_ = s.conn.advance(StateActive, StateClosing)
	s.conn.Close(CloseNormal, "")
	<-s.writerDone

	s.hub.registry.Unregister(s.conn.id)
	_ = s.ws.Close()
	_ = s.conn.advance(StateClosing, StateClosed)

	code, reason := s.conn.CloseStatus()
	s.logger().Info().Int("code", code).Str("reason", reason).Msg("connection closed")
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
