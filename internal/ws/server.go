// Package ws provides the realtime WebSocket channel for session observers.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/gateway/internal/config"
	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/hub"
	"github.com/xiaot623/gogo/gateway/internal/protocol"
)

const commandTimeout = 30 * time.Second

// Sessions is the subset of the session service driven by realtime commands.
type Sessions interface {
	Disconnect(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
}

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	sessions Sessions
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, sessions Sessions, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		hub:      h,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logger.With().Str("component", "ws").Logger(),
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to upgrade websocket")
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads commands from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn().Err(err).Str("conn_id", conn.ID).Msg("websocket read error")
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes queued frames to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Debug().Err(err).Str("conn_id", conn.ID).Msg("failed to write frame")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming commands to their handlers.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch frame.Event {
	case protocol.EventJoinSession:
		s.handleJoin(conn, frame)
	case protocol.EventDisconnectSession:
		s.runCommand(conn, frame, s.sessions.Disconnect)
	case protocol.EventDeleteSession:
		s.runCommand(conn, frame, s.sessions.Delete)
	default:
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "unknown event: "+frame.Event)
	}
}

// handleJoin subscribes the connection to a session's events. Joining a
// session that does not exist yet is allowed; its events arrive once it is
// created.
func (s *Server) handleJoin(conn *hub.Connection, frame protocol.Frame) {
	sessionID := frame.SessionID()
	if sessionID == "" {
		s.sendError(conn, "", protocol.ErrorCodeSessionRequired, "sessionId is required")
		return
	}
	if err := s.hub.Subscribe(conn, sessionID); err != nil && !errors.Is(err, hub.ErrConnectionClosed) {
		s.log.Warn().Err(err).Str("session_id", sessionID).Str("conn_id", conn.ID).Msg("failed to send snapshot")
	}
	s.log.Debug().Str("session_id", sessionID).Str("conn_id", conn.ID).Msg("observer joined session")
}

// runCommand runs a session command off the read loop so slow engine calls do
// not stall the connection.
func (s *Server) runCommand(conn *hub.Connection, frame protocol.Frame, fn func(context.Context, string) error) {
	sessionID := frame.SessionID()
	if sessionID == "" {
		s.sendError(conn, "", protocol.ErrorCodeSessionRequired, "sessionId is required")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		if err := fn(ctx, sessionID); err != nil {
			l := s.log.With().Str("session_id", sessionID).Str("event", frame.Event).Logger()
			if errors.Is(err, domain.ErrSessionNotFound) {
				l.Debug().Msg("command for unknown session")
				s.sendError(conn, sessionID, protocol.ErrorCodeSessionNotFound, err.Error())
				return
			}
			l.Error().Err(err).Msg("session command failed")
			s.sendError(conn, sessionID, protocol.ErrorCodeInternalError, err.Error())
		}
	}()
}

// sendError sends an error frame to a connection.
func (s *Server) sendError(conn *hub.Connection, sessionID, code, message string) {
	err := s.hub.SendToConnection(conn, protocol.EventError, protocol.ErrorPayload{
		SessionID: sessionID,
		Code:      code,
		Message:   message,
	})
	if err != nil && !errors.Is(err, hub.ErrConnectionClosed) {
		s.log.Warn().Err(err).Str("conn_id", conn.ID).Msg("failed to send error frame")
	}
}
