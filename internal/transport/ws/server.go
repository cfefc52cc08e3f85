// Package ws serves the attach stream: history replay followed by live
// events for one session, plus input and operations from the client.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/dispatch/internal/config"
	"github.com/xiaot623/gogo/dispatch/internal/hub"
	"github.com/xiaot623/gogo/dispatch/internal/protocol"
	"github.com/xiaot623/gogo/dispatch/internal/service"
)

// SessionService is the part of the orchestrator the attach stream uses.
type SessionService interface {
	AttachToSession(ctx context.Context, sessionID string, fromSeq int64) (*service.AttachResult, error)
	SendInput(ctx context.Context, sessionID, data string) error
	PerformOperation(ctx context.Context, sessionID, name string, params []json.RawMessage) (interface{}, error)
}

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	service  SessionService
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, svc SessionService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     withDefaults(cfg),
		hub:     h,
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

func withDefaults(cfg *config.Config) *config.Config {
	out := config.Config{}
	if cfg != nil {
		out = *cfg
	}
	if out.PingInterval <= 0 {
		out.PingInterval = 30 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 10 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 60 * time.Second
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = 65536
	}
	return &out
}

// HandleAttach upgrades the request and streams the session.
// GET /v1/sessions/:id/attach?from=<seq>
func (s *Server) HandleAttach(c echo.Context) error {
	sessionID := c.Param("id")
	var from int64
	if v := c.QueryParam("from"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "from must be a non-negative integer"})
		}
		from = n
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", "session_id", sessionID, "error", err)
		return nil
	}
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	// Bind before reading history so nothing recorded in between is lost;
	// the cursor drops what history already covered.
	conn := s.hub.NewConnection(ws)
	conn.SessionID = sessionID
	s.hub.Register(conn)

	if err := s.replay(c.Request().Context(), conn, from); err != nil {
		s.hub.Unregister(conn)
		conn.Close()
		return nil
	}

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

// replay writes the attached message and history directly, before the
// write pump starts.
func (s *Server) replay(ctx context.Context, conn *hub.Connection, from int64) error {
	res, err := s.service.AttachToSession(ctx, conn.SessionID, from)
	if err != nil {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if werr := conn.WriteJSON(s.errorMessage(conn.SessionID, "", err)); werr != nil {
			s.logger.Debug("failed to write attach error", "conn_id", conn.ID, "session_id", conn.SessionID, "error", werr)
		}
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, protocol.ErrorCode(err))
		if werr := conn.WriteMessage(websocket.CloseMessage, closeMsg); werr != nil {
			s.logger.Debug("failed to write close frame", "conn_id", conn.ID, "session_id", conn.SessionID, "error", werr)
		}
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	attached := protocol.AttachedMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.TypeAttached, Ts: time.Now().UnixMilli(), SessionID: conn.SessionID},
		Status:      res.Session.Status,
		Live:        res.Process != nil,
		History:     len(res.Events),
	}
	if err := conn.WriteJSON(attached); err != nil {
		return err
	}

	cursor := from - 1
	for _, ev := range res.Events {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		msg := protocol.EventMessage{
			BaseMessage: protocol.BaseMessage{Type: protocol.TypeEvent, Ts: time.Now().UnixMilli(), SessionID: conn.SessionID},
			Event:       ev,
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		cursor = ev.Sequence
	}
	conn.SetCursor(cursor)
	return nil
}

// readPump reads messages from the WebSocket connection.
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", "conn_id", conn.ID, "session_id", conn.SessionID, "error", err)
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes queued messages, skipping events the client already has.
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
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !conn.Deliverable(message) {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, message.Data); err != nil {
				s.logger.Debug("failed to write message", "conn_id", conn.ID, "error", err)
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

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch base.Type {
	case protocol.TypeInput:
		s.handleInput(conn, data)
	case protocol.TypeOperation:
		s.handleOperation(conn, data)
	default:
		s.sendError(conn, base.RequestID, protocol.ErrorCodeInvalidMessage, "unknown message type: "+base.Type)
	}
}

// handleInput runs inline so a client's inputs are recorded in the order sent.
func (s *Server) handleInput(conn *hub.Connection, data []byte) {
	var msg protocol.InputMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid input message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	if err := s.service.SendInput(ctx, conn.SessionID, msg.Data); err != nil {
		s.hub.SendJSONToConnection(conn, s.errorMessage(conn.SessionID, msg.RequestID, err))
	}
}

func (s *Server) handleOperation(conn *hub.Connection, data []byte) {
	var msg protocol.OperationMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Name == "" {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid operation message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	result, err := s.service.PerformOperation(ctx, conn.SessionID, msg.Name, msg.Params)
	if err != nil {
		s.hub.SendJSONToConnection(conn, s.errorMessage(conn.SessionID, msg.RequestID, err))
		return
	}
	s.hub.SendJSONToConnection(conn, protocol.OperationResultMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeOperationResult,
			Ts:        time.Now().UnixMilli(),
			RequestID: msg.RequestID,
			SessionID: conn.SessionID,
		},
		Result: result,
	})
}

func (s *Server) errorMessage(sessionID, requestID string, err error) protocol.ErrorMessage {
	return protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeError,
			Ts:        time.Now().UnixMilli(),
			RequestID: requestID,
			SessionID: sessionID,
		},
		Code:    protocol.ErrorCode(err),
		Message: err.Error(),
	}
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *hub.Connection, requestID, code, message string) {
	s.hub.SendJSONToConnection(conn, protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeError,
			Ts:        time.Now().UnixMilli(),
			RequestID: requestID,
			SessionID: conn.SessionID,
		},
		Code:    code,
		Message: message,
	})
}
