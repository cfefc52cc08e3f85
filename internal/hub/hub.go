// Package hub provides connection management for attached WebSocket clients.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/dispatch/internal/notify"
	"github.com/xiaot623/gogo/dispatch/internal/protocol"
)

const sendBufferSize = 1024

// Unsequenced marks outbound messages that carry no event sequence.
const Unsequenced int64 = -1

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

// Outbound is a message queued for one connection.
type Outbound struct {
	Seq  int64
	Data []byte
}

// Connection represents a single WebSocket connection.
type Connection struct {
	ID         string
	SessionID  string
	Conn       *websocket.Conn
	Send       chan Outbound
	mu         sync.Mutex
	cursor     atomic.Int64
	registered chan struct{}
}

// Hub manages all WebSocket connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Sessions maps session_id to set of connection IDs
	sessions map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	done       chan struct{}

	mu     sync.RWMutex
	logger *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run starts the hub's main loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, conn := range h.connections {
				delete(h.connections, id)
				close(conn.Send)
			}
			h.sessions = make(map[string]map[string]bool)
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if conn.SessionID != "" {
				h.bindLocked(conn, conn.SessionID)
			}
			h.mu.Unlock()
			close(conn.registered)
			h.logger.Debug("connection registered", "conn_id", conn.ID, "session_id", conn.SessionID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				h.unbindLocked(conn)
				close(conn.Send)
			}
			h.mu.Unlock()
			h.logger.Debug("connection unregistered", "conn_id", conn.ID)
		}
	}
}

// NewConnection creates a connection; it still has to be registered.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	conn := &Connection{
		ID:         uuid.New().String(),
		Conn:       ws,
		Send:       make(chan Outbound, sendBufferSize),
		registered: make(chan struct{}),
	}
	conn.cursor.Store(Unsequenced)
	return conn
}

// Register registers a connection with the hub and waits until the hub
// has recorded it. If conn.SessionID is set, broadcasts for that session
// reach the connection once Register returns.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		return
	}
	select {
	case <-conn.registered:
	case <-h.done:
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// BindSession binds a registered connection to a session. Broadcasts for
// the session reach the connection as soon as BindSession returns.
func (h *Hub) BindSession(conn *Connection, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; !ok {
		conn.SessionID = sessionID
		return
	}
	h.unbindLocked(conn)
	h.bindLocked(conn, sessionID)
}

func (h *Hub) bindLocked(conn *Connection, sessionID string) {
	conn.SessionID = sessionID
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[string]bool)
	}
	h.sessions[sessionID][conn.ID] = true
}

func (h *Hub) unbindLocked(conn *Connection) {
	if conn.SessionID != "" && h.sessions[conn.SessionID] != nil {
		delete(h.sessions[conn.SessionID], conn.ID)
		if len(h.sessions[conn.SessionID]) == 0 {
			delete(h.sessions, conn.SessionID)
		}
	}
}

// Broadcast queues msg for every connection of a session without blocking.
// A connection whose buffer is full is dropped.
func (h *Hub) Broadcast(sessionID string, msg Outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID := range h.sessions[sessionID] {
		conn, exists := h.connections[connID]
		if !exists {
			continue
		}
		select {
		case conn.Send <- msg:
		default:
			h.logger.Warn("connection buffer full, closing", "conn_id", connID, "session_id", sessionID)
			go h.Unregister(conn)
		}
	}
}

// BroadcastJSON sends a JSON message to all connections of a session.
func (h *Hub) BroadcastJSON(sessionID string, seq int64, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(sessionID, Outbound{Seq: seq, Data: data})
	return nil
}

// SendJSONToConnection queues a JSON message for one connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return errors.New("connection is not registered")
	}
	select {
	case conn.Send <- Outbound{Seq: Unsequenced, Data: data}:
		return nil
	default:
		return ErrBufferFull
	}
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetSessionCount returns the number of sessions with attached connections.
func (h *Hub) GetSessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// HasActiveConnections checks if a session has any attached connections.
func (h *Hub) HasActiveConnections(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID]) > 0
}

// Subscribe forwards bus notifications to attached connections and returns
// a function that stops forwarding.
func (h *Hub) Subscribe(bus *notify.Bus) func() {
	ids := []string{
		bus.Subscribe(notify.TopicEventRecorded, "", h.forward),
		bus.Subscribe(notify.TopicEventReplayed, "", h.forward),
		bus.Subscribe(notify.TopicStatus, "", h.forward),
		bus.Subscribe(notify.TopicClosed, "", h.forward),
	}
	return func() {
		for _, id := range ids {
			bus.Unsubscribe(id)
		}
	}
}

func (h *Hub) forward(n notify.Notification) {
	if !h.HasActiveConnections(n.SessionID) {
		return
	}

	base := protocol.BaseMessage{Ts: time.Now().UnixMilli(), SessionID: n.SessionID}
	seq := Unsequenced
	var msg interface{}
	switch n.Topic {
	case notify.TopicEventRecorded:
		base.Type = protocol.TypeEvent
		seq = n.Event.Sequence
		msg = protocol.EventMessage{BaseMessage: base, Event: *n.Event}
	case notify.TopicEventReplayed:
		base.Type = protocol.TypeReplay
		msg = protocol.EventMessage{BaseMessage: base, Event: *n.Event}
	case notify.TopicStatus:
		base.Type = protocol.TypeStatus
		msg = protocol.StatusMessage{BaseMessage: base, Status: n.Status}
	case notify.TopicClosed:
		base.Type = protocol.TypeClosed
		msg = protocol.StatusMessage{BaseMessage: base, Status: n.Status}
	default:
		return
	}
	if err := h.BroadcastJSON(n.SessionID, seq, msg); err != nil {
		h.logger.Warn("failed to encode notification", "topic", n.Topic, "session_id", n.SessionID, "error", err)
	}
}

// SetCursor records that every event up to seq has been delivered.
func (c *Connection) SetCursor(seq int64) {
	c.cursor.Store(seq)
}

// Deliverable reports whether msg should be written. Sequenced messages at
// or below the cursor are duplicates; others advance the cursor.
func (c *Connection) Deliverable(msg Outbound) bool {
	if msg.Seq == Unsequenced {
		return true
	}
	if msg.Seq <= c.cursor.Load() {
		return false
	}
	c.cursor.Store(msg.Seq)
	return true
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// WriteJSON encodes v and writes it as a text message.
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
