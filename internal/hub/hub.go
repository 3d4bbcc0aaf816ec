// Package hub fans session events out to realtime observers.
package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/gateway/internal/protocol"
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	// guarded by Hub.mu
	topics map[string]bool
	closed bool

	mu sync.Mutex
}

// SnapshotFunc returns the frame a new subscriber of sessionID should see
// immediately, if any.
type SnapshotFunc func(sessionID string) (event string, data interface{}, ok bool)

// Hub manages all WebSocket connections and their topic subscriptions. A topic
// is a session id.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Topics maps session_id to subscribed connections
	topics map[string]map[string]*Connection

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *topicMessage
	stop       chan struct{}
	stopOnce   sync.Once

	snapshot SnapshotFunc
	log      zerolog.Logger

	mu sync.RWMutex
}

type topicMessage struct {
	topic string // empty means every connection
	data  []byte
}

// ErrBufferFull is returned when the send buffer of a connection is full.
var ErrBufferFull = errors.New("send buffer full")

// ErrConnectionClosed is returned for operations on an unregistered connection.
var ErrConnectionClosed = errors.New("connection closed")

// NewHub creates a new Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		topics:      make(map[string]map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *topicMessage, 256),
		stop:        make(chan struct{}),
		log:         logger.With().Str("component", "hub").Logger(),
	}
}

// SetSnapshotFunc installs the function consulted on every subscribe.
func (h *Hub) SetSnapshotFunc(fn SnapshotFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = fn
}

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			if !conn.closed {
				h.connections[conn.ID] = conn
			}
			h.mu.Unlock()
			h.log.Debug().Str("conn_id", conn.ID).Msg("connection registered")

		case conn := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(conn)
			h.mu.Unlock()
			h.log.Debug().Str("conn_id", conn.ID).Msg("connection unregistered")

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-h.stop:
			return
		}
	}
}

// Stop terminates Run and closes every connection's send channel.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.mu.Lock()
		for _, conn := range h.connections {
			h.removeLocked(conn)
		}
		h.mu.Unlock()
	})
}

func (h *Hub) deliver(msg *topicMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.connections
	if msg.topic != "" {
		targets = h.topics[msg.topic]
	}
	for id, conn := range targets {
		select {
		case conn.Send <- msg.data:
		default:
			// Buffer full, drop the subscriber
			h.log.Warn().Str("conn_id", id).Str("topic", msg.topic).Msg("connection buffer full, closing")
			go h.Unregister(conn)
		}
	}
}

func (h *Hub) removeLocked(conn *Connection) {
	if conn.closed {
		return
	}
	conn.closed = true
	delete(h.connections, conn.ID)
	for topic := range conn.topics {
		if subs := h.topics[topic]; subs != nil {
			delete(subs, conn.ID)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	conn.topics = nil
	close(conn.Send)
}

// NewConnection creates a new connection. It must be registered before use.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:     uuid.New().String(),
		Conn:   ws,
		Send:   make(chan []byte, 256),
		topics: make(map[string]bool),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.stop:
	}
}

// Unregister removes a connection from the hub and from all its topics.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.stop:
	}
}

// Subscribe adds conn to the topic of sessionID. If the snapshot function
// reports a current state for the session, it is sent to conn alone.
func (h *Hub) Subscribe(conn *Connection, sessionID string) error {
	h.mu.Lock()
	if conn.closed {
		h.mu.Unlock()
		return ErrConnectionClosed
	}
	h.connections[conn.ID] = conn
	conn.topics[sessionID] = true
	if h.topics[sessionID] == nil {
		h.topics[sessionID] = make(map[string]*Connection)
	}
	h.topics[sessionID][conn.ID] = conn
	snapshot := h.snapshot
	h.mu.Unlock()

	if snapshot == nil {
		return nil
	}
	event, data, ok := snapshot(sessionID)
	if !ok {
		return nil
	}
	return h.SendToConnection(conn, event, data)
}

// Publish sends an event to every subscriber of sessionID. Delivery is at most
// once; nothing is queued for topics without subscribers.
func (h *Hub) Publish(sessionID, event string, data interface{}) {
	h.enqueue(sessionID, event, data)
}

// PublishAll sends an event to every connection.
func (h *Hub) PublishAll(event string, data interface{}) {
	h.enqueue("", event, data)
}

func (h *Hub) enqueue(topic, event string, data interface{}) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}
	select {
	case h.broadcast <- &topicMessage{topic: topic, data: frame}:
	case <-h.stop:
	}
}

// SendToConnection sends an event to a specific connection.
func (h *Hub) SendToConnection(conn *Connection, event string, data interface{}) error {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if conn.closed {
		return ErrConnectionClosed
	}
	select {
	case conn.Send <- frame:
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

// GetTopicCount returns the number of topics with at least one subscriber.
func (h *Hub) GetTopicCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}

// HasSubscribers checks if a session has any subscribed connections.
func (h *Hub) HasSubscribers(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[sessionID]) > 0
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
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
