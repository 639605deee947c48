// Package hub tracks the widget pages connected for each app instance.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Connection represents a single page WebSocket connection.
type Connection struct {
	ID         string
	InstanceID string
	Conn       *websocket.Conn
	Send       chan []byte
	mu         sync.Mutex
}

// Hub manages all page connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// instances maps instance_id to set of connection IDs
	instances map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *InstanceMessage
	quit       chan struct{}

	// onIdle runs when the last page of an instance disconnects.
	onIdle func(instanceID string)

	log       *zap.Logger
	mu        sync.RWMutex
	closeOnce sync.Once
}

// InstanceMessage is used to broadcast a message to the pages of one instance.
type InstanceMessage struct {
	InstanceID string
	Data       []byte
}

// NewHub creates a new Hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		instances:   make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *InstanceMessage, 256),
		quit:        make(chan struct{}),
		log:         log.Named("hub"),
	}
}

// Run starts the hub's main loop. It returns after Close.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if conn.InstanceID != "" {
				if h.instances[conn.InstanceID] == nil {
					h.instances[conn.InstanceID] = make(map[string]bool)
				}
				h.instances[conn.InstanceID][conn.ID] = true
			}
			h.mu.Unlock()
			h.log.Debug("connection registered", zap.String("conn_id", conn.ID), zap.String("instance_id", conn.InstanceID))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if conn.InstanceID != "" && h.instances[conn.InstanceID] != nil {
					delete(h.instances[conn.InstanceID], conn.ID)
					if len(h.instances[conn.InstanceID]) == 0 {
						delete(h.instances, conn.InstanceID)
						if h.onIdle != nil {
							go h.onIdle(conn.InstanceID)
						}
					}
				}
				close(conn.Send)
			}
			h.mu.Unlock()
			h.log.Debug("connection unregistered", zap.String("conn_id", conn.ID))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.instances[msg.InstanceID] {
				if conn, exists := h.connections[connID]; exists {
					select {
					case conn.Send <- msg.Data:
					default:
						// Buffer full, close the connection
						h.log.Warn("connection buffer full, closing", zap.String("conn_id", connID))
						go h.Unregister(conn)
					}
				}
			}
			h.mu.RUnlock()

		case <-h.quit:
			return
		}
	}
}

// Close stops the main loop. Later calls are no-ops.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.quit) })
}

// OnIdle sets the hook called when an instance loses its last page.
func (h *Hub) OnIdle(fn func(instanceID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onIdle = fn
}

// NewConnection creates a new connection for an instance.
func (h *Hub) NewConnection(ws *websocket.Conn, instanceID string) *Connection {
	return &Connection{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		Conn:       ws,
		Send:       make(chan []byte, 256),
	}
}

// Register registers a connection with the hub. It is dropped once the hub is closed.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.quit:
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.quit:
	}
}

// Broadcast sends a message to all pages of an instance.
func (h *Hub) Broadcast(instanceID string, data []byte) {
	select {
	case h.broadcast <- &InstanceMessage{InstanceID: instanceID, Data: data}:
	case <-h.quit:
	}
}

// BroadcastJSON sends a JSON message to all pages of an instance.
func (h *Hub) BroadcastJSON(instanceID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(instanceID, data)
	return nil
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case conn.Send <- data:
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

// HasActiveConnections checks if an instance has any page connected.
func (h *Hub) HasActiveConnections(instanceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.instances[instanceID]) > 0
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

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}
