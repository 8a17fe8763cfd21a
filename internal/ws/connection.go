package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection with its
// associated metadata and a write mutex for serializing outbound frames.
type Connection struct {
	ID        string    // connection ID (UUID)
	UserID    string    // authenticated user, set by the upstream auth proxy
	Conn      net.Conn  // underlying TCP connection
	CreatedAt time.Time // when the connection was established

	writeTimeout time.Duration
	lastSeen     atomic.Int64 // unix nanos of the last frame received
	writeMu      sync.Mutex   // serializes writes to this connection
}

func newConnection(id, userID string, conn net.Conn, writeTimeout time.Duration) *Connection {
	c := &Connection{
		ID:           id,
		UserID:       userID,
		Conn:         conn,
		CreatedAt:    time.Now(),
		writeTimeout: writeTimeout,
	}
	c.Touch()
	return c
}

// Touch records activity on the connection.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns when the connection last received a frame.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	defer c.deadline()()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// writeFrame sends a control frame under the write mutex. It is bounded by
// the write timeout like data frames, so a stalled peer cannot hold up the
// heartbeat loop.
func (c *Connection) writeFrame(f ws.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	defer c.deadline()()
	return ws.WriteFrame(c.Conn, f)
}

// deadline arms the write deadline and returns the func that clears it.
func (c *Connection) deadline() func() {
	if c.writeTimeout <= 0 {
		return func() {}
	}
	_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return func() { _ = c.Conn.SetWriteDeadline(time.Time{}) }
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry of connections, indexed by
// connection ID and by user ID. A user may hold several connections.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection            // conn_id -> Connection
	byUser map[string]map[string]*Connection // user_id -> conn_id -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byUser: make(map[string]map[string]*Connection),
	}
}

// Add registers a new connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.byID[conn.ID] = conn
	userConns, ok := cm.byUser[conn.UserID]
	if !ok {
		userConns = make(map[string]*Connection)
		cm.byUser[conn.UserID] = userConns
	}
	userConns[conn.ID] = conn
}

// Remove removes a connection by ID and closes it. Returns true if the
// connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		if userConns := cm.byUser[conn.UserID]; userConns != nil {
			delete(userConns, id)
			if len(userConns) == 0 {
				delete(cm.byUser, conn.UserID)
			}
		}
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// ForUser returns a snapshot of a user's open connections.
func (cm *ConnectionManager) ForUser(userID string) []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conns := make([]*Connection, 0, len(cm.byUser[userID]))
	for _, conn := range cm.byUser[userID] {
		conns = append(conns, conn)
	}
	return conns
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
