// Package websocket owns the transport layer: HTTP to WebSocket
// upgrade, connection lifecycle, and the bridge between raw frames and
// broker handlers.
// SECURITY: In production this service MUST be deployed behind a
// reverse proxy (nginx, traefik, etc.) that terminates TLS, so all
// WebSocket traffic rides WSS.
package websocket

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/real-rm/supportchat/internal/constants"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/util"
)

// Connection lifecycle timeouts
var (
	// pongWait is the time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// pingPeriod is the interval for sending ping messages (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// writeWait is the time allowed to write a message to the peer
	writeWait = 10 * time.Second
)

// Connection is one live WebSocket transport. It carries the identity
// fixed at upgrade time (role, and agent claims on the admin endpoint)
// and the session binding established by the first join envelope.
// Connections are ephemeral: they are never persisted, and dropping one
// loses no durable state.
type Connection struct {
	conn *websocket.Conn

	// id uniquely identifies this transport connection
	id string

	// role is message.RoleUser or message.RoleAgent, fixed at upgrade
	role string

	// AgentID and Name come from JWT claims on the admin endpoint.
	// Both are empty for user connections.
	AgentID string
	Name    string

	// limiterKey is the connection-limit key acquired at upgrade,
	// released exactly once when the connection dies
	limiterKey string

	// sessionID is the session this connection is bound to, set by the
	// first join or message envelope
	sessionID string

	// send buffers outbound frames; writers never block on the peer
	send chan []byte

	// closeFrame is the close control frame the write pump sends once
	// the send queue drains after shutdown
	closeFrame []byte

	// closing is set before the send channel closes so late Enqueue
	// calls fail instead of panicking
	closing   atomic.Bool
	closeOnce sync.Once

	mu sync.RWMutex
}

func newConnection(ws *websocket.Conn, role string) *Connection {
	return &Connection{
		conn:       ws,
		id:         uuid.New().String(),
		role:       role,
		send:       make(chan []byte, constants.SendQueueSize),
		closeFrame: websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	}
}

// ID returns the unique transport connection id
func (c *Connection) ID() string {
	return c.id
}

// Role returns the connection's role, fixed at upgrade time
func (c *Connection) Role() string {
	return c.role
}

// SessionID returns the session this connection is bound to, or empty
// before the first join
func (c *Connection) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Connection) setSessionID(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

// Enqueue hands a frame to the connection without blocking. It reports
// false when the connection is closing or its send buffer is full;
// callers treat a refused frame as a dropped delivery, never an error.
// The read lock pairs with the write lock held while the send channel
// closes, so a frame can never race the close.
func (c *Connection) Enqueue(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closing.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close closes the underlying transport. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// beginShutdown marks the connection closing and closes its send queue,
// at most once. Frames already queued still drain onto the wire; the
// write pump then sends a close frame and closes the transport, so an
// error envelope queued just before shutdown reaches the client.
func (c *Connection) beginShutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing.Store(true)
		close(c.send)
		c.mu.Unlock()
	})
}

// readPump reads frames from the peer and feeds them to the handler.
// It owns the connection teardown: when the read loop exits for any
// reason the connection is unregistered everywhere and closed.
func (c *Connection) readPump(h *Handler) {
	defer func() {
		h.logger.Info("WebSocket connection closed",
			"connection_id", c.id,
			"role", c.role,
			"session_id", c.SessionID())
		h.release(c)
		c.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		// No else needed: error handling with break (exits loop)
		if err != nil {
			// No else needed: specific error handling (logs and continues to break)
			if errors.Is(err, websocket.ErrReadLimit) {
				h.logger.Warn("WebSocket frame size limit exceeded",
					"connection_id", c.id,
					"limit", h.maxMessageSize)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				util.LogError(h.logger, "websocket", "handle unexpected close", err,
					"connection_id", c.id,
					"session_id", c.SessionID())
			} else {
				// Routine disconnect, lifecycle rather than an error
				h.logger.Debug("WebSocket connection closing",
					"connection_id", c.id,
					"session_id", c.SessionID())
			}
			break
		}

		h.processFrame(c, raw)
	}
}

// writePump drains the send buffer onto the wire and keeps the
// heartbeat alive. One writer goroutine per connection; gorilla allows
// at most one concurrent writer.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// No else needed: channel closed handling (sends close and returns)
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, c.closeFrame)
				return
			}

			// Each envelope is its own text frame so clients can parse
			// frames independently
			// No else needed: error handling with return (exits function)
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			// No else needed: error handling with return (exits function)
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// isAgent reports whether this connection authenticated on the admin endpoint
func (c *Connection) isAgent() bool {
	return c.role == message.RoleAgent
}
