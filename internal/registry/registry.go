// Package registry tracks live transport connections for the support
// chat broker. It maps session ids to the single live user connection
// (newest wins) and agent identities to their open connections
// (multi-tab admin use is allowed). Handles are ephemeral and never
// persisted; a lookup miss is normal steady state, not an error.
package registry

import (
	"errors"
	"sync"

	"github.com/real-rm/golog"
	"github.com/real-rm/supportchat/internal/metrics"
)

var (
	// ErrNilConnection is returned when registering a nil connection
	ErrNilConnection = errors.New("connection cannot be nil")
	// ErrEmptyKey is returned when registering under an empty session or agent id
	ErrEmptyKey = errors.New("registration key cannot be empty")
)

// Conn is the handle the registry tracks. The websocket connection
// satisfies it; tests substitute fakes.
type Conn interface {
	// ID uniquely identifies the transport connection
	ID() string
	// Enqueue hands a frame to the connection without blocking.
	// It reports false when the connection is closing or saturated.
	Enqueue(data []byte) bool
}

// Registry holds the live connection maps. All operations are O(1)
// under one mutex; nothing here blocks.
type Registry struct {
	mu        sync.RWMutex
	users     map[string]Conn            // sessionID -> live user connection
	userKeys  map[string]string          // connection id -> sessionID
	agents    map[string]map[string]Conn // agentID -> connection id -> connection
	agentKeys map[string]string          // connection id -> agentID
	logger    *golog.Logger
}

// New creates an empty registry
func New(logger *golog.Logger) *Registry {
	return &Registry{
		users:     make(map[string]Conn),
		userKeys:  make(map[string]string),
		agents:    make(map[string]map[string]Conn),
		agentKeys: make(map[string]string),
		logger:    logger,
	}
}

// RegisterUser binds a connection as the live user side of a session.
// Any prior connection under the same session id is evicted silently:
// it is simply no longer addressable, with no close signal sent.
func (r *Registry) RegisterUser(sessionID string, conn Conn) error {
	if conn == nil {
		return ErrNilConnection
	}
	if sessionID == "" {
		return ErrEmptyKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.detachLocked(conn.ID())

	if prior, exists := r.users[sessionID]; exists && prior.ID() != conn.ID() {
		delete(r.userKeys, prior.ID())
		r.logger.Debug("Evicted prior user connection",
			"session_id", sessionID,
			"evicted_connection_id", prior.ID(),
			"connection_id", conn.ID())
	}

	r.users[sessionID] = conn
	r.userKeys[conn.ID()] = sessionID
	r.updateGaugesLocked()
	return nil
}

// RegisterAgent adds a connection under an agent identity. An agent may
// hold any number of simultaneous connections; re-registering the same
// connection replaces its previous slot.
func (r *Registry) RegisterAgent(agentID string, conn Conn) error {
	if conn == nil {
		return ErrNilConnection
	}
	if agentID == "" {
		return ErrEmptyKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.detachLocked(conn.ID())

	conns, exists := r.agents[agentID]
	if !exists {
		conns = make(map[string]Conn)
		r.agents[agentID] = conns
	}
	conns[conn.ID()] = conn
	r.agentKeys[conn.ID()] = agentID
	r.updateGaugesLocked()
	return nil
}

// Unregister removes a connection from whichever map holds it.
// Idempotent; called on transport close, which is routine lifecycle,
// not an error.
func (r *Registry) Unregister(conn Conn) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.detachLocked(conn.ID())
	r.updateGaugesLocked()
}

// detachLocked removes the connection id from both sides. The reverse
// indexes are authoritative: an evicted connection has no entry, so its
// late unregister never removes its replacement.
func (r *Registry) detachLocked(connID string) {
	if sessionID, ok := r.userKeys[connID]; ok {
		delete(r.userKeys, connID)
		delete(r.users, sessionID)
	}
	if agentID, ok := r.agentKeys[connID]; ok {
		delete(r.agentKeys, connID)
		if conns, exists := r.agents[agentID]; exists {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(r.agents, agentID)
			}
		}
	}
}

// LookupUser returns the live user connection for a session, if any
func (r *Registry) LookupUser(sessionID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.users[sessionID]
	return conn, exists
}

// AgentConnections returns a snapshot of one agent's live connections
func (r *Registry) AgentConnections(agentID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.agents[agentID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	return out
}

// AllAgentConnections returns a snapshot of every live agent connection
// for broadcast fan-out. Connections registered or closed after the
// snapshot is taken may be missed, which broadcast semantics allow.
func (r *Registry) AllAgentConnections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Conn
	for _, conns := range r.agents {
		for _, conn := range conns {
			out = append(out, conn)
		}
	}
	return out
}

// UserCount returns the number of live user connections
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users)
}

// AgentCount returns the number of live agent connections
func (r *Registry) AgentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.agentKeys)
}

func (r *Registry) updateGaugesLocked() {
	metrics.UserConnections.Set(float64(len(r.users)))
	metrics.AgentConnections.Set(float64(len(r.agentKeys)))
}
