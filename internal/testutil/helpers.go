// Package testutil provides common test helpers and mock implementations
// shared across package test suites.
package testutil

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/real-rm/golog"
	"github.com/stretchr/testify/assert"

	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/session"
)

// MemorySessionRepo is an in-memory durable backend with Mongo-like
// semantics. It satisfies store.SessionRepository and supports error
// injection for failure-path tests.
type MemorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*session.Session

	// Error injection: when set, the matching operation fails
	CreateErr error
	GetErr    error
	AppendErr error
	UpdateErr error
	ListErr   error
}

// NewMemorySessionRepo creates an empty in-memory repository
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{sessions: make(map[string]*session.Session)}
}

// CreateSession stores a clone of the session
func (r *MemorySessionRepo) CreateSession(sess *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CreateErr != nil {
		return r.CreateErr
	}
	r.sessions[sess.ID] = sess.Clone()
	return nil
}

// GetSession returns a clone of the stored session
func (r *MemorySessionRepo) GetSession(sessionID string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.GetErr != nil {
		return nil, r.GetErr
	}
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w in database", session.ErrSessionNotFound)
	}
	return sess.Clone(), nil
}

// AppendMessage appends one message to the stored transcript
func (r *MemorySessionRepo) AppendMessage(sessionID string, msg message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.AppendErr != nil {
		return r.AppendErr
	}
	sess, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w in database", session.ErrSessionNotFound)
	}
	sess.Messages = append(sess.Messages, msg)
	if msg.Timestamp.After(sess.LastActivityAt) {
		sess.LastActivityAt = msg.Timestamp
	}
	return nil
}

// AppendAgentMessage appends an agent message and staffs the session in
// the same write, mirroring the production repository's single update.
func (r *MemorySessionRepo) AppendAgentMessage(sessionID string, msg message.Message, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.AppendErr != nil {
		return r.AppendErr
	}
	sess, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w in database", session.ErrSessionNotFound)
	}
	sess.Messages = append(sess.Messages, msg)
	sess.AssignedAgentID = agentID
	sess.Status = session.StatusActive
	sess.Escalated = true
	if msg.Timestamp.After(sess.LastActivityAt) {
		sess.LastActivityAt = msg.Timestamp
	}
	return nil
}

// UpdateSession overwrites the stored session's mutable fields
func (r *MemorySessionRepo) UpdateSession(sess *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.UpdateErr != nil {
		return r.UpdateErr
	}
	stored, ok := r.sessions[sess.ID]
	if !ok {
		return fmt.Errorf("%w in database", session.ErrSessionNotFound)
	}
	stored.UserIdentifier = sess.UserIdentifier
	stored.AssignedAgentID = sess.AssignedAgentID
	stored.Status = sess.Status
	stored.Escalated = sess.Escalated
	stored.LastActivityAt = sess.LastActivityAt
	return nil
}

// ListActiveSessions returns non-resolved sessions, most recent first
func (r *MemorySessionRepo) ListActiveSessions(limit int) ([]*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ListErr != nil {
		return nil, r.ListErr
	}
	var out []*session.Session
	for _, sess := range r.sessions {
		if sess.Status == session.StatusResolved {
			continue
		}
		out = append(out, sess.Clone())
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].LastActivityAt.After(out[i].LastActivityAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Session returns a clone of a stored session for assertions, or nil
// when the session does not exist.
func (r *MemorySessionRepo) Session(sessionID string) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	return sess.Clone()
}

// SessionCount returns the number of stored sessions
func (r *MemorySessionRepo) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Reset clears stored sessions and injected errors
func (r *MemorySessionRepo) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = make(map[string]*session.Session)
	r.CreateErr = nil
	r.GetErr = nil
	r.AppendErr = nil
	r.UpdateErr = nil
	r.ListErr = nil
}

// MintToken signs a JWT carrying the claims the auth package expects.
// The token expires one hour out.
func MintToken(t *testing.T, secret, userID, name string, roles []string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"name":    name,
		"roles":   roles,
		"exp":     time.Now().Add(time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	})

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign test token: %v", err)
	}
	return signed
}

// MintExpiredToken signs a JWT that expired an hour ago
func MintExpiredToken(t *testing.T, secret, userID string, roles []string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"name":    userID,
		"roles":   roles,
		"exp":     time.Now().Add(-time.Hour).Unix(),
		"iat":     time.Now().Add(-2 * time.Hour).Unix(),
	})

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign test token: %v", err)
	}
	return signed
}

// CreateTestLogger creates a logger for testing that writes to a temporary directory
func CreateTestLogger(t *testing.T) *golog.Logger {
	logger, err := golog.InitLog(golog.LogConfig{
		Dir:            t.TempDir(),
		Level:          "error",
		StandardOutput: false,
	})
	if err != nil {
		t.Fatalf("Failed to create test logger: %v", err)
	}
	return logger
}

// MeasureGoroutines returns the current goroutine count
func MeasureGoroutines() int {
	return runtime.NumGoroutine()
}

// WaitForGoroutines waits for goroutines to stabilize
func WaitForGoroutines() {
	runtime.GC()
	time.Sleep(100 * time.Millisecond)
}

// AssertGoroutineCount measures and reports goroutine count changes
func AssertGoroutineCount(t *testing.T, before, after int, description string) {
	t.Helper()
	delta := after - before

	t.Logf("Goroutine count (%s): %d → %d (delta: %d)", description, before, after, delta)

	// Allow for small variations due to test framework and GC
	tolerance := 5
	assert.InDelta(t, before, after, float64(tolerance),
		"Goroutine count should not increase significantly")
}
