package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/real-rm/supportchat/internal/message"
)

var (
	// ErrSessionNotFound is returned when a session is not found
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidSessionID is returned when session ID is empty
	ErrInvalidSessionID = errors.New("session ID cannot be empty")
	// ErrSessionResolved is returned when appending to a resolved session
	ErrSessionResolved = errors.New("session is resolved and no longer accepts messages")
	// ErrInvalidTransition is returned for status changes the state machine forbids
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAgentRequired is returned when staffing a session without an agent id
	ErrAgentRequired = errors.New("agent ID required to staff a session")
)

// Status represents where a session sits in the escalation workflow
type Status string

const (
	// StatusActive is the initial status; also the staffed status once an agent is assigned
	StatusActive Status = "active"
	// StatusPendingAgent marks an escalated session awaiting an agent
	StatusPendingAgent Status = "pending_agent"
	// StatusResolved is terminal; resolved sessions accept reads only
	StatusResolved Status = "resolved"
)

// Valid reports whether the status is a known value
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPendingAgent, StatusResolved:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions
func (s Status) Terminal() bool {
	return s == StatusResolved
}

// CanTransition reports whether the status graph permits moving from one
// status to another. Self-transitions are allowed everywhere so repeated
// escalations, agent writes, and closes stay idempotent; nothing leaves
// Resolved.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == StatusResolved {
		return to == StatusResolved
	}
	return true
}

// Session represents one support conversation. Instances handed out by
// the store are snapshots: mutations happen on a Clone under the store's
// per-session serialization, never in place on a shared instance.
type Session struct {
	ID              string            `json:"id"`
	UserIdentifier  string            `json:"user_identifier,omitempty"`
	AssignedAgentID string            `json:"assigned_agent_id,omitempty"`
	Status          Status            `json:"status"`
	Escalated       bool              `json:"escalated"`
	Messages        []message.Message `json:"messages"`
	CreatedAt       time.Time         `json:"created_at"`
	LastActivityAt  time.Time         `json:"last_activity_at"`
}

// Summary is the admin-facing session list entry
type Summary struct {
	ID             string    `json:"id"`
	UserIdentifier string    `json:"user_identifier,omitempty"`
	Escalated      bool      `json:"escalated"`
	Status         Status    `json:"status"`
	LastActivityAt time.Time `json:"last_activity_at"`
	MessageCount   int       `json:"message_count"`
}

// NewID generates an opaque session id
func NewID() string {
	return uuid.New().String()
}

// New creates a session in its initial state. New sessions start Active
// and not escalated regardless of how they were triggered.
func New(id, userIdentifier string, now time.Time) *Session {
	return &Session{
		ID:             id,
		UserIdentifier: userIdentifier,
		Status:         StatusActive,
		Escalated:      false,
		Messages:       []message.Message{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Clone returns a copy safe to mutate without disturbing snapshots other
// goroutines may still hold. The message slice header is copied; the
// messages themselves are immutable.
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = make([]message.Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return &c
}

// MessageCount returns the number of persisted messages
func (s *Session) MessageCount() int {
	return len(s.Messages)
}

// NextSeq returns the sequence number the next message should carry
func (s *Session) NextSeq() int64 {
	if len(s.Messages) == 0 {
		return 1
	}
	return s.Messages[len(s.Messages)-1].Seq + 1
}

// AppendMessage appends an immutable message and bumps LastActivityAt.
// Resolved sessions reject appends.
func (s *Session) AppendMessage(m message.Message) error {
	if s.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrSessionResolved, s.ID)
	}
	s.Messages = append(s.Messages, m)
	if m.Timestamp.After(s.LastActivityAt) {
		s.LastActivityAt = m.Timestamp
	}
	return nil
}

// SetStatus applies a status change with its invariants. An agent id is
// required when staffing (entering Active from PendingAgent) and
// forbidden alongside PendingAgent; assigning an agent marks the session
// escalated so a staffed session is always an escalated one.
func (s *Session) SetStatus(to Status, agentID string) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}

	switch to {
	case StatusPendingAgent:
		if agentID != "" || s.AssignedAgentID != "" {
			return fmt.Errorf("%w: %s -> %s with an assigned agent", ErrInvalidTransition, s.Status, to)
		}
		s.Escalated = true

	case StatusActive:
		if s.Status == StatusPendingAgent && agentID == "" {
			return fmt.Errorf("%w: %s -> %s", ErrAgentRequired, s.Status, to)
		}
		if agentID != "" {
			s.AssignedAgentID = agentID
			s.Escalated = true
		}

	case StatusResolved:
		// Terminal; idempotent when already resolved.
	}

	s.Status = to
	return nil
}

// Escalate marks the session as requiring human handling. The status
// moves to PendingAgent unless an agent is already working the session.
func (s *Session) Escalate() error {
	if s.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrSessionResolved, s.ID)
	}
	s.Escalated = true
	if s.Status == StatusActive && s.AssignedAgentID != "" {
		// Already staffed; the reason is still recorded by the caller.
		return nil
	}
	return s.SetStatus(StatusPendingAgent, "")
}

// Summary builds the admin list entry for this session
func (s *Session) Summary() Summary {
	return Summary{
		ID:             s.ID,
		UserIdentifier: s.UserIdentifier,
		Escalated:      s.Escalated,
		Status:         s.Status,
		LastActivityAt: s.LastActivityAt,
		MessageCount:   len(s.Messages),
	}
}

// MessagesSince returns messages with timestamps strictly after the given
// time, preserving order. A zero time returns the full transcript.
func (s *Session) MessagesSince(since time.Time) []message.Message {
	if since.IsZero() {
		out := make([]message.Message, len(s.Messages))
		copy(out, s.Messages)
		return out
	}
	var out []message.Message
	for _, m := range s.Messages {
		if m.Timestamp.After(since) {
			out = append(out, m)
		}
	}
	return out
}
