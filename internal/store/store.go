// Package store is the write-through session store. It fronts the
// durable repository with an in-memory cache and serializes all
// mutations per session, so concurrent senders interleave at message
// granularity and sequence numbers never collide.
//
// Sessions handed out by the store are immutable snapshots. Mutations
// clone the current snapshot, persist durably, and only then publish
// the clone to the cache; readers never observe a half-applied change
// and an acked write is never lost to a cache eviction.
package store

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/real-rm/golog"

	"github.com/real-rm/supportchat/internal/constants"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/metrics"
	"github.com/real-rm/supportchat/internal/session"
)

// ErrStoreUnavailable is returned when the durable repository fails or
// times out. The write is not acknowledged and is not retried here.
var ErrStoreUnavailable = errors.New("session store unavailable")

// lockStripes is the number of per-session serialization stripes
const lockStripes = 64

// SessionRepository is the durable backend the store writes through to.
// Implementations return errors satisfying session.ErrSessionNotFound
// when no document exists; any other error is treated as an outage.
type SessionRepository interface {
	CreateSession(sess *session.Session) error
	GetSession(sessionID string) (*session.Session, error)
	AppendMessage(sessionID string, msg message.Message) error
	AppendAgentMessage(sessionID string, msg message.Message, agentID string) error
	UpdateSession(sess *session.Session) error
	ListActiveSessions(limit int) ([]*session.Session, error)
}

// Store coordinates cached reads and durable writes for chat sessions
type Store struct {
	repo   SessionRepository
	cache  *cache.Cache
	logger *golog.Logger
	locks  [lockStripes]sync.Mutex
}

// New creates a session store over the given repository
func New(repo SessionRepository, logger *golog.Logger) *Store {
	return &Store{
		repo:   repo,
		cache:  cache.New(constants.SessionCacheTTL, constants.SessionCachePurge),
		logger: logger,
	}
}

// lockFor maps a session id onto its serialization stripe
func (s *Store) lockFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &s.locks[h.Sum32()%lockStripes]
}

// LoadSession returns the current snapshot of a session, from cache when
// warm, falling back to the durable repository.
func (s *Store) LoadSession(sessionID string) (*session.Session, error) {
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return nil, session.ErrInvalidSessionID
	}

	// Fast path: cached snapshot
	if x, found := s.cache.Get(sessionID); found {
		return x.(*session.Session), nil
	}

	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	return s.loadLocked(sessionID)
}

// LoadCanonical re-reads the session from the durable repository,
// refreshing the cache. Agent joins and agent messages use this so an
// agent always acts on persisted state, not a possibly stale snapshot.
func (s *Store) LoadCanonical(sessionID string) (*session.Session, error) {
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return nil, session.ErrInvalidSessionID
	}

	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.repo.GetSession(sessionID)
	if err != nil {
		return nil, s.storeErr("load_canonical", sessionID, err)
	}

	s.cache.Set(sessionID, sess, cache.DefaultExpiration)
	return sess, nil
}

// GetOrCreate returns the session with the given id, creating and
// persisting a fresh one when none exists. The second return reports
// whether a session was created.
func (s *Store) GetOrCreate(sessionID, userIdentifier string, now time.Time) (*session.Session, bool, error) {
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return nil, false, session.ErrInvalidSessionID
	}

	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.loadLocked(sessionID)
	if err == nil {
		return sess, false, nil
	}
	// Only an explicit miss may create; an outage must not fork a session
	if !errors.Is(err, session.ErrSessionNotFound) {
		return nil, false, err
	}

	sess = session.New(sessionID, userIdentifier, now)
	if err := s.repo.CreateSession(sess); err != nil {
		return nil, false, s.storeErr("create_session", sessionID, err)
	}

	s.cache.Set(sessionID, sess, cache.DefaultExpiration)
	metrics.SessionsCreated.Inc()
	metrics.ActiveSessions.Inc()

	s.logger.Info("Session created",
		"session_id", sessionID,
		"user_identifier", userIdentifier)

	return sess, true, nil
}

// AppendMessage assigns the next sequence number, persists the message
// durably, and publishes the updated snapshot. The returned message is
// the exact immutable record that was acknowledged; callers must not
// deliver or ack anything before this returns nil.
func (s *Store) AppendMessage(sessionID, text string, sender message.Sender, now time.Time) (*session.Session, message.Message, error) {
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return nil, message.Message{}, session.ErrInvalidSessionID
	}

	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.loadLocked(sessionID)
	if err != nil {
		return nil, message.Message{}, err
	}

	// No else needed: early return pattern (guard clause)
	if sess.Status.Terminal() {
		return nil, message.Message{}, fmt.Errorf("%w: %s", session.ErrSessionResolved, sessionID)
	}

	msg := message.New(sessionID, sess.NextSeq(), text, sender, now)

	clone := sess.Clone()
	if err := clone.AppendMessage(msg); err != nil {
		return nil, message.Message{}, err
	}

	// Durable write first; the cache only sees acknowledged state
	if err := s.repo.AppendMessage(sessionID, msg); err != nil {
		return nil, message.Message{}, s.storeErr("append_message", sessionID, err)
	}

	s.cache.Set(sessionID, clone, cache.DefaultExpiration)
	metrics.MessagesRouted.WithLabelValues(string(sender)).Inc()

	return clone, msg, nil
}

// AppendFromAgent appends an agent reply and staffs the session in one
// durable write: the session becomes active, escalated, and assigned to
// the agent. Reassignment is deliberate, the most recent responding
// agent owns the session.
func (s *Store) AppendFromAgent(sessionID, text, agentID string, now time.Time) (*session.Session, message.Message, error) {
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return nil, message.Message{}, session.ErrInvalidSessionID
	}
	// No else needed: early return pattern (guard clause)
	if agentID == "" {
		return nil, message.Message{}, session.ErrAgentRequired
	}

	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.loadLocked(sessionID)
	if err != nil {
		return nil, message.Message{}, err
	}

	// No else needed: early return pattern (guard clause)
	if sess.Status.Terminal() {
		return nil, message.Message{}, fmt.Errorf("%w: %s", session.ErrSessionResolved, sessionID)
	}

	msg := message.New(sessionID, sess.NextSeq(), text, message.SenderAgent, now)

	clone := sess.Clone()
	if err := clone.SetStatus(session.StatusActive, agentID); err != nil {
		return nil, message.Message{}, err
	}
	if err := clone.AppendMessage(msg); err != nil {
		return nil, message.Message{}, err
	}

	// Durable write first; the cache only sees acknowledged state
	if err := s.repo.AppendAgentMessage(sessionID, msg, agentID); err != nil {
		return nil, message.Message{}, s.storeErr("append_agent_message", sessionID, err)
	}

	s.cache.Set(sessionID, clone, cache.DefaultExpiration)
	metrics.MessagesRouted.WithLabelValues(string(message.SenderAgent)).Inc()

	return clone, msg, nil
}

// UpdateStatus applies a status change through the session state machine
// and persists it. Invalid transitions are rejected before any write.
func (s *Store) UpdateStatus(sessionID string, to session.Status, agentID string) (*session.Session, error) {
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return nil, session.ErrInvalidSessionID
	}

	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.loadLocked(sessionID)
	if err != nil {
		return nil, err
	}

	clone := sess.Clone()
	if err := clone.SetStatus(to, agentID); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateSession(clone); err != nil {
		return nil, s.storeErr("update_status", sessionID, err)
	}

	s.cache.Set(sessionID, clone, cache.DefaultExpiration)
	return clone, nil
}

// Escalate marks a session as requiring human handling and persists the
// change. Already-staffed sessions keep their agent and status; resolved
// sessions reject the escalation.
func (s *Store) Escalate(sessionID string) (*session.Session, error) {
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return nil, session.ErrInvalidSessionID
	}

	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.loadLocked(sessionID)
	if err != nil {
		return nil, err
	}

	clone := sess.Clone()
	if err := clone.Escalate(); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateSession(clone); err != nil {
		return nil, s.storeErr("escalate", sessionID, err)
	}

	s.cache.Set(sessionID, clone, cache.DefaultExpiration)
	metrics.Escalations.Inc()

	return clone, nil
}

// Close resolves a session. Closing a missing session is an error;
// closing an already resolved one is a no-op success.
func (s *Store) Close(sessionID string) (*session.Session, error) {
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return nil, session.ErrInvalidSessionID
	}

	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.loadLocked(sessionID)
	if err != nil {
		return nil, err
	}

	// No else needed: early return pattern (already resolved, idempotent)
	if sess.Status.Terminal() {
		return sess, nil
	}

	clone := sess.Clone()
	if err := clone.SetStatus(session.StatusResolved, ""); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateSession(clone); err != nil {
		return nil, s.storeErr("close", sessionID, err)
	}

	s.cache.Set(sessionID, clone, cache.DefaultExpiration)
	metrics.SessionsResolved.Inc()
	metrics.ActiveSessions.Dec()

	s.logger.Info("Session resolved", "session_id", sessionID)

	return clone, nil
}

// ListActiveSessions returns summaries of sessions awaiting or receiving
// live handling, most recently active first.
func (s *Store) ListActiveSessions(limit int) ([]session.Summary, error) {
	sessions, err := s.repo.ListActiveSessions(limit)
	if err != nil {
		return nil, s.storeErr("list_active_sessions", "", err)
	}

	summaries := make([]session.Summary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, sess.Summary())
	}
	return summaries, nil
}

// MessagesSince returns a session's messages newer than the given time,
// for transcript recovery after a reconnect. A zero time returns the
// full transcript.
func (s *Store) MessagesSince(sessionID string, since time.Time) ([]message.Message, error) {
	sess, err := s.LoadSession(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.MessagesSince(since), nil
}

// loadLocked resolves the current snapshot with the stripe already held:
// cache first, then the repository, caching what it finds.
func (s *Store) loadLocked(sessionID string) (*session.Session, error) {
	if x, found := s.cache.Get(sessionID); found {
		return x.(*session.Session), nil
	}

	sess, err := s.repo.GetSession(sessionID)
	if err != nil {
		return nil, s.storeErr("get_session", sessionID, err)
	}

	s.cache.Set(sessionID, sess, cache.DefaultExpiration)
	return sess, nil
}

// storeErr classifies repository errors: a domain miss passes through,
// anything else counts as an outage and is wrapped in ErrStoreUnavailable.
func (s *Store) storeErr(operation, sessionID string, err error) error {
	if errors.Is(err, session.ErrSessionNotFound) {
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, sessionID)
	}

	metrics.StoreFailures.Inc()
	s.logger.Error("Durable store operation failed",
		"operation", operation,
		"session_id", sessionID,
		"error", err)

	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, operation, err)
}
