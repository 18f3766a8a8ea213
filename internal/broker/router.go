package broker

import (
	"errors"
	"strings"
	"time"

	"github.com/real-rm/supportchat/internal/constants"
	chaterrors "github.com/real-rm/supportchat/internal/errors"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/metrics"
	"github.com/real-rm/supportchat/internal/registry"
	"github.com/real-rm/supportchat/internal/session"
)

// HandleUserJoin binds a user connection to a session. The newest
// connection for a session wins; any prior one is evicted silently.
// Joining does not create the session, so a bare join stays cheap and
// abandoned widget loads leave nothing behind. When the session exists
// its full transcript is replayed, which doubles as missed-message
// recovery after a reconnect.
func (b *Broker) HandleUserJoin(conn registry.Conn, sessionID, userIdentifier string) error {
	// No else needed: early return pattern (guard clause)
	if conn == nil {
		return ErrNilConnection
	}
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return chaterrors.ErrMissingField("session_id")
	}

	if err := b.registry.RegisterUser(sessionID, conn); err != nil {
		return err
	}

	// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
	if err := b.sendToConn(conn, message.Connected(conn.ID(), message.RoleUser, sessionID)); err != nil {
		b.logger.Warn("Failed to send connected ack",
			"session_id", sessionID,
			"connection_id", conn.ID(),
			"error", err)
	}

	sess, err := b.store.LoadSession(sessionID)
	if err != nil {
		// No else needed: early return pattern (guard clause)
		if errors.Is(err, session.ErrSessionNotFound) {
			// Joined ahead of the first message; the session is created
			// lazily when the user sends or escalates
			b.logger.Debug("User joined before session exists",
				"session_id", sessionID,
				"connection_id", conn.ID())
			return nil
		}
		return toChatError(sessionID, err)
	}

	// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
	if err := b.sendToConn(conn, message.NewOutbound(message.TypeSessionData, sessionPayload{Session: sess})); err != nil {
		b.logger.Warn("Failed to replay transcript",
			"session_id", sessionID,
			"connection_id", conn.ID(),
			"error", err)
	}

	b.logger.Info("User joined session",
		"session_id", sessionID,
		"connection_id", conn.ID(),
		"message_count", sess.MessageCount())
	return nil
}

// HandleUserMessage persists a user message and routes it. The ack to
// the sender carries the stored message with its server-assigned id and
// timestamp, and is only sent after the durable write; a store failure
// means no ack, and the client may retry the same text.
func (b *Broker) HandleUserMessage(conn registry.Conn, sessionID, text, userIdentifier string) error {
	// No else needed: early return pattern (guard clause)
	if conn == nil {
		return ErrNilConnection
	}
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return chaterrors.ErrMissingField("session_id")
	}

	now := time.Now()

	sess, created, err := b.store.GetOrCreate(sessionID, userIdentifier, now)
	if err != nil {
		return toChatError(sessionID, err)
	}

	// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
	if created {
		if err := b.BroadcastActiveSessions(); err != nil {
			b.logger.Warn("Failed to broadcast session list", "error", err)
		}
	}

	// No else needed: early return pattern (guard clause)
	if sess.Status.Terminal() {
		return chaterrors.ErrSessionClosed(sessionID)
	}

	// Blank input is dropped without an ack or a transcript entry
	if strings.TrimSpace(text) == "" {
		b.logger.Debug("Skipping blank user message", "session_id", sessionID)
		return nil
	}

	updated, msg, err := b.store.AppendMessage(sessionID, text, message.SenderUser, now)
	if err != nil {
		return toChatError(sessionID, err)
	}

	// Ack only after the durable write
	// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
	if err := b.sendToConn(conn, message.MessageSent(msg)); err != nil {
		b.logger.Warn("Failed to ack user message",
			"session_id", sessionID,
			"connection_id", conn.ID(),
			"error", err)
	}

	switch {
	case updated.Escalated && updated.AssignedAgentID != "":
		// Staffed: only the assigned agent hears about it. With no live
		// connection the message stays persisted-only until the agent
		// reconnects or polls.
		b.sendToAgent(updated.AssignedAgentID, message.NewUserMessage(msg))
	case updated.Escalated:
		// Awaiting an agent: every agent sees it, first to respond claims it
		b.broadcastToAgents(message.NewUserMessage(msg))
	default:
		b.autoReply(sessionID)
	}

	return nil
}

// HandleAgentJoin registers an agent connection and primes its
// dashboard. With a session id the agent also claims that session:
// pending sessions become active under this agent. Resolved sessions
// replay their transcript but are no longer claimable.
func (b *Broker) HandleAgentJoin(conn registry.Conn, agentID, sessionID string) error {
	// No else needed: early return pattern (guard clause)
	if conn == nil {
		return ErrNilConnection
	}
	// No else needed: early return pattern (guard clause)
	if agentID == "" {
		return chaterrors.ErrMissingField("agent_id")
	}

	if err := b.registry.RegisterAgent(agentID, conn); err != nil {
		return err
	}

	// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
	if err := b.sendToConn(conn, message.Connected(conn.ID(), message.RoleAgent, sessionID)); err != nil {
		b.logger.Warn("Failed to send connected ack",
			"agent_id", agentID,
			"connection_id", conn.ID(),
			"error", err)
	}

	// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
	if err := b.sendSessionList(conn); err != nil {
		b.logger.Warn("Failed to send session list",
			"agent_id", agentID,
			"connection_id", conn.ID(),
			"error", err)
	}

	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		b.logger.Info("Agent connected",
			"agent_id", agentID,
			"connection_id", conn.ID())
		return nil
	}

	// Agents act on persisted state, never a stale cache entry
	canonical, err := b.store.LoadCanonical(sessionID)
	if err != nil {
		return toChatError(sessionID, err)
	}

	// No else needed: early return pattern (guard clause)
	if canonical.Status.Terminal() {
		// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
		if err := b.sendToConn(conn, message.NewOutbound(message.TypeSessionData, sessionPayload{Session: canonical})); err != nil {
			b.logger.Warn("Failed to send resolved transcript",
				"session_id", sessionID,
				"agent_id", agentID,
				"error", err)
		}
		return nil
	}

	claimed, err := b.store.UpdateStatus(sessionID, session.StatusActive, agentID)
	if err != nil {
		return toChatError(sessionID, err)
	}

	metrics.AgentJoins.Inc()
	b.logger.Info("Agent joined session",
		"session_id", sessionID,
		"agent_id", agentID,
		"connection_id", conn.ID())

	// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
	if err := b.sendToConn(conn, message.NewOutbound(message.TypeSessionData, sessionPayload{Session: claimed})); err != nil {
		b.logger.Warn("Failed to send session transcript",
			"session_id", sessionID,
			"agent_id", agentID,
			"error", err)
	}

	// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
	if err := b.BroadcastActiveSessions(); err != nil {
		b.logger.Warn("Failed to broadcast session list", "error", err)
	}

	return nil
}

// HandleAgentMessage persists an agent reply against the canonical
// session state and staffs the session in the same durable write. The
// most recent responding agent owns the session.
func (b *Broker) HandleAgentMessage(conn registry.Conn, sessionID, text, agentID string) error {
	// No else needed: early return pattern (guard clause)
	if conn == nil {
		return ErrNilConnection
	}
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return chaterrors.ErrMissingField("session_id")
	}
	// No else needed: early return pattern (guard clause)
	if agentID == "" {
		return chaterrors.ErrMissingField("agent_id")
	}
	// No else needed: early return pattern (guard clause)
	if strings.TrimSpace(text) == "" {
		return chaterrors.ErrMissingField("text")
	}

	// Agents act on persisted state, never a stale cache entry
	canonical, err := b.store.LoadCanonical(sessionID)
	if err != nil {
		return toChatError(sessionID, err)
	}
	// No else needed: early return pattern (guard clause)
	if canonical.Status.Terminal() {
		return chaterrors.ErrSessionClosed(sessionID)
	}

	firstAssignment := canonical.AssignedAgentID == ""

	_, msg, err := b.store.AppendFromAgent(sessionID, text, agentID, time.Now())
	if err != nil {
		return toChatError(sessionID, err)
	}

	// No else needed: optional operation (only a fresh claim counts as a join)
	if firstAssignment {
		metrics.AgentJoins.Inc()
		b.logger.Info("Agent claimed session",
			"session_id", sessionID,
			"agent_id", agentID)
	}

	// Ack only after the durable write
	// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
	if err := b.sendToConn(conn, message.MessageSent(msg)); err != nil {
		b.logger.Warn("Failed to ack agent message",
			"session_id", sessionID,
			"connection_id", conn.ID(),
			"error", err)
	}

	b.sendToUser(sessionID, message.MessageReceived(msg))

	// Assignment and recency changed; refresh agent dashboards
	// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
	if err := b.BroadcastActiveSessions(); err != nil {
		b.logger.Warn("Failed to broadcast session list", "error", err)
	}

	return nil
}

// autoReply appends the canned acknowledgement and delivers it to the
// user. Runs only before escalation; the user's own message is already
// acked, so a failure here is logged and swallowed.
func (b *Broker) autoReply(sessionID string) {
	_, reply, err := b.store.AppendMessage(sessionID, constants.BotAcknowledgement, message.SenderBot, time.Now())
	// No else needed: early return pattern (guard clause)
	if err != nil {
		b.logger.Warn("Failed to append automated reply",
			"session_id", sessionID,
			"error", err)
		return
	}

	b.sendToUser(sessionID, message.MessageReceived(reply))
}
