package broker

import (
	"fmt"
	"time"

	"github.com/real-rm/supportchat/internal/constants"
	chaterrors "github.com/real-rm/supportchat/internal/errors"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/registry"
	"github.com/real-rm/supportchat/internal/util"
)

// Escalate hands a session to human support. The session is created if
// it does not exist yet, marked escalated, and moved to pending unless
// an agent is already working it. The request itself lands in the
// transcript as a user-authored audit message, so the handling agent
// sees why the session reached them.
func (b *Broker) Escalate(conn registry.Conn, sessionID, userIdentifier, reason string) error {
	// No else needed: early return pattern (guard clause)
	if conn == nil {
		return ErrNilConnection
	}
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return chaterrors.ErrMissingField("session_id")
	}

	now := time.Now()

	_, _, err := b.store.GetOrCreate(sessionID, userIdentifier, now)
	if err != nil {
		return toChatError(sessionID, err)
	}

	sess, err := b.store.Escalate(sessionID)
	if err != nil {
		return toChatError(sessionID, err)
	}

	// Audit trail: the request becomes part of the transcript
	if _, _, err := b.store.AppendMessage(sessionID, escalationAuditText(reason), message.SenderUser, now); err != nil {
		return toChatError(sessionID, err)
	}

	// No else needed: conditional assignment, value already set if condition is false
	identifier := sess.UserIdentifier
	if identifier == "" {
		identifier = userIdentifier
	}

	b.logger.Info("Session escalated",
		"session_id", sessionID,
		"status", sess.Status,
		"assigned_agent_id", sess.AssignedAgentID)

	b.broadcastToAgents(message.EscalationRequest(sessionID, identifier, reason, now))

	// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
	if err := b.BroadcastActiveSessions(); err != nil {
		b.logger.Warn("Failed to broadcast session list", "error", err)
	}

	// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
	if err := b.sendToConn(conn, message.EscalationConfirmed(sessionID, constants.EscalationConfirmation)); err != nil {
		b.logger.Warn("Failed to confirm escalation",
			"session_id", sessionID,
			"connection_id", conn.ID(),
			"error", err)
	}

	b.notifyEscalation(sessionID, identifier, reason)
	return nil
}

// CloseSession resolves a session. Closing a missing session is an
// error; closing an already resolved one succeeds without a new write.
// Agent dashboards are refreshed so the session drops off their lists.
func (b *Broker) CloseSession(sessionID, agentID string) error {
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return chaterrors.ErrMissingField("session_id")
	}

	sess, err := b.store.Close(sessionID)
	if err != nil {
		return toChatError(sessionID, err)
	}

	b.logger.Info("Session closed",
		"session_id", sessionID,
		"closed_by", agentID,
		"message_count", sess.MessageCount())

	// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
	if err := b.BroadcastActiveSessions(); err != nil {
		b.logger.Warn("Failed to broadcast session list", "error", err)
	}

	return nil
}

// notifyEscalation fires the escalation alert without blocking the chat
// path. Alert failures are logged and never surface to the requester.
func (b *Broker) notifyEscalation(sessionID, userIdentifier, reason string) {
	// No else needed: optional operation (fire-and-forget), only send if service is available
	if b.notifier == nil {
		return
	}

	brokerCtx := b.ctx
	util.SafeGo(b.logger, "escalationNotification", func() {
		// Skip when the broker is shutting down
		if brokerCtx.Err() != nil {
			return
		}
		if err := b.notifier.NotifyEscalation(sessionID, userIdentifier, reason); err != nil {
			util.LogError(b.logger, "broker", "send escalation notification", err,
				"session_id", sessionID)
		}
	})
}

// escalationAuditText formats the transcript entry for an escalation request
func escalationAuditText(reason string) string {
	// No else needed: early return pattern (guard clause)
	if reason == "" {
		return constants.EscalationAuditPrefix
	}
	return fmt.Sprintf("%s: %s", constants.EscalationAuditPrefix, reason)
}
