package broker

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/supportchat/internal/constants"
	chaterrors "github.com/real-rm/supportchat/internal/errors"
	"github.com/real-rm/supportchat/internal/events"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/registry"
	"github.com/real-rm/supportchat/internal/session"
	"github.com/real-rm/supportchat/internal/store"
)

// waitForAlert blocks until the notifier fires or the test times out.
func waitForAlert(t *testing.T, n *fakeNotifier) escalationAlert {
	t.Helper()
	select {
	case alert := <-n.fired:
		return alert
	case <-time.After(2 * time.Second):
		t.Fatal("escalation alert never fired")
		return escalationAlert{}
	}
}

func TestEscalate(t *testing.T) {
	t.Run("moves the session to pending and alerts the floor", func(t *testing.T) {
		tb := newTestBroker(t)
		user := newFakeConn("conn-user")
		agent1 := newFakeConn("conn-agent-1")
		agent2 := newFakeConn("conn-agent-2")
		require.NoError(t, tb.broker.HandleUserJoin(user, "session-1", "user@example.com"))
		require.NoError(t, tb.broker.HandleAgentJoin(agent1, "agent-1", ""))
		require.NoError(t, tb.broker.HandleAgentJoin(agent2, "agent-2", ""))

		require.NoError(t, tb.broker.Escalate(user, "session-1", "user@example.com", "billing dispute"))

		confirmations := user.envelopesOfType(t, message.TypeEscalationConfirmed)
		require.Len(t, confirmations, 1)
		var confirmed struct {
			SessionID    string `json:"session_id"`
			Confirmation string `json:"confirmation"`
		}
		require.NoError(t, json.Unmarshal(confirmations[0].Data, &confirmed))
		assert.Equal(t, "session-1", confirmed.SessionID)
		assert.Equal(t, constants.EscalationConfirmation, confirmed.Confirmation)

		for _, agent := range []*fakeConn{agent1, agent2} {
			requests := agent.envelopesOfType(t, message.TypeEscalationRequest)
			require.Len(t, requests, 1)
			var request struct {
				SessionID      string    `json:"session_id"`
				UserIdentifier string    `json:"user_identifier"`
				Reason         string    `json:"reason"`
				RequestedAt    time.Time `json:"requested_at"`
			}
			require.NoError(t, json.Unmarshal(requests[0].Data, &request))
			assert.Equal(t, "session-1", request.SessionID)
			assert.Equal(t, "user@example.com", request.UserIdentifier)
			assert.Equal(t, "billing dispute", request.Reason)
			assert.False(t, request.RequestedAt.IsZero())

			// Dashboards refresh alongside the targeted alert
			assert.NotEmpty(t, agent.envelopesOfType(t, message.TypeActiveSessions))
		}

		stored, err := tb.repo.GetSession("session-1")
		require.NoError(t, err)
		assert.Equal(t, session.StatusPendingAgent, stored.Status)
		assert.True(t, stored.Escalated)
		assert.Empty(t, stored.AssignedAgentID)
		require.Len(t, stored.Messages, 1)
		assert.Equal(t, message.SenderUser, stored.Messages[0].Sender)
		assert.Equal(t, constants.EscalationAuditPrefix+": billing dispute", stored.Messages[0].Text)

		alert := waitForAlert(t, tb.notifier)
		assert.Equal(t, "session-1", alert.sessionID)
		assert.Equal(t, "user@example.com", alert.userIdentifier)
		assert.Equal(t, "billing dispute", alert.reason)
	})

	t.Run("creates the session when escalation arrives first", func(t *testing.T) {
		tb := newTestBroker(t)
		user := newFakeConn("conn-user")

		require.NoError(t, tb.broker.Escalate(user, "session-1", "user@example.com", "urgent"))

		stored, err := tb.repo.GetSession("session-1")
		require.NoError(t, err)
		assert.Equal(t, session.StatusPendingAgent, stored.Status)
		assert.Equal(t, "user@example.com", stored.UserIdentifier)
	})

	t.Run("an empty reason stays terse in the transcript", func(t *testing.T) {
		tb := newTestBroker(t)
		user := newFakeConn("conn-user")

		require.NoError(t, tb.broker.Escalate(user, "session-1", "", ""))

		stored, err := tb.repo.GetSession("session-1")
		require.NoError(t, err)
		require.Len(t, stored.Messages, 1)
		assert.Equal(t, constants.EscalationAuditPrefix, stored.Messages[0].Text)
	})

	t.Run("staffed sessions keep their agent", func(t *testing.T) {
		tb := newTestBroker(t)
		user := newFakeConn("conn-user")
		agent := newFakeConn("conn-agent")
		require.NoError(t, tb.broker.HandleUserMessage(user, "session-1", "hello", ""))
		require.NoError(t, tb.broker.HandleAgentMessage(agent, "session-1", "what can I do?", "agent-1"))

		require.NoError(t, tb.broker.Escalate(user, "session-1", "", "still stuck"))

		stored, err := tb.repo.GetSession("session-1")
		require.NoError(t, err)
		assert.Equal(t, session.StatusActive, stored.Status)
		assert.Equal(t, "agent-1", stored.AssignedAgentID)
		assert.True(t, stored.Escalated)
	})

	t.Run("resolved sessions cannot escalate", func(t *testing.T) {
		tb := newTestBroker(t)
		user := newFakeConn("conn-user")
		require.NoError(t, tb.broker.HandleUserMessage(user, "session-1", "hello", ""))
		require.NoError(t, tb.broker.CloseSession("session-1", "agent-1"))

		err := tb.broker.Escalate(user, "session-1", "", "reopen please")
		assertChatErrorCode(t, err, chaterrors.ErrCodeSessionClosed)
	})

	t.Run("a failing notifier does not break the flow", func(t *testing.T) {
		tb := newTestBroker(t)
		tb.notifier.err = errors.New("smtp connection refused")
		user := newFakeConn("conn-user")

		require.NoError(t, tb.broker.Escalate(user, "session-1", "", "help"))

		waitForAlert(t, tb.notifier)
		assert.Len(t, user.envelopesOfType(t, message.TypeEscalationConfirmed), 1)
	})

	t.Run("a nil notifier is tolerated", func(t *testing.T) {
		logger := setupTestLogger(t)
		st := store.New(newFakeRepo(), logger)
		reg := registry.New(logger)
		bus := events.NewBus(nil, "", logger)
		b := New(st, reg, bus, nil, logger)
		b.Start()
		t.Cleanup(b.Shutdown)

		user := newFakeConn("conn-user")
		require.NoError(t, b.Escalate(user, "session-1", "", "help"))
		assert.Len(t, user.envelopesOfType(t, message.TypeEscalationConfirmed), 1)
	})

	t.Run("nil connection is rejected", func(t *testing.T) {
		tb := newTestBroker(t)
		assert.ErrorIs(t, tb.broker.Escalate(nil, "session-1", "", ""), ErrNilConnection)
	})

	t.Run("missing session id is rejected", func(t *testing.T) {
		tb := newTestBroker(t)
		err := tb.broker.Escalate(newFakeConn("conn-1"), "", "", "")
		assertChatErrorCode(t, err, chaterrors.ErrCodeMissingField)
	})
}

func TestCloseSession(t *testing.T) {
	t.Run("resolves the session and clears the dashboards", func(t *testing.T) {
		tb := newTestBroker(t)
		user := newFakeConn("conn-user")
		require.NoError(t, tb.broker.HandleUserMessage(user, "session-1", "hello", ""))

		agent := newFakeConn("conn-agent")
		require.NoError(t, tb.broker.HandleAgentJoin(agent, "agent-1", ""))

		require.NoError(t, tb.broker.CloseSession("session-1", "agent-1"))

		stored, err := tb.repo.GetSession("session-1")
		require.NoError(t, err)
		assert.Equal(t, session.StatusResolved, stored.Status)

		lists := agent.envelopesOfType(t, message.TypeActiveSessions)
		require.GreaterOrEqual(t, len(lists), 2)
		var payload struct {
			Sessions []session.Summary `json:"sessions"`
		}
		require.NoError(t, json.Unmarshal(lists[len(lists)-1].Data, &payload))
		assert.Empty(t, payload.Sessions)
	})

	t.Run("closing twice is idempotent", func(t *testing.T) {
		tb := newTestBroker(t)
		user := newFakeConn("conn-user")
		require.NoError(t, tb.broker.HandleUserMessage(user, "session-1", "hello", ""))

		require.NoError(t, tb.broker.CloseSession("session-1", "agent-1"))
		require.NoError(t, tb.broker.CloseSession("session-1", "agent-1"))
	})

	t.Run("missing sessions cannot be closed", func(t *testing.T) {
		tb := newTestBroker(t)
		err := tb.broker.CloseSession("ghost", "agent-1")
		assertChatErrorCode(t, err, chaterrors.ErrCodeUnknownSession)
	})

	t.Run("missing session id is rejected", func(t *testing.T) {
		tb := newTestBroker(t)
		err := tb.broker.CloseSession("", "agent-1")
		assertChatErrorCode(t, err, chaterrors.ErrCodeMissingField)
	})
}
