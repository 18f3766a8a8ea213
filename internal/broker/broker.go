// Package broker is the routing core of the chat service. It moves
// messages between user and agent connections, drives session state
// through the store, and fans deliveries out across processes through
// the event bus. Handlers mutate sessions durably before any
// acknowledgement or delivery leaves the process.
package broker

import (
	"context"
	"errors"

	"github.com/real-rm/golog"

	chaterrors "github.com/real-rm/supportchat/internal/errors"
	"github.com/real-rm/supportchat/internal/events"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/metrics"
	"github.com/real-rm/supportchat/internal/registry"
	"github.com/real-rm/supportchat/internal/session"
	"github.com/real-rm/supportchat/internal/store"
	"github.com/real-rm/supportchat/internal/util"
)

var (
	// ErrNilConnection is returned when a nil connection is provided
	ErrNilConnection = errors.New("connection cannot be nil")
)

// Notifier alerts the support team about escalations (interface here to
// avoid a circular dependency on the notification package).
type Notifier interface {
	NotifyEscalation(sessionID, userIdentifier, reason string) error
}

// Broker routes chat traffic between connections, the session store,
// and peer processes. It implements events.Sink: frames published by
// peers are applied to the local registry through the same delivery
// helpers used for local traffic.
type Broker struct {
	store    *store.Store
	registry *registry.Registry
	bus      *events.Bus
	notifier Notifier
	logger   *golog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a broker. The notifier may be nil when no alert channel
// is configured; escalations then log instead of notifying.
func New(st *store.Store, reg *registry.Registry, bus *events.Bus, notifier Notifier, logger *golog.Logger) *Broker {
	ctx, cancel := context.WithCancel(context.Background())

	return &Broker{
		store:    st,
		registry: reg,
		bus:      bus,
		notifier: notifier,
		logger:   logger.WithGroup("broker"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes the broker to the event bus so frames published by
// peer processes reach this process's connections.
func (b *Broker) Start() {
	b.bus.Start(b)
}

// Shutdown stops background work. In-flight handler calls finish; the
// escalation notifier stops firing for new work.
func (b *Broker) Shutdown() {
	b.cancel()
	// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
	if err := b.bus.Close(); err != nil {
		b.logger.Warn("Event bus close failed", "error", err)
	}
}

// DeliverUser applies a peer-published user delivery to the local
// registry. Part of the events.Sink contract; local sends do not pass
// through here.
func (b *Broker) DeliverUser(sessionID string, frame []byte) {
	b.deliverUserLocal(sessionID, frame)
}

// DeliverAgent applies a peer-published agent delivery to the local registry.
func (b *Broker) DeliverAgent(agentID string, frame []byte) {
	b.deliverAgentLocal(agentID, frame)
}

// BroadcastAgents applies a peer-published agent broadcast to the local registry.
func (b *Broker) BroadcastAgents(frame []byte) {
	b.broadcastAgentsLocal(frame)
}

// deliverUserLocal enqueues a frame on the session's live user
// connection, if one is registered. A missing connection is not an
// error: the message is already durable and transcript replay on the
// next join delivers it.
func (b *Broker) deliverUserLocal(sessionID string, frame []byte) {
	conn, ok := b.registry.LookupUser(sessionID)
	// No else needed: early return pattern (guard clause)
	if !ok {
		return
	}

	// No else needed: early return pattern (guard clause)
	if !conn.Enqueue(frame) {
		metrics.DroppedDeliveries.Inc()
		b.logger.Warn("User send queue full, frame dropped",
			"session_id", sessionID,
			"connection_id", conn.ID())
		return
	}
	metrics.MessagesDelivered.Inc()
}

// deliverAgentLocal enqueues a frame on every live connection of one
// agent (an agent may hold several tabs).
func (b *Broker) deliverAgentLocal(agentID string, frame []byte) {
	for _, conn := range b.registry.AgentConnections(agentID) {
		if !conn.Enqueue(frame) {
			metrics.DroppedDeliveries.Inc()
			b.logger.Warn("Agent send queue full, frame dropped",
				"agent_id", agentID,
				"connection_id", conn.ID())
			continue
		}
		metrics.MessagesDelivered.Inc()
	}
}

// broadcastAgentsLocal enqueues a frame on every live agent connection.
func (b *Broker) broadcastAgentsLocal(frame []byte) {
	for _, conn := range b.registry.AllAgentConnections() {
		if !conn.Enqueue(frame) {
			metrics.DroppedDeliveries.Inc()
			continue
		}
		metrics.MessagesDelivered.Inc()
	}
}

// sendToUser delivers an envelope to a session's user connection here
// and on every peer process. Local delivery happens first; the publish
// is best-effort.
func (b *Broker) sendToUser(sessionID string, env message.Outbound) {
	frame, err := util.MarshalJSON(env)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(b.logger, "broker", "marshal user envelope", err, "session_id", sessionID)
		return
	}

	b.deliverUserLocal(sessionID, frame)
	b.bus.PublishUser(sessionID, frame)
}

// sendToAgent delivers an envelope to one agent's connections here and
// on every peer process.
func (b *Broker) sendToAgent(agentID string, env message.Outbound) {
	frame, err := util.MarshalJSON(env)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(b.logger, "broker", "marshal agent envelope", err, "agent_id", agentID)
		return
	}

	b.deliverAgentLocal(agentID, frame)
	b.bus.PublishAgent(agentID, frame)
}

// broadcastToAgents delivers an envelope to every live agent connection
// here and on every peer process.
func (b *Broker) broadcastToAgents(env message.Outbound) {
	frame, err := util.MarshalJSON(env)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(b.logger, "broker", "marshal broadcast envelope", err)
		return
	}

	metrics.Broadcasts.Inc()
	b.broadcastAgentsLocal(frame)
	b.bus.PublishBroadcast(frame)
}

// sendToConn enqueues an envelope on one specific connection. Acks and
// replays target the originating connection, never its session or
// identity, so they stay off the event bus.
func (b *Broker) sendToConn(conn registry.Conn, env message.Outbound) error {
	frame, err := util.MarshalJSON(env)
	if err != nil {
		return err
	}

	// No else needed: early return pattern (guard clause)
	if !conn.Enqueue(frame) {
		metrics.DroppedDeliveries.Inc()
		return errors.New("send queue full or closing")
	}

	metrics.MessagesDelivered.Inc()
	return nil
}

// SendError reports a handler failure to the offending connection as an
// error envelope. The connection stays open; per-message errors never
// tear down the transport.
func (b *Broker) SendError(conn registry.Conn, err error) {
	// No else needed: early return pattern (guard clause)
	if conn == nil || err == nil {
		return
	}

	metrics.MessageErrors.Inc()

	var chatErr *chaterrors.ChatError
	// No else needed: conditional assignment, value already set if condition is false
	if !errors.As(err, &chatErr) {
		chatErr = chaterrors.ErrStoreFailure(err)
	}

	// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
	if sendErr := b.sendToConn(conn, message.ErrorEnvelope(chatErr.ToErrorInfo())); sendErr != nil {
		b.logger.Warn("Failed to deliver error envelope",
			"connection_id", conn.ID(),
			"code", chatErr.Code,
			"error", sendErr)
	}
}

// toChatError maps store and session errors onto wire error codes.
// Anything unrecognized is treated as a store outage: the caller's
// write was not acknowledged.
func toChatError(sessionID string, err error) *chaterrors.ChatError {
	var chatErr *chaterrors.ChatError
	switch {
	case errors.As(err, &chatErr):
		return chatErr
	case errors.Is(err, session.ErrSessionResolved):
		return chaterrors.ErrSessionClosed(sessionID)
	case errors.Is(err, session.ErrInvalidTransition):
		// The state machine only refuses transitions out of Resolved,
		// so the session is closed from the caller's point of view
		return chaterrors.ErrSessionClosed(sessionID)
	case errors.Is(err, session.ErrSessionNotFound):
		return chaterrors.ErrUnknownSession(sessionID)
	default:
		return chaterrors.ErrStoreFailure(err)
	}
}

// sessionPayload wraps a full transcript for session_data envelopes.
type sessionPayload struct {
	Session *session.Session `json:"session"`
}

// sessionListPayload wraps admin summaries for active_sessions envelopes.
type sessionListPayload struct {
	Sessions []session.Summary `json:"sessions"`
}
