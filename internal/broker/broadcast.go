package broker

import (
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/registry"
)

// BroadcastActiveSessions recomputes the admin session list and fans it
// out to every live agent connection, locally and through the event
// bus. Delivery is best-effort and at-most-once per connection; clients
// reload the list on join, so a dropped frame self-heals.
func (b *Broker) BroadcastActiveSessions() error {
	summaries, err := b.store.ListActiveSessions(0)
	if err != nil {
		return err
	}

	b.BroadcastEvent(message.TypeActiveSessions, sessionListPayload{Sessions: summaries})
	return nil
}

// BroadcastEvent sends a typed envelope to every live agent connection.
// It is the generic fan-out primitive behind dashboard refreshes and
// escalation announcements.
func (b *Broker) BroadcastEvent(t message.OutboundType, data interface{}) {
	b.broadcastToAgents(message.NewOutbound(t, data))
}

// sendSessionList sends the current admin session list to a single
// connection, used to prime a dashboard that just joined.
func (b *Broker) sendSessionList(conn registry.Conn) error {
	summaries, err := b.store.ListActiveSessions(0)
	if err != nil {
		return err
	}

	return b.sendToConn(conn, message.NewOutbound(message.TypeActiveSessions, sessionListPayload{Sessions: summaries}))
}
