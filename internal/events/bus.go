// Package events fans chat deliveries out across broker instances over
// Redis pub/sub. Each instance delivers to its own live connections
// first and publishes the frame so peers holding the target connection
// can do the same. Without a Redis client the bus is inert and the
// broker runs single-process with purely local delivery.
package events

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/real-rm/golog"
	"github.com/redis/go-redis/v9"

	"github.com/real-rm/supportchat/internal/constants"
	"github.com/real-rm/supportchat/internal/metrics"
	"github.com/real-rm/supportchat/internal/util"
)

// Kind routes a published frame to the right local connections
type Kind string

const (
	// KindUserDelivery targets the live user connection of one session
	KindUserDelivery Kind = "user_delivery"
	// KindAgentDelivery targets every connection of one agent identity
	KindAgentDelivery Kind = "agent_delivery"
	// KindAgentBroadcast targets every live agent connection
	KindAgentBroadcast Kind = "agent_broadcast"
)

// Event is the wire format on the Redis channel. Frame carries a
// ready-to-send outbound envelope; peers forward it verbatim.
type Event struct {
	Kind      Kind            `json:"kind"`
	Origin    string          `json:"origin"`
	SessionID string          `json:"session_id,omitempty"`
	AgentID   string          `json:"agent_id,omitempty"`
	Frame     json.RawMessage `json:"frame"`
}

// Sink receives remote events for local delivery. The broker implements
// it over its connection registry.
type Sink interface {
	DeliverUser(sessionID string, frame []byte)
	DeliverAgent(agentID string, frame []byte)
	BroadcastAgents(frame []byte)
}

// Bus publishes delivery events and applies events from peers. All
// delivery through the bus is best-effort, at-most-once: a publish or
// subscribe failure is logged and dropped, never retried.
type Bus struct {
	rdb     *redis.Client
	channel string
	origin  string
	sink    Sink
	logger  *golog.Logger
	pubsub  *redis.PubSub
}

// NewBus creates an event bus over the given Redis client. A nil client
// disables cross-process delivery.
func NewBus(rdb *redis.Client, channel string, logger *golog.Logger) *Bus {
	if channel == "" {
		channel = constants.DefaultEventChannel
	}
	return &Bus{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.New().String(),
		logger:  logger,
	}
}

// Start attaches the local delivery sink and, when Redis is configured,
// launches the subscriber loop.
func (b *Bus) Start(sink Sink) {
	b.sink = sink

	// No else needed: early return pattern (single-process mode)
	if b.rdb == nil {
		b.logger.Info("Event bus disabled, deliveries stay in-process")
		return
	}

	b.pubsub = b.rdb.Subscribe(context.Background(), b.channel)
	util.SafeGo(b.logger, "event-bus-subscriber", b.run)

	b.logger.Info("Event bus subscribed",
		"channel", b.channel,
		"origin", b.origin)
}

// Close stops the subscriber loop
func (b *Bus) Close() error {
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}

// PublishUser forwards a frame addressed to one session's user connection
func (b *Bus) PublishUser(sessionID string, frame []byte) {
	b.publish(Event{Kind: KindUserDelivery, SessionID: sessionID, Frame: frame})
}

// PublishAgent forwards a frame addressed to one agent's connections
func (b *Bus) PublishAgent(agentID string, frame []byte) {
	b.publish(Event{Kind: KindAgentDelivery, AgentID: agentID, Frame: frame})
}

// PublishBroadcast forwards a frame addressed to every agent connection
func (b *Bus) PublishBroadcast(frame []byte) {
	b.publish(Event{Kind: KindAgentBroadcast, Frame: frame})
}

func (b *Bus) publish(ev Event) {
	// No else needed: early return pattern (single-process mode)
	if b.rdb == nil {
		return
	}

	ev.Origin = b.origin
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("Failed to encode bus event", "kind", ev.Kind, "error", err)
		return
	}

	ctx, cancel := util.NewTimeoutContext(constants.BroadcastTimeout)
	defer cancel()

	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		// Best-effort: peers miss this frame, local delivery already happened
		b.logger.Warn("Failed to publish bus event",
			"kind", ev.Kind,
			"channel", b.channel,
			"error", err)
		return
	}

	metrics.EventBusPublishes.WithLabelValues(string(ev.Kind)).Inc()
}

// run consumes peer events until the pubsub connection closes
func (b *Bus) run() {
	ch := b.pubsub.Channel()
	for msg := range ch {
		b.dispatch([]byte(msg.Payload))
	}
	b.logger.Info("Event bus subscriber stopped", "channel", b.channel)
}

// dispatch applies one raw peer event to the local sink. Events this
// instance published are skipped; their local delivery already happened
// before the publish.
func (b *Bus) dispatch(payload []byte) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		b.logger.Warn("Dropping malformed bus event", "error", err)
		return
	}

	// No else needed: early return pattern (own events already delivered)
	if ev.Origin == b.origin {
		return
	}

	switch ev.Kind {
	case KindUserDelivery:
		b.sink.DeliverUser(ev.SessionID, ev.Frame)
	case KindAgentDelivery:
		b.sink.DeliverAgent(ev.AgentID, ev.Frame)
	case KindAgentBroadcast:
		b.sink.BroadcastAgents(ev.Frame)
	default:
		b.logger.Warn("Dropping bus event of unknown kind", "kind", ev.Kind)
	}
}
