package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/real-rm/golog"

	"github.com/real-rm/supportchat/internal/auth"
	"github.com/real-rm/supportchat/internal/broker"
	"github.com/real-rm/supportchat/internal/config"
	"github.com/real-rm/supportchat/internal/constants"
	chaterrors "github.com/real-rm/supportchat/internal/errors"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/ratelimit"
	"github.com/real-rm/supportchat/internal/registry"
	"github.com/real-rm/supportchat/internal/util"
)

// Handler upgrades HTTP requests to WebSocket connections and bridges
// inbound frames to broker handlers. The user endpoint is public; the
// admin endpoint authenticates agents with JWT before the upgrade.
type Handler struct {
	broker    *broker.Broker
	registry  *registry.Registry
	validator *auth.JWTValidator
	logger    *golog.Logger

	connLimiter *ratelimit.ConnectionLimiter
	msgLimiter  *ratelimit.MessageLimiter

	upgrader       websocket.Upgrader
	allowedOrigins map[string]bool
	maxMessageSize int64

	// conns tracks every open connection, joined or not, so shutdown
	// can reach the ones the registry has never seen
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewHandler creates the transport handler and starts the rate
// limiter's background cleanup.
func NewHandler(b *broker.Broker, reg *registry.Registry, validator *auth.JWTValidator, cfg config.ServerConfig, logger *golog.Logger) *Handler {
	h := &Handler{
		broker:         b,
		registry:       reg,
		validator:      validator,
		logger:         logger.WithGroup("websocket"),
		connLimiter:    ratelimit.NewConnectionLimiter(10), // Max 10 concurrent connections per client
		msgLimiter:     ratelimit.NewMessageLimiter(cfg.MessageRateWindow, cfg.MessageRateLimit),
		allowedOrigins: make(map[string]bool),
		maxMessageSize: cfg.MaxMessageSize,
		conns:          make(map[string]*Connection),
	}

	for _, origin := range cfg.AllowedOrigins {
		h.allowedOrigins[origin] = true
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	h.msgLimiter.StartCleanup()

	return h
}

// IsOpenOrigin returns true when no allowed origins are configured,
// meaning all origins are accepted. Callers can use this to log a
// warning at startup.
// SECURITY: When true, any website can establish WebSocket connections.
// This is acceptable only when the service sits behind a reverse proxy
// that performs its own origin validation.
func (h *Handler) IsOpenOrigin() bool {
	return len(h.allowedOrigins) == 0
}

// checkOrigin validates the origin of a WebSocket upgrade request
func (h *Handler) checkOrigin(r *http.Request) bool {
	// No else needed: early return pattern (guard clause)
	if len(h.allowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	// No else needed: early return pattern (guard clause)
	if h.allowedOrigins[origin] {
		return true
	}

	h.logger.Warn("Origin not allowed", "origin", origin)
	return false
}

// HandleUserWS upgrades a user connection. Users are anonymous at the
// transport level; their identity is the session id carried by their
// envelopes, so there is no token check here.
func (h *Handler) HandleUserWS(w http.ResponseWriter, r *http.Request) {
	key := "ip:" + clientKey(r)
	// No else needed: early return pattern (guard clause)
	if !h.connLimiter.Allow(key) {
		h.logger.Warn("Connection limit exceeded", "client", key)
		chatErr := chaterrors.ErrConnectionLimitExceeded(constants.MillisecondsPerSecond * 5)
		http.Error(w, chatErr.Message, http.StatusTooManyRequests)
		return
	}

	conn, ok := h.upgrade(w, r, message.RoleUser)
	// No else needed: early return pattern (guard clause)
	if !ok {
		h.connLimiter.Release(key)
		return
	}

	conn.limiterKey = key
	h.start(conn)
}

// HandleAgentWS authenticates an agent and upgrades the connection.
// The agent identity comes from the JWT, never from envelopes, so a
// compromised dashboard cannot impersonate another agent.
func (h *Handler) HandleAgentWS(w http.ResponseWriter, r *http.Request) {
	token, err := util.ExtractBearerToken(r.Header.Get(constants.HeaderAuthorization))
	// No else needed: fallback for browser WebSocket clients that cannot set headers
	if err != nil {
		token = r.URL.Query().Get("token")
		if token != "" {
			h.logger.Warn("JWT provided via query parameter (deprecated, use Authorization header)")
		}
	}

	// No else needed: early return pattern (guard clause)
	if token == "" {
		http.Error(w, "Missing authentication token", http.StatusUnauthorized)
		return
	}

	claims, err := h.validator.ValidateToken(token)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		h.logger.Warn("JWT validation failed", "error", err)
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	// No else needed: early return pattern (guard clause)
	if !util.HasRole(claims.Roles, constants.RoleAdmin, constants.RoleChatAdmin) {
		h.logger.Warn("Agent upgrade without admin role", "user_id", claims.UserID)
		http.Error(w, constants.ErrMsgForbidden, http.StatusForbidden)
		return
	}

	key := "agent:" + claims.UserID
	// No else needed: early return pattern (guard clause)
	if !h.connLimiter.Allow(key) {
		h.logger.Warn("Connection limit exceeded", "agent_id", claims.UserID)
		chatErr := chaterrors.ErrConnectionLimitExceeded(constants.MillisecondsPerSecond * 5)
		http.Error(w, chatErr.Message, http.StatusTooManyRequests)
		return
	}

	conn, ok := h.upgrade(w, r, message.RoleAgent)
	// No else needed: early return pattern (guard clause)
	if !ok {
		h.connLimiter.Release(key)
		return
	}

	conn.AgentID = claims.UserID
	conn.Name = claims.Name
	conn.limiterKey = key
	h.start(conn)
}

// upgrade performs the HTTP to WebSocket upgrade. On failure the
// upgrader has already written the HTTP error response.
func (h *Handler) upgrade(w http.ResponseWriter, r *http.Request, role string) (*Connection, bool) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(h.logger, "websocket", "upgrade connection", err)
		return nil, false
	}

	// Oversized frames kill the read loop instead of exhausting memory
	ws.SetReadLimit(h.maxMessageSize)

	return newConnection(ws, role), true
}

// start tracks the connection and spins up its pumps
func (h *Handler) start(c *Connection) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	h.logger.Info("WebSocket connection established",
		"connection_id", c.id,
		"role", c.role,
		"agent_id", c.AgentID)

	util.SafeGo(h.logger, "readPump", func() { c.readPump(h) })
	util.SafeGo(h.logger, "writePump", func() { c.writePump() })
}

// release tears down everything attached to a dead connection. Called
// exactly once, from the read pump's exit path.
func (h *Handler) release(c *Connection) {
	h.mu.Lock()
	_, tracked := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()

	// No else needed: early return pattern (guard clause)
	if !tracked {
		return
	}

	h.registry.Unregister(c)
	c.beginShutdown()
	h.connLimiter.Release(c.limiterKey)
}

// ConnectionCount returns the number of open connections, joined or not
func (h *Handler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// processFrame handles one inbound frame: rate limit, decode, dispatch.
// Failures are reported on the same connection and never close it,
// except fatal auth errors.
func (h *Handler) processFrame(c *Connection, raw []byte) {
	// No else needed: early return pattern (guard clause)
	if !h.msgLimiter.Allow(c.id) {
		retryAfter := h.msgLimiter.GetRetryAfter(c.id)
		h.reject(c, chaterrors.ErrTooManyRequests(retryAfter))
		return
	}

	in, err := message.DecodeInbound(raw)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		h.logger.Warn("Rejected inbound frame",
			"connection_id", c.id,
			"error", err)
		h.reject(c, decodeError(err))
		return
	}

	h.logger.Debug("Envelope received",
		"connection_id", c.id,
		"type", string(in.Type),
		"session_id", c.SessionID())

	h.dispatch(c, in)
}

// dispatch routes one decoded envelope to its broker handler
func (h *Handler) dispatch(c *Connection, in *message.Inbound) {
	var err error

	switch in.Type {
	case message.TypeJoinUserSession:
		err = h.broker.HandleUserJoin(c, in.JoinUser.SessionID, in.JoinUser.UserIdentifier)
		// No else needed: optional operation (session binding follows a successful join)
		if err == nil {
			c.setSessionID(in.JoinUser.SessionID)
		}

	case message.TypeUserMessage:
		err = h.bindUserSession(c, in.UserMessage.SessionID)
		if err == nil {
			err = h.broker.HandleUserMessage(c, in.UserMessage.SessionID, in.UserMessage.Text, in.UserMessage.UserIdentifier)
		}

	case message.TypeEscalateToAdmin:
		err = h.bindUserSession(c, in.Escalate.SessionID)
		if err == nil {
			err = h.broker.Escalate(c, in.Escalate.SessionID, in.Escalate.UserIdentifier, in.Escalate.Reason)
		}

	case message.TypeJoinAdminSession:
		// No else needed: early break pattern (guard clause)
		if !c.isAgent() {
			err = chaterrors.ErrAuthRequired()
			break
		}
		err = h.broker.HandleAgentJoin(c, c.AgentID, in.JoinAdmin.SessionID)

	case message.TypeAdminMessage:
		// No else needed: early break pattern (guard clause)
		if !c.isAgent() {
			err = chaterrors.ErrAuthRequired()
			break
		}
		err = h.broker.HandleAgentMessage(c, in.AdminMessage.SessionID, in.AdminMessage.Text, c.AgentID)
	}

	// No else needed: early return pattern (guard clause)
	if err == nil {
		return
	}

	util.LogError(h.logger, "websocket", "handle envelope", err,
		"connection_id", c.id,
		"type", string(in.Type),
		"session_id", c.SessionID())
	h.reject(c, err)
}

// bindUserSession makes the connection the session's live user side
// before a message-bearing envelope is handled, so replies have
// somewhere to land even when the client skipped the explicit join.
func (h *Handler) bindUserSession(c *Connection, sessionID string) error {
	// Agent connections keep their dashboard registration; handling a
	// user envelope must not move them into the user slot
	if c.isAgent() {
		return nil
	}
	// No else needed: early return pattern (guard clause)
	if sessionID == "" || c.SessionID() == sessionID {
		return nil
	}

	if err := h.registry.RegisterUser(sessionID, c); err != nil {
		return err
	}
	c.setSessionID(sessionID)
	return nil
}

// reject reports a frame-level failure on the same connection. The
// connection survives recoverable errors; fatal ones are shut down
// after the queued error envelope drains to the client.
func (h *Handler) reject(c *Connection, err error) {
	h.broker.SendError(c, err)

	var chatErr *chaterrors.ChatError
	// No else needed: early return pattern (guard clause)
	if !errors.As(err, &chatErr) || !chatErr.IsFatal() {
		return
	}

	h.logger.Warn("Closing connection after fatal error",
		"connection_id", c.id,
		"code", string(chatErr.Code))
	c.beginShutdown()
}

// decodeError maps envelope decode failures onto wire error codes
func decodeError(err error) *chaterrors.ChatError {
	var vErr *message.ValidationError
	var lErr *message.LengthError

	switch {
	case errors.As(err, &vErr):
		return chaterrors.ErrMissingField(vErr.Field)
	case errors.As(err, &lErr):
		return chaterrors.ErrTextTooLong(lErr.Length, lErr.Max)
	default:
		return chaterrors.ErrMalformedEnvelope("unparseable JSON or unknown type", err)
	}
}

// ShutdownWithContext closes every live connection and stops the rate
// limiter's background cleanup. It returns once all connections are
// closed or the context deadline passes.
func (h *Handler) ShutdownWithContext(ctx context.Context) error {
	h.msgLimiter.StopCleanup()

	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	h.logger.Info("Shutting down WebSocket handler", "connections", len(conns))

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()

			c.mu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"))
			}
			c.mu.Unlock()

			c.Close()
		}(conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("All WebSocket connections closed")
		return nil
	case <-ctx.Done():
		h.logger.Warn("Shutdown deadline exceeded before all connections closed",
			"connections", len(conns))
		return ctx.Err()
	}
}

// clientKey derives the connection-limit key for unauthenticated
// clients from the peer address.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	// No else needed: a RemoteAddr without a port is already the host
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
