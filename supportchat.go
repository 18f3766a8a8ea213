// Package supportchat provides the service registration for the
// real-time support chat broker. It wires the session store, connection
// registry, message broker, and event bus together and exposes the
// WebSocket and REST surfaces on a host gin engine.
package supportchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/real-rm/goconfig"
	"github.com/real-rm/golog"
	"github.com/real-rm/gomongo"
	"github.com/redis/go-redis/v9"

	"github.com/real-rm/supportchat/internal/auth"
	"github.com/real-rm/supportchat/internal/broker"
	"github.com/real-rm/supportchat/internal/config"
	"github.com/real-rm/supportchat/internal/constants"
	chaterrors "github.com/real-rm/supportchat/internal/errors"
	"github.com/real-rm/supportchat/internal/events"
	"github.com/real-rm/supportchat/internal/httperrors"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/metrics"
	"github.com/real-rm/supportchat/internal/notification"
	"github.com/real-rm/supportchat/internal/ratelimit"
	"github.com/real-rm/supportchat/internal/registry"
	"github.com/real-rm/supportchat/internal/session"
	"github.com/real-rm/supportchat/internal/storage"
	"github.com/real-rm/supportchat/internal/store"
	"github.com/real-rm/supportchat/internal/util"
	"github.com/real-rm/supportchat/internal/websocket"
)

var (
	// Global references for graceful shutdown. Register replaces them
	// atomically so a re-register (tests, hot reload) shuts the previous
	// instance down instead of leaking its goroutines.
	globalWSHandler     *websocket.Handler
	globalBroker        *broker.Broker
	globalAdminLimiter  *ratelimit.MessageLimiter
	globalPublicLimiter *ratelimit.MessageLimiter
	globalRedis         *redis.Client
	globalLogger        *golog.Logger
	shutdownMu          sync.Mutex
)

// Register registers the supportchat service with the host gin engine.
//
// Parameters:
//   - r: Gin router for registering HTTP and WebSocket endpoints
//   - accessor: Configuration accessor for loading service settings
//   - logger: Logger for structured logging
//   - mongo: MongoDB client for session persistence
//
// Returns:
//   - error: Any error that occurred during registration
func Register(r *gin.Engine, accessor *goconfig.ConfigAccessor, logger *golog.Logger, mongo *gomongo.Mongo) error {
	svcLogger := logger.WithGroup("supportchat")
	svcLogger.Info("Initializing supportchat service")

	cfg, err := config.Load(accessor)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Misconfigurations fail registration before any goroutine starts
	// No else needed: early return pattern (guard clause)
	if err := cfg.Validate(); err != nil {
		svcLogger.Error("Configuration validation failed", "error", err)
		return err
	}

	// No else needed: optional operation (logging based on configuration state)
	if len(cfg.Database.EncryptionKey) > 0 {
		svcLogger.Info("Message encryption enabled", "key_length", len(cfg.Database.EncryptionKey))
	} else {
		svcLogger.Warn("No encryption key configured, messages will be stored unencrypted")
	}

	repo := storage.NewRepository(mongo, cfg.Database.Database, cfg.Database.Collection, svcLogger, cfg.Database.EncryptionKey)

	indexCtx, indexCancel := util.NewTimeoutContext(constants.MongoIndexTimeout)
	defer indexCancel()
	// No else needed: optional operation (non-critical index creation)
	if err := repo.EnsureIndexes(indexCtx); err != nil {
		svcLogger.Warn("Failed to create MongoDB indexes", "error", err)
		// Don't fail startup - indexes can be created manually if needed
	}

	sessionStore := store.New(repo, svcLogger)
	connRegistry := registry.New(svcLogger)

	// Cross-process fan-out is optional; without Redis the broker runs
	// single-process with purely local delivery
	var rdb *redis.Client
	if cfg.Events.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Events.RedisURL)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return fmt.Errorf("invalid Redis URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		svcLogger.Info("Event bus enabled", "channel", cfg.Events.Channel)
	}
	bus := events.NewBus(rdb, cfg.Events.Channel, svcLogger)

	var notifier broker.Notifier
	// No else needed: optional operation (escalations log instead of alerting)
	if cfg.Notification.Enabled() {
		notifier = notification.New(cfg.Notification, svcLogger)
		svcLogger.Info("Escalation notifications enabled", "recipients", len(cfg.Notification.AdminEmails))
	} else {
		svcLogger.Warn("Escalation notifications disabled, no SMTP host or admin emails configured")
	}

	chatBroker := broker.New(sessionStore, connRegistry, bus, notifier, svcLogger)
	chatBroker.Start()

	validator := auth.NewJWTValidator(cfg.Server.JWTSecret)

	wsHandler := websocket.NewHandler(chatBroker, connRegistry, validator, cfg.Server, svcLogger)
	// No else needed: optional operation (startup warning)
	if wsHandler.IsOpenOrigin() {
		svcLogger.Warn("No allowed origins configured, allowing all origins (development mode)")
	}

	adminLimiter := ratelimit.NewMessageLimiter(cfg.Server.AdminRateWindow, cfg.Server.AdminRateLimit)
	publicLimiter := ratelimit.NewMessageLimiter(1*time.Minute, constants.PublicEndpointRate)
	adminLimiter.StartCleanup()
	publicLimiter.StartCleanup()

	// Replace any previously registered instance before exposing the new
	// one, so repeated Register calls never leak goroutines
	shutdownMu.Lock()
	stopInstanceLocked(context.Background())
	globalWSHandler = wsHandler
	globalBroker = chatBroker
	globalAdminLimiter = adminLimiter
	globalPublicLimiter = publicLimiter
	globalRedis = rdb
	globalLogger = svcLogger
	shutdownMu.Unlock()

	// No else needed: optional operation (CORS only when origins are configured)
	if len(cfg.Server.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Server.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
		svcLogger.Info("CORS middleware configured", "allowed_origins", cfg.Server.CORSOrigins)
	} else {
		svcLogger.Warn("No CORS origins configured, CORS middleware not enabled")
	}

	// c.ClientIP() only trusts X-Forwarded-For from these networks
	if len(cfg.Server.TrustedProxies) > 0 {
		// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
		if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			svcLogger.Warn("Failed to set trusted proxies", "error", err)
		}
	}

	r.Use(securityHeadersMiddleware())
	r.Use(requestIDMiddleware())
	r.Use(metricsMiddleware())

	svcLogger.Info("Using HTTP path prefix", "prefix", cfg.Server.PathPrefix)

	chatGroup := r.Group(cfg.Server.PathPrefix)
	{
		// User WebSocket endpoint: anonymous, connection-limited per IP
		chatGroup.GET("/ws", func(c *gin.Context) {
			wsHandler.HandleUserWS(c.Writer, c.Request)
		})

		// Agent WebSocket endpoint. A token passed as a query parameter is
		// moved into the Authorization header and redacted from the URL so
		// it never lands in access logs.
		chatGroup.GET("/ws/admin", func(c *gin.Context) {
			if token := c.Query("token"); token != "" {
				if c.Request.Header.Get(constants.HeaderAuthorization) == "" {
					c.Request.Header.Set(constants.HeaderAuthorization, constants.BearerPrefix+token)
				}
				q := c.Request.URL.Query()
				q.Del("token")
				c.Request.URL.RawQuery = q.Encode()
			}
			wsHandler.HandleAgentWS(c.Writer, c.Request)
		})

		// REST reads for collaborators (dashboards, polling fallback)
		chatGroup.GET("/sessions/:id", userAuthMiddleware(validator, svcLogger), handleGetSession(sessionStore, svcLogger))
		chatGroup.GET("/sessions/:id/messages", userAuthMiddleware(validator, svcLogger), handleMessagesSince(sessionStore, svcLogger))

		// Agent REST endpoints, used when no live transport exists
		adminGroup := chatGroup.Group("/admin")
		adminGroup.Use(adminAuthMiddleware(validator, svcLogger))
		adminGroup.Use(adminRateLimitMiddleware(adminLimiter, svcLogger))
		{
			adminGroup.GET("/sessions", handleActiveSessions(sessionStore, svcLogger))
			adminGroup.POST("/sessions/:id/messages", handleAgentReply(chatBroker, svcLogger))
			adminGroup.POST("/sessions/:id/close", handleCloseSession(chatBroker, svcLogger))
		}

		// Health check endpoints (rate limited to prevent abuse)
		chatGroup.GET("/healthz", publicRateLimitMiddleware(publicLimiter, svcLogger), handleHealthCheck)
		chatGroup.GET("/readyz", publicRateLimitMiddleware(publicLimiter, svcLogger), handleReadyCheck(repo, rdb, svcLogger))

		// Prometheus scrape endpoint, restricted to configured networks
		metricsNets := parseNetworks(cfg.Server.MetricsNetworks, svcLogger)
		chatGroup.GET("/metrics/prometheus",
			metricsNetworkMiddleware(metricsNets, svcLogger),
			publicRateLimitMiddleware(publicLimiter, svcLogger),
			gin.WrapH(promhttp.Handler()),
		)
	}

	svcLogger.Info("Supportchat service registered successfully",
		"user_websocket", cfg.Server.PathPrefix+"/ws",
		"agent_websocket", cfg.Server.PathPrefix+"/ws/admin",
		"admin_endpoints", cfg.Server.PathPrefix+"/admin/*",
		"health_endpoints", cfg.Server.PathPrefix+"/healthz, "+cfg.Server.PathPrefix+"/readyz",
		"metrics_endpoint", cfg.Server.PathPrefix+"/metrics/prometheus",
	)

	return nil
}

// Shutdown gracefully shuts down the supportchat service: intake stops,
// live connections close, and background goroutines (limiters, event
// bus subscriber) wind down. It respects the context deadline.
func Shutdown(ctx context.Context) error {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()

	// No else needed: optional operation (logging during shutdown)
	if globalLogger != nil {
		globalLogger.Info("Starting graceful shutdown of supportchat service")
	}

	err := stopInstanceLocked(ctx)

	// No else needed: optional operation (final logging)
	if globalLogger != nil && err == nil {
		globalLogger.Info("Supportchat service shutdown complete")
	}

	globalWSHandler = nil
	globalBroker = nil
	globalAdminLimiter = nil
	globalPublicLimiter = nil
	globalRedis = nil

	return err
}

// stopInstanceLocked tears down the currently registered instance.
// Callers hold shutdownMu.
func stopInstanceLocked(ctx context.Context) error {
	// No else needed: optional operation (cleanup stop)
	if globalAdminLimiter != nil {
		globalAdminLimiter.StopCleanup()
	}
	// No else needed: optional operation (cleanup stop)
	if globalPublicLimiter != nil {
		globalPublicLimiter.StopCleanup()
	}

	var wsErr error
	// Connections close before the broker so no handler runs against a
	// stopped event bus
	if globalWSHandler != nil {
		// No else needed: optional operation (error captured, shutdown continues)
		if err := globalWSHandler.ShutdownWithContext(ctx); err != nil {
			// No else needed: optional operation (error logging)
			if globalLogger != nil {
				globalLogger.Warn("WebSocket handler shutdown error", "error", err)
			}
			wsErr = err
		}
	}

	// No else needed: optional operation (broker stop)
	if globalBroker != nil {
		globalBroker.Shutdown()
	}

	// No else needed: optional operation (Redis client close)
	if globalRedis != nil {
		// No else needed: optional operation (fire-and-forget), failure is logged but not fatal
		if err := globalRedis.Close(); err != nil && globalLogger != nil {
			globalLogger.Warn("Redis client close error", "error", err)
		}
	}

	return wsErr
}

// securityHeadersMiddleware adds standard HTTP security headers to all responses.
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

// requestIDMiddleware assigns every request a trace id. Error responses
// echo it so a client report can be matched to server logs.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := util.NewContextWithTraceID(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		c.Header(httperrors.HeaderRequestID, util.TraceIDFromContext(ctx))
		c.Next()
	}
}

// metricsMiddleware records HTTP request duration for Prometheus monitoring
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.HTTPRequestDuration.With(prometheus.Labels{
			"endpoint": c.FullPath(),
			"method":   c.Request.Method,
		}).Observe(time.Since(start).Seconds())
	}
}

// publicRateLimitMiddleware rate limits public endpoints (healthz,
// readyz, metrics) by client IP to prevent abuse.
func publicRateLimitMiddleware(limiter *ratelimit.MessageLimiter, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// ClientIP() respects trusted proxies, preventing X-Forwarded-For spoofing
		clientIP := c.ClientIP()

		// No else needed: early return pattern (guard clause)
		if !limiter.Allow(clientIP) {
			setRetryAfterHeader(c, limiter.GetRetryAfter(clientIP))
			httperrors.RespondRateLimited(c)
			c.Abort()
			return
		}

		c.Next()
	}
}

// adminAuthMiddleware authenticates agent REST requests and requires an
// admin role.
func adminAuthMiddleware(validator *auth.JWTValidator, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := authenticate(c, validator, logger)
		// No else needed: early return pattern (guard clause)
		if !ok {
			return
		}

		// No else needed: early return pattern (guard clause)
		if !util.HasRole(claims.Roles, constants.RoleAdmin, constants.RoleChatAdmin) {
			logger.Warn("Insufficient permissions for admin endpoint",
				"user_id", claims.UserID,
				"roles", claims.Roles,
				"component", "auth")
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}

// userAuthMiddleware authenticates any valid JWT without a role check.
// Handlers decide what the identity may read.
func userAuthMiddleware(validator *auth.JWTValidator, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := authenticate(c, validator, logger)
		// No else needed: early return pattern (guard clause)
		if !ok {
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}

// authenticate extracts and validates the bearer token, aborting the
// request on failure.
func authenticate(c *gin.Context, validator *auth.JWTValidator, logger *golog.Logger) (*auth.Claims, bool) {
	token, err := util.ExtractBearerToken(c.GetHeader(constants.HeaderAuthorization))
	// No else needed: early return pattern (guard clause)
	if err != nil {
		httperrors.RespondUnauthorized(c, httperrors.MsgInvalidAuthHeader)
		c.Abort()
		return nil, false
	}

	claims, err := validator.ValidateToken(token)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		// Detailed error stays server-side; the client sees a generic one
		logger.Warn("Token validation failed",
			"error", err,
			"component", "auth")
		httperrors.RespondInvalidToken(c)
		c.Abort()
		return nil, false
	}

	return claims, true
}

// adminRateLimitMiddleware rate limits agent REST requests per agent identity
func adminRateLimitMiddleware(limiter *ratelimit.MessageLimiter, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := claimsFromContext(c, logger)
		// No else needed: early return pattern (guard clause)
		if !ok {
			return
		}

		// No else needed: early return pattern (guard clause)
		if !limiter.Allow(claims.UserID) {
			retryAfter := limiter.GetRetryAfter(claims.UserID)

			logger.Warn("Admin rate limit exceeded",
				"user_id", claims.UserID,
				"endpoint", c.Request.URL.Path,
				"retry_after_ms", retryAfter,
				"component", "admin_rate_limit")

			setRetryAfterHeader(c, retryAfter)
			httperrors.RespondRateLimited(c)
			c.Abort()
			return
		}

		c.Next()
	}
}

// setRetryAfterHeader converts a millisecond retry hint to a Retry-After
// header, rounding up so the client never retries early.
func setRetryAfterHeader(c *gin.Context, retryAfterMs int) {
	retryAfterSeconds := (retryAfterMs + constants.MillisecondsPerSecond - 1) / constants.MillisecondsPerSecond
	// No else needed: optional operation (minimum retry after enforcement)
	if retryAfterSeconds < constants.MinRetryAfterSeconds {
		retryAfterSeconds = constants.MinRetryAfterSeconds
	}
	c.Header(constants.HeaderRetryAfter, fmt.Sprintf("%d", retryAfterSeconds))
}

// claimsFromContext fetches the authenticated claims stored by the auth
// middleware, failing the request when they are missing or mistyped.
func claimsFromContext(c *gin.Context, logger *golog.Logger) (*auth.Claims, bool) {
	claimsInterface, exists := c.Get("claims")
	// No else needed: early return pattern (guard clause)
	if !exists {
		httperrors.RespondUnauthorized(c, "")
		c.Abort()
		return nil, false
	}

	claims, ok := claimsInterface.(*auth.Claims)
	// No else needed: early return pattern (guard clause)
	if !ok {
		util.LogError(logger, "http", "validate claims type", fmt.Errorf("invalid claims type in context"))
		httperrors.RespondInternalError(c)
		c.Abort()
		return nil, false
	}

	return claims, true
}

// handleGetSession returns the full session record. Admin tokens read
// any session; other tokens only the session whose user identifier
// matches their own identity.
func handleGetSession(st *store.Store, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		claims, ok := claimsFromContext(c, logger)
		// No else needed: early return pattern (guard clause)
		if !ok {
			return
		}

		sess, err := st.LoadSession(sessionID)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			respondStoreError(c, logger, "load session", sessionID, err)
			return
		}

		// No else needed: early return pattern (guard clause)
		if !canReadSession(claims, sess) {
			logger.Warn("Session read denied",
				"session_id", sessionID,
				"user_id", claims.UserID,
				"component", "http")
			httperrors.RespondForbidden(c)
			return
		}

		c.JSON(constants.StatusOK, gin.H{"session": sess})
	}
}

// handleMessagesSince returns messages appended after the given
// timestamp, the pull half of missed-message recovery. Without a since
// parameter the full transcript is returned.
func handleMessagesSince(st *store.Store, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		claims, ok := claimsFromContext(c, logger)
		// No else needed: early return pattern (guard clause)
		if !ok {
			return
		}

		var since time.Time
		// No else needed: optional operation (zero time returns the full transcript)
		if sinceStr := c.Query("since"); sinceStr != "" {
			parsed, err := time.Parse(time.RFC3339, sinceStr)
			// No else needed: early return pattern (guard clause)
			if err != nil {
				logger.Warn("Invalid since parameter",
					"value", sinceStr,
					"error", err,
					"component", "http")
				httperrors.RespondBadRequest(c, httperrors.MsgInvalidTimeFormat)
				return
			}
			since = parsed
		}

		sess, err := st.LoadSession(sessionID)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			respondStoreError(c, logger, "load session", sessionID, err)
			return
		}

		// No else needed: early return pattern (guard clause)
		if !canReadSession(claims, sess) {
			httperrors.RespondForbidden(c)
			return
		}

		msgs, err := st.MessagesSince(sessionID, since)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			respondStoreError(c, logger, "read messages", sessionID, err)
			return
		}

		c.JSON(constants.StatusOK, gin.H{
			"session_id": sessionID,
			"messages":   msgs,
			"count":      len(msgs),
		})
	}
}

// canReadSession reports whether the authenticated identity may read a
// session record.
func canReadSession(claims *auth.Claims, sess *session.Session) bool {
	// No else needed: early return pattern (guard clause)
	if util.HasRole(claims.Roles, constants.RoleAdmin, constants.RoleChatAdmin) {
		return true
	}
	return sess.UserIdentifier != "" && sess.UserIdentifier == claims.UserID
}

// handleActiveSessions returns the admin summary list, the same data the
// active_sessions broadcast carries.
func handleActiveSessions(st *store.Store, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		summaries, err := st.ListActiveSessions(0)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			util.LogError(logger, "http", "list active sessions", err)
			httperrors.RespondInternalError(c)
			return
		}

		c.JSON(constants.StatusOK, gin.H{
			"sessions": summaries,
			"count":    len(summaries),
		})
	}
}

// agentReplyRequest is the REST fallback body for an agent response
type agentReplyRequest struct {
	Text string `json:"text" binding:"required"`
}

// restConn is a synthetic connection for REST-originated agent traffic.
// It satisfies registry.Conn and captures the acknowledgement frame the
// broker would have pushed over a live transport.
type restConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
}

func newRESTConn(agentID string) *restConn {
	return &restConn{id: fmt.Sprintf("rest-%s-%d", agentID, time.Now().UnixNano())}
}

// ID implements registry.Conn
func (r *restConn) ID() string {
	return r.id
}

// Enqueue implements registry.Conn by buffering the frame for the HTTP response
func (r *restConn) Enqueue(data []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, data)
	return true
}

// Ack returns the captured message_sent payload, or nil when the broker
// never acked.
func (r *restConn) Ack() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, frame := range r.frames {
		var env struct {
			Type message.OutboundType `json:"type"`
		}
		// No else needed: optional operation (skip frames that fail to decode)
		if err := util.UnmarshalJSON(frame, &env); err == nil && env.Type == message.TypeMessageSent {
			return frame
		}
	}
	return nil
}

// handleAgentReply delivers an agent response over REST when the agent
// holds no live transport. It routes through the same broker path as a
// WebSocket admin_message, so persistence, assignment, and user
// delivery behave identically.
func handleAgentReply(b *broker.Broker, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		claims, ok := claimsFromContext(c, logger)
		// No else needed: early return pattern (guard clause)
		if !ok {
			return
		}

		var req agentReplyRequest
		// No else needed: early return pattern (guard clause)
		if err := c.ShouldBindJSON(&req); err != nil {
			httperrors.RespondBadRequest(c, "text is required")
			return
		}

		conn := newRESTConn(claims.UserID)
		if err := b.HandleAgentMessage(conn, sessionID, req.Text, claims.UserID); err != nil {
			respondBrokerError(c, logger, "send agent reply", sessionID, claims.UserID, err)
			return
		}

		response := gin.H{
			"session_id": sessionID,
			"agent_id":   claims.UserID,
		}
		// No else needed: optional operation (the ack enriches the response when captured)
		if ack := conn.Ack(); ack != nil {
			response["ack"] = json.RawMessage(ack)
		}

		c.JSON(constants.StatusOK, response)
	}
}

// handleCloseSession resolves a session on behalf of an agent
func handleCloseSession(b *broker.Broker, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		claims, ok := claimsFromContext(c, logger)
		// No else needed: early return pattern (guard clause)
		if !ok {
			return
		}

		if err := b.CloseSession(sessionID, claims.UserID); err != nil {
			respondBrokerError(c, logger, "close session", sessionID, claims.UserID, err)
			return
		}

		c.JSON(constants.StatusOK, gin.H{
			"session_id": sessionID,
			"status":     string(session.StatusResolved),
			"closed_by":  claims.UserID,
		})
	}
}

// respondStoreError maps store read failures onto HTTP responses
func respondStoreError(c *gin.Context, logger *golog.Logger, operation, sessionID string, err error) {
	// No else needed: early return pattern (guard clause)
	if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrInvalidSessionID) {
		httperrors.RespondNotFound(c, httperrors.MsgSessionNotFound)
		return
	}

	util.LogError(logger, "http", operation, err, "session_id", sessionID)
	httperrors.RespondInternalError(c)
}

// respondBrokerError maps broker handler failures onto HTTP responses,
// preserving the session-closed distinction so agent UIs can render it.
func respondBrokerError(c *gin.Context, logger *golog.Logger, operation, sessionID, agentID string, err error) {
	util.LogError(logger, "http", operation, err,
		"session_id", sessionID,
		"agent_id", agentID)

	var chatErr *chaterrors.ChatError
	// No else needed: early return pattern (guard clause)
	if !errors.As(err, &chatErr) {
		httperrors.RespondInternalError(c)
		return
	}

	switch chatErr.Code {
	case chaterrors.ErrCodeUnknownSession:
		httperrors.RespondNotFound(c, httperrors.MsgSessionNotFound)
	case chaterrors.ErrCodeSessionClosed:
		httperrors.RespondConflict(c, httperrors.MsgSessionClosed)
	case chaterrors.ErrCodeMissingField, chaterrors.ErrCodeTextTooLong:
		httperrors.RespondBadRequest(c, chatErr.Message)
	default:
		httperrors.RespondInternalError(c)
	}
}

// handleHealthCheck serves the liveness probe. If the process can
// respond, it is alive.
func handleHealthCheck(c *gin.Context) {
	c.JSON(constants.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReadyCheck serves the readiness probe: MongoDB must answer a
// ping, and so must Redis when the event bus is configured.
func handleReadyCheck(repo *storage.Repository, rdb *redis.Client, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := make(map[string]interface{})
		allReady := true

		ctx, cancel := util.NewTimeoutContext(constants.HealthCheckTimeout)
		defer cancel()

		// No else needed: optional operation (health check result recording)
		if err := repo.Ping(ctx); err != nil {
			logger.Warn("MongoDB health check failed",
				"error", err,
				"component", "health")
			checks["mongodb"] = map[string]interface{}{
				"status": "not ready",
				"reason": "Database connectivity check failed",
			}
			allReady = false
		} else {
			checks["mongodb"] = map[string]interface{}{"status": "ready"}
		}

		// No else needed: optional operation (Redis is checked only when configured)
		if rdb != nil {
			// No else needed: optional operation (health check result recording)
			if err := rdb.Ping(ctx).Err(); err != nil {
				logger.Warn("Redis health check failed",
					"error", err,
					"component", "health")
				checks["redis"] = map[string]interface{}{
					"status": "not ready",
					"reason": "Event bus connectivity check failed",
				}
				allReady = false
			} else {
				checks["redis"] = map[string]interface{}{"status": "ready"}
			}
		}

		status := "ready"
		statusCode := constants.StatusOK
		// No else needed: optional operation (status code adjustment based on health)
		if !allReady {
			status = "not ready"
			statusCode = constants.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		})
	}
}

// parseNetworks parses a list of CIDR network strings, dropping invalid entries.
func parseNetworks(cidrs []string, logger *golog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("Invalid CIDR in metrics allowlist", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// metricsNetworkMiddleware restricts the metrics endpoint to configured networks.
func metricsNetworkMiddleware(allowedNets []*net.IPNet, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// No networks configured means open access (development mode)
		if len(allowedNets) == 0 {
			c.Next()
			return
		}

		clientIP := net.ParseIP(c.ClientIP())
		// No else needed: early return pattern (guard clause)
		if clientIP == nil {
			logger.Warn("Could not parse client IP for metrics access", "ip", c.ClientIP())
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}

		for _, ipNet := range allowedNets {
			if ipNet.Contains(clientIP) {
				c.Next()
				return
			}
		}

		logger.Warn("Metrics access denied from unauthorized network",
			"client_ip", c.ClientIP(),
			"component", "metrics")
		httperrors.RespondForbidden(c)
		c.Abort()
	}
}
