// Package constants provides centralized constant definitions for the supportchat application.
// This eliminates magic numbers and strings throughout the codebase.
package constants

import "time"

// HTTP Status Codes
const (
	StatusOK                 = 200
	StatusTooManyRequests    = 429
	StatusServiceUnavailable = 503
)

// Timeouts for various operations
const (
	DefaultContextTimeout = 10 * time.Second // Standard database operations
	LongContextTimeout    = 30 * time.Second // Complex queries and index creation
	MongoIndexTimeout     = 30 * time.Second // MongoDB index creation
	ShortTimeout          = 2 * time.Second  // Quick operations like health checks
	StoreWriteTimeout     = 5 * time.Second  // Durable writes on the message path
	StoreReadTimeout      = 5 * time.Second  // Session loads and list queries
	SessionCloseTimeout   = 5 * time.Second  // Resolving sessions
	HealthCheckTimeout    = 2 * time.Second  // Health check operations
	BroadcastTimeout      = 3 * time.Second  // Recomputing the admin session list
	NotifyTimeout         = 15 * time.Second // Escalation alert delivery
)

// Sizes and Limits
const (
	DefaultMaxMessageSize = 1048576 // 1MB in bytes for WebSocket messages
	EncryptionKeyLength   = 32      // AES-256 requires exactly 32 bytes
	DefaultSessionLimit   = 100     // Default number of sessions to return
	MaxSessionLimit       = 1000    // Maximum sessions per query (performance cap)
	DefaultRateLimit      = 100     // Default messages per minute per connection
	DefaultAdminRateLimit = 20      // Default admin requests per minute
	MaxEventsPerUser      = 1000    // Maximum rate limit events tracked per key
	MaxUsersTracked       = 100000  // Maximum distinct keys in rate limiter map
	PublicEndpointRate    = 60      // Requests per minute for public endpoints (healthz, readyz, metrics)
	SendQueueSize         = 256     // Buffered outbound frames per connection
	MaxTextLength         = 10000   // Maximum characters in a single chat message
	MaxReasonLength       = 2000    // Maximum characters in an escalation reason
)

// HTTP Server Timeouts (for standalone server mode)
const (
	HTTPReadTimeout  = 15 * time.Second  // Maximum time to read the entire request
	HTTPWriteTimeout = 60 * time.Second  // Maximum time to write the response
	HTTPIdleTimeout  = 120 * time.Second // Maximum time to keep idle connections alive
)

// Durations for background operations
const (
	DefaultRateWindow      = 1 * time.Minute  // Rate limiting window
	DefaultCleanupInterval = 5 * time.Minute  // Cleanup goroutine interval
	SessionCacheTTL        = 15 * time.Minute // Cached session time-to-live after inactivity
	SessionCachePurge      = 5 * time.Minute  // Expired cache entry sweep interval
	NotifyRateWindow       = 5 * time.Minute  // Alert suppression window per session
)

// Role Names for authorization
const (
	RoleAdmin     = "admin"
	RoleChatAdmin = "chat_admin"
)

// Canned reply texts sent on the automated path
const (
	BotAcknowledgement       = "Thanks for reaching out! Your message has been received. Ask to speak with an agent at any time."
	EscalationConfirmation   = "Your request has been forwarded to our support team. An agent will join this chat shortly."
	EscalationAuditPrefix    = "Escalation requested"
	DefaultEscalationSubject = "Support escalation"
)

// Default Configuration Values
const (
	DefaultMongoURI     = "mongodb://localhost:27017"
	DefaultDatabase     = "supportchat"
	DefaultCollection   = "sessions"
	DefaultPort         = 8080
	DefaultLogLevel     = "info"
	DefaultLogDir       = "logs"
	DefaultPathPrefix   = "/supportchat" // Default HTTP path prefix for all routes
	DefaultEventChannel = "supportchat:events"
)

// HTTP Headers
const (
	HeaderAuthorization = "Authorization"
	HeaderRetryAfter    = "Retry-After"
	BearerPrefix        = "Bearer "
	BearerPrefixLength  = 7
)

// Error Messages
const (
	ErrMsgInvalidAuthHeader = "Invalid or missing Authorization header"
	ErrMsgInvalidToken      = "Invalid or expired token"
	ErrMsgForbidden         = "Insufficient permissions"
	ErrMsgInternalError     = "Internal server error"
	ErrMsgRateLimitExceeded = "Too many requests. Please try again later."
	ErrMsgInvalidTimeFormat = "Invalid time format. Use RFC3339 format."
	ErrMsgSessionIDRequired = "Session ID is required"
)

// MongoDB Field Names (BSON tags)
const (
	MongoFieldID           = "_id"
	MongoFieldUserID       = "uid"
	MongoFieldAgentID      = "agentId"
	MongoFieldStatus       = "status"
	MongoFieldEscalated    = "esc"
	MongoFieldMessages     = "msgs"
	MongoFieldCreatedAt    = "ts"
	MongoFieldLastActivity = "lastActivity"
	MongoFieldModified     = "_mt"
)

// MongoDB Index Names
const (
	IndexUserID             = "idx_user_id"
	IndexStatusLastActivity = "idx_status_last_activity"
	IndexLastActivity       = "idx_last_activity"
)

// Weak Secrets for validation (security check)
var WeakSecrets = []string{
	"secret", "test", "test123", "password", "admin",
	"changeme", "default", "example", "demo", "12345",
	"placeholder",
}

// Minimum Security Requirements
const (
	MinJWTSecretLength = 32 // Minimum length for JWT secret (256 bits)
)

// Retry After Calculation
const (
	MillisecondsPerSecond = 1000
	MinRetryAfterSeconds  = 1 // Minimum retry-after value in seconds
)

// Network configuration defaults
const (
	DefaultTrustedProxies         = "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"
	DefaultMetricsAllowedNetworks = "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8"
)
