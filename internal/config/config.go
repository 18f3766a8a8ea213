// Package config loads and validates the supportchat service settings.
// Values resolve with environment variables first, then the goconfig
// file, then built-in defaults, so Kubernetes secrets can override
// anything checked into config.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/real-rm/goconfig"

	"github.com/real-rm/supportchat/internal/constants"
)

// Config holds all service configuration
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Events       EventsConfig
	Notification NotificationConfig
}

// ServerConfig holds transport and HTTP-surface configuration
type ServerConfig struct {
	Port              int
	PathPrefix        string // HTTP path prefix for all routes (default: "/supportchat")
	JWTSecret         string
	MaxMessageSize    int64
	AllowedOrigins    []string // WebSocket Origin allowlist; empty accepts any origin
	CORSOrigins       []string // REST cross-origin callers; empty disables CORS
	TrustedProxies    []string
	MetricsNetworks   []string // CIDRs allowed to scrape Prometheus metrics
	MessageRateLimit  int      // Messages per window per connection
	MessageRateWindow time.Duration
	AdminRateLimit    int // Agent REST requests per window
	AdminRateWindow   time.Duration
}

// DatabaseConfig holds MongoDB naming and at-rest encryption settings.
// The connection itself is owned by gomongo.
type DatabaseConfig struct {
	Database      string
	Collection    string
	EncryptionKey []byte // 32 bytes enables AES-256 message encryption, empty disables it
}

// EventsConfig holds the cross-process event fan-out settings. An empty
// RedisURL runs the broker in single-process mode with local delivery
// only.
type EventsConfig struct {
	RedisURL string
	Channel  string
}

// NotificationConfig holds the SMTP escalation alert settings
type NotificationConfig struct {
	AdminEmails   []string
	From          string
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPass      string
	AgentPanelURL string // Link target embedded in alert emails
	Subject       string
}

// Enabled reports whether escalation emails can actually be sent
func (n NotificationConfig) Enabled() bool {
	return n.SMTPHost != "" && len(n.AdminEmails) > 0
}

// Load resolves the full configuration. A nil accessor is allowed;
// only environment variables and defaults apply then.
func Load(accessor *goconfig.ConfigAccessor) (*Config, error) {
	messageRateWindow, err := lookupDuration(accessor, "MESSAGE_RATE_WINDOW", "supportchat.message_rate_window", constants.DefaultRateWindow)
	if err != nil {
		return nil, err
	}
	adminRateWindow, err := lookupDuration(accessor, "ADMIN_RATE_WINDOW", "supportchat.admin_rate_window", constants.DefaultRateWindow)
	if err != nil {
		return nil, err
	}
	maxMessageSize, err := lookupInt64(accessor, "MAX_MESSAGE_SIZE", "supportchat.max_message_size", constants.DefaultMaxMessageSize)
	if err != nil {
		return nil, err
	}
	port, err := lookupInt(accessor, "SERVER_PORT", "supportchat.port", constants.DefaultPort)
	if err != nil {
		return nil, err
	}
	messageRateLimit, err := lookupInt(accessor, "MESSAGE_RATE_LIMIT", "supportchat.message_rate_limit", constants.DefaultRateLimit)
	if err != nil {
		return nil, err
	}
	adminRateLimit, err := lookupInt(accessor, "ADMIN_RATE_LIMIT", "supportchat.admin_rate_limit", constants.DefaultAdminRateLimit)
	if err != nil {
		return nil, err
	}
	smtpPort, err := lookupInt(accessor, "SMTP_PORT", "supportchat.smtp_port", 587)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:              port,
			PathPrefix:        lookupString(accessor, "SUPPORTCHAT_PATH_PREFIX", "supportchat.path_prefix", constants.DefaultPathPrefix),
			JWTSecret:         lookupString(accessor, "JWT_SECRET", "supportchat.jwt_secret", ""),
			MaxMessageSize:    maxMessageSize,
			AllowedOrigins:    splitList(lookupString(accessor, "ALLOWED_ORIGINS", "supportchat.allowed_origins", "")),
			CORSOrigins:       splitList(lookupString(accessor, "CORS_ALLOWED_ORIGINS", "supportchat.cors_allowed_origins", "")),
			TrustedProxies:    splitList(lookupString(accessor, "TRUSTED_PROXIES", "supportchat.trusted_proxies", constants.DefaultTrustedProxies)),
			MetricsNetworks:   splitList(lookupString(accessor, "METRICS_ALLOWED_NETWORKS", "supportchat.metrics_allowed_networks", constants.DefaultMetricsAllowedNetworks)),
			MessageRateLimit:  messageRateLimit,
			MessageRateWindow: messageRateWindow,
			AdminRateLimit:    adminRateLimit,
			AdminRateWindow:   adminRateWindow,
		},
		Database: DatabaseConfig{
			Database:      lookupString(accessor, "MONGO_DATABASE", "supportchat.database", constants.DefaultDatabase),
			Collection:    lookupString(accessor, "MONGO_COLLECTION", "supportchat.collection", constants.DefaultCollection),
			EncryptionKey: []byte(lookupString(accessor, "ENCRYPTION_KEY", "supportchat.encryption_key", "")),
		},
		Events: EventsConfig{
			RedisURL: lookupString(accessor, "REDIS_URL", "supportchat.redis_url", ""),
			Channel:  lookupString(accessor, "EVENT_CHANNEL", "supportchat.event_channel", constants.DefaultEventChannel),
		},
		Notification: NotificationConfig{
			AdminEmails:   splitList(lookupString(accessor, "ADMIN_EMAILS", "supportchat.admin_emails", "")),
			From:          lookupString(accessor, "EMAIL_FROM", "supportchat.email_from", ""),
			SMTPHost:      lookupString(accessor, "SMTP_HOST", "supportchat.smtp_host", ""),
			SMTPPort:      smtpPort,
			SMTPUser:      lookupString(accessor, "SMTP_USER", "supportchat.smtp_user", ""),
			SMTPPass:      lookupString(accessor, "SMTP_PASS", "supportchat.smtp_pass", ""),
			AgentPanelURL: lookupString(accessor, "AGENT_PANEL_URL", "supportchat.agent_panel_url", ""),
			Subject:       lookupString(accessor, "ESCALATION_SUBJECT", "supportchat.escalation_subject", constants.DefaultEscalationSubject),
		},
	}

	return cfg, nil
}

// Validate checks the configuration before serving traffic. It collects
// every problem rather than stopping at the first so a bad deploy shows
// all of its mistakes in one pass.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server port must be between 1 and 65535"))
	}

	if err := ValidateJWTSecret(c.Server.JWTSecret); err != nil {
		errs = append(errs, err)
	}

	if c.Server.PathPrefix == "" {
		errs = append(errs, errors.New("path prefix cannot be empty"))
	} else if !strings.HasPrefix(c.Server.PathPrefix, "/") {
		errs = append(errs, fmt.Errorf("path prefix must start with '/' (got: %s)", c.Server.PathPrefix))
	}

	if c.Server.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("max message size must be positive"))
	}
	if c.Server.MessageRateLimit <= 0 {
		errs = append(errs, errors.New("message rate limit must be positive"))
	}
	if c.Server.MessageRateWindow <= 0 {
		errs = append(errs, errors.New("message rate window must be positive"))
	}
	if c.Server.AdminRateLimit <= 0 {
		errs = append(errs, errors.New("admin rate limit must be positive"))
	}
	if c.Server.AdminRateWindow <= 0 {
		errs = append(errs, errors.New("admin rate window must be positive"))
	}

	for _, origin := range append(append([]string{}, c.Server.AllowedOrigins...), c.Server.CORSOrigins...) {
		if ContainsPlaceholder(origin) {
			errs = append(errs, fmt.Errorf("origin %q contains a placeholder value, set actual origins before deploying", origin))
		}
	}

	if c.Database.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}
	if c.Database.Collection == "" {
		errs = append(errs, errors.New("database collection is required"))
	}
	if err := ValidateEncryptionKey(c.Database.EncryptionKey); err != nil {
		errs = append(errs, err)
	}

	if c.Events.Channel == "" {
		errs = append(errs, errors.New("event channel cannot be empty"))
	}

	if c.Notification.SMTPHost != "" {
		if c.Notification.From == "" {
			errs = append(errs, errors.New("email from address is required when SMTP is configured"))
		}
		if len(c.Notification.AdminEmails) == 0 {
			errs = append(errs, errors.New("at least one admin email is required when SMTP is configured"))
		}
		if c.Notification.SMTPPort <= 0 || c.Notification.SMTPPort > 65535 {
			errs = append(errs, errors.New("SMTP port must be between 1 and 65535"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// ValidateJWTSecret rejects empty, short, weak, or placeholder secrets
func ValidateJWTSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if len(secret) < constants.MinJWTSecretLength {
		return fmt.Errorf(
			"JWT secret must be at least %d characters (got %d). "+
				"Generate a strong secret with: openssl rand -base64 32",
			constants.MinJWTSecretLength, len(secret))
	}

	if ContainsPlaceholder(secret) {
		return fmt.Errorf("JWT secret contains a placeholder value, set a real secret before deploying")
	}

	lowerSecret := strings.ToLower(secret)
	for _, weak := range constants.WeakSecrets {
		if strings.Contains(lowerSecret, weak) {
			return fmt.Errorf(
				"JWT secret appears to be weak (contains '%s'). "+
					"Use a cryptographically random secret generated with: openssl rand -base64 32",
				weak)
		}
	}

	return nil
}

// ValidateEncryptionKey accepts an empty key (encryption disabled) or
// exactly 32 bytes for AES-256
func ValidateEncryptionKey(key []byte) error {
	keyLen := len(key)

	// No else needed: early return pattern (guard clause)
	if keyLen == 0 {
		return nil
	}

	if ContainsPlaceholder(string(key)) {
		return fmt.Errorf("encryption key contains a placeholder value, set a real key before deploying")
	}

	// No else needed: early return pattern (guard clause)
	if keyLen == constants.EncryptionKeyLength {
		return nil
	}

	return fmt.Errorf("encryption key must be exactly %d bytes for AES-256, got %d bytes. Provide a valid %d-byte key or remove the key to disable encryption", constants.EncryptionKeyLength, keyLen, constants.EncryptionKeyLength)
}

// ContainsPlaceholder checks whether a configuration value still carries
// a deployment placeholder that should have been replaced
func ContainsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	return strings.Contains(upper, "REPLACE_WITH") ||
		strings.Contains(upper, "PLACEHOLDER") ||
		strings.Contains(upper, "CHANGE-ME") ||
		strings.Contains(upper, "CHANGE_ME") ||
		strings.Contains(upper, "YOUR-")
}

// Resolution helpers: environment variable first, then the config file,
// then the default.

func lookupString(accessor *goconfig.ConfigAccessor, envKey, configKey, defaultValue string) string {
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	// No else needed: early return pattern (guard clause)
	if accessor == nil {
		return defaultValue
	}
	value, err := accessor.ConfigStringWithDefault(configKey, defaultValue)
	if err != nil {
		return defaultValue
	}
	return value
}

func lookupInt(accessor *goconfig.ConfigAccessor, envKey, configKey string, defaultValue int) (int, error) {
	if raw := os.Getenv(envKey); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", envKey, err)
		}
		return value, nil
	}
	// No else needed: early return pattern (guard clause)
	if accessor == nil {
		return defaultValue, nil
	}
	value, err := accessor.ConfigIntWithDefault(configKey, defaultValue)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", configKey, err)
	}
	return value, nil
}

func lookupInt64(accessor *goconfig.ConfigAccessor, envKey, configKey string, defaultValue int64) (int64, error) {
	raw := lookupString(accessor, envKey, configKey, strconv.FormatInt(defaultValue, 10))
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", envKey, err)
	}
	return value, nil
}

func lookupDuration(accessor *goconfig.ConfigAccessor, envKey, configKey string, defaultValue time.Duration) (time.Duration, error) {
	raw := lookupString(accessor, envKey, configKey, defaultValue.String())
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", envKey, err)
	}
	return value, nil
}

// splitList parses a comma-separated value, trimming whitespace and
// dropping empty entries
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
