// Package notification sends escalation alerts to the support team over
// SMTP. Alerts are rate limited per session so a flapping client cannot
// flood the on-call inbox.
package notification

import (
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/real-rm/golog"
	"gopkg.in/gomail.v2"

	"github.com/real-rm/supportchat/internal/config"
	"github.com/real-rm/supportchat/internal/constants"
	"github.com/real-rm/supportchat/internal/util"
)

// mailSender abstracts gomail's delivery call so tests can intercept
// outgoing messages.
type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Service delivers escalation alert emails
type Service struct {
	sender  mailSender
	cfg     config.NotificationConfig
	logger  *golog.Logger
	limiter *RateLimiter
}

// RateLimiter prevents notification flooding
type RateLimiter struct {
	events map[string][]time.Time
	window time.Duration
	limit  int
	mu     sync.RWMutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(window time.Duration, limit int) *RateLimiter {
	return &RateLimiter{
		events: make(map[string][]time.Time),
		window: window,
		limit:  limit,
	}
}

// Allow checks if an event is allowed based on rate limiting
func (rl *RateLimiter) Allow(eventKey string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	// Cap map growth: reject new keys when at capacity
	const maxTrackedEvents = 100000
	events := rl.events[eventKey]
	if events == nil && len(rl.events) >= maxTrackedEvents {
		return false
	}

	// Filter out old events
	var recentEvents []time.Time
	for _, t := range events {
		if t.After(cutoff) {
			recentEvents = append(recentEvents, t)
		}
	}

	// Remove keys with no recent events to prevent unbounded map growth
	if len(recentEvents) == 0 && len(events) > 0 {
		delete(rl.events, eventKey)
	}

	// Check if we're under the limit
	if len(recentEvents) >= rl.limit {
		rl.events[eventKey] = recentEvents
		return false
	}

	// Add this event
	recentEvents = append(recentEvents, now)
	rl.events[eventKey] = recentEvents

	return true
}

// New creates the notification service. Callers should check
// cfg.Enabled() first; a service built from an empty SMTP section will
// fail on every send.
func New(cfg config.NotificationConfig, logger *golog.Logger) *Service {
	dialer := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)

	// Max 3 alerts per session within the suppression window; repeated
	// escalations of the same stuck session collapse into one page
	limiter := NewRateLimiter(constants.NotifyRateWindow, 3)

	return &Service{
		sender:  dialer,
		cfg:     cfg,
		logger:  logger.WithGroup("notification"),
		limiter: limiter,
	}
}

// NotifyEscalation emails the support team that a session is waiting for
// an agent. Suppressed duplicates are not an error.
func (s *Service) NotifyEscalation(sessionID, userIdentifier, reason string) error {
	eventKey := fmt.Sprintf("escalation:%s", sessionID)

	// No else needed: early return pattern (guard clause)
	if !s.limiter.Allow(eventKey) {
		s.logger.Warn("Escalation alert rate limited", "session_id", sessionID)
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", s.cfg.AdminEmails...)
	m.SetHeader("Subject", fmt.Sprintf("%s - session %s", s.cfg.Subject, sessionID))
	m.SetBody("text/plain", buildEscalationText(sessionID, userIdentifier, reason))
	m.AddAlternative("text/html", buildEscalationHTML(sessionID, userIdentifier, reason, s.cfg.AgentPanelURL))

	if err := s.sender.DialAndSend(m); err != nil {
		util.LogError(s.logger, "notification", "send escalation email", err, "session_id", sessionID)
		return fmt.Errorf("failed to send escalation email: %w", err)
	}

	s.logger.Info("Escalation email sent",
		"session_id", sessionID,
		"recipients", len(s.cfg.AdminEmails))

	return nil
}

// buildEscalationText builds the plain-text body for escalation alerts
func buildEscalationText(sessionID, userIdentifier, reason string) string {
	if userIdentifier == "" {
		userIdentifier = "anonymous"
	}
	if reason == "" {
		reason = "none given"
	}
	return fmt.Sprintf("Escalation - Session: %s, User: %s, Reason: %s, Time: %s",
		sessionID, userIdentifier, reason, time.Now().Format(time.RFC3339))
}

// buildEscalationHTML builds the HTML body for escalation alert emails.
// If panelURL is empty, no link is rendered (safe fallback).
func buildEscalationHTML(sessionID, userIdentifier, reason, panelURL string) string {
	timestamp := time.Now().Format(time.RFC3339)
	if userIdentifier == "" {
		userIdentifier = "anonymous"
	}
	if reason == "" {
		reason = "none given"
	}
	safeSessionID := html.EscapeString(sessionID)
	safeUser := html.EscapeString(userIdentifier)
	safeReason := html.EscapeString(reason)
	linkSection := "<p>Please open the agent panel to claim this session.</p>"
	if panelURL != "" {
		safePanelURL := html.EscapeString(panelURL)
		linkSection = fmt.Sprintf(`<p><a href="%s/%s">Open Session</a></p>`, safePanelURL, safeSessionID)
	}
	return fmt.Sprintf(`
		<h2>Support Escalation</h2>
		<p>A user is waiting for an agent.</p>
		<ul>
			<li><strong>Session ID:</strong> %s</li>
			<li><strong>User:</strong> %s</li>
			<li><strong>Reason:</strong> %s</li>
			<li><strong>Time:</strong> %s</li>
		</ul>
		%s
	`, safeSessionID, safeUser, safeReason, timestamp, linkSection)
}
