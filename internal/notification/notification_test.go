package notification

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/real-rm/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/real-rm/supportchat/internal/config"
	"github.com/real-rm/supportchat/internal/constants"
)

var errSMTPDown = errors.New("smtp: connection refused")

// fakeSender records outgoing messages instead of dialing an SMTP host.
type fakeSender struct {
	mu   sync.Mutex
	sent []*gomail.Message
	err  error
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func setupTestLogger(t *testing.T) *golog.Logger {
	t.Helper()

	logger, err := golog.InitLog(golog.LogConfig{
		Dir:            t.TempDir(),
		Level:          "error",
		StandardOutput: false,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	return logger
}

func newTestService(t *testing.T, sender mailSender) *Service {
	t.Helper()

	cfg := config.NotificationConfig{
		AdminEmails:   []string{"oncall@example.com", "lead@example.com"},
		From:          "supportchat@example.com",
		SMTPHost:      "smtp.example.com",
		SMTPPort:      587,
		AgentPanelURL: "https://agents.example.com/sessions",
		Subject:       constants.DefaultEscalationSubject,
	}

	svc := New(cfg, setupTestLogger(t))
	svc.sender = sender
	return svc
}

func TestNew(t *testing.T) {
	cfg := config.NotificationConfig{
		AdminEmails: []string{"oncall@example.com"},
		From:        "supportchat@example.com",
		SMTPHost:    "smtp.example.com",
		SMTPPort:    587,
		Subject:     constants.DefaultEscalationSubject,
	}

	svc := New(cfg, setupTestLogger(t))

	require.NotNil(t, svc)
	assert.NotNil(t, svc.sender)
	assert.NotNil(t, svc.limiter)
}

func TestRateLimiter_Allow(t *testing.T) {
	t.Run("allows up to the limit then blocks", func(t *testing.T) {
		rl := NewRateLimiter(time.Minute, 3)

		for i := 0; i < 3; i++ {
			assert.True(t, rl.Allow("session-1"), "attempt %d should pass", i+1)
		}
		assert.False(t, rl.Allow("session-1"))
	})

	t.Run("an expired window frees the key", func(t *testing.T) {
		rl := NewRateLimiter(20*time.Millisecond, 1)

		require.True(t, rl.Allow("session-1"))
		require.False(t, rl.Allow("session-1"))

		time.Sleep(40 * time.Millisecond)

		assert.True(t, rl.Allow("session-1"))
	})

	t.Run("keys are tracked independently", func(t *testing.T) {
		rl := NewRateLimiter(time.Minute, 1)

		assert.True(t, rl.Allow("session-1"))
		assert.True(t, rl.Allow("session-2"))
		assert.False(t, rl.Allow("session-1"))
	})

	t.Run("expired entries are scrubbed on the next call", func(t *testing.T) {
		rl := NewRateLimiter(10*time.Millisecond, 1)

		require.True(t, rl.Allow("session-1"))
		time.Sleep(30 * time.Millisecond)
		require.True(t, rl.Allow("session-1"))

		rl.mu.RLock()
		events := rl.events["session-1"]
		rl.mu.RUnlock()

		assert.Len(t, events, 1)
	})
}

func TestNotifyEscalation(t *testing.T) {
	t.Run("sends one email to every admin", func(t *testing.T) {
		sender := &fakeSender{}
		svc := newTestService(t, sender)

		err := svc.NotifyEscalation("session-1", "user@example.com", "billing dispute")

		require.NoError(t, err)
		require.Len(t, sender.sent, 1)

		m := sender.sent[0]
		assert.Equal(t, []string{"supportchat@example.com"}, m.GetHeader("From"))
		assert.Equal(t, []string{"oncall@example.com", "lead@example.com"}, m.GetHeader("To"))

		subject := m.GetHeader("Subject")
		require.Len(t, subject, 1)
		assert.Contains(t, subject[0], constants.DefaultEscalationSubject)
		assert.Contains(t, subject[0], "session-1")
	})

	t.Run("repeat alerts for one session are suppressed", func(t *testing.T) {
		sender := &fakeSender{}
		svc := newTestService(t, sender)

		for i := 0; i < 5; i++ {
			require.NoError(t, svc.NotifyEscalation("session-1", "user@example.com", "still waiting"))
		}

		assert.Len(t, sender.sent, 3)
	})

	t.Run("sessions are limited independently", func(t *testing.T) {
		sender := &fakeSender{}
		svc := newTestService(t, sender)

		for i := 0; i < 4; i++ {
			require.NoError(t, svc.NotifyEscalation("session-1", "", ""))
		}
		require.NoError(t, svc.NotifyEscalation("session-2", "", ""))

		assert.Len(t, sender.sent, 4)
	})

	t.Run("delivery failure surfaces as an error", func(t *testing.T) {
		sender := &fakeSender{err: errSMTPDown}
		svc := newTestService(t, sender)

		err := svc.NotifyEscalation("session-1", "user@example.com", "billing dispute")

		require.Error(t, err)
		assert.ErrorIs(t, err, errSMTPDown)
		assert.Contains(t, err.Error(), "failed to send escalation email")
	})
}
