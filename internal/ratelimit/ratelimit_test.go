package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectionLimiter_Allow(t *testing.T) {
	cl := NewConnectionLimiter(3)

	// First 3 connections should be allowed
	assert.True(t, cl.Allow("ip:203.0.113.7"))
	assert.True(t, cl.Allow("ip:203.0.113.7"))
	assert.True(t, cl.Allow("ip:203.0.113.7"))

	// 4th connection should be denied
	assert.False(t, cl.Allow("ip:203.0.113.7"))

	// Different client should be allowed
	assert.True(t, cl.Allow("ip:203.0.113.8"))
}

func TestConnectionLimiter_Release(t *testing.T) {
	cl := NewConnectionLimiter(2)

	// Use up the limit
	cl.Allow("agent:agent-1")
	cl.Allow("agent:agent-1")
	assert.False(t, cl.Allow("agent:agent-1"))

	// Release one connection
	cl.Release("agent:agent-1")
	assert.True(t, cl.Allow("agent:agent-1"))
}

func TestConnectionLimiter_GetCount(t *testing.T) {
	cl := NewConnectionLimiter(5)

	assert.Equal(t, 0, cl.GetCount("ip:203.0.113.7"))

	cl.Allow("ip:203.0.113.7")
	assert.Equal(t, 1, cl.GetCount("ip:203.0.113.7"))

	cl.Allow("ip:203.0.113.7")
	assert.Equal(t, 2, cl.GetCount("ip:203.0.113.7"))

	cl.Release("ip:203.0.113.7")
	assert.Equal(t, 1, cl.GetCount("ip:203.0.113.7"))
}

func TestConnectionLimiter_ReleaseUnknownKey(t *testing.T) {
	cl := NewConnectionLimiter(2)

	// Releasing a key that never connected must not underflow
	cl.Release("ip:203.0.113.7")
	assert.Equal(t, 0, cl.GetCount("ip:203.0.113.7"))
	assert.True(t, cl.Allow("ip:203.0.113.7"))
}

func TestMessageLimiter_Allow(t *testing.T) {
	ml := NewMessageLimiter(1*time.Second, 3)

	// First 3 frames should be allowed
	assert.True(t, ml.Allow("conn-1"))
	assert.True(t, ml.Allow("conn-1"))
	assert.True(t, ml.Allow("conn-1"))

	// 4th frame should be denied
	assert.False(t, ml.Allow("conn-1"))

	// Different connection should be allowed
	assert.True(t, ml.Allow("conn-2"))
}

func TestMessageLimiter_WindowExpiry(t *testing.T) {
	ml := NewMessageLimiter(100*time.Millisecond, 2)

	// Use up the limit
	assert.True(t, ml.Allow("conn-1"))
	assert.True(t, ml.Allow("conn-1"))
	assert.False(t, ml.Allow("conn-1"))

	// Wait for window to expire
	time.Sleep(150 * time.Millisecond)

	// Should be allowed again
	assert.True(t, ml.Allow("conn-1"))
}

func TestMessageLimiter_GetRetryAfter(t *testing.T) {
	ml := NewMessageLimiter(1*time.Second, 2)

	// Use up the limit
	ml.Allow("conn-1")
	ml.Allow("conn-1")

	// Should have retry after value
	retryAfter := ml.GetRetryAfter("conn-1")
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, 1000) // Should be within 1 second

	// Connection with no events should have 0 retry after
	assert.Equal(t, 0, ml.GetRetryAfter("conn-2"))
}

func TestMessageLimiter_Reset(t *testing.T) {
	ml := NewMessageLimiter(1*time.Second, 2)

	// Use up the limit
	ml.Allow("conn-1")
	ml.Allow("conn-1")
	assert.False(t, ml.Allow("conn-1"))

	// Reset
	ml.Reset("conn-1")

	// Should be allowed again
	assert.True(t, ml.Allow("conn-1"))
}

func TestMessageLimiter_Cleanup(t *testing.T) {
	ml := NewMessageLimiter(100*time.Millisecond, 2)

	// Add events for multiple connections
	ml.Allow("conn-1")
	ml.Allow("conn-2")
	ml.Allow("conn-3")
	assert.Equal(t, 3, ml.KeyCount())

	// Wait for events to expire
	time.Sleep(150 * time.Millisecond)

	// Cleanup should remove expired events
	ml.Cleanup()
	assert.Equal(t, 0, ml.KeyCount())
}

func TestMessageLimiter_CleanupKeepsActiveKeys(t *testing.T) {
	ml := NewMessageLimiter(200*time.Millisecond, 10)

	ml.Allow("stale-conn")
	time.Sleep(250 * time.Millisecond)
	ml.Allow("live-conn")

	ml.Cleanup()

	// Only the expired key is dropped
	assert.Equal(t, 1, ml.KeyCount())
	assert.False(t, func() bool {
		ml.mu.RLock()
		defer ml.mu.RUnlock()
		_, ok := ml.events["stale-conn"]
		return ok
	}())
}

func TestMessageLimiter_CleanupLifecycle(t *testing.T) {
	ml := NewMessageLimiter(50*time.Millisecond, 5)
	ml.cleanupInterval = 20 * time.Millisecond

	ml.StartCleanup()

	ml.Allow("conn-1")
	ml.Allow("conn-2")

	// The background loop scrubs expired keys without manual Cleanup calls
	assert.Eventually(t, func() bool {
		return ml.KeyCount() == 0
	}, 1*time.Second, 10*time.Millisecond)

	ml.StopCleanup()
}

func TestMessageLimiter_StopCleanupIsIdempotent(t *testing.T) {
	ml := NewMessageLimiter(1*time.Second, 5)
	ml.StartCleanup()

	assert.NotPanics(t, func() {
		ml.StopCleanup()
		ml.StopCleanup()
	})
}

func TestMessageLimiter_StopWithoutStart(t *testing.T) {
	ml := NewMessageLimiter(1*time.Second, 5)

	assert.NotPanics(t, func() {
		ml.StopCleanup()
	})
}

func TestMessageLimiter_ConcurrentAccess(t *testing.T) {
	ml := NewMessageLimiter(1*time.Second, 100)

	// Test concurrent access from multiple goroutines
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 20; j++ {
				ml.Allow("conn-1")
			}
			done <- true
		}()
	}

	// Wait for all goroutines
	for i := 0; i < 10; i++ {
		<-done
	}

	// Should have exactly 100 events (the limit)
	ml.mu.RLock()
	count := len(ml.events["conn-1"])
	ml.mu.RUnlock()
	assert.Equal(t, 100, count)
}

func TestConnectionLimiter_ConcurrentAccess(t *testing.T) {
	cl := NewConnectionLimiter(50)

	// Test concurrent access from multiple goroutines
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 10; j++ {
				cl.Allow("ip:203.0.113.7")
			}
			done <- true
		}()
	}

	// Wait for all goroutines
	for i := 0; i < 10; i++ {
		<-done
	}

	// Should have exactly 50 connections (the limit)
	assert.Equal(t, 50, cl.GetCount("ip:203.0.113.7"))
}
