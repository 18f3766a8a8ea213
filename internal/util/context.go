// Package util provides small shared helpers: bounded contexts with
// trace ids, panic-safe goroutines, JSON wrappers, and auth header
// parsing.
package util

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/real-rm/supportchat/internal/constants"
)

// contextKey is an unexported type for context keys in this package
type contextKey string

const traceIDKey contextKey = "trace_id"

// NewTimeoutContext creates a background context with the given timeout.
// Store calls are the only blocking operations in the broker, and every
// one of them runs under a context built here.
func NewTimeoutContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// NewDefaultTimeoutContext creates a context with the standard database
// operation timeout.
func NewDefaultTimeoutContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), constants.DefaultContextTimeout)
}

// NewContextWithTraceID returns a child context carrying a freshly
// generated trace id.
func NewContextWithTraceID(parent context.Context) context.Context {
	return context.WithValue(parent, traceIDKey, generateTraceID())
}

// ContextWithTraceID returns a child context carrying the given trace id
func ContextWithTraceID(parent context.Context, traceID string) context.Context {
	return context.WithValue(parent, traceIDKey, traceID)
}

// TraceIDFromContext extracts the trace id, or "" when none is set
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// generateTraceID creates a random 16-byte hex trace id
func generateTraceID() string {
	b := make([]byte, 16)
	// No else needed: fallback id when the system entropy source fails
	if _, err := rand.Read(b); err != nil {
		return "00000000000000000000000000000000"
	}
	return hex.EncodeToString(b)
}
