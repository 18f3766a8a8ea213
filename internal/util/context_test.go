package util

import (
	"context"
	"testing"
	"time"
)

func TestNewTimeoutContextExpires(t *testing.T) {
	ctx, cancel := NewTimeoutContext(20 * time.Millisecond)
	defer cancel()

	select {
	case <-ctx.Done():
		if ctx.Err() != context.DeadlineExceeded {
			t.Errorf("expected DeadlineExceeded, got %v", ctx.Err())
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("context did not expire within its timeout")
	}
}

func TestNewTimeoutContextCancel(t *testing.T) {
	ctx, cancel := NewTimeoutContext(time.Hour)
	cancel()

	if ctx.Err() != context.Canceled {
		t.Errorf("expected Canceled after cancel(), got %v", ctx.Err())
	}
}

func TestNewDefaultTimeoutContext(t *testing.T) {
	ctx, cancel := NewDefaultTimeoutContext()
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline to be set")
	}
	if time.Until(deadline) <= 0 {
		t.Error("deadline should be in the future")
	}
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := ContextWithTraceID(context.Background(), "trace-42")
	if got := TraceIDFromContext(ctx); got != "trace-42" {
		t.Errorf("TraceIDFromContext() = %q, want %q", got, "trace-42")
	}
}

func TestTraceIDMissing(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("TraceIDFromContext() on bare context = %q, want empty", got)
	}
}

func TestNewContextWithTraceIDGenerates(t *testing.T) {
	ctx := NewContextWithTraceID(context.Background())

	id := TraceIDFromContext(ctx)
	if len(id) != 32 {
		t.Errorf("generated trace id should be 32 hex chars, got %d (%q)", len(id), id)
	}

	other := TraceIDFromContext(NewContextWithTraceID(context.Background()))
	if id == other {
		t.Error("two generated trace ids should differ")
	}
}
