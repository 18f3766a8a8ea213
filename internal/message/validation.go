package message

import (
	"fmt"
	"strings"
)

// Validation constants
const (
	MaxTextLength       = 10000 // Maximum message text length in characters
	MaxReasonLength     = 2000  // Maximum escalation reason length
	MaxSessionIDLength  = 128   // Maximum session ID length
	MaxIdentifierLength = 320   // Maximum user identifier length (longest valid email)
)

// ValidationError represents a missing or invalid field in an inbound envelope
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// LengthError represents a field value exceeding its maximum length
type LengthError struct {
	Field  string
	Length int
	Max    int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("field '%s' is %d characters, maximum is %d", e.Field, e.Length, e.Max)
}

// IsBlank reports whether text is empty or whitespace-only. Blank user
// messages are skipped silently rather than persisted.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// sanitizeString sanitizes a string by removing null bytes and trimming whitespace.
// HTML escaping is NOT applied here; it belongs at render time only.
func sanitizeString(s string) string {
	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	// Trim whitespace
	s = strings.TrimSpace(s)

	return s
}

func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return &ValidationError{Field: "session_id", Message: "session_id is required"}
	}
	if len(sessionID) > MaxSessionIDLength {
		return &LengthError{Field: "session_id", Length: len(sessionID), Max: MaxSessionIDLength}
	}
	return nil
}

func validateTextLength(text string) error {
	if len(text) > MaxTextLength {
		return &LengthError{Field: "text", Length: len(text), Max: MaxTextLength}
	}
	return nil
}

func validateReasonLength(reason string) error {
	if len(reason) > MaxReasonLength {
		return &LengthError{Field: "reason", Length: len(reason), Max: MaxReasonLength}
	}
	return nil
}

func validateIdentifier(identifier string) error {
	if len(identifier) > MaxIdentifierLength {
		return &LengthError{Field: "user_identifier", Length: len(identifier), Max: MaxIdentifierLength}
	}
	return nil
}
