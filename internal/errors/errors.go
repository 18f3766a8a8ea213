// Package errors provides error handling functionality for the support chat broker.
// It defines error categories, error types, and error message generation.
package errors

import (
	"fmt"

	"github.com/real-rm/supportchat/internal/message"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryAuth represents authentication and authorization errors
	CategoryAuth ErrorCategory = "auth"
	// CategoryValidation represents input validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategorySession represents session state errors (unknown, resolved)
	CategorySession ErrorCategory = "session"
	// CategoryStore represents durable store errors
	CategoryStore ErrorCategory = "store"
	// CategoryRateLimit represents rate limiting errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Authentication errors
	ErrCodeAuthRequired      ErrorCode = "AUTH_REQUIRED"
	ErrCodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	ErrCodeExpiredToken      ErrorCode = "EXPIRED_TOKEN"
	ErrCodeInsufficientPerms ErrorCode = "INSUFFICIENT_PERMISSIONS"

	// Validation errors
	ErrCodeMalformedEnvelope ErrorCode = "MALFORMED_ENVELOPE"
	ErrCodeMissingField      ErrorCode = "MISSING_FIELD"
	ErrCodeTextTooLong       ErrorCode = "TEXT_TOO_LONG"

	// Session state errors
	ErrCodeUnknownSession ErrorCode = "UNKNOWN_SESSION"
	ErrCodeSessionClosed  ErrorCode = "SESSION_CLOSED"

	// Store errors
	ErrCodeStoreFailure ErrorCode = "STORE_FAILURE"

	// Rate limiting errors
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	ErrCodeConnectionLimit ErrorCode = "CONNECTION_LIMIT_EXCEEDED"
)

// ChatError represents an application error with category and recoverability information
type ChatError struct {
	Category    ErrorCategory
	Code        ErrorCode
	Message     string
	Recoverable bool
	RetryAfter  int // milliseconds, only for rate limit errors
	Cause       error
}

// Error implements the error interface
func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// IsFatal returns true if the error is fatal and requires connection closure
func (e *ChatError) IsFatal() bool {
	return !e.Recoverable
}

// ToErrorInfo converts a ChatError to a message.ErrorInfo for wire protocol
func (e *ChatError) ToErrorInfo() *message.ErrorInfo {
	return &message.ErrorInfo{
		Code:        string(e.Code),
		Message:     e.Message,
		Recoverable: e.Recoverable,
		RetryAfter:  e.RetryAfter,
	}
}

// NewAuthError creates a new authentication error (fatal)
func NewAuthError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryAuth,
		Code:        code,
		Message:     message,
		Recoverable: false, // Auth errors are fatal
		Cause:       cause,
	}
}

// NewValidationError creates a new validation error (recoverable)
func NewValidationError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryValidation,
		Code:        code,
		Message:     message,
		Recoverable: true, // Validation errors never close the connection
		Cause:       cause,
	}
}

// NewSessionError creates a new session state error (recoverable)
func NewSessionError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategorySession,
		Code:        code,
		Message:     message,
		Recoverable: true, // The connection may serve other envelopes
		Cause:       cause,
	}
}

// NewStoreError creates a new durable store error (recoverable with retry)
func NewStoreError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryStore,
		Code:        code,
		Message:     message,
		Recoverable: true, // The sender may retry the same message
		Cause:       cause,
	}
}

// NewRateLimitError creates a new rate limit error (recoverable with retry after)
func NewRateLimitError(code ErrorCode, message string, retryAfter int, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryRateLimit,
		Code:        code,
		Message:     message,
		Recoverable: true,
		RetryAfter:  retryAfter,
		Cause:       cause,
	}
}

// Common error constructors for convenience

// ErrAuthRequired creates an error for admin operations on unauthenticated connections
func ErrAuthRequired() *ChatError {
	return NewAuthError(ErrCodeAuthRequired, "Authentication required for this operation", nil)
}

// ErrInvalidToken creates an invalid token error
func ErrInvalidToken(cause error) *ChatError {
	return NewAuthError(ErrCodeInvalidToken, "Invalid authentication token", cause)
}

// ErrExpiredToken creates an expired token error
func ErrExpiredToken(cause error) *ChatError {
	return NewAuthError(ErrCodeExpiredToken, "Authentication token has expired", cause)
}

// ErrInsufficientPermissions creates an insufficient permissions error
func ErrInsufficientPermissions(cause error) *ChatError {
	return NewAuthError(ErrCodeInsufficientPerms, "Insufficient permissions for this operation", cause)
}

// ErrMalformedEnvelope creates an error for unparseable or unknown inbound envelopes.
// The connection stays open; only the offending envelope is rejected.
func ErrMalformedEnvelope(details string, cause error) *ChatError {
	return NewValidationError(ErrCodeMalformedEnvelope, fmt.Sprintf("Malformed envelope: %s", details), cause)
}

// ErrMissingField creates a missing field error
func ErrMissingField(fieldName string) *ChatError {
	return NewValidationError(ErrCodeMissingField, fmt.Sprintf("Required field missing: %s", fieldName), nil)
}

// ErrTextTooLong creates an error for oversized message text
func ErrTextTooLong(length, maxLength int) *ChatError {
	return NewValidationError(ErrCodeTextTooLong,
		fmt.Sprintf("Message text %d characters exceeds maximum %d", length, maxLength), nil)
}

// ErrUnknownSession creates an error for agent operations on nonexistent sessions
func ErrUnknownSession(sessionID string) *ChatError {
	return NewSessionError(ErrCodeUnknownSession,
		fmt.Sprintf("Session %s does not exist", sessionID), nil)
}

// ErrSessionClosed creates an error for messages to resolved sessions.
// Distinct from generic failures so clients can render the closed state.
func ErrSessionClosed(sessionID string) *ChatError {
	return NewSessionError(ErrCodeSessionClosed,
		fmt.Sprintf("Session %s is resolved and no longer accepts messages", sessionID), nil)
}

// ErrStoreFailure creates an error for failed durable writes.
// The message was not acknowledged; the sender should retry.
func ErrStoreFailure(cause error) *ChatError {
	return NewStoreError(ErrCodeStoreFailure, "Message could not be persisted, please retry", cause)
}

// ErrTooManyRequests creates a too many requests error
func ErrTooManyRequests(retryAfter int) *ChatError {
	return NewRateLimitError(ErrCodeTooManyRequests,
		"Too many requests, please slow down", retryAfter, nil)
}

// ErrConnectionLimitExceeded creates a connection limit exceeded error
func ErrConnectionLimitExceeded(retryAfter int) *ChatError {
	return NewRateLimitError(ErrCodeConnectionLimit,
		"Connection limit exceeded, please try again later", retryAfter, nil)
}
