// Package httperrors renders structured error responses for the REST
// surface. Responses carry a stable code for client-side handling and
// the request id assigned by the middleware, and never leak internal
// implementation details.
package httperrors

import (
	"github.com/gin-gonic/gin"

	"github.com/real-rm/supportchat/internal/util"
)

// HeaderRequestID is the response header echoing the request's trace id
const HeaderRequestID = "X-Request-Id"

// ErrorResponse is the JSON body of every REST error
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Generic client-facing messages. Detail stays in the server logs.
const (
	MsgUnauthorized      = "Authentication required"
	MsgInvalidToken      = "Invalid or expired authentication token"
	MsgInvalidAuthHeader = "Invalid authorization header"
	MsgForbidden         = "Insufficient permissions"
	MsgInternalError     = "An internal error occurred"
	MsgRateLimited       = "Too many requests. Please try again later."
	MsgBadRequest        = "Bad request"
	MsgInvalidTimeFormat = "Invalid time format, expected RFC3339"
	MsgSessionNotFound   = "Session not found"
	MsgSessionClosed     = "Session is resolved and no longer accepts messages"
)

// Stable error codes for client-side handling
const (
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeInvalidToken  = "INVALID_TOKEN"
	CodeForbidden     = "FORBIDDEN"
	CodeInternalError = "INTERNAL_ERROR"
	CodeRateLimited   = "RATE_LIMITED"
	CodeNotFound      = "NOT_FOUND"
	CodeBadRequest    = "BAD_REQUEST"
	CodeSessionClosed = "SESSION_CLOSED"
)

// respond writes the error body, attaching the request id when the
// middleware set one.
func respond(c *gin.Context, status int, message, code string) {
	c.JSON(status, ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: util.TraceIDFromContext(c.Request.Context()),
	})
}

// RespondUnauthorized sends a 401 response
func RespondUnauthorized(c *gin.Context, message string) {
	// No else needed: conditional assignment, value already set if condition is false
	if message == "" {
		message = MsgUnauthorized
	}
	respond(c, 401, message, CodeUnauthorized)
}

// RespondInvalidToken sends a 401 response for invalid tokens
func RespondInvalidToken(c *gin.Context) {
	respond(c, 401, MsgInvalidToken, CodeInvalidToken)
}

// RespondForbidden sends a 403 response
func RespondForbidden(c *gin.Context) {
	respond(c, 403, MsgForbidden, CodeForbidden)
}

// RespondBadRequest sends a 400 response
func RespondBadRequest(c *gin.Context, message string) {
	// No else needed: conditional assignment, value already set if condition is false
	if message == "" {
		message = MsgBadRequest
	}
	respond(c, 400, message, CodeBadRequest)
}

// RespondInternalError sends a 500 response
func RespondInternalError(c *gin.Context) {
	respond(c, 500, MsgInternalError, CodeInternalError)
}

// RespondRateLimited sends a 429 response. Callers set the Retry-After
// header before calling.
func RespondRateLimited(c *gin.Context) {
	respond(c, 429, MsgRateLimited, CodeRateLimited)
}

// RespondNotFound sends a 404 response
func RespondNotFound(c *gin.Context, message string) {
	// No else needed: conditional assignment, value already set if condition is false
	if message == "" {
		message = MsgSessionNotFound
	}
	respond(c, 404, message, CodeNotFound)
}

// RespondConflict sends a 409 response, used when a write targets a
// resolved session.
func RespondConflict(c *gin.Context, message string) {
	respond(c, 409, message, CodeSessionClosed)
}
