package util

import (
	"errors"
	"strings"
)

var (
	// ErrMissingAuthHeader is returned when the Authorization header is missing
	ErrMissingAuthHeader = errors.New("missing Authorization header")
	// ErrInvalidAuthHeader is returned when the Authorization header format is invalid
	ErrInvalidAuthHeader = errors.New("invalid Authorization header format")
)

const bearerPrefix = "Bearer "

// ExtractBearerToken extracts the token from a "Bearer <token>"
// Authorization header value.
func ExtractBearerToken(authHeader string) (string, error) {
	// No else needed: early return pattern (guard clause)
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}

	// No else needed: early return pattern (guard clause)
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", ErrInvalidAuthHeader
	}

	token := strings.TrimPrefix(authHeader, bearerPrefix)
	// No else needed: early return pattern (guard clause)
	if token == "" {
		return "", ErrInvalidAuthHeader
	}

	return token, nil
}

// HasRole reports whether userRoles contains any of the required roles.
//
// Example:
//
//	if util.HasRole(claims.Roles, "admin", "chat_admin") {
//	    // User has admin access
//	}
func HasRole(userRoles []string, requiredRoles ...string) bool {
	for _, role := range userRoles {
		for _, required := range requiredRoles {
			if role == required {
				return true
			}
		}
	}
	return false
}
