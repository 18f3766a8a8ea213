// Package auth verifies the JWTs that agent connections and admin REST
// calls present. Tokens are issued elsewhere (company SSO); this service
// only validates signatures and extracts identity claims. End users never
// authenticate, so everything here is agent-side.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is malformed or invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired
	ErrExpiredToken = errors.New("token has expired")
	// ErrInvalidSignature is returned when the token signature is invalid
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrMissingClaims is returned when required claims are missing
	ErrMissingClaims = errors.New("missing required claims")
)

// Claims is the agent identity carried by a validated token. UserID and
// Name feed the chat transcript; Roles gate the admin surface.
type Claims struct {
	UserID string
	Name   string
	Roles  []string
}

// JWTValidator validates HMAC-signed tokens against a shared secret
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator for the given signing secret
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{
		secret: []byte(secret),
	}
}

// ValidateToken checks signature and expiry, then extracts the identity
// claims. The user_id and roles claims are mandatory; name falls back to
// user_id when absent.
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	// No else needed: early return pattern (guard clause)
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Only HMAC is accepted; an attacker must not be able to switch
		// the algorithm to none or to an asymmetric scheme
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method: %v", ErrInvalidSignature, token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		case errors.Is(err, jwt.ErrSignatureInvalid):
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	// No else needed: early return pattern (guard clause)
	if !token.Valid {
		return nil, fmt.Errorf("%w: token is not valid", ErrInvalidToken)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	// No else needed: early return pattern (guard clause)
	if !ok {
		return nil, fmt.Errorf("%w: unable to parse claims", ErrInvalidToken)
	}

	return claimsFrom(mapClaims)
}

// claimsFrom builds the typed claims from the raw claim map
func claimsFrom(mapClaims jwt.MapClaims) (*Claims, error) {
	userID, ok := mapClaims["user_id"].(string)
	// No else needed: early return pattern (guard clause)
	if !ok || userID == "" {
		return nil, fmt.Errorf("%w: user_id claim missing or invalid", ErrMissingClaims)
	}

	name, _ := mapClaims["name"].(string)
	// The transcript always needs a display name to attribute agent
	// messages, so an absent name degrades to the id
	if name == "" {
		name = userID
	}

	rawRoles, ok := mapClaims["roles"]
	// No else needed: early return pattern (guard clause)
	if !ok {
		return nil, fmt.Errorf("%w: roles claim missing", ErrMissingClaims)
	}

	roles, err := parseRoles(rawRoles)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingClaims, err)
	}

	return &Claims{
		UserID: userID,
		Name:   name,
		Roles:  roles,
	}, nil
}

// parseRoles converts the roles claim to a string slice. JSON decoding
// yields []interface{}; []string shows up from tests and Go-side issuers.
func parseRoles(raw interface{}) ([]string, error) {
	switch typed := raw.(type) {
	case []interface{}:
		roles := make([]string, len(typed))
		for i, role := range typed {
			roleStr, ok := role.(string)
			// No else needed: early return pattern (guard clause)
			if !ok {
				return nil, fmt.Errorf("roles array contains non-string value at index %d", i)
			}
			roles[i] = roleStr
		}
		return roles, nil
	case []string:
		return typed, nil
	default:
		return nil, fmt.Errorf("roles claim must be an array of strings")
	}
}
