package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTokenExpired is returned when a token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed covers bad signatures, unexpected algorithms and broken structure.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenRevoked is returned for tokens whose jti sits in the denylist.
	ErrTokenRevoked = errors.New("token revoked")
)

// AuthenticationError reports a missing or unusable identity.
type AuthenticationError struct {
	Reason string
}

func (e AuthenticationError) Error() string {
	if e.Reason == "" {
		return "authentication required"
	}
	return e.Reason
}

// ForbiddenError indicates the identity lacks the role or ownership required.
type ForbiddenError struct {
	Required []Role
	Reason   string
}

func (e ForbiddenError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if len(e.Required) == 0 {
		return "forbidden"
	}
	names := make([]string, len(e.Required))
	for i, r := range e.Required {
		names[i] = string(r)
	}
	return fmt.Sprintf("one of roles %s required", strings.Join(names, ","))
}

// Identity is the authenticated caller as carried by a verified token.
type Identity struct {
	ID    string
	Email string
	Name  string
	Role  Role
}

// IsAuthenticationFailure reports whether err should surface as 401.
func IsAuthenticationFailure(err error) bool {
	var ae AuthenticationError
	return errors.As(err, &ae) || errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenMalformed) || errors.Is(err, ErrTokenRevoked)
}
