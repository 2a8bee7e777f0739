package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned by Login for an unknown user or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is the single externally visible token failure.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMalformedToken means the token could not be parsed or its signature did not verify.
	ErrMalformedToken = errors.New("malformed token")

	// ErrExpiredToken means the signature is valid but the token is past its expiry.
	ErrExpiredToken = errors.New("expired token")

	// ErrRevokedToken means the token or its user was revoked.
	ErrRevokedToken = errors.New("revoked token")

	// ErrWrongKind means an access token was presented where a refresh token is required, or vice versa.
	ErrWrongKind = errors.New("wrong token kind")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// AuthError wraps the internal reason for a token rejection.
// errors.Is(err, ErrInvalidToken) is always true.
type AuthError struct {
	Reason error
}

func (e AuthError) Error() string {
	if e.Reason == nil {
		return ErrInvalidToken.Error()
	}
	return fmt.Sprintf("%s: %v", ErrInvalidToken.Error(), e.Reason)
}

func (e AuthError) Is(target error) bool { return target == ErrInvalidToken }

func (e AuthError) Unwrap() error { return e.Reason }

func reject(reason error) error { return AuthError{Reason: reason} }

// Reason returns a short label for a token rejection, for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrRevokedToken):
		return "revoked"
	case errors.Is(err, ErrWrongKind):
		return "wrong_kind"
	case errors.Is(err, ErrMalformedToken):
		return "malformed"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrInvalidToken):
		return "invalid"
	default:
		return "error"
	}
}
