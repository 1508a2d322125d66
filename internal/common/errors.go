// Package common defines shared constants and sentinel errors used across
// client and server layers of sessiond. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Credential errors. ErrInvalidCredentials covers both "no such user"
	// and "wrong password" so the two cases stay indistinguishable.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")

	// Access token errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Refresh token lifecycle errors.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrUserNotFound        = errors.New("user not found")

	// ErrSessionExpired is surfaced by the client transport once a refresh
	// attempt fails and the local session has been cleared.
	ErrSessionExpired = errors.New("session expired")
)
