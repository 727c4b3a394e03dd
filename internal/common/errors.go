// Package common defines shared constants and sentinel errors used across
// tokensvc components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrTokenRevoked        = errors.New("token revoked")
	ErrQuotaExceeded       = errors.New("active token quota exceeded")

	// Exchange-code errors. A code that was already consumed and a code that
	// never existed are indistinguishable to callers on purpose.
	ErrCodeUnavailable = errors.New("exchange code unavailable")

	// State machine errors.
	ErrInvalidTransition = errors.New("invalid state transition")
)
