// Package common defines shared constants and sentinel errors used across
// the server, the admin CLI and the repositories. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")
	ErrForbidden  = errors.New("forbidden")

	// Input errors, rejected before any storage access.
	ErrValidation = errors.New("validation error")

	// Credential errors. Unknown user and wrong password share
	// ErrInvalidCredentials so callers cannot enumerate accounts.
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")

	// Token errors. ErrInvalidToken is what the codec reports for bad
	// signatures, expiry or malformed input; services surface
	// ErrInvalidOrExpiredToken for every refresh or one-time token failure,
	// including kind mismatch, revocation and reuse.
	ErrInvalidToken          = errors.New("invalid token")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

	// Storage or key material unreachable, including per-call deadline expiry.
	ErrUnavailable = errors.New("service unavailable")
)
