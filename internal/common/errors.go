// Package common defines shared constants and sentinel errors used across
// the kycflow server. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrValidation     = errors.New("validation error")

	// ErrVersionConflict is returned by repositories when a versioned write
	// matched no row. Services retry on it and never surface it.
	ErrVersionConflict = errors.New("version conflict")
	ErrStaleVersion    = ErrVersionConflict

	// ErrTransient is what callers see after CAS retries are exhausted.
	ErrTransient = errors.New("temporarily unavailable, retry later")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Verification session lifecycle errors.
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExpired      = errors.New("session expired")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrActiveSessionExists = errors.New("active session exists")
	ErrAlreadyVerified     = errors.New("identity already verified")
	ErrAlreadyInProgress   = errors.New("document fetch already in progress")

	// Provider-side failures. Both are terminal for the session.
	ErrCallbackError       = errors.New("provider reported callback error")
	ErrProviderUnavailable = errors.New("provider unavailable")
)
