package session

import "errors"

var (
	// ErrSessionNotFound is returned when an operation targets a session ID
	// that is not registered (never created, or already removed).
	ErrSessionNotFound = errors.New("session not found")

	// ErrCapacityExceeded is returned by CreateSession when the live-session
	// count is at the configured maximum.
	ErrCapacityExceeded = errors.New("session capacity exceeded")

	// ErrRateLimited is returned by CreateSession when creation requests
	// arrive faster than the configured rate.
	ErrRateLimited = errors.New("session creation rate limit exceeded")

	// ErrPermissionNotFound is returned when a decision arrives for a
	// request ID with no pending permission request.
	ErrPermissionNotFound = errors.New("permission request not found")
)
