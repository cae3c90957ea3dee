package invite

import "errors"

var (
	// ErrInvalidInput rejects blank codes, tokens, or non-positive quotas.
	ErrInvalidInput = errors.New("invite: invalid input")
	// ErrNotFound covers unknown codes and session tokens.
	ErrNotFound = errors.New("invite: not found")
	// ErrNotActive covers expired, revoked, or used-up codes and expired sessions.
	ErrNotActive = errors.New("invite: not active")
)
