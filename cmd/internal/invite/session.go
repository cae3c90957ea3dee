// Package invite owns invite codes and the sessions they unlock.
//
// An invite code is redeemed for an opaque session token; the session carries a token quota that
// chat turns draw down. Only hashes of codes and session tokens are stored.
package invite

import "time"

// Code represents an invite code row.
type Code struct {
	ID         string
	TokenQuota int64
	CreatedAt  time.Time
	ExpiresAt  time.Time
	MaxUses    int
	UsedCount  int
	RevokedAt  *time.Time
	Note       *string
}

// Active reports whether the code can still be redeemed at now.
func (c Code) Active(now time.Time) bool {
	if c.RevokedAt != nil {
		return false
	}
	if !c.ExpiresAt.After(now) {
		return false
	}
	return c.MaxUses <= 0 || c.UsedCount < c.MaxUses
}

// Session is an invite-bound caller identity with a token budget.
type Session struct {
	ID             string
	InviteCodeID   string
	TokenQuota     int64
	TokensConsumed int64
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Remaining returns quota minus consumption. It may be negative after an overshooting turn.
func (s Session) Remaining() int64 {
	return s.TokenQuota - s.TokensConsumed
}

// Expired reports whether the session is no longer usable at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
