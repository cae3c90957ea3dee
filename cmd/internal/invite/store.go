package invite

import (
	"context"
	"time"
)

// CreateCodeRecord is a normalized invite code insert payload.
type CreateCodeRecord struct {
	ID         string
	TokenHash  string
	TokenQuota int64
	CreatedAt  time.Time
	ExpiresAt  time.Time
	MaxUses    int
	Note       *string
}

// RedeemRecord describes a code redemption that mints a session.
type RedeemRecord struct {
	CodeHash         string
	SessionID        string
	SessionTokenHash string
	SessionExpiresAt time.Time
	Now              time.Time
}

// Store is the persistence boundary for invite codes and sessions.
type Store interface {
	CreateCode(ctx context.Context, in CreateCodeRecord) (Code, error)
	// Redeem consumes one use of the code and creates a session in one step.
	Redeem(ctx context.Context, in RedeemRecord) (Session, error)
	SessionByTokenHash(ctx context.Context, tokenHash string) (Session, error)
	AddUsage(ctx context.Context, sessionID string, tokens int64) error
}
