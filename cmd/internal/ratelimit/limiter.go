// Package ratelimit implements sliding-window request counting keyed by client identity + route.
//
// Three stores are provided:
//   - RecordLimiter over a flat RecordStore: read, prune, count, append, write back.
//     It does no locking across the read-modify-write cycle, so concurrent callers on the same
//     key may both observe room and both be admitted. Dev and single-instance use only.
//   - RedisLimiter: atomic prune+count+append in one Lua script.
//   - PostgresLimiter: same cycle inside a transaction serialized per key by an advisory lock.
package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrInvalidInput is returned for empty keys or non-positive limits/windows.
var ErrInvalidInput = errors.New("ratelimit: invalid input")

// Limiter decides whether one more event for key fits in the trailing window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Key builds the canonical limiter key for a route and client identity.
func Key(route, clientID string) string {
	return strings.TrimSpace(route) + ":" + strings.TrimSpace(clientID)
}

func validate(key string, limit int, window time.Duration) error {
	if strings.TrimSpace(key) == "" || limit <= 0 || window <= 0 {
		return ErrInvalidInput
	}
	return nil
}
