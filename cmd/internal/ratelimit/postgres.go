package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLimiter stores events in <schema>.rate_limit_events.
type PostgresLimiter struct {
	pool   *pgxpool.Pool
	schema string
	now    func() time.Time

	sweepEvery time.Duration
	lastSweep  atomic.Int64
}

// PostgresOption configures PostgresLimiter.
type PostgresOption func(*PostgresLimiter) error

// WithSchema sets the DB schema used by the limiter (default: "chatgate").
func WithSchema(schema string) PostgresOption {
	return func(l *PostgresLimiter) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		l.schema = schema
		return nil
	}
}

// WithPostgresClock overrides the time source (tests).
func WithPostgresClock(now func() time.Time) PostgresOption {
	return func(l *PostgresLimiter) error {
		if now == nil {
			return ErrInvalidInput
		}
		l.now = now
		return nil
	}
}

// WithSweepInterval sets how often expired events of all keys are deleted (default: one minute).
func WithSweepInterval(d time.Duration) PostgresOption {
	return func(l *PostgresLimiter) error {
		if d <= 0 {
			return ErrInvalidInput
		}
		l.sweepEvery = d
		return nil
	}
}

// NewPostgresLimiter constructs a PostgresLimiter. The pool is owned by the caller.
func NewPostgresLimiter(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresLimiter, error) {
	l := &PostgresLimiter{pool: pool, schema: "chatgate", now: func() time.Time { return time.Now().UTC() }, sweepEvery: time.Minute}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	if l.pool == nil {
		return nil, ErrInvalidInput
	}
	return l, nil
}

// Allow implements Limiter. Writers for the same key are serialized by a transactional advisory lock.
func (l *PostgresLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if err := validate(key, limit, window); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	now := l.now()
	cut := now.Add(-window)
	events := pgx.Identifier{l.schema, "rate_limit_events"}.Sanitize()

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return false, fmt.Errorf("advisory lock: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM `+events+` WHERE key = $1 AND at <= $2`, key, cut); err != nil {
		return false, fmt.Errorf("prune: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM `+events+` WHERE key = $1 AND at > $2`, key, cut).Scan(&count); err != nil {
		return false, fmt.Errorf("count: %w", err)
	}

	allowed := count < limit
	if allowed {
		if _, err := tx.Exec(ctx, `INSERT INTO `+events+` (key, at, expires_at) VALUES ($1, $2, $3)`, key, now, now.Add(window)); err != nil {
			return false, fmt.Errorf("insert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return false, err
		}
		return false, fmt.Errorf("commit: %w", err)
	}

	// The decision is already committed; a failed sweep is retried next interval.
	_ = l.sweep(ctx, events, now)
	return allowed, nil
}

// sweep deletes expired events of every key, at most once per sweepEvery per limiter.
// Replicas race on a try-lock; the loser skips.
func (l *PostgresLimiter) sweep(ctx context.Context, events string, now time.Time) error {
	last := l.lastSweep.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < l.sweepEvery {
		return nil
	}
	if !l.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return nil
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock(hashtextextended($1, 0))`, events+":sweep").Scan(&locked); err != nil {
		return err
	}
	if !locked {
		return nil
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+events+` WHERE expires_at <= $1`, now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SchemaSQL returns the DDL required by PostgresLimiter in schema.
func SchemaSQL(schema string) string {
	events := pgx.Identifier{schema, "rate_limit_events"}.Sanitize()
	return `
CREATE TABLE IF NOT EXISTS ` + events + ` (
  key        TEXT        NOT NULL,
  at         TIMESTAMPTZ NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL
);
ALTER TABLE ` + events + ` ADD COLUMN IF NOT EXISTS expires_at TIMESTAMPTZ NOT NULL DEFAULT now();
CREATE INDEX IF NOT EXISTS idx_rate_limit_events_key_at ON ` + events + ` (key, at);
CREATE INDEX IF NOT EXISTS idx_rate_limit_events_expires_at ON ` + events + ` (expires_at);
`
}
