package app

import (
	"context"
	"fmt"
	"time"

	"chatgate/cmd/internal/conversation"
	"chatgate/cmd/internal/invite"
	"chatgate/cmd/internal/ratelimit"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDBPool builds a pgxpool with sane defaults and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// schemaDDL lists every table set the server needs, in creation order.
func schemaDDL(schema string) []string {
	return []string{
		"CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{schema}.Sanitize(),
		invite.SchemaSQL(schema),
		conversation.SchemaSQL(schema),
		ratelimit.SchemaSQL(schema),
	}
}

// EnsureSchema creates missing tables. Concurrent replicas serialize on an advisory lock.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "chatgate:schema:"+schema); err != nil {
		return err
	}
	for _, ddl := range schemaDDL(schema) {
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("apply schema %s: %w", schema, err)
		}
	}
	return tx.Commit(ctx)
}
