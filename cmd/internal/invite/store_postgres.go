package invite

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists invite codes and sessions in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "chatgate").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "chatgate"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// CreateCode inserts a new invite code.
func (s *PostgresStore) CreateCode(ctx context.Context, in CreateCodeRecord) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" {
		return Code{}, ErrInvalidInput
	}
	if in.MaxUses <= 0 || in.TokenQuota <= 0 {
		return Code{}, ErrInvalidInput
	}
	if in.Note != nil && len(strings.TrimSpace(*in.Note)) > 512 {
		return Code{}, ErrInvalidInput
	}
	codes := pgIdent(s.schema, "invite_codes")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+codes+` (
		     id, token_hash, token_quota, created_at, expires_at, max_uses, used_count, note
		   ) VALUES ($1, $2, $3, $4, $5, $6, 0, $7)`,
		in.ID,
		in.TokenHash,
		in.TokenQuota,
		in.CreatedAt,
		in.ExpiresAt,
		in.MaxUses,
		in.Note,
	)
	if err != nil {
		return Code{}, err
	}

	return Code{
		ID:         in.ID,
		TokenQuota: in.TokenQuota,
		CreatedAt:  in.CreatedAt,
		ExpiresAt:  in.ExpiresAt,
		MaxUses:    in.MaxUses,
		Note:       in.Note,
	}, nil
}

// Redeem increments used_count on an active code and inserts the session in one transaction.
func (s *PostgresStore) Redeem(ctx context.Context, in RedeemRecord) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(in.CodeHash) == "" || strings.TrimSpace(in.SessionID) == "" || strings.TrimSpace(in.SessionTokenHash) == "" {
		return Session{}, ErrInvalidInput
	}

	codes := pgIdent(s.schema, "invite_codes")
	sessions := pgIdent(s.schema, "invite_sessions")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Session{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var codeID string
	var quota int64
	err = tx.QueryRow(ctx,
		`UPDATE `+codes+`
		    SET used_count = used_count + 1
		  WHERE token_hash = $1
		    AND revoked_at IS NULL
		    AND expires_at > $2
		    AND used_count < max_uses
		RETURNING id, token_quota`,
		in.CodeHash,
		in.Now,
	).Scan(&codeID, &quota)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return Session{}, err
		}
		// Distinguish not-found vs not-active.
		var exists bool
		if selErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+codes+` WHERE token_hash = $1)`, in.CodeHash).Scan(&exists); selErr != nil {
			return Session{}, selErr
		}
		if !exists {
			return Session{}, ErrNotFound
		}
		return Session{}, ErrNotActive
	}

	out := Session{
		ID:           in.SessionID,
		InviteCodeID: codeID,
		TokenQuota:   quota,
		CreatedAt:    in.Now,
		ExpiresAt:    in.SessionExpiresAt,
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+sessions+` (
		     id, invite_code_id, token_hash, token_quota, tokens_consumed, created_at, expires_at
		   ) VALUES ($1, $2, $3, $4, 0, $5, $6)`,
		out.ID,
		out.InviteCodeID,
		in.SessionTokenHash,
		out.TokenQuota,
		out.CreatedAt,
		out.ExpiresAt,
	); err != nil {
		return Session{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Session{}, err
	}
	return out, nil
}

// SessionByTokenHash fetches a session by token hash.
func (s *PostgresStore) SessionByTokenHash(ctx context.Context, tokenHash string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return Session{}, ErrInvalidInput
	}

	sessions := pgIdent(s.schema, "invite_sessions")
	var out Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, invite_code_id, token_quota, tokens_consumed, created_at, expires_at
		   FROM `+sessions+`
		  WHERE token_hash = $1`,
		tokenHash,
	).Scan(
		&out.ID,
		&out.InviteCodeID,
		&out.TokenQuota,
		&out.TokensConsumed,
		&out.CreatedAt,
		&out.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return out, nil
}

// AddUsage increments tokens_consumed. The quota is not enforced here.
func (s *PostgresStore) AddUsage(ctx context.Context, sessionID string, tokens int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sessions := pgIdent(s.schema, "invite_sessions")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+sessions+` SET tokens_consumed = tokens_consumed + $2 WHERE id = $1`,
		sessionID,
		tokens,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SchemaSQL returns the DDL required by PostgresStore in schema.
func SchemaSQL(schema string) string {
	codes := pgIdent(schema, "invite_codes")
	sessions := pgIdent(schema, "invite_sessions")
	return `
CREATE TABLE IF NOT EXISTS ` + codes + ` (
  id TEXT PRIMARY KEY,
  token_hash TEXT NOT NULL UNIQUE,
  token_quota BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  expires_at TIMESTAMPTZ NOT NULL,
  max_uses INT NOT NULL DEFAULT 1,
  used_count INT NOT NULL DEFAULT 0,
  revoked_at TIMESTAMPTZ NULL,
  note TEXT NULL,
  CONSTRAINT chk_invite_codes_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT chk_invite_codes_token_hash_len CHECK (char_length(token_hash) = 64),
  CONSTRAINT chk_invite_codes_quota CHECK (token_quota > 0),
  CONSTRAINT chk_invite_codes_used_count CHECK (used_count >= 0 AND used_count <= max_uses)
);

CREATE TABLE IF NOT EXISTS ` + sessions + ` (
  id TEXT PRIMARY KEY,
  invite_code_id TEXT NOT NULL REFERENCES ` + codes + `(id) ON DELETE CASCADE,
  token_hash TEXT NOT NULL UNIQUE,
  token_quota BIGINT NOT NULL,
  tokens_consumed BIGINT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  expires_at TIMESTAMPTZ NOT NULL,
  CONSTRAINT chk_invite_sessions_token_hash_len CHECK (char_length(token_hash) = 64)
);
`
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
