package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatgate/cmd/internal/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by <schema>.chat_messages.
//
// PostgresStore does NOT own the pgx pool. The caller must close the pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "chatgate").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("%w: empty schema", ErrInvalidInput)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
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
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidInput)
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "chat_messages"}.Sanitize()
}

// AppendTurn writes the turn rows in one transaction. Writers to the same chat id are serialized
// so the ownership check and the insert cannot interleave.
func (s *PostgresStore) AppendTurn(ctx context.Context, in AppendTurnInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows, err := in.rows(ids.NewULID)
	if err != nil {
		return err
	}
	messages := s.table()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.ChatID); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	var owner string
	err = tx.QueryRow(ctx,
		`SELECT session_id FROM `+messages+` WHERE chat_id = $1 ORDER BY created_at ASC, id ASC LIMIT 1`,
		in.ChatID,
	).Scan(&owner)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return err
	case owner != in.SessionID:
		return ErrNotOwner
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(
			`INSERT INTO `+messages+` (id, chat_id, session_id, role, message, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.ChatID, r.SessionID, r.Role, r.Message, r.CreatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	return tx.Commit(ctx)
}

// ListConversations implements Store.
func (s *PostgresStore) ListConversations(ctx context.Context, sessionID string) ([]Summary, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}
	rows, err := s.pool.Query(ctx,
		`SELECT chat_id, max(created_at) AS last_message_at, count(*)
		   FROM `+s.table()+`
		  WHERE session_id = $1
		  GROUP BY chat_id
		  ORDER BY last_message_at DESC, chat_id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Summary, 0)
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ChatID, &sum.LastMessageAt, &sum.MessageCount); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// BelongsToSession implements Store.
func (s *PostgresStore) BelongsToSession(ctx context.Context, chatID, sessionID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table()+` WHERE chat_id = $1 AND session_id = $2)`,
		chatID, sessionID,
	).Scan(&ok)
	return ok, err
}

// GetMessages implements Store.
func (s *PostgresStore) GetMessages(ctx context.Context, chatID string) ([]StoredMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, session_id, role, message, created_at
		   FROM `+s.table()+`
		  WHERE chat_id = $1
		  ORDER BY created_at ASC, id ASC`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]StoredMessage, 0)
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SessionID, &m.Role, &m.Message, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// OwnerOf implements Store.
func (s *PostgresStore) OwnerOf(ctx context.Context, chatID string) (string, bool, error) {
	var owner string
	err := s.pool.QueryRow(ctx,
		`SELECT session_id FROM `+s.table()+` WHERE chat_id = $1 ORDER BY created_at ASC, id ASC LIMIT 1`,
		chatID,
	).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return owner, true, nil
}

// SchemaSQL returns the DDL required by PostgresStore in schema.
func SchemaSQL(schema string) string {
	messages := pgx.Identifier{schema, "chat_messages"}.Sanitize()
	return `
CREATE TABLE IF NOT EXISTS ` + messages + ` (
  id TEXT PRIMARY KEY,
  chat_id TEXT NOT NULL,
  session_id TEXT NOT NULL,
  role TEXT NOT NULL,
  message JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT chk_chat_messages_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT chk_chat_messages_chat_id_len CHECK (char_length(chat_id) = 36),
  CONSTRAINT chk_chat_messages_role CHECK (role IN ('user', 'assistant'))
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON ` + messages + ` (session_id, chat_id, created_at);
CREATE INDEX IF NOT EXISTS idx_chat_messages_chat ON ` + messages + ` (chat_id, created_at);
`
}
