package invite

import (
	"context"
	"strings"
	"sync"
)

type memoryCode struct {
	code Code
	hash string
}

// MemoryStore keeps codes and sessions in process memory.
type MemoryStore struct {
	mu           sync.Mutex
	codes        map[string]*memoryCode // by token hash
	sessions     map[string]*Session    // by id
	sessionByTok map[string]string      // token hash -> session id
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes:        make(map[string]*memoryCode),
		sessions:     make(map[string]*Session),
		sessionByTok: make(map[string]string),
	}
}

// CreateCode implements Store.
func (s *MemoryStore) CreateCode(ctx context.Context, in CreateCodeRecord) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" || in.MaxUses <= 0 || in.TokenQuota <= 0 {
		return Code{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[in.TokenHash]; ok {
		return Code{}, ErrInvalidInput
	}
	c := Code{
		ID:         in.ID,
		TokenQuota: in.TokenQuota,
		CreatedAt:  in.CreatedAt,
		ExpiresAt:  in.ExpiresAt,
		MaxUses:    in.MaxUses,
		Note:       in.Note,
	}
	s.codes[in.TokenHash] = &memoryCode{code: c, hash: in.TokenHash}
	return c, nil
}

// Redeem implements Store.
func (s *MemoryStore) Redeem(ctx context.Context, in RedeemRecord) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(in.CodeHash) == "" || strings.TrimSpace(in.SessionID) == "" || strings.TrimSpace(in.SessionTokenHash) == "" {
		return Session{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	mc, ok := s.codes[in.CodeHash]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !mc.code.Active(in.Now) {
		return Session{}, ErrNotActive
	}
	mc.code.UsedCount++

	sess := &Session{
		ID:           in.SessionID,
		InviteCodeID: mc.code.ID,
		TokenQuota:   mc.code.TokenQuota,
		CreatedAt:    in.Now,
		ExpiresAt:    in.SessionExpiresAt,
	}
	s.sessions[sess.ID] = sess
	s.sessionByTok[in.SessionTokenHash] = sess.ID
	return *sess, nil
}

// SessionByTokenHash implements Store.
func (s *MemoryStore) SessionByTokenHash(ctx context.Context, tokenHash string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessionByTok[tokenHash]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *s.sessions[id], nil
}

// AddUsage implements Store.
func (s *MemoryStore) AddUsage(ctx context.Context, sessionID string, tokens int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.TokensConsumed += tokens
	return nil
}

// PutSession inserts a session directly under tokenHash. Used to seed fixtures.
func (s *MemoryStore) PutSession(tokenHash string, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := sess
	s.sessions[sess.ID] = &cp
	s.sessionByTok[tokenHash] = sess.ID
}
