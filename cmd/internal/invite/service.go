package invite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"chatgate/cmd/internal/ids"
	"chatgate/cmd/security/token"
)

const (
	defaultTokenBytes = 32
	defaultCodeTTL    = 7 * 24 * time.Hour
	defaultSessionTTL = 30 * 24 * time.Hour
)

// CreateInput describes invite code creation.
type CreateInput struct {
	TokenQuota int64
	TTL        time.Duration
	MaxUses    int
	Note       *string
	Now        time.Time
}

// Service manages invite codes and resolves the sessions they mint.
type Service struct {
	store      Store
	hashKey    []byte
	tokenBytes int
	sessionTTL time.Duration
	now        func() time.Time
}

// Option configures the Service.
type Option func(*Service) error

// WithTokenBytes sets the length of generated codes and session tokens in bytes.
func WithTokenBytes(n int) Option {
	return func(s *Service) error {
		if n <= 0 {
			return ErrInvalidInput
		}
		s.tokenBytes = n
		return nil
	}
}

// WithHashKey sets the HMAC key used to hash codes and session tokens before storage.
// Without it, plain SHA-256 is used (dev only).
func WithHashKey(key []byte) Option {
	return func(s *Service) error {
		s.hashKey = append([]byte(nil), key...)
		return nil
	}
}

// WithSessionTTL sets the lifetime of sessions minted by Redeem.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Service) error {
		if d <= 0 {
			return ErrInvalidInput
		}
		s.sessionTTL = d
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		store:      store,
		tokenBytes: defaultTokenBytes,
		sessionTTL: defaultSessionTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateCode creates a new invite code and returns it plus its plain token.
func (s *Service) CreateCode(ctx context.Context, in CreateInput) (Code, string, error) {
	if s == nil || s.store == nil {
		return Code{}, "", ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Code{}, "", err
	}
	if in.TokenQuota <= 0 {
		return Code{}, "", ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = s.now()
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = defaultCodeTTL
	}
	maxUses := in.MaxUses
	if maxUses <= 0 {
		maxUses = 1
	}
	note := trimPtr(in.Note)
	if note != nil && len(*note) > 512 {
		return Code{}, "", ErrInvalidInput
	}

	plain, err := newOpaqueToken(s.tokenBytes)
	if err != nil {
		return Code{}, "", err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Code{}, "", err
	}

	code, err := s.store.CreateCode(ctx, CreateCodeRecord{
		ID:         id,
		TokenHash:  s.hash(plain),
		TokenQuota: in.TokenQuota,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		MaxUses:    maxUses,
		Note:       note,
	})
	if err != nil {
		return Code{}, "", err
	}
	return code, plain, nil
}

// Redeem consumes one use of an invite code and returns the new session plus its plain token.
func (s *Service) Redeem(ctx context.Context, code string) (Session, string, error) {
	if s == nil || s.store == nil {
		return Session{}, "", ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Session{}, "", err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return Session{}, "", ErrInvalidInput
	}

	now := s.now()
	plain, err := newOpaqueToken(s.tokenBytes)
	if err != nil {
		return Session{}, "", err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Session{}, "", err
	}

	sess, err := s.store.Redeem(ctx, RedeemRecord{
		CodeHash:         s.hash(code),
		SessionID:        id,
		SessionTokenHash: s.hash(plain),
		SessionExpiresAt: now.Add(s.sessionTTL),
		Now:              now,
	})
	if err != nil {
		return Session{}, "", err
	}
	return sess, plain, nil
}

// Resolve maps an opaque session token to its session.
// Unknown, blank, or expired tokens resolve to (Session{}, false, nil).
func (s *Service) Resolve(ctx context.Context, sessionToken string) (Session, bool, error) {
	if s == nil || s.store == nil {
		return Session{}, false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Session{}, false, err
	}
	sessionToken = strings.TrimSpace(sessionToken)
	if sessionToken == "" {
		return Session{}, false, nil
	}

	sess, err := s.store.SessionByTokenHash(ctx, s.hash(sessionToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	if sess.Expired(s.now()) {
		return Session{}, false, nil
	}
	return sess, true, nil
}

// AddUsage adds consumed tokens to a session. Zero is a no-op.
func (s *Service) AddUsage(ctx context.Context, sessionID string, tokens int64) error {
	if s == nil || s.store == nil {
		return ErrInvalidInput
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || tokens < 0 {
		return ErrInvalidInput
	}
	if tokens == 0 {
		return nil
	}
	return s.store.AddUsage(ctx, sessionID, tokens)
}

func (s *Service) hash(plain string) string {
	return token.HashSessionTokenHex(plain, s.hashKey)
}

func newOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = defaultTokenBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
