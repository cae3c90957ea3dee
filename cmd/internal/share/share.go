// Package share issues and verifies signed, time-bound capability tokens for one conversation.
//
// Token format: base64url(JSON{"c": chatId, "exp": unixSeconds}) + "." + base64url(HMAC-SHA256(payload)).
// Tokens are not persisted; possession alone grants read access until exp.
package share

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"chatgate/cmd/security/token"
)

// DefaultMaxAge is the default token lifetime (30 days).
const DefaultMaxAge = 30 * 24 * time.Hour

var ErrInvalidInput = errors.New("share: invalid input")

type payload struct {
	C   string `json:"c"`
	Exp int64  `json:"exp"`
}

// Service signs and checks share tokens with a purpose-bound key.
type Service struct {
	key []byte
	now func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService derives the signing key from the master secret.
func NewService(secret []byte, opts ...Option) (*Service, error) {
	if len(secret) == 0 {
		return nil, token.ErrSecretMissing
	}
	key, err := token.DeriveKey(secret, token.PurposeShareToken)
	if err != nil {
		return nil, err
	}
	s := &Service{key: key, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Issue returns a token for chatID valid for maxAge (DefaultMaxAge when <= 0).
func (s *Service) Issue(chatID string, maxAge time.Duration) (string, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return "", ErrInvalidInput
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	raw, err := json.Marshal(payload{C: chatID, Exp: s.now().Add(maxAge).Unix()})
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + "." + s.sign(encoded), nil
}

// Verify reports whether tok is an unexpired token for chatID.
func (s *Service) Verify(chatID, tok string) bool {
	encoded, sig, ok := strings.Cut(tok, ".")
	if !ok || encoded == "" || sig == "" || strings.Contains(sig, ".") {
		return false
	}

	want := sha256.Sum256([]byte(s.sign(encoded)))
	got := sha256.Sum256([]byte(sig))
	if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
		return false
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return false
	}
	if p.C == "" || p.C != chatID {
		return false
	}
	return s.now().Unix() < p.Exp
}

// URL builds the public share link for chatID.
func URL(baseURL, chatID, tok string) string {
	return strings.TrimRight(baseURL, "/") + "/chat/shared/" + url.PathEscape(chatID) + "?token=" + url.QueryEscape(tok)
}

func (s *Service) sign(encoded string) string {
	return base64.RawURLEncoding.EncodeToString(token.SignHMACSHA256([]byte(encoded), s.key))
}
