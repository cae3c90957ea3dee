package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// SecretEnvKey is the env var name for the master secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	SecretEnvKey = "CHATGATE_SECRET"

	// MinSecretBytes is the policy minimum for the master secret.
	MinSecretBytes = 32

	// Purposes for DeriveKey. Changing one invalidates everything signed/hashed with it.
	PurposeShareToken  = "chatgate/share-token/v1"
	PurposeSessionHash = "chatgate/session-hash/v1"
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	return hex.EncodeToString(SignHMACSHA256([]byte(s), key))
}

// SignHMACSHA256 returns the raw HMAC-SHA256 of msg under key.
func SignHMACSHA256(msg, key []byte) []byte {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write(msg)
	return m.Sum(nil)
}

// SecretFromEnv returns the configured master secret (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrSecretMissing.
// If too short -> ErrSecretTooShort.
func SecretFromEnv(minBytes int) ([]byte, error) {
	return ValidateSecret(os.Getenv(SecretEnvKey), minBytes)
}

// ValidateSecret applies the same policy as SecretFromEnv to an explicit value.
func ValidateSecret(raw string, minBytes int) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrSecretMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrSecretTooShort
	}
	return b, nil
}

// DeriveKey derives a 32-byte subkey bound to purpose using HKDF-SHA256.
// Distinct purposes yield independent keys.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// HashSessionTokenHex hashes an opaque invite-session token for storage lookups.
// Behavior:
// - With a key: HMAC-SHA256(token, key).
// - Without a key: SHA-256(token), for dev only.
func HashSessionTokenHex(token string, key []byte) string {
	if len(key) == 0 {
		return HashSHA256Hex(token)
	}
	return HashHMACSHA256Hex(token, key)
}
