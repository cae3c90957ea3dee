package app

import (
	"errors"
	"fmt"

	"chatgate/cmd/security/token"
)

// Secrets are the keys derived from the master secret at startup.
type Secrets struct {
	ShareSecret []byte
	SessionKey  []byte
}

// LoadSecrets enforces the secret policy and derives per-purpose keys.
// Startup fails without a strong secret: share links and session hashes depend on it.
func LoadSecrets() (Secrets, error) {
	secret, err := token.SecretFromEnv(token.MinSecretBytes)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrSecretMissing):
			return Secrets{}, fmt.Errorf("security policy: %s is missing", token.SecretEnvKey)
		case errors.Is(err, token.ErrSecretTooShort):
			return Secrets{}, fmt.Errorf("security policy: %s is too short (min %d bytes)", token.SecretEnvKey, token.MinSecretBytes)
		default:
			return Secrets{}, err
		}
	}

	sessionKey, err := token.DeriveKey(secret, token.PurposeSessionHash)
	if err != nil {
		return Secrets{}, err
	}
	return Secrets{ShareSecret: secret, SessionKey: sessionKey}, nil
}
