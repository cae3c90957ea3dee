// Package ids provides the identifier primitives used across chatgate:
// ULIDs for stored rows and UUIDs for conversations.
package ids

import (
	"crypto/rand"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// uuidRE accepts RFC 9562 versions 1-8 with the RFC variant bits.
var uuidRE = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[1-8][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// NewULID returns a new ULID string (26 chars).
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewChatID returns a fresh random (v4) UUID string.
func NewChatID() string {
	return uuid.NewString()
}

// IsChatID reports whether s is a canonical UUID of version 1-8.
func IsChatID(s string) bool {
	return uuidRE.MatchString(strings.ToLower(s))
}
