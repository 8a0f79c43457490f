// Package idgen generates tbd identifiers and maintains the durable
// short-ID to internal-ID mapping.
//
// Internal IDs are a type prefix plus a ULID (48-bit millisecond
// timestamp + 80-bit random payload). The generator is monotonic within
// a millisecond, so lexicographic order of generated IDs matches
// creation order and collisions do not occur in practice.
//
// Short IDs are 4-character random base36 codes (~1.7M codespace);
// collisions are handled by regenerate-and-retry against the current
// mapping snapshot.
package idgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultTypePrefix is the prefix used for issue IDs.
const DefaultTypePrefix = "is"

// ShortIDLength is the length of generated short codes.
const ShortIDLength = 4

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewInternalID generates a new time-ordered internal identifier with
// the given type prefix, e.g. "is-01jf8za5c3t9kqw2x7h4m6n8p0".
// The ULID portion is lowercased so IDs are filesystem-friendly;
// Crockford base32 keeps its sort order under lowercasing.
func NewInternalID(typePrefix string) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return typePrefix + "-" + strings.ToLower(id.String())
}

// InternalIDSuffix returns the ULID portion of an internal ID, which is
// what the mapping file stores.
func InternalIDSuffix(internalID string) string {
	if idx := strings.IndexByte(internalID, '-'); idx >= 0 {
		return internalID[idx+1:]
	}
	return internalID
}

// NewShortID generates a random base36 short code.
func NewShortID() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := 0; i < ShortIDLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate short id: %w", err)
		}
		b.WriteByte(base36Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// FormatDisplayID renders the human-facing display ID for a project
// prefix and short code, e.g. "tbd-a1b2".
func FormatDisplayID(projectPrefix, shortID string) string {
	return projectPrefix + "-" + shortID
}
