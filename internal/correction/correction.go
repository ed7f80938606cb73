// Package correction resolves operator-curated answer overrides keyed by a
// fingerprinted question, bypassing retrieval and generation when present.
package correction

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint returns the deterministic lookup key for a raw question,
// normalized the same way internal/webcache keys its query hash: lower-cased
// and collapsed to single-spaced words before hashing.
func Fingerprint(question string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
