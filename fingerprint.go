package caravan

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeQuery canonicalizes query text for cache keying: Unicode NFC
// followed by leading/trailing whitespace trimming.
func NormalizeQuery(text string) string {
	return strings.TrimSpace(norm.NFC.String(text))
}

// Fingerprint returns the hex SHA-256 of the normalized query text. Two
// queries with equal fingerprints share one embedding cache slot.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(text)))
	return hex.EncodeToString(sum[:])
}
