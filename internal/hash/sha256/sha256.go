// Package sha256 digests raw provider payloads so downstream consumers of
// attempt events can tell whether a series response actually changed.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Prefix marks the digest algorithm in emitted digests.
const Prefix = "sha256:"

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the prefixed hex digest of data. Empty payloads have no digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	sum := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:]), nil
}
