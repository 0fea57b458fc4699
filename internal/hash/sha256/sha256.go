// Package sha256 computes content digests for persisted snapshots.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces hex SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ETag returns the digest as a strong HTTP entity tag.
func (h *Hasher) ETag(data []byte) string {
	return `"` + h.Hash(data) + `"`
}
