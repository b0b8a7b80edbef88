// Package cryptox holds the small hashing helpers used for bearer secrets
// that must be looked up but never stored in the clear: refresh tokens and
// password reset tokens.
package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashToken returns the lowercase hex SHA-256 digest of raw. It is the only
// representation of a bearer token that reaches storage.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// EqualHashes compares two token digests in constant time.
func EqualHashes(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
