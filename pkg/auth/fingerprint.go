package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// TokenFingerprint returns the hex SHA-256 of a token. Sessions store fingerprints, never raw tokens.
func TokenFingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// FingerprintMatches compares a presented token against a stored fingerprint in constant time.
func FingerprintMatches(token, storedFingerprint string) bool {
	if storedFingerprint == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(TokenFingerprint(token)), []byte(storedFingerprint)) == 1
}
