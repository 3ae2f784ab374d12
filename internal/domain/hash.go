package domain

import (
	"crypto/subtle"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// domainKey is a 32-byte BLAKE3 key; each hashing context gets its own
// so a token hash can never collide with a fingerprint.
type domainKey [32]byte

var (
	tokenDomainKey = domainKey{
		'l', 'o', 'c', 'k', 'r', 't', '.', 't', 'o', 'k', 'e', 'n',
	}

	fingerprintDomainKey = domainKey{
		'l', 'o', 'c', 'k', 'r', 't', '.', 'd', 'e', 'v', 'i', 'c', 'e',
	}
)

func keyedHash(key domainKey, parts ...string) string {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("domain: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	for _, part := range parts {
		_, _ = hasher.Write([]byte(part))
		// Separator keeps ("ab","c") distinct from ("a","bc").
		_, _ = hasher.Write([]byte{0})
	}

	return hex.EncodeToString(hasher.Sum(nil))
}

// HashToken returns the stored form of a pairing or transfer token.
func HashToken(token string) string {
	return keyedHash(tokenDomainKey, token)
}

// TokenMatches compares a supplied token against a stored hash in
// constant time.
func TokenMatches(storedHash, supplied string) bool {
	if storedHash == "" || supplied == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(HashToken(supplied))) == 1
}

// TokenPrefix returns the QR-safe fragment of a token.
func TokenPrefix(token string) string {
	if len(token) <= TokenPrefixLength {
		return token
	}

	return token[:TokenPrefixLength]
}
