package airc

import (
	"crypto/rand"
	"encoding/hex"
)

// NonceLength is the fixed length, in hex characters, of every AIRC
// nonce (16 random bytes).
const NonceLength = 32

// NewNonce returns a fresh single-use nonce as lowercase hex.
func NewNonce() (string, error) {
	raw := make([]byte, NonceLength/2)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// ValidNonce reports whether s is a well-formed nonce: exactly
// NonceLength lowercase hex characters.
func ValidNonce(s string) bool {
	if len(s) != NonceLength {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
