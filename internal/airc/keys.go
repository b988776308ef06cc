// Package airc implements the cryptographic primitives of the AIRC
// identity protocol: the Ed25519 key wire codec, canonical payload
// encoding, proof signing and verification, and nonce generation.
package airc

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

const KeyPrefix = "ed25519:"

var (
	ErrKeyMalformed  = errors.New("public key is malformed")
	ErrKeyWrongSize  = errors.New("public key must decode to exactly 32 bytes")
	ErrKeyWrongAlgo  = errors.New("public key algorithm is not ed25519")
	ErrSignMalformed = errors.New("signature is malformed")
)

// ParsePublicKey decodes the wire form "ed25519:" + base64(32 raw bytes).
// Any other decoded length is a parse failure.
func ParsePublicKey(wire string) (ed25519.PublicKey, error) {
	wire = strings.TrimSpace(wire)
	if wire == "" {
		return nil, ErrKeyMalformed
	}
	if !strings.HasPrefix(wire, KeyPrefix) {
		return nil, ErrKeyWrongAlgo
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(wire, KeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyMalformed, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: got %d", ErrKeyWrongSize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// FormatPublicKey renders a raw Ed25519 public key in wire form.
func FormatPublicKey(pub ed25519.PublicKey) string {
	return KeyPrefix + base64.StdEncoding.EncodeToString(pub)
}

// GenerateKeypair returns a fresh Ed25519 keypair.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// KeysEqual compares two wire-form keys in constant time so that key
// comparison during rotation does not leak timing information.
func KeysEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Fingerprint returns a short base58 digest of a wire-form key, safe to
// place in audit entries and logs where the full key must not appear.
func Fingerprint(wire string) string {
	sum := blake2b.Sum256([]byte(wire))
	return base58.Encode(sum[:8])
}

// HashOrigin hashes a caller origin (remote address or forwarded-for
// value) so audit entries never hold the raw origin.
func HashOrigin(origin string) string {
	sum := blake2b.Sum256([]byte("airc/origin/v1|" + strings.TrimSpace(origin)))
	return base58.Encode(sum[:16])
}

// DecodeSignature decodes a base64 signature and checks its length.
func DecodeSignature(raw string) ([]byte, error) {
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignMalformed, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrSignMalformed, len(sig))
	}
	return sig, nil
}

// EncodeSignature renders a raw signature for the wire.
func EncodeSignature(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}
