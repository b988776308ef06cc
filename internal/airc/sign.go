package airc

import (
	"crypto/ed25519"
)

// SignCanonical signs the canonical encoding of fields and returns the
// base64 signature.
func SignCanonical(priv ed25519.PrivateKey, fields map[string]any) (string, error) {
	payload, err := CanonicalMarshal(fields)
	if err != nil {
		return "", err
	}
	return EncodeSignature(ed25519.Sign(priv, payload)), nil
}

// VerifyCanonical re-derives the canonical encoding of fields and checks
// the base64 signature against pub. A malformed signature verifies false
// rather than erroring so callers treat both cases as rejection.
func VerifyCanonical(pub ed25519.PublicKey, fields map[string]any, signature string) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	payload, err := CanonicalMarshal(fields)
	if err != nil {
		return false
	}
	sig, err := DecodeSignature(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, payload, sig)
}
