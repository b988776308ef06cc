package policy

import (
	"crypto/ed25519"
	"fmt"

	"airc-chat/go-backend/internal/airc"
	"airc-chat/go-backend/internal/domains/keyauth/model"
)

// VerifyRotationSignature checks a rotation proof against the recovery
// key. The operational key is never accepted here: compromise of the
// day-to-day signing key alone must not be enough to rotate.
func VerifyRotationSignature(recoveryKey ed25519.PublicKey, proof model.RotationProof) error {
	if !airc.VerifyCanonical(recoveryKey, proof.SignedFields(), proof.Signature) {
		return ErrProofSignature
	}
	return nil
}

// VerifyRevocationSignature checks a revocation proof against the
// recovery key.
func VerifyRevocationSignature(recoveryKey ed25519.PublicKey, proof model.RevocationProof) error {
	if !airc.VerifyCanonical(recoveryKey, proof.SignedFields(), proof.Signature) {
		return ErrProofSignature
	}
	return nil
}

// VerifyOwnershipSignature checks the self-certifying ownership proof:
// the signed bytes are normalizedHandle+timestamp and the verifying key
// is the candidate key itself, proving possession of the private half.
func VerifyOwnershipSignature(proof model.OwnershipProof) error {
	candidate, err := airc.ParsePublicKey(proof.PublicKey)
	if err != nil {
		return err
	}
	sig, err := airc.DecodeSignature(proof.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProofSignature, err)
	}
	if !ed25519.Verify(candidate, []byte(proof.Handle+proof.Timestamp), sig) {
		return ErrProofSignature
	}
	return nil
}

// VerifyMessageSignature checks a chat payload against the sender's
// currently registered key, re-deriving the canonical encoding with the
// signature field excluded.
func VerifyMessageSignature(senderKey ed25519.PublicKey, msg model.SignedMessage) error {
	if !airc.VerifyCanonical(senderKey, msg.SignedFields(), msg.Signature) {
		return ErrProofSignature
	}
	return nil
}
