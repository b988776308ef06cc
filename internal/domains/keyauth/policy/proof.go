package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"airc-chat/go-backend/internal/airc"
	"airc-chat/go-backend/internal/domains/keyauth/model"
)

var (
	ErrProofMalformed       = errors.New("proof is malformed")
	ErrProofOperation       = errors.New("proof operation tag mismatch")
	ErrProofHandleMismatch  = errors.New("proof handle does not match request")
	ErrProofTimestamp       = errors.New("proof timestamp outside validity window")
	ErrProofSignature       = errors.New("proof signature is invalid")
	ErrProofNonce           = errors.New("proof nonce is malformed")
	ErrOwnershipProofFormat = errors.New("ownership proof must be timestamp|signature")
)

// FieldError pinpoints which proof field failed structural validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("proof is malformed: field %q %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrProofMalformed }

// DefaultProofWindow bounds how far a proof timestamp may drift from
// server time in either direction.
const DefaultProofWindow = 300 * time.Second

// OwnershipProofSeparator joins timestamp and signature in the compact
// ownership proof form. RFC3339 timestamps cannot contain '|', so the
// split is unambiguous.
const OwnershipProofSeparator = "|"

type rawProof struct {
	Operation string `json:"operation"`
	Handle    string `json:"handle"`
	Timestamp string `json:"timestamp"`
	Nonce     string `json:"nonce"`
	OldKey    string `json:"old_key"`
	NewKey    string `json:"new_key"`
	Reason    string `json:"reason"`
	Signature string `json:"signature"`
}

func decodeRaw(data []byte) (rawProof, error) {
	var raw rawProof
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return rawProof{}, fmt.Errorf("%w: %v", ErrProofMalformed, err)
	}
	return raw, nil
}

func (r rawProof) common(wantOp string) error {
	if r.Operation == "" {
		return &FieldError{Field: "operation", Reason: "is required"}
	}
	if r.Operation != wantOp {
		return fmt.Errorf("%w: got %q, want %q", ErrProofOperation, r.Operation, wantOp)
	}
	if strings.TrimSpace(r.Handle) == "" {
		return &FieldError{Field: "handle", Reason: "is required"}
	}
	if r.Timestamp == "" {
		return &FieldError{Field: "timestamp", Reason: "is required"}
	}
	if _, err := time.Parse(time.RFC3339, r.Timestamp); err != nil {
		return &FieldError{Field: "timestamp", Reason: "is not RFC3339"}
	}
	if r.Nonce == "" {
		return &FieldError{Field: "nonce", Reason: "is required"}
	}
	if !airc.ValidNonce(r.Nonce) {
		return fmt.Errorf("%w: %q", ErrProofNonce, r.Nonce)
	}
	if r.Signature == "" {
		return &FieldError{Field: "signature", Reason: "is required"}
	}
	return nil
}

// ParseRotationProof is the single parse step for rotation proofs: it
// returns a fully structurally valid typed proof or a structured error.
func ParseRotationProof(data []byte) (model.RotationProof, error) {
	raw, err := decodeRaw(data)
	if err != nil {
		return model.RotationProof{}, err
	}
	if err := raw.common(model.OpRotate); err != nil {
		return model.RotationProof{}, err
	}
	if raw.OldKey == "" {
		return model.RotationProof{}, &FieldError{Field: "old_key", Reason: "is required"}
	}
	if raw.NewKey == "" {
		return model.RotationProof{}, &FieldError{Field: "new_key", Reason: "is required"}
	}
	handle, err := NormalizeHandle(raw.Handle)
	if err != nil {
		return model.RotationProof{}, err
	}
	return model.RotationProof{
		Handle:    handle,
		Timestamp: raw.Timestamp,
		Nonce:     raw.Nonce,
		OldKey:    raw.OldKey,
		NewKey:    raw.NewKey,
		Signature: raw.Signature,
	}, nil
}

// ParseRevocationProof is the single parse step for revocation proofs.
func ParseRevocationProof(data []byte) (model.RevocationProof, error) {
	raw, err := decodeRaw(data)
	if err != nil {
		return model.RevocationProof{}, err
	}
	if err := raw.common(model.OpRevoke); err != nil {
		return model.RevocationProof{}, err
	}
	if strings.TrimSpace(raw.Reason) == "" {
		return model.RevocationProof{}, &FieldError{Field: "reason", Reason: "is required"}
	}
	handle, err := NormalizeHandle(raw.Handle)
	if err != nil {
		return model.RevocationProof{}, err
	}
	return model.RevocationProof{
		Handle:    handle,
		Timestamp: raw.Timestamp,
		Nonce:     raw.Nonce,
		Reason:    strings.TrimSpace(raw.Reason),
		Signature: raw.Signature,
	}, nil
}

// ParseOwnershipProof splits the compact "timestamp|signature" form.
func ParseOwnershipProof(handle, publicKey, compact string) (model.OwnershipProof, error) {
	normalized, err := NormalizeHandle(handle)
	if err != nil {
		return model.OwnershipProof{}, err
	}
	parts := strings.SplitN(compact, OwnershipProofSeparator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return model.OwnershipProof{}, ErrOwnershipProofFormat
	}
	if _, err := time.Parse(time.RFC3339, parts[0]); err != nil {
		return model.OwnershipProof{}, &FieldError{Field: "timestamp", Reason: "is not RFC3339"}
	}
	if strings.TrimSpace(publicKey) == "" {
		return model.OwnershipProof{}, &FieldError{Field: "publicKey", Reason: "is required"}
	}
	return model.OwnershipProof{
		Handle:    normalized,
		PublicKey: publicKey,
		Timestamp: parts[0],
		Signature: parts[1],
	}, nil
}

// CheckTimestamp rejects a proof or message timestamp that falls more
// than window away from now in either direction. Reported independently
// of signature validity.
func CheckTimestamp(timestamp string, now time.Time, window time.Duration) error {
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return &FieldError{Field: "timestamp", Reason: "is not RFC3339"}
	}
	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > window {
		return fmt.Errorf("%w: drift %s exceeds %s", ErrProofTimestamp, drift.Round(time.Second), window)
	}
	return nil
}
