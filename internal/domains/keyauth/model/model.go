// Package model holds the domain types of the AIRC key-authentication
// protocol: identities, proofs, audit entries, and quarantine records.
package model

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
)

// Identity is the durable record per handle. CurrentKey and RecoveryKey
// are wire-form keys ("ed25519:" + base64). CurrentKey is empty for a
// provisioned account that has not yet bound a key.
type Identity struct {
	Handle       string    `json:"handle"`
	CurrentKey   string    `json:"current_key,omitempty"`
	RecoveryKey  string    `json:"recovery_key,omitempty"`
	Status       Status    `json:"status"`
	KeyRotatedAt time.Time `json:"key_rotated_at,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (i Identity) Active() bool { return i.Status == StatusActive }

// Operation tags carried inside proofs. The tag is part of the signed
// payload, so a rotation proof can never be replayed as a revocation.
const (
	OpRotate   = "rotate"
	OpRevoke   = "revoke"
	OpRegister = "register"
	OpMessage  = "message"
)

// RotationProof authorizes replacing the current key. Signed by the
// recovery key, never the operational key.
type RotationProof struct {
	Handle    string `json:"handle"`
	Timestamp string `json:"timestamp"`
	Nonce     string `json:"nonce"`
	OldKey    string `json:"old_key"`
	NewKey    string `json:"new_key"`
	Signature string `json:"signature"`
}

// SignedFields returns the canonical-encoding input, signature excluded.
func (p RotationProof) SignedFields() map[string]any {
	return map[string]any{
		"operation": OpRotate,
		"handle":    p.Handle,
		"timestamp": p.Timestamp,
		"nonce":     p.Nonce,
		"old_key":   p.OldKey,
		"new_key":   p.NewKey,
	}
}

// RevocationProof authorizes terminally revoking a handle. Signed by the
// recovery key.
type RevocationProof struct {
	Handle    string `json:"handle"`
	Timestamp string `json:"timestamp"`
	Nonce     string `json:"nonce"`
	Reason    string `json:"reason"`
	Signature string `json:"signature"`
}

func (p RevocationProof) SignedFields() map[string]any {
	return map[string]any{
		"operation": OpRevoke,
		"handle":    p.Handle,
		"timestamp": p.Timestamp,
		"nonce":     p.Nonce,
		"reason":    p.Reason,
	}
}

// OwnershipProof binds a candidate public key to an existing account.
// Self-certifying: the signature is over normalizedHandle+timestamp and
// verifies against the candidate key itself.
type OwnershipProof struct {
	Handle    string
	PublicKey string
	Timestamp string
	Signature string
}

// SignedMessage is the chat payload the message gate verifies. The
// signature covers the canonical encoding of every other field.
type SignedMessage struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	Signature string `json:"signature,omitempty"`
}

func (m SignedMessage) Signed() bool { return m.Signature != "" }

func (m SignedMessage) SignedFields() map[string]any {
	return map[string]any{
		"from":      m.From,
		"to":        m.To,
		"body":      m.Body,
		"timestamp": m.Timestamp,
		"nonce":     m.Nonce,
	}
}

// NonceRecord is one claimed nonce with its expiry.
type NonceRecord struct {
	Nonce     string    `json:"nonce"`
	Handle    string    `json:"handle"`
	Operation string    `json:"operation"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuditEntry is append-only; never updated or deleted. Key material
// appears only as fingerprints inside Details.
type AuditEntry struct {
	ID         string            `json:"id"`
	EventType  string            `json:"event_type"`
	Handle     string            `json:"handle"`
	Success    bool              `json:"success"`
	Details    map[string]string `json:"details,omitempty"`
	OriginHash string            `json:"origin_hash,omitempty"`
	At         time.Time         `json:"at"`
}

// KeyEvent is one entry of the capped per-handle key-event log.
type KeyEvent struct {
	Handle         string    `json:"handle"`
	KeyFingerprint string    `json:"key_fingerprint"`
	Change         string    `json:"change"`
	At             time.Time `json:"at"`
}

const (
	KeyEventBound   = "bound"
	KeyEventRotated = "rotated"
	KeyEventRevoked = "revoked"
)

// QuarantineRecord blocks re-registration of a revoked handle until it
// expires.
type QuarantineRecord struct {
	Handle    string    `json:"handle"`
	RevokedAt time.Time `json:"revoked_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason"`
}

func (q QuarantineRecord) Expired(now time.Time) bool { return !now.Before(q.ExpiresAt) }
