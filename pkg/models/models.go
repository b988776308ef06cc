// Package models defines the wire types of the identity and messaging
// HTTP API.
package models

import "time"

// ErrorResponse is the uniform error body. Reason carries the stable
// machine-readable code; Error is human-oriented.
type ErrorResponse struct {
	Error      string `json:"error"`
	Reason     string `json:"reason,omitempty"`
	Code       int    `json:"code"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// ProvisionResponse answers POST /api/v1/identity/{handle}.
type ProvisionResponse struct {
	Handle    string    `json:"handle"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterKeyRequest binds a key to a provisioned handle. Proof is the
// compact ownership proof, "timestamp|signature".
type RegisterKeyRequest struct {
	PublicKey   string `json:"public_key"`
	Proof       string `json:"proof"`
	RecoveryKey string `json:"recovery_key,omitempty"`
}

type RegisterKeyResponse struct {
	Handle     string `json:"handle"`
	KeyChanged bool   `json:"key_changed"`
}

// RotateResponse answers a successful POST .../rotate. The request body
// is the signed rotation proof itself.
type RotateResponse struct {
	Handle    string    `json:"handle"`
	NewKey    string    `json:"new_key"`
	RotatedAt time.Time `json:"rotated_at"`
}

type RevokeResponse struct {
	Handle    string    `json:"handle"`
	Status    string    `json:"status"`
	RevokedAt time.Time `json:"revoked_at"`
}

// ResolveKeyResponse answers GET .../key.
type ResolveKeyResponse struct {
	Handle    string `json:"handle"`
	PublicKey string `json:"public_key"`
	Status    string `json:"status"`
}

// HandleStatusResponse answers GET .../status.
type HandleStatusResponse struct {
	Handle      string `json:"handle"`
	Status      string `json:"status"`
	Active      bool   `json:"active"`
	Quarantined bool   `json:"quarantined"`
}

// SendMessageRequest carries one chat message. Signature, timestamp and
// nonce are absent on legacy unsigned messages.
type SendMessageRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type SendMessageResponse struct {
	Accepted bool     `json:"accepted"`
	Signed   bool     `json:"signed"`
	Warnings []string `json:"warnings,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
