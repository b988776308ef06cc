// Package ports declares the storage and side-effect interfaces the
// keyauth usecase depends on. All concurrency correctness lives behind
// these interfaces: the process itself holds no mutable shared state.
package ports

import (
	"errors"
	"time"

	"airc-chat/go-backend/internal/domains/keyauth/model"
)

var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrIdentityExists   = errors.New("identity already exists")
	ErrStoreUnavailable = errors.New("backing store unavailable")
)

// CASResult is the explicit outcome of a compare-and-swap key update.
// Stale means another mutation won the race; callers never infer the
// outcome from a row count.
type CASResult int

const (
	CASUpdated CASResult = iota
	CASStale
)

type IdentityStore interface {
	// Get returns the identity for a normalized handle, or
	// ErrIdentityNotFound.
	Get(handle string) (model.Identity, error)
	// Create provisions a new account record with no bound key.
	Create(identity model.Identity) error
	// BindKey sets the current key unconditionally (ownership
	// registration). Reports whether an earlier key was replaced.
	BindKey(handle, key, recoveryKey string, now time.Time) (keyChanged bool, err error)
	// CompareAndSwapKey atomically replaces the current key only if it
	// still equals oldKey.
	CompareAndSwapKey(handle, oldKey, newKey string, now time.Time) (CASResult, error)
	// MarkRevoked freezes the record terminally.
	MarkRevoked(handle string, now time.Time) error
}

// NonceStore is the single replay-prevention abstraction. Claim is an
// atomic insert-if-absent with a TTL: with concurrent claimants for the
// same nonce, exactly one observes true.
type NonceStore interface {
	Claim(nonce, handle, operation string, ttl time.Duration, now time.Time) (bool, error)
}

// RateDecision carries backoff guidance alongside the verdict so
// violations can be reported to callers and audit-logged.
type RateDecision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimitStore increments a fixed-window counter atomically and
// compares it to limit. Never read-then-write.
type RateLimitStore interface {
	Increment(key string, limit int, window time.Duration, now time.Time) (RateDecision, error)
}

// AuditStore is append-only. A failed append must never block the
// primary operation; callers log the failure and move on.
type AuditStore interface {
	Append(entry model.AuditEntry) error
	AppendKeyEvent(event model.KeyEvent) error
}

type QuarantineStore interface {
	// Active returns the unexpired quarantine record for handle, if any.
	// Expired records are swept on the way.
	Active(handle string, now time.Time) (model.QuarantineRecord, bool, error)
	Put(record model.QuarantineRecord) error
}

// SessionInvalidator tears down sessions bound to a retired key. Called
// from the outbox worker, not inline, so delivery is retried until it
// succeeds.
type SessionInvalidator interface {
	InvalidateSessions(handle, oldKeyFingerprint string) error
}

// OutboxStore durably queues post-conditions of successful mutations.
// Enqueue is part of the mutation path and must succeed for the
// mutation to be reported as successful.
type OutboxStore interface {
	Enqueue(task model.OutboxTask) error
	Due(now time.Time, limit int) ([]model.OutboxTask, error)
	Complete(taskID string) error
	Reschedule(taskID string, nextRetry time.Time, lastErr string) error
}
