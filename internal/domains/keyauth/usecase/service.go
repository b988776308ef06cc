// Package usecase drives the AIRC identity flows: binding keys through
// ownership proofs, rotation and revocation through recovery-key proofs,
// and the resolve/status reads the rest of the platform consumes.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"airc-chat/go-backend/internal/airc"
	"airc-chat/go-backend/internal/domains/keyauth/model"
	"airc-chat/go-backend/internal/domains/keyauth/policy"
	"airc-chat/go-backend/internal/domains/keyauth/ports"
	"airc-chat/go-backend/internal/platform/opsmetrics"
)

// Config holds the immutable policy knobs, loaded once at start.
type Config struct {
	ProofWindow      time.Duration
	ProofNonceTTL    time.Duration
	RotateLimit      int
	RotateWindow     time.Duration
	RevokeLimit      int
	RevokeWindow     time.Duration
	RegisterLimit    int
	RegisterWindow   time.Duration
	QuarantinePeriod time.Duration
}

func DefaultConfig() Config {
	return Config{
		ProofWindow:      policy.DefaultProofWindow,
		ProofNonceTTL:    time.Hour,
		RotateLimit:      1,
		RotateWindow:     time.Hour,
		RevokeLimit:      1,
		RevokeWindow:     time.Hour,
		RegisterLimit:    5,
		RegisterWindow:   time.Hour,
		QuarantinePeriod: 90 * 24 * time.Hour,
	}
}

type Service struct {
	cfg        Config
	registry   ports.IdentityStore
	nonces     ports.NonceStore
	rates      ports.RateLimitStore
	audit      ports.AuditStore
	quarantine ports.QuarantineStore
	outbox     ports.OutboxStore
	logger     *slog.Logger
	metrics    *opsmetrics.Metrics
	now        func() time.Time
}

func NewService(
	cfg Config,
	registry ports.IdentityStore,
	nonces ports.NonceStore,
	rates ports.RateLimitStore,
	audit ports.AuditStore,
	quarantine ports.QuarantineStore,
	outbox ports.OutboxStore,
	logger *slog.Logger,
	metrics *opsmetrics.Metrics,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:        cfg,
		registry:   registry,
		nonces:     nonces,
		rates:      rates,
		audit:      audit,
		quarantine: quarantine,
		outbox:     outbox,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// SetClock injects a deterministic clock for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// RotateResult reports a completed rotation. Handle is the normalized
// form, which is what every response echoes.
type RotateResult struct {
	Handle    string
	NewKey    string
	RotatedAt time.Time
}

// Rotate runs the rotation pipeline for pathHandle against rawProof.
// Step order is load-bearing: a revoked identity is rejected before
// rate-limit or nonce state is touched, and the rate limit is checked
// before the nonce claim so a throttled proof stays replayable.
func (s *Service) Rotate(pathHandle string, rawProof []byte, origin string) (RotateResult, error) {
	now := s.now().UTC()

	proof, err := policy.ParseRotationProof(rawProof)
	if err != nil {
		s.metrics.RecordIdentityOp(model.OpRotate, "malformed")
		return RotateResult{}, err
	}
	normalized, err := policy.NormalizeHandle(pathHandle)
	if err != nil {
		return RotateResult{}, err
	}
	if proof.Handle != normalized {
		s.metrics.RecordIdentityOp(model.OpRotate, "handle_mismatch")
		return RotateResult{}, policy.ErrProofHandleMismatch
	}

	if err := policy.CheckTimestamp(proof.Timestamp, now, s.cfg.ProofWindow); err != nil {
		s.metrics.RecordIdentityOp(model.OpRotate, "stale_timestamp")
		return RotateResult{}, err
	}

	identity, err := s.registry.Get(proof.Handle)
	if err != nil {
		s.metrics.RecordIdentityOp(model.OpRotate, "not_found")
		return RotateResult{}, err
	}

	switch identity.Status {
	case model.StatusRevoked:
		s.metrics.RecordIdentityOp(model.OpRotate, "revoked")
		return RotateResult{}, ErrAlreadyRevoked
	case model.StatusSuspended:
		s.metrics.RecordIdentityOp(model.OpRotate, "suspended")
		return RotateResult{}, ErrSuspended
	}

	if identity.RecoveryKey == "" {
		s.metrics.RecordIdentityOp(model.OpRotate, "no_recovery_key")
		return RotateResult{}, ErrRecoveryKeyMissing
	}

	recoveryKey, err := airc.ParsePublicKey(identity.RecoveryKey)
	if err != nil {
		// Stored key material failing to parse is data corruption, not
		// a client error.
		s.logger.Error("stored recovery key unparseable",
			"component", componentName, "operation", model.OpRotate, "handle", proof.Handle)
		return RotateResult{}, fmt.Errorf("%w: recovery key: %v", ErrStoredKeyCorrupt, err)
	}
	if identity.CurrentKey != "" {
		if _, err := airc.ParsePublicKey(identity.CurrentKey); err != nil {
			return RotateResult{}, fmt.Errorf("%w: current key: %v", ErrStoredKeyCorrupt, err)
		}
	}
	if _, err := airc.ParsePublicKey(proof.OldKey); err != nil {
		s.metrics.RecordIdentityOp(model.OpRotate, "malformed")
		return RotateResult{}, err
	}
	if _, err := airc.ParsePublicKey(proof.NewKey); err != nil {
		s.metrics.RecordIdentityOp(model.OpRotate, "malformed")
		return RotateResult{}, err
	}
	if airc.KeysEqual(proof.NewKey, identity.RecoveryKey) {
		// The recovery key must stay distinct from the operational key,
		// otherwise a compromised operational key can forge rotations.
		s.metrics.RecordIdentityOp(model.OpRotate, "recovery_key_reuse")
		return RotateResult{}, ErrRecoveryKeyReuse
	}

	if err := policy.VerifyRotationSignature(recoveryKey, proof); err != nil {
		s.appendAudit(model.OpRotate, proof.Handle, false, origin, map[string]string{
			"reason": "invalid_signature",
		})
		s.metrics.RecordIdentityOp(model.OpRotate, "invalid_signature")
		return RotateResult{}, err
	}

	if err := s.checkRate(model.OpRotate, proof.Handle, s.cfg.RotateLimit, s.cfg.RotateWindow, origin, now); err != nil {
		return RotateResult{}, err
	}

	won, err := s.nonces.Claim(proof.Nonce, proof.Handle, model.OpRotate, s.cfg.ProofNonceTTL, now)
	if err != nil {
		// Identity-mutating proofs fail closed when replay protection
		// is unavailable.
		s.metrics.RecordIdentityOp(model.OpRotate, "store_unavailable")
		return RotateResult{}, fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	if !won {
		s.appendAudit(model.OpRotate, proof.Handle, false, origin, map[string]string{
			"reason": "replay",
			"nonce":  proof.Nonce,
		})
		s.metrics.RecordIdentityOp(model.OpRotate, "replay")
		return RotateResult{}, ErrReplay
	}

	if !airc.KeysEqual(proof.OldKey, identity.CurrentKey) {
		// Stale proof built against an outdated key, distinct from the
		// CAS race below.
		s.appendAudit(model.OpRotate, proof.Handle, false, origin, map[string]string{
			"reason":       "key_mismatch",
			"proof_old":    airc.Fingerprint(proof.OldKey),
			"current_seen": airc.Fingerprint(identity.CurrentKey),
		})
		s.metrics.RecordIdentityOp(model.OpRotate, "key_mismatch")
		return RotateResult{}, ErrKeyMismatch
	}

	res, err := s.registry.CompareAndSwapKey(proof.Handle, proof.OldKey, proof.NewKey, now)
	if err != nil {
		return RotateResult{}, err
	}
	if res == ports.CASStale {
		s.appendAudit(model.OpRotate, proof.Handle, false, origin, map[string]string{
			"reason": "concurrent_modification",
		})
		s.metrics.RecordIdentityOp(model.OpRotate, "concurrent_modification")
		return RotateResult{}, ErrConcurrentRotation
	}

	// Session invalidation is a required post-condition, delivered via
	// the durable outbox rather than fire-and-forget.
	task := model.OutboxTask{
		ID:     uuid.NewString(),
		Kind:   model.OutboxKindSessionInvalidation,
		Handle: proof.Handle,
		Payload: map[string]string{
			"old_key_fingerprint": airc.Fingerprint(proof.OldKey),
		},
		NextRetry: now,
		CreatedAt: now,
	}
	if err := s.outbox.Enqueue(task); err != nil {
		s.logger.Error("session invalidation enqueue failed",
			"component", componentName, "operation", model.OpRotate,
			"handle", proof.Handle, "error", err.Error())
		return RotateResult{}, fmt.Errorf("enqueue session invalidation: %w", err)
	}

	s.appendAudit(model.OpRotate, proof.Handle, true, origin, map[string]string{
		"new_key": airc.Fingerprint(proof.NewKey),
		"old_key": airc.Fingerprint(proof.OldKey),
	})
	s.appendKeyEvent(proof.Handle, proof.NewKey, model.KeyEventRotated, now)
	s.metrics.RecordIdentityOp(model.OpRotate, "success")
	s.logger.Info("key rotated",
		"component", componentName, "operation", model.OpRotate,
		"handle", proof.Handle, "new_key_fingerprint", airc.Fingerprint(proof.NewKey))

	return RotateResult{Handle: proof.Handle, NewKey: proof.NewKey, RotatedAt: now}, nil
}

// RevokeResult reports a completed revocation.
type RevokeResult struct {
	Handle    string
	RevokedAt time.Time
}

// Revoke runs the same verification pipeline as Rotate but terminally
// revokes the identity and opens a quarantine window.
func (s *Service) Revoke(pathHandle string, rawProof []byte, origin string) (RevokeResult, error) {
	now := s.now().UTC()

	proof, err := policy.ParseRevocationProof(rawProof)
	if err != nil {
		s.metrics.RecordIdentityOp(model.OpRevoke, "malformed")
		return RevokeResult{}, err
	}
	normalized, err := policy.NormalizeHandle(pathHandle)
	if err != nil {
		return RevokeResult{}, err
	}
	if proof.Handle != normalized {
		s.metrics.RecordIdentityOp(model.OpRevoke, "handle_mismatch")
		return RevokeResult{}, policy.ErrProofHandleMismatch
	}

	if err := policy.CheckTimestamp(proof.Timestamp, now, s.cfg.ProofWindow); err != nil {
		s.metrics.RecordIdentityOp(model.OpRevoke, "stale_timestamp")
		return RevokeResult{}, err
	}

	identity, err := s.registry.Get(proof.Handle)
	if err != nil {
		s.metrics.RecordIdentityOp(model.OpRevoke, "not_found")
		return RevokeResult{}, err
	}
	if identity.Status == model.StatusRevoked {
		s.metrics.RecordIdentityOp(model.OpRevoke, "revoked")
		return RevokeResult{}, ErrAlreadyRevoked
	}

	if identity.RecoveryKey == "" {
		s.metrics.RecordIdentityOp(model.OpRevoke, "no_recovery_key")
		return RevokeResult{}, ErrRecoveryKeyMissing
	}
	recoveryKey, err := airc.ParsePublicKey(identity.RecoveryKey)
	if err != nil {
		return RevokeResult{}, fmt.Errorf("%w: recovery key: %v", ErrStoredKeyCorrupt, err)
	}

	if err := policy.VerifyRevocationSignature(recoveryKey, proof); err != nil {
		s.appendAudit(model.OpRevoke, proof.Handle, false, origin, map[string]string{
			"reason": "invalid_signature",
		})
		s.metrics.RecordIdentityOp(model.OpRevoke, "invalid_signature")
		return RevokeResult{}, err
	}

	if err := s.checkRate(model.OpRevoke, proof.Handle, s.cfg.RevokeLimit, s.cfg.RevokeWindow, origin, now); err != nil {
		return RevokeResult{}, err
	}

	won, err := s.nonces.Claim(proof.Nonce, proof.Handle, model.OpRevoke, s.cfg.ProofNonceTTL, now)
	if err != nil {
		s.metrics.RecordIdentityOp(model.OpRevoke, "store_unavailable")
		return RevokeResult{}, fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	if !won {
		s.appendAudit(model.OpRevoke, proof.Handle, false, origin, map[string]string{
			"reason": "replay",
			"nonce":  proof.Nonce,
		})
		s.metrics.RecordIdentityOp(model.OpRevoke, "replay")
		return RevokeResult{}, ErrReplay
	}

	if err := s.registry.MarkRevoked(proof.Handle, now); err != nil {
		return RevokeResult{}, err
	}
	if err := s.quarantine.Put(model.QuarantineRecord{
		Handle:    proof.Handle,
		RevokedAt: now,
		ExpiresAt: now.Add(s.cfg.QuarantinePeriod),
		Reason:    proof.Reason,
	}); err != nil {
		s.logger.Error("quarantine record write failed",
			"component", componentName, "operation", model.OpRevoke,
			"handle", proof.Handle, "error", err.Error())
	}

	s.appendAudit(model.OpRevoke, proof.Handle, true, origin, map[string]string{
		"reason": proof.Reason,
	})
	s.appendKeyEvent(proof.Handle, identity.CurrentKey, model.KeyEventRevoked, now)
	s.metrics.RecordIdentityOp(model.OpRevoke, "success")
	s.logger.Info("identity revoked",
		"component", componentName, "operation", model.OpRevoke, "handle", proof.Handle)
	return RevokeResult{Handle: proof.Handle, RevokedAt: now}, nil
}

// RegisterResult reports a completed ownership registration.
type RegisterResult struct {
	Handle     string
	KeyChanged bool
}

// RegisterKey binds a candidate public key to an existing account via a
// self-certifying ownership proof. It never creates accounts.
func (s *Service) RegisterKey(handle, publicKey, compactProof, recoveryKey, origin string) (RegisterResult, error) {
	now := s.now().UTC()

	proof, err := policy.ParseOwnershipProof(handle, publicKey, compactProof)
	if err != nil {
		s.metrics.RecordIdentityOp(model.OpRegister, "malformed")
		return RegisterResult{}, err
	}
	if _, err := airc.ParsePublicKey(proof.PublicKey); err != nil {
		s.metrics.RecordIdentityOp(model.OpRegister, "malformed")
		return RegisterResult{}, err
	}

	if recoveryKey != "" {
		if _, err := airc.ParsePublicKey(recoveryKey); err != nil {
			s.metrics.RecordIdentityOp(model.OpRegister, "malformed")
			return RegisterResult{}, err
		}
		if airc.KeysEqual(recoveryKey, proof.PublicKey) {
			s.metrics.RecordIdentityOp(model.OpRegister, "malformed")
			return RegisterResult{}, fmt.Errorf("%w: recovery key must differ from signing key", airc.ErrKeyMalformed)
		}
	}

	if err := policy.CheckTimestamp(proof.Timestamp, now, s.cfg.ProofWindow); err != nil {
		s.metrics.RecordIdentityOp(model.OpRegister, "stale_timestamp")
		return RegisterResult{}, err
	}

	if err := policy.VerifyOwnershipSignature(proof); err != nil {
		s.appendAudit(model.OpRegister, proof.Handle, false, origin, map[string]string{
			"reason": "invalid_signature",
		})
		s.metrics.RecordIdentityOp(model.OpRegister, "invalid_signature")
		return RegisterResult{}, err
	}

	identity, err := s.registry.Get(proof.Handle)
	if err != nil {
		s.metrics.RecordIdentityOp(model.OpRegister, "not_found")
		return RegisterResult{}, err
	}
	if identity.Status == model.StatusRevoked {
		// Rejected before any rate-limit budget is spent.
		s.metrics.RecordIdentityOp(model.OpRegister, "revoked")
		return RegisterResult{}, ErrAlreadyRevoked
	}
	if identity.RecoveryKey != "" && airc.KeysEqual(proof.PublicKey, identity.RecoveryKey) {
		// Re-binding the stored recovery key as the operational key would
		// collapse the two-key separation.
		s.metrics.RecordIdentityOp(model.OpRegister, "recovery_key_reuse")
		return RegisterResult{}, ErrRecoveryKeyReuse
	}
	_, active, err := s.quarantine.Active(proof.Handle, now)
	if err != nil {
		s.metrics.RecordIdentityOp(model.OpRegister, "store_unavailable")
		return RegisterResult{}, fmt.Errorf("%w: quarantine: %v", ports.ErrStoreUnavailable, err)
	}
	if active {
		s.metrics.RecordIdentityOp(model.OpRegister, "quarantined")
		return RegisterResult{}, ErrQuarantined
	}

	if err := s.checkRate(model.OpRegister, proof.Handle, s.cfg.RegisterLimit, s.cfg.RegisterWindow, origin, now); err != nil {
		return RegisterResult{}, err
	}

	keyChanged, err := s.registry.BindKey(proof.Handle, proof.PublicKey, recoveryKey, now)
	if err != nil {
		return RegisterResult{}, err
	}

	change := model.KeyEventBound
	if keyChanged {
		change = model.KeyEventRotated
	}
	s.appendKeyEvent(proof.Handle, proof.PublicKey, change, now)
	s.appendAudit(model.OpRegister, proof.Handle, true, origin, map[string]string{
		"key":         airc.Fingerprint(proof.PublicKey),
		"key_changed": fmt.Sprintf("%t", keyChanged),
	})
	s.metrics.RecordIdentityOp(model.OpRegister, "success")
	return RegisterResult{Handle: proof.Handle, KeyChanged: keyChanged}, nil
}

// ProvisionAccount creates the account record a later ownership proof
// binds a key to. Quarantined handles cannot be re-provisioned.
func (s *Service) ProvisionAccount(handle string) (model.Identity, error) {
	now := s.now().UTC()
	normalized, err := policy.NormalizeHandle(handle)
	if err != nil {
		return model.Identity{}, err
	}
	_, active, err := s.quarantine.Active(normalized, now)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: quarantine: %v", ports.ErrStoreUnavailable, err)
	}
	if active {
		return model.Identity{}, ErrQuarantined
	}
	identity := model.Identity{
		Handle:    normalized,
		Status:    model.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.registry.Create(identity); err != nil {
		return model.Identity{}, err
	}
	return identity, nil
}

// ResolveKey returns the currently registered key for a handle. This is
// one of the two calls external subsystems consume.
func (s *Service) ResolveKey(handle string) (string, model.Status, error) {
	normalized, err := policy.NormalizeHandle(handle)
	if err != nil {
		return "", "", err
	}
	identity, err := s.registry.Get(normalized)
	if err != nil {
		return "", "", err
	}
	if identity.CurrentKey == "" {
		return "", identity.Status, ErrNoKeyBound
	}
	return identity.CurrentKey, identity.Status, nil
}

// HandleState answers "is this handle active, revoked, or quarantined"
// for external consumers.
type HandleState struct {
	Handle      string
	Status      model.Status
	Active      bool
	Quarantined bool
}

func (s *Service) HandleStatus(handle string) (HandleState, error) {
	now := s.now().UTC()
	normalized, err := policy.NormalizeHandle(handle)
	if err != nil {
		return HandleState{}, err
	}
	identity, err := s.registry.Get(normalized)
	if err != nil {
		return HandleState{}, err
	}
	_, quarantined, _ := s.quarantine.Active(normalized, now)
	return HandleState{
		Handle:      normalized,
		Status:      identity.Status,
		Active:      identity.Active(),
		Quarantined: quarantined,
	}, nil
}

const componentName = "keyauth"

func (s *Service) checkRate(operation, handle string, limit int, window time.Duration, origin string, now time.Time) error {
	decision, err := s.rates.Increment(operation+":"+handle, limit, window, now)
	if err != nil {
		return fmt.Errorf("%w: rate counters: %v", ports.ErrStoreUnavailable, err)
	}
	if decision.Allowed {
		return nil
	}
	s.appendAudit(operation, handle, false, origin, map[string]string{
		"reason":   "rate_limited",
		"reset_at": decision.ResetAt.Format(time.RFC3339),
	})
	s.metrics.RecordIdentityOp(operation, "rate_limited")
	return &RateLimitError{
		Operation:  operation,
		RetryAfter: decision.ResetAt.Sub(now),
		ResetAt:    decision.ResetAt,
	}
}

// appendAudit is best-effort for observability only: a failed write is
// logged and never blocks or rolls back the primary response.
func (s *Service) appendAudit(eventType, handle string, success bool, origin string, details map[string]string) {
	entry := model.AuditEntry{
		ID:        uuid.NewString(),
		EventType: "identity." + eventType,
		Handle:    handle,
		Success:   success,
		Details:   details,
		At:        s.now().UTC(),
	}
	if origin != "" {
		entry.OriginHash = airc.HashOrigin(origin)
	}
	if err := s.audit.Append(entry); err != nil {
		s.logger.Error("audit append failed",
			"component", componentName, "operation", eventType,
			"handle", handle, "error", err.Error())
	}
}

func (s *Service) appendKeyEvent(handle, key, change string, now time.Time) {
	err := s.audit.AppendKeyEvent(model.KeyEvent{
		Handle:         handle,
		KeyFingerprint: airc.Fingerprint(key),
		Change:         change,
		At:             now,
	})
	if err != nil {
		s.logger.Error("key event append failed",
			"component", componentName, "handle", handle, "error", err.Error())
	}
}

// Unwrap helpers for transport mapping.
func IsNotFound(err error) bool { return errors.Is(err, ports.ErrIdentityNotFound) }
