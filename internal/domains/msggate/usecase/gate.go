// Package usecase implements the message authentication gate applied to
// the chat-send path.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"airc-chat/go-backend/internal/airc"
	keyauthmodel "airc-chat/go-backend/internal/domains/keyauth/model"
	keyauthpolicy "airc-chat/go-backend/internal/domains/keyauth/policy"
	"airc-chat/go-backend/internal/domains/keyauth/ports"
	gatepolicy "airc-chat/go-backend/internal/domains/msggate/policy"
	"airc-chat/go-backend/internal/platform/opsmetrics"
)

// Rejection reason codes surfaced on the wire.
const (
	ReasonSignatureRequired = "signature_required"
	ReasonInvalidSignature  = "invalid_signature"
	ReasonReplay            = "replay_attack"
	ReasonSenderKeyMissing  = "sender_key_not_found"
	ReasonInvalidPayload    = "invalid_payload"
	ReasonStaleTimestamp    = "stale_timestamp"
	ReasonSenderInactive    = "sender_not_active"
)

const (
	// WarningUnsignedDeprecated accompanies unsigned messages accepted
	// during the permissive phase.
	WarningUnsignedDeprecated = "unsigned messages are deprecated and will be rejected after the signing cutover"
	// WarningReplayDegraded accompanies messages accepted while the
	// replay-protection store is unavailable.
	WarningReplayDegraded = "replay_protection_degraded"
)

const (
	// MessageWindow bounds message timestamp drift; message nonces live
	// just as long.
	MessageWindow   = 10 * time.Minute
	messageNonceTTL = 10 * time.Minute
)

// ErrRejected wraps a gate rejection with its wire reason code.
type ErrRejected struct {
	Reason string
	Detail string
}

func (e *ErrRejected) Error() string {
	if e.Detail == "" {
		return "message rejected: " + e.Reason
	}
	return fmt.Sprintf("message rejected: %s (%s)", e.Reason, e.Detail)
}

// KeyResolver resolves a handle's currently registered key. Implemented
// by the keyauth service.
type KeyResolver interface {
	ResolveKey(handle string) (string, keyauthmodel.Status, error)
}

// Publisher hands an accepted message to the delivery layer.
type Publisher interface {
	PublishDirect(from, to, body string) error
}

// Decision is the gate's verdict for one message.
type Decision struct {
	Accepted bool
	Phase    gatepolicy.Phase
	Signed   bool
	Reason   string
	Warnings []string
}

type Gate struct {
	enforcement gatepolicy.EnforcementConfig
	resolver    KeyResolver
	nonces      ports.NonceStore
	publisher   Publisher
	logger      *slog.Logger
	metrics     *opsmetrics.Metrics
	now         func() time.Time
}

func NewGate(
	enforcement gatepolicy.EnforcementConfig,
	resolver KeyResolver,
	nonces ports.NonceStore,
	publisher Publisher,
	logger *slog.Logger,
	metrics *opsmetrics.Metrics,
) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		enforcement: enforcement,
		resolver:    resolver,
		nonces:      nonces,
		publisher:   publisher,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

func (g *Gate) SetClock(now func() time.Time) { g.now = now }

// Enforcement exposes the active policy so transports can report the
// phase and cutover on every response.
func (g *Gate) Enforcement() gatepolicy.EnforcementConfig { return g.enforcement }

// PhaseNow evaluates the phase under the gate's clock, keeping reported
// phase and gating decision consistent.
func (g *Gate) PhaseNow() gatepolicy.Phase { return g.enforcement.PhaseAt(g.now().UTC()) }

// Submit applies the gate to one message. A present signature is always
// fully verified regardless of phase; an absent one is accepted with a
// deprecation warning in the permissive phase and rejected in strict.
func (g *Gate) Submit(msg keyauthmodel.SignedMessage) (Decision, error) {
	now := g.now().UTC()
	phase := g.enforcement.PhaseAt(now)
	decision := Decision{Phase: phase, Signed: msg.Signed()}

	from, err := keyauthpolicy.NormalizeHandle(msg.From)
	if err != nil {
		return g.reject(decision, ReasonInvalidPayload, "invalid sender handle")
	}
	to, err := keyauthpolicy.NormalizeHandle(msg.To)
	if err != nil {
		return g.reject(decision, ReasonInvalidPayload, "invalid recipient handle")
	}
	if msg.Body == "" {
		return g.reject(decision, ReasonInvalidPayload, "empty body")
	}
	msg.From = from
	msg.To = to

	if !msg.Signed() {
		if phase == gatepolicy.PhaseStrict {
			return g.reject(decision, ReasonSignatureRequired, "")
		}
		decision.Warnings = append(decision.Warnings, WarningUnsignedDeprecated)
		return g.accept(decision, msg)
	}

	if !airc.ValidNonce(msg.Nonce) {
		return g.reject(decision, ReasonInvalidPayload, "malformed nonce")
	}
	if err := keyauthpolicy.CheckTimestamp(msg.Timestamp, now, MessageWindow); err != nil {
		return g.reject(decision, ReasonStaleTimestamp, "")
	}

	wireKey, status, err := g.resolver.ResolveKey(msg.From)
	if err != nil {
		// Without a registered key the signature cannot be verified.
		return g.reject(decision, ReasonSenderKeyMissing, "")
	}
	if status != keyauthmodel.StatusActive {
		return g.reject(decision, ReasonSenderInactive, string(status))
	}
	senderKey, err := airc.ParsePublicKey(wireKey)
	if err != nil {
		return g.reject(decision, ReasonSenderKeyMissing, "stored key unparseable")
	}

	if err := keyauthpolicy.VerifyMessageSignature(senderKey, msg); err != nil {
		return g.reject(decision, ReasonInvalidSignature, "")
	}

	won, err := g.nonces.Claim(msg.Nonce, msg.From, keyauthmodel.OpMessage, messageNonceTTL, now)
	if err != nil {
		// Chat messages fail open on a nonce-store outage, but the
		// degradation is surfaced, never silent.
		g.logger.Warn("replay protection degraded",
			"component", "msggate", "operation", keyauthmodel.OpMessage,
			"error", err.Error())
		decision.Warnings = append(decision.Warnings, WarningReplayDegraded)
		return g.accept(decision, msg)
	}
	if !won {
		// Replay, independent of signature validity.
		return g.reject(decision, ReasonReplay, "")
	}

	return g.accept(decision, msg)
}

func (g *Gate) accept(decision Decision, msg keyauthmodel.SignedMessage) (Decision, error) {
	if g.publisher != nil {
		if err := g.publisher.PublishDirect(msg.From, msg.To, msg.Body); err != nil {
			g.logger.Error("delivery publish failed",
				"component", "msggate", "from", msg.From, "error", err.Error())
			g.metrics.RecordGateDecision(string(decision.Phase), "delivery_failed")
			return decision, fmt.Errorf("publish message: %w", err)
		}
	}
	decision.Accepted = true
	g.metrics.RecordGateDecision(string(decision.Phase), "accepted")
	return decision, nil
}

func (g *Gate) reject(decision Decision, reason, detail string) (Decision, error) {
	decision.Reason = reason
	g.metrics.RecordGateDecision(string(decision.Phase), reason)
	return decision, &ErrRejected{Reason: reason, Detail: detail}
}

// RejectionReason extracts the wire reason code from a gate error.
func RejectionReason(err error) (string, bool) {
	var rej *ErrRejected
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}
