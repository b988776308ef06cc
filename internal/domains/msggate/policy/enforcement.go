// Package policy computes the message-signing enforcement phase. The
// phase is derived from an explicit config value and an injected clock,
// never from ambient global state, so both phases are reachable in
// tests.
package policy

import "time"

type Phase string

const (
	PhasePermissive Phase = "permissive"
	PhaseStrict     Phase = "strict"
)

// EnforcementConfig is constructed once at startup and passed into the
// gate.
type EnforcementConfig struct {
	// CutoverAt is the instant unsigned messages stop being accepted.
	CutoverAt time.Time
	// StrictOverride forces strict behavior before the cutover.
	StrictOverride bool
}

// PhaseAt resolves the active phase at now.
func (c EnforcementConfig) PhaseAt(now time.Time) Phase {
	if c.StrictOverride {
		return PhaseStrict
	}
	if c.CutoverAt.IsZero() || now.Before(c.CutoverAt) {
		return PhasePermissive
	}
	return PhaseStrict
}
