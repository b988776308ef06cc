package policy

import (
	"testing"
	"time"
)

func TestPhaseAtPermissiveWithoutCutover(t *testing.T) {
	cfg := EnforcementConfig{}
	if got := cfg.PhaseAt(time.Now()); got != PhasePermissive {
		t.Fatalf("expected permissive with zero cutover, got %s", got)
	}
}

func TestPhaseAtFlipsAtCutover(t *testing.T) {
	cutover := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	cfg := EnforcementConfig{CutoverAt: cutover}

	if got := cfg.PhaseAt(cutover.Add(-time.Second)); got != PhasePermissive {
		t.Fatalf("expected permissive before cutover, got %s", got)
	}
	if got := cfg.PhaseAt(cutover); got != PhaseStrict {
		t.Fatalf("expected strict at the cutover instant, got %s", got)
	}
	if got := cfg.PhaseAt(cutover.Add(time.Hour)); got != PhaseStrict {
		t.Fatalf("expected strict after cutover, got %s", got)
	}
}

func TestPhaseAtStrictOverrideWinsBeforeCutover(t *testing.T) {
	cfg := EnforcementConfig{
		CutoverAt:      time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC),
		StrictOverride: true,
	}
	if got := cfg.PhaseAt(time.Now()); got != PhaseStrict {
		t.Fatalf("expected strict via override, got %s", got)
	}
}
