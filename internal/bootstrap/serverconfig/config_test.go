package serverconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func boolPtr(v bool) *bool {
	return &v
}

func TestMergeAppliesIdentityKnobs(t *testing.T) {
	dst := DefaultConfig()
	src := fileConfig{
		Identity: identitySection{
			ProofWindow:      "2m",
			ProofNonceTTL:    "30m",
			RotateLimit:      2,
			RotateWindow:     "30m",
			QuarantinePeriod: "720h",
		},
	}

	Merge(&dst, src)

	if dst.Identity.ProofWindow != 2*time.Minute {
		t.Fatalf("expected proofWindow=2m, got %s", dst.Identity.ProofWindow)
	}
	if dst.Identity.ProofNonceTTL != 30*time.Minute {
		t.Fatalf("expected proofNonceTtl=30m, got %s", dst.Identity.ProofNonceTTL)
	}
	if dst.Identity.RotateLimit != 2 {
		t.Fatalf("expected rotateLimit=2, got %d", dst.Identity.RotateLimit)
	}
	if dst.Identity.QuarantinePeriod != 30*24*time.Hour {
		t.Fatalf("expected quarantinePeriod=720h, got %s", dst.Identity.QuarantinePeriod)
	}
	// Unset knobs keep their defaults.
	if dst.Identity.RegisterLimit != 5 {
		t.Fatalf("expected default registerLimit=5, got %d", dst.Identity.RegisterLimit)
	}
}

func TestMergeParsesCutoverInstant(t *testing.T) {
	dst := DefaultConfig()
	src := fileConfig{
		Enforcement: gateSection{
			CutoverAt:      "2026-09-01T00:00:00Z",
			StrictOverride: boolPtr(false),
		},
	}

	Merge(&dst, src)

	want := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if !dst.Enforcement.CutoverAt.Equal(want) {
		t.Fatalf("expected cutover %s, got %s", want, dst.Enforcement.CutoverAt)
	}
	if dst.Enforcement.StrictOverride {
		t.Fatal("explicit strictOverride=false must be applied")
	}
}

func TestMergeIgnoresMalformedCutover(t *testing.T) {
	dst := DefaultConfig()
	Merge(&dst, fileConfig{Enforcement: gateSection{CutoverAt: "tomorrow"}})
	if !dst.Enforcement.CutoverAt.IsZero() {
		t.Fatal("malformed cutover must not set an instant")
	}
}

func TestLoadFromPathReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
server:
  listenAddr: ":9090"
  originRps: 5
storage:
  dir: /var/lib/airc
identity:
  rotateWindow: 30m
  rotateLimit: 2
enforcement:
  cutoverAt: "2026-10-01T00:00:00Z"
network:
  transport: mock
  minPeers: 3
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := LoadFromPath(path)

	if cfg.ListenAddr != ":9090" {
		t.Fatalf("expected listenAddr=:9090, got %s", cfg.ListenAddr)
	}
	if cfg.OriginRPS != 5 {
		t.Fatalf("expected originRps=5, got %v", cfg.OriginRPS)
	}
	if cfg.StorageDir != "/var/lib/airc" {
		t.Fatalf("expected storage dir, got %s", cfg.StorageDir)
	}
	if cfg.Enforcement.CutoverAt.IsZero() {
		t.Fatal("expected cutover instant from file")
	}
	if cfg.Network.MinPeers != 3 {
		t.Fatalf("expected minPeers=3, got %d", cfg.Network.MinPeers)
	}
	if cfg.Identity.RotateWindow != 30*time.Minute {
		t.Fatalf("expected rotateWindow=30m, got %s", cfg.Identity.RotateWindow)
	}
	if cfg.Identity.RotateLimit != 2 {
		t.Fatalf("expected rotateLimit=2, got %d", cfg.Identity.RotateLimit)
	}
	// Untouched knobs keep defaults.
	if cfg.OriginBurst != 20 {
		t.Fatalf("expected default originBurst=20, got %d", cfg.OriginBurst)
	}
}

func TestLoadFromPathMissingFileFallsBack(t *testing.T) {
	cfg := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	if cfg.ListenAddr != ":8844" {
		t.Fatalf("expected default listenAddr, got %s", cfg.ListenAddr)
	}
}

func TestApplyEnvOverridesStrictSigning(t *testing.T) {
	t.Setenv("AIRC_STRICT_SIGNING", "true")
	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg)
	if !cfg.Enforcement.StrictOverride {
		t.Fatal("expected strict override from env")
	}
}

func TestApplyEnvOverridesIgnoresInvalidValues(t *testing.T) {
	t.Setenv("AIRC_STRICT_SIGNING", "definitely")
	t.Setenv("AIRC_SIGNING_CUTOVER", "soon")
	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg)
	if cfg.Enforcement.StrictOverride {
		t.Fatal("invalid bool must not flip the override")
	}
	if !cfg.Enforcement.CutoverAt.IsZero() {
		t.Fatal("invalid instant must not set a cutover")
	}
}

func TestApplyEnvOverridesSecretAndAddr(t *testing.T) {
	t.Setenv("AIRC_STORAGE_SECRET", "s3cret")
	t.Setenv("AIRC_LISTEN_ADDR", "127.0.0.1:7000")
	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg)
	if cfg.Secret != "s3cret" {
		t.Fatalf("expected secret from env, got %q", cfg.Secret)
	}
	if cfg.ListenAddr != "127.0.0.1:7000" {
		t.Fatalf("expected listen addr from env, got %q", cfg.ListenAddr)
	}
}
