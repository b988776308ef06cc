package rest

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"airc-chat/go-backend/internal/airc"
	keyauth "airc-chat/go-backend/internal/domains/keyauth/usecase"
	gatepolicy "airc-chat/go-backend/internal/domains/msggate/policy"
	msggate "airc-chat/go-backend/internal/domains/msggate/usecase"
	"airc-chat/go-backend/internal/storage"
	"airc-chat/go-backend/pkg/models"
)

type nullPublisher struct{ published int }

func (p *nullPublisher) PublishDirect(from, to, body string) error {
	p.published++
	return nil
}

type apiFixture struct {
	ts        *httptest.Server
	publisher *nullPublisher
	gate      *msggate.Gate

	signingPub   ed25519.PublicKey
	signingPriv  ed25519.PrivateKey
	recoveryPub  ed25519.PublicKey
	recoveryPriv ed25519.PrivateKey
}

type fixtureOpts struct {
	enforcement gatepolicy.EnforcementConfig
	originRPS   float64
	originBurst int
}

func newAPIFixture(t *testing.T, opts fixtureOpts) *apiFixture {
	t.Helper()

	sPub, sPriv, err := airc.GenerateKeypair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	rPub, rPriv, err := airc.GenerateKeypair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}

	cfg := keyauth.DefaultConfig()
	// Generous budgets so tests exercise the proof pipeline, not the
	// per-handle counters.
	cfg.RotateLimit = 10
	cfg.RevokeLimit = 10
	cfg.RegisterLimit = 10

	nonces := storage.NewNonceStore()
	svc := keyauth.NewService(
		cfg,
		storage.NewRegistryStore(),
		nonces,
		storage.NewRateLimitStore(),
		storage.NewAuditStore(),
		storage.NewQuarantineStore(),
		storage.NewOutboxStore(),
		nil, nil,
	)

	publisher := &nullPublisher{}
	gate := msggate.NewGate(opts.enforcement, svc, nonces, publisher, nil, nil)

	if opts.originRPS == 0 {
		opts.originRPS = 1000
		opts.originBurst = 1000
	}
	srv := NewServer(Config{
		ListenAddr:  ":0",
		Version:     "test",
		OriginRPS:   opts.originRPS,
		OriginBurst: opts.originBurst,
		Identity:    svc,
		Gate:        gate,
		Registry:    prometheus.NewRegistry(),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &apiFixture{
		ts:           ts,
		publisher:    publisher,
		gate:         gate,
		signingPub:   sPub,
		signingPriv:  sPriv,
		recoveryPub:  rPub,
		recoveryPriv: rPriv,
	}
}

func permissiveEnforcement() gatepolicy.EnforcementConfig {
	return gatepolicy.EnforcementConfig{CutoverAt: time.Now().Add(24 * time.Hour)}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case []byte:
		buf.Write(v)
	default:
		if err := json.NewEncoder(&buf).Encode(v); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// provisionAndRegister walks a handle through account creation and key
// binding, returning the bound key in wire form.
func (f *apiFixture) provisionAndRegister(t *testing.T, handle string) string {
	t.Helper()
	resp, _ := f.do(t, http.MethodPost, "/api/v1/identity/"+handle, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("provision: status %d", resp.StatusCode)
	}

	ts := time.Now().UTC().Format(time.RFC3339)
	sig := ed25519.Sign(f.signingPriv, []byte(handle+ts))
	req := models.RegisterKeyRequest{
		PublicKey:   airc.FormatPublicKey(f.signingPub),
		Proof:       ts + "|" + airc.EncodeSignature(sig),
		RecoveryKey: airc.FormatPublicKey(f.recoveryPub),
	}
	resp, _ = f.do(t, http.MethodPost, "/api/v1/identity/"+handle+"/key", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register key: status %d", resp.StatusCode)
	}
	return airc.FormatPublicKey(f.signingPub)
}

func (f *apiFixture) rotationProof(t *testing.T, handle, oldKey, newKey string, signer ed25519.PrivateKey) []byte {
	t.Helper()
	nonce, err := airc.NewNonce()
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	fields := map[string]any{
		"operation": "rotate",
		"handle":    handle,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"nonce":     nonce,
		"old_key":   oldKey,
		"new_key":   newKey,
	}
	sig, err := airc.SignCanonical(signer, fields)
	if err != nil {
		t.Fatalf("sign proof: %v", err)
	}
	fields["signature"] = sig
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal proof: %v", err)
	}
	return raw
}

func TestProvisionRegisterResolveFlow(t *testing.T) {
	f := newAPIFixture(t, fixtureOpts{enforcement: permissiveEnforcement()})
	key := f.provisionAndRegister(t, "alice")

	resp, body := f.do(t, http.MethodGet, "/api/v1/identity/alice/key", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve key: status %d", resp.StatusCode)
	}
	if body["public_key"] != key {
		t.Fatalf("resolved key %v does not match bound key", body["public_key"])
	}

	resp, body = f.do(t, http.MethodGet, "/api/v1/identity/alice/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if body["active"] != true || body["status"] != "active" {
		t.Fatalf("unexpected status body %v", body)
	}
}

func TestProvisionConflictAndInvalidHandle(t *testing.T) {
	f := newAPIFixture(t, fixtureOpts{enforcement: permissiveEnforcement()})

	if resp, _ := f.do(t, http.MethodPost, "/api/v1/identity/alice", nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first provision: status %d", resp.StatusCode)
	}
	resp, body := f.do(t, http.MethodPost, "/api/v1/identity/alice", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate provision: status %d", resp.StatusCode)
	}
	if body["reason"] != "already_exists" {
		t.Fatalf("unexpected reason %v", body["reason"])
	}

	resp, body = f.do(t, http.MethodPost, "/api/v1/identity/a!", nil)
	if resp.StatusCode != http.StatusBadRequest || body["reason"] != "handle_invalid" {
		t.Fatalf("invalid handle: status %d reason %v", resp.StatusCode, body["reason"])
	}
}

func TestUnknownHandleIs404(t *testing.T) {
	f := newAPIFixture(t, fixtureOpts{enforcement: permissiveEnforcement()})
	resp, body := f.do(t, http.MethodGet, "/api/v1/identity/ghost-handle/key", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["reason"] != "not_found" {
		t.Fatalf("unexpected reason %v", body["reason"])
	}
}

func TestRotateFlowReplayAndWrongSigner(t *testing.T) {
	f := newAPIFixture(t, fixtureOpts{enforcement: permissiveEnforcement()})
	oldKey := f.provisionAndRegister(t, "alice")

	newPub, _, err := airc.GenerateKeypair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	newKey := airc.FormatPublicKey(newPub)

	proof := f.rotationProof(t, "alice", oldKey, newKey, f.recoveryPriv)
	resp, body := f.do(t, http.MethodPost, "/api/v1/identity/alice/rotate", proof)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rotate: status %d body %v", resp.StatusCode, body)
	}
	if body["new_key"] != newKey {
		t.Fatalf("unexpected new_key %v", body["new_key"])
	}

	// Byte-identical proof again: the nonce is spent.
	resp, body = f.do(t, http.MethodPost, "/api/v1/identity/alice/rotate", proof)
	if resp.StatusCode != http.StatusUnauthorized || body["reason"] != "nonce_reused" {
		t.Fatalf("replay: status %d reason %v", resp.StatusCode, body["reason"])
	}

	// Operational-key signature never authorizes rotation.
	badProof := f.rotationProof(t, "alice", newKey, oldKey, f.signingPriv)
	resp, body = f.do(t, http.MethodPost, "/api/v1/identity/alice/rotate", badProof)
	if resp.StatusCode != http.StatusUnauthorized || body["reason"] != "invalid_signature" {
		t.Fatalf("wrong signer: status %d reason %v", resp.StatusCode, body["reason"])
	}
}

func TestRotateStaleOldKeyIs400KeyMismatch(t *testing.T) {
	f := newAPIFixture(t, fixtureOpts{enforcement: permissiveEnforcement()})
	f.provisionAndRegister(t, "alice")

	stalePub, _, err := airc.GenerateKeypair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	newPub, _, err := airc.GenerateKeypair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}

	// A well-signed proof built against a key that was never current is a
	// stale proof, not a concurrency conflict.
	proof := f.rotationProof(t, "alice",
		airc.FormatPublicKey(stalePub), airc.FormatPublicKey(newPub), f.recoveryPriv)
	resp, body := f.do(t, http.MethodPost, "/api/v1/identity/alice/rotate", proof)
	if resp.StatusCode != http.StatusBadRequest || body["reason"] != "key_mismatch" {
		t.Fatalf("stale old_key: status %d reason %v", resp.StatusCode, body["reason"])
	}
}

func TestRotateMalformedProofIs400(t *testing.T) {
	f := newAPIFixture(t, fixtureOpts{enforcement: permissiveEnforcement()})
	f.provisionAndRegister(t, "alice")

	resp, body := f.do(t, http.MethodPost, "/api/v1/identity/alice/rotate", []byte(`{"operation":"rotate"`))
	if resp.StatusCode != http.StatusBadRequest || body["reason"] != "proof_malformed" {
		t.Fatalf("status %d reason %v", resp.StatusCode, body["reason"])
	}
}

func TestUnsignedMessagePermissiveWarnsAndSetsPhaseHeader(t *testing.T) {
	f := newAPIFixture(t, fixtureOpts{enforcement: permissiveEnforcement()})
	f.provisionAndRegister(t, "alice")

	resp, body := f.do(t, http.MethodPost, "/api/v1/messages", models.SendMessageRequest{
		From: "alice", To: "bob", Body: "hi",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-AIRC-Enforcement-Phase") != "permissive" {
		t.Fatalf("unexpected phase header %q", resp.Header.Get("X-AIRC-Enforcement-Phase"))
	}
	if resp.Header.Get("X-AIRC-Enforcement-Cutover") == "" {
		t.Fatal("cutover header must be present when an instant is configured")
	}
	warnings, _ := body["warnings"].([]any)
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v", body["warnings"])
	}
	if f.publisher.published != 1 {
		t.Fatal("accepted message must be published")
	}
}

func TestUnsignedMessageStrictRejected(t *testing.T) {
	f := newAPIFixture(t, fixtureOpts{
		enforcement: gatepolicy.EnforcementConfig{StrictOverride: true},
	})
	f.provisionAndRegister(t, "alice")

	resp, body := f.do(t, http.MethodPost, "/api/v1/messages", models.SendMessageRequest{
		From: "alice", To: "bob", Body: "hi",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["reason"] != "signature_required" {
		t.Fatalf("unexpected reason %v", body["reason"])
	}
	if resp.Header.Get("X-AIRC-Enforcement-Phase") != "strict" {
		t.Fatalf("unexpected phase header %q", resp.Header.Get("X-AIRC-Enforcement-Phase"))
	}
	if f.publisher.published != 0 {
		t.Fatal("rejected message must not be published")
	}
}

func TestSignedMessageEndToEnd(t *testing.T) {
	f := newAPIFixture(t, fixtureOpts{
		enforcement: gatepolicy.EnforcementConfig{StrictOverride: true},
	})
	f.provisionAndRegister(t, "alice")

	nonce, err := airc.NewNonce()
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	req := models.SendMessageRequest{
		From:      "alice",
		To:        "bob",
		Body:      "hello",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Nonce:     nonce,
	}
	sig, err := airc.SignCanonical(f.signingPriv, map[string]any{
		"from": req.From, "to": req.To, "body": req.Body,
		"timestamp": req.Timestamp, "nonce": req.Nonce,
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req.Signature = sig

	resp, body := f.do(t, http.MethodPost, "/api/v1/messages", req)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	if body["signed"] != true {
		t.Fatalf("expected signed=true, got %v", body)
	}

	// Same nonce again: rejected even under a valid signature.
	resp, body = f.do(t, http.MethodPost, "/api/v1/messages", req)
	if resp.StatusCode != http.StatusConflict || body["reason"] != "replay_attack" {
		t.Fatalf("replay: status %d reason %v", resp.StatusCode, body["reason"])
	}
}

func TestOriginRateLimitMiddleware(t *testing.T) {
	f := newAPIFixture(t, fixtureOpts{
		enforcement: permissiveEnforcement(),
		originRPS:   0.001,
		originBurst: 1,
	})

	if resp, _ := f.do(t, http.MethodGet, "/api/v1/identity/alice/status", nil); resp.StatusCode == http.StatusTooManyRequests {
		t.Fatal("first request must pass the origin limiter")
	}
	resp, body := f.do(t, http.MethodGet, "/api/v1/identity/alice/status", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("throttled response must carry Retry-After")
	}
	if body["reason"] != "rate_limited" {
		t.Fatalf("unexpected reason %v", body["reason"])
	}
}

func TestHealthMetricsAndCorrelation(t *testing.T) {
	f := newAPIFixture(t, fixtureOpts{enforcement: permissiveEnforcement()})

	resp, body := f.do(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("health: status %d body %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Fatal("responses must carry a correlation ID")
	}

	resp, _ = f.do(t, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: status %d", resp.StatusCode)
	}
}

func TestCorrelationIDEchoed(t *testing.T) {
	f := newAPIFixture(t, fixtureOpts{enforcement: permissiveEnforcement()})

	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/health", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Correlation-ID", "corr-123")
	resp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Correlation-ID"); got != "corr-123" {
		t.Fatalf("expected echoed correlation ID, got %q", got)
	}
}

func TestRotateAndRevokeEchoNormalizedHandle(t *testing.T) {
	f := newAPIFixture(t, fixtureOpts{enforcement: permissiveEnforcement()})
	oldKey := f.provisionAndRegister(t, "alice")

	newPub, _, err := airc.GenerateKeypair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	newKey := airc.FormatPublicKey(newPub)

	// Path handle in display form; the response echoes the normalized
	// form the proof was verified against.
	proof := f.rotationProof(t, "alice", oldKey, newKey, f.recoveryPriv)
	resp, body := f.do(t, http.MethodPost, "/api/v1/identity/Alice/rotate", proof)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rotate: status %d body %v", resp.StatusCode, body)
	}
	if body["handle"] != "alice" {
		t.Fatalf("expected normalized handle, got %v", body["handle"])
	}

	nonce, err := airc.NewNonce()
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	fields := map[string]any{
		"operation": "revoke",
		"handle":    "alice",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"nonce":     nonce,
		"reason":    "key_compromised",
	}
	sig, err := airc.SignCanonical(f.recoveryPriv, fields)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	fields["signature"] = sig
	raw, _ := json.Marshal(fields)

	resp, body = f.do(t, http.MethodPost, "/api/v1/identity/Alice/revoke", raw)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke: status %d body %v", resp.StatusCode, body)
	}
	if body["handle"] != "alice" {
		t.Fatalf("expected normalized handle, got %v", body["handle"])
	}
	revokedAt, _ := body["revoked_at"].(string)
	if _, err := time.Parse(time.RFC3339, revokedAt); err != nil {
		t.Fatalf("revoked_at %q is not a valid instant: %v", revokedAt, err)
	}
}

func TestPhaseHeaderFollowsGateClock(t *testing.T) {
	cutover := time.Now().UTC().Add(24 * time.Hour)
	f := newAPIFixture(t, fixtureOpts{
		enforcement: gatepolicy.EnforcementConfig{CutoverAt: cutover},
	})
	f.provisionAndRegister(t, "alice")

	// Advance only the gate's clock past the cutover: the header and the
	// decision must agree on the strict phase.
	f.gate.SetClock(func() time.Time { return cutover.Add(time.Hour) })

	resp, body := f.do(t, http.MethodPost, "/api/v1/messages", models.SendMessageRequest{
		From: "alice", To: "bob", Body: "hi",
	})
	if resp.StatusCode != http.StatusUnauthorized || body["reason"] != "signature_required" {
		t.Fatalf("status %d reason %v", resp.StatusCode, body["reason"])
	}
	if got := resp.Header.Get("X-AIRC-Enforcement-Phase"); got != "strict" {
		t.Fatalf("phase header %q must match the gate decision", got)
	}
}

func TestRevokeOverHTTP(t *testing.T) {
	f := newAPIFixture(t, fixtureOpts{enforcement: permissiveEnforcement()})
	f.provisionAndRegister(t, "alice")

	nonce, err := airc.NewNonce()
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	fields := map[string]any{
		"operation": "revoke",
		"handle":    "alice",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"nonce":     nonce,
		"reason":    "device stolen",
	}
	sig, err := airc.SignCanonical(f.recoveryPriv, fields)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	fields["signature"] = sig
	raw, _ := json.Marshal(fields)

	resp, body := f.do(t, http.MethodPost, "/api/v1/identity/alice/revoke", raw)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke: status %d body %v", resp.StatusCode, body)
	}
	if body["status"] != "revoked" {
		t.Fatalf("unexpected body %v", body)
	}

	resp, body = f.do(t, http.MethodGet, "/api/v1/identity/alice/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status after revoke: %d", resp.StatusCode)
	}
	if body["status"] != "revoked" || body["active"] != false || body["quarantined"] != true {
		t.Fatalf("unexpected post-revoke state %v", body)
	}

	// A revoked handle cannot be re-provisioned during quarantine.
	resp, body = f.do(t, http.MethodPost, "/api/v1/identity/alice", nil)
	if resp.StatusCode != http.StatusForbidden || body["reason"] != "quarantined" {
		t.Fatalf("re-provision: status %d reason %v", resp.StatusCode, body["reason"])
	}
}
