// Package privacylog keeps secrets and raw identifiers out of the log
// stream. Secret material (signatures, nonces, mnemonics, recovery
// keys) is redacted outright; identifiers that are useful for
// correlation (handles, origins, key wire forms) are replaced with a
// per-boot fingerprint, so one process run can be traced without log
// lines being joinable across runs.
package privacylog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

// bootSalt makes fingerprints stable within a process and useless
// across processes.
var bootSalt = newBootSalt()

type action int

const (
	actKeep action = iota
	actRedact
	actFingerprint
)

// identifierKeys are logged as fingerprints, never verbatim.
var identifierKeys = map[string]struct{}{
	"handle":     {},
	"sender":     {},
	"recipient":  {},
	"origin":     {},
	"from":       {},
	"to":         {},
	"old_key":    {},
	"new_key":    {},
	"public_key": {},
}

// secretKeyParts match by substring so "proof_nonce" and
// "recovery_key_b64" are caught without enumerating every spelling.
var secretKeyParts = []string{
	"signature", "nonce", "mnemonic", "secret",
	"password", "passphrase", "private", "recovery_key", "token",
}

func classify(key string) action {
	for _, part := range secretKeyParts {
		if strings.Contains(key, part) {
			return actRedact
		}
	}
	if _, ok := identifierKeys[key]; ok {
		return actFingerprint
	}
	return actKeep
}

// SanitizingHandler wraps another slog.Handler and rewrites attrs on
// the way through.
type SanitizingHandler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, SanitizeAttr(attr))
	}
	return &SanitizingHandler{next: h.next.WithAttrs(out)}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

// SanitizeAttr rewrites a single attr, descending into groups.
func SanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.TrimSpace(attr.Key)
	switch classify(strings.ToLower(key)) {
	case actRedact:
		return slog.String(key, redactedValue)
	case actFingerprint:
		return slog.String(fingerprintKeyName(key), FingerprintID(attrString(attr.Value)))
	}
	if attr.Value.Kind() == slog.KindGroup {
		members := attr.Value.Group()
		out := make([]slog.Attr, 0, len(members))
		for _, member := range members {
			out = append(out, SanitizeAttr(member))
		}
		return slog.Attr{Key: key, Value: slog.GroupValue(out...)}
	}
	return attr
}

// SanitizeArgs applies the same rules to alternating key/value logger
// args, for call sites that build lines outside a handler.
func SanitizeArgs(args ...any) []any {
	if len(args) == 0 {
		return nil
	}
	out := make([]any, 0, len(args))
	for i := 0; i < len(args); i++ {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			out = append(out, args[i])
			continue
		}
		value := args[i+1]
		i++
		switch classify(strings.ToLower(strings.TrimSpace(key))) {
		case actRedact:
			out = append(out, key, redactedValue)
		case actFingerprint:
			out = append(out, fingerprintKeyName(key), FingerprintID(fmt.Sprint(value)))
		default:
			out = append(out, key, value)
		}
	}
	return out
}

// FingerprintID hashes an identifier with the boot salt. Empty input
// stays empty so optional attrs do not produce phantom fingerprints.
func FingerprintID(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(trimmed + "|" + bootSalt))
	return "fp_" + hex.EncodeToString(sum[:8])
}

func fingerprintKeyName(key string) string {
	if strings.HasSuffix(strings.ToLower(key), "_fp") {
		return key
	}
	return key + "_fp"
}

func attrString(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().UTC().Format("2006-01-02T15:04:05.000000000Z")
	default:
		return fmt.Sprint(v.Any())
	}
}

func newBootSalt() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "static_boot_salt"
	}
	return hex.EncodeToString(buf)
}
