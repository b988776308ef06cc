// Package policy implements the pure validation rules of the AIRC
// protocol: handle normalization, proof parsing and structural checks,
// timestamp windows, and proof signature verification.
package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrHandleInvalid = errors.New("handle is invalid")

	handlePattern = regexp.MustCompile(`^[a-z0-9_-]{3,32}$`)
)

// NormalizeHandle lower-cases a handle and strips a leading sigil, then
// validates the result. Handles are case-insensitive everywhere, so the
// normalized form is the only one that touches storage.
func NormalizeHandle(raw string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(raw))
	h = strings.TrimPrefix(h, "@")
	if !handlePattern.MatchString(h) {
		return "", fmt.Errorf("%w: %q", ErrHandleInvalid, raw)
	}
	return h, nil
}
