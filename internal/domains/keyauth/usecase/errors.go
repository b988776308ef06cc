package usecase

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAlreadyRevoked     = errors.New("identity is already revoked")
	ErrSuspended          = errors.New("identity is suspended")
	ErrRecoveryKeyMissing = errors.New("no recovery key on file")
	ErrKeyMismatch        = errors.New("proof old_key does not match current key")
	ErrConcurrentRotation = errors.New("concurrent modification of identity key")
	ErrReplay             = errors.New("proof nonce already consumed")
	ErrQuarantined        = errors.New("handle is quarantined")
	ErrRecoveryKeyReuse   = errors.New("recovery key cannot be bound as the signing key")
	ErrStoredKeyCorrupt   = errors.New("stored key material is corrupt")
	ErrNoKeyBound         = errors.New("no key bound for handle")
)

// RateLimitError carries machine-readable backoff guidance.
type RateLimitError struct {
	Operation  string
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %s", e.Operation, e.RetryAfter.Round(time.Second))
}

// IsRateLimited extracts a RateLimitError if err is one.
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
