package storage

import (
	"fmt"

	"airc-chat/go-backend/internal/domains/keyauth/ports"
)

// ErrNonceStoreDown wraps the generic unavailability sentinel so the
// usecase can apply its fail-closed/fail-open policy with errors.Is.
var ErrNonceStoreDown = fmt.Errorf("%w: nonce store", ports.ErrStoreUnavailable)

// ErrQuarantineStoreDown marks the quarantine store unreachable.
var ErrQuarantineStoreDown = fmt.Errorf("%w: quarantine store", ports.ErrStoreUnavailable)
