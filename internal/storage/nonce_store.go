package storage

import (
	"sync"
	"time"

	"airc-chat/go-backend/internal/domains/keyauth/model"
)

// NonceStore is the claim-once replay tracker. Claim is a single
// conditional insert under the store lock: for any nonce value, exactly
// one concurrent claimant observes success. Expired records are pruned
// opportunistically every claimPruneEvery claims.
type NonceStore struct {
	mu     sync.Mutex
	claims map[string]nonceClaim
	hits   uint64

	// failClosed simulates an unavailable store in tests.
	unavailable bool
}

type nonceClaim struct {
	handle    string
	operation string
	expiresAt time.Time
}

const claimPruneEvery = 256

func NewNonceStore() *NonceStore {
	return &NonceStore{claims: make(map[string]nonceClaim)}
}

// Claim atomically records the nonce and reports true if this caller
// won it. A false return means the nonce was already consumed inside
// its TTL: a replay.
func (s *NonceStore) Claim(nonce, handle, operation string, ttl time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return false, ErrNonceStoreDown
	}

	s.hits++
	if s.hits%claimPruneEvery == 0 {
		for k, c := range s.claims {
			if !c.expiresAt.After(now) {
				delete(s.claims, k)
			}
		}
	}

	if existing, ok := s.claims[nonce]; ok && existing.expiresAt.After(now) {
		return false, nil
	}
	s.claims[nonce] = nonceClaim{
		handle:    handle,
		operation: operation,
		expiresAt: now.Add(ttl),
	}
	return true, nil
}

// Records returns the live nonce records, for diagnostics.
func (s *NonceStore) Records(now time.Time) []model.NonceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.NonceRecord, 0, len(s.claims))
	for nonce, c := range s.claims {
		if !c.expiresAt.After(now) {
			continue
		}
		out = append(out, model.NonceRecord{
			Nonce:     nonce,
			Handle:    c.handle,
			Operation: c.operation,
			ExpiresAt: c.expiresAt,
		})
	}
	return out
}

// SetUnavailable flips the store into a failure mode where every claim
// errors, exercising the fail-closed/fail-open contract.
func (s *NonceStore) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}
