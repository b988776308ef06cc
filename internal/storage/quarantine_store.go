package storage

import (
	"sync"
	"time"

	"airc-chat/go-backend/internal/domains/keyauth/model"
)

// QuarantineStore blocks re-registration of revoked handles for a
// cooldown window. Expired records are swept at query time.
type QuarantineStore struct {
	mu      sync.Mutex
	records map[string]model.QuarantineRecord

	// unavailable simulates an unreachable store in tests.
	unavailable bool
}

func NewQuarantineStore() *QuarantineStore {
	return &QuarantineStore{records: make(map[string]model.QuarantineRecord)}
}

func (s *QuarantineStore) Put(record model.QuarantineRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return ErrQuarantineStoreDown
	}
	s.records[record.Handle] = record
	return nil
}

// Active returns the unexpired record for handle, sweeping any expired
// one it encounters.
func (s *QuarantineStore) Active(handle string, now time.Time) (model.QuarantineRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return model.QuarantineRecord{}, false, ErrQuarantineStoreDown
	}
	rec, ok := s.records[handle]
	if !ok {
		return model.QuarantineRecord{}, false, nil
	}
	if rec.Expired(now) {
		delete(s.records, handle)
		return model.QuarantineRecord{}, false, nil
	}
	return rec, true, nil
}

// SetUnavailable flips the store into a failure mode where every call
// errors, exercising the callers' unavailability handling.
func (s *QuarantineStore) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

// Sweep removes every expired record and returns how many were dropped.
func (s *QuarantineStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for handle, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, handle)
			dropped++
		}
	}
	return dropped
}
