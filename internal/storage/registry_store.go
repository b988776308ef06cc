// Package storage provides the process-local backing stores of the AIRC
// service: the key registry, nonce tracker, fixed-window rate counters,
// audit log, quarantine records, and the post-condition outbox. Each
// store owns its own lock; all cross-request atomicity lives here.
package storage

import (
	"errors"
	"os"
	"sync"
	"time"

	"airc-chat/go-backend/internal/domains/keyauth/model"
	"airc-chat/go-backend/internal/domains/keyauth/ports"
	"airc-chat/go-backend/internal/securestore"
)

// RegistryStore is the durable per-handle identity record store. Key
// mutations go through compare-and-swap only; concurrent rotations on
// one identity yield exactly one winner.
type RegistryStore struct {
	mu         sync.RWMutex
	identities map[string]model.Identity
	path       string
	secret     string
}

func NewRegistryStore() *RegistryStore {
	return &RegistryStore{identities: make(map[string]model.Identity)}
}

// NewPersistentRegistryStore loads an encrypted snapshot from path, and
// persists every mutation back to it.
func NewPersistentRegistryStore(path, secret string) (*RegistryStore, error) {
	s := &RegistryStore{
		identities: make(map[string]model.Identity),
		path:       path,
		secret:     secret,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RegistryStore) Get(handle string) (model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[handle]
	if !ok {
		return model.Identity{}, ports.ErrIdentityNotFound
	}
	return id, nil
}

func (s *RegistryStore) Create(identity model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[identity.Handle]; ok {
		return ports.ErrIdentityExists
	}
	next := s.cloneLocked()
	next[identity.Handle] = identity
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.identities = next
	return nil
}

func (s *RegistryStore) BindKey(handle, key, recoveryKey string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[handle]
	if !ok {
		return false, ports.ErrIdentityNotFound
	}
	keyChanged := id.CurrentKey != "" && id.CurrentKey != key
	id.CurrentKey = key
	if recoveryKey != "" {
		id.RecoveryKey = recoveryKey
	}
	id.KeyRotatedAt = now
	id.UpdatedAt = now
	next := s.cloneLocked()
	next[handle] = id
	if err := s.persistLocked(next); err != nil {
		return false, err
	}
	s.identities = next
	return keyChanged, nil
}

func (s *RegistryStore) CompareAndSwapKey(handle, oldKey, newKey string, now time.Time) (ports.CASResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[handle]
	if !ok {
		return ports.CASStale, ports.ErrIdentityNotFound
	}
	if id.CurrentKey != oldKey {
		return ports.CASStale, nil
	}
	id.CurrentKey = newKey
	id.KeyRotatedAt = now
	id.UpdatedAt = now
	next := s.cloneLocked()
	next[handle] = id
	if err := s.persistLocked(next); err != nil {
		return ports.CASStale, err
	}
	s.identities = next
	return ports.CASUpdated, nil
}

func (s *RegistryStore) MarkRevoked(handle string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[handle]
	if !ok {
		return ports.ErrIdentityNotFound
	}
	id.Status = model.StatusRevoked
	id.UpdatedAt = now
	next := s.cloneLocked()
	next[handle] = id
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.identities = next
	return nil
}

func (s *RegistryStore) cloneLocked() map[string]model.Identity {
	next := make(map[string]model.Identity, len(s.identities)+1)
	for k, v := range s.identities {
		next[k] = v
	}
	return next
}

func (s *RegistryStore) persistLocked(identities map[string]model.Identity) error {
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	snapshot := struct {
		Identities map[string]model.Identity `json:"identities"`
	}{Identities: identities}
	return securestore.WriteEncryptedJSON(s.path, s.secret, snapshot)
}

func (s *RegistryStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	decoded, err := securestore.ReadDecryptedFile(s.path, s.secret)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot struct {
		Identities map[string]model.Identity `json:"identities"`
	}
	if err := decodeSnapshot(decoded, &snapshot); err != nil {
		return err
	}
	if snapshot.Identities != nil {
		s.identities = snapshot.Identities
	}
	return nil
}
