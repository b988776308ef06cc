package storage

import (
	"errors"
	"os"
	"sync"

	"airc-chat/go-backend/internal/domains/keyauth/model"
	"airc-chat/go-backend/internal/securestore"
)

// keyEventCap bounds the per-handle key-event log; older events roll
// off. The main audit log is unbounded and append-only.
const keyEventCap = 50

// AuditStore records every identity operation attempt. Entries are
// never updated or deleted.
type AuditStore struct {
	mu        sync.RWMutex
	entries   []model.AuditEntry
	keyEvents map[string][]model.KeyEvent
	path      string
	secret    string
}

func NewAuditStore() *AuditStore {
	return &AuditStore{keyEvents: make(map[string][]model.KeyEvent)}
}

func NewPersistentAuditStore(path, secret string) (*AuditStore, error) {
	s := &AuditStore{
		keyEvents: make(map[string][]model.KeyEvent),
		path:      path,
		secret:    secret,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AuditStore) Append(entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return s.persistLocked()
}

func (s *AuditStore) AppendKeyEvent(event model.KeyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := append(s.keyEvents[event.Handle], event)
	if len(events) > keyEventCap {
		events = events[len(events)-keyEventCap:]
	}
	s.keyEvents[event.Handle] = events
	return s.persistLocked()
}

// Entries returns a copy of the audit log, newest last.
func (s *AuditStore) Entries() []model.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.AuditEntry(nil), s.entries...)
}

// KeyEvents returns the capped key-event log for one handle.
func (s *AuditStore) KeyEvents(handle string) []model.KeyEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.KeyEvent(nil), s.keyEvents[handle]...)
}

type auditSnapshot struct {
	Entries   []model.AuditEntry          `json:"entries"`
	KeyEvents map[string][]model.KeyEvent `json:"key_events"`
}

func (s *AuditStore) persistLocked() error {
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	return securestore.WriteEncryptedJSON(s.path, s.secret, auditSnapshot{
		Entries:   s.entries,
		KeyEvents: s.keyEvents,
	})
}

func (s *AuditStore) load() error {
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
	var snapshot auditSnapshot
	if err := decodeSnapshot(decoded, &snapshot); err != nil {
		return err
	}
	s.entries = snapshot.Entries
	if snapshot.KeyEvents != nil {
		s.keyEvents = snapshot.KeyEvents
	}
	return nil
}
