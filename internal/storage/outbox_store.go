package storage

import (
	"errors"
	"os"
	"sort"
	"sync"
	"time"

	"airc-chat/go-backend/internal/domains/keyauth/model"
	"airc-chat/go-backend/internal/securestore"
)

// OutboxStore durably queues post-conditions of successful mutations.
// Tasks survive restarts when persistence is configured; the worker
// drains Due tasks and either Completes or Reschedules them.
type OutboxStore struct {
	mu     sync.Mutex
	tasks  map[string]model.OutboxTask
	path   string
	secret string
}

func NewOutboxStore() *OutboxStore {
	return &OutboxStore{tasks: make(map[string]model.OutboxTask)}
}

func NewPersistentOutboxStore(path, secret string) (*OutboxStore, error) {
	s := &OutboxStore{
		tasks:  make(map[string]model.OutboxTask),
		path:   path,
		secret: secret,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *OutboxStore) Enqueue(task model.OutboxTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return s.persistLocked()
}

func (s *OutboxStore) Due(now time.Time, limit int) ([]model.OutboxTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := make([]model.OutboxTask, 0)
	for _, task := range s.tasks {
		if !task.NextRetry.After(now) {
			due = append(due, task)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *OutboxStore) Complete(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
	return s.persistLocked()
}

func (s *OutboxStore) Reschedule(taskID string, nextRetry time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil
	}
	task.RetryCount++
	task.NextRetry = nextRetry
	task.LastError = lastErr
	s.tasks[taskID] = task
	return s.persistLocked()
}

func (s *OutboxStore) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *OutboxStore) persistLocked() error {
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	snapshot := struct {
		Tasks map[string]model.OutboxTask `json:"tasks"`
	}{Tasks: s.tasks}
	return securestore.WriteEncryptedJSON(s.path, s.secret, snapshot)
}

func (s *OutboxStore) load() error {
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
		Tasks map[string]model.OutboxTask `json:"tasks"`
	}
	if err := decodeSnapshot(decoded, &snapshot); err != nil {
		return err
	}
	if snapshot.Tasks != nil {
		s.tasks = snapshot.Tasks
	}
	return nil
}
