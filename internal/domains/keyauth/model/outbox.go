package model

import "time"

// OutboxTask is a durable post-condition of a successful mutation,
// retried by the outbox worker until delivery succeeds. The shape
// mirrors a pending-delivery record: retry count, next attempt, last
// failure.
type OutboxTask struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Handle     string            `json:"handle"`
	Payload    map[string]string `json:"payload,omitempty"`
	RetryCount int               `json:"retry_count"`
	NextRetry  time.Time         `json:"next_retry"`
	LastError  string            `json:"last_error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

const OutboxKindSessionInvalidation = "session_invalidation"
