package usecase

import (
	"context"
	"log/slog"
	"time"

	"airc-chat/go-backend/internal/domains/keyauth/model"
	"airc-chat/go-backend/internal/domains/keyauth/ports"
	"airc-chat/go-backend/internal/platform/opsmetrics"
)

const (
	outboxPollInterval = 5 * time.Second
	outboxBatchSize    = 32
	outboxBackoffBase  = 10 * time.Second
	outboxBackoffMax   = 10 * time.Minute
)

// OutboxWorker drains due post-condition tasks and delivers them to the
// session invalidator, rescheduling failures with exponential backoff.
// Tasks are only removed after successful delivery.
type OutboxWorker struct {
	outbox   ports.OutboxStore
	sessions ports.SessionInvalidator
	logger   *slog.Logger
	metrics  *opsmetrics.Metrics
	now      func() time.Time
}

func NewOutboxWorker(outbox ports.OutboxStore, sessions ports.SessionInvalidator, logger *slog.Logger, metrics *opsmetrics.Metrics) *OutboxWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxWorker{
		outbox:   outbox,
		sessions: sessions,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

func (w *OutboxWorker) SetClock(now func() time.Time) { w.now = now }

// Run polls until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(outboxPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.DrainOnce()
		}
	}
}

// DrainOnce processes one batch of due tasks.
func (w *OutboxWorker) DrainOnce() {
	now := w.now().UTC()
	due, err := w.outbox.Due(now, outboxBatchSize)
	if err != nil {
		w.logger.Error("outbox poll failed", "component", componentName, "error", err.Error())
		return
	}
	for _, task := range due {
		w.deliver(task, now)
	}
}

func (w *OutboxWorker) deliver(task model.OutboxTask, now time.Time) {
	var err error
	switch task.Kind {
	case model.OutboxKindSessionInvalidation:
		err = w.sessions.InvalidateSessions(task.Handle, task.Payload["old_key_fingerprint"])
	default:
		w.logger.Warn("unknown outbox task kind dropped",
			"component", componentName, "kind", task.Kind, "task_id", task.ID)
		_ = w.outbox.Complete(task.ID)
		return
	}

	if err == nil {
		if cerr := w.outbox.Complete(task.ID); cerr != nil {
			w.logger.Error("outbox complete failed",
				"component", componentName, "task_id", task.ID, "error", cerr.Error())
		}
		return
	}

	backoff := outboxBackoffBase << task.RetryCount
	if backoff > outboxBackoffMax || backoff <= 0 {
		backoff = outboxBackoffMax
	}
	w.metrics.RecordOutboxRetry()
	w.logger.Warn("outbox delivery failed, rescheduling",
		"component", componentName, "task_id", task.ID,
		"retry_count", task.RetryCount+1, "error", err.Error())
	if rerr := w.outbox.Reschedule(task.ID, now.Add(backoff), err.Error()); rerr != nil {
		w.logger.Error("outbox reschedule failed",
			"component", componentName, "task_id", task.ID, "error", rerr.Error())
	}
}
