package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-program-api/internal/models"
	"github.com/noah-isme/cohort-program-api/pkg/config"
	"github.com/noah-isme/cohort-program-api/pkg/jobs"
)

// Notifier delivers outbound events to the chat adapter. Implementations
// must never surface delivery failures to the caller: the data mutation
// and the notification are deliberately decoupled.
type Notifier interface {
	Emit(event models.Event)
}

type eventPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// OutboxNotifier pushes events through an in-process job queue whose
// workers publish them to a Redis channel consumed by the chat adapter.
// Publish calls carry a bounded timeout and are retried by the queue;
// exhausted retries are logged and dropped.
type OutboxNotifier struct {
	queue   *jobs.Queue
	logger  *zap.Logger
	metrics *MetricsService
}

// NewOutboxNotifier wires the notification outbox.
func NewOutboxNotifier(publisher eventPublisher, cfg config.NotificationsConfig, metrics *MetricsService, logger *zap.Logger) *OutboxNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "cohort:events"
	}

	n := &OutboxNotifier{logger: logger, metrics: metrics}

	handler := func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(models.Event)
		if !ok {
			logger.Sugar().Errorw("outbox job carries unexpected payload", "job_id", job.ID)
			return nil
		}
		payload, err := json.Marshal(event)
		if err != nil {
			logger.Sugar().Errorw("failed to encode event", "event", event.Type, "error", err)
			return nil
		}
		pubCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := publisher.Publish(pubCtx, channel, payload).Err(); err != nil {
			if metrics != nil {
				metrics.ObserveNotificationFailure()
			}
			return err
		}
		return nil
	}

	n.queue = jobs.NewQueue("notifications", handler, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	return n
}

// Start launches the outbox workers.
func (n *OutboxNotifier) Start(ctx context.Context) {
	n.queue.Start(ctx)
}

// Stop drains the outbox workers.
func (n *OutboxNotifier) Stop() {
	n.queue.Stop()
}

// Emit enqueues an event for delivery. Failures are logged only.
func (n *OutboxNotifier) Emit(event models.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	err := n.queue.Enqueue(jobs.Job{
		ID:      event.ID,
		Type:    string(event.Type),
		Payload: event,
	})
	if err != nil {
		if n.metrics != nil {
			n.metrics.ObserveNotificationFailure()
		}
		n.logger.Sugar().Warnw("dropping event, outbox unavailable", "event", event.Type, "student_id", event.StudentID, "error", err)
	}
}

// NopNotifier discards events. Useful as a default and in tests.
type NopNotifier struct{}

// Emit implements Notifier.
func (NopNotifier) Emit(models.Event) {}
