package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/shared/logx"
)

const (
	taskOutboxScan     = "outbox.scan"
	taskOutboxDispatch = "outbox.dispatch"

	outboxScanLockKey = "lock:outbox-scan"
	staleSendingAfter = 5 * time.Minute
)

type dispatchPayload struct {
	EventID string `json:"event_id"`
}

type scanStore interface {
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
	ClaimPending(ctx context.Context, owner string, limit int) ([]models.OutboxEvent, error)
}

type leaseRunner interface {
	Run(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) (bool, error)
}

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// scanner turns claimed outbox rows into dispatch tasks. Only the lease holder
// scans; task ids are the event ids so a row is never queued twice.
type scanner struct {
	store    scanStore
	lease    leaseRunner
	enqueuer taskEnqueuer
	dispatch *dispatcher
	logger   logx.Logger
	owner    string
	batch    int
	queue    string
	leaseTTL time.Duration
}

func (s *scanner) handleScan(ctx context.Context, _ *asynq.Task) error {
	ran, err := s.lease.Run(ctx, outboxScanLockKey, s.leaseTTL, s.scan)
	if err == nil && !ran {
		s.logger.Debug(ctx, "outbox_scan_skipped", "another worker holds the scan lease")
	}
	return err
}

func (s *scanner) scan(ctx context.Context) error {
	requeued, err := s.store.RequeueStale(ctx, staleSendingAfter)
	if err != nil {
		return fmt.Errorf("requeue stale: %w", err)
	}
	if requeued > 0 {
		s.logger.Warn(ctx, "outbox_requeued", "requeued stale outbox events", slog.Int64("count", requeued))
	}

	claimed, err := s.store.ClaimPending(ctx, s.owner, s.batch)
	if err != nil {
		return fmt.Errorf("claim pending: %w", err)
	}
	for _, event := range claimed {
		payload, _ := json.Marshal(dispatchPayload{EventID: event.EventID.String()})
		task := asynq.NewTask(taskOutboxDispatch, payload)
		_, err := s.enqueuer.EnqueueContext(ctx, task, asynq.Queue(s.queue), asynq.TaskID(event.EventID.String()))
		switch {
		case err == nil, errors.Is(err, asynq.ErrTaskIDConflict):
		default:
			s.logger.Error(ctx, "enqueue_failed", "failed to enqueue outbox dispatch",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("event_id", event.EventID.String()),
				slog.String("error", err.Error()),
			)
			_ = s.dispatch.fail(ctx, event, err)
		}
	}
	return nil
}

func (s *scanner) handleDispatch(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("asynq").Start(ctx, "outbox.dispatch")
	span.SetAttributes(attribute.String("queue", s.queue))
	defer span.End()

	var payload dispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	eventID, err := uuid.Parse(strings.TrimSpace(payload.EventID))
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return s.dispatch.dispatch(ctx, eventID)
}
