package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/api/internal/repos"
	"water-infra-dashboard/shared/events"
	"water-infra-dashboard/shared/logx"
	"water-infra-dashboard/shared/metricsx"
	"water-infra-dashboard/shared/mqx"
)

type outboxStore interface {
	ClaimPending(ctx context.Context, owner string, limit int) ([]models.OutboxEvent, error)
	GetByID(ctx context.Context, eventID uuid.UUID) (models.OutboxEvent, error)
	MarkDelivered(ctx context.Context, eventID uuid.UUID) error
	MarkFailed(ctx context.Context, eventID uuid.UUID, attempts int, nextRetryAt *time.Time, lastErr string, dead bool) error
}

// dispatcher publishes stored envelopes to Kafka and records the outcome on
// the outbox row.
type dispatcher struct {
	store       outboxStore
	publisher   mqx.Publisher
	maxAttempts int
	logger      logx.Logger
	now         func() time.Time
}

// dispatch returns an error only when the task should be retried by asynq.
func (d *dispatcher) dispatch(ctx context.Context, eventID uuid.UUID) error {
	event, err := d.store.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			return nil
		}
		return err
	}
	if event.Status == repos.OutboxStatusDelivered || event.Status == repos.OutboxStatusDead {
		return nil
	}

	var env events.Envelope
	if err := json.Unmarshal(event.Payload, &env); err != nil || env.EventID == uuid.Nil {
		if err == nil {
			err = errors.New("envelope has no event id")
		}
		// A payload that cannot be decoded will never publish.
		metricsx.IncOutboxDispatch("dead")
		d.logger.Warn(ctx, "outbox_poison", "outbox payload is not an envelope",
			slog.String("event_id", event.EventID.String()),
			slog.String("error", err.Error()),
		)
		return d.store.MarkFailed(ctx, event.EventID, event.Attempts+1, nil, fmt.Sprintf("decode envelope: %v", err), true)
	}

	if err := mqx.PublishEnvelope(ctx, d.publisher, event.Topic, env); err != nil {
		return d.fail(ctx, event, err)
	}
	if err := d.store.MarkDelivered(ctx, event.EventID); err != nil {
		return err
	}
	metricsx.IncOutboxDispatch("delivered")
	return nil
}

func (d *dispatcher) fail(ctx context.Context, event models.OutboxEvent, cause error) error {
	attempts := event.Attempts + 1
	nextRetry := d.now().Add(retryDelay(attempts))
	dead := attempts >= d.maxAttempts
	if err := d.store.MarkFailed(ctx, event.EventID, attempts, &nextRetry, cause.Error(), dead); err != nil {
		return err
	}
	if dead {
		metricsx.IncOutboxDispatch("dead")
		d.logger.Warn(ctx, "outbox_dead", "outbox event moved to dead-letter",
			slog.String("event_id", event.EventID.String()),
			slog.Int("attempts", attempts),
		)
		return nil
	}
	metricsx.IncOutboxDispatch("failed")
	return cause
}

// retryDelay grows quadratically from 5s and is capped at five minutes.
func retryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 5 * time.Second
	}
	delay := time.Duration(attempt*attempt) * 5 * time.Second
	if delay > 5*time.Minute {
		return 5 * time.Minute
	}
	return delay
}
