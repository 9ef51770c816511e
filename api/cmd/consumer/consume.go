package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"water-infra-dashboard/shared/logx"
	"water-infra-dashboard/shared/metricsx"
	"water-infra-dashboard/shared/mqx"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.ReaderStats
}

type messageHandler interface {
	handle(ctx context.Context, raw []byte) ([]notification, error)
}

// consumeLoop processes one message at a time. A failing message is retried
// in place because committing a later offset would skip it; after maxAttempts
// it is logged and committed so one bad event cannot stall the partition.
type consumeLoop struct {
	reader      messageReader
	handler     messageHandler
	logger      logx.Logger
	group       string
	maxAttempts int
	backoff     time.Duration
}

func (l *consumeLoop) run(ctx context.Context) {
	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error(ctx, "kafka_fetch_failed", "failed to fetch message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			if !sleep(ctx, l.backoff) {
				return
			}
			continue
		}

		if !l.process(ctx, msg) {
			return
		}
		if err := l.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			l.logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
		stats := l.reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, l.group, stats.Lag)
	}
}

// process reports false only when ctx ended before the message was settled.
func (l *consumeLoop) process(ctx context.Context, msg kafka.Message) bool {
	delay := l.backoff
	for attempt := 1; ; attempt++ {
		spanCtx, span := mqx.StartConsumeSpan(ctx, msg)
		_, err := l.handler.handle(spanCtx, msg.Value)
		if err != nil {
			span.RecordError(err)
		}
		span.End()

		switch {
		case err == nil:
			return true
		case errors.Is(err, errMalformed):
			l.logger.Warn(ctx, "event_skipped", "skipping malformed event",
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
			return true
		case attempt >= l.maxAttempts:
			l.logger.Error(ctx, "event_abandoned", "giving up on event after retries",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()),
			)
			return true
		}

		l.logger.Warn(ctx, "event_handle_failed", "failed to handle event, retrying",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if !sleep(ctx, delay) {
			return false
		}
		delay *= 2
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
