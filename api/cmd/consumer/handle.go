package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/shared/events"
	"water-infra-dashboard/shared/influxx"
	"water-infra-dashboard/shared/logx"
	"water-infra-dashboard/shared/metricsx"
	"water-infra-dashboard/shared/workflow"
)

// errMalformed marks messages that will never succeed; they are committed
// and skipped.
var errMalformed = errors.New("malformed alert event")

type ruleMatcher interface {
	Matching(ctx context.Context, projectID uuid.UUID, metricType string) ([]models.AlertRule, error)
}

type pointWriter interface {
	WritePoints(ctx context.Context, points []influxx.Point) error
}

type cacheInvalidator interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// dashboardCachePrefix matches the keys the API caches KPI and region
// summaries under.
const dashboardCachePrefix = "dashboard:"

type notification struct {
	RuleID   uuid.UUID
	AlertID  uuid.UUID
	Channels []string
}

type alertHandler struct {
	rules  ruleMatcher
	mirror pointWriter
	cache  cacheInvalidator
	logger logx.Logger
}

func decodeAlertEvent(raw []byte) (events.Envelope, events.AlertPayload, error) {
	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, events.AlertPayload{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if env.EventID == uuid.Nil || env.AggregateID == uuid.Nil || env.AggregateType != events.AggregateAlert {
		return env, events.AlertPayload{}, fmt.Errorf("%w: missing event_id/aggregate_id or wrong aggregate", errMalformed)
	}
	var payload events.AlertPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return env, payload, fmt.Errorf("%w: payload: %v", errMalformed, err)
	}
	return env, payload, nil
}

// handle mirrors the event into the time-series store and, for new alerts,
// emits one notification intent per matching rule with a channel enabled.
// The rule lookup runs first so a retried message mirrors exactly once.
func (h *alertHandler) handle(ctx context.Context, raw []byte) ([]notification, error) {
	env, alert, err := decodeAlertEvent(raw)
	if err != nil {
		return nil, err
	}

	var rules []models.AlertRule
	if env.EventType == workflow.AlertEventCreated && alert.MetricType != nil && h.rules != nil {
		rules, err = h.rules.Matching(ctx, alert.ProjectID, *alert.MetricType)
		if err != nil {
			return nil, err
		}
	}
	h.mirrorEvent(ctx, env, alert)
	h.invalidateDashboard(ctx, env)

	var out []notification
	for _, rule := range rules {
		var channels []string
		if rule.NotifySMS {
			channels = append(channels, "sms")
		}
		if rule.NotifyEmail {
			channels = append(channels, "email")
		}
		if len(channels) == 0 {
			continue
		}
		n := notification{RuleID: rule.RuleID, AlertID: alert.AlertID, Channels: channels}
		out = append(out, n)
		h.logger.Info(ctx, "notification_intent", "alert notification requested",
			slog.String("alert_id", alert.AlertID.String()),
			slog.String("rule_id", rule.RuleID.String()),
			slog.String("severity", alert.Severity),
			slog.String("channels", strings.Join(channels, ",")),
		)
	}
	return out, nil
}

func (h *alertHandler) mirrorEvent(ctx context.Context, env events.Envelope, alert events.AlertPayload) {
	if h.mirror == nil {
		return
	}
	tags := map[string]string{
		"project_id": alert.ProjectID.String(),
		"severity":   alert.Severity,
		"event_type": env.EventType,
		"alert_type": alert.AlertType,
	}
	if alert.MetricType != nil {
		tags["metric_type"] = *alert.MetricType
	}
	fields := map[string]any{
		"alert_id": alert.AlertID.String(),
		"status":   alert.Status,
	}
	if alert.MetricValue != nil {
		fields["metric_value"] = *alert.MetricValue
	}
	point := influxx.Point{Measurement: influxx.MeasurementAlerts, Tags: tags, Fields: fields, Time: env.OccurredAt}
	if err := h.mirror.WritePoints(ctx, []influxx.Point{point}); err != nil {
		metricsx.IncInfluxWriteFailure()
		h.logger.Warn(ctx, "influx_mirror_failed", "failed to mirror alert event",
			slog.String("event_id", env.EventID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (h *alertHandler) invalidateDashboard(ctx context.Context, env events.Envelope) {
	if h.cache == nil {
		return
	}
	if _, err := h.cache.DeletePrefix(ctx, dashboardCachePrefix); err != nil {
		h.logger.Warn(ctx, "cache_invalidate_failed", "failed to invalidate dashboard cache",
			slog.String("event_id", env.EventID.String()),
			slog.String("error", err.Error()),
		)
	}
}
