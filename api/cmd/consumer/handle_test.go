package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/shared/events"
	"water-infra-dashboard/shared/influxx"
	"water-infra-dashboard/shared/workflow"
)

// fakeRules fails the first failures calls, or every call when err is set.
type fakeRules struct {
	rules    []models.AlertRule
	err      error
	failures int
	calls    int
}

func (f *fakeRules) Matching(context.Context, uuid.UUID, string) ([]models.AlertRule, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("rules unavailable")
	}
	return f.rules, f.err
}

type fakeMirror struct {
	points []influxx.Point
	err    error
}

func (f *fakeMirror) WritePoints(_ context.Context, points []influxx.Point) error {
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, points...)
	return nil
}

type fakeCache struct {
	prefixes []string
}

func (f *fakeCache) DeletePrefix(_ context.Context, prefix string) (int, error) {
	f.prefixes = append(f.prefixes, prefix)
	return 1, nil
}

func alertMessage(t *testing.T, eventType string, metricType *string) []byte {
	t.Helper()
	alertID := uuid.New()
	value := 0.2
	env, err := events.NewEnvelope(uuid.Nil, events.AggregateAlert, alertID, eventType, events.AlertPayload{
		AlertID:     alertID,
		ProjectID:   uuid.New(),
		Title:       "Anomalous pressure reading",
		Severity:    workflow.SeverityCritical,
		Status:      workflow.AlertStatusActive,
		AlertType:   "anomaly",
		MetricType:  metricType,
		MetricValue: &value,
	}, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestHandleCreatedEmitsNotifications(t *testing.T) {
	pressure := "pressure"
	rules := &fakeRules{rules: []models.AlertRule{
		{RuleID: uuid.New(), NotifySMS: true, NotifyEmail: true},
		{RuleID: uuid.New()},
		{RuleID: uuid.New(), NotifyEmail: true},
	}}
	mirror := &fakeMirror{}
	h := &alertHandler{rules: rules, mirror: mirror}

	out, err := h.handle(context.Background(), alertMessage(t, workflow.AlertEventCreated, &pressure))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(out) != 2 || len(out[0].Channels) != 2 || out[1].Channels[0] != "email" {
		t.Fatalf("unexpected notifications %+v", out)
	}
	if len(mirror.points) != 1 || mirror.points[0].Measurement != influxx.MeasurementAlerts || mirror.points[0].Tags["metric_type"] != "pressure" {
		t.Fatalf("unexpected mirror points %+v", mirror.points)
	}
}

func TestHandleTransitionOnlyMirrors(t *testing.T) {
	pressure := "pressure"
	rules := &fakeRules{rules: []models.AlertRule{{RuleID: uuid.New(), NotifySMS: true}}}
	mirror := &fakeMirror{}
	cache := &fakeCache{}
	h := &alertHandler{rules: rules, mirror: mirror, cache: cache}

	out, err := h.handle(context.Background(), alertMessage(t, workflow.AlertEventResolved, &pressure))
	if err != nil || len(out) != 0 {
		t.Fatalf("resolved events never notify: %v %+v", err, out)
	}
	if rules.calls != 0 || len(mirror.points) != 1 {
		t.Fatalf("rules=%d points=%d", rules.calls, len(mirror.points))
	}
	if len(cache.prefixes) != 1 || cache.prefixes[0] != dashboardCachePrefix {
		t.Fatalf("expected dashboard invalidation, got %v", cache.prefixes)
	}
}

func TestHandleMirrorFailureIsNotFatal(t *testing.T) {
	h := &alertHandler{rules: &fakeRules{}, mirror: &fakeMirror{err: errors.New("influx down")}}
	if _, err := h.handle(context.Background(), alertMessage(t, workflow.AlertEventCreated, nil)); err != nil {
		t.Fatalf("mirror failure must not fail the message: %v", err)
	}
}

func TestHandleRuleLookupErrorIsRetryable(t *testing.T) {
	pressure := "pressure"
	mirror := &fakeMirror{}
	cache := &fakeCache{}
	h := &alertHandler{rules: &fakeRules{err: errors.New("db down")}, mirror: mirror, cache: cache}
	_, err := h.handle(context.Background(), alertMessage(t, workflow.AlertEventCreated, &pressure))
	if err == nil || errors.Is(err, errMalformed) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if len(mirror.points) != 0 || len(cache.prefixes) != 0 {
		t.Fatalf("failed attempt must not mirror or invalidate: points=%d prefixes=%d", len(mirror.points), len(cache.prefixes))
	}
}

func TestRetriedEventMirrorsOnce(t *testing.T) {
	pressure := "pressure"
	rules := &fakeRules{failures: 2, rules: []models.AlertRule{{RuleID: uuid.New(), NotifySMS: true}}}
	mirror := &fakeMirror{}
	cache := &fakeCache{}
	h := &alertHandler{rules: rules, mirror: mirror, cache: cache}

	msg := kafka.Message{Offset: 3, Value: alertMessage(t, workflow.AlertEventCreated, &pressure)}
	if !newTestLoop(h).process(context.Background(), msg) {
		t.Fatalf("message should settle")
	}
	if rules.calls != 3 {
		t.Fatalf("expected success on third attempt, got %d rule lookups", rules.calls)
	}
	if len(mirror.points) != 1 {
		t.Fatalf("retries wrote %d influx points, want 1", len(mirror.points))
	}
	if len(cache.prefixes) != 1 {
		t.Fatalf("retries invalidated the cache %d times, want 1", len(cache.prefixes))
	}
}

func TestHandleMalformed(t *testing.T) {
	h := &alertHandler{}
	for _, raw := range [][]byte{
		[]byte("not json"),
		[]byte(`{"event_id":"` + uuid.NewString() + `"}`),
		[]byte(`{"event_id":"` + uuid.NewString() + `","aggregate_id":"` + uuid.NewString() + `","aggregate_type":"task"}`),
	} {
		if _, err := h.handle(context.Background(), raw); !errors.Is(err, errMalformed) {
			t.Fatalf("%s: expected errMalformed, got %v", raw, err)
		}
	}
}
