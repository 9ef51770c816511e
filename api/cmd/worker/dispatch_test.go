package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/api/internal/repos"
	"water-infra-dashboard/shared/events"
	"water-infra-dashboard/shared/workflow"
)

type failure struct {
	attempts  int
	nextRetry *time.Time
	dead      bool
}

type fakeOutbox struct {
	events    map[uuid.UUID]models.OutboxEvent
	delivered []uuid.UUID
	failed    map[uuid.UUID]failure
}

func newFakeOutbox(events ...models.OutboxEvent) *fakeOutbox {
	f := &fakeOutbox{events: map[uuid.UUID]models.OutboxEvent{}, failed: map[uuid.UUID]failure{}}
	for _, e := range events {
		f.events[e.EventID] = e
	}
	return f
}

func (f *fakeOutbox) ClaimPending(context.Context, string, int) ([]models.OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutbox) GetByID(_ context.Context, id uuid.UUID) (models.OutboxEvent, error) {
	e, ok := f.events[id]
	if !ok {
		return models.OutboxEvent{}, repos.ErrNotFound
	}
	return e, nil
}

func (f *fakeOutbox) MarkDelivered(_ context.Context, id uuid.UUID) error {
	f.delivered = append(f.delivered, id)
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id uuid.UUID, attempts int, next *time.Time, _ string, dead bool) error {
	f.failed[id] = failure{attempts: attempts, nextRetry: next, dead: dead}
	return nil
}

type published struct {
	topic string
	key   string
	value []byte
}

type fakePublisher struct {
	err  error
	sent []published
}

func (p *fakePublisher) Publish(_ context.Context, topic string, key []byte, value []byte, _ map[string]string) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{topic: topic, key: string(key), value: value})
	return nil
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func alertEvent(t *testing.T, attempts int) models.OutboxEvent {
	t.Helper()
	alertID := uuid.New()
	env, err := events.NewEnvelope(uuid.New(), events.AggregateAlert, alertID, workflow.AlertEventCreated,
		events.AlertPayload{AlertID: alertID, ProjectID: uuid.New(), Title: "Low pressure", Severity: "critical", Status: "active", AlertType: "anomaly"},
		fixedNow)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return models.OutboxEvent{
		EventID:       uuid.New(),
		AggregateType: events.AggregateAlert,
		AggregateID:   alertID,
		Topic:         events.TopicAlerts,
		Payload:       raw,
		Status:        repos.OutboxStatusSending,
		Attempts:      attempts,
	}
}

func newTestDispatcher(store outboxStore, pub *fakePublisher) *dispatcher {
	return &dispatcher{store: store, publisher: pub, maxAttempts: 3, now: func() time.Time { return fixedNow }}
}

func TestDispatchDelivers(t *testing.T) {
	event := alertEvent(t, 0)
	store := newFakeOutbox(event)
	pub := &fakePublisher{}
	if err := newTestDispatcher(store, pub).dispatch(context.Background(), event.EventID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(pub.sent) != 1 || pub.sent[0].topic != events.TopicAlerts || pub.sent[0].key != event.AggregateID.String() {
		t.Fatalf("unexpected publish %+v", pub.sent)
	}
	var env events.Envelope
	if err := json.Unmarshal(pub.sent[0].value, &env); err != nil || env.EventType != workflow.AlertEventCreated {
		t.Fatalf("published value is not the envelope: %v %+v", err, env)
	}
	if len(store.delivered) != 1 {
		t.Fatalf("expected event marked delivered")
	}
}

func TestDispatchFailureSchedulesRetry(t *testing.T) {
	event := alertEvent(t, 1)
	store := newFakeOutbox(event)
	pub := &fakePublisher{err: errors.New("broker down")}
	err := newTestDispatcher(store, pub).dispatch(context.Background(), event.EventID)
	if err == nil {
		t.Fatalf("expected retryable error")
	}
	f := store.failed[event.EventID]
	if f.dead || f.attempts != 2 || f.nextRetry == nil || !f.nextRetry.Equal(fixedNow.Add(20*time.Second)) {
		t.Fatalf("unexpected failure record %+v", f)
	}
}

func TestDispatchDeadAfterMaxAttempts(t *testing.T) {
	event := alertEvent(t, 2)
	store := newFakeOutbox(event)
	pub := &fakePublisher{err: errors.New("broker down")}
	if err := newTestDispatcher(store, pub).dispatch(context.Background(), event.EventID); err != nil {
		t.Fatalf("dead events must not be retried by the queue: %v", err)
	}
	if f := store.failed[event.EventID]; !f.dead || f.attempts != 3 {
		t.Fatalf("expected dead-letter, got %+v", f)
	}
}

func TestDispatchSkipsFinishedAndPoison(t *testing.T) {
	done := alertEvent(t, 0)
	done.Status = repos.OutboxStatusDelivered
	poison := alertEvent(t, 0)
	poison.Payload = []byte(`{"not":"an envelope"}`)
	store := newFakeOutbox(done, poison)
	pub := &fakePublisher{}
	d := newTestDispatcher(store, pub)

	if err := d.dispatch(context.Background(), done.EventID); err != nil {
		t.Fatalf("delivered event: %v", err)
	}
	if err := d.dispatch(context.Background(), poison.EventID); err != nil {
		t.Fatalf("poison event: %v", err)
	}
	if err := d.dispatch(context.Background(), uuid.New()); err != nil {
		t.Fatalf("missing event: %v", err)
	}
	if len(pub.sent) != 0 {
		t.Fatalf("nothing should be published, got %d", len(pub.sent))
	}
	if f := store.failed[poison.EventID]; !f.dead {
		t.Fatalf("poison payload must be dead-lettered, got %+v", f)
	}
}

func TestRetryDelay(t *testing.T) {
	cases := map[int]time.Duration{
		0:  5 * time.Second,
		1:  5 * time.Second,
		2:  20 * time.Second,
		3:  45 * time.Second,
		7:  245 * time.Second,
		8:  5 * time.Minute,
		50: 5 * time.Minute,
	}
	for attempt, want := range cases {
		if got := retryDelay(attempt); got != want {
			t.Fatalf("retryDelay(%d) = %v, want %v", attempt, got, want)
		}
	}
}
