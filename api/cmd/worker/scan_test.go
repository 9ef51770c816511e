package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"water-infra-dashboard/api/internal/models"
)

type fakeScanStore struct {
	claimed  []models.OutboxEvent
	requeued int64
	err      error
}

func (f *fakeScanStore) RequeueStale(context.Context, time.Duration) (int64, error) {
	return f.requeued, f.err
}

func (f *fakeScanStore) ClaimPending(context.Context, string, int) ([]models.OutboxEvent, error) {
	return f.claimed, nil
}

type fakeLease struct{ held bool }

func (l fakeLease) Run(ctx context.Context, _ string, _ time.Duration, fn func(context.Context) error) (bool, error) {
	if l.held {
		return false, nil
	}
	return true, fn(ctx)
}

type fakeEnqueuer struct {
	ids  []string
	fail map[string]error
}

func (e *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	var p dispatchPayload
	_ = json.Unmarshal(task.Payload(), &p)
	if err := e.fail[p.EventID]; err != nil {
		return nil, err
	}
	e.ids = append(e.ids, p.EventID)
	return &asynq.TaskInfo{ID: p.EventID}, nil
}

func newTestScanner(store scanStore, lease leaseRunner, enq taskEnqueuer, outbox *fakeOutbox) *scanner {
	return &scanner{
		store:    store,
		lease:    lease,
		enqueuer: enq,
		dispatch: newTestDispatcher(outbox, &fakePublisher{}),
		owner:    "worker-1",
		batch:    10,
		queue:    "outbox",
		leaseTTL: time.Minute,
	}
}

func TestScanEnqueuesClaimedEvents(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	store := &fakeScanStore{claimed: []models.OutboxEvent{{EventID: a}, {EventID: b, Attempts: 1}, {EventID: c}}}
	enq := &fakeEnqueuer{fail: map[string]error{
		b.String(): errors.New("redis down"),
		c.String(): asynq.ErrTaskIDConflict,
	}}
	outbox := newFakeOutbox()
	s := newTestScanner(store, fakeLease{}, enq, outbox)

	if err := s.handleScan(context.Background(), nil); err != nil {
		t.Fatalf("handleScan: %v", err)
	}
	if len(enq.ids) != 1 || enq.ids[0] != a.String() {
		t.Fatalf("unexpected enqueued ids %v", enq.ids)
	}
	f, ok := outbox.failed[b]
	if !ok || f.attempts != 2 || f.dead {
		t.Fatalf("enqueue failure should be recorded as a retryable attempt, got %+v ok=%v", f, ok)
	}
	if _, ok := outbox.failed[c]; ok {
		t.Fatalf("an already queued event is not a failure")
	}
}

func TestScanSkippedWithoutLease(t *testing.T) {
	store := &fakeScanStore{claimed: []models.OutboxEvent{{EventID: uuid.New()}}}
	enq := &fakeEnqueuer{}
	s := newTestScanner(store, fakeLease{held: true}, enq, newFakeOutbox())
	if err := s.handleScan(context.Background(), nil); err != nil {
		t.Fatalf("handleScan: %v", err)
	}
	if len(enq.ids) != 0 {
		t.Fatalf("no events may be enqueued without the lease")
	}
}

func TestScanRequeueErrorIsReturned(t *testing.T) {
	s := newTestScanner(&fakeScanStore{err: errors.New("db down")}, fakeLease{}, &fakeEnqueuer{}, newFakeOutbox())
	if err := s.handleScan(context.Background(), nil); err == nil {
		t.Fatalf("expected requeue error to surface")
	}
}

func TestHandleDispatchRejectsBadPayload(t *testing.T) {
	s := newTestScanner(&fakeScanStore{}, fakeLease{}, &fakeEnqueuer{}, newFakeOutbox())
	err := s.handleDispatch(context.Background(), asynq.NewTask(taskOutboxDispatch, []byte(`{"event_id":"nope"}`)))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("bad payload should skip retry, got %v", err)
	}
}
