package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"water-infra-dashboard/shared/anomaly"
	"water-infra-dashboard/shared/config"
)

func newTestClient(t *testing.T, url string, retries int) *Client {
	t.Helper()
	c, err := New(config.Config{ScorerURL: url, ScorerTimeoutMS: 1000, ScorerRetryMax: retries})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestScoreSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/score" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req ScoreRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(ScoreResponse{IsAnomaly: req.Value > 100, Score: 0.8})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	isAnomaly, score, err := c.Score(context.Background(), []float64{1, 2, 3}, 500)
	if err != nil || !isAnomaly || score != 0.8 {
		t.Fatalf("unexpected result %v %v %v", isAnomaly, score, err)
	}
}

func TestScoreRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(ScoreResponse{Score: 0.1})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	if _, _, err := c.Score(context.Background(), nil, 1); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestScoreClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	_, _, err := c.Score(context.Background(), nil, 1)
	if !errors.Is(err, anomaly.ErrScorerUnavailable) {
		t.Fatalf("expected ErrScorerUnavailable, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls)
	}
}

func TestCircuitOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 4)
	_, _, _ = c.Score(context.Background(), nil, 1)
	_, _, err := c.Score(context.Background(), nil, 1)
	if !errors.Is(err, ErrCircuitOpen) || !errors.Is(err, anomaly.ErrScorerUnavailable) {
		t.Fatalf("expected open circuit, got %v", err)
	}
}

func TestDensityDetectorDegradesOnRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	history := make([]float64, 40)
	res := anomaly.DetectDensity(context.Background(), c, history, 10, 30)
	if res.Status != anomaly.DensityUnavailable || res.IsAnomaly || res.Score != 0 {
		t.Fatalf("expected degraded result, got %+v", res)
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(config.Config{}); err == nil {
		t.Fatalf("expected error without SCORER_URL")
	}
}

func TestBreakerHalfOpenTrial(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	b := newBreaker(2, time.Minute)
	b.now = func() time.Time { return now }

	b.record(false)
	if !b.allow() {
		t.Fatalf("one failure should not open the breaker")
	}
	b.record(false)
	if b.allow() {
		t.Fatalf("breaker should be open after threshold")
	}

	now = now.Add(time.Minute)
	if !b.allow() {
		t.Fatalf("a trial call should pass after cooldown")
	}
	if b.allow() {
		t.Fatalf("only one trial call may be in flight")
	}
	b.record(false)
	if b.allow() {
		t.Fatalf("failed trial call should reopen the breaker")
	}

	now = now.Add(time.Minute)
	b.allow()
	b.record(true)
	if !b.allow() || !b.allow() {
		t.Fatalf("successful trial call should close the breaker")
	}
}
