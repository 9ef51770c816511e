package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeStore struct {
	buckets []Bucket
	err     error
	got     BucketQuery
	calls   int
}

func (f *fakeStore) Buckets(_ context.Context, q BucketQuery) ([]Bucket, error) {
	f.calls++
	f.got = q
	return f.buckets, f.err
}

func TestParseInterval(t *testing.T) {
	cases := []struct {
		in    string
		want  time.Duration
		month bool
		raw   string
	}{
		{"", time.Hour, false, "1 hour"},
		{"hour", time.Hour, false, "1 hour"},
		{"1 hour", time.Hour, false, "1 hour"},
		{"15 minutes", 15 * time.Minute, false, "15 minutes"},
		{"1 day", 24 * time.Hour, false, "1 day"},
		{"week", 7 * 24 * time.Hour, false, "1 week"},
		{" 6 Hours ", 6 * time.Hour, false, "6 hours"},
		{"month", 0, true, "1 month"},
		{"52 weeks", 52 * 7 * 24 * time.Hour, false, "52 weeks"},
		{"366 days", MaxIntervalSpan, false, "366 days"},
	}
	for _, tc := range cases {
		got, err := ParseInterval(tc.in)
		if err != nil {
			t.Fatalf("ParseInterval(%q): %v", tc.in, err)
		}
		if got.Duration != tc.want || got.Month != tc.month || got.Raw != tc.raw {
			t.Fatalf("ParseInterval(%q) = %+v", tc.in, got)
		}
	}

	for _, bad := range []string{"fortnight", "0 hours", "-1 day", "a b c", "x hours", "2 months", "367 days", "3000000 hours", "9223372036854775807 minutes"} {
		if _, err := ParseInterval(bad); !errors.Is(err, ErrInvalidInterval) {
			t.Fatalf("ParseInterval(%q) err = %v, want ErrInvalidInterval", bad, err)
		}
	}
}

func TestAggregateDefaultsWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	e := NewEngine(store)
	e.now = func() time.Time { return now }

	out, err := e.Aggregate(context.Background(), Query{ProjectID: uuid.New(), MetricType: " Flow "})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", out)
	}
	if !store.got.End.Equal(now) || !store.got.Start.Equal(now.Add(-7*24*time.Hour)) {
		t.Fatalf("unexpected window %v - %v", store.got.Start, store.got.End)
	}
	if store.got.MetricType != "flow" || store.got.Interval.Duration != time.Hour {
		t.Fatalf("unexpected query %+v", store.got)
	}
}

func TestAggregateRoundsDropsAndSorts(t *testing.T) {
	t0 := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{buckets: []Bucket{
		{Period: t0.Add(time.Hour), Avg: 12.34567, Min: 1.00049, Max: 20.9996, Count: 3},
		{Period: t0.Add(2 * time.Hour), Count: 0},
		{Period: t0, Avg: 5, Min: 5, Max: 5, Count: 1},
	}}
	e := NewEngine(store)

	out, err := e.Aggregate(context.Background(), Query{MetricType: "flow", Interval: "1 hour"})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(out))
	}
	if !out[0].Period.Equal(t0) {
		t.Fatalf("buckets not sorted: %+v", out)
	}
	if out[1].Avg != 12.346 || out[1].Min != 1 || out[1].Max != 21 {
		t.Fatalf("unexpected rounding %+v", out[1])
	}
}

func TestAggregateRejectsBadInput(t *testing.T) {
	store := &fakeStore{}
	e := NewEngine(store)
	if _, err := e.Aggregate(context.Background(), Query{MetricType: "flow", Interval: "decade"}); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
	if _, err := e.Aggregate(context.Background(), Query{Interval: "hour"}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected error for missing metric type, got %v", err)
	}
	if store.calls != 0 {
		t.Fatalf("store should not be queried on invalid input")
	}
}

func TestAggregateEmptyRange(t *testing.T) {
	store := &fakeStore{}
	e := NewEngine(store)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	before := at.Add(-time.Minute)
	out, err := e.Aggregate(context.Background(), Query{MetricType: "flow", Start: &at, End: &before})
	if err != nil || len(out) != 0 {
		t.Fatalf("expected empty result, got %v %v", out, err)
	}
	if store.calls != 0 {
		t.Fatalf("inverted range should not hit the store")
	}
}

func TestAggregateWindowIncludesEnd(t *testing.T) {
	at := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	store := &fakeStore{buckets: []Bucket{{Period: at, Avg: 4, Min: 4, Max: 4, Count: 1}}}
	e := NewEngine(store)
	out, err := e.Aggregate(context.Background(), Query{MetricType: "flow", Start: &at, End: &at})
	if err != nil || len(out) != 1 {
		t.Fatalf("single-instant window: %v %v", out, err)
	}
	if store.calls != 1 || !store.got.Start.Equal(at) || !store.got.End.Equal(at) {
		t.Fatalf("store got %+v after %d calls", store.got, store.calls)
	}
}

func TestAggregatePropagatesStoreError(t *testing.T) {
	boom := errors.New("boom")
	e := NewEngine(&fakeStore{err: boom})
	if _, err := e.Aggregate(context.Background(), Query{MetricType: "flow"}); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}
