// Package aggregate serves time-bucketed statistics over stored metrics.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInterval = errors.New("invalid interval")
	ErrInvalidQuery    = errors.New("invalid aggregation query")
)

const (
	DefaultInterval = "1 hour"
	DefaultWindow   = 7 * 24 * time.Hour

	// MaxIntervalSpan bounds fixed buckets; wider strides are rejected.
	MaxIntervalSpan = 366 * 24 * time.Hour
)

// Interval is either a fixed duration binned from the epoch or a calendar
// month truncation.
type Interval struct {
	Raw      string
	Duration time.Duration
	Month    bool
}

func (i Interval) String() string { return i.Raw }

var unitDurations = map[string]time.Duration{
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
}

// ParseInterval accepts "hour", "1 hour", "15 minutes", "1 day", "week" and
// "month". An empty string yields the default of one hour.
func ParseInterval(raw string) (Interval, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		s = DefaultInterval
	}
	fields := strings.Fields(s)
	n := 1
	var unit string
	switch len(fields) {
	case 1:
		unit = fields[0]
	case 2:
		v, err := strconv.Atoi(fields[0])
		if err != nil || v <= 0 {
			return Interval{}, fmt.Errorf("%w: %q", ErrInvalidInterval, raw)
		}
		n, unit = v, fields[1]
	default:
		return Interval{}, fmt.Errorf("%w: %q", ErrInvalidInterval, raw)
	}
	unit = strings.TrimSuffix(unit, "s")

	if unit == "month" {
		if n != 1 {
			return Interval{}, fmt.Errorf("%w: only single month buckets are supported", ErrInvalidInterval)
		}
		return Interval{Raw: "1 month", Month: true}, nil
	}
	d, ok := unitDurations[unit]
	if !ok {
		return Interval{}, fmt.Errorf("%w: %q", ErrInvalidInterval, raw)
	}
	if n > int(MaxIntervalSpan/d) {
		return Interval{}, fmt.Errorf("%w: %q is longer than %d days", ErrInvalidInterval, raw, int(MaxIntervalSpan/(24*time.Hour)))
	}
	label := unit
	if n != 1 {
		label += "s"
	}
	return Interval{Raw: fmt.Sprintf("%d %s", n, label), Duration: time.Duration(n) * d}, nil
}

type Query struct {
	ProjectID  uuid.UUID
	MetricType string
	Interval   string
	Start      *time.Time
	End        *time.Time
}

type BucketQuery struct {
	ProjectID  uuid.UUID
	MetricType string
	Interval   Interval
	Start      time.Time
	End        time.Time
}

type Bucket struct {
	Period time.Time `json:"period"`
	Avg    float64   `json:"avg"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	Count  int64     `json:"count"`
}

type Store interface {
	Buckets(ctx context.Context, q BucketQuery) ([]Bucket, error)
}

type Engine struct {
	store Store
	now   func() time.Time
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (e *Engine) Aggregate(ctx context.Context, q Query) ([]Bucket, error) {
	interval, err := ParseInterval(q.Interval)
	if err != nil {
		return nil, err
	}
	metricType := strings.ToLower(strings.TrimSpace(q.MetricType))
	if metricType == "" {
		return nil, fmt.Errorf("%w: metric_type is required", ErrInvalidQuery)
	}

	end := e.now()
	if q.End != nil {
		end = q.End.UTC()
	}
	start := end.Add(-DefaultWindow)
	if q.Start != nil {
		start = q.Start.UTC()
	}
	if start.After(end) {
		return []Bucket{}, nil
	}

	raw, err := e.store.Buckets(ctx, BucketQuery{
		ProjectID:  q.ProjectID,
		MetricType: metricType,
		Interval:   interval,
		Start:      start,
		End:        end,
	})
	if err != nil {
		return nil, err
	}

	out := make([]Bucket, 0, len(raw))
	for _, b := range raw {
		if b.Count <= 0 {
			continue
		}
		out = append(out, Bucket{
			Period: b.Period.UTC(),
			Avg:    round3(b.Avg),
			Min:    round3(b.Min),
			Max:    round3(b.Max),
			Count:  b.Count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Before(out[j].Period) })
	return out, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
