package anomaly

import (
	"context"
	"errors"
	"testing"
)

func TestDetectSimpleOutOfRangeFlow(t *testing.T) {
	th := DefaultThresholds()
	isAnomaly, score := th.DetectSimple("flow", 600)
	if !isAnomaly {
		t.Fatalf("expected anomaly for flow 600")
	}
	if score <= 0.5 || score != 0.7 {
		t.Fatalf("expected score 0.7, got %v", score)
	}
}

func TestDetectSimpleMidRangeFlow(t *testing.T) {
	th := DefaultThresholds()
	isAnomaly, score := th.DetectSimple("flow", 100)
	if isAnomaly {
		t.Fatalf("did not expect anomaly for flow 100")
	}
	if score >= 0.3 || score != 0.18 {
		t.Fatalf("expected score 0.18, got %v", score)
	}
}

func TestDetectSimpleUnknownType(t *testing.T) {
	th := DefaultThresholds()
	for _, v := range []float64{-1e9, 0, 42, 1e9} {
		if isAnomaly, score := th.DetectSimple("salinity", v); isAnomaly || score != 0 {
			t.Fatalf("unknown type flagged: %v %v", isAnomaly, score)
		}
	}
}

func TestDetectSimpleCaseInsensitive(t *testing.T) {
	th := DefaultThresholds()
	if isAnomaly, _ := th.DetectSimple(" Flow ", 900); !isAnomaly {
		t.Fatalf("expected type lookup to ignore case and spaces")
	}
}

func TestDetectSimpleMonotonic(t *testing.T) {
	th := DefaultThresholds()
	for _, metricType := range th.Types() {
		limits, _ := th.Lookup(metricType)
		span := limits.Max - limits.Min

		prev := -1.0
		for step := 0; step <= 40; step++ {
			v := limits.Max + float64(step)*span/10
			_, score := th.DetectSimple(metricType, v)
			if score < prev {
				t.Fatalf("%s above max: score decreased at %v (%v < %v)", metricType, v, score, prev)
			}
			if score < 0 || score > 1 {
				t.Fatalf("%s score out of bounds: %v", metricType, score)
			}
			prev = score
		}

		prev = -1.0
		for step := 0; step <= 40; step++ {
			v := limits.Min - float64(step)*span/10
			_, score := th.DetectSimple(metricType, v)
			if score < prev {
				t.Fatalf("%s below min: score decreased at %v", metricType, v)
			}
			prev = score
		}
	}
}

func TestDetectSimplePressureBoundaries(t *testing.T) {
	th := DefaultThresholds()
	if isAnomaly, _ := th.DetectSimple("pressure", 0.5); isAnomaly {
		t.Fatalf("range bounds are inclusive")
	}
	if isAnomaly, score := th.DetectSimple("pressure", 0.2); !isAnomaly || score <= 0.5 {
		t.Fatalf("expected low pressure anomaly, got %v %v", isAnomaly, score)
	}
}

func TestDetectRateOfChange(t *testing.T) {
	cases := []struct {
		name              string
		cur, prev, dt, mr float64
		wantAnomaly       bool
		wantScore         float64
	}{
		{"zero delta", 100, 0, 0, 1, false, 0},
		{"negative delta", 100, 0, -5, 1, false, 0},
		{"within rate", 105, 100, 10, 1, false, 0},
		{"spike", 150, 100, 10, 2, true, 1},
		{"moderate", 112, 100, 10, 1, true, 1},
		{"zero max rate", 150, 100, 10, 0, false, 0},
	}
	for _, tc := range cases {
		got, score := DetectRateOfChange(tc.cur, tc.prev, tc.dt, tc.mr)
		if got != tc.wantAnomaly || score != tc.wantScore {
			t.Fatalf("%s: got (%v, %v), want (%v, %v)", tc.name, got, score, tc.wantAnomaly, tc.wantScore)
		}
	}
}

func TestDetectRateOfChangeNonPositiveDeltaIgnoresValues(t *testing.T) {
	for _, dt := range []float64{0, -1, -1000} {
		if a, s := DetectRateOfChange(1e9, -1e9, dt, 0.001); a || s != 0 {
			t.Fatalf("delta %v: expected (false, 0), got (%v, %v)", dt, a, s)
		}
	}
}

func steadyHistory(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i%5)
	}
	return out
}

func TestDetectDensityInsufficientHistory(t *testing.T) {
	res := DetectDensity(context.Background(), NewIsolationForest(), steadyHistory(29), 1000, 0)
	if res.Status != DensityInsufficientHistory || res.IsAnomaly || res.Score != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, []float64, float64) (bool, float64, error) {
	return false, 0, ErrScorerUnavailable
}

func TestDetectDensityUnavailable(t *testing.T) {
	res := DetectDensity(context.Background(), failingScorer{}, steadyHistory(40), 1000, 30)
	if res.Status != DensityUnavailable || res.IsAnomaly || res.Score != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	res = DetectDensity(context.Background(), nil, steadyHistory(40), 1000, 30)
	if res.Status != DensityUnavailable {
		t.Fatalf("nil scorer should be unavailable, got %+v", res)
	}
}

func TestIsolationForestFlagsOutlier(t *testing.T) {
	forest := NewIsolationForest()
	history := steadyHistory(50)

	outlier := DetectDensity(context.Background(), forest, history, 10000, 30)
	if outlier.Status != DensityScored || !outlier.IsAnomaly {
		t.Fatalf("expected outlier flagged, got %+v", outlier)
	}
	if outlier.Score <= 0.5 || outlier.Score > 1 {
		t.Fatalf("outlier score out of range: %v", outlier.Score)
	}

	normal := DetectDensity(context.Background(), forest, history, 102, 30)
	if normal.Status != DensityScored {
		t.Fatalf("expected scored status, got %+v", normal)
	}
	if normal.Score >= outlier.Score {
		t.Fatalf("normal score %v should be below outlier score %v", normal.Score, outlier.Score)
	}
}

func TestIsolationForestDeterministic(t *testing.T) {
	forest := NewIsolationForest()
	history := steadyHistory(60)
	_, a, _ := forest.Score(context.Background(), history, 400)
	_, b, _ := forest.Score(context.Background(), history, 400)
	if a != b {
		t.Fatalf("expected same score for same seed, got %v and %v", a, b)
	}
}

func TestIsolationForestHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewIsolationForest().Score(ctx, steadyHistory(40), 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDensityBasedFallsBackToRules(t *testing.T) {
	d := NewDetector(KindDensity, DefaultThresholds(), NewIsolationForest(), 30)
	res := d.Detect(context.Background(), Input{MetricType: "flow", Value: 600, History: steadyHistory(5)})
	if !res.Fallback || res.Method != KindRule || res.DensityStatus != DensityInsufficientHistory {
		t.Fatalf("expected rule fallback, got %+v", res)
	}
	if !res.IsAnomaly || res.Score != 0.7 {
		t.Fatalf("expected rule result, got %+v", res)
	}
}

func TestDensityBasedUsesScorer(t *testing.T) {
	d := NewDetector(KindDensity, DefaultThresholds(), NewIsolationForest(), 30)
	res := d.Detect(context.Background(), Input{MetricType: "flow", Value: 10000, History: steadyHistory(50)})
	if res.Fallback || res.Method != KindDensity || !res.IsAnomaly {
		t.Fatalf("expected density result, got %+v", res)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(""); err != nil || k != KindRule {
		t.Fatalf("empty kind should default to rule")
	}
	if k, err := ParseKind("DENSITY"); err != nil || k != KindDensity {
		t.Fatalf("expected density, got %v %v", k, err)
	}
	if _, err := ParseKind("neural"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
