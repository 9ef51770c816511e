package anomaly

import (
	"context"
	"errors"
	"math"
)

// inRangeWeight keeps in-range scores below the out-of-range floor of 0.5.
const inRangeWeight = 0.3

const DefaultMinHistory = 30

// DetectSimple compares value against the configured range for metricType.
// Unknown types are never flagged.
func (t Thresholds) DetectSimple(metricType string, value float64) (bool, float64) {
	th, ok := t.Lookup(metricType)
	if !ok || th.span() <= 0 || math.IsNaN(value) {
		return false, 0
	}
	if value < th.Min || value > th.Max {
		distance := math.Max(th.Min-value, value-th.Max)
		return true, round3(math.Min(1, 0.5+distance/th.span()))
	}
	deviation := math.Abs(value-th.midpoint()) / (th.span() / 2)
	return false, round3(clamp01(deviation * inRangeWeight))
}

func DetectRateOfChange(current, previous, deltaSeconds, maxRate float64) (bool, float64) {
	if deltaSeconds <= 0 || maxRate <= 0 {
		return false, 0
	}
	rate := math.Abs(current-previous) / deltaSeconds
	if rate > maxRate {
		return true, round3(math.Min(1, rate/maxRate))
	}
	return false, 0
}

type DensityStatus string

const (
	DensityScored              DensityStatus = "scored"
	DensityInsufficientHistory DensityStatus = "insufficient_history"
	DensityUnavailable         DensityStatus = "unavailable"
)

type DensityResult struct {
	IsAnomaly bool          `json:"is_anomaly"`
	Score     float64       `json:"score"`
	Status    DensityStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
}

// ErrScorerUnavailable is returned by scorers that cannot serve a request.
var ErrScorerUnavailable = errors.New("density scorer unavailable")

// DensityScorer fits an outlier model on history and scores value.
// Score must be in [0,1].
type DensityScorer interface {
	Score(ctx context.Context, history []float64, value float64) (bool, float64, error)
}

// DetectDensity never returns an error; any failure is reported through
// the result status with a zero score.
func DetectDensity(ctx context.Context, scorer DensityScorer, history []float64, value float64, minHistory int) DensityResult {
	if minHistory <= 0 {
		minHistory = DefaultMinHistory
	}
	if scorer == nil {
		return DensityResult{Status: DensityUnavailable, Reason: "no scorer configured"}
	}
	if len(history) < minHistory {
		return DensityResult{Status: DensityInsufficientHistory}
	}
	isAnomaly, score, err := scorer.Score(ctx, history, value)
	if err != nil {
		return DensityResult{Status: DensityUnavailable, Reason: err.Error()}
	}
	return DensityResult{IsAnomaly: isAnomaly, Score: round3(clamp01(score)), Status: DensityScored}
}
