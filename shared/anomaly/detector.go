package anomaly

import (
	"context"
	"fmt"
	"strings"
)

type Kind string

const (
	KindRule    Kind = "rule"
	KindDensity Kind = "density"
)

func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KindRule:
		return KindRule, nil
	case KindDensity:
		return KindDensity, nil
	default:
		return "", fmt.Errorf("unknown detector kind %q", raw)
	}
}

type Input struct {
	MetricType string
	Value      float64
	History    []float64
}

type Result struct {
	IsAnomaly bool    `json:"is_anomaly"`
	Score     float64 `json:"score"`
	Method    Kind    `json:"method"`
	// Fallback is set when a density detector answered with the rule result.
	Fallback      bool          `json:"fallback"`
	DensityStatus DensityStatus `json:"density_status,omitempty"`
}

type Detector interface {
	Kind() Kind
	Detect(ctx context.Context, in Input) Result
}

type RuleBased struct {
	thresholds Thresholds
}

func NewRuleBased(thresholds Thresholds) *RuleBased {
	return &RuleBased{thresholds: thresholds}
}

func (d *RuleBased) Kind() Kind { return KindRule }

func (d *RuleBased) Detect(_ context.Context, in Input) Result {
	isAnomaly, score := d.thresholds.DetectSimple(in.MetricType, in.Value)
	return Result{IsAnomaly: isAnomaly, Score: score, Method: KindRule}
}

type DensityBased struct {
	scorer     DensityScorer
	fallback   *RuleBased
	minHistory int
}

func NewDensityBased(scorer DensityScorer, fallback *RuleBased, minHistory int) *DensityBased {
	return &DensityBased{scorer: scorer, fallback: fallback, minHistory: minHistory}
}

func (d *DensityBased) Kind() Kind { return KindDensity }

func (d *DensityBased) Detect(ctx context.Context, in Input) Result {
	dr := DetectDensity(ctx, d.scorer, in.History, in.Value, d.minHistory)
	if dr.Status == DensityScored {
		return Result{IsAnomaly: dr.IsAnomaly, Score: dr.Score, Method: KindDensity, DensityStatus: dr.Status}
	}
	res := d.fallback.Detect(ctx, in)
	res.Fallback = true
	res.DensityStatus = dr.Status
	return res
}

func NewDetector(kind Kind, thresholds Thresholds, scorer DensityScorer, minHistory int) Detector {
	rule := NewRuleBased(thresholds)
	if kind == KindDensity {
		return NewDensityBased(scorer, rule, minHistory)
	}
	return rule
}
