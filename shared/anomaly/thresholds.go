// Package anomaly scores metric readings. The range and rate-of-change
// detectors are pure and deterministic; the density detector wraps an
// optional scorer and degrades instead of failing.
package anomaly

import (
	"math"
	"sort"
	"strings"
)

type Threshold struct {
	Min  float64
	Max  float64
	Unit string
	// MaxRate is the largest tolerated change per second.
	MaxRate float64
}

func (t Threshold) midpoint() float64 { return (t.Min + t.Max) / 2 }
func (t Threshold) span() float64     { return t.Max - t.Min }

// Thresholds is built once and only read afterwards.
type Thresholds struct {
	byType map[string]Threshold
}

func NewThresholds(entries map[string]Threshold) Thresholds {
	byType := make(map[string]Threshold, len(entries))
	for k, v := range entries {
		byType[normalizeType(k)] = v
	}
	return Thresholds{byType: byType}
}

func DefaultThresholds() Thresholds {
	return NewThresholds(map[string]Threshold{
		"flow":      {Min: 0, Max: 500, Unit: "L/s", MaxRate: 10},
		"pressure":  {Min: 0.5, Max: 10, Unit: "bar", MaxRate: 0.5},
		"level":     {Min: 0, Max: 50, Unit: "m", MaxRate: 0.1},
		"ph":        {Min: 6.0, Max: 9.0, Unit: "pH", MaxRate: 0.05},
		"turbidity": {Min: 0, Max: 10, Unit: "NTU", MaxRate: 0.5},
	})
}

func (t Thresholds) Lookup(metricType string) (Threshold, bool) {
	th, ok := t.byType[normalizeType(metricType)]
	return th, ok
}

func (t Thresholds) Types() []string {
	out := make([]string, 0, len(t.byType))
	for k := range t.byType {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalizeType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
