// Package compliance checks water-quality readings against drinking water
// limits. Absent parameters are never a violation.
package compliance

import "fmt"

type Reading struct {
	PH              *float64
	TurbidityNTU    *float64
	ChlorineMgL     *float64
	TDSMgL          *float64
	ConductivityUS  *float64
	TemperatureC    *float64
	DissolvedOxygen *float64
}

type Violation struct {
	Parameter string  `json:"parameter"`
	Value     float64 `json:"value"`
	Limit     string  `json:"limit"`
}

type bound struct {
	name     string
	value    func(Reading) *float64
	min, max *float64
}

func f(v float64) *float64 { return &v }

var limits = []bound{
	{name: "ph", value: func(r Reading) *float64 { return r.PH }, min: f(6.5), max: f(8.5)},
	{name: "turbidity_ntu", value: func(r Reading) *float64 { return r.TurbidityNTU }, max: f(5.0)},
	{name: "chlorine_mg_l", value: func(r Reading) *float64 { return r.ChlorineMgL }, min: f(0.2), max: f(5.0)},
	{name: "tds_mg_l", value: func(r Reading) *float64 { return r.TDSMgL }, max: f(1000)},
}

func (b bound) describe() string {
	switch {
	case b.min != nil && b.max != nil:
		return fmt.Sprintf("[%g, %g]", *b.min, *b.max)
	case b.max != nil:
		return fmt.Sprintf("<= %g", *b.max)
	default:
		return fmt.Sprintf(">= %g", *b.min)
	}
}

func (b bound) violated(v float64) bool {
	return (b.min != nil && v < *b.min) || (b.max != nil && v > *b.max)
}

func Check(r Reading) bool {
	for _, b := range limits {
		if v := b.value(r); v != nil && b.violated(*v) {
			return false
		}
	}
	return true
}

func Violations(r Reading) []Violation {
	var out []Violation
	for _, b := range limits {
		v := b.value(r)
		if v == nil || !b.violated(*v) {
			continue
		}
		out = append(out, Violation{Parameter: b.name, Value: *v, Limit: b.describe()})
	}
	return out
}
