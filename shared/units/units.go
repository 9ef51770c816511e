package units

import (
	"math"
	"sort"
	"sync"
)

type ConvertFunc func(float64) float64

type pair struct {
	from, to string
}

type Pair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Registry maps ordered unit pairs to conversions. A pair and its inverse are
// separate entries.
type Registry struct {
	mu    sync.RWMutex
	funcs map[pair]ConvertFunc
}

func NewRegistry() *Registry {
	return &Registry{funcs: map[pair]ConvertFunc{}}
}

func Default() *Registry {
	r := NewRegistry()
	r.Register("L/s", "m³/h", func(v float64) float64 { return v * 3.6 })
	r.Register("m³/h", "L/s", func(v float64) float64 { return v / 3.6 })
	r.Register("bar", "psi", func(v float64) float64 { return v * 14.5038 })
	r.Register("psi", "bar", func(v float64) float64 { return v / 14.5038 })
	r.Register("m³", "L", func(v float64) float64 { return v * 1000 })
	r.Register("L", "m³", func(v float64) float64 { return v / 1000 })
	r.Register("m", "ft", func(v float64) float64 { return v * 3.28084 })
	r.Register("°C", "°F", func(v float64) float64 { return v*9/5 + 32 })
	return r
}

func (r *Registry) Register(from, to string, fn ConvertFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[pair{from, to}] = fn
}

// Convert returns value unchanged when from == to and false when the pair is
// not registered. Converted values are rounded to 4 decimal places.
func (r *Registry) Convert(value float64, from, to string) (float64, bool) {
	if from == to {
		return value, true
	}
	r.mu.RLock()
	fn, ok := r.funcs[pair{from, to}]
	r.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return math.Round(fn(value)*10000) / 10000, true
}

func (r *Registry) Pairs() []Pair {
	r.mu.RLock()
	out := make([]Pair, 0, len(r.funcs))
	for p := range r.funcs {
		out = append(out, Pair{From: p.from, To: p.to})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}
