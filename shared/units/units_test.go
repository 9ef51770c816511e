package units

import (
	"math"
	"testing"
)

func TestConvertKnownPairs(t *testing.T) {
	r := Default()
	cases := []struct {
		value    float64
		from, to string
		want     float64
	}{
		{10, "L/s", "m³/h", 36},
		{36, "m³/h", "L/s", 10},
		{1, "bar", "psi", 14.5038},
		{2, "m³", "L", 2000},
		{100, "°C", "°F", 212},
	}
	for _, tc := range cases {
		got, ok := r.Convert(tc.value, tc.from, tc.to)
		if !ok || math.Abs(got-tc.want) > 1e-3 {
			t.Fatalf("Convert(%v, %s, %s) = %v %v, want %v", tc.value, tc.from, tc.to, got, ok, tc.want)
		}
	}
}

func TestConvertSameUnit(t *testing.T) {
	r := Default()
	for _, u := range []string{"bar", "L/s", "kg", ""} {
		if got, ok := r.Convert(42.123456, u, u); !ok || got != 42.123456 {
			t.Fatalf("identity conversion for %q returned %v %v", u, got, ok)
		}
	}
}

func TestConvertUnknownPair(t *testing.T) {
	if _, ok := Default().Convert(1, "kg", "lb"); ok {
		t.Fatalf("expected unknown pair to be absent")
	}
}

func TestNoAutomaticInversion(t *testing.T) {
	r := NewRegistry()
	r.Register("m", "ft", func(v float64) float64 { return v * 3.28084 })
	if _, ok := r.Convert(1, "ft", "m"); ok {
		t.Fatalf("inverse pair must be registered explicitly")
	}
	if _, ok := Default().Convert(1, "ft", "m"); ok {
		t.Fatalf("default registry has no ft to m entry")
	}
}

func TestRoundTripReversiblePairs(t *testing.T) {
	r := Default()
	pairs := [][2]string{{"L/s", "m³/h"}, {"bar", "psi"}, {"m³", "L"}}
	for _, p := range pairs {
		for _, x := range []float64{0, 0.5, 1, 12.34, 499.9, 1234.5} {
			there, ok := r.Convert(x, p[0], p[1])
			if !ok {
				t.Fatalf("missing %s -> %s", p[0], p[1])
			}
			back, ok := r.Convert(there, p[1], p[0])
			if !ok {
				t.Fatalf("missing %s -> %s", p[1], p[0])
			}
			if math.Abs(back-x) > 1e-3 {
				t.Fatalf("round trip %s<->%s for %v gave %v", p[0], p[1], x, back)
			}
		}
	}
}

func TestPairsSorted(t *testing.T) {
	pairs := Default().Pairs()
	if len(pairs) != 8 {
		t.Fatalf("expected 8 default pairs, got %d", len(pairs))
	}
	for i := 1; i < len(pairs); i++ {
		if pairs[i-1].From > pairs[i].From {
			t.Fatalf("pairs not sorted: %+v", pairs)
		}
	}
}
