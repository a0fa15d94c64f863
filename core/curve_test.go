package core

import (
	"errors"
	"math"
	"testing"
)

func mustCurve(t *testing.T, name string, kind CurveKind, wl, vals []float64) *Curve {
	t.Helper()
	c, err := NewCurve(name, kind, wl, vals)
	if err != nil {
		t.Fatalf("NewCurve(%q): %v", name, err)
	}
	return c
}

func TestCurveExactAtTableNodes(t *testing.T) {
	wl := []float64{1.0, 1.5, 2.0, 2.5}
	vals := []float64{0.1, 0.4, 0.9, 0.3}
	c := mustCurve(t, "ter", KindTransmission, wl, vals)

	for i, w := range wl {
		got, err := c.ValueAt(w)
		if err != nil {
			t.Fatalf("ValueAt(%g): %v", w, err)
		}
		if got != vals[i] {
			t.Errorf("ValueAt(%g) = %g, want exactly %g", w, got, vals[i])
		}
	}
}

func TestCurveLinearBetweenNodes(t *testing.T) {
	c := mustCurve(t, "ter", KindTransmission, []float64{1.0, 2.0}, []float64{0.2, 0.8})

	got, err := c.ValueAt(1.5)
	if err != nil {
		t.Fatalf("ValueAt: %v", err)
	}
	if math.Abs(got-0.5) > 1e-12 {
		t.Errorf("midpoint = %g, want 0.5", got)
	}

	// Monotone between nodes: the interpolant never leaves [v0, v1].
	prev := 0.2
	for w := 1.0; w <= 2.0; w += 0.01 {
		v, err := c.ValueAt(w)
		if err != nil {
			t.Fatalf("ValueAt(%g): %v", w, err)
		}
		if v < prev-1e-12 {
			t.Fatalf("interpolant not monotone at %g: %g < %g", w, v, prev)
		}
		prev = v
	}
}

func TestCurveClampIsDefault(t *testing.T) {
	c := mustCurve(t, "ter", KindTransmission, []float64{1.0, 2.0}, []float64{0.2, 0.8})

	lo, err := c.ValueAt(0.5)
	if err != nil {
		t.Fatalf("ValueAt below range: %v", err)
	}
	if lo != 0.2 {
		t.Errorf("below-range lookup = %g, want clamp to 0.2", lo)
	}
	hi, err := c.ValueAt(3.0)
	if err != nil {
		t.Fatalf("ValueAt above range: %v", err)
	}
	if hi != 0.8 {
		t.Errorf("above-range lookup = %g, want clamp to 0.8", hi)
	}
}

func TestCurveStrictBoundary(t *testing.T) {
	c := mustCurve(t, "ter", KindTransmission, []float64{1.0, 2.0}, []float64{0.2, 0.8}).
		WithBoundary(BoundStrict)

	_, err := c.ValueAt(0.5)
	if err == nil {
		t.Fatal("expected DataDomainError below range")
	}
	if !errors.Is(err, ErrDataDomain) {
		t.Errorf("error %v is not ErrDataDomain", err)
	}
	var dd *DataDomainError
	if !errors.As(err, &dd) {
		t.Fatalf("error %v is not *DataDomainError", err)
	}
	if dd.Value != 0.5 || dd.Min != 1.0 || dd.Max != 2.0 {
		t.Errorf("DataDomainError = %+v, want value 0.5 in [1, 2]", dd)
	}

	// In-range lookups still work under strict bounds.
	if _, err := c.ValueAt(1.5); err != nil {
		t.Errorf("in-range lookup under strict bounds: %v", err)
	}
}

func TestCurveVectorMatchesScalar(t *testing.T) {
	c := mustCurve(t, "ter", KindTransmission,
		[]float64{0.8, 1.2, 1.9, 2.5}, []float64{0.05, 0.6, 0.85, 0.2})

	probe := []float64{0.8, 0.9, 1.0, 1.55, 2.0, 2.5, 3.1}
	vec, err := c.Values(probe)
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	for i, w := range probe {
		scalar, err := c.ValueAt(w)
		if err != nil {
			t.Fatalf("ValueAt(%g): %v", w, err)
		}
		if vec[i] != scalar {
			t.Errorf("Values[%d] = %g, ValueAt(%g) = %g; want identical", i, vec[i], w, scalar)
		}
	}
}

func TestCurveValidation(t *testing.T) {
	cases := []struct {
		name string
		kind CurveKind
		wl   []float64
		vals []float64
	}{
		{"non-increasing axis", KindTransmission, []float64{1, 1, 2}, []float64{0.1, 0.2, 0.3}},
		{"decreasing axis", KindTransmission, []float64{2, 1}, []float64{0.1, 0.2}},
		{"length mismatch", KindTransmission, []float64{1, 2}, []float64{0.1}},
		{"single node", KindTransmission, []float64{1}, []float64{0.1}},
		{"transmission above 1", KindTransmission, []float64{1, 2}, []float64{0.5, 1.5}},
		{"qe below 0", KindQE, []float64{1, 2}, []float64{-0.1, 0.5}},
	}
	for _, tc := range cases {
		_, err := NewCurve("bad", tc.kind, tc.wl, tc.vals)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !errors.Is(err, ErrConsistency) {
			t.Errorf("%s: error %v is not ErrConsistency", tc.name, err)
		}
	}

	// Emission curves may exceed 1.
	if _, err := NewCurve("em", KindEmission, []float64{1, 2}, []float64{10, 2000}); err != nil {
		t.Errorf("emission curve with large values rejected: %v", err)
	}
}

func TestCurvePowScale(t *testing.T) {
	c := mustCurve(t, "atmo", KindTransmission, []float64{1.0, 2.0}, []float64{0.81, 0.25})

	scaled, err := c.PowScale(2.0)
	if err != nil {
		t.Fatalf("PowScale: %v", err)
	}
	got, err := scaled.ValueAt(1.0)
	if err != nil {
		t.Fatalf("ValueAt: %v", err)
	}
	if math.Abs(got-0.6561) > 1e-12 {
		t.Errorf("scaled node = %g, want 0.81^2 = 0.6561", got)
	}

	// Exponent 1 returns the curve unchanged.
	same, err := c.PowScale(1.0)
	if err != nil {
		t.Fatalf("PowScale(1): %v", err)
	}
	if same != c {
		t.Error("PowScale(1) should return the receiver")
	}

	// The original is untouched.
	orig, _ := c.ValueAt(1.0)
	if orig != 0.81 {
		t.Errorf("original mutated: %g", orig)
	}
}
