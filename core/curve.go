package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

// CurveKind states what a curve's values mean. Transmission, reflectivity
// and quantum-efficiency curves are dimensionless fractions bounded to
// [0, 1]; emission and linearity curves are unbounded.
type CurveKind int

const (
	KindTransmission CurveKind = iota
	KindReflectivity
	KindQE
	KindEmission
	KindLinearity
)

func (k CurveKind) String() string {
	switch k {
	case KindTransmission:
		return "transmission"
	case KindReflectivity:
		return "reflectivity"
	case KindQE:
		return "qe"
	case KindEmission:
		return "emission"
	case KindLinearity:
		return "linearity"
	}
	return fmt.Sprintf("CurveKind(%d)", int(k))
}

// bounded reports whether values of this kind must lie in [0, 1].
func (k CurveKind) bounded() bool {
	switch k {
	case KindTransmission, KindReflectivity, KindQE:
		return true
	}
	return false
}

// BoundaryPolicy selects what an out-of-domain lookup does.
type BoundaryPolicy int

const (
	// BoundClamp clamps the lookup to the nearest table endpoint. This is
	// the default.
	BoundClamp BoundaryPolicy = iota
	// BoundStrict makes out-of-domain lookups fail with a
	// DataDomainError.
	BoundStrict
)

// Curve is an immutable wavelength-indexed value table with linear
// interpolation between nodes. The wavelength axis is strictly increasing
// and in µm (linearity curves index on input level instead, with the same
// machinery). Evaluation is purely functional; the vectorised path goes
// through the same predictor as the scalar one, so the two agree exactly.
type Curve struct {
	name   string
	kind   CurveKind
	bounds BoundaryPolicy

	wavelengths []float64
	values      []float64
	pred        interp.PiecewiseLinear
}

// NewCurve validates the table and builds the interpolant. The wavelength
// axis must be strictly increasing with at least two nodes; bounded kinds
// additionally require every value in [0, 1].
func NewCurve(name string, kind CurveKind, wavelengths, values []float64) (*Curve, error) {
	if len(wavelengths) != len(values) {
		return nil, &ConsistencyError{
			Subject: fmt.Sprintf("curve %q", name),
			Reason:  fmt.Sprintf("wavelength/value length mismatch (%d vs %d)", len(wavelengths), len(values)),
		}
	}
	if len(wavelengths) < 2 {
		return nil, &ConsistencyError{
			Subject: fmt.Sprintf("curve %q", name),
			Reason:  "needs at least two table nodes",
		}
	}
	for i := 1; i < len(wavelengths); i++ {
		if wavelengths[i] <= wavelengths[i-1] {
			return nil, &ConsistencyError{
				Subject: fmt.Sprintf("curve %q", name),
				Reason:  fmt.Sprintf("wavelength axis not strictly increasing at index %d", i),
			}
		}
	}
	if kind.bounded() {
		for i, v := range values {
			if v < 0 || v > 1 {
				return nil, &ConsistencyError{
					Subject: fmt.Sprintf("curve %q", name),
					Reason:  fmt.Sprintf("%s value %g at index %d outside [0, 1]", kind, v, i),
				}
			}
		}
	}

	c := &Curve{
		name:        name,
		kind:        kind,
		wavelengths: append([]float64(nil), wavelengths...),
		values:      append([]float64(nil), values...),
	}
	if err := c.pred.Fit(c.wavelengths, c.values); err != nil {
		return nil, &ConsistencyError{Subject: fmt.Sprintf("curve %q", name), Reason: err.Error()}
	}
	return c, nil
}

// Name returns the curve's calibration-set name.
func (c *Curve) Name() string { return c.name }

// Kind returns what the curve's values mean.
func (c *Curve) Kind() CurveKind { return c.kind }

// Domain returns the first and last table wavelengths.
func (c *Curve) Domain() (min, max float64) {
	return c.wavelengths[0], c.wavelengths[len(c.wavelengths)-1]
}

// Len returns the number of table nodes.
func (c *Curve) Len() int { return len(c.wavelengths) }

// WithBoundary returns a copy of the curve using the given boundary
// policy. The receiver is unchanged.
func (c *Curve) WithBoundary(p BoundaryPolicy) *Curve {
	cp := *c
	cp.bounds = p
	return &cp
}

// ValueAt evaluates the curve at a single wavelength. Lookups outside the
// table domain follow the boundary policy: clamp to the endpoint value, or
// fail with a DataDomainError under BoundStrict.
func (c *Curve) ValueAt(wavelength float64) (float64, error) {
	min, max := c.Domain()
	if wavelength < min || wavelength > max {
		if c.bounds == BoundStrict {
			return 0, &DataDomainError{Quantity: "wavelength", Value: wavelength, Min: min, Max: max}
		}
		if wavelength < min {
			wavelength = min
		} else {
			wavelength = max
		}
	}
	return c.pred.Predict(wavelength), nil
}

// Values evaluates the curve over a wavelength array. It returns a fresh
// slice of the same length. Each element is computed by the exact same
// predictor as ValueAt, so vectorised and scalar evaluation agree.
func (c *Curve) Values(wavelengths []float64) ([]float64, error) {
	out := make([]float64, len(wavelengths))
	for i, w := range wavelengths {
		v, err := c.ValueAt(w)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// PowScale returns a new curve whose node values are v^exponent. This is
// how atmospheric transmission is rescaled to an observation's airmass:
// the zenith transmission table is raised node-wise to the airmass power.
// For bounded kinds the result stays in [0, 1] whenever exponent ≥ 0.
func (c *Curve) PowScale(exponent float64) (*Curve, error) {
	if exponent == 1 {
		return c, nil
	}
	scaled := make([]float64, len(c.values))
	for i, v := range c.values {
		scaled[i] = math.Pow(v, exponent)
	}
	out, err := NewCurve(c.name, c.kind, c.wavelengths, scaled)
	if err != nil {
		return nil, err
	}
	out.bounds = c.bounds
	return out, nil
}
