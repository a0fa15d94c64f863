package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/telescope-simulator/model"
)

// Surface binds a surface definition to its resolved
// transmission/reflectivity curve.
type Surface struct {
	Def   model.SurfaceDefinition
	Curve *Curve
}

// NewSurface validates the pairing. The curve must be present and the
// action known.
func NewSurface(def model.SurfaceDefinition, curve *Curve) (*Surface, error) {
	if curve == nil {
		return nil, &ConsistencyError{
			Subject: fmt.Sprintf("surface %q", def.Name),
			Reason:  "missing curve",
		}
	}
	if !def.Action.Valid() {
		return nil, &ConsistencyError{
			Subject: fmt.Sprintf("surface %q", def.Name),
			Reason:  fmt.Sprintf("unknown action %q", def.Action),
		}
	}
	return &Surface{Def: def, Curve: curve}, nil
}

// Apply transforms a spectral flux distribution through the surface.
//
// Transmission surfaces attenuate: out(λ) = in(λ) · t(λ).
//
// Reflection surfaces attenuate the same way and additionally re-radiate
// the energy they do not reflect as thermal emission: the blackbody photon
// radiance at the surface temperature scaled by the emissivity (1 − t(λ))
// and the projected emitting area. A surface at 0 K emits nothing.
//
// The input slice is not modified; a fresh slice is returned.
func (s *Surface) Apply(wavelengths, flux []float64) ([]float64, error) {
	t, err := s.Curve.Values(wavelengths)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(flux))
	emitting := s.Def.Action == model.ActionReflection && s.Def.TemperatureK > 0
	scale := s.emissionScale()
	for i := range flux {
		out[i] = flux[i] * t[i]
		if emitting {
			out[i] += scale * (1 - t[i]) * PlanckPhotonRadiance(wavelengths[i], s.Def.TemperatureK)
		}
	}
	return out, nil
}

// emissionScale is the geometric weight of the thermal term: the annular
// emitting area in m², projected by the tilt angle. Definitions without
// aperture geometry emit with unit weight.
func (s *Surface) emissionScale() float64 {
	area := 1.0
	if s.Def.OuterM > 0 {
		area = math.Pi * (s.Def.OuterM*s.Def.OuterM - s.Def.InnerM*s.Def.InnerM)
	}
	return area * math.Cos(s.Def.AngleDeg*math.Pi/180)
}

// SurfaceList is one optical subsystem: an ordered run of surfaces that
// light traverses in exactly the listed order. The order is physically
// meaningful and is never resorted by any component.
type SurfaceList struct {
	Name     string
	Surfaces []*Surface
}

// NewSurfaceList requires at least one surface and unique names within the
// list.
func NewSurfaceList(name string, surfaces []*Surface) (*SurfaceList, error) {
	if len(surfaces) == 0 {
		return nil, &ConsistencyError{
			Subject: fmt.Sprintf("surface list %q", name),
			Reason:  "empty surface list",
		}
	}
	seen := make(map[string]bool, len(surfaces))
	for _, s := range surfaces {
		if seen[s.Def.Name] {
			return nil, &ConsistencyError{
				Subject: fmt.Sprintf("surface list %q", name),
				Reason:  fmt.Sprintf("duplicate surface name %q", s.Def.Name),
			}
		}
		seen[s.Def.Name] = true
	}
	return &SurfaceList{Name: name, Surfaces: surfaces}, nil
}

// withStrictCurves returns a copy of the list whose surface curves fail
// on out-of-domain lookups instead of clamping.
func (sl *SurfaceList) withStrictCurves() *SurfaceList {
	surfaces := make([]*Surface, len(sl.Surfaces))
	for i, s := range sl.Surfaces {
		surfaces[i] = &Surface{Def: s.Def, Curve: s.Curve.WithBoundary(BoundStrict)}
	}
	return &SurfaceList{Name: sl.Name, Surfaces: surfaces}
}

// Apply folds Surface.Apply over the list in declared order, each
// surface's output feeding the next's input.
func (sl *SurfaceList) Apply(wavelengths, flux []float64) ([]float64, error) {
	out := flux
	for _, s := range sl.Surfaces {
		var err error
		out, err = s.Apply(wavelengths, out)
		if err != nil {
			return nil, fmt.Errorf("surface %q: %w", s.Def.Name, err)
		}
	}
	return out, nil
}

// Throughput returns the product of all surface curves at each wavelength,
// ignoring emission. Useful for reporting the subsystem's net
// transmission.
func (sl *SurfaceList) Throughput(wavelengths []float64) ([]float64, error) {
	out := make([]float64, len(wavelengths))
	for i := range out {
		out[i] = 1
	}
	for _, s := range sl.Surfaces {
		t, err := s.Curve.Values(wavelengths)
		if err != nil {
			return nil, fmt.Errorf("surface %q: %w", s.Def.Name, err)
		}
		for i := range out {
			out[i] *= t[i]
		}
	}
	return out, nil
}
