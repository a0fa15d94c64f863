package core

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/signalsfoundry/telescope-simulator/model"
)

// ReadoutStages toggles the individual stages of the detector read-out
// pipeline. A disabled stage is an identity passthrough, never an error;
// this is how deprecated or absent detector effects degrade.
type ReadoutStages struct {
	QE          bool `json:"qe"`
	DarkCurrent bool `json:"dark_current"`
	ShotNoise   bool `json:"shot_noise"`
	ReadNoise   bool `json:"read_noise"`
	Linearity   bool `json:"linearity"`
}

// AllReadoutStages enables the full chain.
func AllReadoutStages() ReadoutStages {
	return ReadoutStages{QE: true, DarkCurrent: true, ShotNoise: true, ReadNoise: true, Linearity: true}
}

// NoiselessReadout keeps only the deterministic stages.
func NoiselessReadout() ReadoutStages {
	return ReadoutStages{QE: true, DarkCurrent: true, Linearity: true}
}

// Detector binds a detector definition to its resolved quantum-efficiency
// and linearity curves.
type Detector struct {
	Def       model.DetectorDefinition
	QE        *Curve
	Linearity *Curve
}

// NewDetector validates the grid and curve kinds.
func NewDetector(def model.DetectorDefinition, qe, linearity *Curve) (*Detector, error) {
	if def.Width <= 0 || def.Height <= 0 {
		return nil, &ConsistencyError{
			Subject: fmt.Sprintf("detector %q", def.Name),
			Reason:  fmt.Sprintf("invalid pixel grid %dx%d", def.Width, def.Height),
		}
	}
	if linearity != nil {
		for i := 1; i < len(linearity.values); i++ {
			if linearity.values[i] < linearity.values[i-1] {
				return nil, &ConsistencyError{
					Subject: fmt.Sprintf("detector %q", def.Name),
					Reason:  "linearity curve is not monotone non-decreasing",
				}
			}
		}
	}
	return &Detector{Def: def, QE: qe, Linearity: linearity}, nil
}

// withStrictCurves returns a copy whose QE and linearity curves fail on
// out-of-domain lookups instead of clamping.
func (d *Detector) withStrictCurves() *Detector {
	cp := &Detector{Def: d.Def}
	if d.QE != nil {
		cp.QE = d.QE.WithBoundary(BoundStrict)
	}
	if d.Linearity != nil {
		// The linearity axis spans the detector's output range; lookups
		// past the table still clamp so saturation stays representable.
		cp.Linearity = d.Linearity
	}
	return cp
}

// ReadOut converts the scene's incident flux into a detector-plane count
// image. The stage order is fixed:
//
//  1. collapse the spectral flux to per-pixel photon rates, weighted by
//     the quantum-efficiency curve;
//  2. integrate over dit × ndit (total signal scales with both);
//  3. add dark current (rate × total integration time);
//  4. shot noise: a Poisson draw on the accumulated signal, so variance
//     equals the mean signal;
//  5. readout noise: zero-mean Gaussian with variance σ² × ndit (one
//     independent σ draw per readout);
//  6. gain and the monotone linearity remap.
//
// Negative pixels are clamped to zero after the noise stages; the clamp
// count is returned, not raised. src supplies all randomness; it may be
// nil when both noise stages are disabled.
func (d *Detector) ReadOut(sc *Scene, obs model.ObservationParams, stages ReadoutStages, src rand.Source) (*Image, int, error) {
	if obs.DIT <= 0 || obs.NDIT <= 0 {
		return nil, 0, &ConfigurationError{
			Effect:   d.Def.Name,
			Category: CategoryDET,
			Reason:   fmt.Sprintf("dit=%g ndit=%d must both be positive", obs.DIT, obs.NDIT),
		}
	}
	if (stages.ShotNoise || stages.ReadNoise) && src == nil {
		return nil, 0, &ConfigurationError{
			Effect:   d.Def.Name,
			Category: CategoryDET,
			Reason:   "noise stages enabled but no noise source provided",
		}
	}

	// Stage 1: QE-weighted spectral collapse.
	var weights []float64
	if stages.QE && d.QE != nil {
		var err error
		weights, err = d.QE.Values(sc.Wavelengths)
		if err != nil {
			return nil, 0, err
		}
	}
	rate := sc.IntegrateFlux(weights) // electrons/s for a unit-share pixel

	// Stage 2: integration. The scene image carries each pixel's spatial
	// share of the collapsed rate and must match the pixel grid exactly;
	// a mismatch would crop flux without a trace.
	if sc.Image.Width != d.Def.Width || sc.Image.Height != d.Def.Height {
		return nil, 0, &ConsistencyError{
			Subject: fmt.Sprintf("detector %q", d.Def.Name),
			Reason: fmt.Sprintf("scene image %dx%d does not match pixel grid %dx%d",
				sc.Image.Width, sc.Image.Height, d.Def.Width, d.Def.Height),
		}
	}
	total := obs.TotalIntegrationTime()
	out := NewImage(d.Def.Width, d.Def.Height)
	for i := range out.Pix {
		out.Pix[i] = sc.Image.Pix[i] * rate * total
	}

	// Stage 3: dark current.
	if stages.DarkCurrent && d.Def.DarkCurrent > 0 {
		dark := d.Def.DarkCurrent * total
		for i := range out.Pix {
			out.Pix[i] += dark
		}
	}

	// Stage 4: shot noise.
	if stages.ShotNoise {
		for i, mean := range out.Pix {
			if mean <= 0 {
				out.Pix[i] = 0
				continue
			}
			out.Pix[i] = distuv.Poisson{Lambda: mean, Src: src}.Rand()
		}
	}

	// Stage 5: readout noise.
	clamped := 0
	if stages.ReadNoise && d.Def.ReadNoise > 0 {
		sigma := d.Def.ReadNoise * math.Sqrt(float64(obs.NDIT))
		normal := distuv.Normal{Mu: 0, Sigma: sigma, Src: src}
		for i := range out.Pix {
			out.Pix[i] += normal.Rand()
		}
	}
	// Physical detectors cannot report negative counts.
	for i, v := range out.Pix {
		if v < 0 {
			out.Pix[i] = 0
			clamped++
		}
	}

	// Stage 6: full well, gain, linearity.
	if d.Def.FullWell > 0 {
		for i, v := range out.Pix {
			if v > d.Def.FullWell {
				out.Pix[i] = d.Def.FullWell
			}
		}
	}
	if d.Def.Gain > 0 && d.Def.Gain != 1 {
		out.Scale(1 / d.Def.Gain)
	}
	if stages.Linearity && d.Linearity != nil {
		for i, v := range out.Pix {
			mapped, err := d.Linearity.ValueAt(v)
			if err != nil {
				return nil, clamped, err
			}
			out.Pix[i] = mapped
		}
	}

	return out, clamped, nil
}
