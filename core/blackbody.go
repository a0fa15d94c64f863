package core

import "math"

// Physical constants (SI).
const (
	planckH    = 6.62607015e-34 // J s
	lightSpeed = 2.99792458e8   // m/s
	boltzmannK = 1.380649e-23   // J/K
)

// PlanckPhotonRadiance returns the blackbody spectral photon radiance
// B(λ, T) in photons s⁻¹ m⁻² µm⁻¹ sr⁻¹ for a wavelength in µm and a
// temperature in kelvin. Surfaces use this for their thermal self-emission
// term. Returns 0 for non-positive wavelength or temperature.
func PlanckPhotonRadiance(wavelengthUm, tempK float64) float64 {
	if wavelengthUm <= 0 || tempK <= 0 {
		return 0
	}
	lm := wavelengthUm * 1e-6 // metres

	// Photon radiance: (2c/λ⁴) / (exp(hc/λkT) − 1) per metre of
	// wavelength; the 1e-6 converts to per µm.
	x := planckH * lightSpeed / (lm * boltzmannK * tempK)
	if x > 700 {
		// exp would overflow; the radiance is vanishingly small.
		return 0
	}
	perM := 2 * lightSpeed / (lm * lm * lm * lm) / (math.Exp(x) - 1)
	return perM * 1e-6
}
