package model

// ObservationParams is the immutable configuration record consumed at
// train-build time. It carries the observation keywords that select which
// effects are active and parameterise them; it never changes during a
// running simulation. Changing any of these requires rebuilding the train.
type ObservationParams struct {
	// Airmass of the observation; atmospheric transmission curves are
	// scaled to it. 1.0 = zenith.
	Airmass float64 `json:"airmass"`

	// PupilAngleDeg is the pupil rotation relative to the sky; it sets the
	// direction of the residual dispersion shift (0° points along +Y).
	PupilAngleDeg float64 `json:"pupil_angle_deg,omitempty"`

	// CentralWavelengthUm is the reference wavelength of the observation.
	// When set, the scene's wavelength grid must cover it.
	CentralWavelengthUm float64 `json:"central_wavelength_um,omitempty"`

	// DIT is the detector integration time per exposure in seconds;
	// NDIT the number of integrations accumulated per exposure.
	DIT  float64 `json:"dit"`
	NDIT int     `json:"ndit"`

	// Filter names the active filter; it selects which filter-curve
	// effects the builder resolves.
	Filter string `json:"filter,omitempty"`

	// NoiseSeed makes noisy read-outs reproducible. Exposure i of a batch
	// uses NoiseSeed+i.
	NoiseSeed uint64 `json:"noise_seed,omitempty"`

	// StrictBounds promotes wavelength domain violations from
	// clamp-to-edge to hard errors.
	StrictBounds bool `json:"strict_bounds,omitempty"`
}

// TotalIntegrationTime returns dit × ndit in seconds.
func (o ObservationParams) TotalIntegrationTime() float64 {
	return o.DIT * float64(o.NDIT)
}
