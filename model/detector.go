package model

// DetectorDefinition describes a detector chip: its pixel grid plus the
// noise and response characteristics applied during read-out.
type DetectorDefinition struct {
	Name string `json:"name"`

	// Pixel grid.
	Width  int `json:"width"`
	Height int `json:"height"`

	// PixelSizeUm is the physical pixel pitch in µm. Stored for metadata;
	// the read-out itself works on the abstract grid.
	PixelSizeUm float64 `json:"pixel_size_um,omitempty"`

	// Gain converts accumulated electrons to output counts (e-/ADU).
	// 0 means unity gain.
	Gain float64 `json:"gain,omitempty"`

	// DarkCurrent is the thermal signal rate in e-/s per pixel.
	DarkCurrent float64 `json:"dark_current,omitempty"`

	// ReadNoise is the per-readout noise sigma in electrons. Each of the
	// ndit readouts contributes an independent draw.
	ReadNoise float64 `json:"read_noise,omitempty"`

	// QECurveRef names the quantum-efficiency curve in the calibration
	// set. Empty means unit QE.
	QECurveRef string `json:"qe_curve,omitempty"`

	// LinearityCurveRef names the monotone response-remapping curve.
	// Empty means a perfectly linear detector.
	LinearityCurveRef string `json:"linearity_curve,omitempty"`

	// FullWell caps the accumulated electron count per pixel before the
	// linearity remap. 0 means no cap.
	FullWell float64 `json:"full_well,omitempty"`
}

// Pixels returns the total number of pixels in the grid.
func (d *DetectorDefinition) Pixels() int { return d.Width * d.Height }
