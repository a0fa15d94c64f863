package model

// SurfaceAction states how a surface passes light on: by transmitting it
// (windows, filters, dichroic pass-bands) or by reflecting it (mirrors).
type SurfaceAction string

const (
	ActionTransmission SurfaceAction = "transmission"
	ActionReflection   SurfaceAction = "reflection"
)

// Valid reports whether the action is one of the known values.
func (a SurfaceAction) Valid() bool {
	return a == ActionTransmission || a == ActionReflection
}

// SurfaceDefinition describes one physical optical element: a mirror,
// window or filter. The geometric and thermal attributes determine the
// element's thermal self-emission and loss; the referenced curve holds its
// wavelength-dependent transmission or reflectivity.
//
// Apertures are stored in metres, the tilt angle in degrees and the
// temperature in kelvin. Table decoders normalise the declared input units
// (°C temperatures in particular) before constructing a definition.
type SurfaceDefinition struct {
	Name string `json:"name"`

	// OuterM and InnerM are the outer and inner aperture radii in metres.
	// InnerM > 0 describes an annular element such as a primary mirror
	// with a central obstruction.
	OuterM float64 `json:"outer_m"`
	InnerM float64 `json:"inner_m"`

	// AngleDeg is the tilt of the surface relative to the optical axis.
	AngleDeg float64 `json:"angle_deg"`

	// TemperatureK drives the blackbody self-emission term. 0 disables
	// emission for this surface.
	TemperatureK float64 `json:"temperature_k"`

	Action SurfaceAction `json:"action"`

	// CurveRef names the transmission/reflectivity curve in the
	// calibration set.
	CurveRef string `json:"curve"`

	// SourceFile records where the definition came from, for error
	// reporting only.
	SourceFile string `json:"source_file,omitempty"`
}
