package model

// Units used throughout the simulator:
//
//	wavelength   micrometres (µm)
//	length       metres
//	angle        degrees
//	temperature  kelvin internally; input tables declare °C
//	flux         photons s⁻¹ m⁻² µm⁻¹
//
// Input tables carry their declared units (outer/inner aperture in metres,
// angle in degrees, temperature in °C) and are normalised to the internal
// system at decode time. Conversion helpers live here so the normalisation
// is done in exactly one place.

// ZeroCelsiusK is 0 °C expressed in kelvin.
const ZeroCelsiusK = 273.15

// CelsiusToKelvin converts a temperature in °C to kelvin.
func CelsiusToKelvin(c float64) float64 { return c + ZeroCelsiusK }

// KelvinToCelsius converts a temperature in kelvin to °C.
func KelvinToCelsius(k float64) float64 { return k - ZeroCelsiusK }

// NanometresToMicrometres converts a wavelength in nm to µm. Curve files
// may declare nanometre wavelength columns; everything downstream works
// in µm.
func NanometresToMicrometres(nm float64) float64 { return nm / 1000.0 }
