package core

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// Image is a detector-plane or focal-plane array: row-major float64
// pixels strided by width.
type Image struct {
	Width  int
	Height int
	Pix    []float64
}

// NewImage allocates a zeroed image.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// At returns the pixel at (x, y). No bounds checking beyond the slice's.
func (im *Image) At(x, y int) float64 { return im.Pix[y*im.Width+x] }

// Set writes the pixel at (x, y).
func (im *Image) Set(x, y int, v float64) { im.Pix[y*im.Width+x] = v }

// Sum returns the total flux in the image.
func (im *Image) Sum() float64 {
	var s float64
	for _, v := range im.Pix {
		s += v
	}
	return s
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	cp := &Image{Width: im.Width, Height: im.Height, Pix: make([]float64, len(im.Pix))}
	copy(cp.Pix, im.Pix)
	return cp
}

// Scale multiplies every pixel in place.
func (im *Image) Scale(f float64) {
	for i := range im.Pix {
		im.Pix[i] *= f
	}
}

// Scene is the propagating light representation: a separable
// spectral-spatial flux distribution. Flux holds the spectral flux density
// (photons s⁻¹ m⁻² µm⁻¹) on a strictly increasing wavelength grid in µm;
// Image holds the normalised spatial distribution of that flux on the
// field of view.
//
// Effects mutate the scene they are handed; the optical train clones the
// input scene before execution so each exposure is a pure function of
// (scene, train).
type Scene struct {
	Wavelengths []float64
	Flux        []float64
	Image       *Image

	// Counts is set by the terminal detector effect; it is the read-out
	// detector-plane array in output counts.
	Counts *Image

	// ClampedPixels counts run-time negative-flux clamps during read-out.
	ClampedPixels int

	// Rand is the per-exposure noise source, seeded by the train before
	// execution. Effects must draw all randomness from it.
	Rand rand.Source
}

// NewScene validates the grids and builds a scene.
func NewScene(wavelengths, flux []float64, image *Image) (*Scene, error) {
	if len(wavelengths) != len(flux) {
		return nil, fmt.Errorf("scene: wavelength/flux length mismatch (%d vs %d)", len(wavelengths), len(flux))
	}
	if len(wavelengths) < 2 {
		return nil, fmt.Errorf("scene: needs at least two wavelength bins")
	}
	for i := 1; i < len(wavelengths); i++ {
		if wavelengths[i] <= wavelengths[i-1] {
			return nil, fmt.Errorf("scene: wavelength grid not strictly increasing at index %d", i)
		}
	}
	if image == nil || len(image.Pix) == 0 {
		return nil, fmt.Errorf("scene: missing spatial image")
	}
	return &Scene{Wavelengths: wavelengths, Flux: flux, Image: image}, nil
}

// FlatScene builds a spatially and spectrally uniform scene: every
// wavelength bin carries fluxDensity and every pixel an equal share of the
// spatial distribution.
func FlatScene(wavelengths []float64, fluxDensity float64, width, height int) (*Scene, error) {
	flux := make([]float64, len(wavelengths))
	for i := range flux {
		flux[i] = fluxDensity
	}
	img := NewImage(width, height)
	share := 1.0 / float64(width*height)
	for i := range img.Pix {
		img.Pix[i] = share
	}
	return NewScene(wavelengths, flux, img)
}

// PointSourceScene builds a scene with all spatial flux in one pixel.
func PointSourceScene(wavelengths []float64, fluxDensity float64, width, height, x, y int) (*Scene, error) {
	flux := make([]float64, len(wavelengths))
	for i := range flux {
		flux[i] = fluxDensity
	}
	img := NewImage(width, height)
	img.Set(x, y, 1)
	return NewScene(wavelengths, flux, img)
}

// Clone deep-copies the scene. The noise source is not carried over; the
// train installs a fresh one per exposure.
func (sc *Scene) Clone() *Scene {
	cp := &Scene{
		Wavelengths: append([]float64(nil), sc.Wavelengths...),
		Flux:        append([]float64(nil), sc.Flux...),
		Image:       sc.Image.Clone(),
	}
	if sc.Counts != nil {
		cp.Counts = sc.Counts.Clone()
	}
	return cp
}

// IntegrateFlux integrates the spectral flux density over the wavelength
// grid by the trapezoid rule, optionally weighted by a per-bin factor
// (e.g. quantum efficiency). weights may be nil.
func (sc *Scene) IntegrateFlux(weights []float64) float64 {
	var total float64
	for i := 1; i < len(sc.Wavelengths); i++ {
		f0, f1 := sc.Flux[i-1], sc.Flux[i]
		if weights != nil {
			f0 *= weights[i-1]
			f1 *= weights[i]
		}
		total += 0.5 * (f0 + f1) * (sc.Wavelengths[i] - sc.Wavelengths[i-1])
	}
	return total
}
