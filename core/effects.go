package core

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// CurveEffect multiplies the scene's spectral flux by a
// transmission/efficiency curve, optionally adding an emission spectrum
// (e.g. atmospheric sky emission). An atmospheric transmission curve is
// rescaled node-wise to the observation's airmass before being wrapped in
// a CurveEffect.
type CurveEffect struct {
	meta
	Curve    *Curve
	Emission *Curve
}

// NewCurveEffect wraps a resolved curve as a pipeline stage. emission may
// be nil.
func NewCurveEffect(name string, cat Category, status Status, curve, emission *Curve) (*CurveEffect, error) {
	if curve == nil {
		return nil, &ConsistencyError{Subject: fmt.Sprintf("effect %q", name), Reason: "missing curve"}
	}
	return &CurveEffect{meta: meta{name, cat, status}, Curve: curve, Emission: emission}, nil
}

func (e *CurveEffect) Apply(ctx context.Context, sc *Scene) error {
	t, err := e.Curve.Values(sc.Wavelengths)
	if err != nil {
		return err
	}
	for i := range sc.Flux {
		sc.Flux[i] *= t[i]
	}
	if e.Emission != nil {
		em, err := e.Emission.Values(sc.Wavelengths)
		if err != nil {
			return err
		}
		for i := range sc.Flux {
			sc.Flux[i] += em[i]
		}
	}
	return nil
}

// SurfaceListEffect runs the scene's spectral flux through one optical
// subsystem's surfaces in declared order.
type SurfaceListEffect struct {
	meta
	List *SurfaceList
}

func NewSurfaceListEffect(name string, cat Category, status Status, list *SurfaceList) (*SurfaceListEffect, error) {
	if list == nil {
		return nil, &ConsistencyError{Subject: fmt.Sprintf("effect %q", name), Reason: "missing surface list"}
	}
	return &SurfaceListEffect{meta: meta{name, cat, status}, List: list}, nil
}

func (e *SurfaceListEffect) Apply(ctx context.Context, sc *Scene) error {
	out, err := e.List.Apply(sc.Wavelengths, sc.Flux)
	if err != nil {
		return err
	}
	sc.Flux = out
	return nil
}

// PSFEffect convolves the scene's spatial distribution with a point
// spread function, field-constant or field-varying.
type PSFEffect struct {
	meta
	PSF PSF
}

func NewPSFEffect(name string, cat Category, status Status, psf PSF) (*PSFEffect, error) {
	if psf == nil {
		return nil, &ConsistencyError{Subject: fmt.Sprintf("effect %q", name), Reason: "missing psf"}
	}
	return &PSFEffect{meta: meta{name, cat, status}, PSF: psf}, nil
}

func (e *PSFEffect) Apply(ctx context.Context, sc *Scene) error {
	out, err := e.PSF.Convolve(sc.Image)
	if err != nil {
		return err
	}
	sc.Image = out
	return nil
}

// ApertureMaskEffect restricts the spatial distribution to an on-sky
// window: a slit, a fibre, or the detector field stop. Mask weights are
// 0 for blocked pixels and 1 for open ones (fractional edge weights are
// allowed).
//
// With ConserveImage the masked image keeps its structure. Without it,
// the flux surviving the mask is spread uniformly over the open pixels,
// which is how fibre-fed apertures scramble the image.
type ApertureMaskEffect struct {
	meta
	Mask          *Image
	ConserveImage bool
}

func NewApertureMaskEffect(name string, cat Category, status Status, mask *Image, conserve bool) (*ApertureMaskEffect, error) {
	if mask == nil || len(mask.Pix) == 0 {
		return nil, &ConsistencyError{Subject: fmt.Sprintf("effect %q", name), Reason: "missing aperture mask"}
	}
	return &ApertureMaskEffect{meta: meta{name, cat, status}, Mask: mask, ConserveImage: conserve}, nil
}

func (e *ApertureMaskEffect) Apply(ctx context.Context, sc *Scene) error {
	img := sc.Image
	if e.Mask.Width != img.Width || e.Mask.Height != img.Height {
		return &ConsistencyError{
			Subject: fmt.Sprintf("effect %q", e.name),
			Reason: fmt.Sprintf("mask %dx%d does not match field %dx%d",
				e.Mask.Width, e.Mask.Height, img.Width, img.Height),
		}
	}
	for i := range img.Pix {
		img.Pix[i] *= e.Mask.Pix[i]
	}
	if !e.ConserveImage {
		passed := img.Sum()
		open := 0.0
		for _, m := range e.Mask.Pix {
			open += m
		}
		if open > 0 {
			share := passed / open
			for i, m := range e.Mask.Pix {
				img.Pix[i] = share * m
			}
		}
	}
	return nil
}

// ImageShiftEffect translates the spatial distribution by a sub-pixel
// amount using bilinear redistribution. Flux shifted past the field edge
// is lost; the residual shifts produced by dispersion correction are far
// below a pixel, so the loss is negligible in practice.
type ImageShiftEffect struct {
	meta
	DX, DY float64
}

func NewImageShiftEffect(name string, cat Category, status Status, dx, dy float64) *ImageShiftEffect {
	return &ImageShiftEffect{meta: meta{name, cat, status}, DX: dx, DY: dy}
}

func (e *ImageShiftEffect) Apply(ctx context.Context, sc *Scene) error {
	sc.Image = shiftImage(sc.Image, e.DX, e.DY)
	return nil
}

// shiftImage returns img translated by (dx, dy) pixels with bilinear
// weighting.
func shiftImage(img *Image, dx, dy float64) *Image {
	out := NewImage(img.Width, img.Height)
	ix, fx := splitShift(dx)
	iy, fy := splitShift(dy)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			v := img.At(x, y)
			if v == 0 {
				continue
			}
			deposit(out, x+ix, y+iy, v*(1-fx)*(1-fy))
			deposit(out, x+ix+1, y+iy, v*fx*(1-fy))
			deposit(out, x+ix, y+iy+1, v*(1-fx)*fy)
			deposit(out, x+ix+1, y+iy+1, v*fx*fy)
		}
	}
	return out
}

func splitShift(d float64) (int, float64) {
	i := int(d)
	f := d - float64(i)
	if f < 0 {
		i--
		f++
	}
	return i, f
}

func deposit(img *Image, x, y int, v float64) {
	if x < 0 || x >= img.Width || y < 0 || y >= img.Height || v == 0 {
		return
	}
	img.Pix[y*img.Width+x] += v
}

// CompositeEffect applies an ordered run of sub-effects as a single
// pipeline stage. Atmospheric dispersion correction and non-common-path
// aberration are built this way.
type CompositeEffect struct {
	meta
	Subs []Effect
}

func NewCompositeEffect(name string, cat Category, status Status, subs []Effect) (*CompositeEffect, error) {
	if len(subs) == 0 {
		return nil, &ConsistencyError{Subject: fmt.Sprintf("effect %q", name), Reason: "composite with no sub-effects"}
	}
	return &CompositeEffect{meta: meta{name, cat, status}, Subs: subs}, nil
}

func (e *CompositeEffect) Apply(ctx context.Context, sc *Scene) error {
	for _, sub := range e.Subs {
		if err := sub.Apply(ctx, sc); err != nil {
			return fmt.Errorf("%s/%s: %w", e.name, sub.Name(), err)
		}
	}
	return nil
}

// NewADCEffect builds the atmospheric dispersion correction composite: a
// throughput curve for the ADC prisms plus the residual image shift the
// corrector leaves at the given airmass. residualPerAirmass is the
// uncorrected shift in pixels per unit airmass above 1, directed along
// the parallactic axis rotated by pupilAngleDeg (0° points along +Y).
func NewADCEffect(name string, status Status, throughput *Curve, airmass, residualPerAirmass, pupilAngleDeg float64) (*CompositeEffect, error) {
	excess := airmass - 1
	if excess < 0 {
		excess = 0
	}
	r := excess * residualPerAirmass
	theta := pupilAngleDeg * math.Pi / 180
	subs := []Effect{
		NewImageShiftEffect(name+"_residual", CategoryINSTMode, status, r*math.Sin(theta), r*math.Cos(theta)),
	}
	if throughput != nil {
		ce, err := NewCurveEffect(name+"_throughput", CategoryINSTMode, status, throughput, nil)
		if err != nil {
			return nil, err
		}
		subs = append([]Effect{ce}, subs...)
	}
	return NewCompositeEffect(name, CategoryINSTMode, status, subs)
}

// NewNCPAEffect builds the non-common-path aberration composite: an extra
// blur kernel applied on top of the instrument PSF.
func NewNCPAEffect(name string, status Status, kernel *Kernel) (*CompositeEffect, error) {
	psf, err := NewFieldConstantPSF(kernel)
	if err != nil {
		return nil, err
	}
	pe, err := NewPSFEffect(name+"_blur", CategoryINSTMode, StatusActive, psf)
	if err != nil {
		return nil, err
	}
	return NewCompositeEffect(name, CategoryINSTMode, status, []Effect{pe})
}

// PersistenceEffect is the single sanctioned stateful exception to the
// stateless-effect rule: it models detector persistence by carrying a
// decaying residual of each exposure's counts into the next. It must run
// after the detector effect. Access to the residual is serialised; when
// exposures run in parallel the residual ordering follows completion
// order, which callers enabling persistence accept.
type PersistenceEffect struct {
	meta

	// ChargeFrac is the fraction of each exposure's counts trapped into
	// the residual; Decay is the per-exposure multiplicative decay of the
	// existing residual.
	ChargeFrac float64
	Decay      float64

	mu       sync.Mutex
	residual *Image
}

func NewPersistenceEffect(name string, status Status, chargeFrac, decay float64) (*PersistenceEffect, error) {
	if chargeFrac < 0 || chargeFrac >= 1 || decay < 0 || decay >= 1 {
		return nil, &ConsistencyError{
			Subject: fmt.Sprintf("effect %q", name),
			Reason:  fmt.Sprintf("charge fraction %g and decay %g must lie in [0, 1)", chargeFrac, decay),
		}
	}
	return &PersistenceEffect{meta: meta{name, CategoryDET, status}, ChargeFrac: chargeFrac, Decay: decay}, nil
}

func (e *PersistenceEffect) Apply(ctx context.Context, sc *Scene) error {
	if sc.Counts == nil {
		return &ConsistencyError{Subject: fmt.Sprintf("effect %q", e.name), Reason: "persistence requires a detector read-out before it"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.residual != nil && len(e.residual.Pix) == len(sc.Counts.Pix) {
		for i, r := range e.residual.Pix {
			sc.Counts.Pix[i] += r
		}
	}
	next := sc.Counts.Clone()
	next.Scale(e.ChargeFrac)
	if e.residual != nil && len(e.residual.Pix) == len(next.Pix) {
		for i := range next.Pix {
			next.Pix[i] += e.residual.Pix[i] * e.Decay
		}
	}
	e.residual = next
	return nil
}

// Reset clears the trapped residual, e.g. between observing blocks.
func (e *PersistenceEffect) Reset() {
	e.mu.Lock()
	e.residual = nil
	e.mu.Unlock()
}
