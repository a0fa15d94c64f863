package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/exp/rand"

	"github.com/signalsfoundry/telescope-simulator/internal/logging"
	"github.com/signalsfoundry/telescope-simulator/model"
)

// CalibrationProvider resolves named calibration tables into model
// instances. Implementations must be read-only after load so one provider
// can be shared across parallel exposure computations; the kb package
// supplies the standard implementation.
type CalibrationProvider interface {
	Curve(name string) (*Curve, error)
	SurfaceList(name string) (*SurfaceList, error)
	PSF(name string) (PSF, error)
	Detector(name string) (*Detector, error)
}

// EffectSpec declares one effect of a train: its identity, lifecycle
// status and the calibration references and parameters its kind needs.
type EffectSpec struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Kind     string `json:"kind"`
	Status   string `json:"status,omitempty"`

	// ter_curve / filter
	Curve         string `json:"curve,omitempty"`
	Emission      string `json:"emission,omitempty"`
	AirmassScaled bool   `json:"airmass_scaled,omitempty"`

	// surface_list
	SurfaceList string `json:"surface_list,omitempty"`

	// psf / ncpa
	PSF string `json:"psf,omitempty"`

	// detector
	Detector string         `json:"detector,omitempty"`
	Stages   *ReadoutStages `json:"stages,omitempty"`

	// aperture_mask
	Shape          string  `json:"shape,omitempty"` // "round" or "rect"
	ApertureRadius float64 `json:"aperture_radius,omitempty"`
	ApertureWidth  int     `json:"aperture_width,omitempty"`
	ApertureHeight int     `json:"aperture_height,omitempty"`
	ConserveImage  *bool   `json:"conserve_image,omitempty"`

	// shift / adc
	ShiftX             float64 `json:"shift_x,omitempty"`
	ShiftY             float64 `json:"shift_y,omitempty"`
	ResidualPerAirmass float64 `json:"residual_per_airmass,omitempty"`

	// persistence
	ChargeFrac float64 `json:"charge_frac,omitempty"`
	Decay      float64 `json:"decay,omitempty"`
}

// TrainSpec declares a full optical train: the field geometry, the filter
// wheel and the ordered effect list. Within a category, effects execute
// in the order declared here.
type TrainSpec struct {
	Name string `json:"name"`

	// FieldWidth/FieldHeight is the field-of-view pixel grid masks are
	// built for.
	FieldWidth  int `json:"field_width"`
	FieldHeight int `json:"field_height"`

	// Filters maps filter names to curve references; the observation's
	// filter keyword selects one for every effect of kind "filter".
	Filters map[string]string `json:"filters,omitempty"`

	Effects []EffectSpec `json:"effects"`
}

// TrainState is the assembly lifecycle of an optical train.
type TrainState int

const (
	StateUnbuilt TrainState = iota
	StateBuilt
	StateStale
)

func (s TrainState) String() string {
	switch s {
	case StateUnbuilt:
		return "unbuilt"
	case StateBuilt:
		return "built"
	case StateStale:
		return "stale"
	}
	return fmt.Sprintf("TrainState(%d)", int(s))
}

// ExposureMeta is the minimal metadata attached to a read-out.
type ExposureMeta struct {
	DIT           float64
	NDIT          int
	Filter        string
	Seed          uint64
	ClampedPixels int
	Elapsed       time.Duration
}

// Exposure is one detector-plane output array plus its metadata, ready
// for an external serialisation collaborator.
type Exposure struct {
	Counts *Image
	Meta   ExposureMeta
}

// OpticalTrain assembles and executes an ordered sequence of effects.
//
// Lifecycle: Unbuilt → Built via Build, which resolves every calibration
// reference and validates every physical invariant; any failure there is
// a build-time error and no exposure is ever computed from a partially
// built train. Any configuration change marks the train Stale; a stale
// train refuses to execute until rebuilt. The built effect sequence is
// immutable and replayed for every exposure.
type OpticalTrain struct {
	spec     TrainSpec
	provider CalibrationProvider
	log      logging.Logger

	mu      sync.RWMutex
	state   TrainState
	obs     model.ObservationParams
	effects []Effect
}

// NewOpticalTrain creates an unbuilt train. log may be nil.
func NewOpticalTrain(spec TrainSpec, obs model.ObservationParams, provider CalibrationProvider, log logging.Logger) *OpticalTrain {
	if log == nil {
		log = logging.Noop()
	}
	return &OpticalTrain{spec: spec, provider: provider, log: log, obs: obs, state: StateUnbuilt}
}

// State returns the current lifecycle state.
func (t *OpticalTrain) State() TrainState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Observation returns the configuration record the train was built for.
func (t *OpticalTrain) Observation() model.ObservationParams {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.obs
}

// Effects returns the built effect sequence in execution order.
func (t *OpticalTrain) Effects() []Effect {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Effect(nil), t.effects...)
}

// MarkStale invalidates the built state. Any configuration change must go
// through here (or SetObservation); executing a stale train fails rather
// than silently replaying the old effect sequence.
func (t *OpticalTrain) MarkStale() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateBuilt {
		t.state = StateStale
	}
}

// SetObservation installs a new configuration record and marks the train
// stale.
func (t *OpticalTrain) SetObservation(obs model.ObservationParams) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.obs = obs
	if t.state == StateBuilt {
		t.state = StateStale
	}
}

// Build resolves all declared effects against the calibration provider
// and assembles the execution sequence. Deprecated and planned effects
// are skipped entirely. Effects execute in category order
// ATMO → TEL → RO → INST → INST_MODE → DET and in declared order within a
// category; the sort is stable so declaration order is never lost.
func (t *OpticalTrain) Build(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.spec.FieldWidth <= 0 || t.spec.FieldHeight <= 0 {
		return &ConfigurationError{
			Effect: t.spec.Name, Category: CategoryATMO,
			Reason: fmt.Sprintf("invalid field geometry %dx%d", t.spec.FieldWidth, t.spec.FieldHeight),
		}
	}

	built := make([]Effect, 0, len(t.spec.Effects))
	for _, es := range t.spec.Effects {
		status, err := ParseStatus(es.Status)
		if err != nil {
			return &ConfigurationError{Effect: es.Name, Category: CategoryATMO, Reason: err.Error()}
		}
		if status != StatusActive {
			t.log.Debug(ctx, "skipping inactive effect",
				logging.String("effect", es.Name),
				logging.String("status", status.String()))
			continue
		}
		eff, err := t.buildEffect(es)
		if err != nil {
			return err
		}
		built = append(built, eff)
	}

	sort.SliceStable(built, func(i, j int) bool {
		return built[i].Category() < built[j].Category()
	})

	t.effects = built
	t.state = StateBuilt
	t.log.Info(ctx, "optical train built",
		logging.String("train", t.spec.Name),
		logging.Int("effects", len(built)))
	return nil
}

func (t *OpticalTrain) buildEffect(es EffectSpec) (Effect, error) {
	cat, err := ParseCategory(es.Category)
	if err != nil {
		return nil, &ConfigurationError{Effect: es.Name, Category: CategoryATMO, Reason: err.Error()}
	}
	status := StatusActive

	fail := func(reason string, wrapped error) error {
		return &ConfigurationError{Effect: es.Name, Category: cat, Reason: reason, Wrapped: wrapped}
	}

	switch es.Kind {
	case "ter_curve":
		curve, err := t.resolveCurve(es.Curve, cat, es.Name)
		if err != nil {
			return nil, err
		}
		if es.AirmassScaled && t.obs.Airmass > 0 {
			curve, err = curve.PowScale(t.obs.Airmass)
			if err != nil {
				return nil, fail("airmass scaling failed", err)
			}
		}
		var emission *Curve
		if es.Emission != "" {
			emission, err = t.resolveCurve(es.Emission, cat, es.Name)
			if err != nil {
				return nil, err
			}
		}
		return NewCurveEffect(es.Name, cat, status, curve, emission)

	case "filter":
		if t.obs.Filter == "" {
			return nil, fail("observation declares no filter for a filter effect", nil)
		}
		ref, ok := t.spec.Filters[t.obs.Filter]
		if !ok {
			return nil, fail(fmt.Sprintf("filter %q not in the train's filter set", t.obs.Filter), nil)
		}
		curve, err := t.resolveCurve(ref, cat, es.Name)
		if err != nil {
			return nil, err
		}
		return NewCurveEffect(es.Name, cat, status, curve, nil)

	case "surface_list":
		list, err := t.provider.SurfaceList(es.SurfaceList)
		if err != nil {
			return nil, fail(fmt.Sprintf("surface list %q", es.SurfaceList), err)
		}
		if t.obs.StrictBounds {
			list = list.withStrictCurves()
		}
		return NewSurfaceListEffect(es.Name, cat, status, list)

	case "psf":
		psf, err := t.provider.PSF(es.PSF)
		if err != nil {
			return nil, fail(fmt.Sprintf("psf %q", es.PSF), err)
		}
		return NewPSFEffect(es.Name, cat, status, psf)

	case "ncpa":
		psf, err := t.provider.PSF(es.PSF)
		if err != nil {
			return nil, fail(fmt.Sprintf("psf %q", es.PSF), err)
		}
		pe, err := NewPSFEffect(es.Name+"_blur", cat, status, psf)
		if err != nil {
			return nil, err
		}
		return NewCompositeEffect(es.Name, cat, status, []Effect{pe})

	case "adc":
		var throughput *Curve
		if es.Curve != "" {
			throughput, err = t.resolveCurve(es.Curve, cat, es.Name)
			if err != nil {
				return nil, err
			}
		}
		return NewADCEffect(es.Name, status, throughput, t.obs.Airmass, es.ResidualPerAirmass, t.obs.PupilAngleDeg)

	case "aperture_mask":
		mask, err := buildMask(es, t.spec.FieldWidth, t.spec.FieldHeight)
		if err != nil {
			return nil, fail("aperture mask", err)
		}
		conserve := true
		if es.ConserveImage != nil {
			conserve = *es.ConserveImage
		}
		return NewApertureMaskEffect(es.Name, cat, status, mask, conserve)

	case "shift":
		return NewImageShiftEffect(es.Name, cat, status, es.ShiftX, es.ShiftY), nil

	case "detector":
		det, err := t.provider.Detector(es.Detector)
		if err != nil {
			return nil, fail(fmt.Sprintf("detector %q", es.Detector), err)
		}
		if det.Def.Width != t.spec.FieldWidth || det.Def.Height != t.spec.FieldHeight {
			return nil, fail(fmt.Sprintf("detector %q grid %dx%d does not match field %dx%d",
				es.Detector, det.Def.Width, det.Def.Height, t.spec.FieldWidth, t.spec.FieldHeight), nil)
		}
		stages := AllReadoutStages()
		if es.Stages != nil {
			stages = *es.Stages
		}
		if t.obs.StrictBounds {
			det = det.withStrictCurves()
		}
		return NewDetectorEffect(es.Name, status, det, stages, t.obs)

	case "persistence":
		return NewPersistenceEffect(es.Name, status, es.ChargeFrac, es.Decay)
	}
	return nil, fail(fmt.Sprintf("unknown effect kind %q", es.Kind), nil)
}

// resolveCurve fetches a curve and applies the observation's boundary
// policy.
func (t *OpticalTrain) resolveCurve(ref string, cat Category, effect string) (*Curve, error) {
	if ref == "" {
		return nil, &ConfigurationError{Effect: effect, Category: cat, Reason: "missing curve reference"}
	}
	curve, err := t.provider.Curve(ref)
	if err != nil {
		return nil, &ConfigurationError{Effect: effect, Category: cat, Reason: fmt.Sprintf("curve %q", ref), Wrapped: err}
	}
	if t.obs.StrictBounds {
		curve = curve.WithBoundary(BoundStrict)
	}
	return curve, nil
}

func buildMask(es EffectSpec, width, height int) (*Image, error) {
	mask := NewImage(width, height)
	cx, cy := float64(width-1)/2, float64(height-1)/2
	switch es.Shape {
	case "round":
		if es.ApertureRadius <= 0 {
			return nil, fmt.Errorf("round mask needs a positive aperture_radius")
		}
		r2 := es.ApertureRadius * es.ApertureRadius
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				dx, dy := float64(x)-cx, float64(y)-cy
				if dx*dx+dy*dy <= r2 {
					mask.Set(x, y, 1)
				}
			}
		}
	case "rect", "":
		w, h := es.ApertureWidth, es.ApertureHeight
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("rect mask needs positive aperture_width and aperture_height")
		}
		x0 := (width - w) / 2
		y0 := (height - h) / 2
		for y := y0; y < y0+h && y < height; y++ {
			for x := x0; x < x0+w && x < width; x++ {
				if x >= 0 && y >= 0 {
					mask.Set(x, y, 1)
				}
			}
		}
	default:
		return nil, fmt.Errorf("unknown mask shape %q", es.Shape)
	}
	return mask, nil
}

// Execute runs one exposure through the built train. It is a pure
// function of (scene, train): the input scene is cloned, every effect
// draws randomness only from the per-exposure source seeded here, and no
// effect retains state across calls (detector persistence excepted, as
// documented on PersistenceEffect). Uses the observation's noise seed;
// ExecuteSeeded computes batch exposures with distinct seeds.
func (t *OpticalTrain) Execute(ctx context.Context, sc *Scene) (*Exposure, error) {
	return t.ExecuteSeeded(ctx, sc, t.Observation().NoiseSeed)
}

// ExecuteSeeded is Execute with an explicit noise seed.
func (t *OpticalTrain) ExecuteSeeded(ctx context.Context, sc *Scene, seed uint64) (*Exposure, error) {
	t.mu.RLock()
	state := t.state
	effects := t.effects
	obs := t.obs
	t.mu.RUnlock()

	switch state {
	case StateUnbuilt:
		return nil, &ConfigurationError{Effect: t.spec.Name, Category: CategoryATMO, Reason: "execute before build", Wrapped: ErrTrainNotBuilt}
	case StateStale:
		return nil, &ConfigurationError{Effect: t.spec.Name, Category: CategoryATMO, Reason: "configuration changed since build; rebuild required", Wrapped: ErrTrainStale}
	}

	if cw := obs.CentralWavelengthUm; cw > 0 {
		lo, hi := sc.Wavelengths[0], sc.Wavelengths[len(sc.Wavelengths)-1]
		if cw < lo || cw > hi {
			return nil, &ConfigurationError{
				Effect: t.spec.Name, Category: CategoryATMO,
				Reason: fmt.Sprintf("central wavelength %g µm outside scene coverage [%g, %g]", cw, lo, hi),
			}
		}
	}

	start := time.Now()
	work := sc.Clone()
	work.Rand = rand.NewSource(seed)

	for _, eff := range effects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := eff.Apply(ctx, work); err != nil {
			return nil, fmt.Errorf("effect %q (%s): %w", eff.Name(), eff.Category(), err)
		}
	}

	counts := work.Counts
	if counts == nil {
		// No detector effect in the train: report the ideal photon image,
		// every photon collected over the integration time.
		counts = work.Image.Clone()
		counts.Scale(work.IntegrateFlux(nil) * obs.TotalIntegrationTime())
	}

	return &Exposure{
		Counts: counts,
		Meta: ExposureMeta{
			DIT:           obs.DIT,
			NDIT:          obs.NDIT,
			Filter:        obs.Filter,
			Seed:          seed,
			ClampedPixels: work.ClampedPixels,
			Elapsed:       time.Since(start),
		},
	}, nil
}
