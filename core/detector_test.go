package core

import (
	"errors"
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/telescope-simulator/model"
)

func testScene(t *testing.T, fluxDensity float64, w, h int) *Scene {
	t.Helper()
	sc, err := FlatScene([]float64{1.0, 1.5, 2.0}, fluxDensity, w, h)
	if err != nil {
		t.Fatalf("FlatScene: %v", err)
	}
	return sc
}

func testDetector(t *testing.T, def model.DetectorDefinition, qe, lin *Curve) *Detector {
	t.Helper()
	d, err := NewDetector(def, qe, lin)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

func TestReadOutZeroInputZeroNoiseIsAllZero(t *testing.T) {
	d := testDetector(t, model.DetectorDefinition{
		Name: "chip", Width: 8, Height: 8,
		DarkCurrent: 0, ReadNoise: 5,
	}, nil, nil)

	sc := testScene(t, 0, 8, 8)
	obs := model.ObservationParams{DIT: 10, NDIT: 4}

	out, clamped, err := d.ReadOut(sc, obs, ReadoutStages{}, nil)
	if err != nil {
		t.Fatalf("ReadOut: %v", err)
	}
	if clamped != 0 {
		t.Errorf("clamped = %d, want 0", clamped)
	}
	for i, v := range out.Pix {
		if v != 0 {
			t.Fatalf("pixel %d = %g, want 0", i, v)
		}
	}
}

func TestReadOutSignalScalesWithDitNdit(t *testing.T) {
	d := testDetector(t, model.DetectorDefinition{Name: "chip", Width: 4, Height: 4}, nil, nil)
	sc := testScene(t, 100, 4, 4)

	base, _, err := d.ReadOut(sc, model.ObservationParams{DIT: 1, NDIT: 1}, NoiselessReadout(), nil)
	if err != nil {
		t.Fatalf("ReadOut: %v", err)
	}
	double, _, err := d.ReadOut(sc, model.ObservationParams{DIT: 2, NDIT: 1}, NoiselessReadout(), nil)
	if err != nil {
		t.Fatalf("ReadOut: %v", err)
	}
	quad, _, err := d.ReadOut(sc, model.ObservationParams{DIT: 2, NDIT: 2}, NoiselessReadout(), nil)
	if err != nil {
		t.Fatalf("ReadOut: %v", err)
	}

	for i := range base.Pix {
		if math.Abs(double.Pix[i]-2*base.Pix[i]) > 1e-9 {
			t.Errorf("dit scaling broken at %d: %g vs 2x%g", i, double.Pix[i], base.Pix[i])
		}
		if math.Abs(quad.Pix[i]-4*base.Pix[i]) > 1e-9 {
			t.Errorf("dit*ndit scaling broken at %d: %g vs 4x%g", i, quad.Pix[i], base.Pix[i])
		}
	}
}

func TestReadOutDarkCurrent(t *testing.T) {
	d := testDetector(t, model.DetectorDefinition{
		Name: "chip", Width: 4, Height: 4, DarkCurrent: 0.5,
	}, nil, nil)
	sc := testScene(t, 0, 4, 4)

	out, _, err := d.ReadOut(sc, model.ObservationParams{DIT: 10, NDIT: 3}, NoiselessReadout(), nil)
	if err != nil {
		t.Fatalf("ReadOut: %v", err)
	}
	for i, v := range out.Pix {
		if math.Abs(v-15) > 1e-12 {
			t.Errorf("pixel %d = %g, want dark 0.5*10*3 = 15", i, v)
		}
	}
}

func TestReadOutQEStage(t *testing.T) {
	qe := mustCurve(t, "qe", KindQE, []float64{1.0, 2.0}, []float64{0.5, 0.5})
	d := testDetector(t, model.DetectorDefinition{Name: "chip", Width: 2, Height: 2}, qe, nil)
	sc := testScene(t, 100, 2, 2)
	obs := model.ObservationParams{DIT: 1, NDIT: 1}

	with, _, err := d.ReadOut(sc, obs, ReadoutStages{QE: true}, nil)
	if err != nil {
		t.Fatalf("ReadOut: %v", err)
	}
	without, _, err := d.ReadOut(sc, obs, ReadoutStages{}, nil)
	if err != nil {
		t.Fatalf("ReadOut: %v", err)
	}
	for i := range with.Pix {
		if math.Abs(with.Pix[i]-0.5*without.Pix[i]) > 1e-9 {
			t.Errorf("QE stage at %d: %g, want half of %g", i, with.Pix[i], without.Pix[i])
		}
	}
}

func TestReadOutShotNoiseVarianceTracksMean(t *testing.T) {
	d := testDetector(t, model.DetectorDefinition{Name: "chip", Width: 100, Height: 100}, nil, nil)

	// Uniform scene: each pixel accumulates the same mean signal.
	sc := testScene(t, 1, 100, 100)
	for i := range sc.Image.Pix {
		sc.Image.Pix[i] = 1 // mean = IntegrateFlux * dit = 100 e-
	}
	obs := model.ObservationParams{DIT: 100, NDIT: 1}

	out, _, err := d.ReadOut(sc, obs, ReadoutStages{ShotNoise: true}, rand.NewSource(42))
	if err != nil {
		t.Fatalf("ReadOut: %v", err)
	}

	mean, variance := stat.MeanVariance(out.Pix, nil)
	if math.Abs(mean-100) > 3 {
		t.Fatalf("sample mean %g far from expected 100", mean)
	}
	// Poisson: variance equals the mean. 10k pixels gives a few-percent
	// standard error on the sample variance.
	if ratio := variance / mean; ratio < 0.9 || ratio > 1.1 {
		t.Errorf("variance/mean = %g, want ~1 for shot noise", ratio)
	}
}

func TestReadOutShotNoiseDeterministicPerSeed(t *testing.T) {
	d := testDetector(t, model.DetectorDefinition{Name: "chip", Width: 8, Height: 8}, nil, nil)
	sc := testScene(t, 10, 8, 8)
	obs := model.ObservationParams{DIT: 5, NDIT: 2}

	a, _, err := d.ReadOut(sc, obs, ReadoutStages{ShotNoise: true, ReadNoise: true}, rand.NewSource(7))
	if err != nil {
		t.Fatalf("ReadOut: %v", err)
	}
	// ReadNoise stage is inert with sigma 0, but exercise the toggles.
	b, _, err := d.ReadOut(sc, obs, ReadoutStages{ShotNoise: true, ReadNoise: true}, rand.NewSource(7))
	if err != nil {
		t.Fatalf("ReadOut: %v", err)
	}
	for i := range a.Pix {
		if a.Pix[i] != b.Pix[i] {
			t.Fatalf("same seed diverged at pixel %d: %g vs %g", i, a.Pix[i], b.Pix[i])
		}
	}
}

func TestReadOutReadNoiseClampsNegatives(t *testing.T) {
	d := testDetector(t, model.DetectorDefinition{
		Name: "chip", Width: 50, Height: 50, ReadNoise: 10,
	}, nil, nil)
	sc := testScene(t, 0, 50, 50)
	obs := model.ObservationParams{DIT: 1, NDIT: 1}

	out, clamped, err := d.ReadOut(sc, obs, ReadoutStages{ReadNoise: true}, rand.NewSource(3))
	if err != nil {
		t.Fatalf("ReadOut: %v", err)
	}
	// Zero signal plus zero-mean noise: about half the pixels go
	// negative and must come back clamped.
	if clamped == 0 {
		t.Error("no pixels clamped; expected roughly half")
	}
	for i, v := range out.Pix {
		if v < 0 {
			t.Fatalf("pixel %d negative after clamp: %g", i, v)
		}
	}
}

func TestReadOutReadNoiseSigmaGrowsWithNdit(t *testing.T) {
	d := testDetector(t, model.DetectorDefinition{
		Name: "chip", Width: 120, Height: 120, ReadNoise: 5,
	}, nil, nil)
	// Large uniform signal keeps the noise clear of the zero clamp.
	sc := testScene(t, 1, 120, 120)
	for i := range sc.Image.Pix {
		sc.Image.Pix[i] = 1
	}

	one, _, err := d.ReadOut(sc, model.ObservationParams{DIT: 1000, NDIT: 1},
		ReadoutStages{ReadNoise: true}, rand.NewSource(11))
	if err != nil {
		t.Fatalf("ReadOut: %v", err)
	}
	// NDIT 4 accumulates 4 independent readouts: sigma doubles. Divide
	// out the 4x signal by comparing standard deviations directly.
	four, _, err := d.ReadOut(sc, model.ObservationParams{DIT: 1000, NDIT: 4},
		ReadoutStages{ReadNoise: true}, rand.NewSource(11))
	if err != nil {
		t.Fatalf("ReadOut: %v", err)
	}

	sd1 := stat.StdDev(one.Pix, nil)
	sd4 := stat.StdDev(four.Pix, nil)
	if ratio := sd4 / sd1; ratio < 1.7 || ratio > 2.3 {
		t.Errorf("stddev ratio ndit=4/ndit=1 = %g, want ~2", ratio)
	}
}

func TestReadOutLinearityRemap(t *testing.T) {
	// A compressive response: 0 → 0, 1000 e- → 800 counts.
	lin := mustCurve(t, "lin", KindLinearity,
		[]float64{0, 500, 1000}, []float64{0, 450, 800})
	d := testDetector(t, model.DetectorDefinition{Name: "chip", Width: 2, Height: 2}, nil, lin)

	sc := testScene(t, 10, 2, 2) // IntegrateFlux = 10 over 1 µm grid span
	obs := model.ObservationParams{DIT: 100, NDIT: 1}

	out, _, err := d.ReadOut(sc, obs, ReadoutStages{Linearity: true}, nil)
	if err != nil {
		t.Fatalf("ReadOut: %v", err)
	}
	// Each pixel holds a quarter share: 10*1*100/4 = 250 e- → remap.
	want, err := lin.ValueAt(250)
	if err != nil {
		t.Fatalf("lin.ValueAt: %v", err)
	}
	for i, v := range out.Pix {
		if math.Abs(v-want) > 1e-9 {
			t.Errorf("pixel %d = %g, want %g", i, v, want)
		}
	}
}

func TestReadOutDisabledStagesAreIdentity(t *testing.T) {
	qe := mustCurve(t, "qe2", KindQE, []float64{1.0, 2.0}, []float64{0.5, 0.5})
	lin := mustCurve(t, "lin2", KindLinearity, []float64{0, 1e6}, []float64{0, 5e5})
	d := testDetector(t, model.DetectorDefinition{
		Name: "chip", Width: 4, Height: 4, DarkCurrent: 1, ReadNoise: 3,
	}, qe, lin)
	sc := testScene(t, 100, 4, 4)
	obs := model.ObservationParams{DIT: 2, NDIT: 1}

	out, clamped, err := d.ReadOut(sc, obs, ReadoutStages{}, nil)
	if err != nil {
		t.Fatalf("ReadOut: %v", err)
	}
	if clamped != 0 {
		t.Errorf("clamped = %d, want 0", clamped)
	}
	// All stages off: pure integration of the unweighted flux.
	want := sc.IntegrateFlux(nil) * 2 / 16
	for i, v := range out.Pix {
		if math.Abs(v-want) > 1e-9 {
			t.Errorf("pixel %d = %g, want bare integration %g", i, v, want)
		}
	}
}

func TestReadOutParameterValidation(t *testing.T) {
	d := testDetector(t, model.DetectorDefinition{Name: "chip", Width: 2, Height: 2}, nil, nil)
	sc := testScene(t, 1, 2, 2)

	_, _, err := d.ReadOut(sc, model.ObservationParams{DIT: 0, NDIT: 1}, ReadoutStages{}, nil)
	if err == nil || !errors.Is(err, ErrConfiguration) {
		t.Errorf("zero dit: got %v, want ConfigurationError", err)
	}

	_, _, err = d.ReadOut(sc, model.ObservationParams{DIT: 1, NDIT: 1}, ReadoutStages{ShotNoise: true}, nil)
	if err == nil || !errors.Is(err, ErrConfiguration) {
		t.Errorf("noise without source: got %v, want ConfigurationError", err)
	}
}

func TestReadOutRejectsMismatchedSceneGrid(t *testing.T) {
	// A scene wider than the pixel grid would otherwise lose the flux
	// falling outside the detector without any trace.
	d := testDetector(t, model.DetectorDefinition{Name: "chip", Width: 4, Height: 4}, nil, nil)
	sc := testScene(t, 100, 8, 8)

	_, _, err := d.ReadOut(sc, model.ObservationParams{DIT: 1, NDIT: 1}, ReadoutStages{}, nil)
	if err == nil {
		t.Fatal("8x8 scene read out on a 4x4 grid")
	}
	if !errors.Is(err, ErrConsistency) {
		t.Errorf("got %v, want ConsistencyError", err)
	}
}

func TestNewDetectorValidation(t *testing.T) {
	if _, err := NewDetector(model.DetectorDefinition{Name: "bad", Width: 0, Height: 4}, nil, nil); err == nil {
		t.Error("zero-width detector accepted")
	}
	nonMono := mustCurve(t, "nm", KindLinearity, []float64{0, 1, 2}, []float64{0, 5, 3})
	if _, err := NewDetector(model.DetectorDefinition{Name: "bad", Width: 2, Height: 2}, nil, nonMono); err == nil {
		t.Error("non-monotone linearity curve accepted")
	}
}
