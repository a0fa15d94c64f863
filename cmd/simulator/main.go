package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/signalsfoundry/telescope-simulator/core"
	"github.com/signalsfoundry/telescope-simulator/exposure"
	"github.com/signalsfoundry/telescope-simulator/internal/logging"
	"github.com/signalsfoundry/telescope-simulator/internal/observability"
	"github.com/signalsfoundry/telescope-simulator/kb"
	"github.com/signalsfoundry/telescope-simulator/model"
)

func main() {
	calibDir := flag.String("calib", "calibration", "calibration directory (must contain calibration.json)")
	trainFile := flag.String("train", "train.json", "optical train description file")
	outDir := flag.String("out", "out", "output directory for exposures")

	airmass := flag.Float64("airmass", 1.0, "observation airmass")
	pupilAngle := flag.Float64("pupil-angle", 0, "pupil angle in degrees")
	centralWl := flag.Float64("central-wavelength", 0, "reference wavelength in um; must lie within the scene's range")
	dit := flag.Float64("dit", 60, "detector integration time per exposure, seconds")
	ndit := flag.Int("ndit", 1, "number of integrations per exposure")
	filter := flag.String("filter", "", "active filter name")
	seed := flag.Uint64("seed", 1, "base noise seed; exposure i uses seed+i")
	strict := flag.Bool("strict-bounds", false, "fail on out-of-range wavelengths instead of clamping")

	exposures := flag.Int("exposures", 1, "number of exposures to compute")
	workers := flag.Int("workers", 1, "parallel exposure workers")

	sceneKind := flag.String("scene", "flat", "input scene: flat or point")
	sceneFlux := flag.Float64("scene-flux", 1000, "spectral flux density of the scene (ph/s/m2/um)")
	fieldW := flag.Int("field-width", 64, "scene field width in pixels")
	fieldH := flag.Int("field-height", 64, "scene field height in pixels")
	wmin := flag.Float64("wmin", 0.8, "minimum wavelength, um")
	wmax := flag.Float64("wmax", 2.5, "maximum wavelength, um")
	wbins := flag.Int("wbins", 128, "wavelength bins")

	metricsAddr := flag.String("metrics-addr", "", "optional address for a /metrics HTTP listener")

	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "tracing init failed", logging.String("error", err.Error()))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdown, log)

	collector, err := observability.NewPipelineCollector(nil)
	if err != nil {
		log.Error(ctx, "metrics init failed", logging.String("error", err.Error()))
		os.Exit(1)
	}
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", collector.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn(ctx, "metrics listener stopped", logging.String("error", err.Error()))
			}
		}()
	}

	obs := model.ObservationParams{
		Airmass:             *airmass,
		PupilAngleDeg:       *pupilAngle,
		CentralWavelengthUm: *centralWl,
		DIT:                 *dit,
		NDIT:                *ndit,
		Filter:              *filter,
		NoiseSeed:           *seed,
		StrictBounds:        *strict,
	}

	store, err := kb.LoadDir(*calibDir)
	if err != nil {
		log.Error(ctx, "calibration load failed", logging.String("error", err.Error()))
		os.Exit(1)
	}

	spec, err := loadTrainSpec(*trainFile)
	if err != nil {
		log.Error(ctx, "train description load failed", logging.String("error", err.Error()))
		os.Exit(1)
	}

	train := core.NewOpticalTrain(spec, obs, store, log)
	err = train.Build(ctx)
	collector.ObserveBuild(err)
	if err != nil {
		log.Error(ctx, "train build failed", logging.String("error", err.Error()))
		os.Exit(1)
	}
	collector.SetActiveEffects(effectsByCategory(train))

	scene, err := buildScene(*sceneKind, *sceneFlux, *fieldW, *fieldH, *wmin, *wmax, *wbins)
	if err != nil {
		log.Error(ctx, "scene setup failed", logging.String("error", err.Error()))
		os.Exit(1)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Error(ctx, "output directory", logging.String("error", err.Error()))
		os.Exit(1)
	}

	runner := exposure.NewRunner(train, scene, *workers, log, collector)
	exps, err := runner.Run(ctx, *exposures)
	if err != nil {
		log.Error(ctx, "exposure batch failed", logging.String("error", err.Error()))
		os.Exit(1)
	}

	for i, exp := range exps {
		if err := writeExposure(*outDir, i, exp); err != nil {
			log.Error(ctx, "write exposure", logging.Int("exposure", i), logging.String("error", err.Error()))
			os.Exit(1)
		}
	}

	log.Info(ctx, "simulation complete",
		logging.Int("exposures", len(exps)),
		logging.String("out", *outDir))
}

func loadTrainSpec(path string) (core.TrainSpec, error) {
	var spec core.TrainSpec
	f, err := os.Open(path)
	if err != nil {
		return spec, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&spec); err != nil {
		return spec, fmt.Errorf("decode %s: %w", path, err)
	}
	return spec, nil
}

func buildScene(kind string, flux float64, w, h int, wmin, wmax float64, bins int) (*core.Scene, error) {
	if bins < 2 || wmax <= wmin {
		return nil, fmt.Errorf("invalid wavelength grid [%g, %g] with %d bins", wmin, wmax, bins)
	}
	grid := make([]float64, bins)
	step := (wmax - wmin) / float64(bins-1)
	for i := range grid {
		grid[i] = wmin + float64(i)*step
	}
	switch kind {
	case "flat":
		return core.FlatScene(grid, flux, w, h)
	case "point":
		return core.PointSourceScene(grid, flux, w, h, w/2, h/2)
	}
	return nil, fmt.Errorf("unknown scene kind %q", kind)
}

func effectsByCategory(train *core.OpticalTrain) map[string]int {
	out := make(map[string]int)
	for _, eff := range train.Effects() {
		out[eff.Category().String()]++
	}
	return out
}

// writeExposure dumps the count array as little-endian float64 raw data
// with a JSON metadata sidecar. External serialisation collaborators
// (e.g. a FITS writer) consume these.
func writeExposure(dir string, index int, exp *core.Exposure) error {
	raw, err := os.Create(filepath.Join(dir, fmt.Sprintf("exposure_%03d.f64", index)))
	if err != nil {
		return err
	}
	defer raw.Close()
	if err := binary.Write(raw, binary.LittleEndian, exp.Counts.Pix); err != nil {
		return err
	}

	meta := struct {
		Width         int     `json:"width"`
		Height        int     `json:"height"`
		DIT           float64 `json:"dit"`
		NDIT          int     `json:"ndit"`
		Filter        string  `json:"filter,omitempty"`
		Seed          uint64  `json:"seed"`
		ClampedPixels int     `json:"clamped_pixels"`
	}{
		Width:         exp.Counts.Width,
		Height:        exp.Counts.Height,
		DIT:           exp.Meta.DIT,
		NDIT:          exp.Meta.NDIT,
		Filter:        exp.Meta.Filter,
		Seed:          exp.Meta.Seed,
		ClampedPixels: exp.Meta.ClampedPixels,
	}
	mf, err := os.Create(filepath.Join(dir, fmt.Sprintf("exposure_%03d.json", index)))
	if err != nil {
		return err
	}
	defer mf.Close()
	enc := json.NewEncoder(mf)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}
