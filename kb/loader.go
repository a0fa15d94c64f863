package kb

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/signalsfoundry/telescope-simulator/core"
	"github.com/signalsfoundry/telescope-simulator/model"
)

// manifest is the top-level calibration.json shape. Curves load first so
// surface lists and detectors can resolve their curve references.
type manifest struct {
	Curves       []curveEntry    `json:"curves"`
	SurfaceLists []fileEntry     `json:"surface_lists"`
	PSFs         []fileEntry     `json:"psfs"`
	Detectors    []detectorEntry `json:"detectors"`
}

type curveEntry struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // transmission | reflectivity | qe | emission | linearity
	File string `json:"file"`
}

type fileEntry struct {
	Name string `json:"name"`
	File string `json:"file"`
}

type detectorEntry struct {
	Name string `json:"name"`
	File string `json:"file"`
}

type psfJSON struct {
	FieldConstant *struct {
		Kernel [][]float64 `json:"kernel"`
	} `json:"field_constant,omitempty"`
	FieldVarying *struct {
		GridWidth  int           `json:"grid_width"`
		GridHeight int           `json:"grid_height"`
		Kernels    [][][]float64 `json:"kernels"`
	} `json:"field_varying,omitempty"`
}

// LoadDir reads a calibration directory into a fresh knowledge base. The
// directory must contain a calibration.json manifest; every referenced
// table file resolves relative to the directory. Missing or malformed
// data fails the load: the optical train deliberately never sees a
// partially loaded calibration set.
func LoadDir(dir string) (*KnowledgeBase, error) {
	f, err := os.Open(filepath.Join(dir, "calibration.json"))
	if err != nil {
		return nil, fmt.Errorf("kb: open manifest: %w", err)
	}
	defer f.Close()

	var m manifest
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("kb: decode manifest: %w", err)
	}

	store := NewKnowledgeBase()

	for _, ce := range m.Curves {
		kind, err := parseCurveKind(ce.Kind)
		if err != nil {
			return nil, fmt.Errorf("kb: curve %q: %w", ce.Name, err)
		}
		curve, err := loadCurveFile(filepath.Join(dir, ce.File), ce.Name, kind)
		if err != nil {
			return nil, err
		}
		if err := store.AddCurve(curve); err != nil {
			return nil, fmt.Errorf("kb: %w", err)
		}
	}

	for _, se := range m.SurfaceLists {
		list, err := loadSurfaceListFile(filepath.Join(dir, se.File), se.Name, store)
		if err != nil {
			return nil, err
		}
		if err := store.AddSurfaceList(list); err != nil {
			return nil, fmt.Errorf("kb: %w", err)
		}
	}

	for _, pe := range m.PSFs {
		psf, err := loadPSFFile(filepath.Join(dir, pe.File), pe.Name)
		if err != nil {
			return nil, err
		}
		if err := store.AddPSF(pe.Name, psf); err != nil {
			return nil, fmt.Errorf("kb: %w", err)
		}
	}

	for _, de := range m.Detectors {
		det, err := loadDetectorFile(filepath.Join(dir, de.File), de.Name, store)
		if err != nil {
			return nil, err
		}
		if err := store.AddDetector(det); err != nil {
			return nil, fmt.Errorf("kb: %w", err)
		}
	}

	return store, nil
}

func parseCurveKind(s string) (core.CurveKind, error) {
	switch s {
	case "transmission", "":
		return core.KindTransmission, nil
	case "reflectivity":
		return core.KindReflectivity, nil
	case "qe":
		return core.KindQE, nil
	case "emission":
		return core.KindEmission, nil
	case "linearity":
		return core.KindLinearity, nil
	}
	return 0, fmt.Errorf("unknown curve kind %q", s)
}

func loadCurveFile(path, name string, kind core.CurveKind) (*core.Curve, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("kb: curve %q: %w", name, err)
	}
	defer f.Close()
	return ReadCurve(f, name, kind)
}

// ReadCurve parses a two-column curve table from r.
func ReadCurve(r io.Reader, name string, kind core.CurveKind) (*core.Curve, error) {
	wl, vals, err := core.ParseCurveTable(r)
	if err != nil {
		return nil, fmt.Errorf("kb: curve %q: %w", name, err)
	}
	return core.NewCurve(name, kind, wl, vals)
}

func loadSurfaceListFile(path, name string, store *KnowledgeBase) (*core.SurfaceList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("kb: surface list %q: %w", name, err)
	}
	defer f.Close()
	return ReadSurfaceList(f, name, filepath.Base(path), store)
}

// ReadSurfaceList parses a surface table from r and binds each row to its
// curve from the store. Row order is preserved exactly.
func ReadSurfaceList(r io.Reader, name, source string, store *KnowledgeBase) (*core.SurfaceList, error) {
	defs, err := core.ParseSurfaceTable(r, source)
	if err != nil {
		return nil, fmt.Errorf("kb: surface list %q: %w", name, err)
	}
	surfaces := make([]*core.Surface, 0, len(defs))
	for _, def := range defs {
		curve, err := store.Curve(def.CurveRef)
		if err != nil {
			return nil, fmt.Errorf("kb: surface list %q, surface %q: %w", name, def.Name, err)
		}
		s, err := core.NewSurface(def, curve)
		if err != nil {
			return nil, err
		}
		surfaces = append(surfaces, s)
	}
	return core.NewSurfaceList(name, surfaces)
}

func loadPSFFile(path, name string) (core.PSF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("kb: psf %q: %w", name, err)
	}
	defer f.Close()
	psf, err := ReadPSF(f)
	if err != nil {
		return nil, fmt.Errorf("kb: psf %q: %w", name, err)
	}
	return psf, nil
}

// ReadPSF parses a JSON kernel descriptor: either one field-constant
// kernel or a field-varying kernel grid.
func ReadPSF(r io.Reader) (core.PSF, error) {
	var pj psfJSON
	if err := json.NewDecoder(r).Decode(&pj); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	switch {
	case pj.FieldConstant != nil:
		k, err := core.NewKernel(pj.FieldConstant.Kernel)
		if err != nil {
			return nil, err
		}
		return core.NewFieldConstantPSF(k)
	case pj.FieldVarying != nil:
		fv := pj.FieldVarying
		kernels := make([]*core.Kernel, 0, len(fv.Kernels))
		for _, rows := range fv.Kernels {
			k, err := core.NewKernel(rows)
			if err != nil {
				return nil, err
			}
			kernels = append(kernels, k)
		}
		return core.NewFieldVaryingPSF(fv.GridWidth, fv.GridHeight, kernels)
	}
	return nil, fmt.Errorf("descriptor declares neither field_constant nor field_varying")
}

func loadDetectorFile(path, name string, store *KnowledgeBase) (*core.Detector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("kb: detector %q: %w", name, err)
	}
	defer f.Close()
	return ReadDetector(f, name, store)
}

// ReadDetector parses a JSON detector definition and binds its QE and
// linearity curves from the store.
func ReadDetector(r io.Reader, name string, store *KnowledgeBase) (*core.Detector, error) {
	var def model.DetectorDefinition
	if err := json.NewDecoder(r).Decode(&def); err != nil {
		return nil, fmt.Errorf("kb: detector %q: decode: %w", name, err)
	}
	if def.Name == "" {
		def.Name = name
	}
	var qe, lin *core.Curve
	var err error
	if def.QECurveRef != "" {
		qe, err = store.Curve(def.QECurveRef)
		if err != nil {
			return nil, fmt.Errorf("kb: detector %q: %w", name, err)
		}
	}
	if def.LinearityCurveRef != "" {
		lin, err = store.Curve(def.LinearityCurveRef)
		if err != nil {
			return nil, fmt.Errorf("kb: detector %q: %w", name, err)
		}
	}
	return core.NewDetector(def, qe, lin)
}
