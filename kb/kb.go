// Package kb holds the calibration knowledge base: the injected,
// read-only provider of named curves, surface lists, PSF kernels and
// detector definitions that optical-train assembly resolves against.
package kb

import (
	"fmt"
	"sync"

	"github.com/signalsfoundry/telescope-simulator/core"
)

// KnowledgeBase is an in-memory, thread-safe registry of calibration
// models. It is populated once (directly via the Add methods or through
// LoadDir) and then treated as read-only: train assembly resolves
// references through the core.CalibrationProvider methods, and one
// knowledge base may back any number of parallel exposure computations.
type KnowledgeBase struct {
	mu sync.RWMutex

	curves       map[string]*core.Curve
	surfaceLists map[string]*core.SurfaceList
	psfs         map[string]core.PSF
	detectors    map[string]*core.Detector
}

// NewKnowledgeBase constructs an empty knowledge base.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		curves:       make(map[string]*core.Curve),
		surfaceLists: make(map[string]*core.SurfaceList),
		psfs:         make(map[string]core.PSF),
		detectors:    make(map[string]*core.Detector),
	}
}

// AddCurve registers a curve. It returns an error if the name is taken.
func (kb *KnowledgeBase) AddCurve(c *core.Curve) error {
	if c == nil || c.Name() == "" {
		return fmt.Errorf("nil or unnamed curve")
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, exists := kb.curves[c.Name()]; exists {
		return fmt.Errorf("curve %q already exists", c.Name())
	}
	kb.curves[c.Name()] = c
	return nil
}

// AddSurfaceList registers a surface list.
func (kb *KnowledgeBase) AddSurfaceList(sl *core.SurfaceList) error {
	if sl == nil || sl.Name == "" {
		return fmt.Errorf("nil or unnamed surface list")
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, exists := kb.surfaceLists[sl.Name]; exists {
		return fmt.Errorf("surface list %q already exists", sl.Name)
	}
	kb.surfaceLists[sl.Name] = sl
	return nil
}

// AddPSF registers a PSF under a name.
func (kb *KnowledgeBase) AddPSF(name string, p core.PSF) error {
	if p == nil || name == "" {
		return fmt.Errorf("nil or unnamed psf")
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, exists := kb.psfs[name]; exists {
		return fmt.Errorf("psf %q already exists", name)
	}
	kb.psfs[name] = p
	return nil
}

// AddDetector registers a detector.
func (kb *KnowledgeBase) AddDetector(d *core.Detector) error {
	if d == nil || d.Def.Name == "" {
		return fmt.Errorf("nil or unnamed detector")
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, exists := kb.detectors[d.Def.Name]; exists {
		return fmt.Errorf("detector %q already exists", d.Def.Name)
	}
	kb.detectors[d.Def.Name] = d
	return nil
}

// Curve implements core.CalibrationProvider.
func (kb *KnowledgeBase) Curve(name string) (*core.Curve, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	c, ok := kb.curves[name]
	if !ok {
		return nil, fmt.Errorf("%w: curve %q", core.ErrNotFound, name)
	}
	return c, nil
}

// SurfaceList implements core.CalibrationProvider.
func (kb *KnowledgeBase) SurfaceList(name string) (*core.SurfaceList, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	sl, ok := kb.surfaceLists[name]
	if !ok {
		return nil, fmt.Errorf("%w: surface list %q", core.ErrNotFound, name)
	}
	return sl, nil
}

// PSF implements core.CalibrationProvider.
func (kb *KnowledgeBase) PSF(name string) (core.PSF, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	p, ok := kb.psfs[name]
	if !ok {
		return nil, fmt.Errorf("%w: psf %q", core.ErrNotFound, name)
	}
	return p, nil
}

// Detector implements core.CalibrationProvider.
func (kb *KnowledgeBase) Detector(name string) (*core.Detector, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	d, ok := kb.detectors[name]
	if !ok {
		return nil, fmt.Errorf("%w: detector %q", core.ErrNotFound, name)
	}
	return d, nil
}
