package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineCollector bundles Prometheus metrics for the simulation
// pipeline: train assembly, exposure execution and detector clamping.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	TrainBuilds      *prometheus.CounterVec
	Exposures        *prometheus.CounterVec
	ExposureDuration prometheus.Histogram
	ClampedPixels    prometheus.Counter
	ActiveEffects    *prometheus.GaugeVec
}

// NewPipelineCollector registers pipeline Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when
// nil.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	builds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_train_builds_total",
		Help: "Optical train build attempts, labeled by result.",
	}, []string{"result"})
	builds, err := registerCounterVec(reg, builds, "sim_train_builds_total")
	if err != nil {
		return nil, err
	}

	exposures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_exposures_total",
		Help: "Computed exposures, labeled by result.",
	}, []string{"result"})
	exposures, err = registerCounterVec(reg, exposures, "sim_exposures_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_exposure_duration_seconds",
		Help:    "Wall-clock time per exposure computation.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}), "sim_exposure_duration_seconds")
	if err != nil {
		return nil, err
	}

	clamped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_detector_clamped_pixels_total",
		Help: "Pixels clamped to zero after noise left them negative.",
	}), "sim_detector_clamped_pixels_total")
	if err != nil {
		return nil, err
	}

	active := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_train_active_effects",
		Help: "Active effects in the current train, labeled by category.",
	}, []string{"category"})
	active, err = registerGaugeVec(reg, active, "sim_train_active_effects")
	if err != nil {
		return nil, err
	}

	return &PipelineCollector{
		gatherer:         gatherer,
		TrainBuilds:      builds,
		Exposures:        exposures,
		ExposureDuration: duration,
		ClampedPixels:    clamped,
		ActiveEffects:    active,
	}, nil
}

// ObserveBuild records a train build attempt.
func (c *PipelineCollector) ObserveBuild(err error) {
	if c == nil || c.TrainBuilds == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.TrainBuilds.WithLabelValues(result).Inc()
}

// ObserveExposure records one exposure computation.
func (c *PipelineCollector) ObserveExposure(elapsed time.Duration, clampedPixels int, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	if c.Exposures != nil {
		c.Exposures.WithLabelValues(result).Inc()
	}
	if err != nil {
		return
	}
	if c.ExposureDuration != nil {
		c.ExposureDuration.Observe(elapsed.Seconds())
	}
	if c.ClampedPixels != nil && clampedPixels > 0 {
		c.ClampedPixels.Add(float64(clampedPixels))
	}
}

// SetActiveEffects publishes per-category effect counts for the current
// train.
func (c *PipelineCollector) SetActiveEffects(byCategory map[string]int) {
	if c == nil || c.ActiveEffects == nil {
		return
	}
	c.ActiveEffects.Reset()
	for category, n := range byCategory {
		c.ActiveEffects.WithLabelValues(category).Set(float64(n))
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PipelineCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
