package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveBuildCountsResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPipelineCollector(reg)
	if err != nil {
		t.Fatalf("NewPipelineCollector: %v", err)
	}

	collector.ObserveBuild(nil)
	collector.ObserveBuild(nil)
	collector.ObserveBuild(errors.New("dangling reference"))

	if got := testutil.ToFloat64(collector.TrainBuilds.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok builds = %g, want 2", got)
	}
	if got := testutil.ToFloat64(collector.TrainBuilds.WithLabelValues("error")); got != 1 {
		t.Errorf("error builds = %g, want 1", got)
	}
}

func TestObserveExposureRecordsDurationAndClamps(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPipelineCollector(reg)
	if err != nil {
		t.Fatalf("NewPipelineCollector: %v", err)
	}

	collector.ObserveExposure(25*time.Millisecond, 3, nil)
	collector.ObserveExposure(30*time.Millisecond, 0, nil)
	collector.ObserveExposure(0, 0, errors.New("stale train"))

	if got := testutil.ToFloat64(collector.Exposures.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok exposures = %g, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Exposures.WithLabelValues("error")); got != 1 {
		t.Errorf("error exposures = %g, want 1", got)
	}
	if got := testutil.ToFloat64(collector.ClampedPixels); got != 3 {
		t.Errorf("clamped pixels = %g, want 3", got)
	}
	if got := testutil.CollectAndCount(collector.ExposureDuration, "sim_exposure_duration_seconds"); got != 1 {
		t.Errorf("duration metric families = %d, want 1", got)
	}
}

func TestSetActiveEffectsReplacesPreviousTrain(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPipelineCollector(reg)
	if err != nil {
		t.Fatalf("NewPipelineCollector: %v", err)
	}

	collector.SetActiveEffects(map[string]int{"ATMO": 1, "DET": 2})
	collector.SetActiveEffects(map[string]int{"DET": 1})

	if got := testutil.ToFloat64(collector.ActiveEffects.WithLabelValues("DET")); got != 1 {
		t.Errorf("DET gauge = %g, want 1", got)
	}
	// The ATMO series from the previous build must be gone, not stale.
	if got := testutil.CollectAndCount(collector.ActiveEffects, "sim_train_active_effects"); got != 1 {
		t.Errorf("active effect series = %d, want 1", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var collector *PipelineCollector
	collector.ObserveBuild(nil)
	collector.ObserveExposure(time.Second, 5, nil)
	collector.SetActiveEffects(map[string]int{"TEL": 1})
}

func TestCollectorIdempotentRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPipelineCollector(reg); err != nil {
		t.Fatalf("first NewPipelineCollector: %v", err)
	}
	second, err := NewPipelineCollector(reg)
	if err != nil {
		t.Fatalf("second NewPipelineCollector: %v", err)
	}
	second.ObserveBuild(nil)
	if got := testutil.ToFloat64(second.TrainBuilds.WithLabelValues("ok")); got != 1 {
		t.Errorf("shared counter = %g, want 1", got)
	}
}

func TestHandlerServesPipelineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPipelineCollector(reg)
	if err != nil {
		t.Fatalf("NewPipelineCollector: %v", err)
	}
	collector.ObserveExposure(10*time.Millisecond, 0, nil)

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("metrics endpoint status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"sim_exposures_total", "sim_exposure_duration_seconds"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
