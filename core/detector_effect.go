package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/telescope-simulator/model"
)

// DetectorEffect is the terminal pipeline stage: it reads the propagated
// scene out into the detector-plane count image. It draws its randomness
// from the scene's per-exposure noise source, so it carries no state of
// its own.
type DetectorEffect struct {
	meta
	Detector *Detector
	Stages   ReadoutStages
	Obs      model.ObservationParams
}

func NewDetectorEffect(name string, status Status, det *Detector, stages ReadoutStages, obs model.ObservationParams) (*DetectorEffect, error) {
	if det == nil {
		return nil, &ConsistencyError{Subject: fmt.Sprintf("effect %q", name), Reason: "missing detector"}
	}
	return &DetectorEffect{meta: meta{name, CategoryDET, status}, Detector: det, Stages: stages, Obs: obs}, nil
}

func (e *DetectorEffect) Apply(ctx context.Context, sc *Scene) error {
	counts, clamped, err := e.Detector.ReadOut(sc, e.Obs, e.Stages, sc.Rand)
	if err != nil {
		return err
	}
	sc.Counts = counts
	sc.ClampedPixels += clamped
	return nil
}
