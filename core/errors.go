package core

import (
	"errors"
	"fmt"
)

// Error taxonomy for the pipeline.
//
// Configuration errors are fatal at build time and identify the offending
// effect and category. Data-domain errors are recoverable under the clamp
// boundary policy and fatal under strict bounds. Consistency errors flag
// calibration data that would silently corrupt physical results (an
// unnormalised PSF kernel, an empty surface list) and are always fatal at
// build time. Negative fluxes at run time are clamped and counted, never
// raised.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrDataDomain    = errors.New("data domain error")
	ErrConsistency   = errors.New("consistency error")

	ErrTrainNotBuilt = errors.New("optical train not built")
	ErrTrainStale    = errors.New("optical train is stale")
	ErrNotFound      = errors.New("calibration table not found")
)

// ConfigurationError reports a missing or invalid keyword, or an
// unresolvable table reference, attributed to the effect being built.
type ConfigurationError struct {
	Effect   string
	Category Category
	Reason   string
	Wrapped  error
}

func (e *ConfigurationError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("effect %q (%s): %s: %v", e.Effect, e.Category, e.Reason, e.Wrapped)
	}
	return fmt.Sprintf("effect %q (%s): %s", e.Effect, e.Category, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	if e.Wrapped != nil {
		return e.Wrapped
	}
	return ErrConfiguration
}

// Is lets errors.Is match both ErrConfiguration and any wrapped cause.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// DataDomainError reports a quantity outside its supported range.
type DataDomainError struct {
	Quantity string
	Value    float64
	Min, Max float64
}

func (e *DataDomainError) Error() string {
	return fmt.Sprintf("%s %g outside supported range [%g, %g]", e.Quantity, e.Value, e.Min, e.Max)
}

func (e *DataDomainError) Unwrap() error { return ErrDataDomain }

// ConsistencyError reports calibration data that fails a physical
// invariant.
type ConsistencyError struct {
	Subject string
	Reason  string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Subject, e.Reason)
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }
