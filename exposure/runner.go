// Package exposure computes batches of independent exposures over one
// built optical train. Each exposure is a pure function of the immutable
// train and the input scene, so a batch parallelises with no shared
// mutable state.
package exposure

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/telescope-simulator/core"
	"github.com/signalsfoundry/telescope-simulator/internal/logging"
	"github.com/signalsfoundry/telescope-simulator/internal/observability"
)

// Runner drives a batch of exposures and notifies registered listeners as
// each one completes. Exposure i uses noise seed base+i, so a batch is
// reproducible regardless of worker count.
type Runner struct {
	train *core.OpticalTrain
	scene *core.Scene

	// Workers is the parallelism of the batch; values below 1 mean
	// sequential execution.
	Workers int

	log       logging.Logger
	collector *observability.PipelineCollector
	tracer    trace.Tracer

	listeners []func(int, *core.Exposure)
}

// NewRunner constructs a runner over a built train and an input scene.
// log and collector may be nil.
func NewRunner(train *core.OpticalTrain, scene *core.Scene, workers int, log logging.Logger, collector *observability.PipelineCollector) *Runner {
	if log == nil {
		log = logging.Noop()
	}
	return &Runner{
		train:     train,
		scene:     scene,
		Workers:   workers,
		log:       log,
		collector: collector,
		tracer:    observability.Tracer(),
	}
}

// AddListener registers a callback invoked with each completed exposure's
// batch index. Listeners run on worker goroutines and must be safe for
// concurrent invocation when Workers > 1.
func (r *Runner) AddListener(fn func(index int, exp *core.Exposure)) {
	r.listeners = append(r.listeners, fn)
}

// Run computes n exposures and returns them ordered by batch index. The
// first error cancels the remaining work.
func (r *Runner) Run(ctx context.Context, n int) ([]*core.Exposure, error) {
	if n <= 0 {
		return nil, fmt.Errorf("exposure: batch size %d must be positive", n)
	}

	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	base := r.train.Observation().NoiseSeed

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*core.Exposure, n)
	indices := make(chan int)
	errc := make(chan error, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				exp, err := r.compute(ctx, i, base+uint64(i))
				if err != nil {
					select {
					case errc <- fmt.Errorf("exposure %d: %w", i, err):
					default:
					}
					cancel()
					return
				}
				results[i] = exp
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case indices <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(indices)
	wg.Wait()

	select {
	case err := <-errc:
		return nil, err
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Start runs the batch in a separate goroutine and returns a channel that
// is closed when it finishes. done delivers the batch result to the
// callback before the channel closes.
func (r *Runner) Start(ctx context.Context, n int, done func([]*core.Exposure, error)) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		exps, err := r.Run(ctx, n)
		if done != nil {
			done(exps, err)
		}
	}()
	return ch
}

func (r *Runner) compute(ctx context.Context, index int, seed uint64) (*core.Exposure, error) {
	ctx, log := logging.WithExposureLogger(ctx, r.log, index)
	ctx, span := r.tracer.Start(ctx, "exposure.compute",
		trace.WithAttributes(
			attribute.Int("exposure.index", index),
			attribute.Int64("exposure.seed", int64(seed)),
		))
	defer span.End()

	exp, err := r.train.ExecuteSeeded(ctx, r.scene, seed)
	if err != nil {
		span.RecordError(err)
		r.collector.ObserveExposure(0, 0, err)
		log.Error(ctx, "exposure failed", logging.String("error", err.Error()))
		return nil, err
	}

	r.collector.ObserveExposure(exp.Meta.Elapsed, exp.Meta.ClampedPixels, nil)
	log.Debug(ctx, "exposure complete",
		logging.Float64("elapsed_s", exp.Meta.Elapsed.Seconds()),
		logging.Int("clamped_pixels", exp.Meta.ClampedPixels))

	for _, fn := range r.listeners {
		fn(index, exp)
	}
	return exp, nil
}
