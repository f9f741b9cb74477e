package connector

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pitabwire/frame/workerpool"
	"github.com/pitabwire/util"

	"github.com/buqixiaomi/socket/internal/telemetry"
)

// defaultDispatchWorkers sizes the receive dispatcher when the caller leaves
// Config.DispatchWorkers unset — a small multiple of GOMAXPROCS, matching an
// I/O-bound pool sizing heuristic rather than a CPU-bound one.
func defaultDispatchWorkers() int {
	n := runtime.GOMAXPROCS(0) * 4
	if n < 8 {
		n = 8
	}
	return n
}

// JobRunner is the minimal worker-pool submission contract the receive
// dispatcher needs. FrameWorkerPool is the production implementation,
// backed by github.com/pitabwire/frame/workerpool; tests use a lighter
// bounded-goroutine runner so they can exercise dispatch ordering and
// backlog behavior without constructing a frame.Service.
type JobRunner interface {
	Submit(ctx context.Context, fn func(context.Context) error) error
}

// FrameWorkerPool adapts a github.com/pitabwire/frame/workerpool.Manager to
// JobRunner, matching the donor's own job/result-pipe submission pattern
// used for its queue-consumer fan-out.
type FrameWorkerPool struct {
	workMan workerpool.Manager
}

// NewFrameWorkerPool wraps an existing workerpool.Manager, typically
// obtained from a frame.Service via svc.WorkManager().
func NewFrameWorkerPool(workMan workerpool.Manager) *FrameWorkerPool {
	return &FrameWorkerPool{workMan: workMan}
}

// Submit implements JobRunner.
func (f *FrameWorkerPool) Submit(ctx context.Context, fn func(context.Context) error) error {
	job := workerpool.NewJob[any](func(jobCtx context.Context, _ workerpool.JobResultPipe[any]) error {
		return fn(jobCtx)
	})
	return workerpool.SubmitJob(ctx, f.workMan, job)
}

// dispatcher runs per-message handling off the transport callback on a
// bounded worker pool, so a burst of inbound frames cannot spawn unbounded
// goroutines.
type dispatcher struct {
	runner   JobRunner
	maxDepth int
	inFlight atomic.Int64
}

func newDispatcher(runner JobRunner, workers int) *dispatcher {
	return &dispatcher{runner: runner, maxDepth: workers * 8}
}

// submit enqueues fn to run on the pool. Any panic or error fn returns is
// caught here and reported through onErr, matching §4.5: dispatcher
// failures are observable but never escape the pool.
func (d *dispatcher) submit(ctx context.Context, fn func() error, onErr func(error)) {
	d.inFlight.Add(1)
	telemetry.DatagramsReceivedCounter.Add(ctx, 1)

	run := func(jobCtx context.Context) error {
		defer d.inFlight.Add(-1)
		jobCtx, span := telemetry.DispatchTracer.Start(jobCtx, "dispatcher.submit")
		start := time.Now()
		var runErr error
		defer func() {
			telemetry.DispatchLatencyHistogram.Add(jobCtx, time.Since(start).Milliseconds())
			telemetry.DispatchTracer.End(jobCtx, span, runErr)
		}()
		defer func() {
			if r := recover(); r != nil {
				util.Log(jobCtx).WithField("panic", r).Error("receive dispatcher worker panicked")
				runErr = fmt.Errorf("receive dispatcher worker panicked: %v", r)
				telemetry.DispatchErrorsCounter.Add(jobCtx, 1)
				if onErr != nil {
					onErr(runErr)
				}
			}
		}()

		if err := fn(); err != nil {
			runErr = err
			telemetry.DispatchErrorsCounter.Add(jobCtx, 1)
			if onErr != nil {
				onErr(err)
			}
			return err
		}
		return nil
	}

	if err := d.runner.Submit(ctx, run); err != nil {
		d.inFlight.Add(-1)
		util.Log(ctx).WithError(err).Error("failed to submit receive dispatch job")
		telemetry.DispatchErrorsCounter.Add(ctx, 1)
		if onErr != nil {
			onErr(err)
		}
	}
}

// depth reports the current and configured-maximum in-flight job count, for
// the readiness dispatch checker (SPEC_FULL.md §4.9).
func (d *dispatcher) depth() (current, max int) {
	return int(d.inFlight.Load()), d.maxDepth
}

// drainPollInterval is how often drain rechecks the in-flight count while
// waiting for submitted jobs to finish.
const drainPollInterval = 10 * time.Millisecond

// drain blocks until no job is in flight or timeout elapses, whichever
// comes first, reporting whether it drained cleanly. Jobs already submitted
// to the pool keep running past a missed deadline; drain only stops waiting
// for them, it never cancels them. c is the manager's injected clock, so
// tests can control the wait deterministically the way pump/sweeper do.
func (d *dispatcher) drain(c clock.Clock, timeout time.Duration) bool {
	if d.inFlight.Load() == 0 {
		return true
	}

	deadline := c.Now().Add(timeout)
	for d.inFlight.Load() > 0 {
		if c.Now().After(deadline) {
			return false
		}
		c.Sleep(drainPollInterval)
	}
	return true
}
