package gigs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gigs/gpucore"
	"github.com/gogpu/gigs/internal/completion"
	"github.com/gogpu/gigs/internal/dispatch"
	"github.com/gogpu/gigs/internal/extract"
	"github.com/gogpu/gigs/internal/logging"
	"github.com/gogpu/gigs/internal/pool"
	"github.com/gogpu/gigs/internal/registry"
	"github.com/gogpu/gigs/internal/sched"
	"github.com/gogpu/gigs/job"
)

// FrameReport summarizes one call to Runner.Frame.
type FrameReport struct {
	Frame uint64
	// Extracted is the number of requests snapshotted.
	Extracted int
	// Dispatched is the number of submissions made.
	Dispatched int
	// Deferred counts pending jobs held back by the per-frame budget.
	Deferred int
	// Waiting counts pending jobs whose inputs were not ready.
	Waiting int
	// Settling counts pending jobs held until their blend finished.
	Settling int
	// Completed lists the entities whose results were applied this frame.
	Completed []EntityID
	// Failed counts completions that resolved with an error.
	Failed int
	// Errors collects the non-fatal per-instance errors of this frame:
	// *DispatchError and *CompletionError values.
	Errors []error
}

// Stats reports runner-wide counters.
type Stats struct {
	Frame       uint64
	Instances   int
	Pending     int
	InFlight    int
	Ready       int
	Outstanding int
	Pairs       int
	PoolBytes   uint64
	Pipelines   int
}

// Runner drives the extract, dispatch and completion stages once per frame.
//
// Frame, View and the other methods must be called from one goroutine at a
// time. The World may be mutated concurrently.
type Runner struct {
	mu sync.Mutex

	settings Settings
	clock    Clock
	device   gpucore.Device
	world    *World

	registry *registry.Registry
	pool     *pool.Pool
	sched    *sched.Scheduler
	extract  *extract.Stage
	dispatch *dispatch.Stage
	tracker  *completion.Tracker

	frame  uint64
	now    time.Duration
	closed bool
}

// NewRunner creates a runner executing jobs requested in world on device.
// The runner does not take ownership of device.
func NewRunner(device gpucore.Device, world *World, opts ...RunnerOption) (*Runner, error) {
	if device == nil {
		return nil, fmt.Errorf("gigs: nil device")
	}
	if world == nil {
		return nil, fmt.Errorf("gigs: nil world")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.settings.Validate(); err != nil {
		return nil, err
	}
	if o.clock == nil {
		o.clock = wallClock()
	}

	r := &Runner{
		settings: o.settings,
		clock:    o.clock,
		device:   device,
		world:    world,
		registry: registry.New(),
		pool:     pool.New(device),
	}
	r.sched = sched.New(sched.Config{StallWarnFrames: o.settings.StallWarnFrames}, r.pool.Release)
	r.extract = extract.New(r.registry, r.sched)
	r.tracker = completion.New(device, r.pool, r.sched)

	var settle time.Duration
	if o.settings.SettleBeforeRedispatch {
		settle = o.settings.InterpolationWindow
	}
	d, err := dispatch.New(dispatch.Config{
		MaxPerFrame:       o.settings.MaxDispatchesPerFrame,
		Settle:            settle,
		PipelineCacheSize: o.settings.PipelineCacheSize,
	}, device, r.registry, r.pool, r.sched, r.tracker)
	if err != nil {
		return nil, err
	}
	r.dispatch = d

	caps := device.Capabilities()
	logging.L().Info("gigs: runner created",
		"device", caps.Name,
		"max_dispatches", o.settings.MaxDispatchesPerFrame,
		"window", o.settings.InterpolationWindow)
	return r, nil
}

// Settings returns the effective settings.
func (r *Runner) Settings() Settings { return r.settings }

// Frame runs one frame in fixed order: extraction, scheduling, dispatch,
// then a non-blocking completion poll. Frame never blocks on the GPU.
// Per-instance failures are reported in the FrameReport; the returned error
// is non-nil only for ctx cancellation or a closed runner.
func (r *Runner) Frame(ctx context.Context) (FrameReport, error) {
	if err := ctx.Err(); err != nil {
		return FrameReport{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return FrameReport{}, ErrClosed
	}

	r.frame++
	r.now = r.clock()
	rep := FrameReport{Frame: r.frame}

	ex := r.extract.Run(r.world)
	rep.Extracted = ex.Extracted
	rep.Errors = append(rep.Errors, ex.Errors...)

	cands := r.sched.Advance(r.frame)
	dr := r.dispatch.Run(r.frame, r.now, cands)
	rep.Dispatched = dr.Dispatched
	rep.Deferred = dr.Deferred
	rep.Waiting = dr.Waiting
	rep.Settling = dr.Settling
	rep.Errors = append(rep.Errors, dr.Errors...)

	r.applyCompletions(&rep)

	if rep.Dispatched > 0 || len(rep.Completed) > 0 || len(rep.Errors) > 0 {
		logging.L().Debug("gigs: frame",
			"frame", rep.Frame, "dispatched", rep.Dispatched, "completed", len(rep.Completed),
			"deferred", rep.Deferred, "errors", len(rep.Errors))
	}
	return rep, nil
}

func (r *Runner) applyCompletions(rep *FrameReport) {
	cr := r.tracker.Poll(r.frame, r.now)
	for _, ev := range cr.Events {
		if ev.Err != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, ev.Err)
			continue
		}
		if ev.Outcome == sched.OutcomeReady || ev.Outcome == sched.OutcomeRequeued {
			rep.Completed = append(rep.Completed, ev.Entity)
		}
	}
}

// Drain polls for completions until no submission is outstanding or ctx
// is done. It neither extracts nor dispatches.
func (r *Runner) Drain(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		r.mu.Lock()
		if r.tracker.Outstanding() == 0 {
			r.mu.Unlock()
			return nil
		}
		r.now = r.clock()
		var rep FrameReport
		r.applyCompletions(&rep)
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// View returns the consumer view of id.
func (r *Runner) View(id EntityID) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.sched.Get(id)
	if !ok {
		return View{}, false
	}
	v := View{Entity: id, State: inst.State}
	if !inst.HasResult {
		return v, true
	}
	pv, ok := r.pool.Read(id)
	if !ok || pv.Swaps == 0 {
		return v, true
	}
	v.HasResult = true
	v.Fingerprint = inst.Completed
	v.New = pv.Front
	v.Old = pv.Back
	v.Size = pv.Size
	v.LastSwap = pv.LastSwap
	v.Data = inst.Result
	if inst.State.Is(job.PhaseInFlight) {
		v.Old = pv.Front
		v.Blend = 1
		return v, true
	}
	v.Blend = BlendFactor(r.now-pv.LastSwap, r.settings.InterpolationWindow)
	return v, true
}

// State returns the lifecycle state of id.
func (r *Runner) State(id EntityID) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sched.State(id)
}

// Stats returns runner-wide counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := r.pool.Stats()
	return Stats{
		Frame:       r.frame,
		Instances:   r.sched.Len(),
		Pending:     r.sched.Count(job.PhasePending),
		InFlight:    r.sched.Count(job.PhaseInFlight),
		Ready:       r.sched.Count(job.PhaseReady),
		Outstanding: r.tracker.Outstanding(),
		Pairs:       ps.Pairs,
		PoolBytes:   ps.Bytes,
		Pipelines:   r.dispatch.Pipelines(),
	}
}

// Types returns the registered job types.
func (r *Runner) Types() []TypeID { return r.registry.Types() }

// Close releases every buffer and pipeline the runner created. It fails
// with ErrOutstanding while submissions are in flight; call Drain first.
// The device itself is left open.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if n := r.tracker.Outstanding(); n > 0 {
		return fmt.Errorf("%w: %d", ErrOutstanding, n)
	}
	r.pool.Close()
	r.dispatch.Close()
	r.closed = true
	return nil
}
