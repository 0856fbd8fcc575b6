// Package dispatch turns Pending instances into GPU submissions.
//
// For each candidate, in priority order, the stage checks readiness,
// resolves the compute pipeline, acquires the instance's buffer pair,
// uploads parameters, submits, and hands the submission to the completion
// tracker. Failures are per-instance and leave the instance Pending.
package dispatch

import (
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gogpu/gigs/gpucore"
	"github.com/gogpu/gigs/internal/completion"
	"github.com/gogpu/gigs/internal/logging"
	"github.com/gogpu/gigs/internal/pool"
	"github.com/gogpu/gigs/internal/registry"
	"github.com/gogpu/gigs/internal/sched"
	"github.com/gogpu/gigs/job"
)

// Config tunes the stage.
type Config struct {
	// MaxPerFrame caps non-critical submission attempts per frame. Zero
	// means unlimited.
	MaxPerFrame int
	// Settle holds redispatch of an instance until this long after its
	// last swap. Zero disables the hold.
	Settle time.Duration
	// PipelineCacheSize bounds the number of live compute pipelines.
	PipelineCacheSize int
}

// Result summarizes one Run.
type Result struct {
	Dispatched int
	// Waiting counts candidates whose inputs reported InputWait.
	Waiting int
	// Deferred counts candidates held back by the budget.
	Deferred int
	// Settling counts candidates held back by the settle window.
	Settling int
	Errors   []error
}

// Stage dispatches pending work.
type Stage struct {
	cfg      Config
	device   gpucore.Device
	registry *registry.Registry
	pool     *pool.Pool
	sched    *sched.Scheduler
	tracker  *completion.Tracker

	pipelines *lru.Cache[job.TypeID, gpucore.ComputePipelineID]
	// retired pipelines wait here until no submission can reference them.
	retired []gpucore.ComputePipelineID
}

// New returns a dispatch stage.
func New(cfg Config, device gpucore.Device, reg *registry.Registry, p *pool.Pool,
	s *sched.Scheduler, tr *completion.Tracker) (*Stage, error) {
	if cfg.PipelineCacheSize <= 0 {
		cfg.PipelineCacheSize = 64
	}
	st := &Stage{cfg: cfg, device: device, registry: reg, pool: p, sched: s, tracker: tr}
	cache, err := lru.NewWithEvict(cfg.PipelineCacheSize, func(t job.TypeID, id gpucore.ComputePipelineID) {
		logging.L().Debug("dispatch: pipeline evicted", "type", t)
		st.retired = append(st.retired, id)
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: pipeline cache: %w", err)
	}
	st.pipelines = cache
	return st, nil
}

// Run dispatches candidates for frame.
func (st *Stage) Run(frame uint64, now time.Duration, cands []sched.Candidate) Result {
	st.collectRetired()

	var res Result
	attempts := 0
	for _, c := range cands {
		critical := c.Snapshot.Priority.IsCritical()
		if !critical && st.cfg.MaxPerFrame > 0 && attempts >= st.cfg.MaxPerFrame {
			res.Deferred++
			continue
		}
		if st.settling(c.ID, now) {
			res.Settling++
			continue
		}

		entry, ok := st.registry.Lookup(c.Snapshot.Type)
		if !ok {
			res.Errors = append(res.Errors, st.fail(c, job.ErrUnknownType))
			continue
		}
		prep, err := entry.Prepare(c.Snapshot.Params)
		if err != nil {
			res.Errors = append(res.Errors, st.fail(c, err))
			continue
		}
		switch prep.Status {
		case job.InputWait:
			res.Waiting++
			continue
		case job.InputFail:
			res.Errors = append(res.Errors, st.fail(c, job.ErrInputsFailed))
			continue
		}

		if !critical {
			attempts++
		}
		if err := st.submit(frame, c, entry, prep); err != nil {
			res.Errors = append(res.Errors, st.fail(c, err))
			continue
		}
		res.Dispatched++
	}
	return res
}

func (st *Stage) settling(id job.EntityID, now time.Duration) bool {
	if st.cfg.Settle <= 0 {
		return false
	}
	v, ok := st.pool.Read(id)
	if !ok || v.Swaps == 0 {
		return false
	}
	return now-v.LastSwap < st.cfg.Settle
}

func (st *Stage) submit(frame uint64, c sched.Candidate, entry *registry.Entry, prep registry.Prepared) error {
	caps := st.device.Capabilities()
	if err := gpucore.ValidateWorkgroups(prep.Workgroups, caps); err != nil {
		return err
	}
	if err := gpucore.ValidateBufferSize(prep.OutputSize, caps); err != nil {
		return err
	}

	pipeline, err := st.pipeline(entry)
	if err != nil {
		return err
	}

	if _, err := st.pool.Acquire(c.ID, pool.Spec{
		Label:       fmt.Sprintf("%s_%d", entry.Label, c.ID),
		OutputSize:  prep.OutputSize,
		UniformSize: entry.ParamsSize,
		Readback:    entry.Readback,
	}); err != nil {
		return err
	}
	target, err := st.pool.BorrowWrite(c.ID, frame)
	if err != nil {
		return err
	}
	if err := st.device.WriteBuffer(target.Uniform, 0, c.Snapshot.Uniform); err != nil {
		return fmt.Errorf("upload params: %w", err)
	}

	desc := &gpucore.DispatchDesc{
		Label:      entry.Label,
		Pipeline:   pipeline,
		Bindings:   entry.Bind(target),
		Workgroups: prep.Workgroups,
	}
	if entry.Readback {
		desc.Copy = &gpucore.CopyDesc{Src: target.Output, Dst: target.Staging, Size: target.Size}
	}

	fp := c.Snapshot.Fingerprint
	h := st.tracker.Track(c.ID, c.Snapshot.Type, fp, frame, entry.Readback)
	if _, err := st.device.Submit(desc, st.tracker.Callback(h)); err != nil {
		st.tracker.Forget(h)
		return fmt.Errorf("submit: %w", err)
	}
	// The pair was acquired and the instance checked Pending above, so
	// neither call can fail here. If one does, the submission is already
	// on the device and its resolution will be reported as stale.
	if err := st.pool.Pin(c.ID); err != nil {
		logging.L().Error("dispatch: pin after submit", "entity", c.ID, "err", err)
		return err
	}
	if err := st.sched.MarkInFlight(c.ID, fp, frame, h.Token); err != nil {
		logging.L().Error("dispatch: mark in flight after submit", "entity", c.ID, "err", err)
		return err
	}
	logging.L().Debug("dispatch: submitted",
		"entity", c.ID, "type", c.Snapshot.Type, "fingerprint", fp, "frame", frame)
	return nil
}

func (st *Stage) pipeline(entry *registry.Entry) (gpucore.ComputePipelineID, error) {
	if id, ok := st.pipelines.Get(entry.Type); ok {
		return id, nil
	}
	id, err := st.device.CreateComputePipeline(entry.Pipeline())
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("create pipeline: %w", err)
	}
	st.pipelines.Add(entry.Type, id)
	return id, nil
}

// collectRetired destroys evicted pipelines once the device is idle.
func (st *Stage) collectRetired() {
	if len(st.retired) == 0 || st.device.Outstanding() > 0 {
		return
	}
	for _, id := range st.retired {
		st.device.DestroyComputePipeline(id)
	}
	st.retired = st.retired[:0]
}

func (st *Stage) fail(c sched.Candidate, err error) error {
	de := &job.DispatchError{
		Entity:      c.ID,
		Type:        c.Snapshot.Type,
		Fingerprint: c.Snapshot.Fingerprint,
		Err:         err,
	}
	lvl := logging.L().Warn
	if errors.Is(err, job.ErrInputsFailed) {
		lvl = logging.L().Info
	}
	lvl("dispatch: job not submitted", "entity", c.ID, "type", c.Snapshot.Type, "err", err)
	return de
}

// Close destroys every cached and retired pipeline. The caller must ensure
// no submission is outstanding.
func (st *Stage) Close() {
	st.pipelines.Purge()
	st.collectRetired()
}

// Pipelines returns the number of cached pipelines.
func (st *Stage) Pipelines() int { return st.pipelines.Len() }
