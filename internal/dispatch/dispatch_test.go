package dispatch

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gigs/gpucore"
	"github.com/gogpu/gigs/internal/completion"
	"github.com/gogpu/gigs/internal/gputest"
	"github.com/gogpu/gigs/internal/pool"
	"github.com/gogpu/gigs/internal/registry"
	"github.com/gogpu/gigs/internal/sched"
	"github.com/gogpu/gigs/job"
)

type rig struct {
	t       *testing.T
	dev     *gputest.Device
	reg     *registry.Registry
	pool    *pool.Pool
	sched   *sched.Scheduler
	tracker *completion.Tracker
	stage   *Stage
	prepare func(p gputest.ScaleParams) registry.Prepared
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	gputest.RequireCompiles(t, gputest.ScaleShader)
	r := &rig{t: t, dev: gputest.New(), reg: registry.New()}
	r.prepare = func(gputest.ScaleParams) registry.Prepared {
		return registry.Prepared{Status: job.InputReady, Workgroups: [3]uint32{1, 1, 1}, OutputSize: 256}
	}
	r.pool = pool.New(r.dev)
	r.sched = sched.New(sched.Config{}, r.pool.Release)
	r.tracker = completion.New(r.dev, r.pool, r.sched)
	r.addType("scale")

	st, err := New(cfg, r.dev, r.reg, r.pool, r.sched, r.tracker)
	if err != nil {
		t.Fatal(err)
	}
	r.stage = st
	return r
}

func (r *rig) addType(name job.TypeID) {
	r.t.Helper()
	err := r.reg.Add(&registry.Entry{
		Type:   name,
		Source: gputest.ScaleShader,
		Bindings: []registry.Binding{
			{Binding: 0, Role: registry.RoleParams},
			{Binding: 1, Role: registry.RoleOutput},
			{Binding: 2, Role: registry.RolePrevious},
		},
		ParamsSize: gputest.ScaleParamsSize,
		Encode:     gputest.EncodeScale,
		Prepare: func(params any) (registry.Prepared, error) {
			p, ok := params.(gputest.ScaleParams)
			if !ok {
				return registry.Prepared{}, job.ErrParamsType
			}
			return r.prepare(p), nil
		},
	})
	if err != nil {
		r.t.Fatal(err)
	}
}

func (r *rig) observe(id job.EntityID, typ job.TypeID, p gputest.ScaleParams, prio job.Priority) {
	r.t.Helper()
	e, _ := r.reg.Lookup(typ)
	snap, err := e.Extract(job.Request{Type: typ, Params: p, Priority: prio})
	if err != nil {
		r.t.Fatal(err)
	}
	r.sched.Observe(id, snap)
}

func (r *rig) run(frame uint64, now time.Duration) Result {
	return r.stage.Run(frame, now, r.sched.Advance(frame))
}

func (r *rig) phase(id job.EntityID) job.Phase {
	st, _ := r.sched.State(id)
	return st.Phase
}

func TestRunSubmitsAndUploadsParams(t *testing.T) {
	r := newRig(t, Config{})
	p := gputest.ScaleParams{Scale: 3, Count: 64}
	r.observe(1, "scale", p, job.NonCritical(1))

	res := r.run(1, 0)
	if res.Dispatched != 1 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if r.phase(1) != job.PhaseInFlight {
		t.Errorf("phase = %s", r.phase(1))
	}
	if r.tracker.Outstanding() != 1 {
		t.Errorf("outstanding = %d", r.tracker.Outstanding())
	}
	if v, _ := r.pool.Read(1); !v.Pinned {
		t.Error("pair should be pinned while in flight")
	}

	hist := r.dev.History()
	if len(hist) != 1 {
		t.Fatalf("history = %d", len(hist))
	}
	want, _ := gputest.EncodeScale(p)
	uniform := hist[0].Bindings[0].Buffer
	if got := r.dev.Bytes(uniform); !bytes.Equal(got, want) {
		t.Errorf("uniform = %v, want %v", got, want)
	}
	v, _ := r.pool.Read(1)
	if hist[0].Bindings[1].Buffer != v.Back || hist[0].Bindings[2].Buffer != v.Front {
		t.Error("output must bind the back slot and previous the front slot")
	}
	if hist[0].Copy != nil {
		t.Error("no copy expected without readback")
	}
}

func TestRunBudget(t *testing.T) {
	r := newRig(t, Config{MaxPerFrame: 1})
	r.observe(1, "scale", gputest.ScaleParams{Scale: 1}, job.NonCritical(1))
	r.observe(2, "scale", gputest.ScaleParams{Scale: 2}, job.NonCritical(9))
	r.observe(3, "scale", gputest.ScaleParams{Scale: 3}, job.Critical())
	r.observe(4, "scale", gputest.ScaleParams{Scale: 4}, job.Critical())

	res := r.run(1, 0)
	if res.Dispatched != 3 || res.Deferred != 1 {
		t.Fatalf("result = %+v", res)
	}
	for id, want := range map[job.EntityID]job.Phase{
		1: job.PhasePending, 2: job.PhaseInFlight, 3: job.PhaseInFlight, 4: job.PhaseInFlight,
	} {
		if got := r.phase(id); got != want {
			t.Errorf("entity %d phase = %s, want %s", id, got, want)
		}
	}
}

func TestRunFailedAttemptConsumesBudget(t *testing.T) {
	r := newRig(t, Config{MaxPerFrame: 1})
	r.observe(1, "scale", gputest.ScaleParams{Scale: 1}, job.NonCritical(5))
	r.observe(2, "scale", gputest.ScaleParams{Scale: 2}, job.NonCritical(1))
	r.dev.FailNextSubmits(1)

	res := r.run(1, 0)
	if res.Dispatched != 0 || res.Deferred != 1 || len(res.Errors) != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunReadiness(t *testing.T) {
	r := newRig(t, Config{MaxPerFrame: 1})
	r.prepare = func(p gputest.ScaleParams) registry.Prepared {
		status := job.InputReady
		switch {
		case p.Scale < 0:
			status = job.InputFail
		case p.Count == 0:
			status = job.InputWait
		}
		return registry.Prepared{Status: status, Workgroups: [3]uint32{1, 1, 1}, OutputSize: 256}
	}
	r.observe(1, "scale", gputest.ScaleParams{Scale: 1}, job.NonCritical(3))
	r.observe(2, "scale", gputest.ScaleParams{Scale: -1, Count: 1}, job.NonCritical(2))
	r.observe(3, "scale", gputest.ScaleParams{Scale: 1, Count: 1}, job.NonCritical(1))

	res := r.run(1, 0)
	if res.Waiting != 1 || res.Dispatched != 1 || res.Deferred != 0 {
		t.Fatalf("waiting and failed jobs must not consume the budget: %+v", res)
	}
	if len(res.Errors) != 1 || !errors.Is(res.Errors[0], job.ErrInputsFailed) {
		t.Fatalf("errors = %v", res.Errors)
	}
	var de *job.DispatchError
	if !errors.As(res.Errors[0], &de) || de.Entity != 2 {
		t.Errorf("error = %v", res.Errors[0])
	}
	if r.phase(1) != job.PhasePending || r.phase(2) != job.PhasePending || r.phase(3) != job.PhaseInFlight {
		t.Errorf("phases = %s %s %s", r.phase(1), r.phase(2), r.phase(3))
	}
}

func TestRunSettle(t *testing.T) {
	r := newRig(t, Config{Settle: time.Second})
	r.observe(1, "scale", gputest.ScaleParams{Scale: 1}, job.NonCritical(1))
	r.run(1, 0)
	r.dev.CompleteAll()
	r.tracker.Poll(1, 0)

	r.observe(1, "scale", gputest.ScaleParams{Scale: 2}, job.NonCritical(1))
	if res := r.run(2, 500*time.Millisecond); res.Settling != 1 || res.Dispatched != 0 {
		t.Errorf("inside window: %+v", res)
	}
	if res := r.run(3, time.Second); res.Dispatched != 1 {
		t.Errorf("after window: %+v", res)
	}
}

func TestRunSubmitFailure(t *testing.T) {
	r := newRig(t, Config{})
	r.observe(1, "scale", gputest.ScaleParams{Scale: 1}, job.NonCritical(1))
	r.dev.FailNextSubmits(1)

	res := r.run(1, 0)
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v", res.Errors)
	}
	var de *job.DispatchError
	if !errors.As(res.Errors[0], &de) || de.Entity != 1 {
		t.Errorf("error = %v", res.Errors[0])
	}
	if r.phase(1) != job.PhasePending {
		t.Errorf("phase = %s, want Pending", r.phase(1))
	}
	if r.tracker.Outstanding() != 0 {
		t.Error("rejected submission still tracked")
	}
	if v, _ := r.pool.Read(1); v.Pinned {
		t.Error("rejected submission left the pair pinned")
	}

	if res := r.run(2, 0); res.Dispatched != 1 {
		t.Errorf("retry = %+v", res)
	}
}

func TestRunPipelineFailureNotCached(t *testing.T) {
	r := newRig(t, Config{})
	r.observe(1, "scale", gputest.ScaleParams{}, job.NonCritical(1))
	r.dev.FailNextPipelines(1)

	if res := r.run(1, 0); len(res.Errors) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if r.stage.Pipelines() != 0 {
		t.Error("failed pipeline cached")
	}
	if res := r.run(2, 0); res.Dispatched != 1 {
		t.Errorf("retry = %+v", res)
	}
	if r.stage.Pipelines() != 1 {
		t.Errorf("pipelines = %d, want 1", r.stage.Pipelines())
	}
}

func TestRunRejectsOversizedWork(t *testing.T) {
	r := newRig(t, Config{})
	r.prepare = func(p gputest.ScaleParams) registry.Prepared {
		return registry.Prepared{Status: job.InputReady, Workgroups: [3]uint32{p.Count, 1, 1}, OutputSize: 256}
	}
	r.observe(1, "scale", gputest.ScaleParams{Count: 70000}, job.NonCritical(1))
	r.observe(2, "scale", gputest.ScaleParams{Count: 0}, job.NonCritical(1))

	res := r.run(1, 0)
	if len(res.Errors) != 2 {
		t.Fatalf("errors = %v", res.Errors)
	}
	if !errors.Is(res.Errors[0], gpucore.ErrWorkgroupCountExceedsLimit) {
		t.Errorf("entity 1: %v", res.Errors[0])
	}
	if !errors.Is(res.Errors[1], gpucore.ErrWorkgroupCountZero) {
		t.Errorf("entity 2: %v", res.Errors[1])
	}
	if r.dev.Stats().CreatedBuffers != 0 {
		t.Error("buffers allocated for rejected work")
	}
}

func TestPipelineCache(t *testing.T) {
	r := newRig(t, Config{PipelineCacheSize: 1})
	r.addType("other")
	r.observe(1, "scale", gputest.ScaleParams{Scale: 1}, job.NonCritical(1))
	r.observe(2, "scale", gputest.ScaleParams{Scale: 2}, job.NonCritical(1))
	r.run(1, 0)
	if n := r.dev.Stats().CreatedPipelines; n != 1 {
		t.Errorf("pipelines created = %d, want 1 for one type", n)
	}

	r.observe(3, "other", gputest.ScaleParams{}, job.NonCritical(1))
	r.run(2, 0)
	st := r.dev.Stats()
	if st.CreatedPipelines != 2 || st.DestroyedPipes != 0 {
		t.Errorf("evicted pipeline destroyed with work outstanding: %+v", st)
	}

	r.dev.CompleteAll()
	r.tracker.Poll(2, 0)
	r.run(3, 0)
	if st := r.dev.Stats(); st.DestroyedPipes != 1 {
		t.Errorf("destroyed = %d, want 1 once idle", st.DestroyedPipes)
	}

	r.stage.Close()
	if st := r.dev.Stats(); st.LivePipelines != 0 {
		t.Errorf("live pipelines after Close = %d", st.LivePipelines)
	}
}

func TestRunReadbackCopy(t *testing.T) {
	r := newRig(t, Config{})
	e, _ := r.reg.Lookup("scale")
	e.Readback = true
	r.observe(1, "scale", gputest.ScaleParams{}, job.NonCritical(1))
	r.run(1, 0)

	hist := r.dev.History()
	v, _ := r.pool.Read(1)
	if c := hist[0].Copy; c == nil || c.Src != v.Back || c.Dst != v.Staging || c.Size != 256 {
		t.Errorf("copy = %+v", hist[0].Copy)
	}
}
