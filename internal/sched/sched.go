// Package sched is the per-instance state machine of the frame loop.
//
// Each entity with a job request owns one Instance moving through
// Idle -> Pending -> InFlight -> Ready. Parameter changes coalesce: while
// work is in flight only the newest fingerprint is remembered, and at most
// one submission per instance is ever outstanding. Removal of an instance
// with work in flight is deferred until that work resolves.
package sched

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/gogpu/gigs/internal/logging"
	"github.com/gogpu/gigs/job"
)

// Config tunes the scheduler.
type Config struct {
	// StallWarnFrames is the in-flight age, in frames, after which a single
	// warning is logged. Zero disables the warning.
	StallWarnFrames uint64
}

// ReleaseFunc frees the GPU resources of an instance being removed.
type ReleaseFunc func(job.EntityID) error

// Instance is the scheduler record of one entity.
type Instance struct {
	ID       job.EntityID
	Type     job.TypeID
	Priority job.Priority
	State    job.State

	// Latest is the most recent extraction; its fingerprint is what the
	// instance converges to.
	Latest job.Snapshot

	// Token identifies the outstanding submission while InFlight.
	Token uuid.UUID

	// Disposing is set when the entity was removed while InFlight.
	Disposing bool

	// HasResult reports that at least one dispatch completed.
	HasResult bool
	// Completed is the fingerprint of the latest confirmed result.
	Completed job.Fingerprint
	// Result holds readback bytes of the latest confirmed result, if any.
	Result []byte

	// Failures counts consecutive failed attempts.
	Failures int

	stallWarned bool
}

// Candidate is a Pending instance eligible for dispatch this frame.
type Candidate struct {
	ID       job.EntityID
	Snapshot job.Snapshot
}

// Outcome reports what a resolution did to its instance.
type Outcome uint8

const (
	// OutcomeStale means the resolution did not match the in-flight work
	// and was ignored.
	OutcomeStale Outcome = iota
	// OutcomeReady means the instance is Ready with the completed result.
	OutcomeReady
	// OutcomeRequeued means the result was accepted and a newer
	// fingerprint is already Pending.
	OutcomeRequeued
	// OutcomeRetry means the work failed and the instance is Pending again.
	OutcomeRetry
	// OutcomeDisposed means the instance was removed after its work
	// resolved.
	OutcomeDisposed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStale:
		return "stale"
	case OutcomeReady:
		return "ready"
	case OutcomeRequeued:
		return "requeued"
	case OutcomeRetry:
		return "retry"
	case OutcomeDisposed:
		return "disposed"
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

// Scheduler holds every live instance. It is not safe for concurrent use.
type Scheduler struct {
	cfg       Config
	release   ReleaseFunc
	instances map[job.EntityID]*Instance
}

// New returns an empty scheduler. release is called for each removed
// instance after any in-flight work has resolved, and again on later
// frames while it keeps failing.
func New(cfg Config, release ReleaseFunc) *Scheduler {
	if release == nil {
		release = func(job.EntityID) error { return nil }
	}
	return &Scheduler{cfg: cfg, release: release, instances: make(map[job.EntityID]*Instance)}
}

// Observe records the snapshot extracted for id this frame, creating an
// Idle instance on first sight. Observing an instance that is waiting for
// disposal cancels the disposal.
func (s *Scheduler) Observe(id job.EntityID, snap job.Snapshot) {
	inst, ok := s.instances[id]
	if !ok {
		inst = &Instance{ID: id, State: job.Idle()}
		s.instances[id] = inst
	}
	if inst.Disposing {
		logging.L().Debug("sched: removal cancelled by new request", "entity", id)
		inst.Disposing = false
	}
	inst.Type = snap.Type
	inst.Priority = snap.Priority
	inst.Latest = snap
}

// Remove starts disposal of id. Instances without in-flight work are
// released at once; others are released when their work resolves.
func (s *Scheduler) Remove(id job.EntityID) error {
	inst, ok := s.instances[id]
	if !ok {
		return nil
	}
	if inst.State.Is(job.PhaseInFlight) {
		inst.Disposing = true
		return nil
	}
	return s.dispose(inst)
}

// dispose releases inst and forgets it. When the release fails the
// instance stays, marked Disposing and no longer in flight, and Advance
// retries the release.
func (s *Scheduler) dispose(inst *Instance) error {
	if err := s.release(inst.ID); err != nil {
		inst.Disposing = true
		if inst.State.Is(job.PhaseInFlight) {
			inst.Token = uuid.Nil
			inst.State = job.Pending(inst.Latest.Fingerprint)
		}
		return fmt.Errorf("sched: release entity %d: %w", inst.ID, err)
	}
	delete(s.instances, inst.ID)
	return nil
}

// Advance applies the per-frame transitions and returns the Pending
// instances in dispatch order: critical first, then higher weight, then
// lower entity ID.
func (s *Scheduler) Advance(frame uint64) []Candidate {
	var out []Candidate
	for _, inst := range s.instances {
		if inst.Disposing && !inst.State.Is(job.PhaseInFlight) {
			if err := s.dispose(inst); err != nil {
				logging.L().Debug("sched: release retry failed", "entity", inst.ID, "err", err)
			}
			continue
		}
		latest := inst.Latest.Fingerprint
		switch inst.State.Phase {
		case job.PhaseIdle:
			inst.State = job.Pending(latest)
		case job.PhaseReady:
			if inst.State.Fingerprint != latest {
				inst.State = job.Pending(latest)
			}
		case job.PhasePending:
			inst.State.Fingerprint = latest
		case job.PhaseInFlight:
			s.checkStall(inst, frame)
		}
		if inst.State.Is(job.PhasePending) {
			out = append(out, Candidate{ID: inst.ID, Snapshot: inst.Latest})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Snapshot.Priority.Compare(out[j].Snapshot.Priority); c != 0 {
			return c > 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Scheduler) checkStall(inst *Instance, frame uint64) {
	if s.cfg.StallWarnFrames == 0 || inst.stallWarned {
		return
	}
	if frame-inst.State.Frame >= s.cfg.StallWarnFrames {
		inst.stallWarned = true
		logging.L().Warn("sched: job in flight for many frames",
			"entity", inst.ID, "type", inst.Type,
			"fingerprint", inst.State.Fingerprint, "frames", frame-inst.State.Frame)
	}
}

// MarkInFlight records a successful submission of fp for id.
func (s *Scheduler) MarkInFlight(id job.EntityID, fp job.Fingerprint, frame uint64, token uuid.UUID) error {
	inst, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("sched: unknown entity %d", id)
	}
	if !inst.State.Is(job.PhasePending) || inst.State.Fingerprint != fp {
		return fmt.Errorf("sched: entity %d is %s, cannot submit %s", id, inst.State, fp)
	}
	inst.State = job.InFlight(fp, frame)
	inst.Token = token
	inst.stallWarned = false
	return nil
}

// Matches reports whether a resolution for (fp, token) belongs to the
// in-flight work of id, and whether that instance is being disposed.
func (s *Scheduler) Matches(id job.EntityID, fp job.Fingerprint, token uuid.UUID) (match, disposing bool) {
	inst, ok := s.instances[id]
	if !ok || !inst.State.Is(job.PhaseInFlight) {
		return false, false
	}
	if inst.State.Fingerprint != fp || inst.Token != token {
		return false, false
	}
	return true, inst.Disposing
}

// Complete resolves the in-flight work of id successfully. result, when
// non-nil, replaces the stored readback bytes.
func (s *Scheduler) Complete(id job.EntityID, fp job.Fingerprint, token uuid.UUID, frame uint64, result []byte) (Outcome, error) {
	match, disposing := s.Matches(id, fp, token)
	if !match {
		return OutcomeStale, nil
	}
	inst := s.instances[id]
	if disposing {
		return OutcomeDisposed, s.dispose(inst)
	}
	inst.Token = uuid.Nil
	inst.State = job.Ready(fp, frame)
	inst.HasResult = true
	inst.Completed = fp
	inst.Failures = 0
	if result != nil {
		inst.Result = result
	}
	if inst.Latest.Fingerprint != fp {
		inst.State = job.Pending(inst.Latest.Fingerprint)
		return OutcomeRequeued, nil
	}
	return OutcomeReady, nil
}

// Fail resolves the in-flight work of id with a failure. The instance
// returns to Pending for its newest fingerprint.
func (s *Scheduler) Fail(id job.EntityID, fp job.Fingerprint, token uuid.UUID) (Outcome, error) {
	match, disposing := s.Matches(id, fp, token)
	if !match {
		return OutcomeStale, nil
	}
	inst := s.instances[id]
	if disposing {
		return OutcomeDisposed, s.dispose(inst)
	}
	inst.Token = uuid.Nil
	inst.Failures++
	inst.State = job.Pending(inst.Latest.Fingerprint)
	return OutcomeRetry, nil
}

// Get returns a copy of the instance record for id.
func (s *Scheduler) Get(id job.EntityID) (Instance, bool) {
	inst, ok := s.instances[id]
	if !ok {
		return Instance{}, false
	}
	return *inst, true
}

// State returns the lifecycle state of id.
func (s *Scheduler) State(id job.EntityID) (job.State, bool) {
	inst, ok := s.instances[id]
	if !ok {
		return job.State{}, false
	}
	return inst.State, true
}

// Len returns the number of live instances, including those awaiting
// disposal.
func (s *Scheduler) Len() int { return len(s.instances) }

// Count returns the number of instances in phase p.
func (s *Scheduler) Count(p job.Phase) int {
	n := 0
	for _, inst := range s.instances {
		if inst.State.Is(p) {
			n++
		}
	}
	return n
}

// IDs returns every live entity in ascending order.
func (s *Scheduler) IDs() []job.EntityID {
	ids := make([]job.EntityID, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
