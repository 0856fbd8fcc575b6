package sched

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/gogpu/gigs/internal/logging"
	"github.com/gogpu/gigs/job"
)

const (
	f1 job.Fingerprint = 0x11
	f2 job.Fingerprint = 0x22
	f3 job.Fingerprint = 0x33
)

func snap(fp job.Fingerprint) job.Snapshot {
	return job.Snapshot{Type: "t", Fingerprint: fp}
}

type releases struct{ ids []job.EntityID }

func (r *releases) fn(id job.EntityID) error {
	r.ids = append(r.ids, id)
	return nil
}

func newScheduler(t *testing.T) (*Scheduler, *releases) {
	t.Helper()
	r := &releases{}
	return New(Config{}, r.fn), r
}

// submit advances one frame and moves id to InFlight for its pending
// fingerprint.
func submit(t *testing.T, s *Scheduler, id job.EntityID, frame uint64) (job.Fingerprint, uuid.UUID) {
	t.Helper()
	s.Advance(frame)
	st, _ := s.State(id)
	if !st.Is(job.PhasePending) {
		t.Fatalf("entity %d is %s, want Pending", id, st)
	}
	tok := uuid.New()
	if err := s.MarkInFlight(id, st.Fingerprint, frame, tok); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	return st.Fingerprint, tok
}

func wantState(t *testing.T, s *Scheduler, id job.EntityID, want job.State) {
	t.Helper()
	got, ok := s.State(id)
	if !ok {
		t.Fatalf("entity %d missing", id)
	}
	if got != want {
		t.Errorf("entity %d state = %s, want %s", id, got, want)
	}
}

func TestChangeDuringFlightRequeues(t *testing.T) {
	s, _ := newScheduler(t)

	s.Observe(1, snap(f1))
	fp, tok := submit(t, s, 1, 1)
	wantState(t, s, 1, job.InFlight(f1, 1))

	s.Observe(1, snap(f2))
	s.Advance(2)
	wantState(t, s, 1, job.InFlight(f1, 1))

	out, err := s.Complete(1, fp, tok, 3, nil)
	if err != nil || out != OutcomeRequeued {
		t.Fatalf("Complete = %s, %v; want requeued", out, err)
	}
	wantState(t, s, 1, job.Pending(f2))
	inst, _ := s.Get(1)
	if !inst.HasResult || inst.Completed != f1 {
		t.Errorf("completed = %s, want %s", inst.Completed, f1)
	}

	fp, tok = submit(t, s, 1, 4)
	if fp != f2 {
		t.Fatalf("second dispatch fingerprint = %s, want %s", fp, f2)
	}
	if out, _ := s.Complete(1, fp, tok, 5, nil); out != OutcomeReady {
		t.Errorf("Complete = %s, want ready", out)
	}
	wantState(t, s, 1, job.Ready(f2, 5))
}

func TestIntermediateFingerprintsCoalesce(t *testing.T) {
	s, _ := newScheduler(t)
	s.Observe(1, snap(f1))
	fp, tok := submit(t, s, 1, 1)

	s.Observe(1, snap(f2))
	s.Advance(2)
	s.Observe(1, snap(f3))
	s.Advance(3)

	if out, _ := s.Complete(1, fp, tok, 4, nil); out != OutcomeRequeued {
		t.Fatalf("Complete = %s, want requeued", out)
	}
	wantState(t, s, 1, job.Pending(f3))
}

func TestRevertDuringFlightDoesNotRequeue(t *testing.T) {
	s, _ := newScheduler(t)
	s.Observe(1, snap(f1))
	fp, tok := submit(t, s, 1, 1)
	s.Observe(1, snap(f2))
	s.Observe(1, snap(f1))

	if out, _ := s.Complete(1, fp, tok, 2, nil); out != OutcomeReady {
		t.Errorf("Complete = %s, want ready", out)
	}
	wantState(t, s, 1, job.Ready(f1, 2))
}

func TestUnchangedReadyIsIdempotent(t *testing.T) {
	s, _ := newScheduler(t)
	s.Observe(1, snap(f1))
	fp, tok := submit(t, s, 1, 1)
	_, _ = s.Complete(1, fp, tok, 2, nil)

	for frame := uint64(3); frame < 10; frame++ {
		s.Observe(1, snap(f1))
		if c := s.Advance(frame); len(c) != 0 {
			t.Fatalf("frame %d: unexpected candidates %v", frame, c)
		}
	}
	wantState(t, s, 1, job.Ready(f1, 2))
}

func TestAtMostOneInFlight(t *testing.T) {
	s, _ := newScheduler(t)
	s.Observe(1, snap(f1))
	submit(t, s, 1, 1)
	s.Observe(1, snap(f2))
	if c := s.Advance(2); len(c) != 0 {
		t.Errorf("in-flight instance must not be a candidate, got %v", c)
	}
	if err := s.MarkInFlight(1, f2, 2, uuid.New()); err == nil {
		t.Error("second MarkInFlight while in flight should fail")
	}
}

func TestFailureReturnsToPending(t *testing.T) {
	s, _ := newScheduler(t)
	s.Observe(1, snap(f1))
	fp, tok := submit(t, s, 1, 1)
	s.Observe(1, snap(f2))

	out, err := s.Fail(1, fp, tok)
	if err != nil || out != OutcomeRetry {
		t.Fatalf("Fail = %s, %v; want retry", out, err)
	}
	wantState(t, s, 1, job.Pending(f2))
	inst, _ := s.Get(1)
	if inst.Failures != 1 || inst.HasResult {
		t.Errorf("failures=%d hasResult=%v", inst.Failures, inst.HasResult)
	}
}

func TestStaleResolutionIgnored(t *testing.T) {
	s, _ := newScheduler(t)
	s.Observe(1, snap(f1))
	fp, _ := submit(t, s, 1, 1)

	if out, _ := s.Complete(1, fp, uuid.New(), 2, nil); out != OutcomeStale {
		t.Errorf("wrong token: %s, want stale", out)
	}
	if out, _ := s.Complete(1, f3, uuid.Nil, 2, nil); out != OutcomeStale {
		t.Errorf("wrong fingerprint: %s, want stale", out)
	}
	if out, _ := s.Fail(99, fp, uuid.Nil); out != OutcomeStale {
		t.Errorf("unknown entity: %s, want stale", out)
	}
	wantState(t, s, 1, job.InFlight(f1, 1))
}

func TestRemoveIdleReleasesNow(t *testing.T) {
	s, rel := newScheduler(t)
	s.Observe(1, snap(f1))
	s.Advance(1)
	if err := s.Remove(1); err != nil {
		t.Fatal(err)
	}
	if len(rel.ids) != 1 || s.Len() != 0 {
		t.Errorf("released=%v len=%d", rel.ids, s.Len())
	}
}

func TestRemoveInFlightDefersRelease(t *testing.T) {
	s, rel := newScheduler(t)
	s.Observe(1, snap(f1))
	fp, tok := submit(t, s, 1, 1)

	if err := s.Remove(1); err != nil {
		t.Fatal(err)
	}
	if len(rel.ids) != 0 {
		t.Fatal("release must wait for in-flight work")
	}
	if c := s.Advance(2); len(c) != 0 {
		t.Errorf("disposing instance must not be dispatched, got %v", c)
	}
	if _, disposing := s.Matches(1, fp, tok); !disposing {
		t.Error("Matches should report disposal")
	}

	out, err := s.Complete(1, fp, tok, 3, nil)
	if err != nil || out != OutcomeDisposed {
		t.Fatalf("Complete = %s, %v; want disposed", out, err)
	}
	if len(rel.ids) != 1 || rel.ids[0] != 1 {
		t.Errorf("released = %v, want [1]", rel.ids)
	}
	if _, ok := s.State(1); ok {
		t.Error("disposed instance should be gone")
	}
}

// flakyRelease fails the first n calls with errBusy.
type flakyRelease struct {
	n   int
	ids []job.EntityID
}

var errBusy = errors.New("busy")

func (r *flakyRelease) fn(id job.EntityID) error {
	if r.n > 0 {
		r.n--
		return errBusy
	}
	r.ids = append(r.ids, id)
	return nil
}

func TestFailedReleaseRetriedOnAdvance(t *testing.T) {
	rel := &flakyRelease{n: 1}
	s := New(Config{}, rel.fn)
	s.Observe(1, snap(f1))
	s.Advance(1)

	if err := s.Remove(1); !errors.Is(err, errBusy) {
		t.Fatalf("Remove = %v, want errBusy", err)
	}
	if s.Len() != 1 {
		t.Fatal("instance must be kept while its release fails")
	}
	if inst, _ := s.Get(1); !inst.Disposing {
		t.Error("instance should stay marked disposing")
	}

	if c := s.Advance(2); len(c) != 0 {
		t.Errorf("disposing instance dispatched: %v", c)
	}
	if len(rel.ids) != 1 || s.Len() != 0 {
		t.Errorf("released=%v len=%d, want release retried", rel.ids, s.Len())
	}
}

func TestFailedReleaseAfterFlightRetried(t *testing.T) {
	rel := &flakyRelease{n: 1}
	s := New(Config{}, rel.fn)
	s.Observe(1, snap(f1))
	fp, tok := submit(t, s, 1, 1)
	_ = s.Remove(1)

	out, err := s.Complete(1, fp, tok, 2, nil)
	if out != OutcomeDisposed || !errors.Is(err, errBusy) {
		t.Fatalf("Complete = %s, %v; want disposed with errBusy", out, err)
	}
	st, ok := s.State(1)
	if !ok || st.Is(job.PhaseInFlight) {
		t.Fatalf("state = %s, %v; want kept and no longer in flight", st, ok)
	}
	if out, _ := s.Complete(1, fp, tok, 2, nil); out != OutcomeStale {
		t.Errorf("repeated resolution = %s, want stale", out)
	}

	if c := s.Advance(3); len(c) != 0 {
		t.Errorf("disposing instance dispatched: %v", c)
	}
	if len(rel.ids) != 1 || s.Len() != 0 {
		t.Errorf("released=%v len=%d", rel.ids, s.Len())
	}
}

func TestObserveCancelsDisposal(t *testing.T) {
	s, rel := newScheduler(t)
	s.Observe(1, snap(f1))
	fp, tok := submit(t, s, 1, 1)
	_ = s.Remove(1)
	s.Observe(1, snap(f2))

	if out, _ := s.Complete(1, fp, tok, 2, nil); out != OutcomeRequeued {
		t.Errorf("Complete = %s, want requeued", out)
	}
	if len(rel.ids) != 0 {
		t.Errorf("released = %v, want none", rel.ids)
	}
}

func TestAdvanceOrdersByPriority(t *testing.T) {
	s, _ := newScheduler(t)
	add := func(id job.EntityID, p job.Priority) {
		sn := snap(f1)
		sn.Priority = p
		s.Observe(id, sn)
	}
	add(5, job.NonCritical(1))
	add(3, job.NonCritical(1))
	add(4, job.NonCritical(7))
	add(9, job.Critical())

	got := s.Advance(1)
	want := []job.EntityID{9, 4, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i, c := range got {
		if c.ID != want[i] {
			t.Errorf("candidate %d = entity %d, want %d", i, c.ID, want[i])
		}
	}
}

func TestPendingTracksLatest(t *testing.T) {
	s, _ := newScheduler(t)
	s.Observe(1, snap(f1))
	s.Advance(1)
	s.Observe(1, snap(f2))
	c := s.Advance(2)
	if len(c) != 1 || c[0].Snapshot.Fingerprint != f2 {
		t.Fatalf("candidates = %v, want one with %s", c, f2)
	}
	wantState(t, s, 1, job.Pending(f2))
}

func TestCompleteStoresResult(t *testing.T) {
	s, _ := newScheduler(t)
	s.Observe(1, snap(f1))
	fp, tok := submit(t, s, 1, 1)
	if _, err := s.Complete(1, fp, tok, 2, []byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	inst, _ := s.Get(1)
	if len(inst.Result) != 2 {
		t.Errorf("result = %v, want 2 bytes", inst.Result)
	}
}

func TestCount(t *testing.T) {
	s, _ := newScheduler(t)
	s.Observe(1, snap(f1))
	s.Observe(2, snap(f1))
	submit(t, s, 1, 1)
	if n := s.Count(job.PhaseInFlight); n != 1 {
		t.Errorf("in flight = %d, want 1", n)
	}
	if n := s.Count(job.PhasePending); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
	if ids := s.IDs(); len(ids) != 2 || ids[0] != 1 {
		t.Errorf("IDs = %v", ids)
	}
}

// captureHandler records every log record.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h *captureHandler) WithGroup(string) slog.Handler            { return h }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *captureHandler) count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Level == level {
			n++
		}
	}
	return n
}

func captureLogs(t *testing.T) *captureHandler {
	t.Helper()
	h := &captureHandler{}
	logging.Set(slog.New(h))
	t.Cleanup(func() { logging.Set(nil) })
	return h
}

func TestStallWarning(t *testing.T) {
	logs := captureLogs(t)
	s := New(Config{StallWarnFrames: 3}, nil)
	s.Observe(1, snap(f1))
	fp, tok := submit(t, s, 1, 1)

	s.Advance(2)
	s.Advance(3)
	if n := logs.count(slog.LevelWarn); n != 0 {
		t.Fatalf("warned after 2 frames in flight (%d records)", n)
	}
	s.Advance(4)
	if n := logs.count(slog.LevelWarn); n != 1 {
		t.Fatalf("warnings after 3 frames = %d, want 1", n)
	}
	for f := uint64(5); f < 20; f++ {
		s.Advance(f)
	}
	if n := logs.count(slog.LevelWarn); n != 1 {
		t.Errorf("warnings = %d, want a single warning per flight", n)
	}

	// A new flight re-arms the warning.
	if _, err := s.Complete(1, fp, tok, 20, nil); err != nil {
		t.Fatal(err)
	}
	s.Observe(1, snap(f2))
	submit(t, s, 1, 21)
	s.Advance(23)
	if n := logs.count(slog.LevelWarn); n != 1 {
		t.Fatalf("warnings = %d before the second stall", n)
	}
	s.Advance(24)
	if n := logs.count(slog.LevelWarn); n != 2 {
		t.Errorf("warnings = %d, want 2 after the second stall", n)
	}
}

func TestStallWarningDisabled(t *testing.T) {
	logs := captureLogs(t)
	s := New(Config{}, nil)
	s.Observe(1, snap(f1))
	submit(t, s, 1, 1)
	for f := uint64(2); f < 1000; f++ {
		s.Advance(f)
	}
	if n := logs.count(slog.LevelWarn); n != 0 {
		t.Errorf("warnings = %d with StallWarnFrames 0", n)
	}
}
