// Package completion correlates GPU submissions with job instances and
// applies their results at frame boundaries.
//
// Device callbacks only enqueue. All state changes happen in Poll, on the
// frame loop goroutine, in the order resolutions arrived.
package completion

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gogpu/gigs/gpucore"
	"github.com/gogpu/gigs/internal/logging"
	"github.com/gogpu/gigs/internal/pool"
	"github.com/gogpu/gigs/internal/sched"
	"github.com/gogpu/gigs/job"
)

// Handle identifies one outstanding submission.
type Handle struct {
	Token       uuid.UUID
	Entity      job.EntityID
	Type        job.TypeID
	Fingerprint job.Fingerprint
	Submitted   uint64
	Readback    bool
}

type resolution struct {
	handle Handle
	err    error
}

// queue is the only state touched from device callbacks.
type queue struct {
	mu    sync.Mutex
	items []resolution
}

func (q *queue) push(r resolution) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

func (q *queue) drain() []resolution {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Event is one applied resolution.
type Event struct {
	Entity      job.EntityID
	Type        job.TypeID
	Fingerprint job.Fingerprint
	Outcome     sched.Outcome
	// Err is a *job.CompletionError for failed work.
	Err error
}

// Result summarizes one Poll.
type Result struct {
	Events []Event
	Stale  int
	// DeviceErr is the error returned by the device poll, if any.
	DeviceErr error
}

// Tracker owns the outstanding submissions.
type Tracker struct {
	device gpucore.Device
	pool   *pool.Pool
	sched  *sched.Scheduler

	queue       queue
	outstanding map[uuid.UUID]Handle
}

// New returns a tracker applying results to p and s.
func New(device gpucore.Device, p *pool.Pool, s *sched.Scheduler) *Tracker {
	return &Tracker{
		device:      device,
		pool:        p,
		sched:       s,
		outstanding: make(map[uuid.UUID]Handle),
	}
}

// Track registers a submission about to be made and returns its handle.
func (t *Tracker) Track(entity job.EntityID, typ job.TypeID, fp job.Fingerprint, frame uint64, readback bool) Handle {
	h := Handle{
		Token:       uuid.New(),
		Entity:      entity,
		Type:        typ,
		Fingerprint: fp,
		Submitted:   frame,
		Readback:    readback,
	}
	t.outstanding[h.Token] = h
	return h
}

// Forget drops a handle whose submission was rejected.
func (t *Tracker) Forget(h Handle) {
	delete(t.outstanding, h.Token)
}

// Callback returns the done function to pass to Device.Submit for h.
func (t *Tracker) Callback(h Handle) func(error) {
	return func(err error) {
		t.queue.push(resolution{handle: h, err: err})
	}
}

// Outstanding returns the number of tracked submissions.
func (t *Tracker) Outstanding() int { return len(t.outstanding) }

// Poll lets the device resolve finished work, then applies every queued
// resolution in arrival order.
func (t *Tracker) Poll(frame uint64, now time.Duration) Result {
	var res Result
	if err := t.device.Poll(); err != nil {
		res.DeviceErr = err
		logging.L().Warn("completion: device poll failed", "err", err)
	}

	for _, r := range t.queue.drain() {
		h := r.handle
		if _, ok := t.outstanding[h.Token]; !ok {
			res.Stale++
			continue
		}
		delete(t.outstanding, h.Token)

		match, disposing := t.sched.Matches(h.Entity, h.Fingerprint, h.Token)
		if !match {
			t.unpin(h)
			res.Stale++
			continue
		}

		err := r.err
		var data []byte
		if err == nil && !disposing {
			data, err = t.apply(h, now)
		}
		t.unpin(h)

		ev := Event{Entity: h.Entity, Type: h.Type, Fingerprint: h.Fingerprint}
		if err != nil {
			ev.Err = &job.CompletionError{Entity: h.Entity, Type: h.Type, Fingerprint: h.Fingerprint, Err: err}
			ev.Outcome, err = t.sched.Fail(h.Entity, h.Fingerprint, h.Token)
			logging.L().Warn("completion: job failed",
				"entity", h.Entity, "type", h.Type, "fingerprint", h.Fingerprint, "err", ev.Err)
		} else {
			ev.Outcome, err = t.sched.Complete(h.Entity, h.Fingerprint, h.Token, frame, data)
		}
		if err != nil {
			logging.L().Warn("completion: release failed", "entity", h.Entity, "err", err)
		}
		res.Events = append(res.Events, ev)
	}
	return res
}

// apply reads back the result if requested and swaps the pair.
func (t *Tracker) apply(h Handle, now time.Duration) ([]byte, error) {
	var data []byte
	if h.Readback {
		v, ok := t.pool.Read(h.Entity)
		if !ok {
			return nil, pool.ErrNoPair
		}
		if v.Staging == gpucore.InvalidID {
			return nil, errors.New("completion: readback requested without staging buffer")
		}
		data = make([]byte, v.Size)
		if err := t.device.ReadBuffer(v.Staging, 0, data); err != nil {
			return nil, err
		}
	}
	if err := t.pool.Swap(h.Entity, now); err != nil {
		return nil, err
	}
	return data, nil
}

func (t *Tracker) unpin(h Handle) {
	if err := t.pool.Unpin(h.Entity); err != nil {
		logging.L().Debug("completion: unpin", "entity", h.Entity, "err", err)
	}
}
