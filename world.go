package gigs

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/gigs/job"
)

// Aliases for the identity and request types shared with the stages.
type (
	// EntityID identifies an entity.
	EntityID = job.EntityID
	// TypeID names a registered job type.
	TypeID = job.TypeID
	// Fingerprint digests a job type and its encoded parameters.
	Fingerprint = job.Fingerprint
	// Request is the job an entity wants run.
	Request = job.Request
	// Priority orders dispatches under the per-frame budget.
	Priority = job.Priority
	// State is the lifecycle state of an instance.
	State = job.State
)

// World is the simulation-side store of job requests. It may be mutated
// from any goroutine; the runner snapshots it once per frame.
type World struct {
	mu       sync.Mutex
	next     EntityID
	requests map[EntityID]Request
	removed  map[EntityID]struct{}
}

// NewWorld returns an empty world.
func NewWorld() *World {
	return &World{
		requests: make(map[EntityID]Request),
		removed:  make(map[EntityID]struct{}),
	}
}

// Spawn allocates a fresh entity ID. IDs start at 1.
func (w *World) Spawn() EntityID {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	return w.next
}

// Attach sets the request carried by id, replacing any previous one.
// Re-attaching an entity detached earlier in the same frame keeps its
// instance alive.
func (w *World) Attach(id EntityID, req Request) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id > w.next {
		w.next = id
	}
	w.requests[id] = req
	delete(w.removed, id)
}

// Update replaces the parameters of an existing request.
func (w *World) Update(id EntityID, params any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	req, ok := w.requests[id]
	if !ok {
		return fmt.Errorf("%w: entity %d", ErrNoRequest, id)
	}
	req.Params = params
	w.requests[id] = req
	return nil
}

// SetPriority replaces the priority of an existing request.
func (w *World) SetPriority(id EntityID, p Priority) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	req, ok := w.requests[id]
	if !ok {
		return fmt.Errorf("%w: entity %d", ErrNoRequest, id)
	}
	req.Priority = p
	w.requests[id] = req
	return nil
}

// Detach removes the request carried by id. It reports whether one existed.
func (w *World) Detach(id EntityID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.requests[id]; !ok {
		return false
	}
	delete(w.requests, id)
	w.removed[id] = struct{}{}
	return true
}

// Request returns the request carried by id.
func (w *World) Request(id EntityID) (Request, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	req, ok := w.requests[id]
	return req, ok
}

// Len returns the number of entities carrying requests.
func (w *World) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.requests)
}

// EachRequest calls fn for every request in ascending entity order. fn runs
// on a copy taken under the lock and may call back into the world.
func (w *World) EachRequest(fn func(id EntityID, req Request)) {
	w.mu.Lock()
	ids := make([]EntityID, 0, len(w.requests))
	for id := range w.requests {
		ids = append(ids, id)
	}
	reqs := make([]Request, len(ids))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		reqs[i] = w.requests[id]
	}
	w.mu.Unlock()

	for i, id := range ids {
		fn(id, reqs[i])
	}
}

// TakeRemoved returns the entities detached since the last call, in
// ascending order, and clears the list.
func (w *World) TakeRemoved() []EntityID {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]EntityID, 0, len(w.removed))
	for id := range w.removed {
		out = append(out, id)
	}
	clear(w.removed)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
