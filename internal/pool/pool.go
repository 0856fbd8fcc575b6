// Package pool owns the double-buffered GPU storage of every job instance.
//
// Each instance gets a Pair: two output slots of equal size, one uniform
// buffer for its parameters, and an optional host-readable staging buffer.
// One slot holds the latest confirmed result (the front); the other is the
// write target of the next dispatch (the back). Swap flips them and is only
// legal while the pair is pinned by an outstanding submission that has just
// completed.
package pool

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gogpu/gigs/gpucore"
	"github.com/gogpu/gigs/internal/logging"
	"github.com/gogpu/gigs/job"
)

// Pool errors.
var (
	// ErrNoPair is returned for an entity with no allocated pair.
	ErrNoPair = errors.New("pool: no buffer pair for entity")

	// ErrPairBusy is returned when a pinned pair would be released or
	// reallocated.
	ErrPairBusy = errors.New("pool: buffer pair is pinned by outstanding work")

	// ErrAlreadyBorrowed is returned when the write target of a pair is
	// borrowed twice in one frame.
	ErrAlreadyBorrowed = errors.New("pool: write target already borrowed this frame")

	// ErrNotPinned is returned by Swap and Unpin on a pair with no
	// outstanding submission.
	ErrNotPinned = errors.New("pool: buffer pair is not pinned")

	// ErrZeroSize is returned for an allocation of zero bytes.
	ErrZeroSize = errors.New("pool: output size must be non-zero")
)

// Spec describes the buffers an instance needs.
type Spec struct {
	Label       string
	OutputSize  uint64
	UniformSize uint64
	Readback    bool
}

// Pair is the buffer set of one instance.
type Pair struct {
	spec     Spec
	slots    [2]gpucore.BufferID
	uniform  gpucore.BufferID
	staging  gpucore.BufferID
	front    uint8
	swaps    uint64
	lastSwap time.Duration
	pins     int

	// borrowed is the frame of the last BorrowWrite, valid when hasBorrow.
	borrowed  uint64
	hasBorrow bool
}

func (p *Pair) back() uint8 { return 1 - p.front }

// Target is what a dispatch writes through.
type Target struct {
	// Output is the back slot; the dispatch writes it.
	Output gpucore.BufferID
	// Previous is the front slot holding the latest confirmed result.
	Previous gpucore.BufferID
	Uniform  gpucore.BufferID
	// Staging is InvalidID unless the pair was allocated for readback.
	Staging gpucore.BufferID
	Size    uint64
}

// View is the read-only state a consumer sees.
type View struct {
	Front    gpucore.BufferID
	Back     gpucore.BufferID
	Staging  gpucore.BufferID
	Size     uint64
	Swaps    uint64
	LastSwap time.Duration
	Pinned   bool
}

// Stats counts pool activity.
type Stats struct {
	Pairs       int
	Bytes       uint64
	Allocations uint64
	Releases    uint64
	Reallocs    uint64
}

// Pool maps entities to their buffer pairs. It is driven from the frame
// loop goroutine and is not safe for concurrent use.
type Pool struct {
	device gpucore.Device
	pairs  map[job.EntityID]*Pair
	stats  Stats
}

// New returns an empty pool allocating from device.
func New(device gpucore.Device) *Pool {
	return &Pool{device: device, pairs: make(map[job.EntityID]*Pair)}
}

// Acquire returns the pair for id, allocating it on first use. A pair whose
// spec changed is reallocated when it is not pinned; its previous result is
// discarded.
func (p *Pool) Acquire(id job.EntityID, spec Spec) (*Pair, error) {
	if spec.OutputSize == 0 {
		return nil, ErrZeroSize
	}
	if pair, ok := p.pairs[id]; ok {
		if pair.spec.OutputSize == spec.OutputSize &&
			pair.spec.UniformSize == spec.UniformSize &&
			pair.spec.Readback == spec.Readback {
			return pair, nil
		}
		if pair.pins > 0 {
			return nil, fmt.Errorf("%w: reallocate entity %d", ErrPairBusy, id)
		}
		logging.L().Debug("pool: reallocating pair",
			"entity", id, "old_size", pair.spec.OutputSize, "new_size", spec.OutputSize)
		p.destroy(id, pair)
		p.stats.Reallocs++
	}

	pair, err := p.allocate(spec)
	if err != nil {
		return nil, err
	}
	p.pairs[id] = pair
	p.stats.Allocations++
	p.stats.Pairs = len(p.pairs)
	p.stats.Bytes += pairBytes(spec)
	return pair, nil
}

func (p *Pool) allocate(spec Spec) (*Pair, error) {
	pair := &Pair{spec: spec}
	var created []gpucore.BufferID
	fail := func(err error) (*Pair, error) {
		for _, b := range created {
			p.device.DestroyBuffer(b)
		}
		return nil, err
	}
	create := func(label string, size uint64, usage gpucore.BufferUsage) (gpucore.BufferID, error) {
		id, err := p.device.CreateBuffer(&gpucore.BufferDesc{Label: label, Size: size, Usage: usage})
		if err != nil {
			return gpucore.InvalidID, fmt.Errorf("pool: create %s: %w", label, err)
		}
		created = append(created, id)
		return id, nil
	}

	usage := gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc | gpucore.BufferUsageCopyDst
	for i := range pair.slots {
		id, err := create(fmt.Sprintf("%s_slot%d", spec.Label, i), spec.OutputSize, usage)
		if err != nil {
			return fail(err)
		}
		pair.slots[i] = id
	}
	if spec.UniformSize > 0 {
		id, err := create(spec.Label+"_params", spec.UniformSize, gpucore.BufferUsageUniform|gpucore.BufferUsageCopyDst)
		if err != nil {
			return fail(err)
		}
		pair.uniform = id
	}
	if spec.Readback {
		id, err := create(spec.Label+"_staging", spec.OutputSize, gpucore.BufferUsageMapRead|gpucore.BufferUsageCopyDst)
		if err != nil {
			return fail(err)
		}
		pair.staging = id
	}
	return pair, nil
}

// BorrowWrite returns the write target of id for frame. A pair can be
// borrowed at most once per frame and never while pinned.
func (p *Pool) BorrowWrite(id job.EntityID, frame uint64) (Target, error) {
	pair, ok := p.pairs[id]
	if !ok {
		return Target{}, fmt.Errorf("%w: %d", ErrNoPair, id)
	}
	if pair.pins > 0 {
		return Target{}, fmt.Errorf("%w: borrow entity %d", ErrPairBusy, id)
	}
	if pair.hasBorrow && pair.borrowed == frame {
		return Target{}, fmt.Errorf("%w: entity %d frame %d", ErrAlreadyBorrowed, id, frame)
	}
	pair.hasBorrow, pair.borrowed = true, frame
	return Target{
		Output:   pair.slots[pair.back()],
		Previous: pair.slots[pair.front],
		Uniform:  pair.uniform,
		Staging:  pair.staging,
		Size:     pair.spec.OutputSize,
	}, nil
}

// Pin records an outstanding submission against id.
func (p *Pool) Pin(id job.EntityID) error {
	pair, ok := p.pairs[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoPair, id)
	}
	pair.pins++
	return nil
}

// Unpin drops one outstanding submission from id.
func (p *Pool) Unpin(id job.EntityID) error {
	pair, ok := p.pairs[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoPair, id)
	}
	if pair.pins == 0 {
		return fmt.Errorf("%w: unpin entity %d", ErrNotPinned, id)
	}
	pair.pins--
	return nil
}

// Swap makes the back slot the front after a confirmed completion. The
// pair must still be pinned by the completing submission.
func (p *Pool) Swap(id job.EntityID, now time.Duration) error {
	pair, ok := p.pairs[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoPair, id)
	}
	if pair.pins == 0 {
		return fmt.Errorf("%w: swap entity %d", ErrNotPinned, id)
	}
	pair.front = pair.back()
	pair.swaps++
	pair.lastSwap = now
	return nil
}

// Release destroys the buffers of id. Releasing an entity with no pair is
// a no-op. A pinned pair is left untouched and ErrPairBusy is returned.
func (p *Pool) Release(id job.EntityID) error {
	pair, ok := p.pairs[id]
	if !ok {
		return nil
	}
	if pair.pins > 0 {
		return fmt.Errorf("%w: release entity %d", ErrPairBusy, id)
	}
	p.destroy(id, pair)
	p.stats.Releases++
	return nil
}

func (p *Pool) destroy(id job.EntityID, pair *Pair) {
	for _, b := range pair.slots {
		p.device.DestroyBuffer(b)
	}
	if pair.uniform != gpucore.InvalidID {
		p.device.DestroyBuffer(pair.uniform)
	}
	if pair.staging != gpucore.InvalidID {
		p.device.DestroyBuffer(pair.staging)
	}
	delete(p.pairs, id)
	p.stats.Pairs = len(p.pairs)
	p.stats.Bytes -= pairBytes(pair.spec)
}

// Read returns the consumer view of id.
func (p *Pool) Read(id job.EntityID) (View, bool) {
	pair, ok := p.pairs[id]
	if !ok {
		return View{}, false
	}
	return View{
		Front:    pair.slots[pair.front],
		Back:     pair.slots[pair.back()],
		Staging:  pair.staging,
		Size:     pair.spec.OutputSize,
		Swaps:    pair.swaps,
		LastSwap: pair.lastSwap,
		Pinned:   pair.pins > 0,
	}, true
}

// Entities returns the IDs with allocated pairs in ascending order.
func (p *Pool) Entities() []job.EntityID {
	ids := make([]job.EntityID, 0, len(p.pairs))
	for id := range p.pairs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Stats returns pool counters.
func (p *Pool) Stats() Stats { return p.stats }

// Close releases every unpinned pair and returns how many pinned pairs
// remain.
func (p *Pool) Close() int {
	busy := 0
	for _, id := range p.Entities() {
		if err := p.Release(id); err != nil {
			busy++
		}
	}
	return busy
}

func pairBytes(s Spec) uint64 {
	n := 2*s.OutputSize + s.UniformSize
	if s.Readback {
		n += s.OutputSize
	}
	return n
}
