// Package gputest provides a scriptable in-memory gpucore.Device for tests.
//
// Submissions stay outstanding until the test resolves them with Complete,
// CompleteAll or Fail; the done callbacks then run from the next Poll, in
// resolution order. Buffers are plain byte slices so readback and kernel
// effects are observable.
package gputest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/gigs/gpucore"
)

// Kernel simulates a compute dispatch. It runs when a submission is
// completed, before any readback copy.
type Kernel func(desc *gpucore.DispatchDesc, buffers map[gpucore.BufferID][]byte)

type submission struct {
	id       gpucore.SubmissionID
	desc     gpucore.DispatchDesc
	done     func(error)
	resolved bool
	err      error
}

// Device is a fake gpucore.Device.
type Device struct {
	mu sync.Mutex

	caps     gpucore.Capabilities
	nextID   uint64
	buffers  map[gpucore.BufferID][]byte
	usage    map[gpucore.BufferID]gpucore.BufferUsage
	labels   map[gpucore.BufferID]string
	pipes    map[gpucore.ComputePipelineID]gpucore.ComputePipelineDesc
	subs     []*submission
	resolved []*submission
	history  []gpucore.DispatchDesc

	// Kernel, when set, runs for every completed submission.
	Kernel Kernel

	failBuffers   int
	failPipelines int
	failSubmits   int
	lost          bool
	destroyed     bool

	createdBuffers   int
	destroyedBuffers int
	createdPipes     int
	destroyedPipes   int
}

var _ gpucore.Device = (*Device)(nil)

// New returns a fake device with default capabilities.
func New() *Device {
	return &Device{
		caps:    gpucore.DefaultCapabilities(),
		buffers: make(map[gpucore.BufferID][]byte),
		usage:   make(map[gpucore.BufferID]gpucore.BufferUsage),
		labels:  make(map[gpucore.BufferID]string),
		pipes:   make(map[gpucore.ComputePipelineID]gpucore.ComputePipelineDesc),
	}
}

// SetCapabilities overrides the reported limits.
func (d *Device) SetCapabilities(c gpucore.Capabilities) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps = c
}

// FailNextBuffers makes the next n CreateBuffer calls fail.
func (d *Device) FailNextBuffers(n int) { d.mu.Lock(); d.failBuffers = n; d.mu.Unlock() }

// FailNextPipelines makes the next n CreateComputePipeline calls fail.
func (d *Device) FailNextPipelines(n int) { d.mu.Lock(); d.failPipelines = n; d.mu.Unlock() }

// FailNextSubmits makes the next n Submit calls fail.
func (d *Device) FailNextSubmits(n int) { d.mu.Lock(); d.failSubmits = n; d.mu.Unlock() }

// Capabilities implements gpucore.Device.
func (d *Device) Capabilities() gpucore.Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

// CreateBuffer implements gpucore.Device.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return gpucore.InvalidID, err
	}
	if d.failBuffers > 0 {
		d.failBuffers--
		return gpucore.InvalidID, fmt.Errorf("gputest: out of memory allocating %q", desc.Label)
	}
	if err := gpucore.ValidateBufferSize(desc.Size, d.caps); err != nil {
		return gpucore.InvalidID, err
	}
	d.nextID++
	id := gpucore.BufferID(d.nextID)
	d.buffers[id] = make([]byte, desc.Size)
	d.usage[id] = desc.Usage
	d.labels[id] = desc.Label
	d.createdBuffers++
	return id, nil
}

// DestroyBuffer implements gpucore.Device.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[id]; !ok {
		return
	}
	delete(d.buffers, id)
	delete(d.usage, id)
	delete(d.labels, id)
	d.destroyedBuffers++
}

// WriteBuffer implements gpucore.Device.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return err
	}
	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: %d", gpucore.ErrUnknownBuffer, id)
	}
	if offset+uint64(len(data)) > uint64(len(buf)) {
		return fmt.Errorf("%w: write %d bytes at %d into %d", gpucore.ErrOutOfRange, len(data), offset, len(buf))
	}
	copy(buf[offset:], data)
	return nil
}

// ReadBuffer implements gpucore.Device.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset uint64, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return err
	}
	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: %d", gpucore.ErrUnknownBuffer, id)
	}
	if offset+uint64(len(dst)) > uint64(len(buf)) {
		return fmt.Errorf("%w: read %d bytes at %d from %d", gpucore.ErrOutOfRange, len(dst), offset, len(buf))
	}
	copy(dst, buf[offset:])
	return nil
}

// CreateComputePipeline implements gpucore.Device.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return gpucore.InvalidID, err
	}
	if d.failPipelines > 0 {
		d.failPipelines--
		return gpucore.InvalidID, fmt.Errorf("gputest: pipeline %q rejected", desc.Label)
	}
	d.nextID++
	id := gpucore.ComputePipelineID(d.nextID)
	d.pipes[id] = *desc
	d.createdPipes++
	return id, nil
}

// DestroyComputePipeline implements gpucore.Device.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pipes[id]; !ok {
		return
	}
	delete(d.pipes, id)
	d.destroyedPipes++
}

// Submit implements gpucore.Device.
func (d *Device) Submit(desc *gpucore.DispatchDesc, done func(error)) (gpucore.SubmissionID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return gpucore.InvalidID, err
	}
	if d.failSubmits > 0 {
		d.failSubmits--
		return gpucore.InvalidID, fmt.Errorf("gputest: submit %q rejected", desc.Label)
	}
	if _, ok := d.pipes[desc.Pipeline]; !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: %d", gpucore.ErrUnknownPipeline, desc.Pipeline)
	}
	for _, b := range desc.Bindings {
		if _, ok := d.buffers[b.Buffer]; !ok {
			return gpucore.InvalidID, fmt.Errorf("%w: binding %d", gpucore.ErrUnknownBuffer, b.Binding)
		}
	}
	if err := gpucore.ValidateWorkgroups(desc.Workgroups, d.caps); err != nil {
		return gpucore.InvalidID, err
	}
	d.nextID++
	s := &submission{id: gpucore.SubmissionID(d.nextID), desc: *desc, done: done}
	s.desc.Bindings = append([]gpucore.BufferBinding(nil), desc.Bindings...)
	d.subs = append(d.subs, s)
	d.history = append(d.history, s.desc)
	return s.id, nil
}

// Poll implements gpucore.Device. Callbacks run outside the device lock.
func (d *Device) Poll() error {
	d.mu.Lock()
	ready := d.resolved
	d.resolved = nil
	lost := d.lost
	d.mu.Unlock()

	for _, s := range ready {
		s.done(s.err)
	}
	if lost {
		return gpucore.ErrDeviceLost
	}
	return nil
}

// Outstanding implements gpucore.Device.
func (d *Device) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs) + len(d.resolved)
}

// Destroy implements gpucore.Device.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	d.buffers = make(map[gpucore.BufferID][]byte)
	d.pipes = make(map[gpucore.ComputePipelineID]gpucore.ComputePipelineDesc)
}

// Pending returns the IDs of submissions not yet resolved by the test.
func (d *Device) Pending() []gpucore.SubmissionID {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]gpucore.SubmissionID, len(d.subs))
	for i, s := range d.subs {
		ids[i] = s.id
	}
	return ids
}

// Complete marks a submission successful: the kernel runs and any readback
// copy is applied. The callback fires on the next Poll.
func (d *Device) Complete(id gpucore.SubmissionID) bool {
	return d.resolve(id, nil)
}

// Fail marks a submission failed with err.
func (d *Device) Fail(id gpucore.SubmissionID, err error) bool {
	return d.resolve(id, err)
}

// CompleteAll completes every unresolved submission in order.
func (d *Device) CompleteAll() int {
	ids := d.Pending()
	for _, id := range ids {
		d.Complete(id)
	}
	return len(ids)
}

// Lose simulates device loss: every unresolved submission fails with
// ErrDeviceLost and later calls return it.
func (d *Device) Lose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
	for _, s := range d.subs {
		s.resolved = true
		s.err = fmt.Errorf("gputest: %w", gpucore.ErrDeviceLost)
		d.resolved = append(d.resolved, s)
	}
	d.subs = nil
}

// Recover clears a previous Lose.
func (d *Device) Recover() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = false
}

func (d *Device) resolve(id gpucore.SubmissionID, err error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subs {
		if s.id != id {
			continue
		}
		d.subs = append(d.subs[:i], d.subs[i+1:]...)
		s.resolved = true
		s.err = err
		if err == nil {
			if d.Kernel != nil {
				d.Kernel(&s.desc, d.buffers)
			}
			if c := s.desc.Copy; c != nil {
				src, dst := d.buffers[c.Src], d.buffers[c.Dst]
				copy(dst[:min(uint64(len(dst)), c.Size)], src)
			}
		}
		d.resolved = append(d.resolved, s)
		return true
	}
	return false
}

func (d *Device) usable() error {
	if d.destroyed {
		return gpucore.ErrDeviceDestroyed
	}
	if d.lost {
		return gpucore.ErrDeviceLost
	}
	return nil
}

// Stats is a snapshot of resource counters.
type Stats struct {
	LiveBuffers      int
	CreatedBuffers   int
	DestroyedBuffers int
	LivePipelines    int
	CreatedPipelines int
	DestroyedPipes   int
	Submissions      int
}

// Stats returns resource counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		LiveBuffers:      len(d.buffers),
		CreatedBuffers:   d.createdBuffers,
		DestroyedBuffers: d.destroyedBuffers,
		LivePipelines:    len(d.pipes),
		CreatedPipelines: d.createdPipes,
		DestroyedPipes:   d.destroyedPipes,
		Submissions:      len(d.history),
	}
}

// History returns every accepted dispatch in submission order.
func (d *Device) History() []gpucore.DispatchDesc {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]gpucore.DispatchDesc(nil), d.history...)
}

// Bytes returns a copy of a buffer's contents, or nil if it does not exist.
func (d *Device) Bytes(id gpucore.BufferID) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return nil
	}
	return append([]byte(nil), buf...)
}

// Labels returns the labels of live buffers, sorted.
func (d *Device) Labels() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.labels))
	for _, l := range d.labels {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Usage returns the usage flags a live buffer was created with.
func (d *Device) Usage(id gpucore.BufferID) gpucore.BufferUsage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.usage[id]
}
