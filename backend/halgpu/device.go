// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package halgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gigs/gpucore"
	"github.com/gogpu/gigs/internal/logging"
)

type buffer struct {
	hal  hal.Buffer
	size uint64
}

// pipeline bundles a compute pipeline with the objects it was built from.
type pipeline struct {
	module hal.ShaderModule
	bgl    hal.BindGroupLayout
	layout hal.PipelineLayout
	pipe   hal.ComputePipeline
}

// submission is one queue submit awaiting its fence.
type submission struct {
	id    gpucore.SubmissionID
	fence hal.Fence
	cmd   hal.CommandBuffer
	bg    hal.BindGroup
	done  func(error)
}

// Device implements gpucore.Device on a wgpu HAL device and queue.
//
// Every submission gets its own fence signalled to 1. Poll checks fences
// in submission order with a zero timeout and stops at the first
// unsignalled one, so callbacks fire in submission order.
type Device struct {
	mu sync.Mutex

	caps     gpucore.Capabilities
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	// external devices belong to a host application and are not destroyed.
	external bool

	nextID    uint64
	buffers   map[gpucore.BufferID]*buffer
	pipelines map[gpucore.ComputePipelineID]*pipeline
	inflight  []*submission
	// failed holds callbacks owed to submissions cut off by Destroy.
	failed []resolved

	lost      bool
	destroyed bool
}

var _ gpucore.Device = (*Device)(nil)

func newDevice(name string, instance hal.Instance, device hal.Device, queue hal.Queue, external bool) *Device {
	caps := gpucore.DefaultCapabilities()
	caps.Name = name
	if lim := gputypes.DefaultLimits(); lim.MaxBufferSize > 0 {
		caps.MaxBufferSize = lim.MaxBufferSize
	}
	return &Device{
		caps:      caps,
		instance:  instance,
		device:    device,
		queue:     queue,
		external:  external,
		buffers:   make(map[gpucore.BufferID]*buffer),
		pipelines: make(map[gpucore.ComputePipelineID]*pipeline),
	}
}

// Capabilities implements gpucore.Device.
func (d *Device) Capabilities() gpucore.Capabilities { return d.caps }

func (d *Device) usable() error {
	if d.destroyed {
		return gpucore.ErrDeviceDestroyed
	}
	if d.lost {
		return gpucore.ErrDeviceLost
	}
	return nil
}

func (d *Device) id() uint64 {
	d.nextID++
	return d.nextID
}

// CreateBuffer implements gpucore.Device.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return gpucore.InvalidID, err
	}
	if err := gpucore.ValidateBufferSize(desc.Size, d.caps); err != nil {
		return gpucore.InvalidID, err
	}
	b, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("halgpu: create buffer %q: %w", desc.Label, err)
	}
	id := gpucore.BufferID(d.id())
	d.buffers[id] = &buffer{hal: b, size: desc.Size}
	return id, nil
}

// DestroyBuffer implements gpucore.Device.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return
	}
	delete(d.buffers, id)
	if !d.destroyed {
		d.device.DestroyBuffer(b.hal)
	}
}

func (d *Device) lookupBuffer(id gpucore.BufferID) (*buffer, error) {
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", gpucore.ErrUnknownBuffer, id)
	}
	return b, nil
}

// WriteBuffer implements gpucore.Device.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return err
	}
	b, err := d.lookupBuffer(id)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("%w: write %d bytes at %d into %d", gpucore.ErrOutOfRange, len(data), offset, b.size)
	}
	d.queue.WriteBuffer(b.hal, offset, data)
	return nil
}

// ReadBuffer implements gpucore.Device.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset uint64, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return err
	}
	b, err := d.lookupBuffer(id)
	if err != nil {
		return err
	}
	if offset+uint64(len(dst)) > b.size {
		return fmt.Errorf("%w: read %d bytes at %d from %d", gpucore.ErrOutOfRange, len(dst), offset, b.size)
	}
	if err := d.queue.ReadBuffer(b.hal, offset, dst); err != nil {
		return fmt.Errorf("halgpu: read buffer %d: %w", id, err)
	}
	return nil
}

// CreateComputePipeline implements gpucore.Device.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return gpucore.InvalidID, err
	}

	p := &pipeline{}
	var err error
	p.module, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{WGSL: desc.Source},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("halgpu: compile %q: %w", desc.Label, err)
	}

	entries := make([]gputypes.BindGroupLayoutEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    e.Binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: bindingType(e.Type)},
		}
	}
	p.bgl, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label + "_bind_layout",
		Entries: entries,
	})
	if err != nil {
		d.destroyPipeline(p)
		return gpucore.InvalidID, fmt.Errorf("halgpu: bind group layout %q: %w", desc.Label, err)
	}

	p.layout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.bgl},
	})
	if err != nil {
		d.destroyPipeline(p)
		return gpucore.InvalidID, fmt.Errorf("halgpu: pipeline layout %q: %w", desc.Label, err)
	}

	p.pipe, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  p.layout,
		Compute: hal.ComputeState{Module: p.module, EntryPoint: desc.EntryPoint},
	})
	if err != nil {
		d.destroyPipeline(p)
		return gpucore.InvalidID, fmt.Errorf("halgpu: compute pipeline %q: %w", desc.Label, err)
	}

	id := gpucore.ComputePipelineID(d.id())
	d.pipelines[id] = p
	return id, nil
}

// DestroyComputePipeline implements gpucore.Device.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pipelines[id]
	if !ok {
		return
	}
	delete(d.pipelines, id)
	if !d.destroyed {
		d.destroyPipeline(p)
	}
}

func (d *Device) destroyPipeline(p *pipeline) {
	if p.pipe != nil {
		d.device.DestroyComputePipeline(p.pipe)
	}
	if p.layout != nil {
		d.device.DestroyPipelineLayout(p.layout)
	}
	if p.bgl != nil {
		d.device.DestroyBindGroupLayout(p.bgl)
	}
	if p.module != nil {
		d.device.DestroyShaderModule(p.module)
	}
}

// Submit implements gpucore.Device. It records one compute pass, plus the
// readback copy if requested, and submits it with a fresh fence.
func (d *Device) Submit(desc *gpucore.DispatchDesc, done func(error)) (gpucore.SubmissionID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return gpucore.InvalidID, err
	}
	if err := gpucore.ValidateWorkgroups(desc.Workgroups, d.caps); err != nil {
		return gpucore.InvalidID, err
	}
	p, ok := d.pipelines[desc.Pipeline]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: %d", gpucore.ErrUnknownPipeline, desc.Pipeline)
	}

	s := &submission{done: done}
	submitted := false
	defer func() {
		if !submitted {
			d.release(s)
		}
	}()

	bg, err := d.bindGroup(desc, p)
	if err != nil {
		return gpucore.InvalidID, err
	}
	s.bg = bg

	s.cmd, err = d.encode(desc, p, bg)
	if err != nil {
		return gpucore.InvalidID, err
	}

	s.fence, err = d.device.CreateFence()
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("halgpu: create fence: %w", err)
	}
	if err := d.queue.Submit([]hal.CommandBuffer{s.cmd}, s.fence, 1); err != nil {
		return gpucore.InvalidID, fmt.Errorf("halgpu: submit %q: %w", desc.Label, err)
	}

	submitted = true
	s.id = gpucore.SubmissionID(d.id())
	d.inflight = append(d.inflight, s)
	return s.id, nil
}

func (d *Device) bindGroup(desc *gpucore.DispatchDesc, p *pipeline) (hal.BindGroup, error) {
	entries := make([]gputypes.BindGroupEntry, len(desc.Bindings))
	for i, b := range desc.Bindings {
		buf, err := d.lookupBuffer(b.Buffer)
		if err != nil {
			return nil, fmt.Errorf("binding %d: %w", b.Binding, err)
		}
		size := b.Size
		if size == 0 {
			size = buf.size - b.Offset
		}
		entries[i] = gputypes.BindGroupEntry{
			Binding:  b.Binding,
			Resource: gputypes.BufferBinding{Buffer: buf.hal.NativeHandle(), Offset: b.Offset, Size: size},
		}
	}
	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label + "_bind",
		Layout:  p.bgl,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("halgpu: create bind group: %w", err)
	}
	return bg, nil
}

func (d *Device) encode(desc *gpucore.DispatchDesc, p *pipeline, bg hal.BindGroup) (hal.CommandBuffer, error) {
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: desc.Label + "_encoder"})
	if err != nil {
		return nil, fmt.Errorf("halgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(desc.Label); err != nil {
		return nil, fmt.Errorf("halgpu: begin encoding: %w", err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: desc.Label})
	pass.SetPipeline(p.pipe)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(desc.Workgroups[0], desc.Workgroups[1], desc.Workgroups[2])
	pass.End()

	if c := desc.Copy; c != nil {
		src, err := d.lookupBuffer(c.Src)
		if err != nil {
			return nil, fmt.Errorf("copy source: %w", err)
		}
		dst, err := d.lookupBuffer(c.Dst)
		if err != nil {
			return nil, fmt.Errorf("copy destination: %w", err)
		}
		encoder.CopyBufferToBuffer(src.hal, dst.hal, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: 0, Size: c.Size},
		})
	}

	cmd, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("halgpu: end encoding: %w", err)
	}
	return cmd, nil
}

// release frees the per-submission objects.
func (d *Device) release(s *submission) {
	if d.destroyed {
		return
	}
	if s.fence != nil {
		d.device.DestroyFence(s.fence)
	}
	if s.cmd != nil {
		d.device.FreeCommandBuffer(s.cmd)
	}
	if s.bg != nil {
		d.device.DestroyBindGroup(s.bg)
	}
}

type resolved struct {
	done func(error)
	err  error
}

// Poll implements gpucore.Device. It never blocks on the GPU.
func (d *Device) Poll() error {
	d.mu.Lock()
	ready := d.failed
	d.failed = nil
	var pollErr error
	if d.destroyed {
		d.mu.Unlock()
		for _, r := range ready {
			r.done(r.err)
		}
		return gpucore.ErrDeviceDestroyed
	}
	n := 0
	for _, s := range d.inflight {
		signalled, err := d.device.Wait(s.fence, 1, 0)
		if err != nil {
			d.lost = true
			pollErr = fmt.Errorf("%w: %w", gpucore.ErrDeviceLost, err)
			break
		}
		if !signalled {
			break
		}
		d.release(s)
		ready = append(ready, resolved{done: s.done})
		n++
	}
	d.inflight = d.inflight[n:]
	if d.lost {
		for _, s := range d.inflight {
			d.release(s)
			ready = append(ready, resolved{done: s.done, err: gpucore.ErrDeviceLost})
		}
		d.inflight = nil
		if pollErr == nil {
			pollErr = gpucore.ErrDeviceLost
		}
	}
	d.mu.Unlock()

	for _, r := range ready {
		r.done(r.err)
	}
	if pollErr != nil && len(ready) > 0 {
		logging.L().Warn("halgpu: device lost", "failed_submissions", len(ready), "err", pollErr)
	}
	return pollErr
}

// Outstanding implements gpucore.Device.
func (d *Device) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Destroy implements gpucore.Device. Outstanding submissions resolve with
// ErrDeviceDestroyed on the next Poll. A device obtained from a host
// provider is left open.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	for _, s := range d.inflight {
		d.release(s)
		d.failed = append(d.failed, resolved{done: s.done, err: gpucore.ErrDeviceDestroyed})
	}
	d.inflight = nil
	for _, p := range d.pipelines {
		d.destroyPipeline(p)
	}
	for _, b := range d.buffers {
		d.device.DestroyBuffer(b.hal)
	}
	d.buffers = make(map[gpucore.BufferID]*buffer)
	d.pipelines = make(map[gpucore.ComputePipelineID]*pipeline)
	d.destroyed = true
	d.lost = true

	if !d.external {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	logging.L().Debug("halgpu: device destroyed", "device", d.caps.Name)
}

func bufferUsage(u gpucore.BufferUsage) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	if u.Has(gpucore.BufferUsageMapRead) {
		out |= gputypes.BufferUsageMapRead
	}
	if u.Has(gpucore.BufferUsageCopySrc) {
		out |= gputypes.BufferUsageCopySrc
	}
	if u.Has(gpucore.BufferUsageCopyDst) {
		out |= gputypes.BufferUsageCopyDst
	}
	if u.Has(gpucore.BufferUsageUniform) {
		out |= gputypes.BufferUsageUniform
	}
	if u.Has(gpucore.BufferUsageStorage) {
		out |= gputypes.BufferUsageStorage
	}
	return out
}

func bindingType(t gpucore.BindingType) gputypes.BufferBindingType {
	switch t {
	case gpucore.BindingTypeUniform:
		return gputypes.BufferBindingTypeUniform
	case gpucore.BindingTypeReadOnlyStorage:
		return gputypes.BufferBindingTypeReadOnlyStorage
	default:
		return gputypes.BufferBindingTypeStorage
	}
}
