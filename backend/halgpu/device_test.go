package halgpu

import (
	"errors"
	"testing"

	"github.com/gogpu/gigs/backend"
	"github.com/gogpu/gigs/gpucore"
	"github.com/gogpu/gigs/internal/gputest"
)

func openNoop(t *testing.T) *Device {
	t.Helper()
	d, err := OpenNoop()
	if err != nil {
		t.Fatalf("OpenNoop: %v", err)
	}
	t.Cleanup(d.Destroy)
	return d
}

func TestNoopRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.BackendNoop) {
		t.Fatal("noop backend should be registered on import")
	}
	dev, err := backend.Open(backend.BackendNoop)
	if err != nil {
		t.Fatalf("Open(noop): %v", err)
	}
	defer dev.Destroy()
	if got := dev.Capabilities().Name; got != backend.BackendNoop {
		t.Errorf("Name = %q", got)
	}
}

func TestBufferLifecycle(t *testing.T) {
	d := openNoop(t)
	id, err := d.CreateBuffer(&gpucore.BufferDesc{
		Label: "test", Size: 64,
		Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if id == gpucore.InvalidID {
		t.Fatal("CreateBuffer returned InvalidID")
	}
	if err := d.WriteBuffer(id, 0, make([]byte, 64)); err != nil {
		t.Errorf("WriteBuffer: %v", err)
	}
	if err := d.WriteBuffer(id, 60, make([]byte, 8)); !errors.Is(err, gpucore.ErrOutOfRange) {
		t.Errorf("WriteBuffer past end = %v, want ErrOutOfRange", err)
	}
	if err := d.ReadBuffer(id, 0, make([]byte, 65)); !errors.Is(err, gpucore.ErrOutOfRange) {
		t.Errorf("ReadBuffer past end = %v, want ErrOutOfRange", err)
	}

	d.DestroyBuffer(id)
	d.DestroyBuffer(id)
	if err := d.WriteBuffer(id, 0, []byte{1}); !errors.Is(err, gpucore.ErrUnknownBuffer) {
		t.Errorf("WriteBuffer after destroy = %v, want ErrUnknownBuffer", err)
	}
}

func TestBufferTooLarge(t *testing.T) {
	d := openNoop(t)
	_, err := d.CreateBuffer(&gpucore.BufferDesc{Label: "huge", Size: d.Capabilities().MaxBufferSize + 1})
	if !errors.Is(err, gpucore.ErrBufferTooLarge) {
		t.Errorf("CreateBuffer = %v, want ErrBufferTooLarge", err)
	}
}

func scalePipeline(t *testing.T, d *Device) gpucore.ComputePipelineID {
	t.Helper()
	id, err := d.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Label:      "scale",
		Source:     gputest.ScaleShader,
		EntryPoint: "main",
		Entries: []gpucore.BindGroupLayoutEntry{
			{Binding: 0, Type: gpucore.BindingTypeUniform},
			{Binding: 1, Type: gpucore.BindingTypeStorage},
			{Binding: 2, Type: gpucore.BindingTypeReadOnlyStorage},
		},
	})
	if err != nil {
		t.Fatalf("CreateComputePipeline: %v", err)
	}
	return id
}

func scaleDispatch(t *testing.T, d *Device, pipe gpucore.ComputePipelineID) *gpucore.DispatchDesc {
	t.Helper()
	mk := func(label string, size uint64, usage gpucore.BufferUsage) gpucore.BufferID {
		id, err := d.CreateBuffer(&gpucore.BufferDesc{Label: label, Size: size, Usage: usage})
		if err != nil {
			t.Fatal(err)
		}
		return id
	}
	storage := gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc | gpucore.BufferUsageCopyDst
	params := mk("params", 16, gpucore.BufferUsageUniform|gpucore.BufferUsageCopyDst)
	out := mk("out", 256, storage)
	prev := mk("prev", 256, storage)
	staging := mk("staging", 256, gpucore.BufferUsageMapRead|gpucore.BufferUsageCopyDst)
	return &gpucore.DispatchDesc{
		Label:    "scale",
		Pipeline: pipe,
		Bindings: []gpucore.BufferBinding{
			{Binding: 0, Buffer: params},
			{Binding: 1, Buffer: out},
			{Binding: 2, Buffer: prev},
		},
		Workgroups: [3]uint32{1, 1, 1},
		Copy:       &gpucore.CopyDesc{Src: out, Dst: staging, Size: 256},
	}
}

func TestSubmitResolvesOnPoll(t *testing.T) {
	d := openNoop(t)
	desc := scaleDispatch(t, d, scalePipeline(t, d))

	calls := 0
	var got error
	id, err := d.Submit(desc, func(err error) { calls++; got = err })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id == gpucore.InvalidID {
		t.Error("Submit returned InvalidID")
	}
	if calls != 0 {
		t.Fatal("done must not run inside Submit")
	}
	if d.Outstanding() != 1 {
		t.Errorf("Outstanding = %d, want 1", d.Outstanding())
	}

	for i := 0; i < 100 && d.Outstanding() > 0; i++ {
		if err := d.Poll(); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}
	if calls != 1 || got != nil {
		t.Errorf("done called %d times with %v, want once with nil", calls, got)
	}
	if err := d.Poll(); err != nil || calls != 1 {
		t.Errorf("extra Poll: err=%v calls=%d", err, calls)
	}
}

func TestSubmitRejects(t *testing.T) {
	d := openNoop(t)
	pipe := scalePipeline(t, d)

	desc := scaleDispatch(t, d, pipe)
	desc.Pipeline = 9999
	if _, err := d.Submit(desc, func(error) {}); !errors.Is(err, gpucore.ErrUnknownPipeline) {
		t.Errorf("unknown pipeline: %v", err)
	}

	desc = scaleDispatch(t, d, pipe)
	desc.Workgroups = [3]uint32{0, 1, 1}
	if _, err := d.Submit(desc, func(error) {}); !errors.Is(err, gpucore.ErrWorkgroupCountZero) {
		t.Errorf("zero workgroups: %v", err)
	}

	desc = scaleDispatch(t, d, pipe)
	desc.Bindings[1].Buffer = 9999
	if _, err := d.Submit(desc, func(error) {}); !errors.Is(err, gpucore.ErrUnknownBuffer) {
		t.Errorf("unknown buffer: %v", err)
	}
	if d.Outstanding() != 0 {
		t.Errorf("Outstanding = %d after rejected submissions", d.Outstanding())
	}
}

func TestDestroyFailsOutstanding(t *testing.T) {
	d, err := OpenNoop()
	if err != nil {
		t.Fatal(err)
	}
	desc := scaleDispatch(t, d, scalePipeline(t, d))
	var got error
	if _, err := d.Submit(desc, func(err error) { got = err }); err != nil {
		t.Fatal(err)
	}

	d.Destroy()
	d.Destroy()
	if d.Outstanding() != 0 {
		t.Errorf("Outstanding = %d after Destroy", d.Outstanding())
	}
	if err := d.Poll(); !errors.Is(err, gpucore.ErrDeviceDestroyed) {
		t.Errorf("Poll = %v, want ErrDeviceDestroyed", err)
	}
	if !errors.Is(got, gpucore.ErrDeviceDestroyed) {
		t.Errorf("done err = %v, want ErrDeviceDestroyed", got)
	}
	if _, err := d.CreateBuffer(&gpucore.BufferDesc{Size: 4}); !errors.Is(err, gpucore.ErrDeviceDestroyed) {
		t.Errorf("CreateBuffer after Destroy = %v", err)
	}
}

func TestFromProviderRejects(t *testing.T) {
	if _, err := FromProvider(nil); err == nil {
		t.Error("FromProvider(nil) should fail")
	}
}
