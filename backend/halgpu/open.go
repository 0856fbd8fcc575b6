package halgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/gigs/backend"
	"github.com/gogpu/gigs/gpucore"
	"github.com/gogpu/gigs/internal/logging"
)

func init() {
	backend.Register(backend.BackendNoop, func() (gpucore.Device, error) {
		return OpenNoop()
	})
}

// errNoAdapter is returned when an instance enumerates no adapters.
var errNoAdapter = errors.New("halgpu: no GPU adapters found")

// OpenNoop opens a device on the wgpu noop HAL. Work is accepted and
// completes on the next Poll without computing anything.
func OpenNoop() (*Device, error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("halgpu: create noop instance: %w", err)
	}
	return openInstance(backend.BackendNoop, instance)
}

// openInstance opens the preferred adapter of instance. The instance is
// destroyed on failure and owned by the device on success.
func openInstance(name string, instance hal.Instance) (*Device, error) {
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, errNoAdapter
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	opened, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("halgpu: open device: %w", err)
	}
	logging.L().Info("halgpu: device opened", "backend", name, "adapter", selected.Info.Name)
	return newDevice(name, instance, opened.Device, opened.Queue, false), nil
}

// FromProvider wraps the device of a host application, such as a gogpu
// window, so compute jobs share it. The provider must expose
// HalDevice() any and HalQueue() any returning hal.Device and hal.Queue.
// Destroy on the returned device releases only what it created.
func FromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, errors.New("halgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, errors.New("halgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, errors.New("halgpu: provider HalQueue is not hal.Queue")
	}
	logging.L().Info("halgpu: using shared device")
	return newDevice("shared", nil, device, queue, true), nil
}
