//go:build !nogpu

package halgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/gigs/backend"
	"github.com/gogpu/gigs/gpucore"
)

func init() {
	backend.Register(backend.BackendVulkan, func() (gpucore.Device, error) {
		return OpenVulkan()
	})
}

// OpenVulkan opens the first discrete or integrated GPU found through the
// Vulkan HAL, falling back to any adapter.
func OpenVulkan() (*Device, error) {
	b, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("halgpu: vulkan backend not available")
	}
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("halgpu: create instance: %w", err)
	}
	return openInstance(backend.BackendVulkan, instance)
}
