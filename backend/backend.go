package backend

import (
	"errors"

	"github.com/gogpu/gigs/gpucore"
)

// Backend names.
const (
	// BackendVulkan opens a Vulkan device through the wgpu HAL.
	BackendVulkan = "vulkan"

	// BackendNoop opens a device that accepts all work and computes nothing.
	// It is always available and useful for headless runs and tests.
	BackendNoop = "noop"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or its factory could not open a device.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Factory opens a new device. The caller owns the device and must call
// Destroy on it.
type Factory func() (gpucore.Device, error)
