// Package backend selects the GPU device a Runner executes on.
//
// Device implementations register a Factory from an init() function and
// are selected at runtime by name. The HAL backends are registered by
// importing package halgpu:
//
//	import _ "github.com/gogpu/gigs/backend/halgpu"
//
// # Backend Selection
//
// Use Default to open the best available device, or Open to request a
// specific backend by name:
//
//	// Open the best available device (vulkan, falling back to noop)
//	dev, err := backend.Default()
//
//	// Or request a specific backend
//	dev, err := backend.Open(backend.BackendVulkan)
//
// The caller owns the returned device and destroys it after closing every
// runner that uses it.
//
// # Available Backends
//
//   - "vulkan": compute through gogpu/wgpu's Vulkan HAL
//   - "noop": accepts all work without executing it (always available)
package backend
