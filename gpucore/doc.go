// Package gpucore defines the device abstraction the gigs frame loop runs
// against.
//
// The [Device] interface is deliberately narrow: buffers, compute pipelines
// built from WGSL, a single dispatch-plus-copy submission, and a
// non-blocking Poll that resolves finished submissions. Backends translate
// it to a concrete GPU API:
//
//	               +-----------------+
//	               |   gigs.Runner   |
//	               +--------+--------+
//	                        |
//	               +--------v--------+
//	               | gpucore.Device  |
//	               +--------+--------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	| backend/halgpu  |          | internal/gputest|
//	|  (wgpu hal)     |          |  (scripted fake)|
//	+-----------------+          +-----------------+
//
// # Resource IDs
//
// Resources are named by opaque uint64 IDs. Zero is [InvalidID] and is never
// handed out. IDs become invalid after the matching Destroy call.
//
// # Completion
//
// Submit never blocks and never invokes its done callback directly. The
// callback runs from a later Poll call on the polling goroutine, exactly
// once per accepted submission, in submission order.
package gpucore
