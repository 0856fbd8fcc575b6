// Package halgpu implements gpucore.Device on gogpu/wgpu's hardware
// abstraction layer.
//
// Importing the package registers two backends with package backend:
// "vulkan" (omitted with the nogpu build tag) and "noop". A device owned by
// a host application can be shared with FromProvider.
//
// Submissions are asynchronous. Each carries its own fence; Device.Poll
// checks fences without waiting and runs completion callbacks for every
// signalled one, oldest first.
package halgpu
