package gpucore

import (
	"errors"
	"fmt"
)

// Device is the GPU surface used by the frame loop.
//
// Implementations need not be safe for concurrent use; the frame loop drives
// a device from one goroutine. Done callbacks may be invoked on that same
// goroutine from Poll and must not call back into the device.
type Device interface {
	// Capabilities returns the device limits.
	Capabilities() Capabilities

	// CreateBuffer allocates a buffer. The contents are zeroed.
	CreateBuffer(desc *BufferDesc) (BufferID, error)

	// DestroyBuffer releases a buffer. Unknown IDs are ignored.
	DestroyBuffer(id BufferID)

	// WriteBuffer uploads data at offset. The write is ordered before any
	// later Submit.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// ReadBuffer copies buffer contents into dst. The buffer must have been
	// created with BufferUsageMapRead and no pending submission may write it.
	ReadBuffer(id BufferID, offset uint64, dst []byte) error

	// CreateComputePipeline compiles a pipeline and its group 0 layout.
	CreateComputePipeline(desc *ComputePipelineDesc) (ComputePipelineID, error)

	// DestroyComputePipeline releases a pipeline. It must not be referenced
	// by an outstanding submission.
	DestroyComputePipeline(id ComputePipelineID)

	// Submit records and submits one dispatch. On success done is invoked
	// exactly once from a later Poll. On error done is never invoked.
	Submit(desc *DispatchDesc, done func(error)) (SubmissionID, error)

	// Poll resolves finished submissions without blocking. A non-nil error
	// reports a device-level failure; the affected submissions have already
	// been resolved with an error wrapping ErrDeviceLost.
	Poll() error

	// Outstanding returns the number of submissions not yet resolved.
	Outstanding() int

	// Destroy releases every resource owned by the device.
	Destroy()
}

// Device errors.
var (
	// ErrDeviceLost indicates the device can no longer execute work.
	ErrDeviceLost = errors.New("gpucore: device lost")

	// ErrDeviceDestroyed indicates the device was destroyed.
	ErrDeviceDestroyed = errors.New("gpucore: device destroyed")

	// ErrUnknownBuffer indicates a BufferID that does not name a live buffer.
	ErrUnknownBuffer = errors.New("gpucore: unknown buffer")

	// ErrUnknownPipeline indicates a ComputePipelineID that does not name a
	// live pipeline.
	ErrUnknownPipeline = errors.New("gpucore: unknown compute pipeline")

	// ErrOutOfRange indicates a buffer access past the end of the buffer.
	ErrOutOfRange = errors.New("gpucore: buffer access out of range")

	// ErrWorkgroupCountZero indicates a dispatch with a zero workgroup count.
	ErrWorkgroupCountZero = errors.New("gpucore: workgroup count must be non-zero")

	// ErrWorkgroupCountExceedsLimit indicates a dispatch above the device limit.
	ErrWorkgroupCountExceedsLimit = errors.New("gpucore: workgroup count exceeds device limit")

	// ErrBufferTooLarge indicates a buffer larger than the device allows.
	ErrBufferTooLarge = errors.New("gpucore: buffer size exceeds device limit")
)

// ValidateWorkgroups checks a workgroup count against the device limits.
func ValidateWorkgroups(wg [3]uint32, caps Capabilities) error {
	for axis, n := range wg {
		if n == 0 {
			return fmt.Errorf("%w: axis %d", ErrWorkgroupCountZero, axis)
		}
		if caps.MaxWorkgroupsPerDimension > 0 && n > caps.MaxWorkgroupsPerDimension {
			return fmt.Errorf("%w: axis %d is %d, limit %d",
				ErrWorkgroupCountExceedsLimit, axis, n, caps.MaxWorkgroupsPerDimension)
		}
	}
	return nil
}

// ValidateBufferSize checks a buffer size against the device limits.
func ValidateBufferSize(size uint64, caps Capabilities) error {
	if caps.MaxBufferSize > 0 && size > caps.MaxBufferSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrBufferTooLarge, size, caps.MaxBufferSize)
	}
	return nil
}

// WorkgroupsFor returns ceil(n/size) for each axis, with a minimum of one.
func WorkgroupsFor(n, size [3]uint32) [3]uint32 {
	var out [3]uint32
	for i := range n {
		s := size[i]
		if s == 0 {
			s = 1
		}
		out[i] = (n[i] + s - 1) / s
		if out[i] == 0 {
			out[i] = 1
		}
	}
	return out
}
