package gigs

import (
	"time"

	"github.com/chewxy/math32"

	"github.com/gogpu/gigs/gpucore"
)

// View is what a consumer reads for one instance in the current frame.
//
// New is the latest confirmed result and Old the one before it. Blend is 0
// right after a swap and eases to 1 over the interpolation window; a
// renderer draws mix(Old, New, Blend). Before the first completion both
// buffers are invalid and Blend is 0. While work is in flight the other
// slot is being written, so Old equals New and Blend is 1; New itself only
// changes once completion is confirmed.
type View struct {
	Entity EntityID
	State  State

	// Fingerprint identifies the parameters that produced New.
	Fingerprint Fingerprint
	// HasResult reports that New holds a completed result.
	HasResult bool

	Old gpucore.BufferID
	New gpucore.BufferID
	// Size is the byte size of each result buffer.
	Size uint64

	// LastSwap is the clock reading when New became current.
	LastSwap time.Duration
	Blend    float32

	// Data holds the readback bytes of New when the type requests readback.
	Data []byte
}

// BlendFactor returns the ease-out blend for elapsed time into window:
// 1 - (1-t)^2 with t clamped to [0, 1]. A non-positive window yields 1.
func BlendFactor(elapsed, window time.Duration) float32 {
	if window <= 0 {
		return 1
	}
	t := float32(elapsed) / float32(window)
	t = math32.Max(0, math32.Min(1, t))
	inv := 1 - t
	return 1 - inv*inv
}
