package gputest

import (
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/gogpu/gigs/internal/wgsl"
	"github.com/gogpu/gigs/job"
)

// ScaleShader multiplies the previous result by a uniform scale. Binding 0
// is the params uniform, 1 the output and 2 the previous result.
const ScaleShader = `
struct Params {
    scale: f32,
    count: u32,
    _pad0: u32,
    _pad1: u32,
}

@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var<storage, read_write> dst: array<f32, 64>;
@group(0) @binding(2) var<storage, read> src: array<f32, 64>;

@compute @workgroup_size(64, 1, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x < params.count) {
        dst[id.x] = src[id.x] * params.scale;
    }
}
`

// ScaleParams mirrors the Params struct of ScaleShader.
type ScaleParams struct {
	Scale float32
	Count uint32
	_     [2]uint32
}

// ScaleParamsSize is the encoded size of ScaleParams.
const ScaleParamsSize = 16

// EncodeScale encodes ScaleParams little-endian.
func EncodeScale(p any) ([]byte, error) {
	sp, ok := p.(ScaleParams)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", job.ErrParamsType, p)
	}
	return binary.Append(nil, binary.LittleEndian, sp)
}

// RequireCompiles skips the test when naga lacks a feature the shader
// uses, and fails it for any other compile error.
func RequireCompiles(tb testing.TB, src string) {
	tb.Helper()
	if _, err := wgsl.Compile(src); err != nil {
		if strings.Contains(err.Error(), "not yet implemented") {
			tb.Skipf("Skipping: naga feature not yet implemented: %v", err)
		}
		tb.Fatalf("test shader does not compile: %v", err)
	}
}
