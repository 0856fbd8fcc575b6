package main

import (
	"github.com/gogpu/gigs"
)

// TerrainType is the job type of heightmap tiles.
const TerrainType gigs.TypeID = "terrain.heightmap"

// terrainWorkgroup matches @workgroup_size in terrainShader.
const terrainWorkgroup = 16

// TerrainParams mirrors the Params struct of terrainShader.
type TerrainParams struct {
	ResolutionX uint32
	ResolutionY uint32
	SizeX       float32
	SizeY       float32
	Seed        float32
	Scale       float32
	Pad         [2]float32
}

// Samples returns the number of height samples in a tile.
func (p TerrainParams) Samples() uint64 {
	return uint64(p.ResolutionX) * uint64(p.ResolutionY)
}

// terrainShader writes three octaves of value noise into one f32 per sample.
const terrainShader = `
struct Params {
    resolution_x: u32,
    resolution_y: u32,
    size_x: f32,
    size_y: f32,
    seed: f32,
    scale: f32,
    _pad0: f32,
    _pad1: f32,
}

@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var<storage, read_write> heights: array<f32>;

fn hash(p: vec2<f32>) -> f32 {
    let h = dot(p, vec2<f32>(127.1, 311.7)) + params.seed;
    return fract(sin(h) * 43758.5453);
}

fn noise(p: vec2<f32>) -> f32 {
    let i = floor(p);
    let f = fract(p);
    let u = f * f * (vec2<f32>(3.0, 3.0) - 2.0 * f);
    let a = hash(i);
    let b = hash(i + vec2<f32>(1.0, 0.0));
    let c = hash(i + vec2<f32>(0.0, 1.0));
    let d = hash(i + vec2<f32>(1.0, 1.0));
    return mix(mix(a, b, u.x), mix(c, d, u.x), u.y);
}

@compute @workgroup_size(16, 16, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x >= params.resolution_x || id.y >= params.resolution_y) {
        return;
    }
    let uv = vec2<f32>(f32(id.x) / f32(params.resolution_x), f32(id.y) / f32(params.resolution_y));
    let p = uv * vec2<f32>(params.size_x, params.size_y);
    let h = noise(p) * 0.5 + noise(p * 2.0) * 0.25 + noise(p * 4.0) * 0.125;
    heights[id.y * params.resolution_x + id.x] = h * params.scale;
}
`

// terrainCapability declares the heightmap job. Results are read back so
// the demo can render a preview.
func terrainCapability() gigs.Capability[TerrainParams] {
	return gigs.Capability[TerrainParams]{
		Type:   TerrainType,
		Label:  "terrain",
		Shader: gigs.Shader{Source: terrainShader},
		Bindings: []gigs.Binding{
			{Binding: 0, Role: gigs.RoleParams},
			{Binding: 1, Role: gigs.RoleOutput},
		},
		Workgroups: func(p TerrainParams) [3]uint32 {
			return [3]uint32{
				(p.ResolutionX + terrainWorkgroup - 1) / terrainWorkgroup,
				(p.ResolutionY + terrainWorkgroup - 1) / terrainWorkgroup,
				1,
			}
		},
		OutputSize: func(p TerrainParams) uint64 { return p.Samples() * 4 },
		Ready: func(p TerrainParams) gigs.InputStatus {
			if p.ResolutionX == 0 || p.ResolutionY == 0 {
				return gigs.InputFail
			}
			return gigs.InputReady
		},
		Readback: true,
	}
}

// tileParams returns the parameters of tile i. Tiles share a seed offset
// by their index so neighbours differ.
func tileParams(t TerrainConfig, i int, reseeds int) TerrainParams {
	return TerrainParams{
		ResolutionX: t.Resolution,
		ResolutionY: t.Resolution,
		SizeX:       t.Size,
		SizeY:       t.Size,
		Seed:        t.Seed + float32(i)*17 + float32(reseeds)*101,
		Scale:       t.Scale,
	}
}
