// Package gigs runs on-demand GPU compute jobs alongside a frame loop.
//
// # Overview
//
// A simulation attaches job requests to entities. Once per frame a [Runner]
// snapshots those requests, decides which need GPU work, submits compute
// dispatches without blocking, and applies results whose GPU work has
// finished. Consumers read each instance through a [View]: the previous and
// latest result buffers plus a blend factor that eases from one to the other
// over a configurable window.
//
// # Quick Start
//
//	world := gigs.NewWorld()
//	runner, err := gigs.NewRunner(device, world)
//	if err != nil {
//	    return err
//	}
//	err = gigs.Register(runner, gigs.Capability[TerrainParams]{
//	    Type:       "terrain",
//	    Shader:     gigs.Shader{Source: terrainWGSL},
//	    Bindings:   []gigs.Binding{{0, gigs.RoleParams}, {1, gigs.RoleOutput}},
//	    Workgroups: func(p TerrainParams) [3]uint32 { ... },
//	    OutputSize: func(p TerrainParams) uint64 { ... },
//	})
//
//	id := world.Spawn()
//	world.Attach(id, gigs.Request{Type: "terrain", Params: TerrainParams{...}})
//
//	for {
//	    report, err := runner.Frame(ctx)
//	    ...
//	    view, _ := runner.View(id)
//	    draw(view.Old, view.New, view.Blend)
//	}
//
// # Lifecycle
//
// Every instance moves through Idle, Pending, InFlight and Ready. A change
// of parameters produces a new fingerprint; if work is already in flight
// the newest fingerprint is remembered and dispatched once the current work
// completes. An instance never has more than one submission outstanding.
//
// # Devices
//
// The runner drives any [gpucore.Device]. The backend/halgpu package
// provides one over gogpu/wgpu, either opened on its own or borrowed from a
// host application through a gpucontext.DeviceProvider.
//
// # Logging
//
// gigs is silent by default. Call [SetLogger] to receive diagnostics.
package gigs
