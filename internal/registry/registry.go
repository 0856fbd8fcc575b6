// Package registry holds the type-erased dispatch table of every registered
// job type and validates registrations against their WGSL source before any
// GPU work is attempted.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/gigs/gpucore"
	"github.com/gogpu/gigs/internal/logging"
	"github.com/gogpu/gigs/internal/pool"
	"github.com/gogpu/gigs/job"
)

// Role is what the frame loop binds to a shader binding.
type Role uint8

const (
	// RoleParams binds the instance's uniform parameter buffer.
	RoleParams Role = iota + 1
	// RoleOutput binds the slot the dispatch writes.
	RoleOutput
	// RolePrevious binds the slot holding the latest confirmed result.
	RolePrevious
)

func (r Role) String() string {
	switch r {
	case RoleParams:
		return "params"
	case RoleOutput:
		return "output"
	case RolePrevious:
		return "previous"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// Binding assigns a role to a group 0 binding index.
type Binding struct {
	Binding uint32
	Role    Role
}

// Prepared is the per-dispatch data derived from parameters.
type Prepared struct {
	Status     job.InputStatus
	Workgroups [3]uint32
	OutputSize uint64
}

// Entry is the dispatch table of one job type.
type Entry struct {
	Type     job.TypeID
	Label    string
	Source   string
	Entry    string
	Bindings []Binding
	Readback bool

	// ParamsSize is the host size of the encoded parameters.
	ParamsSize uint64

	// Encode serializes parameters into uniform bytes. It fails when the
	// dynamic type does not match the registration.
	Encode func(params any) ([]byte, error)

	// Prepare evaluates readiness, workgroup counts and output size.
	Prepare func(params any) (Prepared, error)

	pipeline gpucore.ComputePipelineDesc
}

// Pipeline returns the validated pipeline descriptor.
func (e *Entry) Pipeline() *gpucore.ComputePipelineDesc { return &e.pipeline }

// Extract snapshots a request: it encodes the parameters and computes the
// fingerprint.
func (e *Entry) Extract(req job.Request) (job.Snapshot, error) {
	data, err := e.Encode(req.Params)
	if err != nil {
		return job.Snapshot{}, err
	}
	return job.Snapshot{
		Type:        e.Type,
		Params:      req.Params,
		Uniform:     data,
		Fingerprint: job.FingerprintOf(e.Type, data),
		Priority:    req.Priority,
	}, nil
}

// Bind maps the roles of the entry onto a pool write target.
func (e *Entry) Bind(t pool.Target) []gpucore.BufferBinding {
	out := make([]gpucore.BufferBinding, 0, len(e.Bindings))
	for _, b := range e.Bindings {
		var buf gpucore.BufferID
		switch b.Role {
		case RoleParams:
			buf = t.Uniform
		case RoleOutput:
			buf = t.Output
		case RolePrevious:
			buf = t.Previous
		}
		out = append(out, gpucore.BufferBinding{Binding: b.Binding, Buffer: buf})
	}
	return out
}

// Registry maps job types to entries. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[job.TypeID]*Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[job.TypeID]*Entry)}
}

// Add validates e and registers it.
func (r *Registry) Add(e *Entry) error {
	if err := Validate(e); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[e.Type]; dup {
		return &job.ConfigurationError{Type: e.Type, Reason: "duplicate registration", Err: job.ErrDuplicateType}
	}
	r.entries[e.Type] = e
	logging.L().Debug("registry: job type registered",
		"type", e.Type, "bindings", len(e.Bindings), "params_size", e.ParamsSize, "readback", e.Readback)
	return nil
}

// Lookup returns the entry for t.
func (r *Registry) Lookup(t job.TypeID) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	return e, ok
}

// Types returns the registered type IDs, sorted.
func (r *Registry) Types() []job.TypeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]job.TypeID, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
