package gigs

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gigs/internal/registry"
	"github.com/gogpu/gigs/job"
)

// Role is what the runner binds to a shader binding.
type Role = registry.Role

// Binding roles.
const (
	// RoleParams binds the uniform buffer holding the encoded parameters.
	RoleParams = registry.RoleParams
	// RoleOutput binds the buffer the dispatch writes.
	RoleOutput = registry.RoleOutput
	// RolePrevious binds the latest confirmed result, read-only.
	RolePrevious = registry.RolePrevious
)

// Binding assigns a role to a @group(0) @binding(n) declaration.
type Binding = registry.Binding

// InputStatus reports whether a job's inputs allow a dispatch.
type InputStatus = job.InputStatus

// Input statuses.
const (
	InputReady = job.InputReady
	InputWait  = job.InputWait
	InputFail  = job.InputFail
)

// Critical returns the priority that bypasses the dispatch budget.
func Critical() Priority { return job.Critical() }

// NonCritical returns a budgeted priority; higher weights dispatch first.
func NonCritical(weight uint32) Priority { return job.NonCritical(weight) }

// Shader is the WGSL compute shader of a job type.
type Shader struct {
	Source string
	// EntryPoint defaults to "main".
	EntryPoint string
}

// Capability declares a job type whose parameters have Go type P.
//
// P is encoded into the uniform buffer bound to RoleParams. By default the
// encoding is encoding/binary little-endian, so P must be a fixed-size
// struct whose layout, padding included, matches the WGSL struct.
type Capability[P any] struct {
	Type  TypeID
	Label string

	Shader   Shader
	Bindings []Binding

	// Workgroups returns the dispatch size for p. Required.
	Workgroups func(p P) [3]uint32
	// OutputSize returns the byte size of each result buffer. Required.
	OutputSize func(p P) uint64
	// Ready reports input readiness. Nil means always ready.
	Ready func(p P) InputStatus
	// Encode overrides the default binary encoding.
	Encode func(p P) ([]byte, error)

	// Readback copies every result into host memory, exposed as View.Data.
	Readback bool
}

// Register validates c and makes its type dispatchable on r. Validation
// compiles the shader and checks its bindings against the declared roles
// and the parameter layout. Failures are *ConfigurationError.
func Register[P any](r *Runner, c Capability[P]) error {
	e, err := c.entry()
	if err != nil {
		return err
	}
	return r.registry.Add(e)
}

// MustRegister is like Register but panics on error.
func MustRegister[P any](r *Runner, c Capability[P]) {
	if err := Register(r, c); err != nil {
		panic(err)
	}
}

func (c Capability[P]) entry() (*registry.Entry, error) {
	cfgErr := func(reason string, err error) error {
		return &ConfigurationError{Type: c.Type, Reason: reason, Err: err}
	}
	if c.Workgroups == nil || c.OutputSize == nil {
		return nil, cfgErr("Workgroups and OutputSize are required", nil)
	}

	encode := c.Encode
	if encode == nil {
		var zero P
		if binary.Size(zero) <= 0 {
			return nil, cfgErr(fmt.Sprintf("parameter type %T is not fixed-size", zero), nil)
		}
		encode = func(p P) ([]byte, error) {
			return binary.Append(nil, binary.LittleEndian, p)
		}
	}
	var zero P
	sample, err := encode(zero)
	if err != nil {
		return nil, cfgErr("encode zero parameters", err)
	}

	typed := func(params any) (P, error) {
		p, ok := params.(P)
		if !ok {
			var zero P
			return zero, fmt.Errorf("%w: want %T, got %T", ErrParamsType, zero, params)
		}
		return p, nil
	}

	return &registry.Entry{
		Type:       c.Type,
		Label:      c.Label,
		Source:     c.Shader.Source,
		Entry:      c.Shader.EntryPoint,
		Bindings:   c.Bindings,
		Readback:   c.Readback,
		ParamsSize: uint64(len(sample)),
		Encode: func(params any) ([]byte, error) {
			p, err := typed(params)
			if err != nil {
				return nil, err
			}
			return encode(p)
		},
		Prepare: func(params any) (registry.Prepared, error) {
			p, err := typed(params)
			if err != nil {
				return registry.Prepared{}, err
			}
			status := InputReady
			if c.Ready != nil {
				status = c.Ready(p)
			}
			return registry.Prepared{
				Status:     status,
				Workgroups: c.Workgroups(p),
				OutputSize: c.OutputSize(p),
			}, nil
		},
	}, nil
}
