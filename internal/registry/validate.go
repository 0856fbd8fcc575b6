package registry

import (
	"fmt"

	"github.com/gogpu/gigs/gpucore"
	"github.com/gogpu/gigs/internal/wgsl"
	"github.com/gogpu/gigs/job"
)

// Validate checks an entry against its shader and fills in the pipeline
// descriptor. Every failure is a *job.ConfigurationError.
func Validate(e *Entry) error {
	fail := func(err error, format string, args ...any) error {
		return &job.ConfigurationError{Type: e.Type, Reason: fmt.Sprintf(format, args...), Err: err}
	}

	if e.Type == "" {
		return fail(nil, "empty type ID")
	}
	if e.Encode == nil || e.Prepare == nil {
		return fail(nil, "missing encode or prepare function")
	}
	if e.Entry == "" {
		e.Entry = "main"
	}
	if e.Label == "" {
		e.Label = string(e.Type)
	}

	roles, err := checkRoles(e.Bindings)
	if err != nil {
		return fail(nil, "%s", err)
	}

	if _, err := wgsl.Compile(e.Source); err != nil {
		return fail(err, "shader does not compile")
	}
	m, err := wgsl.Parse(e.Source)
	if err != nil {
		return fail(err, "shader reflection failed")
	}
	if !m.HasEntryPoint(e.Entry) {
		return fail(nil, "no @compute entry point %q", e.Entry)
	}

	for _, sb := range m.Bindings {
		if sb.Group != 0 {
			return fail(nil, "binding %s uses group %d; only group 0 is bound", sb.Name, sb.Group)
		}
		if _, ok := roles[sb.Binding]; !ok {
			return fail(nil, "shader binding %d (%s) has no role", sb.Binding, sb.Name)
		}
	}

	entries := make([]gpucore.BindGroupLayoutEntry, 0, len(e.Bindings))
	for _, b := range e.Bindings {
		sb, ok := m.Lookup(0, b.Binding)
		if !ok {
			return fail(nil, "%s binding %d is not declared by the shader", b.Role, b.Binding)
		}
		entry := gpucore.BindGroupLayoutEntry{Binding: b.Binding}
		switch b.Role {
		case RoleParams:
			if sb.Space != wgsl.SpaceUniform {
				return fail(nil, "params binding %d must be var<uniform>, is %s", b.Binding, sb.Space)
			}
			l, err := m.LayoutOf(sb.Type)
			if err != nil {
				return fail(err, "params type %s has no layout", sb.Type)
			}
			if l.Size != e.ParamsSize {
				return fail(nil, "params size mismatch: shader %s is %d bytes, host type is %d bytes",
					sb.Type, l.Size, e.ParamsSize)
			}
			entry.Type = gpucore.BindingTypeUniform
			entry.MinBindingSize = l.Size
		case RoleOutput:
			if sb.Space != wgsl.SpaceStorage || sb.Access != wgsl.AccessReadWrite {
				return fail(nil, "output binding %d must be var<storage, read_write>", b.Binding)
			}
			entry.Type = gpucore.BindingTypeStorage
		case RolePrevious:
			// Previous is the front slot consumers are reading.
			if sb.Space != wgsl.SpaceStorage || sb.Access == wgsl.AccessReadWrite {
				return fail(nil, "previous binding %d must be var<storage, read>", b.Binding)
			}
			entry.Type = gpucore.BindingTypeReadOnlyStorage
		}
		entries = append(entries, entry)
	}

	e.pipeline = gpucore.ComputePipelineDesc{
		Label:      e.Label,
		Source:     e.Source,
		EntryPoint: e.Entry,
		Entries:    entries,
	}
	return nil
}

func checkRoles(bindings []Binding) (map[uint32]Role, error) {
	roles := make(map[uint32]Role, len(bindings))
	count := make(map[Role]int)
	for _, b := range bindings {
		switch b.Role {
		case RoleParams, RoleOutput, RolePrevious:
		default:
			return nil, fmt.Errorf("binding %d has invalid role %s", b.Binding, b.Role)
		}
		if prev, dup := roles[b.Binding]; dup {
			return nil, fmt.Errorf("binding %d assigned twice (%s and %s)", b.Binding, prev, b.Role)
		}
		roles[b.Binding] = b.Role
		count[b.Role]++
	}
	switch {
	case count[RoleParams] != 1:
		return nil, fmt.Errorf("need exactly one params binding, have %d", count[RoleParams])
	case count[RoleOutput] != 1:
		return nil, fmt.Errorf("need exactly one output binding, have %d", count[RoleOutput])
	case count[RolePrevious] > 1:
		return nil, fmt.Errorf("at most one previous binding allowed, have %d", count[RolePrevious])
	}
	return roles, nil
}
