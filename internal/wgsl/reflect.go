// Package wgsl compiles compute shaders with naga and reflects the parts of
// their interface the registry validates: group 0 buffer bindings, compute
// entry points, and host-shareable struct layouts.
package wgsl

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gogpu/naga"
)

// AddressSpace is the address space of a module-scope variable.
type AddressSpace uint8

const (
	// SpaceOther covers handles (textures, samplers) and private/workgroup
	// variables.
	SpaceOther AddressSpace = iota
	// SpaceUniform is var<uniform>.
	SpaceUniform
	// SpaceStorage is var<storage>.
	SpaceStorage
)

func (s AddressSpace) String() string {
	switch s {
	case SpaceUniform:
		return "uniform"
	case SpaceStorage:
		return "storage"
	}
	return "other"
}

// Access is the access mode of a storage binding.
type Access uint8

const (
	// AccessRead is the default for storage and the only mode for uniform.
	AccessRead Access = iota
	// AccessReadWrite is var<storage, read_write>.
	AccessReadWrite
)

// Binding is a reflected resource binding.
type Binding struct {
	Group   uint32
	Binding uint32
	Name    string
	Space   AddressSpace
	Access  Access
	// Type is the WGSL type expression as written.
	Type string
}

// Field is one member of a reflected struct.
type Field struct {
	Name string
	Type string
	// Size and Align are explicit @size/@align values, zero when absent.
	Size  uint64
	Align uint64
}

// Struct is a reflected struct declaration.
type Struct struct {
	Name   string
	Fields []Field
}

// Module is the reflected interface of one WGSL source.
type Module struct {
	Bindings    []Binding
	Structs     map[string]*Struct
	EntryPoints []string
}

// Reflection errors.
var (
	// ErrSyntax indicates source the reflector could not interpret.
	ErrSyntax = errors.New("wgsl: unsupported syntax")

	// ErrNotHostShareable indicates a type with no defined memory layout.
	ErrNotHostShareable = errors.New("wgsl: type is not host-shareable")
)

var (
	lineComment  = regexp.MustCompile(`//[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	attrsPattern = `((?:@\w+(?:\s*\([^)]*\))?\s*)+)`
	varDecl      = regexp.MustCompile(attrsPattern + `var(?:\s*<([^>]*)>)?\s+(\w+)\s*:\s*([^;=]+?)\s*;`)
	fnDecl       = regexp.MustCompile(attrsPattern + `fn\s+(\w+)\s*\(`)
	structDecl   = regexp.MustCompile(`struct\s+(\w+)\s*\{([^}]*)\}`)
	attr         = regexp.MustCompile(`@(\w+)(?:\s*\(\s*([^)]*?)\s*\))?`)
	fieldDecl    = regexp.MustCompile(`^` + `((?:@\w+(?:\s*\([^)]*\))?\s*)*)` + `(\w+)\s*:\s*(.+)$`)
)

// Compile validates src by compiling it to SPIR-V with naga.
func Compile(src string) ([]byte, error) {
	spirv, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("wgsl: compile: %w", err)
	}
	return spirv, nil
}

// Parse reflects the bindings, structs and compute entry points of src.
func Parse(src string) (*Module, error) {
	src = stripComments(src)
	m := &Module{Structs: make(map[string]*Struct)}

	for _, sm := range structDecl.FindAllStringSubmatch(src, -1) {
		s, err := parseStruct(sm[1], sm[2])
		if err != nil {
			return nil, err
		}
		m.Structs[s.Name] = s
	}

	for _, vm := range varDecl.FindAllStringSubmatch(src, -1) {
		attrs := parseAttrs(vm[1])
		gs, hasGroup := attrs["group"]
		bs, hasBinding := attrs["binding"]
		if !hasGroup || !hasBinding {
			continue
		}
		group, err := parseUint(gs)
		if err != nil {
			return nil, fmt.Errorf("%w: @group(%s) on %s", ErrSyntax, gs, vm[3])
		}
		binding, err := parseUint(bs)
		if err != nil {
			return nil, fmt.Errorf("%w: @binding(%s) on %s", ErrSyntax, bs, vm[3])
		}
		b := Binding{
			Group:   uint32(group),
			Binding: uint32(binding),
			Name:    vm[3],
			Type:    strings.TrimSpace(vm[4]),
		}
		b.Space, b.Access = parseSpace(vm[2])
		m.Bindings = append(m.Bindings, b)
	}
	sort.Slice(m.Bindings, func(i, j int) bool {
		if m.Bindings[i].Group != m.Bindings[j].Group {
			return m.Bindings[i].Group < m.Bindings[j].Group
		}
		return m.Bindings[i].Binding < m.Bindings[j].Binding
	})

	for _, fm := range fnDecl.FindAllStringSubmatch(src, -1) {
		if _, ok := parseAttrs(fm[1])["compute"]; ok {
			m.EntryPoints = append(m.EntryPoints, fm[2])
		}
	}
	return m, nil
}

// Lookup returns the binding at group/binding.
func (m *Module) Lookup(group, binding uint32) (Binding, bool) {
	for _, b := range m.Bindings {
		if b.Group == group && b.Binding == binding {
			return b, true
		}
	}
	return Binding{}, false
}

// HasEntryPoint reports whether name is a @compute function.
func (m *Module) HasEntryPoint(name string) bool {
	for _, ep := range m.EntryPoints {
		if ep == name {
			return true
		}
	}
	return false
}

func stripComments(src string) string {
	src = blockComment.ReplaceAllString(src, " ")
	return lineComment.ReplaceAllString(src, "")
}

func parseAttrs(s string) map[string]string {
	out := make(map[string]string)
	for _, am := range attr.FindAllStringSubmatch(s, -1) {
		out[am[1]] = am[2]
	}
	return out
}

func parseUint(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "u"), "i")
	return strconv.ParseUint(s, 0, 32)
}

func parseSpace(s string) (AddressSpace, Access) {
	parts := strings.Split(s, ",")
	space := SpaceOther
	switch strings.TrimSpace(parts[0]) {
	case "uniform":
		space = SpaceUniform
	case "storage":
		space = SpaceStorage
	}
	access := AccessRead
	if len(parts) > 1 && strings.TrimSpace(parts[1]) == "read_write" {
		access = AccessReadWrite
	}
	return space, access
}

func parseStruct(name, body string) (*Struct, error) {
	s := &Struct{Name: name}
	for _, raw := range splitTopLevel(body, ',', ';') {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		fm := fieldDecl.FindStringSubmatch(raw)
		if fm == nil {
			return nil, fmt.Errorf("%w: struct %s member %q", ErrSyntax, name, raw)
		}
		f := Field{Name: fm[2], Type: strings.TrimSpace(fm[3])}
		attrs := parseAttrs(fm[1])
		if v, ok := attrs["size"]; ok {
			n, err := parseUint(v)
			if err != nil {
				return nil, fmt.Errorf("%w: @size(%s) on %s.%s", ErrSyntax, v, name, f.Name)
			}
			f.Size = n
		}
		if v, ok := attrs["align"]; ok {
			n, err := parseUint(v)
			if err != nil || n == 0 || n&(n-1) != 0 {
				return nil, fmt.Errorf("%w: @align(%s) on %s.%s", ErrSyntax, v, name, f.Name)
			}
			f.Align = n
		}
		s.Fields = append(s.Fields, f)
	}
	return s, nil
}

// splitTopLevel splits s at any of seps that is not nested inside <> or ().
func splitTopLevel(s string, seps ...byte) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '<', '(':
			depth++
		case '>', ')':
			depth--
		default:
			if depth != 0 {
				continue
			}
			for _, sep := range seps {
				if c == sep {
					out = append(out, s[start:i])
					start = i + 1
					break
				}
			}
		}
	}
	return append(out, s[start:])
}
