package wgsl

import (
	"fmt"
	"strings"
)

// Layout is the memory layout of a host-shareable type.
type Layout struct {
	Size  uint64
	Align uint64
	// Runtime reports a runtime-sized array at the end of the type. Size
	// then covers only the fixed prefix.
	Runtime bool
}

const maxTypeDepth = 32

// LayoutOf computes the layout of a WGSL type expression, resolving struct
// names against the module.
func (m *Module) LayoutOf(typ string) (Layout, error) {
	return m.layout(typ, 0)
}

func (m *Module) layout(typ string, depth int) (Layout, error) {
	if depth > maxTypeDepth {
		return Layout{}, fmt.Errorf("%w: type nesting too deep at %q", ErrSyntax, typ)
	}
	typ = strings.TrimSpace(typ)
	name, args := splitGeneric(typ)

	switch name {
	case "f32", "i32", "u32":
		return Layout{Size: 4, Align: 4}, nil
	case "f16":
		return Layout{Size: 2, Align: 2}, nil
	case "bool":
		return Layout{}, fmt.Errorf("%w: bool", ErrNotHostShareable)
	case "atomic":
		if len(args) != 1 {
			return Layout{}, fmt.Errorf("%w: %q", ErrSyntax, typ)
		}
		return m.layout(args[0], depth+1)
	case "array":
		return m.arrayLayout(typ, args, depth)
	}

	if n, scalar, ok := vectorShape(name, args); ok {
		elem, err := m.layout(scalar, depth+1)
		if err != nil {
			return Layout{}, err
		}
		return vectorLayout(n, elem), nil
	}
	if cols, rows, scalar, ok := matrixShape(name, args); ok {
		elem, err := m.layout(scalar, depth+1)
		if err != nil {
			return Layout{}, err
		}
		col := vectorLayout(rows, elem)
		return Layout{Size: uint64(cols) * roundUp(col.Align, col.Size), Align: col.Align}, nil
	}

	if s, ok := m.Structs[name]; ok && args == nil {
		return m.structLayout(s, depth)
	}
	return Layout{}, fmt.Errorf("%w: unknown type %q", ErrSyntax, typ)
}

func (m *Module) arrayLayout(typ string, args []string, depth int) (Layout, error) {
	if len(args) < 1 || len(args) > 2 {
		return Layout{}, fmt.Errorf("%w: %q", ErrSyntax, typ)
	}
	elem, err := m.layout(args[0], depth+1)
	if err != nil {
		return Layout{}, err
	}
	if elem.Runtime {
		return Layout{}, fmt.Errorf("%w: nested runtime-sized array in %q", ErrSyntax, typ)
	}
	stride := roundUp(elem.Align, elem.Size)
	if len(args) == 1 {
		return Layout{Size: 0, Align: elem.Align, Runtime: true}, nil
	}
	count, err := parseUint(args[1])
	if err != nil || count == 0 {
		return Layout{}, fmt.Errorf("%w: array count %q", ErrSyntax, args[1])
	}
	return Layout{Size: stride * count, Align: elem.Align}, nil
}

func (m *Module) structLayout(s *Struct, depth int) (Layout, error) {
	var offset, maxAlign uint64 = 0, 1
	runtime := false
	for i, f := range s.Fields {
		l, err := m.layout(f.Type, depth+1)
		if err != nil {
			return Layout{}, fmt.Errorf("%s.%s: %w", s.Name, f.Name, err)
		}
		if l.Runtime && i != len(s.Fields)-1 {
			return Layout{}, fmt.Errorf("%w: runtime-sized %s.%s is not the last member", ErrSyntax, s.Name, f.Name)
		}
		align, size := l.Align, l.Size
		if f.Align != 0 {
			align = f.Align
		}
		if f.Size != 0 {
			size = f.Size
		}
		offset = roundUp(align, offset) + size
		maxAlign = max(maxAlign, align)
		runtime = runtime || l.Runtime
	}
	if runtime {
		return Layout{Size: offset, Align: maxAlign, Runtime: true}, nil
	}
	return Layout{Size: roundUp(maxAlign, offset), Align: maxAlign}, nil
}

func vectorLayout(n int, elem Layout) Layout {
	size := uint64(n) * elem.Size
	align := size
	if n == 3 {
		align = 4 * elem.Size
	}
	return Layout{Size: size, Align: align}
}

// vectorShape recognizes vecN<T> and the vecNf/vecNi/vecNu/vecNh aliases.
func vectorShape(name string, args []string) (int, string, bool) {
	if len(name) < 4 || !strings.HasPrefix(name, "vec") {
		return 0, "", false
	}
	n := int(name[3] - '0')
	if n < 2 || n > 4 {
		return 0, "", false
	}
	switch suffix := name[4:]; {
	case suffix == "" && len(args) == 1:
		return n, args[0], true
	case len(suffix) == 1 && args == nil:
		s, ok := aliasScalar(suffix[0])
		return n, s, ok
	}
	return 0, "", false
}

// matrixShape recognizes matCxR<T> and the matCxRf/matCxRh aliases.
func matrixShape(name string, args []string) (int, int, string, bool) {
	if len(name) < 6 || !strings.HasPrefix(name, "mat") || name[4] != 'x' {
		return 0, 0, "", false
	}
	cols, rows := int(name[3]-'0'), int(name[5]-'0')
	if cols < 2 || cols > 4 || rows < 2 || rows > 4 {
		return 0, 0, "", false
	}
	switch suffix := name[6:]; {
	case suffix == "" && len(args) == 1:
		return cols, rows, args[0], true
	case (suffix == "f" || suffix == "h") && args == nil:
		s, _ := aliasScalar(suffix[0])
		return cols, rows, s, true
	}
	return 0, 0, "", false
}

func aliasScalar(c byte) (string, bool) {
	switch c {
	case 'f':
		return "f32", true
	case 'i':
		return "i32", true
	case 'u':
		return "u32", true
	case 'h':
		return "f16", true
	}
	return "", false
}

// splitGeneric splits "array<vec2<f32>, 4>" into "array" and its top-level
// arguments. Non-generic names return nil args.
func splitGeneric(typ string) (string, []string) {
	open := strings.IndexByte(typ, '<')
	if open < 0 || !strings.HasSuffix(typ, ">") {
		return typ, nil
	}
	inner := typ[open+1 : len(typ)-1]
	parts := splitTopLevel(inner, ',')
	args := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			args = append(args, p)
		}
	}
	return strings.TrimSpace(typ[:open]), args
}

func roundUp(align, n uint64) uint64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}
