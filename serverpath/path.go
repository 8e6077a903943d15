package serverpath

import "strings"

// Path is a protocol-typed, canonicalised sequence of segments.
// The zero Path is the empty path and has no type; Type()/Resolve() enforce
// the invariant "a path either is empty or has a well-defined type".
type Path struct {
	typ      ServerType
	resolved bool
	segments []string
}

// New builds a Path of the given type from already-canonical segments.
func New(typ ServerType, segments ...string) Path {
	return Path{typ: typ, resolved: true, segments: append([]string(nil), segments...)}
}

// Unresolved builds a DEFAULT-typed path: its type is decided by Resolve at
// first use against the connection's actual server type.
func Unresolved(segments ...string) Path {
	return Path{segments: append([]string(nil), segments...)}
}

// Empty reports whether the path has no segments.
func (p Path) Empty() bool { return len(p.segments) == 0 }

// Resolve assigns typ to a DEFAULT-typed path. Resolving an already-typed or
// empty path is a no-op: the type, once fixed, never changes.
func (p Path) Resolve(typ ServerType) Path {
	if p.resolved || p.Empty() {
		return p
	}
	p.typ = typ
	p.resolved = true
	return p
}

// Type returns the path's server type. Callers must not rely on it for an
// unresolved, non-empty path.
func (p Path) Type() ServerType { return p.typ }

func (p Path) separator() byte {
	if p.typ == ServerDOS {
		return '\\'
	}
	return '/'
}

// Parent returns the path one level up, or the empty path if p is already
// at the root.
func (p Path) Parent() Path {
	if len(p.segments) == 0 {
		return p
	}
	return Path{typ: p.typ, resolved: p.resolved, segments: p.segments[:len(p.segments)-1]}
}

// IsParentOf reports whether p is a (strict, unless allowEqual) ancestor of
// other. Comparison of segment names honours caseSensitive.
func (p Path) IsParentOf(other Path, caseSensitive, allowEqual bool) bool {
	if len(other.segments) < len(p.segments) {
		return false
	}
	if len(other.segments) == len(p.segments) {
		if !allowEqual {
			return false
		}
	}
	for i := range p.segments {
		if !segmentEqual(p.segments[i], other.segments[i], caseSensitive) {
			return false
		}
	}
	return true
}

func segmentEqual(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// ChangePath resolves relative (which may itself be absolute, "." / "..",
// or a chain of segments joined by the path's separator) against p,
// returning the resulting canonical Path.
func (p Path) ChangePath(relative string) Path {
	if relative == "" {
		return p
	}
	sep := string(p.separator())
	abs := strings.HasPrefix(relative, sep) || (p.typ == ServerDOS && strings.HasPrefix(relative, "/"))
	parts := strings.FieldsFunc(relative, func(r rune) bool { return r == rune(p.separator()) || r == '/' })

	segs := p.segments
	if abs {
		segs = nil
	} else {
		segs = append([]string(nil), segs...)
	}
	for _, part := range parts {
		switch part {
		case ".":
			// no-op
		case "..":
			if len(segs) > 0 {
				segs = segs[:len(segs)-1]
			}
		default:
			segs = append(segs, part)
		}
	}
	return Path{typ: p.typ, resolved: p.resolved, segments: segs}
}

// FormatFilename renders p with name appended (name may be empty to render
// just the directory). When omitPath is true only name is returned.
func (p Path) FormatFilename(name string, omitPath bool) string {
	if omitPath {
		return name
	}
	sep := string(p.separator())
	base := sep + strings.Join(p.segments, sep)
	if p.typ == ServerVMS && len(p.segments) > 0 {
		// VMS directory notation: DEVICE:[dir.subdir]name; approximate
		// with bracket segments, keeping the intent of
		// rendering non-Unix servers distinctly rather than slash-joined.
		base = p.segments[0] + ":[" + strings.Join(p.segments[1:], ".") + "]"
	}
	if name == "" {
		return base
	}
	if base == sep {
		return sep + name
	}
	return base + sep + name
}

// String renders the canonical path with no filename appended.
func (p Path) String() string { return p.FormatFilename("", false) }

// Segments returns the path's segments; callers must not mutate the result.
func (p Path) Segments() []string { return p.segments }
