// Package stage implements a scene-description library: layers holding
// trees of typed prim specs, stages that compose layers, transform op
// stacks, and typed schema wrappers for geometry, lights, materials and
// physics.
package stage

import (
	"errors"
	"fmt"
	"strings"
)

// Path identifies a prim inside a stage. Paths are absolute and rooted at
// "/"; each element is a valid identifier. The zero value is the absolute
// root path.
type Path struct {
	parts []string
}

// RootPath returns the absolute root path "/".
func RootPath() Path {
	return Path{}
}

// ParsePath parses an absolute path string such as "/Root/box_0".
func ParsePath(s string) (Path, error) {
	if !strings.HasPrefix(s, "/") {
		return Path{}, fmt.Errorf("path %q is not absolute", s)
	}
	if s == "/" {
		return Path{}, nil
	}

	parts := strings.Split(strings.Trim(s, "/"), "/")
	for _, p := range parts {
		if !IsValidIdentifier(p) {
			return Path{}, fmt.Errorf("path %q contains invalid element %q", s, p)
		}
	}

	return Path{parts: parts}, nil
}

// MustParsePath is ParsePath that panics on malformed input. For use with
// compile-time constant paths.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}

	return p
}

// AppendChild returns the path extended by one element. The name is coerced
// with MakeValidIdentifier, so "box-0" becomes "box_0".
func (p Path) AppendChild(name string) Path {
	parts := make([]string, 0, len(p.parts)+1)
	parts = append(parts, p.parts...)
	parts = append(parts, MakeValidIdentifier(name))

	return Path{parts: parts}
}

// Parent returns the path with the last element removed. The parent of the
// root is the root.
func (p Path) Parent() Path {
	if len(p.parts) == 0 {
		return Path{}
	}

	return Path{parts: p.parts[:len(p.parts)-1]}
}

// Name returns the last element of the path, or "" for the root.
func (p Path) Name() string {
	if len(p.parts) == 0 {
		return ""
	}

	return p.parts[len(p.parts)-1]
}

// IsRoot reports whether p is the absolute root path.
func (p Path) IsRoot() bool {
	return len(p.parts) == 0
}

// Depth returns the number of elements in the path.
func (p Path) Depth() int {
	return len(p.parts)
}

// Elements returns a copy of the path elements.
func (p Path) Elements() []string {
	return append([]string{}, p.parts...)
}

// HasPrefix reports whether prefix is p or an ancestor of p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix.parts) > len(p.parts) {
		return false
	}
	for i, part := range prefix.parts {
		if p.parts[i] != part {
			return false
		}
	}

	return true
}

// ReplacePrefix returns p with the leading oldPrefix elements swapped for
// newPrefix. Used when a prim is renamed to retarget descendant paths.
func (p Path) ReplacePrefix(oldPrefix, newPrefix Path) (Path, error) {
	if !p.HasPrefix(oldPrefix) {
		return Path{}, fmt.Errorf("path %s does not have prefix %s", p, oldPrefix)
	}

	parts := make([]string, 0, len(newPrefix.parts)+len(p.parts)-len(oldPrefix.parts))
	parts = append(parts, newPrefix.parts...)
	parts = append(parts, p.parts[len(oldPrefix.parts):]...)

	return Path{parts: parts}, nil
}

// String returns the path in "/Root/child" form.
func (p Path) String() string {
	if len(p.parts) == 0 {
		return "/"
	}

	return "/" + strings.Join(p.parts, "/")
}

// MarshalText implements encoding.TextMarshaler.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Path) UnmarshalText(text []byte) error {
	parsed, err := ParsePath(string(text))
	if err != nil {
		return err
	}
	*p = parsed

	return nil
}

// ErrEmptyIdentifier is returned when a name reduces to nothing.
var ErrEmptyIdentifier = errors.New("identifier is empty")

// IsValidIdentifier reports whether s starts with a letter or underscore
// and contains only letters, digits and underscores.
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') {
			continue
		}
		if i > 0 && '0' <= r && r <= '9' {
			continue
		}

		return false
	}

	return true
}

// MakeValidIdentifier coerces an arbitrary name into a valid identifier:
// every invalid rune becomes an underscore, and a leading digit is replaced
// by an underscore. An empty name becomes a single underscore.
func MakeValidIdentifier(s string) string {
	if s == "" {
		return "_"
	}

	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		valid := r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || (i > 0 && '0' <= r && r <= '9')
		if valid {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	return b.String()
}
