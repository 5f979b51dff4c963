package stage

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// layerFormatVersion is written into every encoded layer. Decoding rejects
// layers whose major version differs.
const layerFormatVersion = "1.0"

var (
	// ErrPrimNotFound is returned when a path does not resolve to a prim.
	ErrPrimNotFound = errors.New("prim not found")
	// ErrPrimExists is returned when defining a prim over an existing one
	// with a conflicting type.
	ErrPrimExists = errors.New("prim already exists")
)

// AttributeSpec is an authored attribute value on a prim spec.
type AttributeSpec struct {
	Name    string    `json:"name"`
	Type    ValueType `json:"type"`
	Value   any       `json:"value,omitempty"`
	Uniform bool      `json:"uniform,omitempty"`
	// Metadata carries attribute qualifiers such as colorSpace and
	// interpolation.
	Metadata map[string]string `json:"metadata,omitempty"`
	// Connections are upstream sources in "</Prim/Path>.outputs:name"
	// form; shader inputs use these instead of authored values.
	Connections []string `json:"connections,omitempty"`
}

// RelationshipSpec is an authored relationship on a prim spec, e.g. a
// material binding.
type RelationshipSpec struct {
	Name    string `json:"name"`
	Targets []Path `json:"targets"`
}

// PrimSpec is a node of a layer's prim tree. The zero TypeName denotes a
// typeless over created to parent a descendant spec.
type PrimSpec struct {
	Name          string              `json:"name"`
	TypeName      string              `json:"typeName,omitempty"`
	APISchemas    []string            `json:"apiSchemas,omitempty"`
	Attributes    []*AttributeSpec    `json:"attributes,omitempty"`
	Relationships []*RelationshipSpec `json:"relationships,omitempty"`
	Children      []*PrimSpec         `json:"children,omitempty"`
}

// Attr returns the attribute spec with the given name, or nil.
func (p *PrimSpec) Attr(name string) *AttributeSpec {
	for _, a := range p.Attributes {
		if a.Name == name {
			return a
		}
	}

	return nil
}

// SetAttr authors an attribute value, creating the spec if needed. The
// value must be one of the supported attribute types.
func (p *PrimSpec) SetAttr(name string, value any) (*AttributeSpec, error) {
	t, err := TypeOf(value)
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", name, err)
	}

	if a := p.Attr(name); a != nil {
		a.Type = t
		a.Value = value
		return a, nil
	}

	a := &AttributeSpec{Name: name, Type: t, Value: value}
	p.Attributes = append(p.Attributes, a)

	return a, nil
}

// Rel returns the relationship spec with the given name, or nil.
func (p *PrimSpec) Rel(name string) *RelationshipSpec {
	for _, r := range p.Relationships {
		if r.Name == name {
			return r
		}
	}

	return nil
}

// SetRel authors a relationship, replacing any existing targets.
func (p *PrimSpec) SetRel(name string, targets ...Path) *RelationshipSpec {
	if r := p.Rel(name); r != nil {
		r.Targets = targets
		return r
	}

	r := &RelationshipSpec{Name: name, Targets: targets}
	p.Relationships = append(p.Relationships, r)

	return r
}

// ApplyAPI records an applied API schema on the spec. Reapplying is a
// no-op.
func (p *PrimSpec) ApplyAPI(schema string) {
	if !slices.Contains(p.APISchemas, schema) {
		p.APISchemas = append(p.APISchemas, schema)
	}
}

// HasAPI reports whether the schema has been applied to the spec.
func (p *PrimSpec) HasAPI(schema string) bool {
	return slices.Contains(p.APISchemas, schema)
}

func (p *PrimSpec) child(name string) *PrimSpec {
	for _, c := range p.Children {
		if c.Name == name {
			return c
		}
	}

	return nil
}

func (p *PrimSpec) clone() *PrimSpec {
	out := &PrimSpec{
		Name:       p.Name,
		TypeName:   p.TypeName,
		APISchemas: append([]string{}, p.APISchemas...),
	}
	for _, a := range p.Attributes {
		ac := *a
		if a.Metadata != nil {
			ac.Metadata = make(map[string]string, len(a.Metadata))
			for k, v := range a.Metadata {
				ac.Metadata[k] = v
			}
		}
		ac.Connections = append([]string{}, a.Connections...)
		if len(ac.Connections) == 0 {
			ac.Connections = nil
		}
		out.Attributes = append(out.Attributes, &ac)
	}
	for _, r := range p.Relationships {
		rc := &RelationshipSpec{Name: r.Name, Targets: append([]Path{}, r.Targets...)}
		out.Relationships = append(out.Relationships, rc)
	}
	for _, c := range p.Children {
		out.Children = append(out.Children, c.clone())
	}

	return out
}

// UnmarshalJSON decodes the spec, restoring attribute values to their
// concrete Go types using the recorded ValueType.
func (p *PrimSpec) UnmarshalJSON(data []byte) error {
	type rawAttribute struct {
		Name        string            `json:"name"`
		Type        ValueType         `json:"type"`
		Value       json.RawMessage   `json:"value,omitempty"`
		Uniform     bool              `json:"uniform,omitempty"`
		Metadata    map[string]string `json:"metadata,omitempty"`
		Connections []string          `json:"connections,omitempty"`
	}
	type rawSpec struct {
		Name          string              `json:"name"`
		TypeName      string              `json:"typeName,omitempty"`
		APISchemas    []string            `json:"apiSchemas,omitempty"`
		Attributes    []*rawAttribute     `json:"attributes,omitempty"`
		Relationships []*RelationshipSpec `json:"relationships,omitempty"`
		Children      []*PrimSpec         `json:"children,omitempty"`
	}

	var raw rawSpec
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.Name = raw.Name
	p.TypeName = raw.TypeName
	p.APISchemas = raw.APISchemas
	p.Relationships = raw.Relationships
	p.Children = raw.Children
	p.Attributes = nil
	for _, a := range raw.Attributes {
		spec := &AttributeSpec{
			Name:        a.Name,
			Type:        a.Type,
			Uniform:     a.Uniform,
			Metadata:    a.Metadata,
			Connections: a.Connections,
		}
		if len(a.Value) > 0 {
			v, err := decodeValue(a.Type, a.Value)
			if err != nil {
				return fmt.Errorf("attribute %q: %w", a.Name, err)
			}
			spec.Value = v
		}
		p.Attributes = append(p.Attributes, spec)
	}

	return nil
}

// Layer is a named scene-description document: stage metadata plus a tree
// of prim specs. A layer belongs to exactly one URL, its identifier.
type Layer struct {
	identifier string

	DefaultPrim   string
	UpAxis        Token
	MetersPerUnit float64
	// SubLayers are weaker layers composed under this one, recorded by
	// URL. Only root layers author sublayers; a stage's session sublayers
	// are held on the stage and never persisted.
	SubLayers []string

	Prims []*PrimSpec

	dirty bool
}

// NewLayer returns an empty layer bound to the given identifier URL.
func NewLayer(identifier string) *Layer {
	return &Layer{identifier: identifier}
}

// Identifier returns the URL this layer loads from and saves to.
func (l *Layer) Identifier() string { return l.identifier }

// Dirty reports whether the layer has unsaved edits.
func (l *Layer) Dirty() bool { return l.dirty }

// SetDirty marks the layer as having unsaved edits.
func (l *Layer) SetDirty() { l.dirty = true }

func (l *Layer) clearDirty() { l.dirty = false }

// GetPrimAtPath returns the spec at path, or nil. The root path has no
// spec.
func (l *Layer) GetPrimAtPath(path Path) *PrimSpec {
	var cur *PrimSpec
	for i, name := range path.Elements() {
		if i == 0 {
			cur = l.rootChild(name)
		} else {
			cur = cur.child(name)
		}
		if cur == nil {
			return nil
		}
	}

	return cur
}

func (l *Layer) rootChild(name string) *PrimSpec {
	for _, p := range l.Prims {
		if p.Name == name {
			return p
		}
	}

	return nil
}

// EnsurePrimAtPath returns the spec at path, creating it and any missing
// ancestors. Created ancestors are typed as Xform; the leaf takes typeName
// if it was newly created or previously typeless.
func (l *Layer) EnsurePrimAtPath(path Path, typeName string) (*PrimSpec, error) {
	if path.IsRoot() {
		return nil, errors.New("cannot author a spec on the root path")
	}

	elems := path.Elements()
	var cur *PrimSpec
	for i, name := range elems {
		var next *PrimSpec
		if i == 0 {
			next = l.rootChild(name)
		} else {
			next = cur.child(name)
		}
		if next == nil {
			next = &PrimSpec{Name: name}
			if i < len(elems)-1 {
				next.TypeName = "Xform"
			}
			if i == 0 {
				l.Prims = append(l.Prims, next)
			} else {
				cur.Children = append(cur.Children, next)
			}
		}
		cur = next
	}

	if typeName != "" {
		if cur.TypeName != "" && cur.TypeName != typeName {
			return nil, fmt.Errorf("%w: %s is a %s, not a %s", ErrPrimExists, path, cur.TypeName, typeName)
		}
		cur.TypeName = typeName
	}
	l.dirty = true

	return cur, nil
}

// RemovePrimAtPath removes the spec at path and its descendants.
func (l *Layer) RemovePrimAtPath(path Path) error {
	if path.IsRoot() {
		return errors.New("cannot remove the root path")
	}

	name := path.Name()
	if parent := path.Parent(); parent.IsRoot() {
		for i, p := range l.Prims {
			if p.Name == name {
				l.Prims = slices.Delete(l.Prims, i, i+1)
				l.dirty = true
				return nil
			}
		}
	} else if ps := l.GetPrimAtPath(parent); ps != nil {
		for i, c := range ps.Children {
			if c.Name == name {
				ps.Children = slices.Delete(ps.Children, i, i+1)
				l.dirty = true
				return nil
			}
		}
	}

	return fmt.Errorf("%w: %s", ErrPrimNotFound, path)
}

// RenamePrim renames the spec at path. The new name is coerced to a valid
// identifier; renaming fails if a sibling already has that name.
func (l *Layer) RenamePrim(path Path, newName string) error {
	spec := l.GetPrimAtPath(path)
	if spec == nil {
		return fmt.Errorf("%w: %s", ErrPrimNotFound, path)
	}

	newName = MakeValidIdentifier(newName)
	siblings := l.Prims
	if parent := path.Parent(); !parent.IsRoot() {
		siblings = l.GetPrimAtPath(parent).Children
	}
	for _, s := range siblings {
		if s != spec && s.Name == newName {
			return fmt.Errorf("%w: sibling named %q", ErrPrimExists, newName)
		}
	}

	spec.Name = newName
	l.dirty = true

	return nil
}

// Walk visits every spec depth first, parents before children. Returning
// false from fn prunes the subtree below the visited spec.
func (l *Layer) Walk(fn func(Path, *PrimSpec) bool) {
	var walk func(base Path, specs []*PrimSpec)
	walk = func(base Path, specs []*PrimSpec) {
		for _, s := range specs {
			p := base.AppendChild(s.Name)
			if fn(p, s) {
				walk(p, s.Children)
			}
		}
	}
	walk(RootPath(), l.Prims)
}

// Clear removes every prim spec, leaving layer metadata untouched. Used
// after a live session merge to empty the live layer.
func (l *Layer) Clear() {
	l.Prims = nil
	l.dirty = true
}

// layerDoc is the on-disk encoding of a Layer.
type layerDoc struct {
	Version       string      `json:"version"`
	DefaultPrim   string      `json:"defaultPrim,omitempty"`
	UpAxis        Token       `json:"upAxis,omitempty"`
	MetersPerUnit float64     `json:"metersPerUnit,omitempty"`
	SubLayers     []string    `json:"subLayers,omitempty"`
	Prims         []*PrimSpec `json:"prims"`
}

// Encode serializes the layer to its JSON text encoding.
func (l *Layer) Encode() ([]byte, error) {
	doc := layerDoc{
		Version:       layerFormatVersion,
		DefaultPrim:   l.DefaultPrim,
		UpAxis:        l.UpAxis,
		MetersPerUnit: l.MetersPerUnit,
		SubLayers:     l.SubLayers,
		Prims:         l.Prims,
	}
	if doc.Prims == nil {
		doc.Prims = []*PrimSpec{}
	}

	return json.MarshalIndent(doc, "", "  ")
}

// DecodeLayer parses a layer from its JSON text encoding and binds it to
// the identifier URL it was read from.
func DecodeLayer(identifier string, data []byte) (*Layer, error) {
	var doc layerDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode layer %s: %w", identifier, err)
	}
	if major(doc.Version) != major(layerFormatVersion) {
		return nil, fmt.Errorf("decode layer %s: unsupported format version %q", identifier, doc.Version)
	}

	return &Layer{
		identifier:    identifier,
		DefaultPrim:   doc.DefaultPrim,
		UpAxis:        doc.UpAxis,
		MetersPerUnit: doc.MetersPerUnit,
		SubLayers:     doc.SubLayers,
		Prims:         doc.Prims,
	}, nil
}

func major(version string) string {
	for i := 0; i < len(version); i++ {
		if version[i] == '.' {
			return version[:i]
		}
	}

	return version
}
