package stage

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Resolver reads and writes layer content by URL. client.Connection
// implements it; tests use in-memory fakes.
type Resolver interface {
	ReadFile(ctx context.Context, url string) ([]byte, error)
	WriteFile(ctx context.Context, url string, data []byte) error
}

// LiveLayerSuffix marks layers whose edits are flushed by LiveProcess
// rather than Save.
const LiveLayerSuffix = ".live"

// Stage composes a root layer with any number of session sublayers. Edits
// go to the edit target, which is the root layer unless a live session has
// retargeted it. Stages are not safe for concurrent use; external updates
// arriving from other goroutines must be queued with QueueExternalUpdate
// and are applied on the next LiveProcess call, mirroring the original
// client library's main-thread processing model.
type Stage struct {
	res  Resolver
	root *Layer
	// session sublayers, strongest first. Stronger than the root layer.
	session    []*Layer
	editTarget *Layer

	mu      sync.Mutex
	updates []externalUpdate
}

type externalUpdate struct {
	url  string
	data []byte
}

// CreateNew creates an empty stage at url, immediately writing the new
// root layer through the resolver.
func CreateNew(ctx context.Context, res Resolver, url string) (*Stage, error) {
	root := NewLayer(url)
	s := &Stage{res: res, root: root, editTarget: root}
	if err := s.saveLayer(ctx, root); err != nil {
		return nil, fmt.Errorf("create stage %s: %w", url, err)
	}

	return s, nil
}

// Open reads the root layer at url and returns a stage over it.
func Open(ctx context.Context, res Resolver, url string) (*Stage, error) {
	data, err := res.ReadFile(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open stage %s: %w", url, err)
	}
	root, err := DecodeLayer(url, data)
	if err != nil {
		return nil, err
	}

	return &Stage{res: res, root: root, editTarget: root}, nil
}

// RootLayer returns the stage's root layer.
func (s *Stage) RootLayer() *Layer { return s.root }

// EditTarget returns the layer receiving edits.
func (s *Stage) EditTarget() *Layer { return s.editTarget }

// SetEditTarget redirects edits to the given layer, which must be the root
// layer or an inserted session sublayer.
func (s *Stage) SetEditTarget(l *Layer) { s.editTarget = l }

// InsertSessionSublayer inserts a layer at the strong end of the session
// layer stack. Session sublayers are never persisted with the root layer.
func (s *Stage) InsertSessionSublayer(l *Layer) {
	s.session = append([]*Layer{l}, s.session...)
}

// RemoveSessionSublayers drops every session sublayer and restores the
// root layer as the edit target.
func (s *Stage) RemoveSessionSublayers() {
	s.session = nil
	s.editTarget = s.root
}

// layers returns the composition stack, strongest first.
func (s *Stage) layers() []*Layer {
	return append(append([]*Layer{}, s.session...), s.root)
}

// SetDefaultPrim records the stage's default prim on the root layer.
func (s *Stage) SetDefaultPrim(p Prim) {
	s.root.DefaultPrim = p.Path().Name()
	s.root.SetDirty()
}

// SetUpAxis declares the stage up axis ("Y" or "Z").
func (s *Stage) SetUpAxis(axis Token) {
	s.root.UpAxis = axis
	s.root.SetDirty()
}

// UpAxis returns the stage up axis, defaulting to "Y" when unauthored.
func (s *Stage) UpAxis() Token {
	if s.root.UpAxis == "" {
		return "Y"
	}

	return s.root.UpAxis
}

// SetMetersPerUnit declares the linear unit scale of the stage.
func (s *Stage) SetMetersPerUnit(m float64) {
	s.root.MetersPerUnit = m
	s.root.SetDirty()
}

// DefinePrim authors a typed prim spec at path on the edit target and
// returns the composed prim.
func (s *Stage) DefinePrim(path Path, typeName string) (Prim, error) {
	if _, err := s.editTarget.EnsurePrimAtPath(path, typeName); err != nil {
		return Prim{}, err
	}

	return Prim{stage: s, path: path}, nil
}

// GetPrimAtPath returns the composed prim at path. The result may be
// invalid; check Prim.IsValid.
func (s *Stage) GetPrimAtPath(path Path) Prim {
	return Prim{stage: s, path: path}
}

// Traverse returns every composed prim on the stage, depth first.
func (s *Stage) Traverse() []Prim {
	var out []Prim
	var walk func(p Prim)
	walk = func(p Prim) {
		out = append(out, p)
		for _, c := range p.Children() {
			walk(c)
		}
	}
	for _, c := range (Prim{stage: s, path: RootPath()}).Children() {
		walk(c)
	}

	return out
}

// Save writes the root layer through the resolver. Live session sublayers
// are flushed by LiveProcess instead, so that a save never publishes
// session edits to the base stage.
func (s *Stage) Save(ctx context.Context) error {
	return s.saveLayer(ctx, s.root)
}

func (s *Stage) saveLayer(ctx context.Context, l *Layer) error {
	data, err := l.Encode()
	if err != nil {
		return err
	}
	if err := s.res.WriteFile(ctx, l.Identifier(), data); err != nil {
		return fmt.Errorf("save layer %s: %w", l.Identifier(), err)
	}
	l.clearDirty()

	return nil
}

// QueueExternalUpdate records new content for one of the stage's layers,
// typically delivered by a client subscription on another goroutine. The
// update is applied on the next LiveProcess call.
func (s *Stage) QueueExternalUpdate(url string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, externalUpdate{url: url, data: data})
}

// LiveProcess applies queued external updates to their layers and flushes
// unsaved edits on every live (".live") layer. Samples call this after
// each edit and before reading state another client may have changed.
func (s *Stage) LiveProcess(ctx context.Context) error {
	s.mu.Lock()
	updates := s.updates
	s.updates = nil
	s.mu.Unlock()

	for _, u := range updates {
		for _, l := range s.layers() {
			if l.Identifier() != u.url {
				continue
			}
			// A locally dirty layer wins over the incoming copy; the
			// pending local edits get written below and replicate back.
			if l.Dirty() {
				continue
			}
			decoded, err := DecodeLayer(u.url, u.data)
			if err != nil {
				return err
			}
			l.Prims = decoded.Prims
			l.DefaultPrim = decoded.DefaultPrim
			l.UpAxis = decoded.UpAxis
			l.MetersPerUnit = decoded.MetersPerUnit
		}
	}

	for _, l := range s.layers() {
		if l.Dirty() && strings.HasSuffix(l.Identifier(), LiveLayerSuffix) {
			if err := s.saveLayer(ctx, l); err != nil {
				return err
			}
		}
	}

	return nil
}

// Prim is a composed view of the specs authored for one path across the
// stage's layers, strongest first.
type Prim struct {
	stage *Stage
	path  Path
}

// IsValid reports whether any layer has a spec at the prim's path.
func (p Prim) IsValid() bool {
	if p.stage == nil || p.path.IsRoot() {
		return false
	}
	for _, l := range p.stage.layers() {
		if l.GetPrimAtPath(p.path) != nil {
			return true
		}
	}

	return false
}

// Path returns the prim's path.
func (p Prim) Path() Path { return p.path }

// Name returns the prim's name, the last path element.
func (p Prim) Name() string { return p.path.Name() }

// Stage returns the stage the prim belongs to.
func (p Prim) Stage() *Stage { return p.stage }

// TypeName returns the strongest authored type for the prim, or "".
func (p Prim) TypeName() string {
	for _, l := range p.stage.layers() {
		if spec := l.GetPrimAtPath(p.path); spec != nil && spec.TypeName != "" {
			return spec.TypeName
		}
	}

	return ""
}

// IsA reports whether the prim's composed type is typeName.
func (p Prim) IsA(typeName string) bool {
	return p.TypeName() == typeName
}

// spec returns the strongest authored spec, or nil.
func (p Prim) spec() *PrimSpec {
	for _, l := range p.stage.layers() {
		if s := l.GetPrimAtPath(p.path); s != nil {
			return s
		}
	}

	return nil
}

// authoringSpec returns the spec on the edit target, creating it (and any
// missing ancestors) if needed.
func (p Prim) authoringSpec() (*PrimSpec, error) {
	return p.stage.editTarget.EnsurePrimAtPath(p.path, "")
}

// SetAttr authors an attribute on the edit target.
func (p Prim) SetAttr(name string, value any) error {
	spec, err := p.authoringSpec()
	if err != nil {
		return err
	}
	if _, err := spec.SetAttr(name, value); err != nil {
		return err
	}
	p.stage.editTarget.SetDirty()

	return nil
}

// GetAttr returns the strongest authored value for the attribute, or false
// if no layer authors it.
func (p Prim) GetAttr(name string) (any, bool) {
	for _, l := range p.stage.layers() {
		if spec := l.GetPrimAtPath(p.path); spec != nil {
			if a := spec.Attr(name); a != nil && a.Value != nil {
				return a.Value, true
			}
		}
	}

	return nil, false
}

// GetAttrSpec returns the strongest authored spec for the attribute, or
// nil.
func (p Prim) GetAttrSpec(name string) *AttributeSpec {
	for _, l := range p.stage.layers() {
		if spec := l.GetPrimAtPath(p.path); spec != nil {
			if a := spec.Attr(name); a != nil {
				return a
			}
		}
	}

	return nil
}

// SetRel authors a relationship on the edit target.
func (p Prim) SetRel(name string, targets ...Path) error {
	spec, err := p.authoringSpec()
	if err != nil {
		return err
	}
	spec.SetRel(name, targets...)
	p.stage.editTarget.SetDirty()

	return nil
}

// ApplyAPI records an applied API schema on the edit target.
func (p Prim) ApplyAPI(schema string) error {
	spec, err := p.authoringSpec()
	if err != nil {
		return err
	}
	spec.ApplyAPI(schema)
	p.stage.editTarget.SetDirty()

	return nil
}

// HasAPI reports whether any layer applies the schema to the prim.
func (p Prim) HasAPI(schema string) bool {
	for _, l := range p.stage.layers() {
		if spec := l.GetPrimAtPath(p.path); spec != nil && spec.HasAPI(schema) {
			return true
		}
	}

	return false
}

// Children returns the composed children of the prim, strongest layer's
// order first, deduplicated by name.
func (p Prim) Children() []Prim {
	seen := map[string]bool{}
	var out []Prim
	for _, l := range p.stage.layers() {
		var specs []*PrimSpec
		if p.path.IsRoot() {
			specs = l.Prims
		} else if s := l.GetPrimAtPath(p.path); s != nil {
			specs = s.Children
		}
		for _, c := range specs {
			if !seen[c.Name] {
				seen[c.Name] = true
				out = append(out, Prim{stage: p.stage, path: p.path.AppendChild(c.Name)})
			}
		}
	}

	return out
}
