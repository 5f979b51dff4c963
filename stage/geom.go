package stage

// Prim type names authored by the geometry schemas.
const (
	TypeNameXform = "Xform"
	TypeNameScope = "Scope"
	TypeNameMesh  = "Mesh"
	TypeNameCube  = "Cube"
)

// Geometry attribute names.
const (
	AttrPoints            = "points"
	AttrNormals           = "normals"
	AttrFaceVertexCounts  = "faceVertexCounts"
	AttrFaceVertexIndices = "faceVertexIndices"
	AttrExtent            = "extent"
	AttrOrientation       = "orientation"
	AttrSize              = "size"
	AttrPrimvarsST        = "primvars:st"
	AttrDisplayColor      = "primvars:displayColor"
)

// Orientation tokens.
const (
	OrientationRightHanded Token = "rightHanded"
	OrientationLeftHanded  Token = "leftHanded"
)

// Interpolation metadata values for primvars.
const (
	InterpolationVertex   = "vertex"
	InterpolationConstant = "constant"
)

// Xform is a transformable grouping prim.
type Xform struct {
	Prim
}

// DefineXform authors an Xform prim at path.
func DefineXform(s *Stage, path Path) (Xform, error) {
	p, err := s.DefinePrim(path, TypeNameXform)
	if err != nil {
		return Xform{}, err
	}

	return Xform{Prim: p}, nil
}

// Scope is an untransformable grouping prim, used for the Looks scope.
type Scope struct {
	Prim
}

// DefineScope authors a Scope prim at path.
func DefineScope(s *Stage, path Path) (Scope, error) {
	p, err := s.DefinePrim(path, TypeNameScope)
	if err != nil {
		return Scope{}, err
	}

	return Scope{Prim: p}, nil
}

// Mesh is a polygonal mesh prim.
type Mesh struct {
	Prim
}

// DefineMesh authors a Mesh prim at path.
func DefineMesh(s *Stage, path Path) (Mesh, error) {
	p, err := s.DefinePrim(path, TypeNameMesh)
	if err != nil {
		return Mesh{}, err
	}

	return Mesh{Prim: p}, nil
}

// AsMesh reinterprets a composed prim as a Mesh. The result is only
// meaningful when p.IsA(TypeNameMesh).
func AsMesh(p Prim) Mesh {
	return Mesh{Prim: p}
}

// SetPoints authors the mesh vertices.
func (m Mesh) SetPoints(points []Vec3f) error {
	return m.SetAttr(AttrPoints, points)
}

// Points returns the authored vertices, or nil.
func (m Mesh) Points() []Vec3f {
	if v, ok := m.GetAttr(AttrPoints); ok {
		if pts, ok := v.([]Vec3f); ok {
			return pts
		}
	}

	return nil
}

// SetNormals authors per vertex normals.
func (m Mesh) SetNormals(normals []Vec3f) error {
	return m.SetAttr(AttrNormals, normals)
}

// SetFaceVertexIndices authors the flattened face index list.
func (m Mesh) SetFaceVertexIndices(indices []int) error {
	return m.SetAttr(AttrFaceVertexIndices, indices)
}

// SetFaceVertexCounts authors the per face vertex counts.
func (m Mesh) SetFaceVertexCounts(counts []int) error {
	return m.SetAttr(AttrFaceVertexCounts, counts)
}

// SetExtent authors the mesh bounding extent.
func (m Mesh) SetExtent(extent Range3f) error {
	return m.SetAttr(AttrExtent, extent.AsVec3fArray())
}

// SetOrientation authors the face winding orientation.
func (m Mesh) SetOrientation(orientation Token) error {
	return m.SetAttr(AttrOrientation, orientation)
}

// SetDisplayColor authors a constant display color.
func (m Mesh) SetDisplayColor(color Vec3f) error {
	if err := m.SetAttr(AttrDisplayColor, []Vec3f{color}); err != nil {
		return err
	}

	return m.setPrimvarInterpolation(AttrDisplayColor, InterpolationConstant)
}

// SetUV authors the "st" texture coordinate primvar with vertex
// interpolation.
func (m Mesh) SetUV(uv []Vec2f) error {
	if err := m.SetAttr(AttrPrimvarsST, uv); err != nil {
		return err
	}

	return m.setPrimvarInterpolation(AttrPrimvarsST, InterpolationVertex)
}

func (m Mesh) setPrimvarInterpolation(attr, interpolation string) error {
	spec, err := m.authoringSpec()
	if err != nil {
		return err
	}
	a := spec.Attr(attr)
	if a.Metadata == nil {
		a.Metadata = map[string]string{}
	}
	a.Metadata["interpolation"] = interpolation

	return nil
}

// Cube is an axis aligned cube prim with a size attribute.
type Cube struct {
	Prim
}

// DefineCube authors a Cube prim at path.
func DefineCube(s *Stage, path Path) (Cube, error) {
	p, err := s.DefinePrim(path, TypeNameCube)
	if err != nil {
		return Cube{}, err
	}

	return Cube{Prim: p}, nil
}

// SetSize authors the cube edge length.
func (c Cube) SetSize(size float64) error {
	return c.SetAttr(AttrSize, size)
}

// Size returns the authored edge length, defaulting to 2 when unauthored.
func (c Cube) Size() float64 {
	if v, ok := c.GetAttr(AttrSize); ok {
		if s, ok := v.(float64); ok {
			return s
		}
	}

	return 2
}

// SetExtent authors the cube bounding extent.
func (c Cube) SetExtent(extent Range3f) error {
	return c.SetAttr(AttrExtent, extent.AsVec3fArray())
}

// DefaultCubeExtent returns the extent of a cube of the given size.
func DefaultCubeExtent(size float64) Range3f {
	h := float32(size / 2)

	return Range3f{{-h, -h, -h}, {h, h, h}}
}
