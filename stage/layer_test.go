package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayer_EnsurePrimAtPath(t *testing.T) {
	t.Parallel()

	t.Run("creates intermediate xforms", func(t *testing.T) {
		t.Parallel()

		l := NewLayer("mem.stage")
		spec, err := l.EnsurePrimAtPath(MustParsePath("/Root/Looks/Fieldstone"), TypeNameMaterial)
		require.NoError(t, err)
		assert.Equal(t, TypeNameMaterial, spec.TypeName)

		root := l.GetPrimAtPath(MustParsePath("/Root"))
		require.NotNil(t, root)
		assert.Equal(t, TypeNameXform, root.TypeName)
		looks := l.GetPrimAtPath(MustParsePath("/Root/Looks"))
		require.NotNil(t, looks)
		assert.Equal(t, TypeNameXform, looks.TypeName)
		assert.True(t, l.Dirty())
	})

	t.Run("idempotent for matching type", func(t *testing.T) {
		t.Parallel()

		l := NewLayer("mem.stage")
		a, err := l.EnsurePrimAtPath(MustParsePath("/Root/box"), TypeNameMesh)
		require.NoError(t, err)
		b, err := l.EnsurePrimAtPath(MustParsePath("/Root/box"), TypeNameMesh)
		require.NoError(t, err)
		assert.Same(t, a, b)
	})

	t.Run("conflicting type fails", func(t *testing.T) {
		t.Parallel()

		l := NewLayer("mem.stage")
		_, err := l.EnsurePrimAtPath(MustParsePath("/Root/box"), TypeNameMesh)
		require.NoError(t, err)
		_, err = l.EnsurePrimAtPath(MustParsePath("/Root/box"), TypeNameCube)
		require.ErrorIs(t, err, ErrPrimExists)
	})

	t.Run("root path fails", func(t *testing.T) {
		t.Parallel()

		l := NewLayer("mem.stage")
		_, err := l.EnsurePrimAtPath(RootPath(), TypeNameXform)
		require.Error(t, err)
	})
}

func TestLayer_RemovePrimAtPath(t *testing.T) {
	t.Parallel()

	l := NewLayer("mem.stage")
	_, err := l.EnsurePrimAtPath(MustParsePath("/Root/box/child"), TypeNameMesh)
	require.NoError(t, err)

	require.NoError(t, l.RemovePrimAtPath(MustParsePath("/Root/box")))
	assert.Nil(t, l.GetPrimAtPath(MustParsePath("/Root/box")))
	assert.Nil(t, l.GetPrimAtPath(MustParsePath("/Root/box/child")))
	require.NotNil(t, l.GetPrimAtPath(MustParsePath("/Root")))

	err = l.RemovePrimAtPath(MustParsePath("/Root/box"))
	require.ErrorIs(t, err, ErrPrimNotFound)
}

func TestLayer_RenamePrim(t *testing.T) {
	t.Parallel()

	l := NewLayer("mem.stage")
	_, err := l.EnsurePrimAtPath(MustParsePath("/Root/box_0"), TypeNameMesh)
	require.NoError(t, err)
	_, err = l.EnsurePrimAtPath(MustParsePath("/Root/box_1"), TypeNameMesh)
	require.NoError(t, err)

	t.Run("renames with coercion", func(t *testing.T) {
		require.NoError(t, l.RenamePrim(MustParsePath("/Root/box_0"), "new-name"))
		assert.Nil(t, l.GetPrimAtPath(MustParsePath("/Root/box_0")))
		assert.NotNil(t, l.GetPrimAtPath(MustParsePath("/Root/new_name")))
	})

	t.Run("sibling collision fails", func(t *testing.T) {
		err := l.RenamePrim(MustParsePath("/Root/box_1"), "new_name")
		require.ErrorIs(t, err, ErrPrimExists)
	})

	t.Run("missing prim fails", func(t *testing.T) {
		err := l.RenamePrim(MustParsePath("/Root/ghost"), "anything")
		require.ErrorIs(t, err, ErrPrimNotFound)
	})
}

func TestLayer_EncodeDecode(t *testing.T) {
	t.Parallel()

	l := NewLayer("encode.stage")
	l.DefaultPrim = "Root"
	l.UpAxis = "Y"
	l.MetersPerUnit = 0.01
	l.SubLayers = []string{"encode_extra.stage"}

	spec, err := l.EnsurePrimAtPath(MustParsePath("/Root/box"), TypeNameMesh)
	require.NoError(t, err)
	_, err = spec.SetAttr(AttrPoints, []Vec3f{{1, 2, 3}, {-1, -2, -3}})
	require.NoError(t, err)
	_, err = spec.SetAttr(AttrFaceVertexIndices, []int{0, 1})
	require.NoError(t, err)
	_, err = spec.SetAttr(AttrOrientation, OrientationRightHanded)
	require.NoError(t, err)
	_, err = spec.SetAttr("size", 100.0)
	require.NoError(t, err)
	_, err = spec.SetAttr("visible", true)
	require.NoError(t, err)
	_, err = spec.SetAttr("file", AssetPath("./Materials/tex.png"))
	require.NoError(t, err)
	_, err = spec.SetAttr(AttrXformOpOrder, []Token{AttrXformOpTranslate})
	require.NoError(t, err)
	_, err = spec.SetAttr(AttrXformOpTranslate, Vec3d{0, 100, 0})
	require.NoError(t, err)
	uv, err := spec.SetAttr(AttrPrimvarsST, []Vec2f{{0, 0}, {1, 1}})
	require.NoError(t, err)
	uv.Metadata = map[string]string{"interpolation": InterpolationVertex}
	spec.ApplyAPI(APIRigidBody)
	spec.SetRel(RelMaterialBinding, MustParsePath("/Root/Looks/Fieldstone"))

	data, err := l.Encode()
	require.NoError(t, err)

	got, err := DecodeLayer("encode.stage", data)
	require.NoError(t, err)
	assert.Equal(t, "Root", got.DefaultPrim)
	assert.Equal(t, Token("Y"), got.UpAxis)
	assert.InDelta(t, 0.01, got.MetersPerUnit, 1e-9)
	assert.Equal(t, []string{"encode_extra.stage"}, got.SubLayers)

	gotSpec := got.GetPrimAtPath(MustParsePath("/Root/box"))
	require.NotNil(t, gotSpec)
	assert.Equal(t, TypeNameMesh, gotSpec.TypeName)
	assert.Equal(t, []Vec3f{{1, 2, 3}, {-1, -2, -3}}, gotSpec.Attr(AttrPoints).Value)
	assert.Equal(t, []int{0, 1}, gotSpec.Attr(AttrFaceVertexIndices).Value)
	assert.Equal(t, OrientationRightHanded, gotSpec.Attr(AttrOrientation).Value)
	assert.Equal(t, 100.0, gotSpec.Attr("size").Value)
	assert.Equal(t, true, gotSpec.Attr("visible").Value)
	assert.Equal(t, AssetPath("./Materials/tex.png"), gotSpec.Attr("file").Value)
	assert.Equal(t, []Token{AttrXformOpTranslate}, gotSpec.Attr(AttrXformOpOrder).Value)
	assert.Equal(t, Vec3d{0, 100, 0}, gotSpec.Attr(AttrXformOpTranslate).Value)
	assert.Equal(t, []Vec2f{{0, 0}, {1, 1}}, gotSpec.Attr(AttrPrimvarsST).Value)
	assert.Equal(t, InterpolationVertex, gotSpec.Attr(AttrPrimvarsST).Metadata["interpolation"])
	assert.True(t, gotSpec.HasAPI(APIRigidBody))
	require.NotNil(t, gotSpec.Rel(RelMaterialBinding))
	assert.Equal(t, "/Root/Looks/Fieldstone", gotSpec.Rel(RelMaterialBinding).Targets[0].String())
}

func TestLayer_EncodeDecode_ArrayValues(t *testing.T) {
	t.Parallel()

	values := map[string]any{
		"flags":   []bool{true, false},
		"weights": []float32{0.5, 1.5},
		"offsets": []float64{0.25, 0.75},
		"labels":  []string{"a", "b"},
		"modules": []AssetPath{"./Materials/a.mdl", "./Materials/b.mdl"},
		"pivots":  []Vec3d{{1, 2, 3}, {4, 5, 6}},
		"orders":  []Vec3i{{0, 1, 2}, {2, 1, 0}},
	}

	l := NewLayer("arrays.stage")
	spec, err := l.EnsurePrimAtPath(MustParsePath("/Root/box"), TypeNameXform)
	require.NoError(t, err)
	for name, v := range values {
		_, err := spec.SetAttr(name, v)
		require.NoError(t, err, "%T", v)
	}

	data, err := l.Encode()
	require.NoError(t, err)
	got, err := DecodeLayer("arrays.stage", data)
	require.NoError(t, err)

	gotSpec := got.GetPrimAtPath(MustParsePath("/Root/box"))
	require.NotNil(t, gotSpec)
	for name, v := range values {
		assert.Equal(t, v, gotSpec.Attr(name).Value, name)
	}
}

func TestDecodeLayer_VersionGate(t *testing.T) {
	t.Parallel()

	_, err := DecodeLayer("bad.stage", []byte(`{"version":"2.0","prims":[]}`))
	require.ErrorContains(t, err, "unsupported format version")

	_, err = DecodeLayer("ok.stage", []byte(`{"version":"1.7","prims":[]}`))
	require.NoError(t, err, "minor version bumps stay compatible")
}

func TestLayer_Walk(t *testing.T) {
	t.Parallel()

	l := NewLayer("walk.stage")
	_, err := l.EnsurePrimAtPath(MustParsePath("/Root/a/deep"), TypeNameMesh)
	require.NoError(t, err)
	_, err = l.EnsurePrimAtPath(MustParsePath("/Root/b"), TypeNameCube)
	require.NoError(t, err)

	var visited []string
	l.Walk(func(p Path, _ *PrimSpec) bool {
		visited = append(visited, p.String())
		return p.String() != "/Root/a" // prune below /Root/a
	})
	assert.Equal(t, []string{"/Root", "/Root/a", "/Root/b"}, visited)
}
