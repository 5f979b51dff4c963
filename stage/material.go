package stage

import "fmt"

// Shading prim type names.
const (
	TypeNameMaterial = "Material"
	TypeNameShader   = "Shader"
)

// Shader identifier tokens used by the samples.
const (
	ShaderIDMDLMaterial    Token = "mdlMaterial"
	ShaderIDPreviewSurface Token = "UsdPreviewSurface"
	ShaderIDPrimvarReader2 Token = "UsdPrimvarReader_float2"
	ShaderIDUVTexture      Token = "UsdUVTexture"
)

// Color space metadata values for texture file inputs.
const (
	ColorSpaceSRGB = "sRGB"
	ColorSpaceRaw  = "RAW"
)

// RelMaterialBinding is the relationship binding a prim to its material.
const RelMaterialBinding = "material:binding"

// Material is a shading network container that exposes surface outputs.
type Material struct {
	Prim
}

// DefineMaterial authors a Material prim at path.
func DefineMaterial(s *Stage, path Path) (Material, error) {
	p, err := s.DefinePrim(path, TypeNameMaterial)
	if err != nil {
		return Material{}, err
	}

	return Material{Prim: p}, nil
}

// ConnectSurfaceOutput connects the material's surface output for the
// given render context ("" for the universal context, "mdl" for the MDL
// context) to a shader output.
func (m Material) ConnectSurfaceOutput(renderContext string, shader Shader, output string) error {
	name := "outputs:surface"
	if renderContext != "" {
		name = "outputs:" + renderContext + ":surface"
	}

	spec, err := m.authoringSpec()
	if err != nil {
		return err
	}
	a := spec.Attr(name)
	if a == nil {
		a = &AttributeSpec{Name: name, Type: TypeToken}
		spec.Attributes = append(spec.Attributes, a)
	}
	a.Connections = []string{connectionRef(shader.Prim, output)}
	m.stage.editTarget.SetDirty()

	return nil
}

// Bind binds the material to the given prim via the material:binding
// relationship.
func (m Material) Bind(p Prim) error {
	return p.SetRel(RelMaterialBinding, m.Path())
}

// Shader is a node of a shading network.
type Shader struct {
	Prim
}

// DefineShader authors a Shader prim at path.
func DefineShader(s *Stage, path Path) (Shader, error) {
	p, err := s.DefinePrim(path, TypeNameShader)
	if err != nil {
		return Shader{}, err
	}

	return Shader{Prim: p}, nil
}

// SetID authors the shader's implementation identifier.
func (s Shader) SetID(id Token) error {
	spec, err := s.authoringSpec()
	if err != nil {
		return err
	}
	a, err := spec.SetAttr("info:id", id)
	if err != nil {
		return err
	}
	a.Uniform = true
	s.stage.editTarget.SetDirty()

	return nil
}

// SetSourceAsset authors an external shader module reference for the given
// source type (e.g. "mdl") together with the entry point inside it.
func (s Shader) SetSourceAsset(sourceType string, asset AssetPath, subIdentifier Token) error {
	if err := s.SetAttr(fmt.Sprintf("info:%s:sourceAsset", sourceType), asset); err != nil {
		return err
	}

	spec, err := s.authoringSpec()
	if err != nil {
		return err
	}
	a, err := spec.SetAttr(fmt.Sprintf("info:%s:sourceAsset:subIdentifier", sourceType), subIdentifier)
	if err != nil {
		return err
	}
	a.Uniform = true

	return nil
}

// SetInput authors a shader input value.
func (s Shader) SetInput(name string, value any) error {
	return s.SetAttr("inputs:"+name, value)
}

// SetInputColorSpace records the color space for a texture file input.
func (s Shader) SetInputColorSpace(name, colorSpace string) error {
	spec, err := s.authoringSpec()
	if err != nil {
		return err
	}
	a := spec.Attr("inputs:" + name)
	if a == nil {
		return fmt.Errorf("shader %s has no input %q", s.Path(), name)
	}
	if a.Metadata == nil {
		a.Metadata = map[string]string{}
	}
	a.Metadata["colorSpace"] = colorSpace

	return nil
}

// ConnectInput connects a shader input to another shader's output instead
// of an authored value.
func (s Shader) ConnectInput(name string, source Shader, output string) error {
	spec, err := s.authoringSpec()
	if err != nil {
		return err
	}
	inputName := "inputs:" + name
	a := spec.Attr(inputName)
	if a == nil {
		a = &AttributeSpec{Name: inputName, Type: TypeToken}
		spec.Attributes = append(spec.Attributes, a)
	}
	a.Connections = []string{connectionRef(source.Prim, output)}
	s.stage.editTarget.SetDirty()

	return nil
}

// CreateOutput declares a shader output terminal.
func (s Shader) CreateOutput(name string) error {
	spec, err := s.authoringSpec()
	if err != nil {
		return err
	}
	outputName := "outputs:" + name
	if spec.Attr(outputName) == nil {
		spec.Attributes = append(spec.Attributes, &AttributeSpec{Name: outputName, Type: TypeToken})
		s.stage.editTarget.SetDirty()
	}

	return nil
}

// connectionRef renders a connection source in "</Prim/Path>.outputs:name"
// form.
func connectionRef(p Prim, output string) string {
	return fmt.Sprintf("<%s>.outputs:%s", p.Path(), output)
}
