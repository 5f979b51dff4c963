package stage

// Light prim type names.
const (
	TypeNameDistantLight = "DistantLight"
	TypeNameDomeLight    = "DomeLight"
)

// Light attribute base names. Each is authored twice, bare and with the
// "inputs:" prefix, so stages render the same in consumers built against
// either generation of the light schema.
const (
	AttrLightAngle         = "angle"
	AttrLightColor         = "color"
	AttrLightIntensity     = "intensity"
	AttrLightTextureFile   = "texture:file"
	AttrLightTextureFormat = "texture:format"
)

// TextureFormatLatLong is the equirectangular dome light texture format.
const TextureFormatLatLong Token = "latlong"

// DistantLight is a light infinitely far away, emitting along -Z.
type DistantLight struct {
	Prim
}

// DefineDistantLight authors a DistantLight prim at path.
func DefineDistantLight(s *Stage, path Path) (DistantLight, error) {
	p, err := s.DefinePrim(path, TypeNameDistantLight)
	if err != nil {
		return DistantLight{}, err
	}

	return DistantLight{Prim: p}, nil
}

// SetAngle authors the angular size of the light in degrees.
func (l DistantLight) SetAngle(angle float32) error {
	return setLightAttr(l.Prim, AttrLightAngle, angle)
}

// SetColor authors the light color.
func (l DistantLight) SetColor(color Vec3f) error {
	return setLightAttr(l.Prim, AttrLightColor, color)
}

// SetIntensity authors the light intensity.
func (l DistantLight) SetIntensity(intensity float32) error {
	return setLightAttr(l.Prim, AttrLightIntensity, intensity)
}

// DomeLight is an environment light sourced from a texture.
type DomeLight struct {
	Prim
}

// DefineDomeLight authors a DomeLight prim at path.
func DefineDomeLight(s *Stage, path Path) (DomeLight, error) {
	p, err := s.DefinePrim(path, TypeNameDomeLight)
	if err != nil {
		return DomeLight{}, err
	}

	return DomeLight{Prim: p}, nil
}

// SetIntensity authors the light intensity.
func (l DomeLight) SetIntensity(intensity float32) error {
	return setLightAttr(l.Prim, AttrLightIntensity, intensity)
}

// SetTextureFile authors the environment texture asset path.
func (l DomeLight) SetTextureFile(file AssetPath) error {
	return setLightAttr(l.Prim, AttrLightTextureFile, file)
}

// SetTextureFormat authors the environment texture projection format.
func (l DomeLight) SetTextureFormat(format Token) error {
	return setLightAttr(l.Prim, AttrLightTextureFormat, format)
}

// setLightAttr authors both generations of a light attribute name.
func setLightAttr(p Prim, name string, value any) error {
	if err := p.SetAttr(name, value); err != nil {
		return err
	}

	return p.SetAttr("inputs:"+name, value)
}
