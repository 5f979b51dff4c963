package stage

import (
	"fmt"
)

// Transform op attribute names. Ops are applied in xformOpOrder, weakest
// last, matching the scale-rotate-translate stack the samples author.
const (
	AttrXformOpOrder     = "xformOpOrder"
	AttrXformOpTranslate = "xformOp:translate"
	AttrXformOpRotateXYZ = "xformOp:rotateXYZ"
	AttrXformOpScale     = "xformOp:scale"
)

// srtOpOrder is the canonical op order authored by SetLocalSRT.
var srtOpOrder = []Token{AttrXformOpTranslate, AttrXformOpRotateXYZ, AttrXformOpScale}

// SetLocalSRT authors the prim's local transform as a translate /
// rotateXYZ / scale op stack, creating any ops that are missing and
// rewriting xformOpOrder to the canonical order.
func SetLocalSRT(p Prim, translate, rotateXYZ, scale Vec3d) error {
	if !p.IsValid() {
		return fmt.Errorf("%w: %s", ErrPrimNotFound, p.Path())
	}

	if err := p.SetAttr(AttrXformOpTranslate, translate); err != nil {
		return err
	}
	if err := p.SetAttr(AttrXformOpRotateXYZ, rotateXYZ); err != nil {
		return err
	}
	if err := p.SetAttr(AttrXformOpScale, scale); err != nil {
		return err
	}

	return p.SetAttr(AttrXformOpOrder, append([]Token{}, srtOpOrder...))
}

// GetLocalSRT reads the prim's local transform, tolerating float or double
// precision ops. Missing ops yield identity components: zero translate and
// rotation, unit scale.
func GetLocalSRT(p Prim) (translate, rotateXYZ, scale Vec3d, err error) {
	if !p.IsValid() {
		return Vec3d{}, Vec3d{}, Vec3d{}, fmt.Errorf("%w: %s", ErrPrimNotFound, p.Path())
	}

	translate = readVec3(p, AttrXformOpTranslate, Vec3d{})
	rotateXYZ = readVec3(p, AttrXformOpRotateXYZ, Vec3d{})
	scale = readVec3(p, AttrXformOpScale, Vec3d{1, 1, 1})

	return translate, rotateXYZ, scale, nil
}

// SetTranslate authors only a float precision translate op, prepending it
// to any existing op order. Used by the dynamic cube which never rotates.
func SetTranslate(p Prim, translate Vec3f) error {
	if err := p.SetAttr(AttrXformOpTranslate, translate); err != nil {
		return err
	}

	return ensureOpInOrder(p, AttrXformOpTranslate)
}

// SetRotateXYZ authors only a double precision rotateXYZ op, appending it
// to any existing op order.
func SetRotateXYZ(p Prim, rotateXYZ Vec3d) error {
	if err := p.SetAttr(AttrXformOpRotateXYZ, rotateXYZ); err != nil {
		return err
	}

	return ensureOpInOrder(p, AttrXformOpRotateXYZ)
}

func ensureOpInOrder(p Prim, op Token) error {
	order := readTokenArray(p, AttrXformOpOrder)
	for _, t := range order {
		if t == op {
			return nil
		}
	}

	return p.SetAttr(AttrXformOpOrder, append(order, op))
}

func readVec3(p Prim, name string, fallback Vec3d) Vec3d {
	v, ok := p.GetAttr(name)
	if !ok {
		return fallback
	}
	switch t := v.(type) {
	case Vec3d:
		return t
	case Vec3f:
		return Vec3d{float64(t[0]), float64(t[1]), float64(t[2])}
	default:
		return fallback
	}
}

func readTokenArray(p Prim, name string) []Token {
	v, ok := p.GetAttr(name)
	if !ok {
		return nil
	}
	if ts, ok := v.([]Token); ok {
		return append([]Token{}, ts...)
	}

	return nil
}
