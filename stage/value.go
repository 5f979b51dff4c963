package stage

import (
	"encoding/json"
	"fmt"
	"math"
)

// Vec2f is a two component single precision vector, used for texture
// coordinates.
type Vec2f [2]float32

// Vec3f is a three component single precision vector.
type Vec3f [3]float32

// Vec3d is a three component double precision vector.
type Vec3d [3]float64

// Vec3i is a three component integer vector, used for rotation orders.
type Vec3i [3]int

// Add returns v + o.
func (v Vec3d) Add(o Vec3d) Vec3d {
	return Vec3d{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

// Scale returns v with every component multiplied by s.
func (v Vec3f) Scale(s float32) Vec3f {
	return Vec3f{v[0] * s, v[1] * s, v[2] * s}
}

// ValueType names the type of an attribute value. The type is recorded in
// the layer encoding so values decode back to their concrete Go types.
type ValueType string

const (
	TypeBool        ValueType = "bool"
	TypeInt         ValueType = "int"
	TypeFloat       ValueType = "float"
	TypeDouble      ValueType = "double"
	TypeString      ValueType = "string"
	TypeToken       ValueType = "token"
	TypeAsset       ValueType = "asset"
	TypeVec2f       ValueType = "vec2f"
	TypeVec3f       ValueType = "vec3f"
	TypeVec3d       ValueType = "vec3d"
	TypeVec3i       ValueType = "vec3i"
	TypeBoolArray   ValueType = "bool[]"
	TypeIntArray    ValueType = "int[]"
	TypeFloatArray  ValueType = "float[]"
	TypeDoubleArray ValueType = "double[]"
	TypeStringArray ValueType = "string[]"
	TypeTokenArray  ValueType = "token[]"
	TypeAssetArray  ValueType = "asset[]"
	TypeVec2fArray  ValueType = "vec2f[]"
	TypeVec3fArray  ValueType = "vec3f[]"
	TypeVec3dArray  ValueType = "vec3d[]"
	TypeVec3iArray  ValueType = "vec3i[]"
)

// AssetPath references an external asset (a texture, a shader module)
// relative to the layer that contains it.
type AssetPath string

// Token is an interned-name value, distinct from a free-form string.
type Token string

// TypeOf returns the ValueType for a supported Go value, or an error for
// anything the layer codec cannot represent.
func TypeOf(v any) (ValueType, error) {
	switch v.(type) {
	case bool:
		return TypeBool, nil
	case int:
		return TypeInt, nil
	case float32:
		return TypeFloat, nil
	case float64:
		return TypeDouble, nil
	case string:
		return TypeString, nil
	case Token:
		return TypeToken, nil
	case AssetPath:
		return TypeAsset, nil
	case Vec2f:
		return TypeVec2f, nil
	case Vec3f:
		return TypeVec3f, nil
	case Vec3d:
		return TypeVec3d, nil
	case Vec3i:
		return TypeVec3i, nil
	case []bool:
		return TypeBoolArray, nil
	case []int:
		return TypeIntArray, nil
	case []float32:
		return TypeFloatArray, nil
	case []float64:
		return TypeDoubleArray, nil
	case []string:
		return TypeStringArray, nil
	case []Token:
		return TypeTokenArray, nil
	case []AssetPath:
		return TypeAssetArray, nil
	case []Vec2f:
		return TypeVec2fArray, nil
	case []Vec3f:
		return TypeVec3fArray, nil
	case []Vec3d:
		return TypeVec3dArray, nil
	case []Vec3i:
		return TypeVec3iArray, nil
	default:
		return "", fmt.Errorf("unsupported attribute value type %T", v)
	}
}

// decodeValue turns a json.RawMessage back into the concrete Go value for
// the given ValueType.
func decodeValue(t ValueType, raw json.RawMessage) (any, error) {
	switch t {
	case TypeBool:
		return decodeAs[bool](raw)
	case TypeInt:
		return decodeAs[int](raw)
	case TypeFloat:
		return decodeAs[float32](raw)
	case TypeDouble:
		return decodeAs[float64](raw)
	case TypeString:
		return decodeAs[string](raw)
	case TypeToken:
		return decodeAs[Token](raw)
	case TypeAsset:
		return decodeAs[AssetPath](raw)
	case TypeVec2f:
		return decodeAs[Vec2f](raw)
	case TypeVec3f:
		return decodeAs[Vec3f](raw)
	case TypeVec3d:
		return decodeAs[Vec3d](raw)
	case TypeVec3i:
		return decodeAs[Vec3i](raw)
	case TypeBoolArray:
		return decodeAs[[]bool](raw)
	case TypeIntArray:
		return decodeAs[[]int](raw)
	case TypeFloatArray:
		return decodeAs[[]float32](raw)
	case TypeDoubleArray:
		return decodeAs[[]float64](raw)
	case TypeStringArray:
		return decodeAs[[]string](raw)
	case TypeTokenArray:
		return decodeAs[[]Token](raw)
	case TypeAssetArray:
		return decodeAs[[]AssetPath](raw)
	case TypeVec2fArray:
		return decodeAs[[]Vec2f](raw)
	case TypeVec3fArray:
		return decodeAs[[]Vec3f](raw)
	case TypeVec3dArray:
		return decodeAs[[]Vec3d](raw)
	case TypeVec3iArray:
		return decodeAs[[]Vec3i](raw)
	default:
		return nil, fmt.Errorf("unknown attribute value type %q", t)
	}
}

func decodeAs[T any](raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}

	return v, nil
}

// Range3f is an axis aligned bounding range, stored as [min, max].
type Range3f [2]Vec3f

// ComputeExtent returns the tight bounding range of a point set. The extent
// of an empty point set is the zero range.
func ComputeExtent(points []Vec3f) Range3f {
	if len(points) == 0 {
		return Range3f{}
	}

	minV := Vec3f{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	maxV := Vec3f{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	for _, p := range points {
		for i := 0; i < 3; i++ {
			if p[i] < minV[i] {
				minV[i] = p[i]
			}
			if p[i] > maxV[i] {
				maxV[i] = p[i]
			}
		}
	}

	return Range3f{minV, maxV}
}

// AsVec3fArray flattens the range to the [min, max] pair stored on extent
// attributes.
func (r Range3f) AsVec3fArray() []Vec3f {
	return []Vec3f{r[0], r[1]}
}
