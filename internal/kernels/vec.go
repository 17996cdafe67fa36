package kernels

import (
	"github.com/23skdu/longbow-parity/internal/value"
)

// Vec4 is a float4.
type Vec4 struct {
	X, Y, Z, W float32
}

func (Vec4) Schema() value.Schema {
	return value.Schema{
		value.FieldOf("x", func(v Vec4) float32 { return v.X }),
		value.FieldOf("y", func(v Vec4) float32 { return v.Y }),
		value.FieldOf("z", func(v Vec4) float32 { return v.Z }),
		value.FieldOf("w", func(v Vec4) float32 { return v.W }),
	}
}

func (v Vec4) Slice() []float32 { return []float32{v.X, v.Y, v.Z, v.W} }

func vec4(s []float32) Vec4 { return Vec4{s[0], s[1], s[2], s[3]} }

func randVec4(src *value.Source, lo, hi float32) Vec4 {
	return Vec4{
		X: src.Float32Range(lo, hi),
		Y: src.Float32Range(lo, hi),
		Z: src.Float32Range(lo, hi),
		W: src.Float32Range(lo, hi),
	}
}
