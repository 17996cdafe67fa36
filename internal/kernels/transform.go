package kernels

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/simd"
	"github.com/23skdu/longbow-parity/internal/value"
)

// Transform computes Out = M*V + Bias for a row-major 4x4 matrix.
type Transform struct {
	M    [16]float32
	V    Vec4
	Bias Vec4
	Out  Vec4
}

func (Transform) Schema() value.Schema {
	return value.Schema{
		value.FieldOf("m", func(v Transform) [16]float32 { return v.M }),
		value.FieldOf("v", func(v Transform) Vec4 { return v.V }),
		value.FieldOf("bias", func(v Transform) Vec4 { return v.Bias }),
		value.FieldOf("out", func(v Transform) Vec4 { return v.Out }),
	}
}

func (v *Transform) Randomize(src *value.Source) {
	for i := range v.M {
		v.M[i] = src.Float32Range(-1, 1)
	}
	v.V = randVec4(src, -4, 4)
	v.Bias = randVec4(src, -1, 1)
}

var transformDescriptor = Descriptor{
	Name:        NameTransform,
	EntryPoint:  "CSTransform",
	Invocations: 64,
	Source: `struct Transform {
    float4x4 m;
    float4 v;
    float4 bias;
    float4 out_;
};

BUFFER(Transform, data);

KERNEL(CSTransform) {
    Transform x = data[ID.x];
    x.out_ = mul(x.m, x.v) + x.bias;
    data[ID.x] = x;
}
`,
}

func NewTransform(mode Mode) Kernel[Transform] {
	return Kernel[Transform]{
		Descriptor: transformDescriptor,
		Reference:  transformHost,
		Device:     device.TypedKernel(transformDevice(mode)),
	}
}

func transformHost(buf []Transform, i int) {
	v := &buf[i]
	m := blas32.General{Rows: 4, Cols: 4, Stride: 4, Data: v.M[:]}
	x := blas32.Vector{N: 4, Inc: 1, Data: v.V.Slice()}
	y := blas32.Vector{N: 4, Inc: 1, Data: v.Bias.Slice()}
	blas32.Gemv(blas.NoTrans, 1, m, x, 1, y)
	v.Out = vec4(y.Data)
}

func transformDevice(mode Mode) func(buf []Transform, i int) {
	return func(buf []Transform, i int) {
		v := &buf[i]
		out := make([]float32, 4)
		m := v.M[:]
		vec := v.V.Slice()
		if mode == ModeHalf {
			m = make([]float32, len(v.M))
			for j, f := range v.M {
				m[j] = simd.RoundHalf(f)
			}
			for j := range vec {
				vec[j] = simd.RoundHalf(vec[j])
			}
		}
		simd.MatVecMul(out, m, vec, 4, 4)
		simd.VecAdd(out, v.Bias.Slice())
		v.Out = vec4(out)
	}
}
