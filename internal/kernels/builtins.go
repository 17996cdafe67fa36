package kernels

import (
	"math"

	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/simd"
	"github.com/23skdu/longbow-parity/internal/value"
)

// Builtins exercises the scalar and vector intrinsics of the shading
// language. Inputs come first in the layout; the kernel fills the outputs.
type Builtins struct {
	A, B float32
	T    float32
	V    Vec4
	N    int32

	Abs    float32
	Clamp  float32
	Sqrt   float32
	Tanh   float32
	Exp    float32
	Lerp   float32
	Floor  float32
	Min    float32
	Max    float32
	Length float32
	Norm   Vec4
	IAbs   int32
	IClamp int32
}

func (Builtins) Schema() value.Schema {
	return value.Schema{
		value.FieldOf("a", func(v Builtins) float32 { return v.A }),
		value.FieldOf("b", func(v Builtins) float32 { return v.B }),
		value.FieldOf("t", func(v Builtins) float32 { return v.T }),
		value.FieldOf("v", func(v Builtins) Vec4 { return v.V }),
		value.FieldOf("n", func(v Builtins) int32 { return v.N }),
		value.FieldOf("abs", func(v Builtins) float32 { return v.Abs }),
		value.FieldOf("clamp", func(v Builtins) float32 { return v.Clamp }),
		value.FieldOf("sqrt", func(v Builtins) float32 { return v.Sqrt }),
		value.FieldOf("tanh", func(v Builtins) float32 { return v.Tanh }),
		value.FieldOf("exp", func(v Builtins) float32 { return v.Exp }),
		value.FieldOf("lerp", func(v Builtins) float32 { return v.Lerp }),
		value.FieldOf("floor", func(v Builtins) float32 { return v.Floor }),
		value.FieldOf("min", func(v Builtins) float32 { return v.Min }),
		value.FieldOf("max", func(v Builtins) float32 { return v.Max }),
		value.FieldOf("length", func(v Builtins) float32 { return v.Length }),
		value.FieldOf("norm", func(v Builtins) Vec4 { return v.Norm }),
		value.FieldOf("iabs", func(v Builtins) int32 { return v.IAbs }),
		value.FieldOf("iclamp", func(v Builtins) int32 { return v.IClamp }),
	}
}

// Randomize fills the inputs with finite values in the ranges the
// intrinsics are specified for. Outputs stay zero.
func (v *Builtins) Randomize(src *value.Source) {
	v.A = src.Float32Range(-4, 4)
	v.B = src.Float32Range(-4, 4)
	v.T = src.Float32Range(0, 1)
	v.V = randVec4(src, -2, 2)
	v.N = src.Int32()
}

var builtinsDescriptor = Descriptor{
	Name:        NameBuiltins,
	EntryPoint:  "CSBuiltins",
	Invocations: 256,
	Source: `struct Builtins {
    float a; float b; float t;
    float4 v;
    int n;
    float abs_; float clamp_; float sqrt_; float tanh_; float exp_;
    float lerp_; float floor_; float min_; float max_; float length_;
    float4 norm;
    int iabs; int iclamp;
};

BUFFER(Builtins, data);

KERNEL(CSBuiltins) {
    Builtins x = data[ID.x];
    x.abs_ = abs(x.a);
    x.clamp_ = clamp(x.a, -1.0, 1.0);
    x.sqrt_ = sqrt(abs(x.a));
    x.tanh_ = tanh(x.a);
    x.exp_ = exp(x.a);
    x.lerp_ = lerp(x.a, x.b, x.t);
    x.floor_ = floor(x.a);
    x.min_ = min(x.a, x.b);
    x.max_ = max(x.a, x.b);
    x.length_ = length(x.v);
    x.norm = x.length_ > 0.0 ? x.v / x.length_ : float4(0, 0, 0, 0);
    x.iabs = abs(x.n);
    x.iclamp = clamp(x.n, -100, 100);
    data[ID.x] = x;
}
`,
}

// NewBuiltins returns the builtins kernel with its device side evaluated in
// mode.
func NewBuiltins(mode Mode) Kernel[Builtins] {
	return Kernel[Builtins]{
		Descriptor: builtinsDescriptor,
		Reference:  builtinsHost,
		Device:     device.TypedKernel(builtinsDevice(mode)),
	}
}

func builtinsHost(buf []Builtins, i int) {
	v := &buf[i]
	a, b, t := float64(v.A), float64(v.B), float64(v.T)

	v.Abs = float32(math.Abs(a))
	v.Clamp = float32(math.Max(-1, math.Min(1, a)))
	v.Sqrt = float32(math.Sqrt(math.Abs(a)))
	v.Tanh = float32(math.Tanh(a))
	v.Exp = float32(math.Exp(a))
	v.Lerp = float32(a + (b-a)*t)
	v.Floor = float32(math.Floor(a))
	v.Min = float32(math.Min(a, b))
	v.Max = float32(math.Max(a, b))

	x, y, z, w := float64(v.V.X), float64(v.V.Y), float64(v.V.Z), float64(v.V.W)
	l := math.Sqrt(x*x + y*y + z*z + w*w)
	v.Length = float32(l)
	if l > 0 {
		v.Norm = Vec4{float32(x / l), float32(y / l), float32(z / l), float32(w / l)}
	} else {
		v.Norm = Vec4{}
	}

	v.IAbs = v.N
	if v.N < 0 {
		v.IAbs = -v.N
	}
	v.IClamp = min(max(v.N, -100), 100)
}

// builtinsDevice evaluates the kernel in float32, the way device code does.
func builtinsDevice(mode Mode) func(buf []Builtins, i int) {
	exp := func(x float32) float32 { return float32(math.Exp(float64(x))) }
	tanh := func(x float32) float32 { return float32(math.Tanh(float64(x))) }
	rsqrt := func(x float32) float32 { return float32(1 / math.Sqrt(float64(x))) }
	store := func(x float32) float32 { return x }

	switch mode {
	case ModeFastMath:
		exp, tanh, rsqrt = simd.ExpFast, simd.TanhFast, simd.RsqrtFast
	case ModeHalf:
		store = simd.RoundHalf
	}

	return func(buf []Builtins, i int) {
		v := &buf[i]
		a, b, t := v.A, v.B, v.T

		v.Abs = store(float32(math.Abs(float64(a))))
		v.Clamp = store(min(max(a, -1), 1))
		v.Sqrt = store(float32(math.Sqrt(math.Abs(float64(a)))))
		v.Tanh = store(tanh(a))
		v.Exp = store(exp(a))
		v.Lerp = store(a + (b-a)*t)
		v.Floor = store(float32(math.Floor(float64(a))))
		v.Min = store(min(a, b))
		v.Max = store(max(a, b))

		s := v.V.Slice()
		d := simd.DotProduct(s, s)
		if d > 0 {
			inv := rsqrt(d)
			v.Length = store(d * inv)
			v.Norm = Vec4{store(s[0] * inv), store(s[1] * inv), store(s[2] * inv), store(s[3] * inv)}
		} else {
			v.Length = 0
			v.Norm = Vec4{}
		}

		v.IAbs = v.N
		if v.N < 0 {
			v.IAbs = -v.N
		}
		v.IClamp = min(max(v.N, -100), 100)
	}
}
