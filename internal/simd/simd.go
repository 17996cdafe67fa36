// Package simd holds the float32 math an emulated device uses in place of
// the host's float64 libm: fast approximations and unrolled vector loops of
// the kind GPU compilers emit under relaxed precision.
package simd

// ExpFast is a fast approximation of exp(x).
// Uses the identity exp(x) = 2^(x/ln2) and a cubic polynomial for 2^f.
func ExpFast(x float32) float32 {
	// Clamp to avoid overflow
	if x > 88 {
		return 1e38
	}
	if x < -88 {
		return 0
	}

	const log2e = 1.4426950408889634

	t := x * log2e
	k := int(t)
	if t < 0 {
		k--
	}

	// Fractional part in [0, 1)
	f := t - float32(k)

	// 2^f ≈ 1 + 0.6931*f + 0.2402*f^2 + 0.0555*f^3
	p := 1.0 + f*(0.6931471805599453+f*(0.24022650695910072+f*0.05550410866482157))

	if k >= 0 && k < 128 {
		return p * float32(uint64(1)<<k)
	}
	if k < 0 && k > -128 {
		return p / float32(uint64(1)<<(-k))
	}
	return p
}

// TanhFast is a Padé approximation of tanh(x), saturating beyond |x| > 4.
func TanhFast(x float32) float32 {
	if x > 4 {
		return 1
	}
	if x < -4 {
		return -1
	}
	x2 := x * x
	return x * (27.0 + x2) / (27.0 + 9.0*x2)
}

// RsqrtFast approximates 1/sqrt(x) with one Newton step after the classic
// bit-level initial guess.
func RsqrtFast(x float32) float32 {
	if x <= 0 {
		return 0
	}
	i := float32bits(x)
	i = 0x5f3759df - i>>1
	y := float32frombits(i)
	return y * (1.5 - 0.5*x*y*y)
}

// VecAdd performs dst += src
func VecAdd(dst, src []float32) {
	// Unrolled loop for better pipelining
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i]
		dst[i+1] += src[i+1]
		dst[i+2] += src[i+2]
		dst[i+3] += src[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i]
	}
}

// DotProduct computes the dot product of two float32 vectors, accumulating
// in float32 as device code does.
func DotProduct(a, b []float32) float32 {
	var sum float32
	i := 0
	for ; i <= len(a)-4; i += 4 {
		sum += a[i] * b[i]
		sum += a[i+1] * b[i+1]
		sum += a[i+2] * b[i+2]
		sum += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// MatVecMul performs dst = mat * vec where mat is rows x cols row-major
func MatVecMul(dst []float32, mat []float32, vec []float32, rows, cols int) {
	for i := 0; i < rows; i++ {
		rowStart := i * cols
		dst[i] = DotProduct(mat[rowStart:rowStart+cols], vec)
	}
}
