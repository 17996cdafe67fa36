package simd

import "math"

func float32bits(f float32) uint32     { return math.Float32bits(f) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }

// Float32ToFloat16 converts a float32 to IEEE 754 binary16.
// NaN and Inf are preserved, values beyond the half range clamp to ±65504
// and values below the smallest normal flush to signed zero.
func Float32ToFloat16(f float32) uint16 {
	if math.IsNaN(float64(f)) {
		return 0x7E00
	}
	if math.IsInf(float64(f), 1) {
		return 0x7C00
	}
	if math.IsInf(float64(f), -1) {
		return 0xFC00
	}

	const maxFP16 = 65504.0
	const minNormalFP16 = 6.10351562e-5

	if f > maxFP16 {
		f = maxFP16
	} else if f < -maxFP16 {
		f = -maxFP16
	}

	absF := f
	if absF < 0 {
		absF = -absF
	}
	if absF < minNormalFP16 && absF > 0 {
		if f < 0 {
			return 0x8000
		}
		return 0x0000
	}

	bits := math.Float32bits(f)
	sign := (bits >> 16) & 0x8000
	exp := int((bits>>23)&0xFF) - 127 + 15
	frac := (bits >> 13) & 0x3FF

	if exp >= 0x1F {
		return uint16(sign | 0x7BFF)
	}
	if exp <= 0 {
		return uint16(sign)
	}
	return uint16(sign | (uint32(exp) << 10) | frac)
}

// Float16ToFloat32 widens a binary16 value. Subnormals read as zero.
func Float16ToFloat32(h uint16) float32 {
	sign := (uint32(h) >> 15) & 1
	exp := (uint32(h) >> 10) & 0x1F
	frac := uint32(h) & 0x3FF

	if exp == 0 {
		return math.Float32frombits(sign << 31)
	}
	if exp == 31 {
		return math.Float32frombits((sign << 31) | (0xFF << 23) | (frac << 13))
	}
	newExp := exp - 15 + 127
	return math.Float32frombits((sign << 31) | (newExp << 23) | (frac << 13))
}

// RoundHalf rounds f through half precision, as a device storing
// intermediates in 16-bit registers would.
func RoundHalf(f float32) float32 {
	return Float16ToFloat32(Float32ToFloat16(f))
}
