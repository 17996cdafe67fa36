package simd

import (
	"strings"

	"golang.org/x/sys/cpu"
)

// Features lists the host vector extensions that can change the rounding of
// host reference results, e.g. fused multiply-add.
func Features() []string {
	var fs []string
	add := func(ok bool, name string) {
		if ok {
			fs = append(fs, name)
		}
	}
	add(cpu.X86.HasSSE41 || cpu.X86.HasSSE42, "SSE4")
	add(cpu.X86.HasAVX, "AVX")
	add(cpu.X86.HasAVX2, "AVX2")
	add(cpu.X86.HasAVX512F, "AVX512F")
	add(cpu.X86.HasFMA, "FMA")
	add(cpu.ARM64.HasASIMD, "ASIMD")
	add(cpu.ARM64.HasFPHP, "FPHP")
	return fs
}

// FeatureString is Features joined for logging; "scalar" when none are found.
func FeatureString() string {
	fs := Features()
	if len(fs) == 0 {
		return "scalar"
	}
	return strings.Join(fs, ",")
}
