package shader

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/23skdu/longbow-parity/internal/kernels"
)

// Kernel sources are written against three macros the translator expands
// per dialect:
//
//	BUFFER(Type, name);  the read-write structured buffer at binding 0
//	KERNEL(Entry) {      the entry point, one invocation per element
//	ID                   the global invocation id (uint3)
var (
	bufferRe = regexp.MustCompile(`(?m)^\s*BUFFER\(\s*(\w+)\s*,\s*(\w+)\s*\)\s*;\s*$`)
	kernelRe = regexp.MustCompile(`(?m)^\s*KERNEL\(\s*(\w+)\s*\)\s*\{\s*$`)
)

const (
	headerModule  = "parity-module:"
	headerDialect = "parity-dialect:"
)

// Translator is the built-in Compiler.
type Translator struct{}

func NewTranslator() *Translator { return &Translator{} }

func (t *Translator) Compile(k kernels.Descriptor, d Dialect) (string, error) {
	if err := k.Validate(); err != nil {
		return "", err
	}
	if _, ok := dialectNames[d]; !ok {
		return "", fmt.Errorf("compile %s: unsupported dialect %s", k.Name, d)
	}

	bm := bufferRe.FindStringSubmatch(k.Source)
	if bm == nil {
		return "", fmt.Errorf("compile %s: source declares no BUFFER", k.Name)
	}
	km := kernelRe.FindStringSubmatch(k.Source)
	if km == nil {
		return "", fmt.Errorf("compile %s: source declares no KERNEL", k.Name)
	}
	if km[1] != k.EntryPoint {
		return "", fmt.Errorf("compile %s: KERNEL(%s) does not match entry point %q", k.Name, km[1], k.EntryPoint)
	}
	elem, name, entry := bm[1], bm[2], km[1]

	var sb strings.Builder
	comment := "//"
	if d == DialectSPIRV {
		comment = ";"
	}
	fmt.Fprintf(&sb, "%s %s %s\n", comment, headerModule, k.Name)
	fmt.Fprintf(&sb, "%s %s %s\n", comment, headerDialect, d)

	hlsl := func(body string) string {
		body = bufferRe.ReplaceAllString(body, fmt.Sprintf("RWStructuredBuffer<%s> %s : register(u0);", elem, name))
		return kernelRe.ReplaceAllString(body, fmt.Sprintf("[numthreads(1, 1, 1)]\nvoid %s(uint3 ID : SV_DispatchThreadID) {", entry))
	}

	body := k.Source
	switch d {
	case DialectHLSL:
		body = hlsl(body)
	case DialectGLSL330, DialectGLSL450:
		version := "450"
		if d == DialectGLSL330 {
			version = "330\n#extension GL_ARB_compute_shader : require\n#extension GL_ARB_shader_storage_buffer_object : require"
		}
		sb.WriteString("#version " + version + "\n")
		sb.WriteString("layout(local_size_x = 1, local_size_y = 1, local_size_z = 1) in;\n")
		sb.WriteString("#define ID gl_GlobalInvocationID\n")
		body = bufferRe.ReplaceAllString(body, fmt.Sprintf("layout(std430, binding = 0) buffer %s_block { %s %s[]; };", name, elem, name))
		body = kernelRe.ReplaceAllString(body, fmt.Sprintf("void %s() {", entry))
		body += fmt.Sprintf("\nvoid main() { %s(); }\n", entry)
	case DialectMetal:
		sb.WriteString("#include <metal_stdlib>\nusing namespace metal;\n")
		body = bufferRe.ReplaceAllString(body, "")
		body = kernelRe.ReplaceAllString(body, fmt.Sprintf("kernel void %s(device %s* %s [[buffer(0)]], uint3 ID [[thread_position_in_grid]]) {", entry, elem, name))
	case DialectSPIRV:
		sb.WriteString("OpCapability Shader\n")
		sb.WriteString("OpMemoryModel Logical GLSL450\n")
		fmt.Fprintf(&sb, "OpEntryPoint GLCompute %%%s \"%s\" %%gl_GlobalInvocationID\n", entry, entry)
		fmt.Fprintf(&sb, "OpExecutionMode %%%s LocalSize 1 1 1\n", entry)
		fmt.Fprintf(&sb, "OpDecorate %%%s DescriptorSet 0\n", name)
		fmt.Fprintf(&sb, "OpDecorate %%%s Binding 0\n", name)
		// The HLSL rendition rides along as OpSource text.
		sb.WriteString("OpSource HLSL 600\n")
		var src strings.Builder
		for _, line := range strings.Split(strings.TrimRight(hlsl(body), "\n"), "\n") {
			src.WriteString("; " + line + "\n")
		}
		body = src.String()
	case DialectEmu:
		// The emulated toolchain reads the portable source as-is.
	}
	sb.WriteString(body)
	return sb.String(), nil
}
