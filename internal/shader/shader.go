// Package shader turns kernel descriptors into loadable device modules:
// a Compiler translates the portable kernel source into a backend's shading
// dialect and a Toolchain builds that text into bytecode.
package shader

import (
	"fmt"
	"strings"

	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/errs"
	"github.com/23skdu/longbow-parity/internal/kernels"
)

// Dialect is a target shading language.
type Dialect int

const (
	DialectHLSL Dialect = iota
	DialectGLSL330
	DialectGLSL450
	DialectMetal
	DialectSPIRV
	// DialectEmu is consumed only by the emulated toolchain.
	DialectEmu
)

var dialectNames = map[Dialect]string{
	DialectHLSL:    "hlsl",
	DialectGLSL330: "glsl330",
	DialectGLSL450: "glsl450",
	DialectMetal:   "metal",
	DialectSPIRV:   "spirv",
	DialectEmu:     "emu",
}

func (d Dialect) String() string {
	if s, ok := dialectNames[d]; ok {
		return s
	}
	return fmt.Sprintf("Dialect(%d)", int(d))
}

func ParseDialect(s string) (Dialect, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d, name := range dialectNames {
		if name == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown shader dialect %q", s)
}

// DialectFor returns the dialect a backend loads.
func DialectFor(kind device.Kind) (Dialect, error) {
	switch kind {
	case device.KindVulkan:
		return DialectSPIRV, nil
	case device.KindMetal:
		return DialectMetal, nil
	case device.KindD3D11:
		return DialectHLSL, nil
	case device.KindOpenGL:
		return DialectGLSL450, nil
	case device.KindOpenGLES:
		return DialectGLSL330, nil
	case device.KindEmulated:
		return DialectEmu, nil
	}
	return 0, fmt.Errorf("no shader dialect for backend %s", kind)
}

// Stage is a pipeline stage.
type Stage int

const (
	StageCompute Stage = iota
	StageVertex
	StageFragment
)

func (s Stage) String() string {
	switch s {
	case StageCompute:
		return "compute"
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Compiler translates a kernel into dialect source text. Output is
// deterministic for a given descriptor and dialect.
type Compiler interface {
	Compile(k kernels.Descriptor, d Dialect) (string, error)
}

// Toolchain builds dialect source into bytecode and creates devices that
// can load it.
type Toolchain interface {
	// Build returns bytecode, or a *CompileError carrying the raw
	// diagnostics.
	Build(src string, stage Stage, entry string) ([]byte, error)
	// CreateHeadlessDevice opens a device bound to the given backend.
	CreateHeadlessDevice(kind device.Kind) (device.Device, error)
}

// CompileError is a toolchain rejection.
type CompileError struct {
	Dialect     Dialect
	Entry       string
	Diagnostics string
}

func NewCompileError(d Dialect, entry, diagnostics string) *CompileError {
	return &CompileError{Dialect: d, Entry: entry, Diagnostics: errs.NormalizeDiagnostics(diagnostics)}
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("shader: building %s entry point %q failed:\n%s", e.Dialect, e.Entry, e.Diagnostics)
}
