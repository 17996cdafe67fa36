package device

import (
	"fmt"
	"strings"
)

// Kind identifies a graphics backend.
type Kind int

const (
	KindUnknown Kind = iota
	KindVulkan
	KindMetal
	KindD3D11
	KindOpenGL
	KindOpenGLES
	// KindEmulated is the host software device.
	KindEmulated
)

var kindNames = map[Kind]string{
	KindVulkan:   "vulkan",
	KindMetal:    "metal",
	KindD3D11:    "d3d11",
	KindOpenGL:   "opengl",
	KindOpenGLES: "opengles",
	KindEmulated: "emulated",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind accepts the lower-case backend names used on the command line.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown backend: %q", s)
}

// Kinds lists every known backend.
func Kinds() []Kind {
	return []Kind{KindVulkan, KindMetal, KindD3D11, KindOpenGL, KindOpenGLES, KindEmulated}
}
